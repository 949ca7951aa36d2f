package sync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/JLJLJ/spreadsheet/service/room"
	"github.com/JLJLJ/spreadsheet/service/sheet"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	store := sheet.NewStore(t.TempDir())
	path, err := store.CreateEmpty("engine_test")
	if err != nil {
		t.Fatal(err)
	}
	reg := room.NewRegistry(100)
	return NewEngine(reg, store, nil, nil, 20), path
}

func testClient(userID string) *room.Client {
	return room.NewClient("conn-"+userID, userID, userID+"@test", nil, 64)
}

func nextMsg(t *testing.T, c *room.Client) map[string]any {
	t.Helper()
	select {
	case raw := <-c.Send:
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("bad outbound JSON: %v", err)
		}
		return m
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func assertNoMsg(t *testing.T, c *room.Client) {
	t.Helper()
	select {
	case raw := <-c.Send:
		t.Fatalf("unexpected message: %s", raw)
	default:
	}
}

func TestConnectFlow(t *testing.T) {
	e, path := newTestEngine(t)
	a := testClient("a")
	b := testClient("b")

	e.Connect("K1", path, a)
	m := nextMsg(t, a)
	if m["type"] != "connected" {
		t.Fatalf("a first message = %v", m["type"])
	}
	if users, _ := m["online_users"].([]any); len(users) != 1 {
		t.Errorf("online_users = %v", m["online_users"])
	}

	e.Connect("K1", path, b)
	// a 收到 user_join，b 只收到自己的 connected
	if m := nextMsg(t, a); m["type"] != "user_join" || m["user_id"] != "b" {
		t.Errorf("a got %v", m)
	}
	if m := nextMsg(t, b); m["type"] != "connected" {
		t.Errorf("b got %v", m["type"])
	}
	assertNoMsg(t, b)
}

func TestCellUpdateFanout(t *testing.T) {
	e, path := newTestEngine(t)
	a := testClient("a")
	b := testClient("b")
	e.Connect("K1", path, a)
	e.Connect("K1", path, b)
	drain(a)
	drain(b)

	e.Process("K1", a, []byte(`{"type":"cell_update","row":0,"col":0,"value":"hello"}`))

	// b 收到编辑广播 + 历史推送
	m := nextMsg(t, b)
	if m["type"] != "cell_update" || m["value"] != "hello" || m["user_id"] != "a" {
		t.Fatalf("b got %v", m)
	}
	if m := nextMsg(t, b); m["type"] != "history_update" {
		t.Fatalf("b second message = %v", m["type"])
	}

	// 发送者不回显编辑，但收到历史推送
	m = nextMsg(t, a)
	if m["type"] != "history_update" {
		t.Fatalf("a got %v", m["type"])
	}
	hist, _ := m["history"].([]any)
	if len(hist) != 1 {
		t.Fatalf("history = %v", m["history"])
	}
	entry, _ := hist[0].(map[string]any)
	if entry["cell"] != "A1" || entry["user"] != "a@test" {
		t.Errorf("history entry = %v", entry)
	}
	assertNoMsg(t, a)

	// 编辑已落盘
	snap, err := e.Store().Load(path)
	if err != nil {
		t.Fatal(err)
	}
	cell := snap.CellData["0_0"]
	if cell == nil || cell.V != "hello" {
		t.Errorf("persisted cell = %+v", cell)
	}
}

func TestUnknownTypeIgnored(t *testing.T) {
	e, path := newTestEngine(t)
	a := testClient("a")
	b := testClient("b")
	e.Connect("K1", path, a)
	e.Connect("K1", path, b)
	drain(a)
	drain(b)

	e.Process("K1", a, []byte(`{"type":"foo","x":1}`))
	e.Process("K1", a, []byte(`not json at all`))

	assertNoMsg(t, a)
	assertNoMsg(t, b)
	if rm := e.Registry().Get("K1"); rm == nil || rm.History.Len() != 0 {
		t.Error("dropped message must not touch history")
	}

	// 连接仍然可用
	e.Process("K1", a, []byte(`{"type":"ping"}`))
	if m := nextMsg(t, a); m["type"] != "pong" {
		t.Errorf("a got %v", m["type"])
	}
}

func TestPingPongUnicast(t *testing.T) {
	e, path := newTestEngine(t)
	a := testClient("a")
	b := testClient("b")
	e.Connect("K1", path, a)
	e.Connect("K1", path, b)
	drain(a)
	drain(b)

	e.Process("K1", a, []byte(`{"type":"ping"}`))
	if m := nextMsg(t, a); m["type"] != "pong" {
		t.Errorf("a got %v", m["type"])
	}
	assertNoMsg(t, b)
}

func TestBatchUpdateSkipsHistory(t *testing.T) {
	e, path := newTestEngine(t)
	a := testClient("a")
	b := testClient("b")
	e.Connect("K1", path, a)
	e.Connect("K1", path, b)
	drain(a)
	drain(b)

	e.Process("K1", a, []byte(`{"type":"batch_update","updates":[{"row":0,"col":0,"value":"x"},{"row":1,"col":1,"value":2}]}`))

	if m := nextMsg(t, b); m["type"] != "batch_update" {
		t.Fatalf("b got %v", m["type"])
	}
	assertNoMsg(t, a)
	if rm := e.Registry().Get("K1"); rm.History.Len() != 0 {
		t.Error("batch update must not enter user-visible history")
	}

	snap, err := e.Store().Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if snap.CellData["0_0"] == nil || snap.CellData["1_1"] == nil {
		t.Error("batch not persisted")
	}
}

func TestDimensionUpdatePersists(t *testing.T) {
	e, path := newTestEngine(t)
	a := testClient("a")
	b := testClient("b")
	e.Connect("K1", path, a)
	e.Connect("K1", path, b)
	drain(a)
	drain(b)

	e.Process("K1", a, []byte(`{"type":"dimension_update","col_widths":{"2":140},"row_heights":{"4":25}}`))

	m := nextMsg(t, b)
	if m["type"] != "dimension_update" {
		t.Fatalf("b got %v", m["type"])
	}

	snap, err := e.Store().Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := snap.ColumnData[2]; got != 140 {
		t.Errorf("column width = %d, want 140", got)
	}
	if got := snap.RowData[4]; got != 25 {
		t.Errorf("row height = %d, want 25", got)
	}
}

func TestCursorAndSelectionRelay(t *testing.T) {
	e, path := newTestEngine(t)
	a := testClient("a")
	b := testClient("b")
	e.Connect("K1", path, a)
	e.Connect("K1", path, b)
	drain(a)
	drain(b)

	e.Process("K1", a, []byte(`{"type":"cursor_move","row":3,"col":4}`))
	m := nextMsg(t, b)
	if m["type"] != "cursor_move" || m["display_name"] != "a@test" {
		t.Errorf("b got %v", m)
	}

	e.Process("K1", a, []byte(`{"type":"selection_change","selection":{"sr":0,"er":2}}`))
	m = nextMsg(t, b)
	if m["type"] != "selection_change" {
		t.Errorf("b got %v", m["type"])
	}
	if sel, _ := m["selection"].(map[string]any); sel["sr"] != float64(0) {
		t.Errorf("selection not relayed opaquely: %v", m["selection"])
	}
	assertNoMsg(t, a)
}

func TestDisconnectBroadcastsLeave(t *testing.T) {
	e, path := newTestEngine(t)
	a := testClient("a")
	b := testClient("b")
	e.Connect("K1", path, a)
	e.Connect("K1", path, b)
	drain(a)
	drain(b)

	e.Disconnect("K1", b)
	m := nextMsg(t, a)
	if m["type"] != "user_leave" || m["user_id"] != "b" {
		t.Fatalf("a got %v", m)
	}
	if users, _ := m["online_users"].([]any); len(users) != 1 {
		t.Errorf("online_users = %v", m["online_users"])
	}

	// 最后一人离开，房间销毁，无人可收也不广播
	e.Disconnect("K1", a)
	if e.Registry().Get("K1") != nil {
		t.Error("room should be destroyed")
	}
}

// 重连：同身份新连接顶替旧连接，旧连接退出不触发 user_leave
func TestReconnectSuppressesPresenceChurn(t *testing.T) {
	e, path := newTestEngine(t)
	a1 := testClient("a")
	b := testClient("b")
	e.Connect("K1", path, a1)
	e.Connect("K1", path, b)
	drain(a1)
	drain(b)

	a2 := room.NewClient("conn-a2", "a", "a@test", nil, 64)
	e.Connect("K1", path, a2)

	if m := nextMsg(t, a2); m["type"] != "connected" {
		t.Fatalf("a2 got %v", m["type"])
	}
	assertNoMsg(t, b) // 没有 user_join

	// 旧连接的读循环随后退出
	e.Disconnect("K1", a1)
	assertNoMsg(t, b) // 也没有 user_leave

	e.Process("K1", a2, []byte(`{"type":"ping"}`))
	if m := nextMsg(t, a2); m["type"] != "pong" {
		t.Errorf("a2 got %v", m["type"])
	}
}

func drain(c *room.Client) {
	for {
		select {
		case <-c.Send:
		default:
			return
		}
	}
}
