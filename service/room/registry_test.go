package room

import (
	"testing"
	"time"
)

func testClient(userID string) *Client {
	return NewClient("conn-"+userID, userID, userID+"@test", nil, 16)
}

func TestJoinAndListOnline(t *testing.T) {
	r := NewRegistry(100)

	a := testClient("a")
	_, reconnect := r.Join("K1", "/tmp/k1.xlsx", a)
	if reconnect {
		t.Error("first join reported as reconnect")
	}

	b := testClient("b")
	b.JoinedAt = a.JoinedAt.Add(time.Second)
	r.Join("K1", "/tmp/k1.xlsx", b)

	online := r.ListOnline("K1")
	if len(online) != 2 {
		t.Fatalf("online = %d, want 2", len(online))
	}
	// 按加入时间排序
	if online[0].UserID != "a" || online[1].UserID != "b" {
		t.Errorf("order wrong: %v", online)
	}
}

func TestReconnectReplacesInPlace(t *testing.T) {
	r := NewRegistry(100)

	first := testClient("a")
	r.Join("K1", "/tmp/k1.xlsx", first)
	joined := first.JoinedAt

	second := testClient("a")
	second.JoinedAt = joined.Add(time.Hour)
	_, reconnect := r.Join("K1", "/tmp/k1.xlsx", second)
	if !reconnect {
		t.Error("same identity should be a reconnect")
	}

	online := r.ListOnline("K1")
	if len(online) != 1 {
		t.Fatalf("reconnect duplicated entry: %v", online)
	}
	// 首次加入时间保留
	if !second.JoinedAt.Equal(joined) {
		t.Error("reconnect should keep original join time")
	}

	// 旧连接退出不把新连接踢掉
	removed, _ := r.Leave("K1", first)
	if removed {
		t.Error("stale connection leave should be a no-op")
	}
	if len(r.ListOnline("K1")) != 1 {
		t.Error("member lost after stale leave")
	}
}

func TestLeaveDestroysEmptyRoom(t *testing.T) {
	r := NewRegistry(100)

	a := testClient("a")
	rm, _ := r.Join("K1", "/tmp/k1.xlsx", a)
	rm.History.Append(HistoryEntry{Action: "x"})

	removed, emptied := r.Leave("K1", a)
	if !removed || !emptied {
		t.Fatalf("removed=%v emptied=%v, want true/true", removed, emptied)
	}
	if r.Get("K1") != nil {
		t.Error("empty room should be destroyed")
	}

	// 重新进入拿到的是全新房间，历史已丢弃
	rm2, _ := r.Join("K1", "/tmp/k1.xlsx", testClient("b"))
	if rm2.History.Len() != 0 {
		t.Error("history should not survive room destruction")
	}
}

func TestLeaveUnknownRoom(t *testing.T) {
	r := NewRegistry(100)
	removed, emptied := r.Leave("nope", testClient("a"))
	if removed || emptied {
		t.Error("leave on unknown room should be a no-op")
	}
	if len(r.ListOnline("nope")) != 0 {
		t.Error("unknown room should list empty")
	}
}
