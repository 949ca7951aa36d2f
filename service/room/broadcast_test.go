package room

import (
	"testing"
	"time"
)

func recvOrTimeout(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case data := <-c.Send:
		return data
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	r := NewRegistry(100)
	a := testClient("a")
	b := testClient("b")
	r.Join("K1", "/tmp/k1.xlsx", a)
	r.Join("K1", "/tmp/k1.xlsx", b)

	r.Broadcast("K1", []byte("hello"), "a")

	if got := recvOrTimeout(t, b); string(got) != "hello" {
		t.Errorf("b got %q", got)
	}
	select {
	case msg := <-a.Send:
		t.Errorf("sender received own broadcast: %q", msg)
	default:
	}
}

func TestBroadcastOrderPerRecipient(t *testing.T) {
	r := NewRegistry(100)
	a := testClient("a")
	b := testClient("b")
	r.Join("K1", "/tmp/k1.xlsx", a)
	r.Join("K1", "/tmp/k1.xlsx", b)

	r.Broadcast("K1", []byte("1"), "")
	r.Broadcast("K1", []byte("2"), "")
	r.Broadcast("K1", []byte("3"), "")

	for _, want := range []string{"1", "2", "3"} {
		if got := recvOrTimeout(t, b); string(got) != want {
			t.Fatalf("b got %q, want %q", got, want)
		}
	}
}

func TestBroadcastPrunesFailedRecipient(t *testing.T) {
	r := NewRegistry(100)
	a := testClient("a")
	// b 的队列容量 1，填满后下一次投递失败
	b := NewClient("conn-b", "b", "b@test", nil, 1)
	c := testClient("c")
	r.Join("K1", "/tmp/k1.xlsx", a)
	r.Join("K1", "/tmp/k1.xlsx", b)
	r.Join("K1", "/tmp/k1.xlsx", c)

	b.Send <- []byte("stuffed")

	r.Broadcast("K1", []byte("x"), "")

	// 一个坏成员不影响其他人收包
	if got := recvOrTimeout(t, a); string(got) != "x" {
		t.Errorf("a got %q", got)
	}
	if got := recvOrTimeout(t, c); string(got) != "x" {
		t.Errorf("c got %q", got)
	}

	online := r.ListOnline("K1")
	if len(online) != 2 {
		t.Fatalf("failed recipient not pruned: %v", online)
	}
	for _, u := range online {
		if u.UserID == "b" {
			t.Error("b should be pruned from room")
		}
	}
}

func TestSendDirect(t *testing.T) {
	r := NewRegistry(100)
	a := testClient("a")
	r.Join("K1", "/tmp/k1.xlsx", a)

	r.SendDirect(a, []byte("pong"))
	if got := recvOrTimeout(t, a); string(got) != "pong" {
		t.Errorf("got %q", got)
	}

	// 失败只记日志，不崩
	full := NewClient("conn-f", "f", "f@test", nil, 1)
	full.Send <- []byte("stuffed")
	r.SendDirect(full, []byte("drop"))
	r.SendDirect(nil, []byte("drop"))
}
