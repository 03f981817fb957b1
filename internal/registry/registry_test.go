package registry

import (
	"context"
	"testing"
	"time"

	"github.com/sawpanic/cryptopulse/internal/storage"
)

type fakeConn struct {
	id       string
	queue    chan Outbound
	closed   bool
	closedAs string
}

func newFakeConn(id string, size int) *fakeConn {
	return &fakeConn{id: id, queue: make(chan Outbound, size)}
}

func (f *fakeConn) ID() string { return f.id }
func (f *fakeConn) Enqueue(msg Outbound) bool {
	select {
	case f.queue <- msg:
		return true
	default:
		return false
	}
}
func (f *fakeConn) Close(reason string) { f.closed = true; f.closedAs = reason }

func TestRegistry_SubscribeAndBroadcast(t *testing.T) {
	r := New(10, 10, 4)
	c := newFakeConn("a", 4)
	if err := r.Add(c); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := r.Subscribe("a", storage.KindCandle, []int64{1, 2}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	r.Broadcast(context.Background(), storage.KindCandle, 1, "row1")
	select {
	case msg := <-c.queue:
		if msg.Key != 1 || msg.Row != "row1" {
			t.Errorf("unexpected message: %+v", msg)
		}
	default:
		t.Fatal("expected a queued message")
	}

	r.Broadcast(context.Background(), storage.KindCandle, 3, "unrelated")
	select {
	case <-c.queue:
		t.Fatal("should not receive broadcast for unsubscribed key")
	default:
	}
}

func TestRegistry_ConnectionLimit(t *testing.T) {
	r := New(1, 10, 4)
	if err := r.Add(newFakeConn("a", 4)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(newFakeConn("b", 4)); err == nil {
		t.Error("expected connection limit error")
	}
}

func TestRegistry_SubscriptionLimit(t *testing.T) {
	r := New(10, 2, 4)
	c := newFakeConn("a", 4)
	r.Add(c)
	added, err := r.Subscribe("a", storage.KindCandle, []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if len(added) != 2 {
		t.Errorf("expected subscription to cap at 2, got %d", len(added))
	}
}

func TestRegistry_EvictsAfterLaggingStrikes(t *testing.T) {
	r := New(10, 10, 4)
	c := newFakeConn("a", 0) // zero-capacity queue: every enqueue fails
	r.Add(c)
	r.Subscribe("a", storage.KindCandle, []int64{1})

	for i := 0; i < maxLaggingStrikes; i++ {
		r.Broadcast(context.Background(), storage.KindCandle, 1, "row")
	}
	if !c.closed {
		t.Fatal("expected connection to be evicted for lagging")
	}
	if c.closedAs != CloseLagging {
		t.Errorf("unexpected close reason: %s", c.closedAs)
	}
}

func TestRegistry_UnsubscribeStopsDelivery(t *testing.T) {
	r := New(10, 10, 4)
	c := newFakeConn("a", 4)
	r.Add(c)
	r.Subscribe("a", storage.KindCandle, []int64{1})
	r.Unsubscribe("a", storage.KindCandle, []int64{1})

	r.Broadcast(context.Background(), storage.KindCandle, 1, "row")
	select {
	case <-c.queue:
		t.Fatal("should not receive broadcast after unsubscribe")
	default:
	}
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := New(10, 10, 4)
	c := newFakeConn("a", 4)
	r.Add(c)
	r.Remove("a")
	r.Remove("a") // must not panic
	if r.Len() != 0 {
		t.Errorf("expected 0 connections, got %d", r.Len())
	}
}

func TestRegistry_HeartbeatEvictsStaleConnection(t *testing.T) {
	r := New(10, 10, 4)
	c := newFakeConn("a", 4)
	r.Add(c)

	r.connsMu.RLock()
	cs := r.conns["a"]
	r.connsMu.RUnlock()
	cs.mu.Lock()
	cs.lastPong = time.Now().Add(-time.Hour)
	cs.mu.Unlock()

	r.sweep(30 * time.Second)
	if !c.closed {
		t.Fatal("expected stale connection to be evicted")
	}
	if c.closedAs != CloseHeartbeatTimeout {
		t.Errorf("unexpected close reason: %s", c.closedAs)
	}
}
