package querysync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStoreSubscribeNeverReplaysHistory(t *testing.T) {
	s := NewStore()
	k := NewKey("ticket", "t1")
	s.Set(k, func(Entry, bool) Entry { return Entry{Data: "v1", Status: StatusSuccess} })

	var got []Entry
	unsub := s.Subscribe(k, func(e Entry) { got = append(got, e) })
	if len(got) != 0 {
		t.Fatalf("subscribe replayed %d historical writes", len(got))
	}

	s.Set(k, func(prev Entry, _ bool) Entry {
		prev.Data = "v2"
		return prev
	})
	if len(got) != 1 || got[0].Data != "v2" {
		t.Fatalf("expected one delivery of v2, got %+v", got)
	}
	if got[0].Subscribers != 1 {
		t.Fatalf("delivered entry should report 1 subscriber, got %d", got[0].Subscribers)
	}

	unsub()
	unsub() // idempotent
	s.Set(k, func(prev Entry, _ bool) Entry { return prev })
	if len(got) != 1 {
		t.Fatalf("delivery after unsubscribe")
	}
	if n := s.Subscribers(k); n != 0 {
		t.Fatalf("subscriber count = %d after unsubscribe", n)
	}
}

func TestStoreSubscriberCountTracksSubscriptions(t *testing.T) {
	s := NewStore()
	k := NewKey("tickets")
	u1 := s.Subscribe(k, nil)
	u2 := s.Subscribe(k, nil)
	if e, ok := s.Get(k); ok || e.Subscribers != 2 {
		t.Fatalf("want absent entry with 2 subscribers, got ok=%v subs=%d", ok, e.Subscribers)
	}
	u1()
	if n := s.Subscribers(k); n != 1 {
		t.Fatalf("want 1 subscriber, got %d", n)
	}
	u2()
	if n := s.Subscribers(k); n != 0 {
		t.Fatalf("want 0 subscribers, got %d", n)
	}
	if s.Len() != 0 {
		t.Fatalf("empty slot left behind")
	}
}

func TestStoreUpdateCanDecline(t *testing.T) {
	s := NewStore()
	k := NewKey("ticket", "t1")
	calls := 0
	s.Subscribe(k, func(Entry) { calls++ })
	wrote := s.Update(k, func(prev Entry, exists bool) (Entry, bool) {
		if exists {
			t.Fatalf("fresh key reported as existing")
		}
		return prev, false
	})
	if wrote || calls != 0 {
		t.Fatalf("declined update wrote=%v notified=%d", wrote, calls)
	}
	if _, ok := s.Get(k); ok {
		t.Fatalf("declined update created an entry")
	}
}

func TestStoreInvalidateKeepsData(t *testing.T) {
	s := NewStore()
	now := time.Now()
	p1 := NewKey("tickets", Params{"page": 1})
	p2 := NewKey("tickets", Params{"page": 2})
	other := NewKey("ticket", "t1")
	for _, k := range []Key{p1, p2, other} {
		s.Set(k, func(Entry, bool) Entry { return Entry{Data: k.String(), Status: StatusSuccess, UpdatedAt: now} })
	}

	var seen []Status
	s.Subscribe(p1, func(e Entry) { seen = append(seen, e.Status) })

	keys := s.Invalidate(Prefix("tickets"))
	if len(keys) != 2 {
		t.Fatalf("want 2 invalidated keys, got %d", len(keys))
	}
	for _, k := range []Key{p1, p2} {
		e, _ := s.Get(k)
		if e.Status != StatusStale || e.Data != k.String() || !e.UpdatedAt.Equal(now) {
			t.Fatalf("%s: want stale with data kept, got %+v", k, e)
		}
	}
	if e, _ := s.Get(other); e.Status != StatusSuccess {
		t.Fatalf("unmatched key touched: %v", e.Status)
	}
	if len(seen) != 1 || seen[0] != StatusStale {
		t.Fatalf("subscriber not told about invalidation: %v", seen)
	}
}

func TestStoreRemoveKeepsSubscribers(t *testing.T) {
	s := NewStore()
	k := NewKey("notes", "tk1")
	var last Entry
	deliveries := 0
	unsub := s.Subscribe(k, func(e Entry) { last = e; deliveries++ })
	defer unsub()

	s.Set(k, func(Entry, bool) Entry { return Entry{Data: []string{"n1"}, Status: StatusSuccess} })
	s.Remove(k)

	if _, ok := s.Get(k); ok {
		t.Fatalf("entry survived Remove")
	}
	if deliveries != 2 || last.Data != nil || last.Status != StatusIdle {
		t.Fatalf("want empty idle delivery after Remove, got %d deliveries, last=%+v", deliveries, last)
	}
	if n := s.Subscribers(k); n != 1 {
		t.Fatalf("Remove dropped subscribers: %d", n)
	}
	s.Remove(k) // no entry: no delivery
	if deliveries != 2 {
		t.Fatalf("Remove of absent entry notified")
	}
}

func TestStoreDropsOlderWriteAfterNewer(t *testing.T) {
	var got []uint64
	sub := &subscriber{fn: func(e Entry) { got = append(got, e.Data.(uint64)) }}
	sub.active.Store(true)

	deliver := func(seq uint64) {
		notification{seq: seq, entry: Entry{Data: seq}, subs: []*subscriber{sub}}.deliver()
	}
	deliver(2)
	deliver(5)
	deliver(3) // raced behind 5
	deliver(6)

	want := []uint64{2, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestStoreConcurrentWritersDeliverInOrder(t *testing.T) {
	s := NewStore()
	k := NewKey("tickets")
	s.Set(k, func(Entry, bool) Entry { return Entry{Data: 0} })

	var (
		busy      atomic.Int32
		overlaps  int
		inversion int
		seen      int
	)
	s.Subscribe(k, func(e Entry) {
		if busy.Add(1) != 1 {
			overlaps++
		}
		v := e.Data.(int)
		if v < seen {
			inversion++
		}
		seen = v
		busy.Add(-1)
	})

	const writers, writes = 8, 1000
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range writes {
				s.Set(k, func(prev Entry, _ bool) Entry { return Entry{Data: prev.Data.(int) + 1} })
			}
		}()
	}
	wg.Wait()

	if overlaps != 0 {
		t.Fatalf("callbacks overlapped %d times", overlaps)
	}
	if inversion != 0 {
		t.Fatalf("subscriber observed %d older writes after newer ones", inversion)
	}
	if seen != writers*writes {
		t.Fatalf("last delivered value %d, want %d", seen, writers*writes)
	}
}

func TestStoreWriteFromCallbackIsDeliveredAfterIt(t *testing.T) {
	s := NewStore()
	k := NewKey("notes", "t1")
	var got []int
	s.Subscribe(k, func(e Entry) {
		v := e.Data.(int)
		got = append(got, v)
		if v == 1 {
			s.Set(k, func(Entry, bool) Entry { return Entry{Data: 2} })
			if len(got) != 1 {
				t.Errorf("nested write delivered inside the callback: %v", got)
			}
		}
	})
	s.Set(k, func(Entry, bool) Entry { return Entry{Data: 1} })

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("got %v want [1 2]", got)
	}
}

func TestStoreDisposeIgnoresLaterWrites(t *testing.T) {
	s := NewStore()
	k := NewKey("ticket", "t1")
	calls := 0
	s.Subscribe(k, func(Entry) { calls++ })
	s.Dispose()
	s.Dispose()

	if s.Update(k, func(prev Entry, _ bool) (Entry, bool) { return prev, true }) {
		t.Fatalf("write accepted after Dispose")
	}
	if calls != 0 || s.Len() != 0 {
		t.Fatalf("disposed store still active: calls=%d len=%d", calls, s.Len())
	}
}
