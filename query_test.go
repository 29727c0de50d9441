package querysync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeFetcher parks every call until the test replies to it. Calls ignore
// ctx on purpose so late results can race newer generations.
type fakeFetcher struct {
	calls chan *fetchCall
	n     atomic.Int32
}

type fetchCall struct {
	ctx   context.Context
	reply chan fetchReply
}

type fetchReply struct {
	data any
	err  error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: make(chan *fetchCall, 16)}
}

func (f *fakeFetcher) fetch(ctx context.Context) (any, error) {
	f.n.Add(1)
	c := &fetchCall{ctx: ctx, reply: make(chan fetchReply, 1)}
	f.calls <- c
	r := <-c.reply
	return r.data, r.err
}

func (f *fakeFetcher) next(t *testing.T) *fetchCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for fetch call")
		return nil
	}
}

func (c *fetchCall) respond(data any, err error) { c.reply <- fetchReply{data: data, err: err} }

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recHooks struct {
	NopHooks
	deduped   atomic.Int32
	discarded atomic.Int32
	failed    atomic.Int32
	polls     atomic.Int32
}

func (h *recHooks) FetchDeduplicated(string)      { h.deduped.Add(1) }
func (h *recHooks) FetchDiscarded(string, uint64) { h.discarded.Add(1) }
func (h *recHooks) FetchFailed(string, error)     { h.failed.Add(1) }
func (h *recHooks) PollTick(string)               { h.polls.Add(1) }

type recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *recorder) add(e Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

func (r *recorder) all() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestQueryDeduplicatesInFlightFetch(t *testing.T) {
	hooks := &recHooks{}
	c := New(Options{Hooks: hooks})
	defer c.Dispose()

	ff := newFakeFetcher()
	k := NewKey("tickets", Params{"page": 1})
	s1 := c.Query(k, ff.fetch, QueryOptions{}, nil)
	s2 := c.Query(NewKey("tickets", Params{"page": 1, "search": ""}), ff.fetch, QueryOptions{}, nil)
	defer s1.Close()
	defer s2.Close()

	ff.next(t).respond("page-1", nil)
	eventually(t, "first result", func() bool { return s2.Result().Status == StatusSuccess })

	if n := ff.n.Load(); n != 1 {
		t.Fatalf("want exactly 1 underlying fetch, got %d", n)
	}
	if hooks.deduped.Load() != 1 {
		t.Fatalf("want 1 deduplicated join, got %d", hooks.deduped.Load())
	}
	if s1.Result().Data != "page-1" || s2.Result().Data != "page-1" {
		t.Fatalf("subscribers disagree: %v / %v", s1.Result().Data, s2.Result().Data)
	}
}

func TestQueryRespectsStaleTime(t *testing.T) {
	clock := newTestClock()
	c := New(Options{Now: clock.Now})
	defer c.Dispose()

	var n atomic.Int32
	fetch := func(context.Context) (any, error) { return n.Add(1), nil }
	k := NewKey("ticket", "t1")
	opts := QueryOptions{StaleTime: 5 * time.Second}

	s := c.Query(k, fetch, opts, nil)
	defer s.Close()
	eventually(t, "initial fetch", func() bool { return s.Result().Status == StatusSuccess })

	clock.Advance(4 * time.Second)
	c.Query(k, fetch, opts, nil).Close()
	if got := n.Load(); got != 1 {
		t.Fatalf("fresh entry refetched: %d fetches", got)
	}

	clock.Advance(2 * time.Second)
	s2 := c.Query(k, fetch, opts, nil)
	defer s2.Close()
	eventually(t, "stale refetch", func() bool { return n.Load() == 2 && !c.Executor().InFlight(k) })
}

func TestQueryDisabledNeverFetches(t *testing.T) {
	c := New(Options{})
	defer c.Dispose()

	var n atomic.Int32
	k := NewKey("ticket", "")
	s := c.Query(k, func(context.Context) (any, error) { n.Add(1); return nil, nil }, QueryOptions{Disabled: true}, nil)
	defer s.Close()

	if c.Executor().InFlight(k) || n.Load() != 0 {
		t.Fatalf("disabled query fetched")
	}
	if e := s.Result(); e.Status != StatusIdle || e.Subscribers != 1 {
		t.Fatalf("want idle entry with one subscriber, got %+v", e)
	}
}

func TestGenerationSafetyLateOldResultIsDropped(t *testing.T) {
	hooks := &recHooks{}
	c := New(Options{Hooks: hooks})
	defer c.Dispose()

	ff := newFakeFetcher()
	k := NewKey("tickets", Params{"page": 1})
	s := c.Query(k, ff.fetch, QueryOptions{}, nil)
	defer s.Close()
	first := ff.next(t)

	errc := make(chan error, 1)
	go func() { errc <- s.Refetch(context.Background()) }()
	second := ff.next(t)
	if first.ctx.Err() == nil {
		t.Fatalf("superseded fetch context not cancelled")
	}

	second.respond("new", nil)
	if err := <-errc; err != nil {
		t.Fatalf("Refetch: %v", err)
	}
	first.respond("old", nil)
	eventually(t, "old result discarded", func() bool { return hooks.discarded.Load() == 1 })

	if got := s.Result().Data; got != "new" {
		t.Fatalf("older generation overwrote newer result: %v", got)
	}
}

func TestGenerationSafetyEarlyOldResultIsDropped(t *testing.T) {
	hooks := &recHooks{}
	c := New(Options{Hooks: hooks})
	defer c.Dispose()

	ff := newFakeFetcher()
	k := NewKey("ticket", "t1")
	s := c.Query(k, ff.fetch, QueryOptions{}, nil)
	defer s.Close()
	first := ff.next(t)

	errc := make(chan error, 1)
	go func() { errc <- s.Refetch(context.Background()) }()
	second := ff.next(t)

	first.respond("old", nil)
	eventually(t, "old result discarded", func() bool { return hooks.discarded.Load() == 1 })
	if e := s.Result(); e.Data != nil || e.Status != StatusLoading {
		t.Fatalf("superseded result became visible: %+v", e)
	}

	second.respond("new", nil)
	if err := <-errc; err != nil {
		t.Fatalf("Refetch: %v", err)
	}
	if got := s.Result().Data; got != "new" {
		t.Fatalf("want new, got %v", got)
	}
}

func TestFetchErrorKeepsLastData(t *testing.T) {
	c := New(Options{})
	defer c.Dispose()

	ff := newFakeFetcher()
	k := NewKey("tickets", Params{"page": 1})
	s := c.Query(k, ff.fetch, QueryOptions{}, nil)
	defer s.Close()
	ff.next(t).respond("v1", nil)
	eventually(t, "first result", func() bool { return s.Result().Status == StatusSuccess })

	errc := make(chan error, 1)
	go func() { errc <- s.Refetch(context.Background()) }()
	ff.next(t).respond(nil, &ServerError{Status: 503, Message: "maintenance"})

	err := <-errc
	var se *ServerError
	if !errors.As(err, &se) || se.Status != 503 {
		t.Fatalf("Refetch error = %v, want ServerError 503", err)
	}
	e := s.Result()
	if e.Status != StatusError || e.Data != "v1" {
		t.Fatalf("want error status with data kept, got %+v", e)
	}
	if e.Err == nil || e.Err.Kind != KindServer || e.Err.Status != 503 || e.Err.Message != "maintenance" {
		t.Fatalf("unexpected error info: %+v", e.Err)
	}
}

func TestResultWrittenAfterLastSubscriberLeaves(t *testing.T) {
	c := New(Options{})
	defer c.Dispose()

	ff := newFakeFetcher()
	k := NewKey("notes", "tk1")
	var calls atomic.Int32
	s := c.Query(k, ff.fetch, QueryOptions{}, func(Entry) { calls.Add(1) })
	call := ff.next(t)
	before := calls.Load()
	s.Close()

	call.respond([]string{"n1"}, nil)
	eventually(t, "orphan result stored", func() bool {
		e, ok := c.Store().Get(k)
		return ok && e.Status == StatusSuccess
	})
	if calls.Load() != before {
		t.Fatalf("closed subscriber was notified")
	}
}

func TestKeepPreviousDataNeverShowsEmptyState(t *testing.T) {
	c := New(Options{})
	defer c.Dispose()

	ff := newFakeFetcher()
	page1 := NewKey("tickets", Params{"page": 1})
	page2 := NewKey("tickets", Params{"page": 2})
	rec := &recorder{}
	s := c.Query(page1, ff.fetch, QueryOptions{KeepPreviousData: true}, rec.add)
	defer s.Close()
	ff.next(t).respond("p1", nil)
	eventually(t, "page 1", func() bool { return s.Result().Status == StatusSuccess })

	s.SetKey(page2, ff.fetch)
	if !s.Key().Equal(page2) {
		t.Fatalf("subscription did not move to page 2")
	}
	e := s.Result()
	if e.Data != "p1" || !e.Placeholder {
		t.Fatalf("want page 1 data as placeholder while page 2 loads, got %+v", e)
	}

	ff.next(t).respond("p2", nil)
	eventually(t, "page 2", func() bool { return s.Result().Data == "p2" })
	if s.Result().Placeholder {
		t.Fatalf("placeholder flag survived the real result")
	}

	for _, e := range rec.all() {
		if e.Key.Equal(page2) && e.Data == nil {
			t.Fatalf("observer saw data-absent state on page 2: %+v", e)
		}
	}
	if n := c.Store().Subscribers(page1); n != 0 {
		t.Fatalf("old key still subscribed: %d", n)
	}
}

func TestCancelRevertsLoadingAndDropsResult(t *testing.T) {
	hooks := &recHooks{}
	c := New(Options{Hooks: hooks})
	defer c.Dispose()

	ff := newFakeFetcher()
	k := NewKey("ticket", "t1")
	s := c.Query(k, ff.fetch, QueryOptions{}, nil)
	defer s.Close()
	call := ff.next(t)

	c.Executor().Cancel(k)
	if c.Executor().InFlight(k) {
		t.Fatalf("flight survived Cancel")
	}
	if e := s.Result(); e.Status != StatusIdle {
		t.Fatalf("want idle after cancelling first load, got %v", e.Status)
	}

	call.respond("late", nil)
	eventually(t, "late result discarded", func() bool { return hooks.discarded.Load() == 1 })
	if s.Result().Data != nil {
		t.Fatalf("cancelled result was written")
	}
}

func TestHoldBlocksFetchesUntilReleased(t *testing.T) {
	c := New(Options{})
	defer c.Dispose()

	var n atomic.Int32
	fetch := func(context.Context) (any, error) { return n.Add(1), nil }
	k := NewKey("ticket", "t1")

	release := c.Executor().Hold(k)
	s := c.Query(k, fetch, QueryOptions{}, nil)
	defer s.Close()
	if err := s.Refetch(context.Background()); !errors.Is(err, ErrHeld) {
		t.Fatalf("want ErrHeld, got %v", err)
	}
	if n.Load() != 0 {
		t.Fatalf("held key fetched")
	}

	release()
	release()
	if err := s.Refetch(context.Background()); err != nil {
		t.Fatalf("Refetch after release: %v", err)
	}
	if n.Load() != 1 {
		t.Fatalf("want 1 fetch after release, got %d", n.Load())
	}
}

func TestPrefetchPopulatesWithoutSubscribing(t *testing.T) {
	c := New(Options{DefaultStaleTime: time.Minute})
	defer c.Dispose()

	var n atomic.Int32
	fetch := func(context.Context) (any, error) { n.Add(1); return "t1", nil }
	k := NewKey("ticket", "t1")

	if err := c.Prefetch(context.Background(), k, fetch); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if err := c.Prefetch(context.Background(), k, fetch); err != nil {
		t.Fatalf("second Prefetch: %v", err)
	}
	e, ok := c.Store().Get(k)
	if !ok || e.Data != "t1" || e.Subscribers != 0 {
		t.Fatalf("unexpected entry %+v", e)
	}
	if n.Load() != 1 {
		t.Fatalf("fresh entry prefetched again: %d", n.Load())
	}
}

func TestDisposedClientRefusesWork(t *testing.T) {
	c := New(Options{})
	c.Dispose()

	s := c.Query(NewKey("tickets"), func(context.Context) (any, error) { return nil, nil }, QueryOptions{}, nil)
	if !errors.Is(s.Err(), ErrDisposed) {
		t.Fatalf("want ErrDisposed, got %v", s.Err())
	}
	if err := s.Refetch(context.Background()); !errors.Is(err, ErrDisposed) {
		t.Fatalf("Refetch on disposed: %v", err)
	}
	s.Close()

	out := Mutate(context.Background(), c.Controller(), 1, MutationConfig[int, int]{
		Remote: func(context.Context, int) (int, error) { t.Fatalf("remote called after dispose"); return 0, nil },
	})
	if !errors.Is(out.Err, ErrDisposed) {
		t.Fatalf("Mutate on disposed: %v", out.Err)
	}
}

func TestSetKeyRacingCloseLeavesNothingBehind(t *testing.T) {
	c := New(Options{DefaultStaleTime: time.Hour})
	defer c.Dispose()
	x := c.Executor()
	fetch := func(context.Context) (any, error) { return "page", nil }

	for i := range 200 {
		from := NewKey("tickets", Params{"page": 1, "run": i})
		to := NewKey("tickets", Params{"page": 2, "run": i})
		s := c.Query(from, fetch, QueryOptions{PollInterval: time.Hour, KeepPreviousData: true}, func(Entry) {})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); s.SetKey(to, fetch) }()
		go func() { defer wg.Done(); s.Close() }()
		wg.Wait()

		for _, k := range []Key{from, to} {
			if n := c.Store().Subscribers(k); n != 0 {
				t.Fatalf("run %d: %s still has %d store subscribers", i, k, n)
			}
		}
	}

	eventually(t, "every key state released", func() bool {
		x.mu.Lock()
		defer x.mu.Unlock()
		return len(x.keys) == 0
	})
}

func TestSetKeyOnDisabledSubscriptionWritesNoPlaceholder(t *testing.T) {
	c := New(Options{})
	defer c.Dispose()
	page1 := NewKey("tickets", Params{"page": 1})
	page2 := NewKey("tickets", Params{"page": 2})
	c.Store().Set(page1, func(Entry, bool) Entry { return Entry{Data: "p1", Status: StatusSuccess} })

	s := c.Query(page1, nil, QueryOptions{Disabled: true, KeepPreviousData: true}, nil)
	defer s.Close()
	s.SetKey(page2, nil)

	if e, ok := c.Store().Get(page2); ok || e.Data != nil {
		t.Fatalf("disabled subscription left a placeholder under the new key: %+v", e)
	}
}
