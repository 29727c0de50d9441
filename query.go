package querysync

import (
	"context"
	"sync"
	"time"

	"go.trai.ch/zerr"
)

// QueryOptions tune one subscription. The zero value is an enabled,
// non-polling query using the client's default stale time.
type QueryOptions struct {
	Disabled         bool          // default false (enabled)
	PollInterval     time.Duration // 0 => no polling
	StaleTime        time.Duration // 0 => client default
	KeepPreviousData bool          // carry data across SetKey while the new key loads
}

// Executor runs fetches for keys. It guarantees at most one in-flight fetch
// per key, tags every fetch with a generation and drops results whose
// generation was superseded before they settled.
//
// Lock order is Store.mu before Executor.mu. The executor never calls into
// the store while holding its own lock.
type Executor struct {
	store     *Store
	log       Logger
	hooks     Hooks
	now       func() time.Time
	staleTime time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	gen      uint64 // executor-wide, so a dropped keyState can never reuse one
	keys     map[string]*keyState
	disposed bool
}

type keyState struct {
	key     Key
	gen     uint64 // current generation; flights with any other gen are stale
	flight  *flight
	holds   int
	subs    map[*Subscription]struct{}
	fetcher Fetcher
	poll    *poller
}

func (ks *keyState) unused() bool {
	return ks.flight == nil && ks.holds == 0 && len(ks.subs) == 0 && ks.poll == nil
}

func (ks *keyState) enabledSubs() int {
	n := 0
	for s := range ks.subs {
		if !s.opts.Disabled {
			n++
		}
	}
	return n
}

type flight struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	err    error // valid once done is closed
}

func (f *flight) wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newExecutor(store *Store, log Logger, hooks Hooks, now func() time.Time, staleTime time.Duration) *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		store:     store,
		log:       log,
		hooks:     hooks,
		now:       now,
		staleTime: staleTime,
		ctx:       ctx,
		cancel:    cancel,
		keys:      make(map[string]*keyState),
	}
}

// Query subscribes cb to key and fetches it when the cached entry is missing,
// failed, stale-marked or older than the stale time. Concurrent queries for a
// key share one in-flight fetch. cb may be nil; Result still works.
func (x *Executor) Query(key Key, fetcher Fetcher, opts QueryOptions, cb func(Entry)) *Subscription {
	s := &Subscription{x: x, opts: opts, cb: cb}
	if err := s.attach(key, fetcher); err != nil {
		s.key = key
		s.closed = true
		s.err = err
	}
	return s
}

// Prefetch loads key without subscribing to it and waits for the result.
// A fresh entry is left alone.
func (x *Executor) Prefetch(ctx context.Context, key Key, fetcher Fetcher) error {
	if !x.needsFetch(key, 0) {
		return nil
	}
	f, err := x.fetch(key, fetcher, false)
	if err != nil {
		return err
	}
	return f.wait(ctx)
}

// Cancel abandons the in-flight fetch of key, if any. Its result will be
// discarded even if the fetcher ignores cancellation.
func (x *Executor) Cancel(key Key) { x.interrupt(key, false) }

// Hold cancels the in-flight fetch of key and blocks new fetches (including
// polls) until release is called. Holds nest.
func (x *Executor) Hold(key Key) (release func()) {
	x.interrupt(key, true)
	var once sync.Once
	return func() {
		once.Do(func() {
			x.mu.Lock()
			defer x.mu.Unlock()
			if ks := x.keys[key.id]; ks != nil {
				ks.holds--
				x.gc(ks)
			}
		})
	}
}

// InFlight reports whether a fetch for key is running.
func (x *Executor) InFlight(key Key) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	ks := x.keys[key.id]
	return ks != nil && ks.flight != nil
}

func (x *Executor) interrupt(key Key, hold bool) {
	x.mu.Lock()
	if x.disposed {
		x.mu.Unlock()
		return
	}
	ks := x.state(key)
	if hold {
		ks.holds++
	}
	x.gen++
	ks.gen = x.gen
	f := ks.flight
	ks.flight = nil
	if f != nil {
		f.cancel()
	}
	x.gc(ks)
	x.mu.Unlock()

	if f == nil {
		return
	}
	x.log.Debug("fetch cancelled", Fields{"key": key.str, "gen": f.gen})
	x.store.Update(key, func(prev Entry, exists bool) (Entry, bool) {
		if !exists || prev.Status != StatusLoading || x.InFlight(key) {
			return prev, false
		}
		next := prev
		if prev.Data != nil {
			next.Status = StatusStale
		} else {
			next.Status = StatusIdle
		}
		return next, true
	})
}

// fetch starts a fetch for key or joins the running one. forced supersedes a
// running fetch instead of joining it.
func (x *Executor) fetch(key Key, fetcher Fetcher, forced bool) (*flight, error) {
	x.mu.Lock()
	if x.disposed {
		x.mu.Unlock()
		return nil, ErrDisposed
	}
	ks := x.state(key)
	if fetcher == nil {
		fetcher = ks.fetcher
	} else if ks.fetcher == nil {
		ks.fetcher = fetcher
	}
	if fetcher == nil {
		x.gc(ks)
		x.mu.Unlock()
		return nil, zerr.With(zerr.Wrap(ErrNoFetcher, "fetch"), "key", key.str)
	}
	if ks.holds > 0 {
		x.mu.Unlock()
		return nil, zerr.With(zerr.Wrap(ErrHeld, "fetch"), "key", key.str)
	}
	if f := ks.flight; f != nil && !forced {
		x.mu.Unlock()
		x.hooks.FetchDeduplicated(key.str)
		return f, nil
	}
	if old := ks.flight; old != nil {
		old.cancel()
	}
	x.gen++
	ctx, cancel := context.WithCancel(x.ctx)
	f := &flight{gen: x.gen, cancel: cancel, done: make(chan struct{})}
	ks.gen = f.gen
	ks.flight = f
	x.wg.Add(1)
	x.mu.Unlock()

	x.store.Update(key, func(prev Entry, _ bool) (Entry, bool) {
		if !x.current(key, f.gen) {
			return prev, false
		}
		next := prev
		next.Status = StatusLoading
		return next, true
	})
	x.hooks.FetchStarted(key.str, f.gen, forced)
	x.log.Debug("fetch started", Fields{"key": key.str, "gen": f.gen, "forced": forced})

	go x.run(ctx, key, f, fetcher)
	return f, nil
}

func (x *Executor) run(ctx context.Context, key Key, f *flight, fetcher Fetcher) {
	defer x.wg.Done()
	defer close(f.done)
	defer f.cancel()

	start := x.now()
	data, err := fetcher(ctx)

	// The generation check runs inside the store's critical section, so a
	// superseded result can never land on top of a newer write.
	written := x.store.Update(key, func(prev Entry, _ bool) (Entry, bool) {
		if !x.settle(key, f) {
			return prev, false
		}
		if err != nil {
			next := prev
			next.Status = StatusError
			next.Err = Classify(err)
			return next, true
		}
		return Entry{Data: data, Status: StatusSuccess, UpdatedAt: x.now()}, true
	})

	switch {
	case !written:
		f.err = zerr.With(zerr.Wrap(ErrCancelled, "fetch"), "key", key.str)
		x.hooks.FetchDiscarded(key.str, f.gen)
		x.log.Debug("fetch result discarded", Fields{"key": key.str, "gen": f.gen})
	case err != nil:
		f.err = err
		x.hooks.FetchFailed(key.str, err)
		x.log.Warn("fetch failed", Fields{"key": key.str, "gen": f.gen, "err": err})
	default:
		x.hooks.FetchSucceeded(key.str, x.now().Sub(start))
	}
}

// settle detaches f from its key and reports whether f still holds the
// current generation. Called with the store lock held.
func (x *Executor) settle(key Key, f *flight) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	ks := x.keys[key.id]
	if ks == nil {
		return false
	}
	if ks.flight == f {
		ks.flight = nil
		defer x.gc(ks)
	}
	return ks.gen == f.gen
}

func (x *Executor) current(key Key, gen uint64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	ks := x.keys[key.id]
	return ks != nil && ks.gen == gen && ks.flight != nil && ks.flight.gen == gen
}

func (x *Executor) needsFetch(key Key, staleTime time.Duration) bool {
	e, ok := x.store.Get(key)
	if !ok {
		return true
	}
	if e.Status != StatusSuccess || e.Placeholder {
		return true
	}
	return x.now().Sub(e.UpdatedAt) >= coalesce(staleTime, x.staleTime)
}

// revalidate refetches key for its observers, or abandons an unobserved
// in-flight fetch so that it cannot overwrite the stale mark.
func (x *Executor) revalidate(key Key) *flight {
	x.mu.Lock()
	ks := x.keys[key.id]
	if ks == nil || x.disposed || ks.holds > 0 {
		x.mu.Unlock()
		return nil
	}
	active := ks.enabledSubs() > 0
	running := ks.flight != nil
	x.mu.Unlock()

	if active {
		f, err := x.fetch(key, nil, true)
		if err != nil {
			x.log.Debug("revalidate skipped", Fields{"key": key.str, "err": err})
			return nil
		}
		return f
	}
	if running {
		x.Cancel(key)
	}
	return nil
}

// observed returns the keys matched by m that currently have subscribers.
func (x *Executor) observed(m Matcher) []Key {
	x.mu.Lock()
	defer x.mu.Unlock()
	var out []Key
	for _, ks := range x.keys {
		if len(ks.subs) > 0 && m(ks.key) {
			out = append(out, ks.key)
		}
	}
	return out
}

// state returns the keyState of key, creating it. Caller holds x.mu.
func (x *Executor) state(key Key) *keyState {
	ks := x.keys[key.id]
	if ks == nil {
		ks = &keyState{key: key, subs: make(map[*Subscription]struct{})}
		x.keys[key.id] = ks
	}
	return ks
}

// gc drops ks once nothing refers to it. Caller holds x.mu.
func (x *Executor) gc(ks *keyState) {
	if ks.unused() && x.keys[ks.key.id] == ks {
		delete(x.keys, ks.key.id)
	}
}

func (x *Executor) dispose() {
	x.mu.Lock()
	if x.disposed {
		x.mu.Unlock()
		return
	}
	x.disposed = true
	for _, ks := range x.keys {
		if ks.poll != nil {
			ks.poll.halt()
			ks.poll = nil
		}
		if ks.flight != nil {
			ks.flight.cancel()
		}
	}
	x.mu.Unlock()

	x.cancel()
	x.wg.Wait()
}

// Subscription is one consumer's view of a key.
type Subscription struct {
	x    *Executor
	opts QueryOptions
	cb   func(Entry)

	mu      sync.Mutex
	key     Key
	fetcher Fetcher
	unsub   func()
	closed  bool
	err     error
}

// Key returns the key the subscription currently observes.
func (s *Subscription) Key() Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// Result returns the current cache entry for the subscription's key.
func (s *Subscription) Result() Entry {
	e, _ := s.x.store.Get(s.Key())
	return e
}

// Err is non-nil when the subscription could not be attached.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Refetch forces a fetch of the current key and waits for it to settle.
func (s *Subscription) Refetch(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		err := s.err
		s.mu.Unlock()
		return coalesce[error](err, ErrDisposed)
	}
	key, fetcher := s.key, s.fetcher
	s.mu.Unlock()

	f, err := s.x.fetch(key, fetcher, true)
	if err != nil {
		return err
	}
	return f.wait(ctx)
}

// SetKey moves the subscription to key. With KeepPreviousData the previous
// key's data is copied into key's entry as a placeholder, so observers never
// see an empty state while the new key loads.
func (s *Subscription) SetKey(key Key, fetcher Fetcher) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	old, oldUnsub := s.key, s.unsub
	if key.Equal(old) {
		if fetcher != nil {
			s.fetcher = fetcher
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// a disabled subscription never fetches, so a placeholder would stick
	if s.opts.KeepPreviousData && !s.opts.Disabled {
		if prev, ok := s.x.store.Get(old); ok && prev.Data != nil {
			s.x.store.Update(key, func(cur Entry, exists bool) (Entry, bool) {
				if exists && cur.Data != nil {
					return cur, false
				}
				next := cur
				next.Data = prev.Data
				next.UpdatedAt = prev.UpdatedAt
				next.Placeholder = true
				if !exists {
					next.Status = StatusIdle
				}
				return next, true
			})
		}
	}

	if err := s.attach(key, fetcher); err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}
	s.detach(old, oldUnsub)
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	key, unsub := s.key, s.unsub
	s.mu.Unlock()
	s.detach(key, unsub)
}

func (s *Subscription) attach(key Key, fetcher Fetcher) error {
	x := s.x
	x.mu.Lock()
	if x.disposed {
		x.mu.Unlock()
		return ErrDisposed
	}
	ks := x.state(key)
	ks.subs[s] = struct{}{}
	if fetcher != nil {
		ks.fetcher = fetcher
	}
	x.schedulePoll(ks)
	x.mu.Unlock()

	// Close may run between SetKey releasing s.mu and here; it then only
	// detached the previous key, so undo this registration.
	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.key, s.fetcher = key, fetcher
	}
	s.mu.Unlock()
	if closed {
		s.detach(key, nil)
		return nil
	}
	unsub := x.store.Subscribe(key, s.deliver)
	s.mu.Lock()
	closed = s.closed
	if !closed {
		s.unsub = unsub
	}
	s.mu.Unlock()
	if closed {
		s.detach(key, unsub)
		return nil
	}

	if s.opts.Disabled || !x.needsFetch(key, s.opts.StaleTime) {
		return nil
	}
	if _, err := x.fetch(key, fetcher, false); err != nil {
		x.log.Debug("initial fetch not started", Fields{"key": key.str, "err": err})
	}
	return nil
}

func (s *Subscription) detach(key Key, unsub func()) {
	if unsub != nil {
		unsub()
	}
	x := s.x
	x.mu.Lock()
	defer x.mu.Unlock()
	ks := x.keys[key.id]
	if ks == nil {
		return
	}
	delete(ks.subs, s)
	x.schedulePoll(ks)
	x.gc(ks)
}

func (s *Subscription) deliver(e Entry) {
	s.mu.Lock()
	skip := s.closed || s.cb == nil || !e.Key.Equal(s.key)
	s.mu.Unlock()
	if skip {
		return
	}
	s.cb(e)
}
