// Package asynchook moves hook delivery off the fetch and mutation paths.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{PollTickEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	qc := querysync.New(querysync.Options{Hooks: hooks})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/querysync"
)

// Hooks forwards events to inner on a bounded queue. Events that do not fit
// are dropped and counted.
type Hooks struct {
	inner   querysync.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ querysync.Hooks = (*Hooks)(nil)

func New(inner querysync.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for range workers {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains the queue and stops the workers. Events after Close are
// dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) FetchStarted(k string, gen uint64, forced bool) {
	h.try(func() { h.inner.FetchStarted(k, gen, forced) })
}
func (h *Hooks) FetchDeduplicated(k string) { h.try(func() { h.inner.FetchDeduplicated(k) }) }
func (h *Hooks) FetchSucceeded(k string, took time.Duration) {
	h.try(func() { h.inner.FetchSucceeded(k, took) })
}
func (h *Hooks) FetchFailed(k string, err error)     { h.try(func() { h.inner.FetchFailed(k, err) }) }
func (h *Hooks) FetchDiscarded(k string, gen uint64) { h.try(func() { h.inner.FetchDiscarded(k, gen) }) }
func (h *Hooks) PollTick(k string)                   { h.try(func() { h.inner.PollTick(k) }) }
func (h *Hooks) OptimisticApplied(m string, n int)   { h.try(func() { h.inner.OptimisticApplied(m, n) }) }
func (h *Hooks) MutationCommitted(m string, n int)   { h.try(func() { h.inner.MutationCommitted(m, n) }) }
func (h *Hooks) Invalidated(matched, refetched int)  { h.try(func() { h.inner.Invalidated(matched, refetched) }) }
func (h *Hooks) ResponseSelfHealed(k, reason string) { h.try(func() { h.inner.ResponseSelfHealed(k, reason) }) }
func (h *Hooks) MutationRolledBack(m string, n int, err error) {
	h.try(func() { h.inner.MutationRolledBack(m, n, err) })
}
