package app

import (
	"time"

	"github.com/unkn0wn-root/querysync"
)

// fanout delivers every event to each hook in order.
type fanout []querysync.Hooks

var _ querysync.Hooks = fanout(nil)

func (f fanout) FetchStarted(k string, gen uint64, forced bool) {
	for _, h := range f {
		h.FetchStarted(k, gen, forced)
	}
}

func (f fanout) FetchDeduplicated(k string) {
	for _, h := range f {
		h.FetchDeduplicated(k)
	}
}

func (f fanout) FetchSucceeded(k string, took time.Duration) {
	for _, h := range f {
		h.FetchSucceeded(k, took)
	}
}

func (f fanout) FetchFailed(k string, err error) {
	for _, h := range f {
		h.FetchFailed(k, err)
	}
}

func (f fanout) FetchDiscarded(k string, gen uint64) {
	for _, h := range f {
		h.FetchDiscarded(k, gen)
	}
}

func (f fanout) PollTick(k string) {
	for _, h := range f {
		h.PollTick(k)
	}
}

func (f fanout) OptimisticApplied(m string, n int) {
	for _, h := range f {
		h.OptimisticApplied(m, n)
	}
}

func (f fanout) MutationCommitted(m string, n int) {
	for _, h := range f {
		h.MutationCommitted(m, n)
	}
}

func (f fanout) MutationRolledBack(m string, n int, err error) {
	for _, h := range f {
		h.MutationRolledBack(m, n, err)
	}
}

func (f fanout) Invalidated(matched, refetched int) {
	for _, h := range f {
		h.Invalidated(matched, refetched)
	}
}

func (f fanout) ResponseSelfHealed(k, reason string) {
	for _, h := range f {
		h.ResponseSelfHealed(k, reason)
	}
}
