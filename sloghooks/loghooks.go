// Package sloghooks reports querysync events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/querysync"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	PollTickEvery uint64
	FetchEvery    uint64
	// Optional key redactor. Defaults to SHA-256 prefix. Storage keys carry
	// query parameters such as search terms.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	pollCtr  atomic.Uint64
	fetchCtr atomic.Uint64
}

var _ querysync.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) FetchStarted(key string, gen uint64, forced bool) {
	if h.l == nil || !sample(h.opts.FetchEvery, &h.fetchCtr) {
		return
	}
	h.l.Debug("querysync.fetch_started",
		"key", h.redact(key),
		"gen", gen,
		"forced", forced)
}

func (h *Hooks) FetchDeduplicated(key string) {
	if h.l == nil || !sample(h.opts.FetchEvery, &h.fetchCtr) {
		return
	}
	h.l.Debug("querysync.fetch_deduplicated", "key", h.redact(key))
}

func (h *Hooks) FetchSucceeded(key string, took time.Duration) {
	if h.l == nil || !sample(h.opts.FetchEvery, &h.fetchCtr) {
		return
	}
	h.l.Debug("querysync.fetch_succeeded",
		"key", h.redact(key),
		"took", took)
}

func (h *Hooks) FetchFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("querysync.fetch_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) FetchDiscarded(key string, gen uint64) {
	if h.l == nil {
		return
	}
	h.l.Debug("querysync.fetch_discarded",
		"key", h.redact(key),
		"gen", gen)
}

func (h *Hooks) PollTick(key string) {
	if h.l == nil || !sample(h.opts.PollTickEvery, &h.pollCtr) {
		return
	}
	h.l.Debug("querysync.poll_tick", "key", h.redact(key))
}

func (h *Hooks) OptimisticApplied(mutation string, n int) {
	if h.l == nil {
		return
	}
	h.l.Debug("querysync.optimistic_applied",
		"mutation", mutation,
		"entries", n)
}

func (h *Hooks) MutationCommitted(mutation string, n int) {
	if h.l == nil {
		return
	}
	h.l.Info("querysync.mutation_committed",
		"mutation", mutation,
		"entries", n)
}

func (h *Hooks) MutationRolledBack(mutation string, n int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("querysync.mutation_rolled_back",
		"mutation", mutation,
		"entries", n,
		"err", err)
}

func (h *Hooks) Invalidated(matched, refetched int) {
	if h.l == nil {
		return
	}
	h.l.Debug("querysync.invalidated",
		"matched", matched,
		"refetched", refetched)
}

func (h *Hooks) ResponseSelfHealed(storageKey, reason string) {
	if h.l == nil {
		return
	}
	h.l.Debug("querysync.response_self_healed",
		"key", h.redact(storageKey),
		"reason", reason)
}
