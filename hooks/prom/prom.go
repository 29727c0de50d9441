// Package promhooks exports querysync events as Prometheus metrics. Keys are
// never used as labels; only mutation names, outcomes and heal reasons are.
package promhooks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/querysync"
)

type Hooks struct {
	fetches       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	polls         prometheus.Counter
	optimistic    *prometheus.CounterVec
	mutations     *prometheus.CounterVec
	rolledBack    *prometheus.CounterVec
	invalidated   *prometheus.CounterVec
	selfHeals     *prometheus.CounterVec
}

var _ querysync.Hooks = (*Hooks)(nil)

// New registers the collectors on reg under namespace.
func New(reg prometheus.Registerer, namespace string) (*Hooks, error) {
	h := &Hooks{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Query fetches by outcome.",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of successful query fetches.",
			Buckets:   prometheus.DefBuckets,
		}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Poll timer firings.",
		}),
		optimistic: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimistic_entries_total",
			Help:      "Entries written optimistically before a remote call.",
		}, []string{"mutation"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Settled mutations by outcome.",
		}, []string{"mutation", "outcome"}),
		rolledBack: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rolled_back_entries_total",
			Help:      "Entries restored from snapshots after a failed mutation.",
		}, []string{"mutation"}),
		invalidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidated_entries_total",
			Help:      "Entries marked stale, and the subset refetched.",
		}, []string{"kind"}),
		selfHeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_self_heals_total",
			Help:      "Cached responses dropped on read.",
		}, []string{"reason"}),
	}
	for _, c := range []prometheus.Collector{
		h.fetches, h.fetchDuration, h.polls, h.optimistic,
		h.mutations, h.rolledBack, h.invalidated, h.selfHeals,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) FetchStarted(_ string, _ uint64, forced bool) {
	if forced {
		h.fetches.WithLabelValues("forced").Inc()
		return
	}
	h.fetches.WithLabelValues("started").Inc()
}

func (h *Hooks) FetchDeduplicated(string) { h.fetches.WithLabelValues("deduplicated").Inc() }

func (h *Hooks) FetchSucceeded(_ string, took time.Duration) {
	h.fetches.WithLabelValues("succeeded").Inc()
	h.fetchDuration.Observe(took.Seconds())
}

func (h *Hooks) FetchFailed(string, error)     { h.fetches.WithLabelValues("failed").Inc() }
func (h *Hooks) FetchDiscarded(string, uint64) { h.fetches.WithLabelValues("discarded").Inc() }
func (h *Hooks) PollTick(string)               { h.polls.Inc() }

func (h *Hooks) OptimisticApplied(mutation string, n int) {
	h.optimistic.WithLabelValues(mutation).Add(float64(n))
}

func (h *Hooks) MutationCommitted(mutation string, _ int) {
	h.mutations.WithLabelValues(mutation, "committed").Inc()
}

func (h *Hooks) MutationRolledBack(mutation string, n int, _ error) {
	h.mutations.WithLabelValues(mutation, "rolled_back").Inc()
	h.rolledBack.WithLabelValues(mutation).Add(float64(n))
}

func (h *Hooks) Invalidated(matched, refetched int) {
	h.invalidated.WithLabelValues("matched").Add(float64(matched))
	h.invalidated.WithLabelValues("refetched").Add(float64(refetched))
}

func (h *Hooks) ResponseSelfHealed(_, reason string) { h.selfHeals.WithLabelValues(reason).Inc() }
