package querysync

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The executor and controller call them on hot paths.
type Hooks interface {
	// A fetch was issued. forced is true for invalidation and explicit refetch.
	FetchStarted(key string, gen uint64, forced bool)

	// A fetch request joined an existing in-flight fetch.
	FetchDeduplicated(key string)

	// A fetch settled and was written to the cache.
	FetchSucceeded(key string, took time.Duration)

	// A fetch failed; last-known data was kept.
	FetchFailed(key string, err error)

	// A fetch settled after its generation was superseded; result dropped.
	FetchDiscarded(key string, gen uint64)

	// A poll timer fired for key.
	PollTick(key string)

	// Optimistic data was written to n entries before the remote call.
	OptimisticApplied(mutation string, n int)

	// The remote call succeeded and n entries were reconciled.
	MutationCommitted(mutation string, n int)

	// The remote call failed and n entries were restored from snapshots.
	MutationRolledBack(mutation string, n int, err error)

	// An invalidation marked matched entries stale and refetched the observed ones.
	Invalidated(matched, refetched int)

	// A cached response was dropped on read.
	// reason ∈ {"corrupt", "gen_mismatch", "expired"}
	ResponseSelfHealed(storageKey, reason string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) FetchStarted(string, uint64, bool)     {}
func (NopHooks) FetchDeduplicated(string)              {}
func (NopHooks) FetchSucceeded(string, time.Duration)  {}
func (NopHooks) FetchFailed(string, error)             {}
func (NopHooks) FetchDiscarded(string, uint64)         {}
func (NopHooks) PollTick(string)                       {}
func (NopHooks) OptimisticApplied(string, int)         {}
func (NopHooks) MutationCommitted(string, int)         {}
func (NopHooks) MutationRolledBack(string, int, error) {}
func (NopHooks) Invalidated(int, int)                  {}
func (NopHooks) ResponseSelfHealed(string, string)     {}
