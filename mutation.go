package querysync

import (
	"context"
	"sync/atomic"
	"time"
)

// Patch describes the optimistic change of a mutation.
//
// Apply and Settle run inside the store's critical section. They must be pure
// functions of their arguments and must not call back into the Store or the
// Client, which would deadlock.
type Patch struct {
	// Keys are the entries the mutation affects.
	Keys []Key
	// Match adds every cached key it selects at pre-flight time, e.g. all
	// cached pages of a collection.
	Match Matcher

	// Apply returns the optimistic data for one key. data is nil when the key
	// holds no entry. Returning false leaves the key untouched.
	Apply func(key Key, data any) (any, bool)

	// Settle clears transient flags (updating, optimistic) from data when the
	// response could not be merged into an entry. Nil leaves data as is.
	Settle func(key Key, data any) any
}

// MutationConfig wires one mutation. Only Remote is required.
//
// Commit runs with the store locked, like Patch.Apply, and must not touch
// the Store or the Client. The On* callbacks run unlocked.
type MutationConfig[Req, Resp any] struct {
	Name string // used in logs, hooks and errors

	Remote     func(ctx context.Context, req Req) (Resp, error)
	Optimistic func(req Req) Patch

	// Commit merges the authoritative response into one affected entry. data
	// is the entry's current data (nil when absent). Declining, or returning
	// nil, falls back to Patch.Settle.
	Commit func(resp Resp, req Req, key Key, data any) (any, bool)

	OnSuccess func(resp Resp, req Req)
	OnError   func(err error, req Req)
	OnSettled func(resp *Resp, err error, req Req)

	// Invalidate lists extra matchers refetched after the mutation settles,
	// on top of the affected keys.
	Invalidate []Matcher
}

// MutationState is the terminal state of a mutation.
type MutationState uint8

const (
	StateCommitted MutationState = iota + 1
	StateRolledBack
)

func (s MutationState) String() string {
	switch s {
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Outcome reports how a mutation ended.
type Outcome[Resp any] struct {
	Response Resp
	Err      error
	State    MutationState
	Keys     []Key // affected keys, in pre-flight order
}

func (o Outcome[Resp]) RolledBack() bool { return o.State == StateRolledBack }

// Controller runs mutations against a Store, pausing the executor's fetches
// for affected keys while the remote call is pending.
type Controller struct {
	store    *Store
	exec     *Executor
	bus      *Bus
	log      Logger
	hooks    Hooks
	now      func() time.Time
	disposed atomic.Bool
}

type snapshot struct {
	entry  Entry
	exists bool
}

// Mutate runs one mutation:
//
//  1. hold every affected key (cancelling in-flight fetches) and snapshot it
//  2. write the optimistic data
//  3. call Remote
//  4. on success merge the response (Commit, else Settle) and call OnSuccess
//  5. on failure restore every touched entry to its snapshot and call OnError
//  6. call OnSettled, release the holds and invalidate the affected keys
func Mutate[Req, Resp any](ctx context.Context, c *Controller, req Req, cfg MutationConfig[Req, Resp]) Outcome[Resp] {
	var out Outcome[Resp]
	if c.disposed.Load() {
		out.State = StateRolledBack
		out.Err = ErrDisposed
		return out
	}
	name := coalesce(cfg.Name, "mutation")

	var patch Patch
	if cfg.Optimistic != nil {
		patch = cfg.Optimistic(req)
	}
	keys := c.affected(patch)
	out.Keys = keys

	// 1. pre-flight
	releases := make([]func(), 0, len(keys))
	snaps := make(map[string]snapshot, len(keys))
	for _, k := range keys {
		releases = append(releases, c.exec.Hold(k))
		e, ok := c.store.Get(k)
		snaps[k.id] = snapshot{entry: e, exists: ok}
	}
	defer func() {
		for _, release := range releases {
			release()
		}
	}()

	// 2. optimistic apply
	var touched []Key
	if patch.Apply != nil {
		for _, k := range keys {
			applied := c.store.Update(k, func(prev Entry, exists bool) (Entry, bool) {
				var data any
				if exists {
					data = prev.Data
				}
				nd, ok := patch.Apply(k, data)
				if !ok {
					return prev, false
				}
				next := prev
				if !exists {
					next = Entry{Status: StatusSuccess, UpdatedAt: c.now()}
				}
				next.Data = nd
				return next, true
			})
			if applied {
				touched = append(touched, k)
			}
		}
		if len(touched) > 0 {
			c.hooks.OptimisticApplied(name, len(touched))
		}
	}

	// 3. remote
	resp, err := cfg.Remote(ctx, req)

	if err == nil {
		// 4. commit
		wasTouched := make(map[string]bool, len(touched))
		for _, k := range touched {
			wasTouched[k.id] = true
		}
		merged := 0
		for _, k := range keys {
			if commitKey(c, k, wasTouched[k.id], resp, req, cfg, patch, name) {
				merged++
			}
		}
		out.Response = resp
		out.State = StateCommitted
		c.hooks.MutationCommitted(name, merged)
		if cfg.OnSuccess != nil {
			cfg.OnSuccess(resp, req)
		}
	} else {
		// 5. rollback
		for _, k := range touched {
			snap := snaps[k.id]
			if snap.exists {
				c.store.Set(k, func(Entry, bool) Entry { return snap.entry })
			} else {
				c.store.Remove(k)
			}
		}
		out.State = StateRolledBack
		out.Err = &MutationError{Name: name, RolledBack: len(touched), Err: err}
		c.hooks.MutationRolledBack(name, len(touched), err)
		c.log.Warn("mutation rolled back", Fields{"mutation": name, "entries": len(touched), "err": err})
		if cfg.OnError != nil {
			cfg.OnError(err, req)
		}
	}

	// 6. settle
	if cfg.OnSettled != nil {
		var rp *Resp
		if err == nil {
			rp = &resp
		}
		cfg.OnSettled(rp, err, req)
	}
	for _, release := range releases {
		release()
	}
	releases = nil

	ms := append([]Matcher{Exact(keys...)}, cfg.Invalidate...)
	c.bus.Invalidate(Any(ms...))
	return out
}

// commitKey merges resp into k and reports whether k was written. When Commit
// declines an optimistically touched entry, Patch.Settle clears its transient
// flags and the settle-time invalidation repairs the data from the server.
func commitKey[Req, Resp any](c *Controller, k Key, touched bool, resp Resp, req Req, cfg MutationConfig[Req, Resp], patch Patch, name string) bool {
	declined := false
	wrote := c.store.Update(k, func(prev Entry, exists bool) (Entry, bool) {
		var data any
		if exists {
			data = prev.Data
		}
		var nd any
		ok := false
		if cfg.Commit != nil {
			nd, ok = cfg.Commit(resp, req, k, data)
		}
		if ok && nd != nil {
			next := prev
			if !exists {
				next = Entry{Status: StatusSuccess}
			}
			next.Data = nd
			next.UpdatedAt = c.now()
			return next, true
		}
		if !touched || !exists || prev.Data == nil {
			return prev, false
		}
		declined = cfg.Commit != nil
		if patch.Settle == nil {
			return prev, false
		}
		if nd = patch.Settle(k, prev.Data); nd == nil {
			return prev, false
		}
		next := prev
		next.Data = nd
		return next, true
	})
	if declined {
		c.log.Warn("mutation response not merged, keeping settled data", Fields{"mutation": name, "key": k.str})
	}
	return wrote
}

func (c *Controller) affected(p Patch) []Key {
	seen := make(map[string]struct{}, len(p.Keys))
	var keys []Key
	add := func(k Key) {
		if _, dup := seen[k.id]; dup {
			return
		}
		seen[k.id] = struct{}{}
		keys = append(keys, k)
	}
	for _, k := range p.Keys {
		add(k)
	}
	if p.Match != nil {
		for _, k := range c.store.Keys(p.Match) {
			add(k)
		}
	}
	return keys
}
