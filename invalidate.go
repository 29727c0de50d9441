package querysync

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Bus marks cached entries stale and refetches the observed ones.
type Bus struct {
	store *Store
	exec  *Executor
	log   Logger
	hooks Hooks
}

// Invalidate marks every entry matched by m stale, keeping its data, and
// immediately refetches each matched key that has subscribers, ignoring stale
// time. It returns the matched keys.
func (b *Bus) Invalidate(m Matcher) []Key {
	keys, _ := b.invalidate(m)
	return keys
}

// InvalidateAndWait is Invalidate followed by waiting for every refetch it
// started. It returns the first refetch error; superseded refetches are not
// errors.
func (b *Bus) InvalidateAndWait(ctx context.Context, m Matcher) error {
	_, flights := b.invalidate(m)
	g, ctx := errgroup.WithContext(ctx)
	for _, f := range flights {
		g.Go(func() error {
			err := f.wait(ctx)
			if errors.Is(err, ErrCancelled) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

func (b *Bus) invalidate(m Matcher) ([]Key, []*flight) {
	if m == nil {
		return nil, nil
	}
	keys := b.store.Invalidate(m)

	// Observed keys without an entry (e.g. rolled back to absent) still
	// need their refetch.
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		seen[k.id] = struct{}{}
	}
	targets := keys
	for _, k := range b.exec.observed(m) {
		if _, ok := seen[k.id]; !ok {
			targets = append(targets, k)
		}
	}

	var flights []*flight
	for _, k := range targets {
		if f := b.exec.revalidate(k); f != nil {
			flights = append(flights, f)
		}
	}
	b.hooks.Invalidated(len(keys), len(flights))
	if len(keys) > 0 || len(flights) > 0 {
		b.log.Debug("invalidated", Fields{"matched": len(keys), "refetched": len(flights)})
	}
	return keys, flights
}
