// Package cached puts a generation-safe response cache in front of a
// transport.Transport.
//
// Each resource has a generation, bumped on every write to it or to one of
// its descendants. A cached response is stored with the generation of its
// lineage observed before the fetch, and is written only if that generation
// still holds afterwards. Reads drop responses whose generation moved, whose
// frame is corrupt or whose age exceeds the TTL.
package cached

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/querysync"
	"github.com/unkn0wn-root/querysync/genstore"
	"github.com/unkn0wn-root/querysync/internal/wire"
	"github.com/unkn0wn-root/querysync/provider"
	"github.com/unkn0wn-root/querysync/transport"
)

const (
	defaultTTL          = time.Minute
	defaultGenRetention = 30 * 24 * time.Hour
	defaultSweep        = time.Hour
)

// SetCostFunc weighs a stored frame for cost-aware providers.
type SetCostFunc func(storageKey string, raw []byte) int64

// Options tune the cache. Only Namespace and Provider are required.
type Options struct {
	Namespace string // isolates keys of different APIs sharing a provider
	Provider  provider.Provider

	GenStore        genstore.GenStore // nil => LocalGenStore
	TTL             time.Duration     // 0 => 1m
	CleanupInterval time.Duration     // LocalGenStore sweep; 0 => 1h
	GenRetention    time.Duration     // LocalGenStore retention; 0 => 30d
	ComputeSetCost  SetCostFunc       // nil => len(raw)
	Logger          querysync.Logger
	Hooks           querysync.Hooks
	Now             func() time.Time
}

var (
	errNoProvider  = errors.New("cached: provider is required")
	errNoNamespace = errors.New("cached: namespace is required")
)

type Transport struct {
	next  transport.Transport
	ns    string
	p     provider.Provider
	gen   genstore.GenStore
	ttl   time.Duration
	cost  SetCostFunc
	log   querysync.Logger
	hooks querysync.Hooks
	now   func() time.Time
	once  sync.Once
}

var _ transport.Transport = (*Transport)(nil)

func New(next transport.Transport, opts Options) (*Transport, error) {
	if opts.Provider == nil {
		return nil, errNoProvider
	}
	if opts.Namespace == "" {
		return nil, errNoNamespace
	}
	t := &Transport{
		next:  next,
		ns:    opts.Namespace,
		p:     opts.Provider,
		gen:   opts.GenStore,
		ttl:   opts.TTL,
		cost:  opts.ComputeSetCost,
		log:   opts.Logger,
		hooks: opts.Hooks,
		now:   opts.Now,
	}
	if t.ttl <= 0 {
		t.ttl = defaultTTL
	}
	if t.cost == nil {
		t.cost = func(_ string, raw []byte) int64 { return int64(len(raw)) }
	}
	if t.log == nil {
		t.log = querysync.NopLogger{}
	}
	if t.hooks == nil {
		t.hooks = querysync.NopHooks{}
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.gen == nil {
		sweep, keep := opts.CleanupInterval, opts.GenRetention
		if sweep <= 0 {
			sweep = defaultSweep
		}
		if keep <= 0 {
			keep = defaultGenRetention
		}
		t.gen = genstore.NewLocalGenStore(sweep, keep)
	}
	return t, nil
}

// Fetch serves resource from the cache or fetches it from the wrapped
// transport and stores the response.
func (t *Transport) Fetch(ctx context.Context, resource string, params transport.Params) (transport.Response, error) {
	k := t.storageKey(resource, params)
	if resp, ok := t.get(ctx, k, resource); ok {
		return resp, nil
	}

	obs, err := t.snapshot(ctx, resource)
	resp, ferr := t.next.Fetch(ctx, resource, params)
	if ferr != nil {
		return resp, ferr
	}
	if err != nil {
		t.log.Warn("gen snapshot error, response not cached", querysync.Fields{"key": k, "err": err})
		return resp, nil
	}
	t.setWithGen(ctx, k, resource, resp, obs)
	return resp, nil
}

// Send forwards the write and then invalidates the resource's lineage. The
// lineage is invalidated even when the write fails, since a failed write
// may still have been applied.
func (t *Transport) Send(ctx context.Context, op transport.Op, resource string, body transport.Payload) (transport.Response, error) {
	resp, err := t.next.Send(ctx, op, resource, body)
	if ierr := t.Invalidate(context.WithoutCancel(ctx), resource); ierr != nil {
		t.log.Error("response cache invalidation failed", querysync.Fields{"resource": resource, "op": op.String(), "err": ierr})
	}
	return resp, err
}

// Invalidate bumps the generation of resource and every parent and deletes
// their unparameterized entries. Only a failed bump is an error: parameterized
// variants can only be invalidated through the generation.
func (t *Transport) Invalidate(ctx context.Context, resource string) error {
	lineage := transport.Lineage(resource)
	if len(lineage) == 0 {
		return nil
	}
	gens, bumpErr := t.gen.BumpMany(ctx, lineage)

	var delErrs []error
	for _, r := range lineage {
		if err := t.p.Del(ctx, t.storageKey(r, nil)); err != nil {
			delErrs = append(delErrs, err)
		}
	}
	if bumpErr != nil {
		return &InvalidateError{Resource: resource, BumpErr: bumpErr, DelErr: errors.Join(delErrs...)}
	}
	t.log.Debug("invalidated resource (bumped gens + cleared bare entries)", querysync.Fields{"resource": resource, "gens": gens})
	return nil
}

// Close releases the generation store and the provider.
func (t *Transport) Close(ctx context.Context) error {
	var err error
	t.once.Do(func() {
		_ = t.gen.Close(ctx)
		err = t.p.Close(ctx)
	})
	return err
}

func (t *Transport) get(ctx context.Context, k, resource string) (transport.Response, bool) {
	raw, ok, err := t.p.Get(ctx, k)
	if err != nil {
		t.log.Warn("response cache read error", querysync.Fields{"key": k, "err": err})
		return transport.Response{}, false
	}
	if !ok {
		return transport.Response{}, false
	}
	f, err := wire.Decode(raw)
	if err != nil {
		t.heal(ctx, k, "corrupt")
		return transport.Response{}, false
	}
	cur, err := t.snapshot(ctx, resource)
	if err != nil {
		// Conservative: a generation we cannot read is never trusted.
		t.log.Warn("gen snapshot error", querysync.Fields{"key": k, "err": err})
		return transport.Response{}, false
	}
	if f.Gen != cur {
		t.heal(ctx, k, "gen_mismatch")
		return transport.Response{}, false
	}
	if t.now().Sub(f.StoredAt) > t.ttl {
		t.heal(ctx, k, "expired")
		return transport.Response{}, false
	}
	return transport.Response{Status: f.Status, ContentType: f.ContentType, Body: f.Body}, true
}

func (t *Transport) setWithGen(ctx context.Context, k, resource string, resp transport.Response, observed uint64) {
	cur, err := t.snapshot(ctx, resource)
	if err != nil || cur != observed {
		// a write landed while we were fetching; skip the stale response
		t.log.Debug("response not cached (gen moved)", querysync.Fields{"key": k, "obs": observed, "cur": cur})
		return
	}
	raw, err := wire.Encode(wire.Frame{
		Gen:         observed,
		StoredAt:    t.now(),
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Body:        resp.Body,
	})
	if err != nil {
		t.log.Warn("response not cached (unframeable)", querysync.Fields{"key": k, "err": err})
		return
	}
	ok, err := t.p.Set(ctx, k, raw, t.cost(k, raw), t.ttl)
	if err != nil {
		t.log.Warn("response cache write error", querysync.Fields{"key": k, "err": err})
		return
	}
	if !ok {
		t.log.Debug("response rejected by provider (pressure)", querysync.Fields{"key": k})
	}
}

// snapshot returns the lineage generation of resource: the sum of the
// generations of resource and its parents. Generations only grow, so any
// write along the lineage changes it.
func (t *Transport) snapshot(ctx context.Context, resource string) (uint64, error) {
	lineage := transport.Lineage(resource)
	gens, err := t.gen.SnapshotMany(ctx, lineage)
	if err != nil {
		return 0, err
	}
	var sum uint64
	for _, r := range lineage {
		sum += gens[r]
	}
	return sum, nil
}

func (t *Transport) heal(ctx context.Context, k, reason string) {
	_ = t.p.Del(ctx, k)
	t.hooks.ResponseSelfHealed(k, reason)
	t.log.Debug("cached response dropped", querysync.Fields{"key": k, "reason": reason})
}

func (t *Transport) storageKey(resource string, params transport.Params) string {
	return fmt.Sprintf("resp:%s:%s?%s", t.ns, resource, params.Encode())
}
