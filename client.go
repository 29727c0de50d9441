package querysync

import (
	"context"
	"sync"
	"time"
)

// Options tune a Client. The zero value is usable.
type Options struct {
	Logger           Logger           // if nil, NopLogger is used
	Hooks            Hooks            // if nil, NopHooks is used
	DefaultStaleTime time.Duration    // used when QueryOptions.StaleTime is 0
	Now              func() time.Time // nil => time.Now
}

// Client bundles one Store with the Executor, Controller and Bus that
// operate on it. Clients share nothing; create one per isolated cache.
type Client struct {
	store *Store
	exec  *Executor
	ctrl  *Controller
	bus   *Bus
	log   Logger
	once  sync.Once
}

func New(opts Options) *Client {
	log := coalesce[Logger](opts.Logger, NopLogger{})
	hooks := coalesce[Hooks](opts.Hooks, NopHooks{})
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	store := NewStore()
	exec := newExecutor(store, log, hooks, now, coalesce(opts.DefaultStaleTime, DefaultStaleTime))
	bus := &Bus{store: store, exec: exec, log: log, hooks: hooks}
	ctrl := &Controller{store: store, exec: exec, bus: bus, log: log, hooks: hooks, now: now}
	return &Client{store: store, exec: exec, ctrl: ctrl, bus: bus, log: log}
}

func (c *Client) Store() *Store           { return c.store }
func (c *Client) Executor() *Executor     { return c.exec }
func (c *Client) Controller() *Controller { return c.ctrl }
func (c *Client) Bus() *Bus               { return c.bus }

// Query is shorthand for Executor().Query.
func (c *Client) Query(key Key, fetcher Fetcher, opts QueryOptions, cb func(Entry)) *Subscription {
	return c.exec.Query(key, fetcher, opts, cb)
}

// Prefetch is shorthand for Executor().Prefetch.
func (c *Client) Prefetch(ctx context.Context, key Key, fetcher Fetcher) error {
	return c.exec.Prefetch(ctx, key, fetcher)
}

// Invalidate is shorthand for Bus().Invalidate.
func (c *Client) Invalidate(m Matcher) []Key { return c.bus.Invalidate(m) }

// Dispose stops every poller, cancels in-flight fetches, waits for them to
// return and clears the store. It must not be called from a subscriber
// callback. Safe to call more than once.
func (c *Client) Dispose() {
	c.once.Do(func() {
		c.ctrl.disposed.Store(true)
		c.exec.dispose()
		c.store.Dispose()
		c.log.Debug("client disposed", nil)
	})
}
