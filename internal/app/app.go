// Package app wires configuration, transports, caches and hooks into an
// inbox client for the CLI.
package app

import (
	"context"
	"errors"
	"io"
	stdslog "log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/querysync"
	"github.com/unkn0wn-root/querysync/codec"
	"github.com/unkn0wn-root/querysync/config"
	"github.com/unkn0wn-root/querysync/genstore"
	asynchook "github.com/unkn0wn-root/querysync/hooks/async"
	promhooks "github.com/unkn0wn-root/querysync/hooks/prom"
	"github.com/unkn0wn-root/querysync/inbox"
	qlogrus "github.com/unkn0wn-root/querysync/log/logrus"
	qslog "github.com/unkn0wn-root/querysync/log/slog"
	qzap "github.com/unkn0wn-root/querysync/log/zap"
	"github.com/unkn0wn-root/querysync/provider"
	"github.com/unkn0wn-root/querysync/provider/bigcache"
	redisprov "github.com/unkn0wn-root/querysync/provider/redis"
	"github.com/unkn0wn-root/querysync/provider/ristretto"
	"github.com/unkn0wn-root/querysync/sloghooks"
	"github.com/unkn0wn-root/querysync/transport"
	"github.com/unkn0wn-root/querysync/transport/cached"
	"github.com/unkn0wn-root/querysync/transport/httpapi"
	"github.com/unkn0wn-root/querysync/transport/memory"
)

const userAgent = "inbox-cli/1"

// ErrMetricsServer is returned when the metrics endpoint cannot be served.
var ErrMetricsServer = zerr.New("metrics server failed")

type Options struct {
	ConfigPath  string
	Demo        bool   // use the in-memory API seeded with demo tickets
	MetricsAddr string // overrides metrics.addr when set
	Notifier    inbox.Notifier
	LogOutput   io.Writer
}

// App is one configured inbox session.
type App struct {
	cfg     config.Config
	log     querysync.Logger
	qc      *querysync.Client
	inbox   *inbox.Client
	reg     *prometheus.Registry
	metrics string
	closers []func(context.Context) error
}

func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	w := opts.LogOutput
	if w == nil {
		w = io.Discard
	}

	a := &App{cfg: cfg, metrics: cfg.Metrics.Addr}
	if a.log, err = a.newLogger(w); err != nil {
		return nil, err
	}
	hooks, err := a.newHooks(w)
	if err != nil {
		return nil, err
	}

	format, _ := codec.ParseFormat(cfg.API.Format)
	tr, err := a.newTransport(ctx, format, opts.Demo, hooks)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	a.qc = querysync.New(querysync.Options{Logger: a.log, Hooks: hooks})
	a.closers = append(a.closers, func(context.Context) error { a.qc.Dispose(); return nil })
	a.inbox = inbox.NewClient(a.qc, tr, inbox.Options{
		Format:       format,
		PollInterval: cfg.Query.PollInterval,
		StaleTime:    cfg.Query.StaleTime,
		Notifier:     opts.Notifier,
		Logger:       a.log,
	})
	return a, nil
}

func (a *App) newLogger(w io.Writer) (querysync.Logger, error) {
	lc := a.cfg.Log
	switch lc.Backend {
	case config.BackendZap:
		l, err := qzap.New(lc.Level, lc.Format)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { _ = l.Sync(); return nil })
		return l, nil
	case config.BackendLogrus:
		return qlogrus.New(w, lc.Level, lc.Format)
	default:
		return qslog.New(w, lc.Level, lc.Format)
	}
}

// newHooks reports events to slog at debug level and to Prometheus when a
// metrics address is configured, off the hot path.
func (a *App) newHooks(w io.Writer) (querysync.Hooks, error) {
	var hs fanout
	if a.cfg.Log.Level == "debug" {
		l := stdslog.New(stdslog.NewTextHandler(w, &stdslog.HandlerOptions{Level: stdslog.LevelDebug}))
		hs = append(hs, sloghooks.New(l, sloghooks.Options{PollTickEvery: 10}))
	}
	if a.metrics != "" {
		a.reg = prometheus.NewRegistry()
		ph, err := promhooks.New(a.reg, "inbox")
		if err != nil {
			return nil, err
		}
		hs = append(hs, ph)
	}
	if len(hs) == 0 {
		return querysync.NopHooks{}, nil
	}
	async := asynchook.New(hs, 1, 1024)
	a.closers = append(a.closers, func(context.Context) error { async.Close(); return nil })
	return async, nil
}

func (a *App) newTransport(ctx context.Context, format codec.Format, demo bool, hooks querysync.Hooks) (transport.Transport, error) {
	var tr transport.Transport
	if demo {
		srv := memory.New(memory.Options{Format: format, Latency: 150 * time.Millisecond})
		memory.Seed(srv)
		tr = srv
	} else {
		c, err := httpapi.New(httpapi.Config{
			BaseURL:   a.cfg.API.BaseURL,
			Token:     a.cfg.Token(),
			Timeout:   a.cfg.API.Timeout,
			Format:    format,
			UserAgent: userAgent,
		})
		if err != nil {
			return nil, err
		}
		tr = c
	}

	cc := a.cfg.Cache
	if cc.Provider == config.ProviderNone {
		return tr, nil
	}
	p, gs, err := newProvider(ctx, cc)
	if err != nil {
		return nil, err
	}
	ct, err := cached.New(tr, cached.Options{
		Namespace: cc.Namespace,
		Provider:  p,
		GenStore:  gs,
		TTL:       cc.TTL,
		Logger:    a.log,
		Hooks:     hooks,
	})
	if err != nil {
		_ = p.Close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, ct.Close)
	return ct, nil
}

// newProvider returns the byte store and, for redis, a shared generation
// store. A nil GenStore makes the cache keep generations in process.
func newProvider(ctx context.Context, cc config.Cache) (provider.Provider, genstore.GenStore, error) {
	switch cc.Provider {
	case config.ProviderRistretto:
		p, err := ristretto.New(ristretto.Config{MaxCost: cc.MaxBytes})
		return p, nil, err
	case config.ProviderBigcache:
		p, err := bigcache.New(ctx, bigcache.Config{
			LifeWindow:         cc.TTL,
			HardMaxCacheSizeMB: int(cc.MaxBytes >> 20),
		})
		return p, nil, err
	case config.ProviderRedis:
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cc.Redis.Addr,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
		})
		// the generation store owns rdb and closes it
		p, err := redisprov.New(redisprov.Config{Client: rdb})
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return p, genstore.NewRedisGenStore(rdb, cc.Namespace, 24*time.Hour), nil
	default:
		return nil, nil, zerr.With(zerr.Wrap(config.ErrInvalid, "cache.provider"), "value", cc.Provider)
	}
}

func (a *App) Config() config.Config { return a.cfg }

// DefaultView is the first page at the configured page size.
func (a *App) DefaultView() inbox.View { return inbox.DefaultView().SetLimit(a.cfg.Query.PageSize) }

func (a *App) ListTickets(ctx context.Context, v inbox.View) (inbox.TicketPage, error) {
	return a.inbox.LoadTickets(ctx, v)
}

// ShowTicket loads a ticket and its notes concurrently.
func (a *App) ShowTicket(ctx context.Context, id string) (inbox.Ticket, []inbox.Note, error) {
	var (
		t     inbox.Ticket
		notes []inbox.Note
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		t, err = a.inbox.LoadTicket(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		notes, err = a.inbox.LoadNotes(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return inbox.Ticket{}, nil, err
	}
	return t, notes, nil
}

func (a *App) UpdateTicket(ctx context.Context, id string, upd inbox.TicketUpdate) (inbox.UpdateResponse, error) {
	return a.inbox.UpdateTicket(ctx, id, upd)
}

func (a *App) AddNote(ctx context.Context, id, text string) (inbox.Note, error) {
	return a.inbox.AddNote(ctx, id, text)
}

func (a *App) DeleteTicket(ctx context.Context, id string) error {
	return a.inbox.DeleteTicket(ctx, id)
}

// Watch keeps the list of v open, polling it, and hands every change to fn
// until ctx is done. The metrics endpoint, when configured, is served for the
// duration.
func (a *App) Watch(ctx context.Context, v inbox.View, fn func(querysync.Entry)) error {
	g, gctx := errgroup.WithContext(ctx)
	if a.reg != nil {
		srv := &http.Server{
			Addr:              a.metrics,
			Handler:           promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return zerr.With(zerr.Wrap(ErrMetricsServer, err.Error()), "addr", a.metrics)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 2*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
		a.log.Info("serving metrics", querysync.Fields{"addr": a.metrics})
	}

	l := a.inbox.Tickets(v, fn)
	defer l.Close()
	<-gctx.Done()
	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
