// Package inbox is the support-ticket inbox built on querysync: ticket list,
// detail and notes queries plus optimistic update, delete and add-note
// mutations.
package inbox

import (
	"context"
	"sync"
	"time"

	"go.trai.ch/zerr"

	"github.com/unkn0wn-root/querysync"
	"github.com/unkn0wn-root/querysync/codec"
	"github.com/unkn0wn-root/querysync/transport"
)

// ErrUnexpectedData is returned when a cached entry holds data of another
// type than the query produces.
var ErrUnexpectedData = zerr.New("unexpected cached data")

const (
	ListPollInterval = 10 * time.Second
	ListStaleTime    = 5 * time.Second
)

type Options struct {
	Format       codec.Format  // request body encoding; "" => json
	PollInterval time.Duration // list polling; 0 => ListPollInterval
	StaleTime    time.Duration // list staleness; 0 => ListStaleTime
	Notifier     Notifier
	Logger       querysync.Logger
	Now          func() time.Time
}

// Client runs inbox queries and mutations against one querysync client.
type Client struct {
	qc     *querysync.Client
	tr     transport.Transport
	format codec.Format
	poll   time.Duration
	stale  time.Duration
	notify Notifier
	log    querysync.Logger
	now    func() time.Time
}

func NewClient(qc *querysync.Client, tr transport.Transport, opts Options) *Client {
	c := &Client{
		qc:     qc,
		tr:     tr,
		format: opts.Format,
		poll:   opts.PollInterval,
		stale:  opts.StaleTime,
		notify: opts.Notifier,
		log:    opts.Logger,
		now:    opts.Now,
	}
	if c.format == "" {
		c.format = codec.FormatJSON
	}
	if c.poll <= 0 {
		c.poll = ListPollInterval
	}
	if c.stale <= 0 {
		c.stale = ListStaleTime
	}
	if c.notify == nil {
		c.notify = NopNotifier{}
	}
	if c.log == nil {
		c.log = querysync.NopLogger{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// TicketList is a live ticket list. It polls while open and keeps showing the
// previous page while a new view loads.
type TicketList struct {
	c   *Client
	sub *querysync.Subscription

	mu   sync.Mutex
	view View
}

// Tickets opens the list for v. cb receives every change of the current
// page's entry and may be nil.
func (c *Client) Tickets(v View, cb func(querysync.Entry)) *TicketList {
	l := &TicketList{c: c, view: v}
	l.sub = c.qc.Query(TicketsKey(v), c.fetchTickets(v), querysync.QueryOptions{
		PollInterval:     c.poll,
		StaleTime:        c.stale,
		KeepPreviousData: true,
	}, cb)
	return l
}

func (l *TicketList) View() View {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.view
}

// ChangeView moves the list to v.
func (l *TicketList) ChangeView(v View) {
	l.mu.Lock()
	l.view = v
	l.mu.Unlock()
	l.c.log.Debug("ticket view changed", querysync.Fields{"params": v.Params().Encode()})
	l.sub.SetKey(TicketsKey(v), l.c.fetchTickets(v))
}

// Page returns the current page data, which may be the previous view's page
// while the new one loads (see Entry.Placeholder).
func (l *TicketList) Page() (TicketPage, bool) {
	return querysync.DataAs[TicketPage](l.sub.Result())
}

func (l *TicketList) Result() querysync.Entry { return l.sub.Result() }

func (l *TicketList) Refetch(ctx context.Context) error { return l.sub.Refetch(ctx) }

func (l *TicketList) Close() { l.sub.Close() }

// Ticket observes one ticket. An empty id yields a disabled query.
func (c *Client) Ticket(id string, cb func(querysync.Entry)) *querysync.Subscription {
	return c.qc.Query(TicketKey(id), c.fetchTicket(id), querysync.QueryOptions{Disabled: id == ""}, cb)
}

// Notes observes the notes of a ticket. An empty id yields a disabled query.
func (c *Client) Notes(ticketID string, cb func(querysync.Entry)) *querysync.Subscription {
	return c.qc.Query(NotesKey(ticketID), c.fetchNotes(ticketID), querysync.QueryOptions{Disabled: ticketID == ""}, cb)
}

// LoadTickets returns the list page of v, fetching it unless a fresh copy is
// cached. The page stays cached for later queries.
func (c *Client) LoadTickets(ctx context.Context, v View) (TicketPage, error) {
	return load[TicketPage](ctx, c.qc, TicketsKey(v), c.fetchTickets(v))
}

func (c *Client) LoadTicket(ctx context.Context, id string) (Ticket, error) {
	return load[Ticket](ctx, c.qc, TicketKey(id), c.fetchTicket(id))
}

func (c *Client) LoadNotes(ctx context.Context, ticketID string) ([]Note, error) {
	return load[[]Note](ctx, c.qc, NotesKey(ticketID), c.fetchNotes(ticketID))
}

func load[T any](ctx context.Context, qc *querysync.Client, key querysync.Key, fetcher querysync.Fetcher) (T, error) {
	var zero T
	if err := qc.Prefetch(ctx, key, fetcher); err != nil {
		return zero, err
	}
	e, _ := qc.Store().Get(key)
	if e.Err != nil && !e.HasData() {
		return zero, e.Err
	}
	v, ok := querysync.DataAs[T](e)
	if !ok {
		return zero, zerr.With(zerr.Wrap(ErrUnexpectedData, "load"), "key", key.String())
	}
	return v, nil
}

func (c *Client) fetchTickets(v View) querysync.Fetcher {
	params := v.Params()
	return querysync.FetchAs(func(ctx context.Context) (TicketPage, error) {
		return fetch[TicketPage](ctx, c.tr, "tickets", params)
	})
}

func (c *Client) fetchTicket(id string) querysync.Fetcher {
	return querysync.FetchAs(func(ctx context.Context) (Ticket, error) {
		return fetch[Ticket](ctx, c.tr, "tickets/"+id, nil)
	})
}

func (c *Client) fetchNotes(ticketID string) querysync.Fetcher {
	return querysync.FetchAs(func(ctx context.Context) ([]Note, error) {
		return fetch[[]Note](ctx, c.tr, "tickets/"+ticketID+"/notes", nil)
	})
}

func fetch[T any](ctx context.Context, tr transport.Transport, resource string, params transport.Params) (T, error) {
	resp, err := tr.Fetch(ctx, resource, params)
	if err != nil {
		var zero T
		return zero, err
	}
	return transport.Decode[T](resp)
}

func send[T any](ctx context.Context, c *Client, op transport.Op, resource string, body any) (T, error) {
	var zero T
	var p transport.Payload
	if body != nil {
		var err error
		if p, err = transport.Encode(c.format, body); err != nil {
			return zero, err
		}
	}
	resp, err := c.tr.Send(ctx, op, resource, p)
	if err != nil || len(resp.Body) == 0 {
		return zero, err
	}
	return transport.Decode[T](resp)
}
