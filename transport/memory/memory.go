// Package memory is an in-process ticket API. It answers the same resources
// as the HTTP API and is used by the CLI's demo mode and by tests.
package memory

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/querysync"
	"github.com/unkn0wn-root/querysync/codec"
	"github.com/unkn0wn-root/querysync/inbox"
	"github.com/unkn0wn-root/querysync/transport"
)

// Agent authors the notes created through the API.
var Agent = inbox.Author{Name: "Support Agent", Email: "agent@example.com"}

type Options struct {
	Format  codec.Format     // response encoding; "" => json
	Latency time.Duration    // added to every call
	Now     func() time.Time // nil => time.Now
}

// Server holds tickets and notes in memory. Tickets are kept newest first.
type Server struct {
	format codec.Format
	now    func() time.Time

	mu       sync.Mutex
	latency  time.Duration
	tickets  []inbox.Ticket
	notes    map[string][]inbox.Note
	failures map[string][]error
	calls    map[string]int
}

func New(opts Options) *Server {
	s := &Server{
		format:   opts.Format,
		now:      opts.Now,
		latency:  opts.Latency,
		notes:    make(map[string][]inbox.Note),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
	if s.format == "" {
		s.format = codec.FormatJSON
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Add stores t, assigning an id and creation time when missing, and returns
// the stored ticket.
func (s *Server) Add(t inbox.Ticket) inbox.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	if t.Status == "" {
		t.Status = inbox.StatusOpen
	}
	if t.Priority == "" {
		t.Priority = inbox.PriorityMedium
	}
	t.Updating = false
	i, _ := slices.BinarySearchFunc(s.tickets, t, func(a, b inbox.Ticket) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	s.tickets = slices.Insert(s.tickets, i, t)
	return t
}

// AddNote stores a note on ticket id as written by author.
func (s *Server) AddNote(id string, author inbox.Author, text string) inbox.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addNoteLocked(id, author, text)
}

// FailNext makes the next call on resource return err. Calls queue up.
func (s *Server) FailNext(resource string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resource = strings.Trim(resource, "/")
	s.failures[resource] = append(s.failures[resource], err)
}

func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// Calls reports how many calls reached resource.
func (s *Server) Calls(resource string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[strings.Trim(resource, "/")]
}

// Get returns the stored ticket id.
func (s *Server) Get(id string) (inbox.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return inbox.Ticket{}, false
	}
	return s.tickets[i], true
}

func (s *Server) Fetch(ctx context.Context, resource string, params transport.Params) (transport.Response, error) {
	r, id, err := s.begin(ctx, resource)
	if err != nil {
		return transport.Response{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r {
	case routeTickets:
		return s.respond(http.StatusOK, s.list(params))
	case routeTicket:
		i := s.index(id)
		if i < 0 {
			return transport.Response{}, notFound()
		}
		return s.respond(http.StatusOK, s.tickets[i])
	case routeNotes:
		if s.index(id) < 0 {
			return transport.Response{}, notFound()
		}
		notes := slices.Clone(s.notes[id])
		if notes == nil {
			notes = []inbox.Note{}
		}
		return s.respond(http.StatusOK, notes)
	default:
		return transport.Response{}, &querysync.ServerError{Status: http.StatusNotFound, Message: "Not found"}
	}
}

func (s *Server) Send(ctx context.Context, op transport.Op, resource string, body transport.Payload) (transport.Response, error) {
	r, id, err := s.begin(ctx, resource)
	if err != nil {
		return transport.Response{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case r == routeTicket && op == transport.OpUpdate:
		var upd inbox.TicketUpdate
		if err := decodeBody(body, &upd); err != nil {
			return transport.Response{}, err
		}
		if msg := validate(upd); msg != "" {
			return transport.Response{}, &querysync.ServerError{Status: http.StatusBadRequest, Message: msg}
		}
		i := s.index(id)
		if i < 0 {
			return transport.Response{}, notFound()
		}
		t := &s.tickets[i]
		if upd.Status != "" {
			t.Status = upd.Status
		}
		if upd.Priority != "" {
			t.Priority = upd.Priority
		}
		return s.respond(http.StatusOK, inbox.UpdateResponse{Message: "Ticket updated successfully", Ticket: t})

	case r == routeTicket && op == transport.OpDelete:
		i := s.index(id)
		if i < 0 {
			return transport.Response{}, notFound()
		}
		s.tickets = slices.Delete(s.tickets, i, i+1)
		delete(s.notes, id)
		return s.respond(http.StatusOK, map[string]string{"message": "Ticket deleted successfully"})

	case r == routeNotes && op == transport.OpCreate:
		var in struct {
			Text string `json:"text"`
		}
		if err := decodeBody(body, &in); err != nil {
			return transport.Response{}, err
		}
		if strings.TrimSpace(in.Text) == "" {
			return transport.Response{}, &querysync.ServerError{Status: http.StatusBadRequest, Message: "Note text is required"}
		}
		if s.index(id) < 0 {
			return transport.Response{}, notFound()
		}
		return s.respond(http.StatusCreated, s.addNoteLocked(id, Agent, in.Text))

	default:
		return transport.Response{}, &querysync.ServerError{Status: http.StatusMethodNotAllowed, Message: "Method not allowed"}
	}
}

type route uint8

const (
	routeUnknown route = iota
	routeTickets
	routeTicket
	routeNotes
)

func parseRoute(resource string) (route, string) {
	parts := strings.Split(resource, "/")
	if parts[0] != "tickets" {
		return routeUnknown, ""
	}
	switch {
	case len(parts) == 1:
		return routeTickets, ""
	case len(parts) == 2 && parts[1] != "":
		return routeTicket, parts[1]
	case len(parts) == 3 && parts[1] != "" && parts[2] == "notes":
		return routeNotes, parts[1]
	default:
		return routeUnknown, ""
	}
}

// begin counts the call, waits out the latency and pops a programmed
// failure.
func (s *Server) begin(ctx context.Context, resource string) (route, string, error) {
	resource = strings.Trim(resource, "/")
	s.mu.Lock()
	s.calls[resource]++
	latency := s.latency
	var fail error
	if q := s.failures[resource]; len(q) > 0 {
		fail = q[0]
		if len(q) == 1 {
			delete(s.failures, resource)
		} else {
			s.failures[resource] = q[1:]
		}
	}
	s.mu.Unlock()

	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return routeUnknown, "", ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return routeUnknown, "", err
	}
	if fail != nil {
		return routeUnknown, "", fail
	}
	r, id := parseRoute(resource)
	return r, id, nil
}

func (s *Server) list(params transport.Params) inbox.TicketPage {
	page := positive(params["page"], inbox.DefaultPage)
	limit := positive(params["limit"], inbox.DefaultLimit)
	status, priority := params["status"], params["priority"]
	search := strings.ToLower(strings.TrimSpace(params["search"]))

	var match []inbox.Ticket
	for _, t := range s.tickets {
		if status != "" && t.Status != status {
			continue
		}
		if priority != "" && t.Priority != priority {
			continue
		}
		if search != "" && !containsFold(search, t.Title, t.Description, t.CustomerEmail) {
			continue
		}
		match = append(match, t)
	}

	from := min((page-1)*limit, len(match))
	to := min(from+limit, len(match))
	out := slices.Clone(match[from:to])
	if out == nil {
		out = []inbox.Ticket{}
	}
	return inbox.TicketPage{Tickets: out, Pagination: inbox.NewPagination(page, limit, len(match))}
}

func (s *Server) addNoteLocked(id string, author inbox.Author, text string) inbox.Note {
	n := inbox.Note{ID: uuid.NewString(), Text: text, Author: author, CreatedAt: s.now()}
	s.notes[id] = append([]inbox.Note{n}, s.notes[id]...)
	return n
}

func (s *Server) index(id string) int {
	return slices.IndexFunc(s.tickets, func(t inbox.Ticket) bool { return t.ID == id })
}

func (s *Server) respond(status int, v any) (transport.Response, error) {
	b, err := codec.For[any](s.format).Encode(v)
	if err != nil {
		return transport.Response{}, &querysync.ServerError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
	return transport.Response{Status: status, ContentType: s.format.ContentType(), Body: b}, nil
}

func decodeBody[T any](p transport.Payload, dst *T) error {
	v, err := transport.Decode[T](transport.Response{ContentType: p.ContentType, Body: p.Body})
	if err != nil {
		return &querysync.ServerError{Status: http.StatusBadRequest, Message: "Invalid request body"}
	}
	*dst = v
	return nil
}

func validate(u inbox.TicketUpdate) string {
	switch u.Status {
	case "", inbox.StatusOpen, inbox.StatusPending, inbox.StatusResolved:
	default:
		return "Invalid status"
	}
	switch u.Priority {
	case "", inbox.PriorityLow, inbox.PriorityMedium, inbox.PriorityHigh:
	default:
		return "Invalid priority"
	}
	if u.Status == "" && u.Priority == "" {
		return "Nothing to update"
	}
	return ""
}

func notFound() error {
	return &querysync.ServerError{Status: http.StatusNotFound, Message: "Ticket not found"}
}

func positive(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func containsFold(needle string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}
