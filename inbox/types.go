package inbox

import (
	"slices"
	"time"
)

const (
	StatusOpen     = "open"
	StatusPending  = "pending"
	StatusResolved = "resolved"

	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Ticket is a support ticket as served by the API. Updating is a client-side
// flag set while an optimistic update is pending.
type Ticket struct {
	ID            string    `json:"_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	CustomerEmail string    `json:"customer_email"`
	Status        string    `json:"status"`
	Priority      string    `json:"priority"`
	CreatedAt     time.Time `json:"created_at"`
	Updating      bool      `json:"updating,omitempty"`
}

type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// NewPagination derives page counts for total items.
func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: pages,
		HasNext:    page < pages,
		HasPrev:    page > 1,
	}
}

// TicketPage is one page of the ticket list.
type TicketPage struct {
	Tickets    []Ticket   `json:"tickets"`
	Pagination Pagination `json:"pagination"`
}

// Find returns the ticket with id.
func (p TicketPage) Find(id string) (Ticket, bool) {
	i := slices.IndexFunc(p.Tickets, func(t Ticket) bool { return t.ID == id })
	if i < 0 {
		return Ticket{}, false
	}
	return p.Tickets[i], true
}

// withTicket returns a copy of p with fn applied to ticket id. The cached
// page is never modified in place.
func (p TicketPage) withTicket(id string, fn func(*Ticket)) TicketPage {
	out := p
	out.Tickets = slices.Clone(p.Tickets)
	for i := range out.Tickets {
		if out.Tickets[i].ID == id {
			fn(&out.Tickets[i])
		}
	}
	return out
}

// without returns a copy of p without ticket id and with totals adjusted.
func (p TicketPage) without(id string) TicketPage {
	out := p
	out.Tickets = slices.DeleteFunc(slices.Clone(p.Tickets), func(t Ticket) bool { return t.ID == id })
	if removed := len(p.Tickets) - len(out.Tickets); removed > 0 {
		pg := p.Pagination
		out.Pagination = NewPagination(pg.Page, pg.Limit, max(pg.Total-removed, 0))
	}
	return out
}

// Author is the user who wrote a note.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Note is an internal note on a ticket. Optimistic marks a note that has not
// been confirmed by the server yet.
type Note struct {
	ID         string    `json:"_id"`
	Text       string    `json:"text"`
	Author     Author    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	Optimistic bool      `json:"optimistic,omitempty"`
}

// TicketUpdate is a partial update; empty fields are left unchanged.
type TicketUpdate struct {
	Status   string `json:"status,omitempty"`
	Priority string `json:"priority,omitempty"`
}

func (u TicketUpdate) applyTo(t *Ticket) {
	if u.Status != "" {
		t.Status = u.Status
	}
	if u.Priority != "" {
		t.Priority = u.Priority
	}
}

// UpdateResponse is the API's reply to a ticket update. Ticket is nil when
// the server omits it.
type UpdateResponse struct {
	Message string  `json:"message"`
	Ticket  *Ticket `json:"ticket"`
}

type newNote struct {
	Text string `json:"text"`
}
