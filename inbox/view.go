package inbox

import (
	"strconv"

	"github.com/unkn0wn-root/querysync"
	"github.com/unkn0wn-root/querysync/transport"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
)

// Filters narrow the ticket list. Empty fields do not filter.
type Filters struct {
	Status   string
	Priority string
	Search   string
}

// View is the filter and pagination state of a ticket list. Views are values;
// each setter returns the updated copy.
type View struct {
	Filters Filters
	Page    int
	Limit   int
}

func DefaultView() View { return View{Page: DefaultPage, Limit: DefaultLimit} }

// SetFilters replaces the filters and returns to the first page.
func (v View) SetFilters(f Filters) View {
	v.Filters = f
	v.Page = DefaultPage
	return v
}

func (v View) SetPage(page int) View {
	v.Page = max(page, 1)
	return v
}

func (v View) SetLimit(limit int) View {
	if limit > 0 {
		v.Limit = limit
	}
	return v
}

// ClearFilters drops every filter and returns to the first page.
func (v View) ClearFilters() View { return v.SetFilters(Filters{}) }

// Params are the list query parameters of v.
func (v View) Params() transport.Params {
	v = v.normalized()
	return transport.Params{
		"page":     strconv.Itoa(v.Page),
		"limit":    strconv.Itoa(v.Limit),
		"status":   v.Filters.Status,
		"priority": v.Filters.Priority,
		"search":   v.Filters.Search,
	}
}

func (v View) normalized() View {
	if v.Page <= 0 {
		v.Page = DefaultPage
	}
	if v.Limit <= 0 {
		v.Limit = DefaultLimit
	}
	return v
}

// TicketsPrefix matches every cached ticket list page.
var TicketsPrefix = querysync.Prefix("tickets")

// TicketsKey identifies the list page of v. Empty filters are dropped, so
// views differing only in unset filters share a key.
func TicketsKey(v View) querysync.Key {
	v = v.normalized()
	return querysync.NewKey("tickets", querysync.Params{
		"page":     v.Page,
		"limit":    v.Limit,
		"status":   v.Filters.Status,
		"priority": v.Filters.Priority,
		"search":   v.Filters.Search,
	})
}

func TicketKey(id string) querysync.Key { return querysync.NewKey("ticket", id) }

func NotesKey(ticketID string) querysync.Key { return querysync.NewKey("notes", ticketID) }
