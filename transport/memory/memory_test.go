package memory_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/querysync"
	"github.com/unkn0wn-root/querysync/codec"
	"github.com/unkn0wn-root/querysync/inbox"
	"github.com/unkn0wn-root/querysync/transport"
	"github.com/unkn0wn-root/querysync/transport/memory"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newServer(t *testing.T, f codec.Format) *memory.Server {
	t.Helper()
	s := memory.New(memory.Options{Format: f, Now: func() time.Time { return epoch }})
	memory.Seed(s)
	return s
}

func listPage(t *testing.T, s *memory.Server, p transport.Params) inbox.TicketPage {
	t.Helper()
	resp, err := s.Fetch(context.Background(), "tickets", p)
	require.NoError(t, err)
	page, err := transport.Decode[inbox.TicketPage](resp)
	require.NoError(t, err)
	return page
}

func serverStatus(t *testing.T, err error) int {
	t.Helper()
	var se *querysync.ServerError
	require.True(t, errors.As(err, &se), "want ServerError, got %v", err)
	return se.Status
}

func TestListPaginatesNewestFirst(t *testing.T) {
	s := newServer(t, codec.FormatJSON)

	first := listPage(t, s, transport.Params{"page": "1", "limit": "5"})
	require.Len(t, first.Tickets, 5)
	assert.Equal(t, inbox.Pagination{Page: 1, Limit: 5, Total: 12, TotalPages: 3, HasNext: true}, first.Pagination)
	for i := 1; i < len(first.Tickets); i++ {
		assert.True(t, first.Tickets[i-1].CreatedAt.After(first.Tickets[i].CreatedAt))
	}

	last := listPage(t, s, transport.Params{"page": "3", "limit": "5"})
	assert.Len(t, last.Tickets, 2)
	assert.False(t, last.Pagination.HasNext)
	assert.True(t, last.Pagination.HasPrev)

	beyond := listPage(t, s, transport.Params{"page": "9", "limit": "5"})
	assert.Empty(t, beyond.Tickets)
	assert.NotNil(t, beyond.Tickets)
}

func TestListFilters(t *testing.T) {
	s := newServer(t, codec.FormatJSON)

	high := listPage(t, s, transport.Params{"status": inbox.StatusOpen, "priority": inbox.PriorityHigh, "limit": "50"})
	require.NotEmpty(t, high.Tickets)
	for _, tk := range high.Tickets {
		assert.Equal(t, inbox.StatusOpen, tk.Status)
		assert.Equal(t, inbox.PriorityHigh, tk.Priority)
	}
	assert.Equal(t, len(high.Tickets), high.Pagination.Total)

	byEmail := listPage(t, s, transport.Params{"search": "ACME.IO"})
	assert.Len(t, byEmail.Tickets, 2)

	byText := listPage(t, s, transport.Params{"search": "vat"})
	require.Len(t, byText.Tickets, 1)
	assert.Equal(t, "Invoice shows wrong VAT rate", byText.Tickets[0].Title)
}

func TestUpdateTicket(t *testing.T) {
	for _, f := range []codec.Format{codec.FormatJSON, codec.FormatCBOR, codec.FormatMsgpack} {
		t.Run(string(f), func(t *testing.T) {
			s := newServer(t, f)
			tk := s.Add(inbox.Ticket{Title: "Printer on fire"})

			body, err := transport.Encode(f, inbox.TicketUpdate{Status: inbox.StatusResolved})
			require.NoError(t, err)
			resp, err := s.Send(context.Background(), transport.OpUpdate, "tickets/"+tk.ID, body)
			require.NoError(t, err)
			assert.Equal(t, f.ContentType(), resp.ContentType)

			out, err := transport.Decode[inbox.UpdateResponse](resp)
			require.NoError(t, err)
			require.NotNil(t, out.Ticket)
			assert.Equal(t, inbox.StatusResolved, out.Ticket.Status)
			assert.Equal(t, inbox.PriorityMedium, out.Ticket.Priority)
			assert.NotEmpty(t, out.Message)

			stored, ok := s.Get(tk.ID)
			require.True(t, ok)
			assert.Equal(t, inbox.StatusResolved, stored.Status)
		})
	}
}

func TestUpdateRejectsInvalidStatus(t *testing.T) {
	s := newServer(t, codec.FormatJSON)
	tk := s.Add(inbox.Ticket{Title: "x"})

	body, err := transport.Encode(codec.FormatJSON, inbox.TicketUpdate{Status: "closed"})
	require.NoError(t, err)
	_, err = s.Send(context.Background(), transport.OpUpdate, "tickets/"+tk.ID, body)
	assert.Equal(t, http.StatusBadRequest, serverStatus(t, err))

	_, err = s.Send(context.Background(), transport.OpUpdate, "tickets/missing", body)
	assert.Equal(t, http.StatusBadRequest, serverStatus(t, err))

	ok, err := transport.Encode(codec.FormatJSON, inbox.TicketUpdate{Priority: inbox.PriorityLow})
	require.NoError(t, err)
	_, err = s.Send(context.Background(), transport.OpUpdate, "tickets/missing", ok)
	assert.Equal(t, http.StatusNotFound, serverStatus(t, err))
}

func TestDeleteAndNotes(t *testing.T) {
	s := newServer(t, codec.FormatJSON)
	tk := s.Add(inbox.Ticket{Title: "Refund"})
	ctx := context.Background()

	body, err := transport.Encode(codec.FormatJSON, map[string]string{"text": "first"})
	require.NoError(t, err)
	_, err = s.Send(ctx, transport.OpCreate, "tickets/"+tk.ID+"/notes", body)
	require.NoError(t, err)
	body, err = transport.Encode(codec.FormatJSON, map[string]string{"text": "second"})
	require.NoError(t, err)
	resp, err := s.Send(ctx, transport.OpCreate, "tickets/"+tk.ID+"/notes", body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)

	resp, err = s.Fetch(ctx, "tickets/"+tk.ID+"/notes", nil)
	require.NoError(t, err)
	notes, err := transport.Decode[[]inbox.Note](resp)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "second", notes[0].Text)
	assert.Equal(t, memory.Agent, notes[0].Author)

	_, err = s.Send(ctx, transport.OpDelete, "tickets/"+tk.ID, transport.Payload{})
	require.NoError(t, err)
	_, err = s.Fetch(ctx, "tickets/"+tk.ID, nil)
	assert.Equal(t, http.StatusNotFound, serverStatus(t, err))
	_, err = s.Fetch(ctx, "tickets/"+tk.ID+"/notes", nil)
	assert.Equal(t, http.StatusNotFound, serverStatus(t, err))
}

func TestEmptyNoteRejected(t *testing.T) {
	s := newServer(t, codec.FormatJSON)
	tk := s.Add(inbox.Ticket{Title: "x"})
	body, err := transport.Encode(codec.FormatJSON, map[string]string{"text": "  "})
	require.NoError(t, err)
	_, err = s.Send(context.Background(), transport.OpCreate, "tickets/"+tk.ID+"/notes", body)
	assert.Equal(t, http.StatusBadRequest, serverStatus(t, err))
}

func TestFailNextIsOneShot(t *testing.T) {
	s := newServer(t, codec.FormatJSON)
	boom := errors.New("boom")
	s.FailNext("/tickets", boom)

	_, err := s.Fetch(context.Background(), "tickets", nil)
	assert.ErrorIs(t, err, boom)
	_, err = s.Fetch(context.Background(), "tickets", nil)
	assert.NoError(t, err)
	assert.Equal(t, 2, s.Calls("tickets"))
}

func TestUnknownRoutes(t *testing.T) {
	s := newServer(t, codec.FormatJSON)
	_, err := s.Fetch(context.Background(), "users", nil)
	assert.Equal(t, http.StatusNotFound, serverStatus(t, err))
	_, err = s.Send(context.Background(), transport.OpCreate, "tickets", transport.Payload{})
	assert.Equal(t, http.StatusMethodNotAllowed, serverStatus(t, err))
}

func TestLatencyHonoursContext(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := memory.New(memory.Options{Latency: time.Second})
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		_, err := s.Fetch(ctx, "tickets", nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		start := time.Now()
		_, err = s.Fetch(context.Background(), "tickets", nil)
		require.NoError(t, err)
		assert.Equal(t, time.Second, time.Since(start))
	})
}
