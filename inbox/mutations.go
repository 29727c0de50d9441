package inbox

import (
	"context"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/querysync"
	"github.com/unkn0wn-root/querysync/transport"
)

// UpdateTicket changes a ticket's status or priority. Every cached list page
// holding the ticket and its detail entry show the change immediately,
// flagged Updating, and are restored exactly if the server rejects it.
func (c *Client) UpdateTicket(ctx context.Context, id string, upd TicketUpdate) (UpdateResponse, error) {
	out := querysync.Mutate(ctx, c.qc.Controller(), upd, querysync.MutationConfig[TicketUpdate, UpdateResponse]{
		Name: "update_ticket",
		Remote: func(ctx context.Context, u TicketUpdate) (UpdateResponse, error) {
			return send[UpdateResponse](ctx, c, transport.OpUpdate, "tickets/"+id, u)
		},
		Optimistic: func(u TicketUpdate) querysync.Patch {
			return querysync.Patch{
				Keys:  []querysync.Key{TicketKey(id)},
				Match: TicketsPrefix,
				Apply: func(_ querysync.Key, data any) (any, bool) {
					return mapTicket(data, id, func(t *Ticket) {
						u.applyTo(t)
						t.Updating = true
					})
				},
				Settle: func(_ querysync.Key, data any) any {
					v, _ := mapTicket(data, id, func(t *Ticket) { t.Updating = false })
					return v
				},
			}
		},
		Commit: func(resp UpdateResponse, _ TicketUpdate, key querysync.Key, data any) (any, bool) {
			if resp.Ticket == nil || resp.Ticket.ID != id {
				return nil, false
			}
			fresh := *resp.Ticket
			fresh.Updating = false
			if data == nil && key.Equal(TicketKey(id)) {
				return fresh, true
			}
			return mapTicket(data, id, func(t *Ticket) { *t = fresh })
		},
		OnSuccess: func(resp UpdateResponse, _ TicketUpdate) {
			c.notify.Success(coalesce(resp.Message, MsgTicketUpdated))
		},
		OnError: func(error, TicketUpdate) { c.notify.Error(MsgTicketUpdateFailed) },
		Invalidate: []querysync.Matcher{TicketsPrefix},
	})
	return out.Response, out.Err
}

// DeleteTicket removes a ticket. Cached list pages drop it immediately and
// get it back if the server refuses.
func (c *Client) DeleteTicket(ctx context.Context, id string) error {
	out := querysync.Mutate(ctx, c.qc.Controller(), id, querysync.MutationConfig[string, struct{}]{
		Name: "delete_ticket",
		Remote: func(ctx context.Context, id string) (struct{}, error) {
			_, err := send[map[string]any](ctx, c, transport.OpDelete, "tickets/"+id, nil)
			return struct{}{}, err
		},
		Optimistic: func(id string) querysync.Patch {
			return querysync.Patch{
				Match: TicketsPrefix,
				Apply: func(_ querysync.Key, data any) (any, bool) {
					p, ok := data.(TicketPage)
					if !ok {
						return nil, false
					}
					if _, found := p.Find(id); !found {
						return nil, false
					}
					return p.without(id), true
				},
			}
		},
		OnSuccess:  func(struct{}, string) { c.notify.Success(MsgTicketDeleted) },
		OnError:    func(error, string) { c.notify.Error(MsgTicketDeleteFailed) },
		Invalidate: []querysync.Matcher{TicketsPrefix},
	})
	return out.Err
}

// AddNote posts a note. A temporary note authored by "You" is shown first in
// the list until the server's note replaces it, or is removed when the
// response carries no note.
func (c *Client) AddNote(ctx context.Context, ticketID, text string) (Note, error) {
	key := NotesKey(ticketID)
	tempID := "temp-" + uuid.NewString()

	out := querysync.Mutate(ctx, c.qc.Controller(), text, querysync.MutationConfig[string, Note]{
		Name: "add_note",
		Remote: func(ctx context.Context, text string) (Note, error) {
			return send[Note](ctx, c, transport.OpCreate, "tickets/"+ticketID+"/notes", newNote{Text: text})
		},
		Optimistic: func(text string) querysync.Patch {
			return querysync.Patch{
				Keys: []querysync.Key{key},
				Apply: func(_ querysync.Key, data any) (any, bool) {
					prev, _ := data.([]Note)
					temp := Note{
						ID:         tempID,
						Text:       text,
						Author:     Author{Name: "You"},
						CreatedAt:  c.now(),
						Optimistic: true,
					}
					return append([]Note{temp}, prev...), true
				},
				// without a server note the temporary one is dropped; the
				// settle-time refetch brings the real list
				Settle: func(_ querysync.Key, data any) any {
					notes, ok := data.([]Note)
					if !ok {
						return nil
					}
					out := make([]Note, 0, len(notes))
					for _, n := range notes {
						if n.ID != tempID {
							out = append(out, n)
						}
					}
					return out
				},
			}
		},
		Commit: func(n Note, _ string, _ querysync.Key, data any) (any, bool) {
			notes, ok := data.([]Note)
			if !ok || n.ID == "" {
				return nil, false
			}
			out := make([]Note, 0, len(notes))
			replaced := false
			for _, old := range notes {
				if old.ID == tempID {
					old, replaced = n, true
				}
				out = append(out, old)
			}
			if !replaced {
				out = append([]Note{n}, out...)
			}
			return out, true
		},
		OnSuccess: func(Note, string) { c.notify.Success(MsgNoteAdded) },
		OnError:   func(error, string) { c.notify.Error(MsgNoteAddFailed) },
	})
	return out.Response, out.Err
}

// mapTicket applies fn to ticket id inside a cached page or detail entry.
// It declines when data holds no such ticket.
func mapTicket(data any, id string, fn func(*Ticket)) (any, bool) {
	switch d := data.(type) {
	case TicketPage:
		if _, ok := d.Find(id); !ok {
			return nil, false
		}
		return d.withTicket(id, fn), true
	case Ticket:
		if d.ID != id {
			return nil, false
		}
		fn(&d)
		return d, true
	default:
		return nil, false
	}
}

func coalesce(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
