package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/unkn0wn-root/querysync/inbox"
)

const (
	columnWidthID       = 38
	columnWidthStatus   = 10
	columnWidthPriority = 8
	titleWidth          = 48
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	faintStyle   = lipgloss.NewStyle().Faint(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(10)
)

func statusColor(s string) lipgloss.Color {
	switch s {
	case inbox.StatusOpen:
		return lipgloss.Color("4")
	case inbox.StatusPending:
		return lipgloss.Color("3")
	case inbox.StatusResolved:
		return lipgloss.Color("2")
	default:
		return lipgloss.Color("7")
	}
}

func priorityColor(p string) lipgloss.Color {
	switch p {
	case inbox.PriorityHigh:
		return lipgloss.Color("1")
	case inbox.PriorityMedium:
		return lipgloss.Color("3")
	default:
		return lipgloss.Color("8")
	}
}

func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && lipgloss.Width(string(r))+1 > width {
		r = r[:len(r)-1]
	}
	return string(r) + "…"
}

func renderPage(w io.Writer, p inbox.TicketPage) {
	idStyle := lipgloss.NewStyle().Width(columnWidthID)
	header := idStyle.Render("ID") +
		lipgloss.NewStyle().Width(columnWidthStatus).Render("STATUS") +
		lipgloss.NewStyle().Width(columnWidthPriority).Render("PRIO") +
		"TITLE"
	_, _ = fmt.Fprintln(w, headerStyle.Render(header))

	if len(p.Tickets) == 0 {
		_, _ = fmt.Fprintln(w, faintStyle.Render("no tickets"))
	}
	for _, t := range p.Tickets {
		status := lipgloss.NewStyle().Width(columnWidthStatus).Foreground(statusColor(t.Status)).Render(t.Status)
		prio := lipgloss.NewStyle().Width(columnWidthPriority).Foreground(priorityColor(t.Priority)).
			Bold(t.Priority == inbox.PriorityHigh).Render(t.Priority)
		_, _ = fmt.Fprintln(w, idStyle.Render(t.ID)+status+prio+truncate(t.Title, titleWidth))
	}

	pg := p.Pagination
	_, _ = fmt.Fprintln(w, faintStyle.Render(fmt.Sprintf("page %d/%d · %d tickets", pg.Page, max(pg.TotalPages, 1), pg.Total)))
}

func renderTicket(w io.Writer, t inbox.Ticket, notes []inbox.Note) {
	_, _ = fmt.Fprintln(w, headerStyle.Render(t.Title))
	field := func(label, value string) {
		_, _ = fmt.Fprintln(w, labelStyle.Render(label)+value)
	}
	field("id", t.ID)
	field("status", lipgloss.NewStyle().Foreground(statusColor(t.Status)).Render(t.Status))
	field("priority", lipgloss.NewStyle().Foreground(priorityColor(t.Priority)).Render(t.Priority))
	field("customer", t.CustomerEmail)
	if !t.CreatedAt.IsZero() {
		field("created", t.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	if t.Description != "" {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, t.Description)
	}
	if notes != nil {
		_, _ = fmt.Fprintln(w)
		renderNotes(w, notes)
	}
}

func renderNotes(w io.Writer, notes []inbox.Note) {
	if len(notes) == 0 {
		_, _ = fmt.Fprintln(w, faintStyle.Render("no notes"))
		return
	}
	for _, n := range notes {
		who := n.Author.Name
		if who == "" {
			who = "unknown"
		}
		meta := who
		if !n.CreatedAt.IsZero() {
			meta += " · " + n.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintln(w, faintStyle.Render(meta))
		_, _ = fmt.Fprintln(w, "  "+strings.ReplaceAll(n.Text, "\n", "\n  "))
	}
}

// toaster prints notifier messages as one-line toasts.
type toaster struct {
	w io.Writer
}

func newToaster(w io.Writer) toaster { return toaster{w: w} }

func (t toaster) Success(msg string) { _, _ = fmt.Fprintln(t.w, successStyle.Render("✓ "+msg)) }
func (t toaster) Error(msg string)   { _, _ = fmt.Fprintln(t.w, errorStyle.Render("✗ "+msg)) }
