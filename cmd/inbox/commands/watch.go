package commands

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/querysync"
	"github.com/unkn0wn-root/querysync/inbox"
)

func (c *CLI) newWatchCmd() *cobra.Command {
	var (
		vf          viewFlags
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the ticket list and print it whenever it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, done, err := c.session(cmd, metricsAddr)
			if err != nil {
				return err
			}
			defer done()

			p := &pagePrinter{w: cmd.OutOrStdout()}
			return a.Watch(cmd.Context(), vf.view(a.DefaultView()), p.print)
		},
	}
	vf.register(cmd)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while watching")
	return cmd
}

// pagePrinter prints a page when its tickets differ from the last one
// printed. Loading and placeholder states are skipped.
type pagePrinter struct {
	w    io.Writer
	mu   sync.Mutex
	last string
}

func (p *pagePrinter) print(e querysync.Entry) {
	if e.Err != nil {
		p.mu.Lock()
		_, _ = fmt.Fprintln(p.w, errorStyle.Render("refresh failed: "+e.Err.Message))
		p.mu.Unlock()
		return
	}
	page, ok := querysync.DataAs[inbox.TicketPage](e)
	if !ok || e.Placeholder {
		return
	}
	sig := signature(page)
	p.mu.Lock()
	defer p.mu.Unlock()
	if sig == p.last {
		return
	}
	p.last = sig
	_, _ = fmt.Fprintln(p.w, faintStyle.Render("updated "+e.UpdatedAt.Format("15:04:05")))
	renderPage(p.w, page)
}

func signature(p inbox.TicketPage) string {
	s := fmt.Sprint(p.Pagination)
	for _, t := range p.Tickets {
		s += "|" + t.ID + ":" + t.Status + ":" + t.Priority + ":" + t.Title
	}
	return s
}
