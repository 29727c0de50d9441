package commands

import (
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/querysync/inbox"
)

type viewFlags struct {
	status, priority, search string
	page, limit              int
}

func (f *viewFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.status, "status", "", "Filter by status (open, pending, resolved)")
	cmd.Flags().StringVar(&f.priority, "priority", "", "Filter by priority (low, medium, high)")
	cmd.Flags().StringVarP(&f.search, "search", "s", "", "Search title, description and customer email")
	cmd.Flags().IntVarP(&f.page, "page", "p", inbox.DefaultPage, "Page number")
	cmd.Flags().IntVarP(&f.limit, "limit", "l", 0, "Tickets per page (default from config)")
}

func (f *viewFlags) view(base inbox.View) inbox.View {
	return base.
		SetFilters(inbox.Filters{Status: f.status, Priority: f.priority, Search: f.search}).
		SetPage(f.page).
		SetLimit(f.limit)
}

func (c *CLI) newTicketsCmd() *cobra.Command {
	var vf viewFlags
	cmd := &cobra.Command{
		Use:     "tickets",
		Aliases: []string{"ls"},
		Short:   "List tickets",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, done, err := c.session(cmd, "")
			if err != nil {
				return err
			}
			defer done()

			page, err := a.ListTickets(cmd.Context(), vf.view(a.DefaultView()))
			if err != nil {
				return err
			}
			renderPage(cmd.OutOrStdout(), page)
			return nil
		},
	}
	vf.register(cmd)
	return cmd
}
