package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/querysync/inbox"
)

func (c *CLI) newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a ticket and its notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, done, err := c.session(cmd, "")
			if err != nil {
				return err
			}
			defer done()

			t, notes, err := a.ShowTicket(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderTicket(cmd.OutOrStdout(), t, notes)
			return nil
		},
	}
}

func (c *CLI) newUpdateCmd() *cobra.Command {
	var upd inbox.TicketUpdate
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change the status or priority of a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if upd.Status == "" && upd.Priority == "" {
				return fmt.Errorf("nothing to update: set --status or --priority")
			}
			a, done, err := c.session(cmd, "")
			if err != nil {
				return err
			}
			defer done()

			resp, err := a.UpdateTicket(cmd.Context(), args[0], upd)
			if err != nil {
				return err
			}
			if resp.Ticket != nil {
				renderTicket(cmd.OutOrStdout(), *resp.Ticket, nil)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&upd.Status, "status", "", "New status (open, pending, resolved)")
	cmd.Flags().StringVar(&upd.Priority, "priority", "", "New priority (low, medium, high)")
	return cmd
}

func (c *CLI) newNoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "note <id> <text>",
		Short: "Add an internal note to a ticket",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, done, err := c.session(cmd, "")
			if err != nil {
				return err
			}
			defer done()

			n, err := a.AddNote(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			renderNotes(cmd.OutOrStdout(), []inbox.Note{n})
			return nil
		},
	}
}

func (c *CLI) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, done, err := c.session(cmd, "")
			if err != nil {
				return err
			}
			defer done()
			return a.DeleteTicket(cmd.Context(), args[0])
		},
	}
}
