// Package commands implements the inbox CLI commands.
package commands

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/querysync"
	"github.com/unkn0wn-root/querysync/inbox"
	"github.com/unkn0wn-root/querysync/internal/app"
)

// Application is the inbox session the commands drive.
type Application interface {
	DefaultView() inbox.View
	ListTickets(ctx context.Context, v inbox.View) (inbox.TicketPage, error)
	ShowTicket(ctx context.Context, id string) (inbox.Ticket, []inbox.Note, error)
	UpdateTicket(ctx context.Context, id string, upd inbox.TicketUpdate) (inbox.UpdateResponse, error)
	AddNote(ctx context.Context, id, text string) (inbox.Note, error)
	DeleteTicket(ctx context.Context, id string) error
	Watch(ctx context.Context, v inbox.View, fn func(querysync.Entry)) error
	Close(ctx context.Context) error
}

// Opener starts a session once global flags are parsed.
type Opener func(ctx context.Context, opts app.Options) (Application, error)

// CLI represents the command line interface for inbox.
type CLI struct {
	open    Opener
	rootCmd *cobra.Command

	configPath string
	demo       bool
}

// New creates a new CLI that opens sessions with open.
func New(open Opener) *CLI {
	rootCmd := &cobra.Command{
		Use:           "inbox",
		Short:         "Support ticket inbox",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.InitDefaultHelpFlag()
	rootCmd.Flags().Lookup("help").Usage = "Show help for command"

	c := &CLI{open: open, rootCmd: rootCmd}
	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&c.demo, "demo", false, "Use an in-memory API seeded with demo tickets")

	rootCmd.AddCommand(c.newTicketsCmd())
	rootCmd.AddCommand(c.newShowCmd())
	rootCmd.AddCommand(c.newUpdateCmd())
	rootCmd.AddCommand(c.newNoteCmd())
	rootCmd.AddCommand(c.newDeleteCmd())
	rootCmd.AddCommand(c.newWatchCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput sets the output and error streams for the root command. Used for testing.
func (c *CLI) SetOutput(out, err io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(err)
}

// session opens the application for cmd and returns it with its closer.
func (c *CLI) session(cmd *cobra.Command, metricsAddr string) (Application, func(), error) {
	a, err := c.open(cmd.Context(), app.Options{
		ConfigPath:  c.configPath,
		Demo:        c.demo,
		MetricsAddr: metricsAddr,
		Notifier:    newToaster(cmd.ErrOrStderr()),
		LogOutput:   cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, err
	}
	return a, func() { _ = a.Close(context.WithoutCancel(cmd.Context())) }, nil
}
