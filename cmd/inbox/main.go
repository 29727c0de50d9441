// Package main is the entry point for the inbox CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/unkn0wn-root/querysync/cmd/inbox/commands"
	"github.com/unkn0wn-root/querysync/internal/app"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, openApp))
}

func openApp(ctx context.Context, opts app.Options) (commands.Application, error) {
	a, err := app.New(ctx, opts)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, open commands.Opener) int {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := commands.New(open)
	cli.SetArgs(args)
	cli.SetOutput(stdout, stderr)

	if err := cli.Execute(ctx); err != nil {
		_, _ = fmt.Fprintln(stderr, "Error: "+err.Error())
		return 1
	}
	return 0
}
