package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_DemoTickets(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"--demo", "tickets", "--status", "open", "--limit", "3"}, &out, &errOut, openApp)

	assert.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "STATUS")
	assert.Contains(t, out.String(), "page 1/")
}

func TestRun_ReportsErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"--demo", "show", "no-such-ticket"}, &out, &errOut, openApp)

	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "Error: ")
	assert.Contains(t, errOut.String(), "Ticket not found")
}
