// Package slog adapts log/slog to querysync.Logger.
package slog

import (
	"context"
	"io"
	stdslog "log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/unkn0wn-root/querysync"
)

var _ querysync.Logger = Logger{}

type Logger struct{ L *stdslog.Logger }

// New builds a logger writing to w. format "json" selects the JSON handler,
// anything else the text handler.
func New(w io.Writer, level, format string) (Logger, error) {
	var lvl stdslog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return Logger{}, err
	}
	opts := &stdslog.HandlerOptions{Level: lvl}
	var h stdslog.Handler = stdslog.NewTextHandler(w, opts)
	if format == "json" {
		h = stdslog.NewJSONHandler(w, opts)
	}
	return Logger{L: stdslog.New(h)}, nil
}

func (s Logger) Debug(msg string, f querysync.Fields) { s.log(stdslog.LevelDebug, msg, f) }
func (s Logger) Info(msg string, f querysync.Fields)  { s.log(stdslog.LevelInfo, msg, f) }
func (s Logger) Warn(msg string, f querysync.Fields)  { s.log(stdslog.LevelWarn, msg, f) }
func (s Logger) Error(msg string, f querysync.Fields) { s.log(stdslog.LevelError, msg, f) }

func (s Logger) log(lvl stdslog.Level, msg string, f querysync.Fields) {
	ctx := context.Background()
	if !s.L.Enabled(ctx, lvl) {
		return
	}
	s.L.LogAttrs(ctx, lvl, msg, attrs(f)...)
}

func attrs(f querysync.Fields) []stdslog.Attr {
	if len(f) == 0 {
		return nil
	}
	out := make([]stdslog.Attr, 0, len(f))
	for _, k := range slices.Sorted(maps.Keys(f)) {
		out = append(out, stdslog.Any(k, f[k]))
	}
	return out
}
