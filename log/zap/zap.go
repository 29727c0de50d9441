// Package zap adapts go.uber.org/zap to querysync.Logger.
package zap

import (
	"maps"
	"slices"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/querysync"
)

var _ querysync.Logger = Logger{}

type Logger struct{ L *zap.Logger }

// New builds a logger writing to stderr. format "json" uses the production
// encoder, anything else the console encoder.
func New(level, format string) (Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return Logger{}, err
	}
	cfg := zap.NewDevelopmentConfig()
	if format == "json" {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	l, err := cfg.Build()
	if err != nil {
		return Logger{}, err
	}
	return Logger{L: l}, nil
}

func (z Logger) Debug(msg string, f querysync.Fields) { z.L.Debug(msg, zf(f)...) }
func (z Logger) Info(msg string, f querysync.Fields)  { z.L.Info(msg, zf(f)...) }
func (z Logger) Warn(msg string, f querysync.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Logger) Error(msg string, f querysync.Fields) { z.L.Error(msg, zf(f)...) }

// Sync flushes buffered entries.
func (z Logger) Sync() error { return z.L.Sync() }

// zf converts fields in key order so output is stable.
func zf(f querysync.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for _, k := range slices.Sorted(maps.Keys(f)) {
		switch v := f[k].(type) {
		case error:
			out = append(out, zap.NamedError(k, v))
		case string:
			out = append(out, zap.String(k, v))
		case int:
			out = append(out, zap.Int(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
