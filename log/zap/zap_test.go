package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/querysync"
)

func TestFieldsAreTypedAndOrdered(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := Logger{L: zap.New(core)}

	l.Warn("mutation rolled back", querysync.Fields{"mutation": "add_note", "entries": 1, "err": errors.New("boom")})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	e := entries[0]
	if e.Level != zapcore.WarnLevel || e.Message != "mutation rolled back" {
		t.Fatalf("unexpected entry %+v", e.Entry)
	}
	var keys []string
	for _, f := range e.Context {
		keys = append(keys, f.Key)
	}
	if len(keys) != 3 || keys[0] != "entries" || keys[1] != "err" || keys[2] != "mutation" {
		t.Fatalf("field order %v", keys)
	}
	if got := e.ContextMap()["err"]; got != "boom" {
		t.Fatalf("err field = %v", got)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud", "json"); err == nil {
		t.Fatal("expected error")
	}
	l, err := New("warn", "text")
	if err != nil {
		t.Fatal(err)
	}
	if l.L.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info enabled at warn level")
	}
}
