package utils

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Printf("hello %s", "world")
	l.Errorf("boom: %v", "x")
	l.Infow("kv", "k", "v")
	l.Fatalf("nil logger must not exit")
	if l.With("k", "v") != nil {
		t.Fatalf("expected nil child for nil logger")
	}
	l.Sync()
}

func TestNopLoggerAcceptsCalls(t *testing.T) {
	l := NewNopLogger()
	l.Printf("line\n")
	l.With("incident_id", "1").Infow("escalated", "title", "x")
}

func TestNewLoggerForEnv(t *testing.T) {
	for _, env := range []string{"dev", "prod", ""} {
		l, err := NewLoggerForEnv(env)
		if err != nil {
			t.Fatalf("env %q: %v", env, err)
		}
		if l == nil {
			t.Fatalf("env %q: nil logger", env)
		}
	}
}

func TestInfowCarriesFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	FromZap(zap.New(core)).With("component", "rules").Infow("urgency escalated", "incident_id", "42")
	entries := logs.FilterMessage("urgency escalated").All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["incident_id"] != "42" || fields["component"] != "rules" {
		t.Fatalf("unexpected fields %v", fields)
	}
}
