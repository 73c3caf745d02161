package autosave

import (
	"testing"
	"time"

	"flock/pkg/config"
)

func TestNewDefaultsInterval(t *testing.T) {
	s, err := New(config.AutosaveConfig{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.interval != 5*time.Minute {
		t.Fatalf("interval = %v", s.interval)
	}
}

func TestNewHonorsInterval(t *testing.T) {
	s, err := New(config.AutosaveConfig{IntervalSeconds: 30})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.interval != 30*time.Second {
		t.Fatalf("interval = %v", s.interval)
	}
}

func TestNewValidatesCron(t *testing.T) {
	if _, err := New(config.AutosaveConfig{Cron: "not a cron"}); err == nil {
		t.Fatalf("bad cron accepted")
	}
	s, err := New(config.AutosaveConfig{Cron: "*/5 * * * *"})
	if err != nil {
		t.Fatalf("valid cron rejected: %v", err)
	}
	if s.cron != "*/5 * * * *" {
		t.Fatalf("cron = %q", s.cron)
	}
}

func TestFlushRunsEveryFlusher(t *testing.T) {
	var calls []string
	s, err := New(config.AutosaveConfig{},
		FlusherFunc(func() { calls = append(calls, "first") }),
		FlusherFunc(func() { calls = append(calls, "second") }))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Flush()
	s.Flush()
	if len(calls) != 4 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("calls = %v", calls)
	}
}
