package main

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/wilsonzlin/filerelay/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	cp := &recordingHandler{
		mu:      h.mu,
		records: h.records,
	}
	if len(h.attrs) > 0 {
		cp.attrs = append([]slog.Attr(nil), h.attrs...)
	}
	if len(h.groups) > 0 {
		cp.groups = append([]string(nil), h.groups...)
	}
	return cp
}

func findWarning(records []recordedLog, code string) (recordedLog, bool) {
	for _, r := range records {
		if r.level == slog.LevelWarn && r.attrs["warning_code"] == code {
			return r, true
		}
	}
	return recordedLog{}, false
}

func TestStartupSecurityWarnings_AllowedOriginsWildcard(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:           config.ModeDev,
		AllowedOrigins: []string{"*"},
	}

	logStartupSecurityWarnings(logger, cfg)

	if _, found := findWarning(records(), "allowed_origins_wildcard"); !found {
		t.Fatalf("expected warning_code=allowed_origins_wildcard, got %#v", records())
	}
}

func TestStartupSecurityWarnings_MaxSessionsUnlimitedInProd(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:        config.ModeProd,
		MaxSessions: 0,
	}

	logStartupSecurityWarnings(logger, cfg)

	if _, found := findWarning(records(), "max_sessions_unlimited_in_prod"); !found {
		t.Fatalf("expected warning_code=max_sessions_unlimited_in_prod, got %#v", records())
	}
}

func TestStartupSecurityWarnings_MaxConnectionsPerUserUnlimitedInProd(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:                  config.ModeProd,
		MaxSessions:           10,
		MaxConnectionsPerUser: 0,
	}

	logStartupSecurityWarnings(logger, cfg)

	if _, found := findWarning(records(), "max_connections_per_user_unlimited_in_prod"); !found {
		t.Fatalf("expected warning_code=max_connections_per_user_unlimited_in_prod, got %#v", records())
	}
}

func TestStartupSecurityWarnings_SafeConfig_NoWarnings(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:                  config.ModeProd,
		MaxSessions:           200,
		MaxConnectionsPerUser: 5,
	}

	logStartupSecurityWarnings(logger, cfg)

	if got := records(); len(got) != 0 {
		t.Fatalf("expected no warnings, got %#v", got)
	}
}

func TestStartupSecurityWarnings_DevModeNoCapWarnings(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:                  config.ModeDev,
		MaxSessions:           0,
		MaxConnectionsPerUser: 0,
	}

	logStartupSecurityWarnings(logger, cfg)

	if got := records(); len(got) != 0 {
		t.Fatalf("expected no warnings in dev mode, got %#v", got)
	}
}
