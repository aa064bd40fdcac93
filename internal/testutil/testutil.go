// Package testutil provides an in-memory datastore, a scripted generator and a recording
// alerter for package tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"IssueAssembler/internal/infrastructure/storage"
	"IssueAssembler/internal/ports"
)

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewStore opens a migrated in-memory SQLite store closed at test cleanup.
func NewStore(t testing.TB) *storage.SQLStore {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewSQLStore(db, storage.DriverSQLite, 0)
}

// Handler answers one generation call; input is the JSON the caller sent.
type Handler func(input json.RawMessage) (any, error)

// Generator is a ports.Generator scripted per prompt key.
type Generator struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    map[string]int
}

var _ ports.Generator = (*Generator)(nil)

// NewGenerator returns a generator with no handlers.
func NewGenerator() *Generator {
	return &Generator{handlers: map[string]Handler{}, calls: map[string]int{}}
}

// On sets or replaces the handler for key.
func (g *Generator) On(key string, h Handler) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[key] = h
	return g
}

// Reply answers every call for key with v.
func (g *Generator) Reply(key string, v any) *Generator {
	return g.On(key, func(json.RawMessage) (any, error) { return v, nil })
}

// Generate round-trips input and the handler's reply through JSON like a real client.
func (g *Generator) Generate(ctx context.Context, key string, input any, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	g.calls[key]++
	h, ok := g.handlers[key]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("no handler for prompt %s", key)
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return err
	}
	reply, err := h(raw)
	if err != nil {
		return err
	}
	// A cancelled request never delivers its response.
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, out)
}

// Calls returns how many times key was requested.
func (g *Generator) Calls(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[key]
}

// Alerter records every alert it receives.
type Alerter struct {
	mu     sync.Mutex
	alerts []ports.Alert
	Err    error
}

var _ ports.Alerter = (*Alerter)(nil)

func (a *Alerter) Notify(_ context.Context, alert ports.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return a.Err
}

// Alerts returns a copy of the recorded alerts.
func (a *Alerter) Alerts() []ports.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ports.Alert(nil), a.alerts...)
}
