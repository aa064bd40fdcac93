// Package alert fans operator alerts out to every configured channel.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"IssueAssembler/internal/ports"
)

// Multi delivers each alert to all channels and joins their errors.
type Multi struct {
	channels []ports.Alerter
}

var _ ports.Alerter = (*Multi)(nil)

// NewMulti skips nil channels.
func NewMulti(channels ...ports.Alerter) *Multi {
	m := &Multi{}
	for _, ch := range channels {
		if ch != nil {
			m.channels = append(m.channels, ch)
		}
	}
	return m
}

// Len reports the number of channels.
func (m *Multi) Len() int { return len(m.channels) }

// Notify tries every channel even when an earlier one fails.
func (m *Multi) Notify(ctx context.Context, a ports.Alert) error {
	var errs []error
	for i, ch := range m.channels {
		if err := ch.Notify(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("alert channel %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Log writes alerts to the structured log; it is always wired so failures are never silent.
type Log struct {
	logger *slog.Logger
}

var _ ports.Alerter = (*Log)(nil)

// NewLog builds a log-backed alerter.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "alert")}
}

// Notify logs the alert at error level.
func (l *Log) Notify(ctx context.Context, a ports.Alert) error {
	l.logger.ErrorContext(ctx, "issue assembly failed",
		"issue_id", a.IssueID,
		"publication_id", a.PublicationID,
		"state", a.State,
		"error", a.Message,
	)
	return nil
}
