package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"IssueAssembler/internal/domain"
)

const (
	DefaultMaxRetries  = 2
	DefaultRetryDelay  = 2 * time.Second
	DefaultStepTimeout = 10 * time.Minute
)

// Harness runs one step with a per-attempt time budget and a fixed retry budget.
type Harness struct {
	MaxRetries  int
	RetryDelay  time.Duration
	StepTimeout time.Duration
	Logger      *slog.Logger
}

// Execute runs fn up to 1+MaxRetries times. Invariant errors and caller cancellation
// are returned without retrying. The final error is a *StepError wrapping the last
// attempt's error.
func (h Harness) Execute(ctx context.Context, cp domain.Checkpoint, moduleID string, fn func(ctx context.Context) error) error {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retries := h.MaxRetries
	if retries < 0 {
		retries = 0
	}

	var last error
	attempts := 0
	for attempts < retries+1 {
		attempts++
		last = h.attempt(ctx, fn)
		if last == nil {
			return nil
		}
		if domain.IsInvariant(last) {
			return &StepError{Kind: KindInvariant, Checkpoint: cp, ModuleID: moduleID, Attempts: attempts, Err: last}
		}
		if ctx.Err() != nil {
			return last
		}
		logger.Warn("step attempt failed",
			"state", cp.String(),
			"module_id", moduleID,
			"attempt", attempts,
			"error", last)
		if attempts <= retries {
			if err := wait(ctx, h.RetryDelay); err != nil {
				return err
			}
		}
	}

	kind := KindStepFailed
	if IsTimeout(last) {
		kind = KindStepTimeout
	}
	return &StepError{Kind: kind, Checkpoint: cp, ModuleID: moduleID, Attempts: attempts, Err: last}
}

// attempt runs fn under its own deadline. When the budget is spent the attempt's context
// is cancelled and fn's result is no longer awaited, so a late finish cannot commit.
func (h Harness) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	var (
		attemptCtx context.Context
		cancel     context.CancelFunc
	)
	if h.StepTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, h.StepTimeout)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("step panicked: %v", r)
			}
		}()
		done <- fn(attemptCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w (%s)", ErrStepTimeout, h.StepTimeout)
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
