// Package lock provides the per-(issue, module) mutual exclusion used by selection and overrides.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/ports"
)

// Local serialises holders of the same key within one process.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

var _ ports.Locker = (*Local)(nil)

// NewLocal returns an in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]chan struct{})}
}

// Acquire waits until key is free or ctx ends. The ttl only applies to distributed lockers.
func (l *Local) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s: %w: %w", key, domain.ErrLockHeld, ctx.Err())
		}
	}
}
