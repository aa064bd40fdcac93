package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"IssueAssembler/internal/domain"
)

func TestLocalSerialisesSameKey(t *testing.T) {
	t.Parallel()
	l := NewLocal()
	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "issue/module", time.Minute)
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestLocalIndependentKeysAndTimeout(t *testing.T) {
	t.Parallel()
	l := NewLocal()
	release, err := l.Acquire(context.Background(), "a", time.Minute)
	require.NoError(t, err)

	other, err := l.Acquire(context.Background(), "b", time.Minute)
	require.NoError(t, err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "a", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	again, err := l.Acquire(context.Background(), "a", time.Minute)
	require.NoError(t, err)
	again()
}
