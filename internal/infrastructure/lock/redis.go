package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/ports"
)

const (
	defaultRetryEvery = 100 * time.Millisecond
	releaseTimeout    = 5 * time.Second
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease-based locker shared by every worker connected to the same Redis.
type Redis struct {
	client     redis.UniversalClient
	prefix     string
	retryEvery time.Duration
}

var _ ports.Locker = (*Redis)(nil)

// NewRedis builds a locker whose keys live under prefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix, retryEvery: defaultRetryEvery}
}

// Acquire takes the lease with SET NX PX and polls until it is granted or ctx ends.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	full := r.prefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(r.retryEvery)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, full, token, ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("acquire %s: %w", full, err)
		}
		if ok {
			return func() {
				rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
				defer cancel()
				_ = releaseScript.Run(rctx, r.client, []string{full}, token).Err()
			}, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s: %w: %w", full, domain.ErrLockHeld, ctx.Err())
		}
	}
}
