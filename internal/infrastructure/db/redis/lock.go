package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/99minutos/tracking-sync/internal/core/domain"
)

const (
	defaultLockTTL = 45 * time.Second
	releaseTimeout = 2 * time.Second
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another instance is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker provides per-record exclusion tokens backed by Redis, shared by
// every instance polling the same store.
// Key format: lock:tracking:<carrier>:<tracking_number>
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewLocker creates a Locker. ttl should exceed the longest poll timeout; a
// crashed holder's token expires after ttl.
func NewLocker(client *redis.Client, ttl time.Duration, log zerolog.Logger) *Locker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Locker{client: client, ttl: ttl, log: log.With().Str("component", "redis_locker").Logger()}
}

// TryAcquire takes the token for ref if nobody holds it. It never waits.
func (l *Locker) TryAcquire(ctx context.Context, ref domain.RecordRef) (func(), bool, error) {
	key := lockKey(ref)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := sync.OnceFunc(func() {
		// The poll context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.log.Warn().Err(err).Str("key", key).Msg("failed to release lock, it will expire")
		}
	})
	return release, true, nil
}

func lockKey(ref domain.RecordRef) string {
	return fmt.Sprintf("lock:tracking:%s:%s", ref.Carrier, ref.TrackingNumber)
}
