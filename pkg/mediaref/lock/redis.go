package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/mediaref/pkg/mediaref"
)

// DefaultTTL bounds how long a crashed holder can block an artifact.
const DefaultTTL = 2 * time.Minute

// deletes the key only if it still carries our token
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker is a Locker shared by every process talking to the same Redis.
type RedisLocker struct {
	client *redis.Client
	script *redis.Script
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis creates a RedisLocker. A zero ttl uses DefaultTTL.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		client: client,
		script: redis.NewScript(releaseScript),
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

var _ Locker = (*RedisLocker)(nil)

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, mediaref.ErrLocked
	}

	return func() {
		// release must outlive a cancelled request context
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.script.Run(releaseCtx, l.client, []string{fullKey}, token).Err(); err != nil && err != redis.Nil {
			l.logger.Warn("failed to release lock", "key", fullKey, "err", err)
		}
	}, nil
}
