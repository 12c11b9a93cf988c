package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
)

const (
	defaultLockTTL       = 2 * time.Minute
	defaultRetryInterval = 50 * time.Millisecond
	releaseTimeout       = 5 * time.Second
)

// unlockScript deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript renews the TTL only if the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker holds user locks in Redis so that several service instances
// serialize against each other. A held lock is renewed every TTL/3 until released;
// a crashed holder loses its lock when the TTL lapses.
type RedisLocker struct {
	client        redis.UniversalClient
	prefix        string
	ttl           time.Duration
	retryInterval time.Duration
	logger        *zap.Logger
}

// NewRedisLocker creates a locker storing keys under "<prefix>:lock:user:<id>".
func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{
		client:        client,
		prefix:        prefix,
		ttl:           ttl,
		retryInterval: defaultRetryInterval,
		logger:        logger.Named("redis-locker"),
	}
}

var _ UserLocker = (*RedisLocker)(nil)

func (l *RedisLocker) key(userID string) string {
	if l.prefix == "" {
		return "lock:user:" + userID
	}
	return l.prefix + ":lock:user:" + userID
}

// Lock implements UserLocker.
func (l *RedisLocker) Lock(ctx context.Context, userID string) (func(), error) {
	key := l.key(userID)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: user %s: %v", apperrors.ErrLocked, userID, ctx.Err())
			}
			return nil, fmt.Errorf("acquire lock for user %s: %w", userID, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retryInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: user %s: %v", apperrors.ErrLocked, userID, ctx.Err())
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(key, token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			l.release(key, token)
		})
	}, nil
}

func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			n, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn("Failed to extend user lock", zap.String("key", key), zap.Error(err))
				continue
			}
			if n == 0 {
				l.logger.Error("User lock lost before release", zap.String("key", key))
				return
			}
		}
	}
}

func (l *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	n, err := unlockScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		l.logger.Error("Failed to release user lock", zap.String("key", key), zap.Error(err))
		return
	}
	if n == 0 {
		l.logger.Warn("User lock already expired at release", zap.String("key", key))
	}
}
