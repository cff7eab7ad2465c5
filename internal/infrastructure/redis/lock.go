package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
)

const lockPrefix = "payrecon:lock:"

// Both scripts act only when the caller still owns the key.
var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
)

// lease is one ownership of a lock key, identified by a random token.
type lease struct {
	client redis.Cmdable
	key    string
	token  string
	ttl    time.Duration
}

func (l *lease) tryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *lease) extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend %s: %w", l.key, err)
	}
	if n == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}

func (l *lease) release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	if n == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}

// keepAlive extends the lease every ttl/3 until ctx ends. A gateway call
// that outlives the TTL must not let a second reversal in.
func (l *lease) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.extend(ctx); err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("key", l.key).Msg("Lost lock lease")
				}
				return
			}
		}
	}
}

// Locker serialises work per key across instances: reversals per
// transaction and webhook registration per merchant and gateway.
type Locker struct {
	client       redis.Cmdable
	ttl          time.Duration
	pollInterval time.Duration
	pollAttempts int
}

func NewLocker(client redis.Cmdable, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: client, ttl: ttl, pollInterval: 100 * time.Millisecond, pollAttempts: 20}
}

// WithLock runs fn while holding key. It returns ErrLockAcquisitionFailed
// when the key stays taken for the whole polling window.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ls := &lease{client: l.client, key: lockPrefix + key, token: uuid.NewString(), ttl: l.ttl}
	if err := l.acquire(ctx, ls); err != nil {
		return err
	}

	keepCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ls.keepAlive(keepCtx)
	}()
	defer func() {
		stop()
		<-done
		if err := ls.release(context.WithoutCancel(ctx)); err != nil {
			log.Debug().Err(err).Str("key", ls.key).Msg("Lock already gone at release")
		}
	}()

	return fn(ctx)
}

func (l *Locker) acquire(ctx context.Context, ls *lease) error {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	for i := 0; i < l.pollAttempts; i++ {
		ok, err := ls.tryAcquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return domainErrors.ErrLockAcquisitionFailed
}
