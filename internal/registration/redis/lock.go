package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-registration/internal/config"
	"ms-registration/internal/logger"
	"ms-registration/internal/utils"

	"github.com/go-redis/redis/v8"
)

// ErrLockTimeout means another request kept the event lock for longer than
// the configured wait.
var ErrLockTimeout = errors.New("event registration lock busy")

const retryInterval = 50 * time.Millisecond

// unlockScript deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	Client *redis.Client
	Logger *logger.Logger
	ttl    time.Duration
	wait   time.Duration
}

func NewRedis(client *redis.Client, cfg config.LockConfig, log *logger.Logger) *Redis {
	return &Redis{
		Client: client,
		Logger: log,
		ttl:    cfg.TTL,
		wait:   cfg.Wait,
	}
}

func eventLockKey(eventID int64) string {
	return fmt.Sprintf("registration_lock:event:%d", eventID)
}

// LockEvent takes the per-event registration lock, polling until the wait
// budget runs out. The returned token must be passed to UnlockEvent.
func (r *Redis) LockEvent(ctx context.Context, eventID int64) (string, error) {
	key := eventLockKey(eventID)
	token := utils.GenerateLockToken()
	deadline := time.Now().Add(r.wait)

	for {
		ok, err := r.Client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("redis lock error: %w", err)
		}
		if ok {
			r.Logger.Debug("LOCK", fmt.Sprintf("Acquired %s", key))
			return token, nil
		}
		if time.Now().After(deadline) {
			r.Logger.Warn("LOCK", fmt.Sprintf("Timed out waiting for %s", key))
			return "", ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// UnlockEvent releases the lock if token still owns it. An expired or stolen
// lock is not an error.
func (r *Redis) UnlockEvent(ctx context.Context, eventID int64, token string) error {
	key := eventLockKey(eventID)
	released, err := unlockScript.Run(ctx, r.Client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("redis unlock error: %w", err)
	}
	if released == 0 {
		r.Logger.Warn("LOCK", fmt.Sprintf("Lock %s expired before release", key))
		return nil
	}
	r.Logger.Debug("LOCK", fmt.Sprintf("Released %s", key))
	return nil
}
