package limiter

import (
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"github.com/go-redis/redis/v7"
	"go.uber.org/zap"
)

// Options provides initialization parameters for Limiter
type Options struct {
	Redis  redis.UniversalClient
	Logger *zap.Logger

	// Prefix namespaces the counter keys in redis
	Prefix string
	// Max requests allowed per Window
	Max    int64
	Window time.Duration
}

// Limiter is a fixed-window rate limiter backed by redis. One instance guards
// one budget (e.g. purchases per user, or the outbound ad-event budget).
type Limiter struct {
	Options
}

// New will return a new instance of Limiter
func New(option Options) (*Limiter, error) {
	if option.Redis == nil {
		return nil, fmt.Errorf("nil Redis is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if len(option.Prefix) == 0 {
		return nil, fmt.Errorf("empty Prefix is invalid")
	}
	if option.Max < 1 {
		return nil, fmt.Errorf("Max must be at least 1")
	}
	if option.Window < time.Second {
		return nil, fmt.Errorf("Window must be at least a second")
	}
	return &Limiter{
		Options: option,
	}, nil
}

// Allow reports whether another request fits the window budget for key.
// The first hit in a window sets the expiry; the counter resets when it lapses.
func (l *Limiter) Allow(key string) (bool, error) {
	counterKey := fmt.Sprintf("limiter:%s:%s", l.Prefix, key)
	count, err := l.Redis.Incr(counterKey).Result()
	if err != nil {
		return false, extErrors.Wrap(err, "Cannot increment rate limit counter")
	}
	if count == 1 {
		if err := l.Redis.Expire(counterKey, l.Window).Err(); err != nil {
			l.Logger.Error("Unable to set rate limit window expiry",
				zap.String("Key", counterKey),
				zap.Error(err),
			)
		}
	}
	return count <= l.Max, nil
}
