package auth

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginRateLimiter bounds failed login attempts per email. Allow is a pure
// read; the counter only moves when RecordFailure is called, so successful
// logins never eat into the budget. Implementations fail open: an
// unreachable backend must not lock everyone out.
type LoginRateLimiter interface {
	Allow(email string) bool
	RecordFailure(email string)
}

type noopLimiter struct{}

func (noopLimiter) Allow(string) bool { return true }
func (noopLimiter) RecordFailure(string) {}

const redisLoginFailScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

type redisLoginLimiter struct {
	client redisEvaler
	window time.Duration
	max    int
	prefix string
}

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// NewRedisLoginLimiter allows max failed attempts per email within window.
func NewRedisLoginLimiter(client *redis.Client, window time.Duration, max int) LoginRateLimiter {
	if client == nil {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	return &redisLoginLimiter{client: client, window: window, max: max, prefix: "login:rl:"}
}

func (l *redisLoginLimiter) key(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (l *redisLoginLimiter) Allow(email string) bool {
	if l == nil || l.client == nil {
		return true
	}
	key := l.key(email)
	if key == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	n, err := l.client.Get(ctx, l.prefix+key).Int()
	if err != nil {
		// redis.Nil means no failures in the window.
		return true
	}
	return n < l.max
}

func (l *redisLoginLimiter) RecordFailure(email string) {
	if l == nil || l.client == nil {
		return
	}
	key := l.key(email)
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	seconds := int(l.window.Seconds())
	l.client.Eval(ctx, redisLoginFailScript, []string{l.prefix + key}, seconds)
}
