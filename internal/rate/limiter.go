package rate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix       = "rate-limit"
	bucketsPerFrame = 60
	minBucket       = time.Second
)

// Rule is the budget of one endpoint.
type Rule struct {
	Limit  int           `toml:"limit"`
	Window time.Duration `toml:"window"`
}

// Sealer turns a client address into an opaque, stable identity.
type Sealer interface {
	Seal(plaintext []byte) (string, error)
	Open(token string) ([]byte, error)
}

// Limiter enforces sliding-window budgets using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	sealer Sealer
	now    func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter backed by the given Redis client.
func New(redisClient redis.UniversalClient, sealer Sealer, opts ...Option) *Limiter {
	l := &Limiter{redis: redisClient, sealer: sealer, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Identity returns the key fragment used for clientIP.
func (l *Limiter) Identity(clientIP string) (string, error) {
	id, err := l.sealer.Seal([]byte(clientIP))
	if err != nil {
		return "", fmt.Errorf("rate: identity: %w", err)
	}
	return id, nil
}

// Reveal decrypts an identity found in a Redis key back to the client IP.
func (l *Limiter) Reveal(identity string) (string, error) {
	ip, err := l.sealer.Open(identity)
	if err != nil {
		return "", err
	}
	return string(ip), nil
}

// Allow counts one request from clientIP against rule. It returns a
// *LimitError once more than rule.Limit requests fall inside the trailing
// window. Rejected requests are counted too.
func (l *Limiter) Allow(ctx context.Context, endpoint, clientIP string, rule Rule) error {
	if rule.Limit <= 0 || rule.Window <= 0 {
		return nil
	}

	identity, err := l.Identity(clientIP)
	if err != nil {
		return err
	}
	width := bucketWidth(rule.Window)
	span := int64((rule.Window + width - 1) / width)
	current := l.now().UnixNano() / int64(width)
	base := keyPrefix + ":" + endpoint + ":" + identity + ":"

	previous := make([]string, 0, span-1)
	for b := current - span + 1; b < current; b++ {
		previous = append(previous, base+strconv.FormatInt(b, 10))
	}

	var (
		incr *redis.IntCmd
		mget *redis.SliceCmd
	)
	_, err = l.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		key := base + strconv.FormatInt(current, 10)
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, rule.Window+width)
		if len(previous) > 0 {
			mget = p.MGet(ctx, previous...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	total := incr.Val()
	if mget != nil {
		for _, v := range mget.Val() {
			total += parseCount(v)
		}
	}

	if total > int64(rule.Limit) {
		return &LimitError{Endpoint: endpoint, Limit: rule.Limit, Window: rule.Window}
	}
	return nil
}

func bucketWidth(window time.Duration) time.Duration {
	w := window / bucketsPerFrame
	if w < minBucket {
		w = minBucket
	}
	return w
}

func parseCount(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
