package rate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited matches every *LimitError.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// LimitError carries the rule that was exceeded, for client display.
type LimitError struct {
	Endpoint string
	Limit    int
	Window   time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limited: %s allows %d requests per %s", e.Endpoint, e.Limit, e.Window)
}

func (e *LimitError) Is(target error) bool { return target == ErrRateLimited }
