// Package ratelimit bounds how many analyses a caller may start within a
// trailing time window (sliding log).
package ratelimit

import (
	"context"
	"time"
)

const (
	DefaultWindow = 60 * time.Second
	DefaultMax    = 10
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is the caller-facing hint for denied requests: the window
	// length.
	RetryAfter time.Duration
}

// Limiter admits or denies requests per caller.
type Limiter interface {
	Admit(ctx context.Context, callerID string) (Decision, error)
}

type Config struct {
	Backend string // "memory" or "redis"
	Window  time.Duration
	Max     int
	Prefix  string
}

// WithDefaults returns a copy of Config with defaults applied.
func (c Config) WithDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Max <= 0 {
		c.Max = DefaultMax
	}
	return c
}
