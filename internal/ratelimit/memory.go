package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps per-caller admission timestamps in process memory.
// State is not durable: it resets on restart and is not shared between
// instances.
type MemoryLimiter struct {
	window time.Duration
	max    int

	mu      sync.Mutex
	callers map[string][]time.Time
	now     func() time.Time
}

func NewMemoryLimiter(window time.Duration, limit int) *MemoryLimiter {
	cfg := Config{Window: window, Max: limit}.WithDefaults()
	return &MemoryLimiter{
		window:  cfg.Window,
		max:     cfg.Max,
		callers: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (l *MemoryLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Admit drops timestamps that left the window, then admits if fewer than max
// remain. The new timestamp is recorded only on admission.
func (l *MemoryLimiter) Admit(_ context.Context, callerID string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	stamps := l.callers[callerID]
	keep := 0
	for keep < len(stamps) && !stamps[keep].After(cutoff) {
		keep++
	}
	stamps = stamps[keep:]

	if len(stamps) >= l.max {
		l.callers[callerID] = stamps
		return Decision{Allowed: false, Remaining: 0, RetryAfter: l.window}, nil
	}

	stamps = append(stamps, now)
	l.callers[callerID] = stamps

	return Decision{Allowed: true, Remaining: l.max - len(stamps)}, nil
}

// Prune forgets callers whose every timestamp has left the window. It keeps
// the caller map from growing without bound on long-running processes.
func (l *MemoryLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	removed := 0
	for id, stamps := range l.callers {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.callers, id)
			removed++
		}
	}
	return removed
}

// Callers returns the number of tracked callers.
func (l *MemoryLimiter) Callers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.callers)
}

// RunPruner calls Prune every interval until ctx is done.
func (l *MemoryLimiter) RunPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = l.window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Prune()
		case <-ctx.Done():
			return
		}
	}
}
