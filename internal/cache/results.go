package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mealscan-gateway/internal/nutrition"
)

// DefaultTTL is how long a recognition result is served from cache.
const DefaultTTL = 24 * time.Hour

type resultEntry struct {
	StoredAt time.Time         `json:"stored_at"`
	Result   *nutrition.Result `json:"result"`
}

// ResultCache stores recognition results keyed by image content. An entry is
// valid while now - StoredAt < TTL; older entries read as absent regardless
// of whether the backing store still holds them.
type ResultCache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

func NewResultCache(store Store, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ResultCache{store: store, ttl: ttl, now: time.Now}
}

// SetClock overrides the time source. Tests only.
func (c *ResultCache) SetClock(now func() time.Time) { c.now = now }

// Get returns the cached result for key. Decode failures are reported as an
// error together with a miss.
func (c *ResultCache) Get(ctx context.Context, key ContentKey) (*nutrition.Result, bool, error) {
	raw, ok, err := c.store.Get(ctx, key.String())
	if err != nil || !ok {
		return nil, false, err
	}

	var e resultEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("decode cached result: %w", err)
	}
	if e.Result == nil {
		return nil, false, nil
	}
	if c.now().Sub(e.StoredAt) >= c.ttl {
		return nil, false, nil
	}

	return e.Result, true, nil
}

// Put stores a successful result. Failures are never cached, so callers only
// reach Put with a non-empty result.
func (c *ResultCache) Put(ctx context.Context, key ContentKey, r *nutrition.Result) error {
	if r == nil || len(r.Items) == 0 {
		return errors.New("refusing to cache empty result")
	}

	raw, err := json.Marshal(resultEntry{StoredAt: c.now(), Result: r})
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	return c.store.Set(ctx, key.String(), raw, c.ttl)
}
