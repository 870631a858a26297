package cache

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestMemoryStoreTTL(t *testing.T) {
	clock := newFakeClock()
	c := NewMemoryStore()
	c.SetClock(clock.Now)

	ctx := context.Background()
	key := "test:key"

	if err := c.Set(ctx, key, []byte("hello"), 20*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, hit, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !hit {
		t.Fatalf("expected hit immediately after Set")
	}
	if string(got) != "hello" {
		t.Fatalf("expected 'hello', got %q", got)
	}

	clock.Advance(20 * time.Second)

	if _, hit, _ = c.Get(ctx, key); hit {
		t.Fatalf("expected miss at exactly TTL")
	}
	if c.Len() != 1 {
		t.Fatalf("expired entry should not be swept, got len %d", c.Len())
	}

	if err := c.Set(ctx, key, []byte("again"), 20*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got, hit, _ := c.Get(ctx, key); !hit || string(got) != "again" {
		t.Fatalf("expected expired entry to be replaced, got %q hit=%v", got, hit)
	}
}

func TestMemoryStoreCopiesValue(t *testing.T) {
	c := NewMemoryStore()
	ctx := context.Background()

	buf := []byte("abc")
	_ = c.Set(ctx, "k", buf, time.Minute)
	buf[0] = 'z'

	got, _, _ := c.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("store must not alias caller buffer, got %q", got)
	}
}

func TestMemoryStoreConcurrentWrites(t *testing.T) {
	c := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Set(ctx, "same", []byte("value"), time.Minute)
			_, _, _ = c.Get(ctx, "same")
		}()
	}
	wg.Wait()

	got, hit, _ := c.Get(ctx, "same")
	if !hit || string(got) != "value" {
		t.Fatalf("expected intact entry after concurrent writes, got %q", got)
	}
}

func TestMemoryStoreNonPositiveTTLDeletes(t *testing.T) {
	c := NewMemoryStore()
	ctx := context.Background()

	_ = c.Set(ctx, "k", []byte("v"), time.Minute)
	_ = c.Set(ctx, "k", []byte("v"), 0)

	if _, hit, _ := c.Get(ctx, "k"); hit {
		t.Fatalf("expected delete on ttl <= 0")
	}
}
