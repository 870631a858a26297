package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T, prefix string) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, RedisConfig{Prefix: prefix}), mr
}

func TestRedisStoreGetSet(t *testing.T) {
	store, mr := newTestRedisStore(t, "mealscan")
	ctx := context.Background()

	if _, hit, err := store.Get(ctx, "content:v1:abc"); hit || err != nil {
		t.Fatalf("expected clean miss, hit=%v err=%v", hit, err)
	}

	if err := store.Set(ctx, "content:v1:abc", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, hit, err := store.Get(ctx, "content:v1:abc")
	if err != nil || !hit {
		t.Fatalf("expected hit, hit=%v err=%v", hit, err)
	}
	if string(got) != "payload" {
		t.Fatalf("expected payload, got %q", got)
	}

	if !mr.Exists("mealscan:content:v1:abc") {
		t.Fatalf("expected key under prefix, have %v", mr.Keys())
	}
	if ttl := mr.TTL("mealscan:content:v1:abc"); ttl != time.Minute {
		t.Fatalf("expected native ttl of one minute, got %s", ttl)
	}

	mr.FastForward(time.Minute)
	if _, hit, _ := store.Get(ctx, "content:v1:abc"); hit {
		t.Fatalf("expected miss after native expiry")
	}
}

func TestRedisStoreNonPositiveTTLIsNoop(t *testing.T) {
	store, mr := newTestRedisStore(t, "")
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected nothing written, have %v", mr.Keys())
	}
}

func TestRedisStoreErrors(t *testing.T) {
	store, mr := newTestRedisStore(t, "p")

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := store.Get(ctx, "k"); err == nil {
		t.Fatalf("expected context error on Get")
	}
	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err == nil {
		t.Fatalf("expected context error on Set")
	}

	mr.Close()
	if _, hit, err := store.Get(context.Background(), "k"); hit || err == nil {
		t.Fatalf("expected error and miss with redis down, hit=%v err=%v", hit, err)
	}
	if err := store.Ping(context.Background()); err == nil {
		t.Fatalf("expected Ping to fail with redis down")
	}
}

func TestResultCacheOverRedis(t *testing.T) {
	clock := newFakeClock()
	store, _ := newTestRedisStore(t, "mealscan")
	rc := NewResultCache(NewLoggingStore(store), 24*time.Hour)
	rc.SetClock(clock.Now)

	ctx := context.Background()
	key := BuildContentKey([]byte("img"), "v1")

	if _, hit, _ := rc.Get(ctx, key); hit {
		t.Fatalf("expected miss on empty cache")
	}
	if err := rc.Put(ctx, key, sampleResult()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, hit, err := rc.Get(ctx, key)
	if err != nil || !hit {
		t.Fatalf("expected hit, hit=%v err=%v", hit, err)
	}
	if got.Items[0].Name != "Chicken" || got.Totals.Calories != 300 {
		t.Fatalf("unexpected cached result %#v", got)
	}

	// The stored-at stamp governs expiry even while redis still holds the key.
	clock.Advance(24 * time.Hour)
	if _, hit, _ := rc.Get(ctx, key); hit {
		t.Fatalf("entry inserted at T must be absent at T+TTL")
	}
}

func TestNewStoreSelectsRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewStore(Config{Backend: "redis", Prefix: "gw"}, client)
	if err := store.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !mr.Exists("gw:k") {
		t.Fatalf("expected prefixed key, have %v", mr.Keys())
	}
}
