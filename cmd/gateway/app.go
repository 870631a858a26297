package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mealscan-gateway/internal/analysis"
	"mealscan-gateway/internal/blobstore"
	"mealscan-gateway/internal/cache"
	"mealscan-gateway/internal/config"
	"mealscan-gateway/internal/imagecheck"
	"mealscan-gateway/internal/ratelimit"
	"mealscan-gateway/internal/recognition"
	"mealscan-gateway/internal/recorder"
	"mealscan-gateway/internal/vision"
)

// loadConfig layers defaults, the optional YAML file, .env, the environment
// and finally flags.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if flags.port != "" {
		cfg.Port = flags.port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app owns every long-lived component of the pipeline.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	service  *analysis.Service
	recorder *recorder.Recorder
	limiter  ratelimit.Limiter

	redis  *redis.Client
	vision *vision.Client
	// health is nil unless a shared backend is configured.
	health func(ctx context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	// ----- Redis client (only if needed) -----
	if cfg.UsesRedis() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		// Fail fast if Redis is misconfigured
		if err := a.redis.Ping(ctx).Err(); err != nil {
			_ = a.redis.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))
		a.health = cache.NewRedisStore(a.redis, cache.RedisConfig{Prefix: cfg.Cache.Prefix}).Ping
	}

	// ----- Content cache -----
	cacheStore := cache.NewStore(cache.Config{
		Backend:   cfg.Cache.Backend,
		TTL:       cfg.Cache.TTL,
		Prefix:    cfg.Cache.Prefix,
		VersionID: cfg.Cache.VersionID,
	}, a.redis)
	results := cache.NewResultCache(cacheStore, cfg.Cache.TTL)

	// ----- Rate limiter -----
	a.limiter = ratelimit.New(ratelimit.Config{
		Backend: cfg.RateLimit.Backend,
		Window:  cfg.RateLimit.Window,
		Max:     cfg.RateLimit.Max,
		Prefix:  cfg.RateLimit.Prefix,
	}, a.redis)

	// ----- Recognition chain -----
	client, err := vision.NewClient(vision.Config{
		BaseURL:           cfg.Vision.BaseURL,
		APIKey:            cfg.Vision.APIKey,
		Model:             cfg.Vision.Model,
		AttemptTimeout:    cfg.Vision.AttemptTimeout,
		RequestsPerSecond: cfg.Vision.RequestsPerSecond,
		Burst:             cfg.Vision.Burst,
	}, logger)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.vision = client
	if !client.Configured() {
		logger.Warn("vision api key not set, serving synthetic estimates only")
	}

	primary := recognition.Strategy{
		Name:        client.Name(),
		Provider:    client,
		MaxRetries:  cfg.Vision.MaxRetries,
		BaseBackoff: cfg.Vision.BaseBackoff,
		Timeout:     cfg.Vision.Timeout,
	}
	synthetic := recognition.NewStrategy(vision.NewSynthetic())
	synthetic.Timeout = cfg.Vision.Timeout
	orchestrator := recognition.New(primary, synthetic)

	// ----- Blob store (optional) -----
	var blobs blobstore.Store
	if cfg.Blob.Enabled {
		s3Store, err := blobstore.NewS3Store(ctx, cfg.Blob.Config)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		blobs = s3Store
		logger.Info("blob store enabled", zap.String("bucket", cfg.Blob.Bucket))
	}

	// ----- Analysis recorder -----
	store, err := recorder.OpenStore(cfg.Recorder.Store)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.recorder = recorder.New(store, blobs, cfg.Recorder.Queue, logger)

	a.service = analysis.New(analysis.Deps{
		Validator:    imagecheck.New(cfg.Image.MaxBytes, cfg.Image.AllowedTypes),
		Cache:        results,
		CacheVersion: cfg.Cache.VersionID,
		Limiter:      a.limiter,
		Recognizer:   orchestrator,
		Recorder:     a.recorder,
		Blobs:        blobs,
	})

	logger.Info("pipeline ready",
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("rate_limit_backend", cfg.RateLimit.Backend),
		zap.Strings("strategies", orchestrator.Strategies()),
		zap.String("recorder_driver", cfg.Recorder.Store.Driver),
		zap.Bool("blob_store", blobs != nil),
	)
	return a, nil
}

// runPruner evicts idle callers from the in-memory limiter until ctx ends.
func (a *app) runPruner(ctx context.Context) {
	wrapped, ok := a.limiter.(interface{ Inner() ratelimit.Limiter })
	if !ok {
		return
	}
	if mem, ok := wrapped.Inner().(*ratelimit.MemoryLimiter); ok {
		go mem.RunPruner(ctx, 0)
	}
}

// close drains the recorder and releases clients. Safe on a partly built app.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.recorder != nil {
		if err := a.recorder.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("recorder: %w", err))
		}
	}
	if a.vision != nil {
		_ = a.vision.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
