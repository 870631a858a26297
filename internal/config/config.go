// Package config loads gateway settings from defaults, an optional YAML file,
// a .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"mealscan-gateway/internal/auth"
	"mealscan-gateway/internal/blobstore"
	"mealscan-gateway/internal/recorder"
)

type Config struct {
	Port     string `yaml:"port"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`

	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Image     ImageConfig     `yaml:"image"`
	Vision    VisionConfig    `yaml:"vision"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Blob      BlobConfig      `yaml:"blob"`
	Auth      auth.Config     `yaml:"auth"`
}

type ServerConfig struct {
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type CacheConfig struct {
	Backend   string        `yaml:"backend"` // "memory" or "redis"
	TTL       time.Duration `yaml:"ttl"`
	Prefix    string        `yaml:"prefix"`
	VersionID string        `yaml:"version_id"`
}

type RateLimitConfig struct {
	Backend string        `yaml:"backend"` // "memory" or "redis"
	Window  time.Duration `yaml:"window"`
	Max     int           `yaml:"max"`
	Prefix  string        `yaml:"prefix"`
}

type ImageConfig struct {
	MaxBytes     int64    `yaml:"max_bytes"`
	AllowedTypes []string `yaml:"allowed_types"`
}

// VisionConfig configures the primary provider and its strategy.
type VisionConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	AttemptTimeout    time.Duration `yaml:"attempt_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxRetries        int           `yaml:"max_retries"`
	BaseBackoff       time.Duration `yaml:"base_backoff"`
	Timeout           time.Duration `yaml:"timeout"`
}

type RecorderConfig struct {
	Store recorder.StoreConfig `yaml:"store"`
	Queue recorder.Config      `yaml:"queue"`
}

type BlobConfig struct {
	Enabled          bool `yaml:"enabled"`
	blobstore.Config `yaml:",inline"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Port: "8080",
		Server: ServerConfig{
			RequestTimeout:  45 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    16 << 20,
		},
		Redis: RedisConfig{Addr: "127.0.0.1:6379"},
		Cache: CacheConfig{
			Backend:   "memory",
			TTL:       24 * time.Hour,
			Prefix:    "mealscan",
			VersionID: "v1",
		},
		RateLimit: RateLimitConfig{
			Backend: "memory",
			Window:  60 * time.Second,
			Max:     10,
			Prefix:  "mealscan:ratelimit",
		},
		Image: ImageConfig{MaxBytes: 10 << 20},
		Vision: VisionConfig{
			BaseURL:        "https://api.openai.com",
			Model:          "gpt-4o-mini",
			AttemptTimeout: 30 * time.Second,
			MaxRetries:     2,
			BaseBackoff:    200 * time.Millisecond,
			Timeout:        30 * time.Second,
		},
		Recorder: RecorderConfig{
			Store: recorder.StoreConfig{Driver: "sqlite", DSN: "mealscan.db"},
		},
	}
}

// Load reads a YAML config file over the defaults and expands environment
// variables in it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from well-known environment variables.
func (c *Config) ApplyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.Env, "ENV")
	setString(&c.LogLevel, "LOG_LEVEL")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")

	setString(&c.Cache.Backend, "CACHE_BACKEND")
	setString(&c.Cache.VersionID, "GATEWAY_VERSION")
	setString(&c.RateLimit.Backend, "RATE_LIMIT_BACKEND")

	setString(&c.Vision.BaseURL, "VISION_BASE_URL")
	setString(&c.Vision.APIKey, "VISION_API_KEY")
	setString(&c.Vision.Model, "VISION_MODEL")

	setString(&c.Recorder.Store.Driver, "RECORDER_DRIVER")
	setString(&c.Recorder.Store.DSN, "RECORDER_DSN")

	setString(&c.Blob.Region, "AWS_REGION")
	setString(&c.Blob.Region, "S3_REGION")
	setString(&c.Blob.PublicBaseURL, "CLOUDFRONT_URL")
	if v := os.Getenv("S3_BUCKET"); v != "" {
		c.Blob.Bucket = v
		c.Blob.Enabled = true
	}

	setString(&c.Auth.JWTSecret, "JWT_SECRET")

	var errs []string
	if err := setInt(&c.RateLimit.Max, "RATE_LIMIT_MAX"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := setDuration(&c.RateLimit.Window, "RATE_LIMIT_WINDOW"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := setDuration(&c.Cache.TTL, "CACHE_TTL"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := setBool(&c.Auth.Required, "AUTH_REQUIRED"); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("config: port is required")
	}
	if err := checkBackend("cache.backend", c.Cache.Backend); err != nil {
		return err
	}
	if err := checkBackend("rate_limit.backend", c.RateLimit.Backend); err != nil {
		return err
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		return errors.New("config: redis.addr is required for redis backends")
	}
	if c.Cache.TTL <= 0 {
		return errors.New("config: cache.ttl must be positive")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.Max <= 0 {
		return errors.New("config: rate_limit.window and rate_limit.max must be positive")
	}
	if c.Image.MaxBytes <= 0 {
		return errors.New("config: image.max_bytes must be positive")
	}
	if c.Vision.BaseURL == "" {
		return errors.New("config: vision.base_url is required")
	}
	if c.Vision.MaxRetries < 0 {
		return errors.New("config: vision.max_retries must not be negative")
	}
	if c.Server.RequestTimeout > 0 && c.Vision.Timeout >= c.Server.RequestTimeout {
		return errors.New("config: vision.timeout must be shorter than server.request_timeout")
	}
	switch c.Recorder.Store.Driver {
	case "", "none", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown recorder.store.driver %q", c.Recorder.Store.Driver)
	}
	if (c.Recorder.Store.Driver == "sqlite" || c.Recorder.Store.Driver == "postgres") && c.Recorder.Store.DSN == "" {
		return errors.New("config: recorder.store.dsn is required")
	}
	if c.Blob.Enabled {
		if err := c.Blob.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

// UsesRedis reports whether any component needs the redis client.
func (c *Config) UsesRedis() bool {
	return c.Cache.Backend == "redis" || c.RateLimit.Backend == "redis"
}

func checkBackend(name, v string) error {
	switch v {
	case "memory", "redis":
		return nil
	}
	return fmt.Errorf("config: %s must be memory or redis, got %q", name, v)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
