package recorder

import (
	"context"
	"fmt"
)

type StoreConfig struct {
	// Driver is "sqlite", "postgres" or "none".
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `yaml:"dsn"`
}

// OpenStore returns the store selected by cfg.
func OpenStore(cfg StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLiteStore(cfg.DSN)
	case "postgres":
		return NewPostgresStore(cfg.DSN)
	case "", "none":
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("recorder: unknown store driver %q", cfg.Driver)
	}
}

// NopStore discards records.
type NopStore struct{}

func (NopStore) Save(context.Context, Record) error { return nil }
func (NopStore) Close() error                       { return nil }
