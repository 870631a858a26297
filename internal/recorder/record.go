// Package recorder persists a write-once record of every finalized analysis
// off the request path.
package recorder

import (
	"context"
	"errors"
	"time"

	"mealscan-gateway/internal/nutrition"
)

// Outcome values stored with a record.
const (
	OutcomeSuccess        = "success"
	OutcomeNoFoodDetected = "no_food_detected"
)

var ErrNotFound = errors.New("analysis record not found")

// Record is the audit entry for one analysis. Result is nil for
// no-food-detected outcomes.
type Record struct {
	ID        string
	CallerID  string
	Result    *nutrition.Result
	Duration  time.Duration
	Provider  string
	Cached    bool
	Outcome   string
	ImageHash string
	ImageURL  string
	CreatedAt time.Time
}

// Store saves records. Save must fail on an existing ID.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Close() error
}
