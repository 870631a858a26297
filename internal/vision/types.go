package vision

import "context"

// Meal category hints accepted by providers.
const (
	CategoryBreakfast = "breakfast"
	CategoryLunch     = "lunch"
	CategoryDinner    = "dinner"
	CategorySnack     = "snack"
)

// ValidCategory reports whether hint is empty or one of the known categories.
func ValidCategory(hint string) bool {
	switch hint {
	case "", CategoryBreakfast, CategoryLunch, CategoryDinner, CategorySnack:
		return true
	}
	return false
}

type Request struct {
	Image        []byte
	ContentType  string
	CategoryHint string
}

// Nutrients are macro values for one item or a whole meal.
type Nutrients struct {
	Calories float64  `json:"calories"`
	ProteinG float64  `json:"protein_g"`
	CarbsG   float64  `json:"carbs_g"`
	FatG     float64  `json:"fat_g"`
	FiberG   *float64 `json:"fiber_g,omitempty"`
}

// Item is one recognized food as the provider reported it. Confidence and
// Nutrients are optional; the nutrition package fills the gaps.
type Item struct {
	Name       string     `json:"name"`
	Quantity   float64    `json:"quantity,omitempty"`
	Unit       string     `json:"unit,omitempty"`
	Confidence *float64   `json:"confidence,omitempty"`
	Nutrients  *Nutrients `json:"nutrients,omitempty"`
}

// Response is the provider-native recognition output.
type Response struct {
	Items     []Item     `json:"items"`
	Aggregate *Nutrients `json:"aggregate,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

// Provider recognizes food in an image.
type Provider interface {
	Name() string
	// Configured reports whether the provider has what it needs (credentials,
	// endpoint) to be called at all.
	Configured() bool
	Recognize(ctx context.Context, req Request) (*Response, error)
}
