package nutrition

import "time"

// Item is one recognized food with its apportioned macro values.
type Item struct {
	Name       string   `json:"name"`
	Quantity   float64  `json:"quantity"`
	Unit       string   `json:"unit"`
	Confidence float64  `json:"confidence"`
	Calories   float64  `json:"calories"`
	ProteinG   float64  `json:"protein_g"`
	CarbsG     float64  `json:"carbs_g"`
	FatG       float64  `json:"fat_g"`
	FiberG     *float64 `json:"fiber_g,omitempty"`
}

type Totals struct {
	Calories float64  `json:"calories"`
	ProteinG float64  `json:"protein_g"`
	CarbsG   float64  `json:"carbs_g"`
	FatG     float64  `json:"fat_g"`
	FiberG   *float64 `json:"fiber_g,omitempty"`
}

// Result is the normalized hand-off artifact consumed by meal logging.
// It is treated as immutable once cached or recorded.
type Result struct {
	AnalysisID string    `json:"analysisId"`
	Items      []Item    `json:"items"`
	Totals     Totals    `json:"totals"`
	Confidence float64   `json:"confidence"`
	Provider   string    `json:"provider,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Clone returns a deep copy so callers can stamp per-response fields without
// touching a shared (cached) value.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.Items = make([]Item, len(r.Items))
	for i, it := range r.Items {
		out.Items[i] = it
		out.Items[i].FiberG = cloneFloat(it.FiberG)
	}
	out.Totals.FiberG = cloneFloat(r.Totals.FiberG)
	return &out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
