package recorder

import (
	"encoding/json"
	"fmt"
	"time"

	"mealscan-gateway/internal/nutrition"
)

// analysisRow is the flattened table shape shared by the SQL stores. Totals
// are denormalized for querying; the full result is kept as JSON.
type analysisRow struct {
	ID         string    `gorm:"primaryKey;size:36"`
	CallerID   string    `gorm:"index;not null"`
	AnalysisID string    `gorm:"size:36"`
	Provider   string    `gorm:"size:64"`
	Cached     bool      `gorm:"not null;default:false"`
	Outcome    string    `gorm:"index;size:32;not null"`
	ImageHash  string    `gorm:"index;size:64"`
	ImageURL   string    `gorm:"type:text"`
	ItemCount  int       `gorm:"not null;default:0"`
	Calories   float64   `gorm:"not null;default:0"`
	ProteinG   float64   `gorm:"not null;default:0"`
	CarbsG     float64   `gorm:"not null;default:0"`
	FatG       float64   `gorm:"not null;default:0"`
	Confidence float64   `gorm:"not null;default:0"`
	ResultJSON string    `gorm:"type:text"`
	DurationMs int64     `gorm:"not null;default:0"`
	CreatedAt  time.Time `gorm:"index;not null"`
}

func (analysisRow) TableName() string { return "analysis_records" }

func toRow(rec Record) (analysisRow, error) {
	row := analysisRow{
		ID:         rec.ID,
		CallerID:   rec.CallerID,
		Provider:   rec.Provider,
		Cached:     rec.Cached,
		Outcome:    rec.Outcome,
		ImageHash:  rec.ImageHash,
		ImageURL:   rec.ImageURL,
		DurationMs: rec.Duration.Milliseconds(),
		CreatedAt:  rec.CreatedAt.UTC(),
	}
	if rec.Result != nil {
		b, err := json.Marshal(rec.Result)
		if err != nil {
			return analysisRow{}, fmt.Errorf("encode result: %w", err)
		}
		row.ResultJSON = string(b)
		row.AnalysisID = rec.Result.AnalysisID
		row.ItemCount = len(rec.Result.Items)
		row.Calories = rec.Result.Totals.Calories
		row.ProteinG = rec.Result.Totals.ProteinG
		row.CarbsG = rec.Result.Totals.CarbsG
		row.FatG = rec.Result.Totals.FatG
		row.Confidence = rec.Result.Confidence
	}
	return row, nil
}

func (r analysisRow) toRecord() (Record, error) {
	rec := Record{
		ID:        r.ID,
		CallerID:  r.CallerID,
		Provider:  r.Provider,
		Cached:    r.Cached,
		Outcome:   r.Outcome,
		ImageHash: r.ImageHash,
		ImageURL:  r.ImageURL,
		Duration:  time.Duration(r.DurationMs) * time.Millisecond,
		CreatedAt: r.CreatedAt,
	}
	if r.ResultJSON != "" {
		var res nutrition.Result
		if err := json.Unmarshal([]byte(r.ResultJSON), &res); err != nil {
			return Record{}, fmt.Errorf("decode result: %w", err)
		}
		rec.Result = &res
	}
	return rec, nil
}
