// Package nutrition converts provider recognition output into normalized
// per-item macro values.
//
// Reconciliation convention: when a provider reports only meal-level totals,
// the aggregate is split across items by normalized confidence weight
// (c_i / Σc), so per-item values sum to the aggregate up to rounding. Items
// that carry their own values keep them; only the remainder of the aggregate
// is apportioned among the rest.
package nutrition

import (
	"math"
	"strings"

	"mealscan-gateway/internal/apperr"
	"mealscan-gateway/internal/vision"
)

const (
	DefaultConfidence = 0.5
	DefaultUnit       = "serving"
	unknownItemName   = "Unknown item"
)

// ErrNoFoodDetected is a business outcome, not a technical failure.
var ErrNoFoodDetected = apperr.New(apperr.KindNoFoodDetected, nil)

type macros struct {
	calories, protein, carbs, fat, fiber float64
	hasFiber                             bool
}

func fromNutrients(n *vision.Nutrients) macros {
	if n == nil {
		return macros{}
	}
	m := macros{calories: n.Calories, protein: n.ProteinG, carbs: n.CarbsG, fat: n.FatG}
	if n.FiberG != nil {
		m.fiber, m.hasFiber = *n.FiberG, true
	}
	return m
}

func (m macros) add(o macros) macros {
	return macros{
		calories: m.calories + o.calories,
		protein:  m.protein + o.protein,
		carbs:    m.carbs + o.carbs,
		fat:      m.fat + o.fat,
		fiber:    m.fiber + o.fiber,
		hasFiber: m.hasFiber || o.hasFiber,
	}
}

func (m macros) scale(f float64) macros {
	return macros{
		calories: m.calories * f,
		protein:  m.protein * f,
		carbs:    m.carbs * f,
		fat:      m.fat * f,
		fiber:    m.fiber * f,
		hasFiber: m.hasFiber,
	}
}

// remainderAfter returns m minus o, floored at zero per macro.
func (m macros) remainderAfter(o macros) macros {
	return macros{
		calories: math.Max(0, m.calories-o.calories),
		protein:  math.Max(0, m.protein-o.protein),
		carbs:    math.Max(0, m.carbs-o.carbs),
		fat:      math.Max(0, m.fat-o.fat),
		fiber:    math.Max(0, m.fiber-o.fiber),
		hasFiber: m.hasFiber,
	}
}

func (m macros) max(o macros) macros {
	return macros{
		calories: math.Max(m.calories, o.calories),
		protein:  math.Max(m.protein, o.protein),
		carbs:    math.Max(m.carbs, o.carbs),
		fat:      math.Max(m.fat, o.fat),
		fiber:    math.Max(m.fiber, o.fiber),
		hasFiber: m.hasFiber || o.hasFiber,
	}
}

// Apportion builds a Result from a provider response. A response without
// items yields ErrNoFoodDetected. AnalysisID and CreatedAt are left for the
// caller to stamp.
func Apportion(resp *vision.Response) (*Result, error) {
	if resp == nil || len(resp.Items) == 0 {
		return nil, ErrNoFoodDetected
	}

	n := len(resp.Items)
	conf := make([]float64, n)
	values := make([]macros, n)

	var known macros
	var unknown []int
	var unknownWeight float64

	for i, it := range resp.Items {
		conf[i] = normalizeConfidence(it.Confidence)
		if it.Nutrients != nil {
			values[i] = fromNutrients(it.Nutrients)
			known = known.add(values[i])
		} else {
			unknown = append(unknown, i)
			unknownWeight += conf[i]
		}
	}

	var totals macros
	switch {
	case resp.Aggregate != nil && len(unknown) > 0:
		aggregate := fromNutrients(resp.Aggregate)
		remainder := aggregate.remainderAfter(known)
		for _, i := range unknown {
			w := 1 / float64(len(unknown))
			if unknownWeight > 0 {
				w = conf[i] / unknownWeight
			}
			values[i] = remainder.scale(w)
		}
		// The aggregate is kept verbatim unless items with their own values
		// already exceed it.
		totals = aggregate.max(known)
	default:
		for _, v := range values {
			totals = totals.add(v)
		}
	}

	out := &Result{
		Items: make([]Item, n),
		Notes: resp.Notes,
	}

	var confSum float64
	for i, it := range resp.Items {
		v := values[i]
		item := Item{
			Name:       strings.TrimSpace(it.Name),
			Quantity:   it.Quantity,
			Unit:       strings.TrimSpace(it.Unit),
			Confidence: conf[i],
			Calories:   round1(v.calories),
			ProteinG:   round1(v.protein),
			CarbsG:     round1(v.carbs),
			FatG:       round1(v.fat),
		}
		if item.Name == "" {
			item.Name = unknownItemName
		}
		if item.Quantity <= 0 {
			item.Quantity = 1
		}
		if item.Unit == "" {
			item.Unit = DefaultUnit
		}
		if v.hasFiber {
			f := round1(v.fiber)
			item.FiberG = &f
		}
		out.Items[i] = item
		confSum += conf[i]
	}

	out.Totals = Totals{
		Calories: round1(totals.calories),
		ProteinG: round1(totals.protein),
		CarbsG:   round1(totals.carbs),
		FatG:     round1(totals.fat),
	}
	if totals.hasFiber {
		f := round1(totals.fiber)
		out.Totals.FiberG = &f
	}
	out.Confidence = confSum / float64(n)

	return out, nil
}

// percentFloor is the smallest confidence read as a percentage.
const percentFloor = 2

func normalizeConfidence(c *float64) float64 {
	if c == nil || math.IsNaN(*c) {
		return DefaultConfidence
	}
	v := *c
	// Some providers report percentages. Values just above 1 are treated as
	// overshoot and clamped.
	if v >= percentFloor && v <= 100 {
		v /= 100
	}
	return math.Min(1, math.Max(0, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
