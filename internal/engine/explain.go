package engine

import (
	"fmt"
	"strings"
)

// Cost returns the price of running s at powerKWh per ON hour
func Cost(s Schedule, pm PriceMap, powerKWh float64) float64 {
	total := 0.0
	for h, v := range s {
		if v == 1 {
			total += powerKWh * pm[h].Price
		}
	}
	return total
}

// Evaluate compares the original and final schedules of one appliance and
// explains every hour that moved.
func Evaluate(original, final Schedule, pm PriceMap, powerKWh float64) Explanation {
	exp := Explanation{
		BaselineCost:     Cost(original, pm, powerKWh),
		OptimizedCost:    Cost(final, pm, powerKWh),
		OriginalOnHours:  original.OnHours(),
		OptimizedOnHours: final.OnHours(),
	}
	if exp.BaselineCost > exp.OptimizedCost {
		exp.Savings = exp.BaselineCost - exp.OptimizedCost
	}

	if original == final {
		exp.Reasons = []Reason{{
			Kind: ReasonNoChange,
			Text: "No changes required; the schedule already fits the tariff constraints.",
		}}
		return exp
	}

	exp.Reasons = []Reason{}
	for _, m := range pairMoves(original, final) {
		exp.Reasons = append(exp.Reasons, explainMove(m[0], m[1], pm))
	}

	kept := []int{}
	for _, h := range final.OnHours() {
		if pm[h].Band == BandPeak {
			kept = append(kept, h)
		}
	}
	if len(kept) > 0 {
		labels := make([]string, len(kept))
		for i, h := range kept {
			labels[i] = clock(h)
		}
		exp.Reasons = append(exp.Reasons, Reason{
			Kind:  ReasonPeakKept,
			Hours: kept,
			Text:  fmt.Sprintf("Peak hours retained at [%s] per user permission for this appliance.", strings.Join(labels, ", ")),
		})
	}
	return exp
}

// pairMoves pairs hours switched off with hours switched on, both in ascending
// order. Unmatched hours come from a change in the ON count and are not moves.
func pairMoves(original, final Schedule) [][2]int {
	removed, added := []int{}, []int{}
	for h := range original {
		switch {
		case original[h] == 1 && final[h] == 0:
			removed = append(removed, h)
		case original[h] == 0 && final[h] == 1:
			added = append(added, h)
		}
	}
	n := min(len(removed), len(added))
	pairs := make([][2]int, n)
	for i := 0; i < n; i++ {
		pairs[i] = [2]int{removed[i], added[i]}
	}
	return pairs
}

func explainMove(from, to int, pm PriceMap) Reason {
	src, dst := pm[from], pm[to]
	r := Reason{Move: &Move{From: from, To: to}}
	switch {
	case src.Band == BandPeak && dst.Band != BandPeak:
		r.Kind = ReasonPeakAvoided
		r.Text = fmt.Sprintf("Shifted %s (%s, %.2f) to %s (%s, %.2f) to avoid peak pricing.",
			clock(from), src.Band, src.Price, clock(to), dst.Band, dst.Price)
	case dst.Price < src.Price:
		r.Kind = ReasonCheaper
		r.Text = fmt.Sprintf("Moved %s to %s, a cheaper band (%s -> %s).", clock(from), clock(to), src.Band, dst.Band)
	default:
		r.Kind = ReasonAdjusted
		r.Text = fmt.Sprintf("Adjusted %s to %s to respect constraints; no direct price advantage.", clock(from), clock(to))
	}
	return r
}

func clock(h int) string {
	return fmt.Sprintf("%02d:00", h)
}
