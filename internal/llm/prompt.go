package llm

import (
	"fmt"
	"strings"

	"github.com/awaistahir/tou-shift/internal/engine"
	"github.com/awaistahir/tou-shift/internal/planner"
)

// BuildPrompt renders the system prompt for one appliance
func BuildPrompt(req planner.Request) string {
	var b strings.Builder
	b.WriteString("You are a deterministic scheduler. Produce EXACTLY a list of 24 integers (0 or 1).\n")
	fmt.Fprintf(&b, "Appliance: %s\n", req.Appliance)
	fmt.Fprintf(&b, "Original states (0=OFF,1=ON): %s\n", list(req.Original[:]))
	b.WriteString("Hard constraints:\n")
	b.WriteString("  - Output length = 24.\n")
	fmt.Fprintf(&b, "  - Sum of elements = %d (exactly this many 1s).\n", req.RequiredOnes)
	b.WriteString("Time bands (hour indices):\n")
	fmt.Fprintf(&b, "  - DAY      = %s\n", list(req.Prices.Hours(engine.BandDay)))
	fmt.Fprintf(&b, "  - PEAK     = %s\n", list(req.Prices.Hours(engine.BandPeak)))
	fmt.Fprintf(&b, "  - OFF_PEAK = %s\n", list(req.Prices.Hours(engine.BandOffPeak)))
	if req.AllowPeak {
		b.WriteString("  - Peak hours are permitted for this appliance ONLY if there are not enough OFF_PEAK and DAY slots.\n")
	} else {
		b.WriteString("  - Peak hours are FORBIDDEN for this appliance.\n")
	}
	b.WriteString("Optimization priorities (in order):\n")
	b.WriteString("  1) Place as many 1s as possible in OFF_PEAK.\n")
	b.WriteString("  2) If OFF_PEAK is full, place remaining 1s in DAY.\n")
	b.WriteString("  3) Only use PEAK if allowed and still needed.\n")
	b.WriteString("  4) Prefer grouping 1s contiguously rather than isolated singles.\n")
	if len(req.Weather) > 0 {
		b.WriteString("Hourly weather forecast (hour: temperature C, relative humidity %):\n")
		for _, w := range req.Weather {
			fmt.Fprintf(&b, "  %02d: %.1f C, %.0f%%\n", w.Hour, w.TempC, w.Humidity)
		}
	}
	b.WriteString("Output format:\n")
	b.WriteString("  Return ONLY a bare list of 24 zeros/ones, no text, no code fences.\n")
	return b.String()
}

func list(v []int) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprint(x)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
