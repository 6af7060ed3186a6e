// Package status reads the appliances' observed ON/OFF states and writes
// the optimized schedules and their cost report back to disk.
package status

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/awaistahir/tou-shift/internal/engine"
)

// ParseFile reads a status file made of blocks like
//
//	--- WashingMachine_Power ---
//	States:
//	0, 0, 1, ...
//
// and returns the states of each requested appliance. A missing file,
// missing block or short block yields an all-zero schedule.
func ParseFile(path string, names []string) (map[string]engine.Schedule, error) {
	out := make(map[string]engine.Schedule, len(names))
	for _, n := range names {
		out[n] = engine.Schedule{}
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading status file: %w", err)
	}

	blocks := parseBlocks(string(data))
	for _, n := range names {
		bits, ok := blocks[n]
		if !ok || len(bits) < engine.HoursPerDay {
			continue
		}
		out[n] = engine.Coerce(bits)
	}
	return out, nil
}

func parseBlocks(raw string) map[string][]int {
	blocks := map[string][]int{}
	var (
		current  string
		inStates bool
	)
	sc := bufio.NewScanner(strings.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if name, ok := header(line); ok {
			current, inStates = name, false
			continue
		}
		if current == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "States:"); ok {
			inStates = true
			line = rest
		}
		if !inStates {
			continue
		}
		blocks[current] = append(blocks[current], binaryTokens(line)...)
	}
	return blocks
}

func header(line string) (string, bool) {
	if len(line) < 7 || !strings.HasPrefix(line, "---") || !strings.HasSuffix(line, "---") {
		return "", false
	}
	name := strings.TrimSpace(strings.Trim(line, "-"))
	return name, name != ""
}

func binaryTokens(line string) []int {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == '[' || r == ']' || r == ' ' || r == '\t'
	})
	bits := make([]int, 0, len(fields))
	for _, f := range fields {
		switch f {
		case "0":
			bits = append(bits, 0)
		case "1":
			bits = append(bits, 1)
		}
	}
	return bits
}

// Entry is one appliance's optimized result
type Entry struct {
	Name        string
	Schedule    engine.Schedule
	Explanation engine.Explanation
}

// Schedules renders the optimized schedules in status file format
func Schedules(entries []Entry) string {
	var b strings.Builder
	b.WriteString("Optimised Appliance Schedules (24-hour ON/OFF)\n\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "--- %s ---\nStates:\n%s\n\n", e.Name, joinBits(e.Schedule))
	}
	return b.String()
}

// Explanations renders the per-appliance cost report and the totals
func Explanations(currency string, entries []Entry) string {
	var (
		b                   strings.Builder
		baseline, optimized float64
	)
	b.WriteString("Scheduling Rationale and Cost Analysis\n")
	b.WriteString("======================================\n\n")
	for _, e := range entries {
		x := e.Explanation
		baseline += x.BaselineCost
		optimized += x.OptimizedCost
		fmt.Fprintf(&b, "--- %s ---\n", e.Name)
		fmt.Fprintf(&b, "Original cost: %.2f %s\n", x.BaselineCost, currency)
		fmt.Fprintf(&b, "Optimized cost: %.2f %s\n", x.OptimizedCost, currency)
		fmt.Fprintf(&b, "Savings: %.2f %s\n", x.Savings, currency)
		b.WriteString("Reasons:\n")
		for _, r := range x.Reasons {
			fmt.Fprintf(&b, "  - %s\n", r.Text)
		}
		b.WriteString("\n")
	}

	savings := max(0, baseline-optimized)
	b.WriteString("=== TOTALS ===\n")
	fmt.Fprintf(&b, "Baseline total cost: %.2f %s\n", baseline, currency)
	fmt.Fprintf(&b, "Optimized total cost: %.2f %s\n", optimized, currency)
	fmt.Fprintf(&b, "Total savings: %.2f %s\n", savings, currency)
	if baseline > 0 {
		fmt.Fprintf(&b, "Percent savings: %.2f%%\n", 100*savings/baseline)
	}
	return b.String()
}

func joinBits(s engine.Schedule) string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}

// Batch stages reports next to their targets and moves them into place
// together. Nothing is visible at a target path until Commit.
type Batch struct {
	staged []string
}

// Stage writes content to a temporary file beside path
func (b *Batch) Stage(path, content string) error {
	if err := os.WriteFile(path+".tmp", []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	b.staged = append(b.staged, path)
	return nil
}

// Commit renames every staged file onto its target. Files not yet renamed
// when an error occurs are discarded.
func (b *Batch) Commit() error {
	for len(b.staged) > 0 {
		path := b.staged[0]
		if err := os.Rename(path+".tmp", path); err != nil {
			b.Discard()
			return fmt.Errorf("replacing %s: %w", path, err)
		}
		b.staged = b.staged[1:]
	}
	return nil
}

// Discard removes staged files that were not committed
func (b *Batch) Discard() {
	for _, path := range b.staged {
		_ = os.Remove(path + ".tmp")
	}
	b.staged = nil
}
