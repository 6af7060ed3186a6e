package engine

import (
	"errors"
	"testing"
)

// standardTariff: off-peak 0-5 and 22-23, day 6-17, peak 18-21
func standardTariff() TouSpec {
	return TouSpec{
		Day:     BandRange{Start: "06:00", End: "18:00", Price: 10},
		Peak:    BandRange{Start: "18:00", End: "22:00", Price: 30},
		OffPeak: BandRange{Start: "22:00", End: "06:00", Price: 5},
	}
}

func mustResolve(t *testing.T, spec TouSpec) PriceMap {
	t.Helper()
	pm, err := Resolve(spec)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return pm
}

func scheduleOf(hours ...int) Schedule {
	var s Schedule
	for _, h := range hours {
		s[h] = 1
	}
	return s
}

func seedOf(hours ...int) []int {
	s := scheduleOf(hours...)
	return s[:]
}

func equalHours(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func peakOnHours(s Schedule, pm PriceMap) []int {
	hours := []int{}
	for _, h := range s.OnHours() {
		if pm[h].Band == BandPeak {
			hours = append(hours, h)
		}
	}
	return hours
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		spec        TouSpec
		wantDay     int
		wantPeak    int
		wantOffPeak int
		checks      map[int]Band
	}{
		{
			name:        "whole hour boundaries",
			spec:        standardTariff(),
			wantDay:     12,
			wantPeak:    4,
			wantOffPeak: 8,
			checks:      map[int]Band{0: BandOffPeak, 5: BandOffPeak, 6: BandDay, 17: BandDay, 18: BandPeak, 21: BandPeak, 22: BandOffPeak, 23: BandOffPeak},
		},
		{
			name: "half hour boundaries drop minutes",
			spec: TouSpec{
				Day:     BandRange{Start: "05:30", End: "18:30", Price: 35},
				Peak:    BandRange{Start: "18:30", End: "22:30", Price: 67},
				OffPeak: BandRange{Start: "22:30", End: "05:30", Price: 21},
			},
			wantDay:     13,
			wantPeak:    4,
			wantOffPeak: 7,
			checks:      map[int]Band{4: BandOffPeak, 5: BandDay, 17: BandDay, 18: BandPeak, 22: BandOffPeak},
		},
		{
			name: "midnight sentinel as end",
			spec: TouSpec{
				Day:     BandRange{Start: "06:00", End: "20:00", Price: 10},
				Peak:    BandRange{Start: "20:00", End: "24:00", Price: 30},
				OffPeak: BandRange{Start: "00:00", End: "06:00", Price: 5},
			},
			wantDay:     14,
			wantPeak:    4,
			wantOffPeak: 6,
			checks:      map[int]Band{23: BandPeak, 0: BandOffPeak},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm := mustResolve(t, tt.spec)

			total := len(pm.Hours(BandDay)) + len(pm.Hours(BandPeak)) + len(pm.Hours(BandOffPeak))
			if total != HoursPerDay {
				t.Fatalf("bands cover %d hours, want %d", total, HoursPerDay)
			}
			if got := len(pm.Hours(BandDay)); got != tt.wantDay {
				t.Errorf("day hours = %d, want %d", got, tt.wantDay)
			}
			if got := len(pm.Hours(BandPeak)); got != tt.wantPeak {
				t.Errorf("peak hours = %d, want %d", got, tt.wantPeak)
			}
			if got := len(pm.Hours(BandOffPeak)); got != tt.wantOffPeak {
				t.Errorf("off-peak hours = %d, want %d", got, tt.wantOffPeak)
			}
			for h, b := range tt.checks {
				if pm[h].Band != b {
					t.Errorf("hour %d band = %s, want %s", h, pm[h].Band, b)
				}
			}
		})
	}
}

func TestResolvePrices(t *testing.T) {
	pm := mustResolve(t, standardTariff())
	if pm[3].Price != 5 || pm[12].Price != 10 || pm[19].Price != 30 {
		t.Errorf("unexpected prices: %v %v %v", pm[3], pm[12], pm[19])
	}
}

func TestResolveOverlapLaterBandWins(t *testing.T) {
	spec := TouSpec{
		Day:     BandRange{Start: "06:00", End: "20:00", Price: 10},
		Peak:    BandRange{Start: "18:00", End: "22:00", Price: 30},
		OffPeak: BandRange{Start: "21:00", End: "06:00", Price: 5},
	}
	pm := mustResolve(t, spec)
	if pm[18].Band != BandPeak {
		t.Errorf("hour 18 = %s, want peak over day", pm[18].Band)
	}
	if pm[21].Band != BandOffPeak {
		t.Errorf("hour 21 = %s, want off_peak over peak", pm[21].Band)
	}
}

func TestResolveBadTime(t *testing.T) {
	tests := []struct {
		name string
		r    BandRange
	}{
		{"hour out of range", BandRange{Start: "25:00", End: "06:00"}},
		{"not a time", BandRange{Start: "morning", End: "06:00"}},
		{"empty", BandRange{Start: "", End: "06:00"}},
		{"midnight sentinel as start", BandRange{Start: "24:00", End: "06:00"}},
		{"minutes out of range", BandRange{Start: "05:75", End: "06:00"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := standardTariff()
			spec.Day = tt.r
			_, err := Resolve(spec)
			if !errors.Is(err, ErrConfig) {
				t.Errorf("Resolve() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestRangeHoursWraps(t *testing.T) {
	got, err := RangeHours("22:00", "06:00")
	if err != nil {
		t.Fatalf("RangeHours: %v", err)
	}
	want := []int{22, 23, 0, 1, 2, 3, 4, 5}
	if !equalHours(got, want) {
		t.Errorf("RangeHours = %v, want %v", got, want)
	}

	full, err := RangeHours("07:00", "07:00")
	if err != nil {
		t.Fatalf("RangeHours: %v", err)
	}
	if len(full) != HoursPerDay {
		t.Errorf("equal start and end should wrap a full day, got %d hours", len(full))
	}
}

func TestValidCandidate(t *testing.T) {
	three := 3
	valid := make([]int, HoursPerDay)
	valid[0], valid[1], valid[2] = 1, 1, 1

	nonBinary := make([]int, HoursPerDay)
	nonBinary[4] = 2

	tests := []struct {
		name     string
		v        []int
		expected *int
		want     bool
	}{
		{"absent", nil, nil, false},
		{"truncated", make([]int, 20), nil, false},
		{"too long", make([]int, 25), nil, false},
		{"non binary", nonBinary, nil, false},
		{"negative", append(make([]int, 23), -1), nil, false},
		{"wrong count", make([]int, HoursPerDay), &three, false},
		{"matching count", valid, &three, true},
		{"no target count", valid, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidCandidate(tt.v, tt.expected); got != tt.want {
				t.Errorf("ValidCandidate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCoerce(t *testing.T) {
	long := make([]int, 30)
	long[29] = 1
	long[0] = 3
	s := Coerce(long)
	if s[0] != 1 {
		t.Errorf("hour 0 = %d, want low bit 1", s[0])
	}
	if s.Ones() != 1 {
		t.Errorf("overflow should be truncated, got %d ones", s.Ones())
	}

	short := Coerce([]int{1, 0, 1})
	if !equalHours(short.OnHours(), []int{0, 2}) {
		t.Errorf("short seed = %v", short.OnHours())
	}
}

func TestSynthesize(t *testing.T) {
	pm := mustResolve(t, standardTariff())

	tests := []struct {
		name      string
		seed      []int
		c         Constraint
		wantHours []int
	}{
		{
			name:      "peak hour moves to first off-peak hour",
			seed:      seedOf(19),
			c:         Constraint{RequiredOnes: 1},
			wantHours: []int{0},
		},
		{
			name:      "surplus removed peak then day then off-peak",
			seed:      seedOf(0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23),
			c:         Constraint{RequiredOnes: 3},
			wantHours: []int{5, 22, 23},
		},
		{
			name:      "empty seed fills off-peak, day, then allowed peak",
			seed:      nil,
			c:         Constraint{RequiredOnes: 22, AllowPeak: true},
			wantHours: []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 22, 23},
		},
		{
			name:      "allowed peak hours kept",
			seed:      seedOf(19, 20),
			c:         Constraint{RequiredOnes: 2, AllowPeak: true},
			wantHours: []int{19, 20},
		},
		{
			name:      "zero required clears everything",
			seed:      seedOf(1, 7, 19),
			c:         Constraint{RequiredOnes: 0},
			wantHours: []int{},
		},
		{
			name:      "truncated seed is padded",
			seed:      []int{0, 0, 0, 0, 0, 0, 1, 1},
			c:         Constraint{RequiredOnes: 2},
			wantHours: []int{6, 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Synthesize(tt.seed, tt.c, pm)
			if err != nil {
				t.Fatalf("Synthesize: %v", err)
			}
			if !equalHours(s.OnHours(), tt.wantHours) {
				t.Errorf("ON hours = %v, want %v", s.OnHours(), tt.wantHours)
			}
		})
	}
}

func TestSynthesizeInvalidConstraint(t *testing.T) {
	pm := mustResolve(t, standardTariff())

	for _, c := range []Constraint{
		{RequiredOnes: 25, AllowPeak: true},
		{RequiredOnes: -1},
		{RequiredOnes: 21}, // only 20 non-peak hours
	} {
		if _, err := Synthesize(nil, c, pm); !errors.Is(err, ErrInvalidConstraint) {
			t.Errorf("Synthesize(%+v) error = %v, want ErrInvalidConstraint", c, err)
		}
	}
}

func TestSynthesizeAlwaysSatisfiesConstraints(t *testing.T) {
	pm := mustResolve(t, standardTariff())
	seeds := [][]int{
		nil,
		seedOf(18, 19, 20, 21),
		seedOf(0, 6, 12, 18, 23),
		seedOf(0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23),
		{1, 1, 2, 3, -1},
	}

	for _, allow := range []bool{false, true} {
		limit := 20
		if allow {
			limit = HoursPerDay
		}
		for req := 0; req <= limit; req++ {
			for i, seed := range seeds {
				c := Constraint{RequiredOnes: req, AllowPeak: allow}
				s, err := Synthesize(seed, c, pm)
				if err != nil {
					t.Fatalf("seed %d req %d: %v", i, req, err)
				}
				if s.Ones() != req {
					t.Errorf("seed %d req %d allow %v: got %d ones", i, req, allow, s.Ones())
				}
				if !allow && len(peakOnHours(s, pm)) > 0 {
					t.Errorf("seed %d req %d: peak ON hours %v", i, req, peakOnHours(s, pm))
				}
			}
		}
	}
}

func TestRedistribute(t *testing.T) {
	pm := mustResolve(t, standardTariff())

	t.Run("moves peak hours to off-peak", func(t *testing.T) {
		s, unfilled := Redistribute(scheduleOf(0, 18, 19), pm, false)
		if unfilled != 0 {
			t.Errorf("unfilled = %d, want 0", unfilled)
		}
		if !equalHours(s.OnHours(), []int{0, 1, 2}) {
			t.Errorf("ON hours = %v, want [0 1 2]", s.OnHours())
		}
	})

	t.Run("spills into day when off-peak is full", func(t *testing.T) {
		in := scheduleOf(0, 1, 2, 3, 4, 5, 22, 23, 20)
		s, unfilled := Redistribute(in, pm, false)
		if unfilled != 0 {
			t.Errorf("unfilled = %d, want 0", unfilled)
		}
		if s[20] != 0 || s[6] != 1 {
			t.Errorf("expected 20 cleared and 6 set, got %v", s.OnHours())
		}
	})

	t.Run("allowed peak passes through", func(t *testing.T) {
		in := scheduleOf(18, 19)
		s, unfilled := Redistribute(in, pm, true)
		if s != in || unfilled != 0 {
			t.Errorf("Redistribute changed an allowed schedule: %v", s.OnHours())
		}
	})

	t.Run("saturated day reports shortfall", func(t *testing.T) {
		in := Schedule{}
		for h := range in {
			in[h] = 1
		}
		in[20], in[21] = 0, 0
		s, unfilled := Redistribute(in, pm, false)
		if unfilled != 2 {
			t.Errorf("unfilled = %d, want 2", unfilled)
		}
		if len(peakOnHours(s, pm)) != 0 {
			t.Errorf("peak hours left ON: %v", peakOnHours(s, pm))
		}
		if s.Ones() != 20 {
			t.Errorf("ones = %d, want 20", s.Ones())
		}
	})
}

func TestRedistributeIdempotent(t *testing.T) {
	pm := mustResolve(t, standardTariff())
	inputs := []Schedule{
		scheduleOf(),
		scheduleOf(19),
		scheduleOf(0, 1, 2, 3, 4, 5, 18, 19, 20, 21, 22, 23),
		scheduleOf(6, 7, 8, 18, 21),
	}
	for _, allow := range []bool{false, true} {
		for _, in := range inputs {
			once, _ := Redistribute(in, pm, allow)
			twice, _ := Redistribute(once, pm, allow)
			if once != twice {
				t.Errorf("not idempotent for %v (allow=%v): %v then %v", in.OnHours(), allow, once.OnHours(), twice.OnHours())
			}
		}
	}
}

func TestEnforce(t *testing.T) {
	pm := mustResolve(t, standardTariff())

	tests := []struct {
		name      string
		in        Schedule
		c         Constraint
		wantHours []int
	}{
		{
			name:      "matching count is a no-op",
			in:        scheduleOf(7, 19),
			c:         Constraint{RequiredOnes: 2, AllowPeak: true},
			wantHours: []int{7, 19},
		},
		{
			name:      "short adds off-peak first",
			in:        scheduleOf(),
			c:         Constraint{RequiredOnes: 3},
			wantHours: []int{0, 1, 2},
		},
		{
			name:      "excess clears day then off-peak",
			in:        scheduleOf(0, 1, 6, 7, 19),
			c:         Constraint{RequiredOnes: 2, AllowPeak: true},
			wantHours: []int{1, 19},
		},
		{
			name:      "short adds allowed peak after non-peak is full",
			in:        scheduleOf(0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 22, 23),
			c:         Constraint{RequiredOnes: 22, AllowPeak: true},
			wantHours: []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 22, 23},
		},
		{
			name:      "surplus in disallowed peak is cleared",
			in:        scheduleOf(19, 20),
			c:         Constraint{RequiredOnes: 1},
			wantHours: []int{0},
		},
		{
			name:      "disallowed peak hour moves even when count matches",
			in:        scheduleOf(7, 19),
			c:         Constraint{RequiredOnes: 2},
			wantHours: []int{0, 7},
		},
		{
			name:      "never adds disallowed peak",
			in:        scheduleOf(),
			c:         Constraint{RequiredOnes: 20},
			wantHours: []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 22, 23},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Enforce(tt.in, tt.c, pm)
			if err != nil {
				t.Fatalf("Enforce: %v", err)
			}
			if !equalHours(s.OnHours(), tt.wantHours) {
				t.Errorf("ON hours = %v, want %v", s.OnHours(), tt.wantHours)
			}
			if s.Ones() != tt.c.RequiredOnes {
				t.Errorf("ones = %d, want %d", s.Ones(), tt.c.RequiredOnes)
			}
		})
	}
}

func TestEnforceNoOpWhenCountMatches(t *testing.T) {
	pm := mustResolve(t, standardTariff())
	for _, in := range []Schedule{scheduleOf(), scheduleOf(3), scheduleOf(6, 12, 18), scheduleOf(20, 21, 22)} {
		out, err := Enforce(in, Constraint{RequiredOnes: in.Ones(), AllowPeak: true}, pm)
		if err != nil {
			t.Fatalf("Enforce: %v", err)
		}
		if out != in {
			t.Errorf("Enforce changed %v into %v", in.OnHours(), out.OnHours())
		}
	}
}

func TestEnforceRejectsOutOfRange(t *testing.T) {
	pm := mustResolve(t, standardTariff())
	_, err := Enforce(Schedule{}, Constraint{RequiredOnes: 30, AllowPeak: true}, pm)
	if !errors.Is(err, ErrInvalidConstraint) {
		t.Errorf("Enforce() error = %v, want ErrInvalidConstraint", err)
	}
}

func TestEvaluate(t *testing.T) {
	pm := mustResolve(t, standardTariff())

	tests := []struct {
		name          string
		original      Schedule
		final         Schedule
		wantBaseline  float64
		wantOptimized float64
		wantSavings   float64
		wantKinds     []ReasonKind
	}{
		{
			name:          "peak hour moved off-peak",
			original:      scheduleOf(19),
			final:         scheduleOf(0),
			wantBaseline:  60,
			wantOptimized: 10,
			wantSavings:   50,
			wantKinds:     []ReasonKind{ReasonPeakAvoided},
		},
		{
			name:          "identical schedules",
			original:      scheduleOf(2, 3),
			final:         scheduleOf(2, 3),
			wantBaseline:  20,
			wantOptimized: 20,
			wantSavings:   0,
			wantKinds:     []ReasonKind{ReasonNoChange},
		},
		{
			name:          "day hour moved to off-peak",
			original:      scheduleOf(6),
			final:         scheduleOf(0),
			wantBaseline:  20,
			wantOptimized: 10,
			wantSavings:   10,
			wantKinds:     []ReasonKind{ReasonCheaper},
		},
		{
			name:          "cost increase clips savings to zero",
			original:      scheduleOf(0),
			final:         scheduleOf(6),
			wantBaseline:  10,
			wantOptimized: 20,
			wantSavings:   0,
			wantKinds:     []ReasonKind{ReasonAdjusted},
		},
		{
			name:          "allowed peak hour retained",
			original:      scheduleOf(6, 19),
			final:         scheduleOf(0, 19),
			wantBaseline:  80,
			wantOptimized: 70,
			wantSavings:   10,
			wantKinds:     []ReasonKind{ReasonCheaper, ReasonPeakKept},
		},
		{
			name:          "unmatched addition is not narrated",
			original:      scheduleOf(19),
			final:         scheduleOf(0, 1),
			wantBaseline:  60,
			wantOptimized: 20,
			wantSavings:   40,
			wantKinds:     []ReasonKind{ReasonPeakAvoided},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := Evaluate(tt.original, tt.final, pm, 2)
			if exp.BaselineCost != tt.wantBaseline {
				t.Errorf("baseline = %v, want %v", exp.BaselineCost, tt.wantBaseline)
			}
			if exp.OptimizedCost != tt.wantOptimized {
				t.Errorf("optimized = %v, want %v", exp.OptimizedCost, tt.wantOptimized)
			}
			if exp.Savings != tt.wantSavings {
				t.Errorf("savings = %v, want %v", exp.Savings, tt.wantSavings)
			}
			if len(exp.Reasons) != len(tt.wantKinds) {
				t.Fatalf("got %d reasons, want %d: %+v", len(exp.Reasons), len(tt.wantKinds), exp.Reasons)
			}
			for i, k := range tt.wantKinds {
				if exp.Reasons[i].Kind != k {
					t.Errorf("reason %d kind = %s, want %s", i, exp.Reasons[i].Kind, k)
				}
				if exp.Reasons[i].Text == "" {
					t.Errorf("reason %d has no text", i)
				}
			}
		})
	}
}

func TestEvaluateMoveDetails(t *testing.T) {
	pm := mustResolve(t, standardTariff())
	exp := Evaluate(scheduleOf(18, 19), scheduleOf(0, 1), pm, 1)
	if len(exp.Reasons) != 2 {
		t.Fatalf("got %d reasons, want 2", len(exp.Reasons))
	}
	if m := exp.Reasons[0].Move; m == nil || m.From != 18 || m.To != 0 {
		t.Errorf("first move = %+v, want 18 -> 0", m)
	}
	if m := exp.Reasons[1].Move; m == nil || m.From != 19 || m.To != 1 {
		t.Errorf("second move = %+v, want 19 -> 1", m)
	}
	if !equalHours(exp.OriginalOnHours, []int{18, 19}) || !equalHours(exp.OptimizedOnHours, []int{0, 1}) {
		t.Errorf("on hours = %v / %v", exp.OriginalOnHours, exp.OptimizedOnHours)
	}
}

func TestEvaluateSavingsNeverNegative(t *testing.T) {
	pm := mustResolve(t, standardTariff())
	for a := 0; a < HoursPerDay; a++ {
		for b := 0; b < HoursPerDay; b++ {
			exp := Evaluate(scheduleOf(a), scheduleOf(b), pm, 1.5)
			if exp.Savings < 0 {
				t.Fatalf("negative savings moving %d -> %d: %v", a, b, exp.Savings)
			}
		}
	}
}
