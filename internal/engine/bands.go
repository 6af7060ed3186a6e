package engine

import (
	"fmt"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// Resolve assigns every hour of the day a band and unit price.
// Hours not claimed by any range fall back to off-peak. Ranges are applied
// day, peak, off-peak, so a later range wins where two overlap.
func Resolve(spec TouSpec) (PriceMap, error) {
	var pm PriceMap
	for h := range pm {
		pm[h] = HourPrice{Price: spec.OffPeak.Price, Band: BandOffPeak}
	}

	order := []struct {
		band Band
		r    BandRange
	}{
		{BandDay, spec.Day},
		{BandPeak, spec.Peak},
		{BandOffPeak, spec.OffPeak},
	}
	for _, o := range order {
		hours, err := RangeHours(o.r.Start, o.r.End)
		if err != nil {
			return PriceMap{}, fmt.Errorf("%s band: %w", o.band, err)
		}
		for _, h := range hours {
			pm[h] = HourPrice{Price: o.r.Price, Band: o.band}
		}
	}
	return pm, nil
}

// RangeHours maps the half-open clock range [start, end) to whole-hour indices.
// Minutes are dropped on both ends, so 05:30-18:30 covers hours 5..17.
// An end at or before the start wraps past midnight.
func RangeHours(start, end string) ([]int, error) {
	s, err := parseClock(start, false)
	if err != nil {
		return nil, err
	}
	e, err := parseClock(end, true)
	if err != nil {
		return nil, err
	}
	if e <= s {
		e += minutesPerDay
	}

	hours := []int{}
	for h := s / 60; h < e/60; h++ {
		hours = append(hours, h%HoursPerDay)
	}
	return hours, nil
}

// parseClock parses HH:MM into minutes since midnight.
// 24:00 is accepted only when allowMidnight is set.
func parseClock(s string, allowMidnight bool) (int, error) {
	s = strings.TrimSpace(s)
	if s == "24:00" {
		if allowMidnight {
			return minutesPerDay, nil
		}
		return 0, fmt.Errorf("%w: 24:00 is only valid as a range end", ErrConfig)
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: bad time %q", ErrConfig, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
