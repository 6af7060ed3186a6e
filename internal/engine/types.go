package engine

import (
	"errors"
	"fmt"
)

// HoursPerDay is the length of every schedule vector
const HoursPerDay = 24

var (
	// ErrConfig is returned when a tariff time range cannot be parsed
	ErrConfig = errors.New("invalid tariff configuration")
	// ErrInvalidConstraint is returned when an appliance constraint cannot be satisfied
	ErrInvalidConstraint = errors.New("invalid appliance constraint")
)

// Band is a time-of-use price tier
type Band string

const (
	BandDay     Band = "day"
	BandPeak    Band = "peak"
	BandOffPeak Band = "off_peak"
)

// BandRange is one band of a tariff: a clock range and its unit price
type BandRange struct {
	Start string  `json:"start"` // HH:MM
	End   string  `json:"end"`   // HH:MM, exclusive, may wrap past midnight
	Price float64 `json:"price"`
}

// TouSpec describes a three-band time-of-use tariff
type TouSpec struct {
	Day      BandRange `json:"day"`
	Peak     BandRange `json:"peak"`
	OffPeak  BandRange `json:"off_peak"`
	Currency string    `json:"currency,omitempty"`
}

// HourPrice is the band and unit price of one hour
type HourPrice struct {
	Price float64 `json:"price"`
	Band  Band    `json:"band"`
}

// PriceMap assigns a band and price to every hour of the day
type PriceMap [HoursPerDay]HourPrice

// Hours returns the hours belonging to band b in ascending order
func (pm PriceMap) Hours(b Band) []int {
	hours := []int{}
	for h, p := range pm {
		if p.Band == b {
			hours = append(hours, h)
		}
	}
	return hours
}

// Schedule is a 24-hour ON/OFF vector, index = hour, 1 = ON
type Schedule [HoursPerDay]int

// Ones returns the number of ON hours
func (s Schedule) Ones() int {
	n := 0
	for _, v := range s {
		n += v
	}
	return n
}

// OnHours returns the ON hours in ascending order
func (s Schedule) OnHours() []int {
	hours := []int{}
	for h, v := range s {
		if v == 1 {
			hours = append(hours, h)
		}
	}
	return hours
}

// Constraint holds the hard constraints for one appliance
type Constraint struct {
	RequiredOnes int  `json:"required_ones"`
	AllowPeak    bool `json:"allow_peak"`
}

// Check verifies that the constraint can be met under the given price map
func (c Constraint) Check(pm PriceMap) error {
	if c.RequiredOnes < 0 || c.RequiredOnes > HoursPerDay {
		return fmt.Errorf("%w: required ON hours %d outside [0,%d]", ErrInvalidConstraint, c.RequiredOnes, HoursPerDay)
	}
	if !c.AllowPeak {
		free := HoursPerDay - len(pm.Hours(BandPeak))
		if c.RequiredOnes > free {
			return fmt.Errorf("%w: %d ON hours requested but only %d non-peak hours exist",
				ErrInvalidConstraint, c.RequiredOnes, free)
		}
	}
	return nil
}

// ReasonKind classifies an explanation entry
type ReasonKind string

const (
	ReasonPeakAvoided ReasonKind = "peak_avoided"
	ReasonCheaper     ReasonKind = "cheaper_band"
	ReasonAdjusted    ReasonKind = "constraint_adjustment"
	ReasonPeakKept    ReasonKind = "peak_retained"
	ReasonNoChange    ReasonKind = "no_change"
)

// Reason is one human-readable justification for a schedule change
type Reason struct {
	Kind  ReasonKind `json:"kind"`
	Move  *Move      `json:"move,omitempty"`
	Hours []int      `json:"hours,omitempty"`
	Text  string     `json:"text"`
}

// Move is an ON hour shifted from one hour to another
type Move struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Explanation reports the cost effect of optimizing one appliance
type Explanation struct {
	BaselineCost     float64  `json:"baseline_cost"`
	OptimizedCost    float64  `json:"optimized_cost"`
	Savings          float64  `json:"savings"`
	OriginalOnHours  []int    `json:"original_on_hours"`
	OptimizedOnHours []int    `json:"optimized_on_hours"`
	Reasons          []Reason `json:"reasons"`
}
