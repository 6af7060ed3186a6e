package engine

// Synthesize builds a schedule that satisfies c from a possibly malformed seed.
//
// The seed is coerced to 24 binary hours. Peak hours are cleared unless the
// appliance may run in peak. Missing ON hours are then added off-peak first,
// then day, then peak when allowed; surplus ON hours are removed in the
// opposite order. The result always has exactly c.RequiredOnes ON hours.
func Synthesize(seed []int, c Constraint, pm PriceMap) (Schedule, error) {
	if err := c.Check(pm); err != nil {
		return Schedule{}, err
	}

	s := Coerce(seed)
	if !c.AllowPeak {
		clearBand(&s, pm, BandPeak)
	}

	switch n := s.Ones(); {
	case n < c.RequiredOnes:
		fill(&s, c.RequiredOnes-n, addOrder(pm, c.AllowPeak)...)
	case n > c.RequiredOnes:
		drain(&s, n-c.RequiredOnes, pm.Hours(BandPeak), pm.Hours(BandDay), pm.Hours(BandOffPeak))
	}
	return s, nil
}
