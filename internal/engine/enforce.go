package engine

// Enforce forces the ON count of s to exactly c.RequiredOnes.
// Peak hours are cleared first when the constraint disallows them.
// Missing hours are added off-peak, then day, then peak only when allowed.
// Surplus hours are removed from day first, then off-peak, then peak.
func Enforce(s Schedule, c Constraint, pm PriceMap) (Schedule, error) {
	if err := c.Check(pm); err != nil {
		return Schedule{}, err
	}
	if !c.AllowPeak {
		clearBand(&s, pm, BandPeak)
	}

	switch n := s.Ones(); {
	case n < c.RequiredOnes:
		fill(&s, c.RequiredOnes-n, addOrder(pm, c.AllowPeak)...)
	case n > c.RequiredOnes:
		drain(&s, n-c.RequiredOnes, pm.Hours(BandDay), pm.Hours(BandOffPeak), pm.Hours(BandPeak))
	}
	return s, nil
}
