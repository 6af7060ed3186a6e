package engine

// clearBand turns off every ON hour in band b and returns how many were cleared
func clearBand(s *Schedule, pm PriceMap, b Band) int {
	cleared := 0
	for h := range s {
		if pm[h].Band == b && s[h] == 1 {
			s[h] = 0
			cleared++
		}
	}
	return cleared
}

// fill turns on up to n OFF hours, walking the groups in order, and returns how many it set
func fill(s *Schedule, n int, groups ...[]int) int {
	set := 0
	for _, hours := range groups {
		for _, h := range hours {
			if set == n {
				return set
			}
			if s[h] == 0 {
				s[h] = 1
				set++
			}
		}
	}
	return set
}

// drain turns off up to n ON hours, walking the groups in order, and returns how many it cleared
func drain(s *Schedule, n int, groups ...[]int) int {
	cleared := 0
	for _, hours := range groups {
		for _, h := range hours {
			if cleared == n {
				return cleared
			}
			if s[h] == 1 {
				s[h] = 0
				cleared++
			}
		}
	}
	return cleared
}

// addOrder lists the hours eligible for new ON hours, cheapest band first
func addOrder(pm PriceMap, allowPeak bool) [][]int {
	order := [][]int{pm.Hours(BandOffPeak), pm.Hours(BandDay)}
	if allowPeak {
		order = append(order, pm.Hours(BandPeak))
	}
	return order
}

func nonPeakHours(pm PriceMap) []int {
	hours := []int{}
	for h, p := range pm {
		if p.Band != BandPeak {
			hours = append(hours, h)
		}
	}
	return hours
}
