package engine

// ValidCandidate reports whether v is a 24-hour vector of 0/1 values and,
// when expectedOnes is set, whether it holds exactly that many ON hours.
func ValidCandidate(v []int, expectedOnes *int) bool {
	if len(v) != HoursPerDay {
		return false
	}
	ones := 0
	for _, x := range v {
		if x != 0 && x != 1 {
			return false
		}
		ones += x
	}
	if expectedOnes != nil && ones != *expectedOnes {
		return false
	}
	return true
}

// Coerce truncates or zero-pads v to 24 hours and reduces each value to its low bit
func Coerce(v []int) Schedule {
	var s Schedule
	for h := 0; h < HoursPerDay && h < len(v); h++ {
		s[h] = v[h] & 1
	}
	return s
}
