package engine

// Redistribute moves ON hours out of peak when the appliance may not run there.
// Each cleared peak hour is replaced by an OFF hour, off-peak first, then day,
// then any other non-peak hour, in ascending hour order. The second return
// value is the number of cleared hours that found no free slot; Enforce
// restores the total afterwards.
func Redistribute(s Schedule, pm PriceMap, allowPeak bool) (Schedule, int) {
	if allowPeak {
		return s, 0
	}
	removed := clearBand(&s, pm, BandPeak)
	if removed == 0 {
		return s, 0
	}
	filled := fill(&s, removed, pm.Hours(BandOffPeak), pm.Hours(BandDay), nonPeakHours(pm))
	return s, removed - filled
}
