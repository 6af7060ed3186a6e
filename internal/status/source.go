package status

import (
	"github.com/awaistahir/tou-shift/internal/engine"
)

// Source supplies each appliance's original schedule. Appliances with a full
// day of sensor samples are read from the recorder, the rest from the status file.
type Source struct {
	File     string
	Recorder *Recorder
}

// Load returns the original schedules keyed by appliance name. thresholds
// maps each appliance to its binarization ratio.
func (s Source) Load(thresholds map[string]float64) (map[string]engine.Schedule, error) {
	names := make([]string, 0, len(thresholds))
	for n := range thresholds {
		names = append(names, n)
	}

	out, err := ParseFile(s.File, names)
	if err != nil {
		return nil, err
	}
	if s.Recorder == nil {
		return out, nil
	}
	for n, ratio := range thresholds {
		if s.Recorder.Hours(n) >= engine.HoursPerDay {
			out[n] = s.Recorder.States(n, ratio)
		}
	}
	return out, nil
}
