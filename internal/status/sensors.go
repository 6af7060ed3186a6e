package status

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/awaistahir/tou-shift/internal/engine"
)

// ring is a fixed-size buffer that overwrites its oldest sample
type ring struct {
	buf  []float64
	next int
	full bool
}

func (r *ring) push(v float64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// values returns the samples oldest first
func (r *ring) values() []float64 {
	if !r.full {
		return append([]float64(nil), r.buf[:r.next]...)
	}
	out := make([]float64, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// Recorder buffers power samples per appliance and turns them into hourly states
type Recorder struct {
	size    int
	perHour int
	log     zerolog.Logger

	mu     sync.Mutex
	series map[string]*ring
}

// NewRecorder keeps up to size samples per appliance, perHour samples to an hour
func NewRecorder(size, perHour int, log zerolog.Logger) *Recorder {
	if perHour < 1 {
		perHour = 1
	}
	if size < perHour {
		size = perHour
	}
	return &Recorder{size: size, perHour: perHour, log: log, series: map[string]*ring{}}
}

// Handle records one sensor message: a JSON object of appliance name to watts
func (r *Recorder) Handle(topic string, payload []byte) {
	var sample map[string]float64
	if err := json.Unmarshal(payload, &sample); err != nil {
		r.log.Warn().Err(err).Str("topic", topic).Msg("dropping sensor payload")
		return
	}
	r.Add(sample)
}

// Add records one sample for each appliance in the map
func (r *Recorder) Add(sample map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, w := range sample {
		s, ok := r.series[name]
		if !ok {
			s = &ring{buf: make([]float64, r.size)}
			r.series[name] = s
		}
		s.push(w)
	}
}

// Hours returns the number of complete hourly windows buffered for name
func (r *Recorder) Hours(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.series[name]
	if !ok {
		return 0
	}
	return len(s.values()) / r.perHour
}

// States averages each hourly window of the most recent day and marks an
// hour ON when its average reaches thresholdRatio times the largest average
func (r *Recorder) States(name string, thresholdRatio float64) engine.Schedule {
	r.mu.Lock()
	var samples []float64
	if s, ok := r.series[name]; ok {
		samples = s.values()
	}
	r.mu.Unlock()

	avgs := hourlyAverages(samples, r.perHour)
	if len(avgs) > engine.HoursPerDay {
		avgs = avgs[len(avgs)-engine.HoursPerDay:]
	}
	return Binarize(avgs, thresholdRatio)
}

func hourlyAverages(samples []float64, perHour int) []float64 {
	n := len(samples) / perHour
	avgs := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for _, v := range samples[i*perHour : (i+1)*perHour] {
			sum += v
		}
		avgs[i] = sum / float64(perHour)
	}
	return avgs
}

// Binarize marks each value ON when it is at least ratio times the maximum.
// A series whose maximum is not positive is all OFF.
func Binarize(values []float64, ratio float64) engine.Schedule {
	var peak float64
	for _, v := range values {
		peak = max(peak, v)
	}
	bits := make([]int, len(values))
	if peak <= 0 {
		return engine.Coerce(bits)
	}
	cut := ratio * peak
	for i, v := range values {
		if v >= cut {
			bits[i] = 1
		}
	}
	return engine.Coerce(bits)
}
