package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exposes scheduling cycle metrics. A nil Recorder discards everything.
type Recorder struct {
	candidates *prometheus.CounterVec
	cycles     *prometheus.CounterVec
	duration   prometheus.Histogram
	savings    *prometheus.GaugeVec
	unrestored *prometheus.CounterVec
}

// NewRecorder registers the collectors on reg, reusing ones that are already registered.
// If reg is nil, the default registerer is used.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tou_candidates_total",
			Help: "Candidate schedules by appliance and outcome",
		}, []string{"appliance", "outcome"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tou_cycles_total",
			Help: "Scheduling cycles by result",
		}, []string{"success"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tou_cycle_duration_seconds",
			Help:    "Wall time of a scheduling cycle",
			Buckets: prometheus.DefBuckets,
		}),
		savings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tou_savings",
			Help: "Savings of the latest cycle in tariff currency units",
		}, []string{"appliance"}),
		unrestored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tou_peak_unrestored_hours_total",
			Help: "Peak ON hours that found no free slot during redistribution",
		}, []string{"appliance"}),
	}

	var err error
	if r.candidates, err = register(reg, r.candidates); err != nil {
		return nil, err
	}
	if r.cycles, err = register(reg, r.cycles); err != nil {
		return nil, err
	}
	if r.duration, err = register(reg, r.duration); err != nil {
		return nil, err
	}
	if r.savings, err = register(reg, r.savings); err != nil {
		return nil, err
	}
	if r.unrestored, err = register(reg, r.unrestored); err != nil {
		return nil, err
	}
	return r, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Candidate counts one candidate outcome for an appliance
func (r *Recorder) Candidate(appliance, outcome string) {
	if r == nil {
		return
	}
	r.candidates.WithLabelValues(appliance, outcome).Inc()
}

// Cycle records the duration and result of a cycle
func (r *Recorder) Cycle(d time.Duration, err error) {
	if r == nil {
		return
	}
	r.duration.Observe(d.Seconds())
	r.cycles.WithLabelValues(strconv.FormatBool(err == nil)).Inc()
}

// Savings sets the latest savings for an appliance
func (r *Recorder) Savings(appliance string, v float64) {
	if r == nil {
		return
	}
	r.savings.WithLabelValues(appliance).Set(v)
}

// Unrestored counts peak hours that redistribution could not place
func (r *Recorder) Unrestored(appliance string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.unrestored.WithLabelValues(appliance).Add(float64(n))
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
