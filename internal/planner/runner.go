package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/awaistahir/tou-shift/internal/engine"
	"github.com/awaistahir/tou-shift/internal/metrics"
	"github.com/awaistahir/tou-shift/internal/status"
	"github.com/awaistahir/tou-shift/internal/store"
	"github.com/awaistahir/tou-shift/internal/tariff"
	"github.com/awaistahir/tou-shift/internal/weather"
)

// TariffResolver yields the tariff for a cycle
type TariffResolver interface {
	Resolve(ctx context.Context) (tariff.Tariff, error)
}

// OriginalSource yields the original schedules for a cycle
type OriginalSource interface {
	Load(thresholds map[string]float64) (map[string]engine.Schedule, error)
}

// RunStore persists cycles and provides stored appliance settings
type RunStore interface {
	GetAppliances(ctx context.Context) ([]store.Appliance, error)
	SaveRun(ctx context.Context, r store.Run, finalize func() error) error
}

// WeatherSource yields the hourly forecast used as generator context
type WeatherSource interface {
	Today(ctx context.Context) ([]weather.Hour, error)
}

// Publisher sends the cycle result on the bus
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// RunnerConfig is the file and topic layout of a cycle
type RunnerConfig struct {
	Appliances       []store.Appliance
	Preferences      string
	OutputFile       string
	ExplanationsFile string
	ScheduleTopic    string
}

// Runner executes full cycles from tariff to published schedules
type Runner struct {
	Tariffs   TariffResolver
	Originals OriginalSource
	Planner   *Planner
	Store     RunStore
	Weather   WeatherSource
	Publisher Publisher
	Metrics   *metrics.Recorder
	Config    RunnerConfig
	Log       zerolog.Logger

	mu sync.Mutex
}

// Cycle is a finished cycle
type Cycle struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Tariff    tariff.Tariff `json:"tariff"`
	Report    *Report       `json:"report"`
}

// Message is the payload published on the schedule topic
type Message struct {
	CycleID   string                     `json:"cycle_id"`
	Currency  string                     `json:"currency"`
	Schedules map[string]engine.Schedule `json:"schedules"`
	Baseline  float64                    `json:"baseline"`
	Optimized float64                    `json:"optimized"`
	Savings   float64                    `json:"savings"`
}

// Run executes one cycle. Cycles never overlap. A cycle that fails
// persists, writes and publishes nothing.
func (r *Runner) Run(ctx context.Context) (*Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Cycle{ID: uuid.NewString(), StartedAt: time.Now()}
	log := r.Log.With().Str("cycle_id", c.ID).Logger()

	err := r.run(ctx, c, log)
	r.Metrics.Cycle(time.Since(c.StartedAt), err)
	if err != nil {
		log.Error().Err(err).Msg("cycle failed")
		return nil, err
	}

	log.Info().
		Str("tariff", c.Tariff.Origin).
		Float64("baseline", c.Report.Baseline).
		Float64("optimized", c.Report.Optimized).
		Float64("savings", c.Report.Savings).
		Float64("percent", c.Report.Percent).
		Msg("cycle complete")
	return c, nil
}

func (r *Runner) run(ctx context.Context, c *Cycle, log zerolog.Logger) error {
	tr, err := r.Tariffs.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolving tariff: %w", err)
	}
	c.Tariff = tr

	settings, err := r.appliances(ctx)
	if err != nil {
		return err
	}

	thresholds := make(map[string]float64, len(settings))
	names := make([]string, len(settings))
	for i, a := range settings {
		thresholds[a.Name] = a.ThresholdRatio
		names[i] = a.Name
	}
	originals, err := r.Originals.Load(thresholds)
	if err != nil {
		return fmt.Errorf("loading original schedules: %w", err)
	}

	prefs := ParsePreferences(r.Config.Preferences, names)
	apps := make([]Appliance, len(settings))
	for i, a := range settings {
		apps[i] = Appliance{
			Name:      a.Name,
			PowerKWh:  a.PowerKWh,
			MinOns:    a.MinOns,
			AllowPeak: a.AllowPeak || prefs[a.Name],
			Original:  originals[a.Name],
		}
	}

	var wx []weather.Hour
	if r.Weather != nil {
		if wx, err = r.Weather.Today(ctx); err != nil {
			log.Warn().Err(err).Msg("weather unavailable")
			wx = nil
		}
	}

	rep, err := r.Planner.Run(ctx, tr.Prices, apps, wx)
	if err != nil {
		return err
	}
	c.Report = rep

	// reports become visible only together with the stored run
	var batch status.Batch
	defer batch.Discard()
	if err := r.stage(&batch, c); err != nil {
		return err
	}
	if r.Store != nil {
		if err := r.Store.SaveRun(ctx, toRun(c), batch.Commit); err != nil {
			return fmt.Errorf("saving run: %w", err)
		}
	} else if err := batch.Commit(); err != nil {
		return err
	}
	return r.publish(c, log)
}

// appliances merges configured appliances with stored ones; stored settings
// win for the same name and disabled appliances are skipped
func (r *Runner) appliances(ctx context.Context) ([]store.Appliance, error) {
	merged := append([]store.Appliance(nil), r.Config.Appliances...)
	if r.Store != nil {
		stored, err := r.Store.GetAppliances(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading appliances: %w", err)
		}
		for _, s := range stored {
			found := false
			for i := range merged {
				if merged[i].Name == s.Name {
					merged[i], found = s, true
					break
				}
			}
			if !found {
				merged = append(merged, s)
			}
		}
	}

	out := merged[:0]
	for _, a := range merged {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *Runner) stage(b *status.Batch, c *Cycle) error {
	entries := make([]status.Entry, len(c.Report.Results))
	for i, res := range c.Report.Results {
		entries[i] = status.Entry{Name: res.Appliance, Schedule: res.Final, Explanation: res.Explanation}
	}
	if r.Config.OutputFile != "" {
		if err := b.Stage(r.Config.OutputFile, status.Schedules(entries)); err != nil {
			return err
		}
	}
	if r.Config.ExplanationsFile != "" {
		if err := b.Stage(r.Config.ExplanationsFile, status.Explanations(c.Tariff.Spec.Currency, entries)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) publish(c *Cycle, log zerolog.Logger) error {
	if r.Publisher == nil || r.Config.ScheduleTopic == "" {
		return nil
	}
	msg := Message{
		CycleID:   c.ID,
		Currency:  c.Tariff.Spec.Currency,
		Schedules: make(map[string]engine.Schedule, len(c.Report.Results)),
		Baseline:  c.Report.Baseline,
		Optimized: c.Report.Optimized,
		Savings:   c.Report.Savings,
	}
	for _, res := range c.Report.Results {
		msg.Schedules[res.Appliance] = res.Final
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding schedules: %w", err)
	}
	// files and the database already hold the cycle; a bus failure is not fatal
	if err := r.Publisher.Publish(r.Config.ScheduleTopic, payload); err != nil {
		log.Warn().Err(err).Str("topic", r.Config.ScheduleTopic).Msg("publishing schedules failed")
	}
	return nil
}

func toRun(c *Cycle) store.Run {
	run := store.Run{
		ID:        c.ID,
		StartedAt: c.StartedAt,
		Currency:  c.Tariff.Spec.Currency,
		Baseline:  c.Report.Baseline,
		Optimized: c.Report.Optimized,
		Savings:   c.Report.Savings,
		Schedules: make([]store.RunSchedule, len(c.Report.Results)),
	}
	for i, res := range c.Report.Results {
		run.Schedules[i] = store.RunSchedule{
			Appliance: res.Appliance,
			Original:  res.Original,
			Final:     res.Final,
			Outcome:   string(res.Outcome),
			Baseline:  res.Explanation.BaselineCost,
			Optimized: res.Explanation.OptimizedCost,
			Savings:   res.Explanation.Savings,
			Reasons:   res.Explanation.Reasons,
		}
	}
	return run
}

// Loop runs a cycle immediately and then every interval until ctx ends.
// Failed cycles are logged and retried on the next tick.
func (r *Runner) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_, _ = r.Run(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
