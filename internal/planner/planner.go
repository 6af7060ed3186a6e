// Package planner runs one scheduling cycle: it asks a generator for a
// candidate schedule per appliance, repairs it with the engine and totals
// the cost effect.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/awaistahir/tou-shift/internal/engine"
	"github.com/awaistahir/tou-shift/internal/metrics"
	"github.com/awaistahir/tou-shift/internal/weather"
)

// ErrNoCandidate is returned by a generator whose reply holds no usable vector
var ErrNoCandidate = errors.New("no candidate schedule in reply")

// Request is what a generator gets to propose a schedule for one appliance
type Request struct {
	Appliance    string
	Original     engine.Schedule
	RequiredOnes int
	AllowPeak    bool
	Prices       engine.PriceMap
	Weather      []weather.Hour
}

// Generator proposes a candidate schedule. The result is validated, never trusted.
type Generator interface {
	Generate(ctx context.Context, req Request) ([]int, error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, req Request) ([]int, error)

// Generate calls f
func (f GeneratorFunc) Generate(ctx context.Context, req Request) ([]int, error) {
	return f(ctx, req)
}

// Appliance is one appliance to schedule in a cycle
type Appliance struct {
	Name      string
	PowerKWh  float64
	MinOns    int
	AllowPeak bool
	Original  engine.Schedule
}

func (a Appliance) constraint() engine.Constraint {
	return engine.Constraint{
		RequiredOnes: max(a.Original.Ones(), a.MinOns),
		AllowPeak:    a.AllowPeak,
	}
}

func (a Appliance) power() float64 {
	if a.PowerKWh <= 0 {
		return 1.0
	}
	return a.PowerKWh
}

// Outcome says what became of an appliance's generated candidate
type Outcome string

const (
	OutcomeAccepted    Outcome = "accepted"
	OutcomeRejected    Outcome = "rejected"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeDisabled    Outcome = "disabled"
)

// Result is the outcome of scheduling one appliance
type Result struct {
	Appliance    string             `json:"appliance"`
	PowerKWh     float64            `json:"power_kwh"`
	RequiredOnes int                `json:"required_ones"`
	AllowPeak    bool               `json:"allow_peak"`
	Original     engine.Schedule    `json:"original"`
	Final        engine.Schedule    `json:"final"`
	Outcome      Outcome            `json:"outcome"`
	Attempts     int                `json:"attempts"`
	Unfilled     int                `json:"unfilled,omitempty"`
	Explanation  engine.Explanation `json:"explanation"`
}

// Report is the outcome of one cycle
type Report struct {
	Results   []Result `json:"results"`
	Baseline  float64  `json:"baseline"`
	Optimized float64  `json:"optimized"`
	Savings   float64  `json:"savings"`
	Percent   float64  `json:"percent"`
}

func newReport(results []Result) *Report {
	r := &Report{Results: results}
	for _, res := range results {
		r.Baseline += res.Explanation.BaselineCost
		r.Optimized += res.Explanation.OptimizedCost
	}
	r.Savings = max(0, r.Baseline-r.Optimized)
	if r.Baseline > 0 {
		r.Percent = 100 * r.Savings / r.Baseline
	}
	return r
}

// Options bound the generator calls and the parallelism of a cycle
type Options struct {
	Concurrency    int
	MaxAttempts    int
	AttemptTimeout time.Duration
	RetryDelay     time.Duration
}

// Planner schedules appliances independently against a shared price map
type Planner struct {
	gen     Generator
	opts    Options
	log     zerolog.Logger
	metrics *metrics.Recorder
}

// New creates a Planner. gen may be nil, in which case every schedule is synthesized.
func New(gen Generator, opts Options, log zerolog.Logger, rec *metrics.Recorder) *Planner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Planner{gen: gen, opts: opts, log: log, metrics: rec}
}

// Run schedules every appliance. An infeasible constraint fails the whole
// cycle before any generator is called.
func (p *Planner) Run(ctx context.Context, pm engine.PriceMap, apps []Appliance, wx []weather.Hour) (*Report, error) {
	for _, a := range apps {
		if err := a.constraint().Check(pm); err != nil {
			return nil, fmt.Errorf("appliance %s: %w", a.Name, err)
		}
	}

	results := make([]Result, len(apps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, a := range apps {
		i, a := i, a
		g.Go(func() error {
			res, err := p.plan(gctx, pm, a, wx)
			if err != nil {
				return fmt.Errorf("appliance %s: %w", a.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return newReport(results), nil
}

func (p *Planner) plan(ctx context.Context, pm engine.PriceMap, a Appliance, wx []weather.Hour) (Result, error) {
	c := a.constraint()
	log := p.log.With().Str("appliance", a.Name).Logger()

	cand, outcome, attempts := p.candidate(ctx, Request{
		Appliance:    a.Name,
		Original:     a.Original,
		RequiredOnes: c.RequiredOnes,
		AllowPeak:    c.AllowPeak,
		Prices:       pm,
		Weather:      wx,
	}, log)
	p.metrics.Candidate(a.Name, string(outcome))

	var (
		final engine.Schedule
		err   error
	)
	if outcome == OutcomeAccepted {
		final = engine.Coerce(cand)
	} else {
		log.Info().Str("outcome", string(outcome)).Msg("synthesizing schedule from original")
		if final, err = engine.Synthesize(a.Original[:], c, pm); err != nil {
			return Result{}, err
		}
	}

	final, unfilled := engine.Redistribute(final, pm, c.AllowPeak)
	if unfilled > 0 {
		log.Warn().Int("unfilled", unfilled).Msg("peak hours could not all be moved")
		p.metrics.Unrestored(a.Name, unfilled)
	}
	if final, err = engine.Enforce(final, c, pm); err != nil {
		return Result{}, err
	}

	expl := engine.Evaluate(a.Original, final, pm, a.power())
	p.metrics.Savings(a.Name, expl.Savings)
	log.Debug().
		Float64("baseline", expl.BaselineCost).
		Float64("optimized", expl.OptimizedCost).
		Ints("on_hours", expl.OptimizedOnHours).
		Msg("appliance scheduled")

	return Result{
		Appliance:    a.Name,
		PowerKWh:     a.power(),
		RequiredOnes: c.RequiredOnes,
		AllowPeak:    c.AllowPeak,
		Original:     a.Original,
		Final:        final,
		Outcome:      outcome,
		Attempts:     attempts,
		Unfilled:     unfilled,
		Explanation:  expl,
	}, nil
}

// candidate asks the generator up to MaxAttempts times for a valid vector.
// Any reply that fails validation makes the outcome rejected; only transport
// failures on every attempt make it unavailable.
func (p *Planner) candidate(ctx context.Context, req Request, log zerolog.Logger) ([]int, Outcome, int) {
	if p.gen == nil {
		return nil, OutcomeDisabled, 0
	}

	want := req.RequiredOnes
	outcome := OutcomeUnavailable
	attempts := 0
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		if attempt > 1 && !sleep(ctx, p.opts.RetryDelay) {
			break
		}
		attempts = attempt

		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.opts.AttemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.opts.AttemptTimeout)
		}
		v, err := p.gen.Generate(actx, req)
		cancel()

		switch {
		case errors.Is(err, ErrNoCandidate):
			outcome = OutcomeRejected
			log.Warn().Err(err).Int("attempt", attempt).Msg("generator reply unusable")
		case err != nil:
			log.Warn().Err(err).Int("attempt", attempt).Msg("generator failed")
		case engine.ValidCandidate(v, &want):
			return v, OutcomeAccepted, attempt
		default:
			outcome = OutcomeRejected
			log.Warn().Int("attempt", attempt).Int("length", len(v)).Msg("candidate rejected")
		}
	}
	return nil, outcome, attempts
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
