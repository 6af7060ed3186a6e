package tariff

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/awaistahir/tou-shift/internal/engine"
)

// ErrNoTariff is returned by a source that has nothing to offer yet
var ErrNoTariff = errors.New("no tariff available")

// Source supplies the current tariff
type Source interface {
	Fetch(ctx context.Context) (engine.TouSpec, error)
}

// Tariff is a resolved tariff ready for scheduling
type Tariff struct {
	Spec   engine.TouSpec  `json:"spec"`
	Prices engine.PriceMap `json:"prices"`
	Origin string          `json:"origin"`
}

// FileSource reads a tariff payload from disk
type FileSource string

// Fetch parses the file
func (f FileSource) Fetch(_ context.Context) (engine.TouSpec, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return engine.TouSpec{}, fmt.Errorf("reading tariff file: %w", err)
	}
	return Parse(data)
}

// StaticSource always returns the same tariff
type StaticSource engine.TouSpec

// Fetch returns the tariff
func (s StaticSource) Fetch(_ context.Context) (engine.TouSpec, error) {
	return engine.TouSpec(s), nil
}

type namedSource struct {
	name string
	src  Source
}

// Fallback tries sources in order and falls back to a default tariff
type Fallback struct {
	sources []namedSource
	def     engine.TouSpec
	log     zerolog.Logger
}

// NewFallback creates a Fallback whose last resort is def
func NewFallback(def engine.TouSpec, log zerolog.Logger) *Fallback {
	return &Fallback{def: def, log: log}
}

// Add appends a named source
func (f *Fallback) Add(name string, src Source) *Fallback {
	f.sources = append(f.sources, namedSource{name: name, src: src})
	return f
}

// Resolve returns the first tariff that fetches and resolves cleanly.
// A failing default is fatal.
func (f *Fallback) Resolve(ctx context.Context) (Tariff, error) {
	for _, s := range f.sources {
		spec, err := s.src.Fetch(ctx)
		if err != nil {
			f.log.Warn().Err(err).Str("source", s.name).Msg("tariff source failed")
			continue
		}
		pm, err := engine.Resolve(spec)
		if err != nil {
			f.log.Warn().Err(err).Str("source", s.name).Msg("tariff rejected")
			continue
		}
		return Tariff{Spec: spec, Prices: pm, Origin: s.name}, nil
	}

	pm, err := engine.Resolve(f.def)
	if err != nil {
		return Tariff{}, fmt.Errorf("default tariff: %w", err)
	}
	return Tariff{Spec: f.def, Prices: pm, Origin: "default"}, nil
}
