// Package app wires configuration into a ready-to-run scheduling service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/awaistahir/tou-shift/internal/bus"
	"github.com/awaistahir/tou-shift/internal/config"
	"github.com/awaistahir/tou-shift/internal/engine"
	"github.com/awaistahir/tou-shift/internal/llm"
	"github.com/awaistahir/tou-shift/internal/logger"
	"github.com/awaistahir/tou-shift/internal/metrics"
	"github.com/awaistahir/tou-shift/internal/planner"
	"github.com/awaistahir/tou-shift/internal/status"
	"github.com/awaistahir/tou-shift/internal/store"
	"github.com/awaistahir/tou-shift/internal/tariff"
	"github.com/awaistahir/tou-shift/internal/uiapi"
	"github.com/awaistahir/tou-shift/internal/weather"
)

// Options select which outer surfaces the service connects
type Options struct {
	// Bus connects to the MQTT broker for tariffs, sensor samples and publishing
	Bus bool
	// TariffFile is tried before the bus and HTTP sources when set
	TariffFile string
}

// App is a wired scheduling service
type App struct {
	Config        *config.Config
	Log           zerolog.Logger
	Store         *store.Store
	Registry      *prometheus.Registry
	Metrics       *metrics.Recorder
	Runner        *planner.Runner
	DefaultTariff engine.TouSpec

	conn *bus.Conn
	feed *tariff.MQTTSource
}

// New opens the store, connects the requested sources and builds the runner
func New(cfg *config.Config, log zerolog.Logger, opts Options) (*App, error) {
	def, err := cfg.Tariff.Default.Spec()
	if err != nil {
		return nil, fmt.Errorf("default tariff: %w", err)
	}
	if _, err := engine.Resolve(def); err != nil {
		return nil, fmt.Errorf("default tariff: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DB), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	st, err := store.NewStore(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	reg := prometheus.NewRegistry()
	rec, err := metrics.NewRecorder(reg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	a := &App{Config: cfg, Log: log, Store: st, Registry: reg, Metrics: rec, DefaultTariff: def}

	tariffs := tariff.NewFallback(def, logger.Component(log, "tariff"))
	if opts.TariffFile != "" {
		tariffs.Add("file", tariff.FileSource(opts.TariffFile))
	}

	sensors := status.NewRecorder(cfg.Sensors.BufferSize, cfg.Sensors.SamplesPerHour, logger.Component(log, "sensors"))
	if opts.Bus {
		if err := a.connect(tariffs, sensors); err != nil {
			st.Close()
			return nil, err
		}
	}
	if cfg.Tariff.URL != "" {
		tariffs.Add("http", tariff.NewHTTPSource(cfg.Tariff.URL))
	}

	var gen planner.Generator
	if cfg.LLM.Enabled {
		gen = llm.NewGenerator(cfg.LLM)
	}
	pl := planner.New(gen, planner.Options{
		Concurrency:    cfg.Planner.Concurrency,
		MaxAttempts:    cfg.LLM.MaxAttempts,
		AttemptTimeout: cfg.LLM.AttemptTimeout,
		RetryDelay:     cfg.LLM.RetryDelay,
	}, logger.Component(log, "planner"), rec)

	a.Runner = &planner.Runner{
		Tariffs:   tariffs,
		Originals: status.Source{File: cfg.StatusFile, Recorder: sensors},
		Planner:   pl,
		Store:     st,
		Metrics:   rec,
		Config: planner.RunnerConfig{
			Appliances:       cfg.StoreAppliances(),
			Preferences:      cfg.Planner.Preferences,
			OutputFile:       cfg.OutputFile,
			ExplanationsFile: cfg.ExplanationsFile,
			ScheduleTopic:    cfg.MQTT.ScheduleTopic,
		},
		Log: logger.Component(log, "runner"),
	}
	if cfg.Weather.Enabled {
		a.Runner.Weather = weather.NewOpenMeteoClient(cfg.Weather)
	}
	if a.conn != nil {
		a.Runner.Publisher = a.conn
	}
	return a, nil
}

func (a *App) connect(tariffs *tariff.Fallback, sensors *status.Recorder) error {
	cfg := a.Config
	conn, err := bus.Dial(cfg.MQTT, logger.Component(a.Log, "bus"))
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}

	mq := tariff.NewMQTTSource(cfg.Tariff.Wait, logger.Component(a.Log, "tariff"))
	mq.OnUpdate(func(spec engine.TouSpec) {
		if err := a.Store.CacheTariff(context.Background(), spec); err != nil {
			a.Log.Warn().Err(err).Msg("caching tariff failed")
		}
	})
	if err := mq.Listen(conn, cfg.MQTT.TariffTopic); err != nil {
		conn.Close()
		return fmt.Errorf("subscribing to tariffs: %w", err)
	}
	if err := conn.Subscribe(cfg.MQTT.SensorTopic, sensors.Handle); err != nil {
		conn.Close()
		return fmt.Errorf("subscribing to sensors: %w", err)
	}
	tariffs.Add("mqtt", mq)
	a.conn, a.feed = conn, mq
	return nil
}

// Serve runs the planning loop and the HTTP API until ctx ends
func (a *App) Serve(ctx context.Context) error {
	api := uiapi.NewServer(a.Store, a.Runner, a.DefaultTariff, a.Registry, logger.Component(a.Log, "api"))
	if a.feed != nil {
		api.SetTariffFeed(a.feed)
	}
	srv := &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Runner.Loop(gctx, a.Config.Planner.Interval)
		return nil
	})
	g.Go(func() error {
		a.Log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases the bus connection and the database
func (a *App) Close() error {
	if a.conn != nil {
		a.conn.Close()
	}
	return a.Store.Close()
}
