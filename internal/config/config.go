// Package config loads tou-shift settings from a config file, environment
// variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/awaistahir/tou-shift/internal/bus"
	"github.com/awaistahir/tou-shift/internal/llm"
	"github.com/awaistahir/tou-shift/internal/logger"
	"github.com/awaistahir/tou-shift/internal/store"
	"github.com/awaistahir/tou-shift/internal/tariff"
	"github.com/awaistahir/tou-shift/internal/weather"
)

// Config is the complete tou-shift configuration
type Config struct {
	DB               string            `mapstructure:"db"`
	StatusFile       string            `mapstructure:"status_file"`
	OutputFile       string            `mapstructure:"output_file"`
	ExplanationsFile string            `mapstructure:"explanations_file"`
	MQTT             bus.Config        `mapstructure:"mqtt"`
	Tariff           Tariff            `mapstructure:"tariff"`
	LLM              llm.Config        `mapstructure:"llm"`
	Planner          Planner           `mapstructure:"planner"`
	Appliances       []Appliance       `mapstructure:"appliances"`
	Sensors          Sensors           `mapstructure:"sensors"`
	Weather          weather.Config    `mapstructure:"weather"`
	Log              logger.Config     `mapstructure:"log"`
	HTTP             HTTP              `mapstructure:"http"`
}

// Appliance is a configured appliance. Appliances are enabled unless disabled.
type Appliance struct {
	Name           string  `mapstructure:"name"`
	PowerKWh       float64 `mapstructure:"power_kwh"`
	MinOns         int     `mapstructure:"min_ons"`
	ThresholdRatio float64 `mapstructure:"threshold_ratio"`
	AllowPeak      bool    `mapstructure:"allow_peak"`
	Disabled       bool    `mapstructure:"disabled"`
}

const defaultThresholdRatio = 0.8

// Tariff selects where tariffs come from
type Tariff struct {
	URL     string        `mapstructure:"url"`
	Wait    time.Duration `mapstructure:"wait"`
	Default tariff.Bands  `mapstructure:"default"`
}

// Planner bounds a scheduling cycle
type Planner struct {
	Concurrency int           `mapstructure:"concurrency"`
	Interval    time.Duration `mapstructure:"interval"`
	Preferences string        `mapstructure:"preferences"`
}

// Sensors sizes the power sample buffer
type Sensors struct {
	SamplesPerHour int `mapstructure:"samples_per_hour"`
	BufferSize     int `mapstructure:"buffer_size"`
}

// HTTP configures the API listener
type HTTP struct {
	Addr string `mapstructure:"addr"`
}

// Dir returns the default configuration directory, $HOME/.tou-shift
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tou-shift"
	}
	return filepath.Join(home, ".tou-shift")
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	dir := Dir()
	v.SetDefault("db", filepath.Join(dir, "tou-shift.db"))
	v.SetDefault("status_file", "appliance_data.txt")
	v.SetDefault("output_file", "output.txt")
	v.SetDefault("explanations_file", "output_explanations.txt")

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "tou-shift")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.use_tls", false)
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)
	v.SetDefault("mqtt.tariff_topic", "power/tou_domestic")
	v.SetDefault("mqtt.sensor_topic", "home/power")
	v.SetDefault("mqtt.schedule_topic", "power/schedules")

	v.SetDefault("tariff.url", "")
	v.SetDefault("tariff.wait", 5*time.Second)
	v.SetDefault("tariff.default.day.time", "06:00 - 18:00")
	v.SetDefault("tariff.default.day.rate", 35.0)
	v.SetDefault("tariff.default.peak.time", "18:00 - 22:00")
	v.SetDefault("tariff.default.peak.rate", 67.0)
	v.SetDefault("tariff.default.off_peak.time", "22:00 - 06:00")
	v.SetDefault("tariff.default.off_peak.rate", 21.0)
	v.SetDefault("tariff.default.currency", "LKR")

	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.endpoint", "http://localhost:11434")
	v.SetDefault("llm.model", "llama3.2:latest")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_attempts", 1)
	v.SetDefault("llm.retry_delay", 5*time.Second)
	v.SetDefault("llm.attempt_timeout", 60*time.Second)

	v.SetDefault("planner.concurrency", 4)
	v.SetDefault("planner.interval", 30*time.Minute)
	v.SetDefault("planner.preferences", "")

	v.SetDefault("appliances", []map[string]any{
		appliance("WashingMachine_Power", 0.6, 0.6),
		appliance("Heater_Power", 2.0, 0.6),
		appliance("AC_Power", 1.2, 0.6),
		appliance("VehicleCharger_Power", 2.2, 0.8),
		appliance("VacuumCleaner_Power", 1.1, 0.8),
	})

	v.SetDefault("sensors.samples_per_hour", 60)
	v.SetDefault("sensors.buffer_size", 1440)

	v.SetDefault("weather.enabled", false)
	v.SetDefault("weather.latitude", 6.9271)
	v.SetDefault("weather.longitude", 79.8612)
	v.SetDefault("weather.timezone", "auto")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("http.addr", ":8080")
}

func appliance(name string, kwh, ratio float64) map[string]any {
	return map[string]any{
		"name":            name,
		"power_kwh":       kwh,
		"min_ons":         0,
		"threshold_ratio": ratio,
		"allow_peak":      false,
	}
}

// Load reads path, or $HOME/.tou-shift/config.yaml when path is empty, and
// applies TOU_ environment overrides on top of the defaults. A missing
// default config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(Dir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("TOU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no cycle could run with
func (c *Config) Validate() error {
	if c.Planner.Concurrency < 1 {
		return fmt.Errorf("planner.concurrency must be at least 1, got %d", c.Planner.Concurrency)
	}
	if c.LLM.MaxAttempts < 1 {
		return fmt.Errorf("llm.max_attempts must be at least 1, got %d", c.LLM.MaxAttempts)
	}
	if c.Planner.Interval <= 0 {
		return fmt.Errorf("planner.interval must be positive, got %s", c.Planner.Interval)
	}
	if c.Sensors.SamplesPerHour < 1 {
		return fmt.Errorf("sensors.samples_per_hour must be at least 1, got %d", c.Sensors.SamplesPerHour)
	}
	seen := make(map[string]bool, len(c.Appliances))
	for _, a := range c.Appliances {
		if a.Name == "" {
			return errors.New("appliance without a name")
		}
		if seen[a.Name] {
			return fmt.Errorf("appliance %s listed twice", a.Name)
		}
		seen[a.Name] = true
		if a.PowerKWh <= 0 {
			return fmt.Errorf("appliance %s: power_kwh must be positive, got %g", a.Name, a.PowerKWh)
		}
		if a.MinOns < 0 || a.MinOns > 24 {
			return fmt.Errorf("appliance %s: min_ons must be within [0,24], got %d", a.Name, a.MinOns)
		}
	}
	return nil
}

// StoreAppliances returns the configured appliances as stored settings.
// A missing threshold ratio falls back to 0.8.
func (c *Config) StoreAppliances() []store.Appliance {
	out := make([]store.Appliance, len(c.Appliances))
	for i, a := range c.Appliances {
		ratio := a.ThresholdRatio
		if ratio <= 0 {
			ratio = defaultThresholdRatio
		}
		out[i] = store.Appliance{
			Name:           a.Name,
			PowerKWh:       a.PowerKWh,
			MinOns:         a.MinOns,
			ThresholdRatio: ratio,
			AllowPeak:      a.AllowPeak,
			Enabled:        !a.Disabled,
		}
	}
	return out
}
