package tariff

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/awaistahir/tou-shift/internal/engine"
)

const defaultCurrency = "LKR"

var priceNumber = regexp.MustCompile(`[-+]?\d*\.?\d+`)

// Band is one tariff band as published on the bus: "HH:MM - HH:MM" and a rate
type Band struct {
	Time string  `json:"time" mapstructure:"time"`
	Rate float64 `json:"rate" mapstructure:"rate"`
}

// Bands is the three-band tariff payload
type Bands struct {
	Day      Band   `json:"day" mapstructure:"day"`
	Peak     Band   `json:"peak" mapstructure:"peak"`
	OffPeak  Band   `json:"off_peak" mapstructure:"off_peak"`
	Currency string `json:"currency,omitempty" mapstructure:"currency"`
}

// Spec splits each band's time range and returns the engine tariff
func (b Bands) Spec() (engine.TouSpec, error) {
	spec := engine.TouSpec{Currency: b.Currency}
	if spec.Currency == "" {
		spec.Currency = defaultCurrency
	}
	for _, x := range []struct {
		name string
		in   Band
		out  *engine.BandRange
	}{
		{"day", b.Day, &spec.Day},
		{"peak", b.Peak, &spec.Peak},
		{"off_peak", b.OffPeak, &spec.OffPeak},
	} {
		start, end, err := splitRange(x.in.Time)
		if err != nil {
			return engine.TouSpec{}, fmt.Errorf("%s band: %w", x.name, err)
		}
		*x.out = engine.BandRange{Start: start, End: end, Price: x.in.Rate}
	}
	return spec, nil
}

// Parse decodes a tariff payload such as
//
//	{"day": {"time": "05:30 - 18:30", "rate": 35.0},
//	 "peak": {"time": "18:30 - 22:30", "rate": 67.0},
//	 "off_peak": {"time": "22:30 - 05:30", "rate": 21.0}}
//
// Rates may also be given under "price" or "tariff", as numbers or as
// strings like "LKR 54.00".
func Parse(data []byte) (engine.TouSpec, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return engine.TouSpec{}, fmt.Errorf("%w: decoding tariff: %v", engine.ErrConfig, err)
	}

	var bands Bands
	for _, x := range []struct {
		key string
		dst *Band
	}{
		{"day", &bands.Day},
		{"peak", &bands.Peak},
		{"off_peak", &bands.OffPeak},
	} {
		msg, ok := raw[x.key]
		if !ok {
			return engine.TouSpec{}, fmt.Errorf("%w: missing %s band", engine.ErrConfig, x.key)
		}
		var rb struct {
			Time   string          `json:"time"`
			Rate   json.RawMessage `json:"rate"`
			Price  json.RawMessage `json:"price"`
			Tariff json.RawMessage `json:"tariff"`
		}
		if err := json.Unmarshal(msg, &rb); err != nil {
			return engine.TouSpec{}, fmt.Errorf("%w: decoding %s band: %v", engine.ErrConfig, x.key, err)
		}
		x.dst.Time = rb.Time
		switch {
		case len(rb.Rate) > 0:
			x.dst.Rate = parsePrice(rb.Rate)
		case len(rb.Price) > 0:
			x.dst.Rate = parsePrice(rb.Price)
		default:
			x.dst.Rate = parsePrice(rb.Tariff)
		}
	}
	if c, ok := raw["currency"]; ok {
		_ = json.Unmarshal(c, &bands.Currency)
	}
	return bands.Spec()
}

// parsePrice reads a number or the first number inside a string; anything else is 0
func parsePrice(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	m := priceNumber.FindString(s)
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return f
}

func splitRange(s string) (string, string, error) {
	s = strings.ReplaceAll(s, "–", "-")
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: time range %q", engine.ErrConfig, s)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}
