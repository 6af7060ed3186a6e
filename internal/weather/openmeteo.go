package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const openMeteoAPIBase = "https://api.open-meteo.com/v1/forecast"

// Config selects the forecast location
type Config struct {
	Enabled   bool    `mapstructure:"enabled"`
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
	Timezone  string  `mapstructure:"timezone"`
}

// Hour is the forecast for one hour of the day
type Hour struct {
	Hour     int     `json:"hour"`
	TempC    float64 `json:"temp_c"`
	Humidity float64 `json:"humidity"`
}

// OpenMeteoClient fetches weather forecasts from Open-Meteo API
type OpenMeteoClient struct {
	httpClient *http.Client
	baseURL    string
	latitude   float64
	longitude  float64
	timezone   string
}

// NewOpenMeteoClient creates a new Open-Meteo client
func NewOpenMeteoClient(cfg Config) *OpenMeteoClient {
	tz := cfg.Timezone
	if tz == "" {
		tz = "auto"
	}
	return &OpenMeteoClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    openMeteoAPIBase,
		latitude:   cfg.Latitude,
		longitude:  cfg.Longitude,
		timezone:   tz,
	}
}

type openMeteoResponse struct {
	Hourly struct {
		Time               []string  `json:"time"`
		Temperature2m      []float64 `json:"temperature_2m"`
		RelativeHumidity2m []float64 `json:"relative_humidity_2m"`
	} `json:"hourly"`
}

// Today fetches the hourly forecast for the current local day.
// Hours missing from the response are left out.
func (c *OpenMeteoClient) Today(ctx context.Context) ([]Hour, error) {
	params := url.Values{}
	params.Add("latitude", fmt.Sprintf("%.4f", c.latitude))
	params.Add("longitude", fmt.Sprintf("%.4f", c.longitude))
	params.Add("hourly", "temperature_2m,relative_humidity_2m")
	params.Add("forecast_days", "1")
	params.Add("timezone", c.timezone)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching weather: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var meteoResp openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&meteoResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	h := meteoResp.Hourly
	hours := make([]Hour, 0, 24)
	for i := range h.Time {
		if i >= len(h.Temperature2m) || i >= len(h.RelativeHumidity2m) {
			break
		}
		// times are local to the requested timezone
		t, err := time.Parse("2006-01-02T15:04", h.Time[i])
		if err != nil {
			continue
		}
		hours = append(hours, Hour{Hour: t.Hour(), TempC: h.Temperature2m[i], Humidity: h.RelativeHumidity2m[i]})
		if len(hours) == 24 {
			break
		}
	}
	return hours, nil
}
