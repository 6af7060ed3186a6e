package tariff

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/awaistahir/tou-shift/internal/engine"
)

// HTTPSource fetches a tariff payload from a URL
type HTTPSource struct {
	httpClient *http.Client
	url        string
}

// NewHTTPSource creates a source for the given URL
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        url,
	}
}

// Fetch downloads and parses the tariff
func (c *HTTPSource) Fetch(ctx context.Context) (engine.TouSpec, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return engine.TouSpec{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return engine.TouSpec{}, fmt.Errorf("fetching tariff: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return engine.TouSpec{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return engine.TouSpec{}, fmt.Errorf("tariff endpoint returned status %d: %s", resp.StatusCode, string(body))
	}
	return Parse(body)
}
