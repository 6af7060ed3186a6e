// Package llm asks an Ollama chat model for a candidate appliance schedule.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/awaistahir/tou-shift/internal/planner"
)

// Config configures the Ollama endpoint and the retry budget around it
type Config struct {
	Enabled        bool          `mapstructure:"enabled"`
	Endpoint       string        `mapstructure:"endpoint"`
	Model          string        `mapstructure:"model"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

const userMessage = "Output ONLY the list of 24 integers (0 or 1). No explanations, no markdown."

// Generator proposes schedules through the Ollama /api/chat endpoint
type Generator struct {
	httpClient  *http.Client
	endpoint    string
	model       string
	temperature float64
}

// NewGenerator creates a generator for cfg. Timeouts come from the caller's context.
func NewGenerator(cfg Config) *Generator {
	return &Generator{
		httpClient:  &http.Client{},
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error"`
}

// Generate sends the prompt for req and extracts the first list in the reply
func (g *Generator) Generate(ctx context.Context, req planner.Request) ([]int, error) {
	body, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: BuildPrompt(req)},
			{Role: "user", Content: userMessage},
		},
		Options: map[string]any{"temperature": g.temperature},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("model returned status %d: %s", resp.StatusCode, string(msg))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if chat.Error != "" {
		return nil, fmt.Errorf("model error: %s", chat.Error)
	}
	return ExtractArray(chat.Message.Content)
}

var (
	fence      = regexp.MustCompile("(?s)```[a-zA-Z]*\\n?(.*?)```")
	firstArray = regexp.MustCompile(`(?s)\[[^\[\]]*\]`)
)

// ExtractArray pulls the first bracketed integer list out of a model reply.
// Fenced code blocks are unwrapped first. Values are returned as written;
// range and length checks are left to the validator.
func ExtractArray(reply string) ([]int, error) {
	text := fence.ReplaceAllString(reply, "$1")
	block := firstArray.FindString(text)
	if block == "" {
		return nil, fmt.Errorf("%w: no list found", planner.ErrNoCandidate)
	}

	inner := strings.TrimSpace(block[1 : len(block)-1])
	if inner == "" {
		return []int{}, nil
	}
	parts := strings.Split(inner, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", planner.ErrNoCandidate, strings.TrimSpace(p))
		}
		out = append(out, v)
	}
	return out, nil
}
