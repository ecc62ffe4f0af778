// Package completion calls an Ollama text-completion backend to turn a
// transcript into raw SOAP note text.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/scribe-sentinel/internal/config"
)

// ErrUpstreamFailure wraps every transport error and non-success response
// from the completion backend.
var ErrUpstreamFailure = errors.New("upstream completion failure")

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4096

// UpstreamError is a non-success HTTP response from the backend.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("ollama error (status %d): %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return ErrUpstreamFailure
}

// Preamble is the fixed instruction sent ahead of every transcript.
const Preamble = `You are a medical scribe assistant. Convert the following
clinical transcript into a structured SOAP note. Return ONLY valid JSON.

## Output Format
{
  "subjective": "Patient's symptoms and history",
  "objective": "Vitals and physical exam findings",
  "assessment": "Diagnoses and medical reasoning",
  "plan": "Treatments, medications, and follow-up",
  "icd10_codes": ["list", "of", "codes"]
}

## Rules
- Use medical terminology appropriately
- Include relevant ICD-10 codes when diagnoses are mentioned
- Be concise but complete
- Use professional medical documentation style
- Do not include patient names (use "Patient")
`

// BuildPrompt appends the transcript to the instruction preamble.
func BuildPrompt(transcript string) string {
	return Preamble + "\n\nTranscript:\n" + transcript
}

// Client is an Ollama /api/generate client
type Client struct {
	httpClient  *http.Client
	baseURL     string
	model       string
	temperature float64
	logger      *zap.Logger
}

// generateRequest is the Ollama /api/generate request format.
type generateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Format  string   `json:"format"`
	Stream  bool     `json:"stream"`
	Options *options `json:"options,omitempty"`
}

type options struct {
	Temperature float64 `json:"temperature"`
}

// generateResponse is the Ollama /api/generate response format.
type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// New creates a client from configuration. httpClient may be nil.
func New(cfg config.CompletionConfig, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Complete sends the transcript with the fixed preamble, asking for JSON
// output without streaming, and returns the raw response text.
func (c *Client) Complete(ctx context.Context, transcript string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:   c.model,
		Prompt:  BuildPrompt(transcript),
		Format:  "json",
		Stream:  false,
		Options: &options{Temperature: c.temperature},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: send request: %v", ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUpstreamFailure, err)
	}
	if gen.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrUpstreamFailure, gen.Error)
	}

	c.logger.Debug("Completion received",
		zap.String("model", c.model),
		zap.Duration("upstream_duration", time.Since(start)),
		zap.Int("response_bytes", len(gen.Response)),
	)

	return gen.Response, nil
}

// Ping checks the backend is reachable via /api/tags without running a model.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("ollama: failed to create ping request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: ping: %v", ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return nil
}
