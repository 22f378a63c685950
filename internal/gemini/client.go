// Package gemini provides the text-generation client for the Google
// Generative Language API. All scientist and citizen output in the
// simulation comes through this client.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultModel is used when the configuration does not name one.
const DefaultModel = "gemini-2.0-flash-lite"

const defaultMaxOutputTokens = 2048

// Client calls the generateContent endpoint with bounded retries.
// Transient failures are retried with increasing backoff; rate limiting
// waits longer and safety blocks shorter before the retry.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	maxAttempts int
	backoff     time.Duration
	usage       *Usage
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithBaseURL sets a custom base URL for the API (useful for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithMaxAttempts sets the retry bound for one Generate call.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the base backoff between attempts.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.backoff = d
	}
}

// NewClient creates a Client for the given API key and model.
func NewClient(apiKey, model string, opts ...Option) *Client {
	if model == "" {
		model = DefaultModel
	}
	c := &Client{
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		baseURL:     "https://generativelanguage.googleapis.com",
		apiKey:      apiKey,
		model:       model,
		maxAttempts: 5,
		backoff:     5 * time.Second,
		usage:       NewUsage(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Usage returns the run-scoped token accounting for this client.
func (c *Client) Usage() *Usage {
	return c.usage
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Generate produces text for the combined system and user prompt. The
// API has no separate system role in this endpoint version, so the
// system prompt is prepended to the user prompt.
func (c *Client) Generate(ctx context.Context, systemPrompt, prompt string, temperature float64) (string, error) {
	combined := systemPrompt + "\n\n" + prompt

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		text, err := c.generateOnce(ctx, combined, temperature)
		if err == nil {
			c.usage.Add(c.model, estimateTokens(combined), estimateTokens(text))
			return text, nil
		}
		lastErr = err

		if attempt == c.maxAttempts {
			break
		}

		wait := c.backoff
		switch classify(err) {
		case failureRateLimited:
			wait = c.backoff * time.Duration(attempt) * 2
		case failureSafety:
			// Safety blocks are often transient for borderline prompts;
			// retry as-is after the base backoff.
		default:
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("generation cancelled: %w", ctx.Err())
		case <-time.After(wait):
		}
	}

	return "", fmt.Errorf("generation failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) generateOnce(ctx context.Context, combined string, temperature float64) (string, error) {
	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: combined}}}},
		GenerationConfig: &generationConfig{
			Temperature:     temperature,
			MaxOutputTokens: defaultMaxOutputTokens,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generation request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &generateError{kind: failureRateLimited, message: fmt.Sprintf("rate limited: %s", respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		var parsed generateResponse
		msg := string(respBody)
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		kind := failureOther
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "quota") || strings.Contains(lower, "rate") {
			kind = failureRateLimited
		}
		return "", &generateError{kind: kind, message: fmt.Sprintf("generation returned status %d: %s", resp.StatusCode, msg)}
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.PromptFeedback.BlockReason != "" {
		return "", &generateError{kind: failureSafety, message: fmt.Sprintf("prompt blocked: %s", parsed.PromptFeedback.BlockReason)}
	}
	if len(parsed.Candidates) == 0 {
		return "", &generateError{kind: failureOther, message: "response contained no candidates"}
	}

	var sb strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := sb.String()
	if text == "" {
		return "", &generateError{kind: failureOther, message: "candidate contained no text"}
	}
	return text, nil
}

type failureKind int

const (
	failureOther failureKind = iota
	failureRateLimited
	failureSafety
)

type generateError struct {
	kind    failureKind
	message string
}

func (e *generateError) Error() string {
	return e.message
}

func classify(err error) failureKind {
	if ge, ok := err.(*generateError); ok {
		return ge.kind
	}
	return failureOther
}

// estimateTokens approximates token counts at four characters per token;
// the API does not return exact counts for this endpoint.
func estimateTokens(s string) int {
	return len(s) / 4
}
