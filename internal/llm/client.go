// Package llm wraps the generation capability behind a narrow interface.
// The production client talks to a Gemini-style REST endpoint; tests plug
// in stubs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/verdin-ai/verdin/internal/config"
	"github.com/verdin-ai/verdin/pkg/models"
)

// Generator is the opaque generation capability: generate(prompt, model)
// -> text, may fail.
type Generator interface {
	Generate(ctx context.Context, prompt string, tier models.ModelTier) (string, error)
}

// GenerationError is the failure surfaced to callers when generation
// fails after retries exhaust. It is the only infrastructure failure the
// caller ever sees directly.
type GenerationError struct {
	Tier models.ModelTier
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed for %s: %v", e.Tier, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Client calls the Gemini generateContent REST API with bounded
// exponential backoff on transient failures (rate limits, temporary
// unavailability).
type Client struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates the client. A missing API key is a construction error:
// the process cannot serve generation without one.
func NewClient(cfg config.LLMConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: GOOGLE_API_KEY is not set")
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type genPart struct {
	Text string `json:"text"`
}

type genContent struct {
	Parts []genPart `json:"parts"`
}

type generateRequest struct {
	Contents []genContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content genContent `json:"content"`
	} `json:"candidates"`
}

// Generate runs the prompt against the given tier. Transient upstream
// statuses are retried with exponential backoff up to the configured
// attempt budget; anything else fails immediately.
func (c *Client) Generate(ctx context.Context, prompt string, tier models.ModelTier) (string, error) {
	var out string

	attempt := 0
	op := func() error {
		attempt++
		text, err := c.generateOnce(ctx, prompt, tier)
		if err != nil {
			if transient(err) {
				log.Warn().Err(err).Int("attempt", attempt).Str("tier", string(tier)).Msg("Generation attempt failed, retrying")
				return err
			}
			return backoff.Permanent(err)
		}
		out = text
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.MaxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return "", &GenerationError{Tier: tier, Err: err}
	}
	return out, nil
}

func (c *Client) generateOnce(ctx context.Context, prompt string, tier models.ModelTier) (string, error) {
	body := generateRequest{
		Contents: []genContent{{Parts: []genPart{{Text: prompt}}}},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.cfg.Endpoint, url.PathEscape(string(tier)), url.QueryEscape(c.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &statusError{code: http.StatusServiceUnavailable, cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &statusError{code: resp.StatusCode, cause: fmt.Errorf("upstream: %s", payload)}
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "[Response blocked or unavailable]", nil
	}
	text := decoded.Candidates[0].Content.Parts[0].Text
	if text == "" {
		return "[Response empty]", nil
	}
	return text, nil
}

type statusError struct {
	code  int
	cause error
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.code, e.cause)
}

func (e *statusError) Unwrap() error { return e.cause }

// transient reports whether the error is worth retrying: rate limiting or
// temporary upstream unavailability.
func transient(err error) bool {
	if se, ok := err.(*statusError); ok {
		return se.code == http.StatusTooManyRequests ||
			se.code == http.StatusServiceUnavailable ||
			se.code == http.StatusInternalServerError
	}
	return false
}
