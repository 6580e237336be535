// Package nlq talks to an OpenAI-compatible chat-completions endpoint to
// turn natural-language questions into query candidates. The model's output
// is never trusted: every candidate goes through the plan validator before
// anything reaches the database.
package nlq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/metricsgate/metricsgate/internal/plan"
)

// Mode selects how the model is asked to answer: a structured JSON plan or a
// single SQL statement. Both flow through the same validator downstream.
type Mode string

const (
	ModePlan Mode = "plan"
	ModeSQL  Mode = "sql"
)

var (
	// ErrUnavailable is returned when every transport attempt failed.
	ErrUnavailable = errors.New("language model unavailable")
	// ErrMalformed is returned when the model kept answering with output
	// that could not be parsed into a candidate.
	ErrMalformed = errors.New("language model output not parseable")
)

type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	Mode           Mode
	Temperature    float64
	Timeout        time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	SiteURL        string
	SiteName       string
}

type Client struct {
	baseURL        string
	apiKey         string
	model          string
	mode           Mode
	temperature    float64
	maxAttempts    int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	siteURL        string
	siteName       string
	client         *http.Client
	logger         *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModePlan
	}
	if mode != ModePlan && mode != ModeSQL {
		return nil, fmt.Errorf("invalid mode %q", mode)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	maxDelay := cfg.RetryMaxDelay
	if maxDelay <= 0 {
		maxDelay = 8 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:         strings.TrimSpace(cfg.APIKey),
		model:          strings.TrimSpace(cfg.Model),
		mode:           mode,
		temperature:    cfg.Temperature,
		maxAttempts:    maxAttempts,
		retryBaseDelay: baseDelay,
		retryMaxDelay:  maxDelay,
		siteURL:        strings.TrimSpace(cfg.SiteURL),
		siteName:       strings.TrimSpace(cfg.SiteName),
		client:         &http.Client{Timeout: timeout},
		logger:         logger,
	}, nil
}

// Heuristic tries the deterministic Russian-language parser. A hit skips both
// the relevance classifier and the model call.
func (c *Client) Heuristic(question string) (plan.Candidate, bool) {
	parsed, ok := ParseHeuristics(question)
	if !ok {
		return nil, false
	}
	return plan.PlanCandidate{Plan: parsed}, true
}

// Classify asks the model whether the question is about the video-metrics
// domain at all. Anything the model does not clearly mark YES is irrelevant.
func (c *Client) Classify(ctx context.Context, question string) (bool, error) {
	content, err := c.requestWithRetry(ctx, classifierSystemPrompt, question)
	if err != nil {
		return false, err
	}
	normalized := strings.ToUpper(strings.TrimSpace(content))
	return strings.HasPrefix(normalized, "YES"), nil
}

// Propose asks the model for a query candidate in the configured mode.
func (c *Client) Propose(ctx context.Context, question string, today time.Time) (plan.Candidate, error) {
	return c.candidateWithRetry(ctx, c.systemPrompt(today), question)
}

// Repair sends one corrective round after a validation rejection: the
// question, the rejected candidate and the violated rule go back to the model
// for a corrected candidate. A second rejection is final; the caller does not
// loop.
func (c *Client) Repair(ctx context.Context, question string, rejected plan.Candidate, reason error, today time.Time) (plan.Candidate, error) {
	user := repairUserPrompt(question, rejected.Describe(), reason.Error())
	return c.candidateWithRetry(ctx, c.systemPrompt(today), user)
}

func (c *Client) systemPrompt(today time.Time) string {
	if c.mode == ModeSQL {
		return sqlSystemPrompt(today)
	}
	return planSystemPrompt(today)
}

func (c *Client) candidateWithRetry(ctx context.Context, system, user string) (plan.Candidate, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.waitBeforeAttempt(ctx, attempt); err != nil {
			return nil, err
		}
		content, err := c.complete(ctx, system, user)
		if err != nil {
			if isPermanent(err) {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			lastErr = err
			c.logger.Warn("completion attempt failed",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", c.maxAttempts),
				slog.Any("error", err))
			continue
		}
		candidate, err := c.parseCandidate(content)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrMalformed, err)
			c.logger.Warn("unparseable completion",
				slog.Int("attempt", attempt+1),
				slog.Any("error", err))
			continue
		}
		return candidate, nil
	}
	if errors.Is(lastErr, ErrMalformed) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) requestWithRetry(ctx context.Context, system, user string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.waitBeforeAttempt(ctx, attempt); err != nil {
			return "", err
		}
		content, err := c.complete(ctx, system, user)
		if err == nil {
			return content, nil
		}
		if isPermanent(err) {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		lastErr = err
		c.logger.Warn("completion attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", c.maxAttempts),
			slog.Any("error", err))
	}
	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) waitBeforeAttempt(ctx context.Context, attempt int) error {
	if attempt == 0 {
		return nil
	}
	delay := backoffDelay(c.retryBaseDelay, c.retryMaxDelay, attempt-1)
	delay += rand.N(250 * time.Millisecond)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// backoffDelay computes min(maxDelay, baseDelay * 2^attempt).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := base << uint(attempt)
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	payload := map[string]any{
		"model":       c.model,
		"temperature": c.temperature,
		"stream":      false,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.siteURL != "" {
		httpReq.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		httpReq.Header.Set("X-Title", c.siteName)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		failure := fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", failure
		}
		return "", &permanentError{err: failure}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content json.RawMessage `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty chat completion choices")
	}
	content := decodeContent(parsed.Choices[0].Message.Content)
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("empty chat completion content")
	}
	return content, nil
}

// decodeContent accepts both a plain string and the chunked content form
// some providers return ([{type:"text",text:"..."}]).
func decodeContent(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var chunks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &chunks); err == nil {
		var b strings.Builder
		for _, chunk := range chunks {
			if chunk.Type == "text" {
				b.WriteString(chunk.Text)
			}
		}
		return b.String()
	}
	return ""
}

func truncateBody(body []byte) string {
	const limit = 512
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}

func (c *Client) parseCandidate(content string) (plan.Candidate, error) {
	if c.mode == ModeSQL {
		statement := extractSQL(content)
		if statement == "" {
			return nil, fmt.Errorf("no SQL statement in completion")
		}
		return plan.SQLCandidate{SQL: statement}, nil
	}
	object := extractJSONObject(content)
	if object == "" {
		return nil, fmt.Errorf("no JSON object in completion")
	}
	var parsed plan.Plan
	if err := json.Unmarshal([]byte(object), &parsed); err != nil {
		return nil, fmt.Errorf("decode plan JSON: %w", err)
	}
	return plan.PlanCandidate{Plan: parsed}, nil
}
