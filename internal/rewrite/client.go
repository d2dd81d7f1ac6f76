package rewrite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	DefaultTimeout = 60 * time.Second
	DefaultBackoff = 6 * time.Second
)

// Field names used in logs and metrics.
const (
	FieldTitle = "title"
	FieldBody  = "body"
)

// Recorder receives one observation per field rewrite.
type Recorder interface {
	RecordRewrite(field, outcome string)
}

// Config controls timeouts, backoff and the instruction templates.
type Config struct {
	Timeout     time.Duration
	Backoff     time.Duration
	TitlePrompt string
	BodyPrompt  string
}

// Result is the outcome of rewriting one candidate. When a field could not be
// rewritten it carries the original text and UsedFallback is set.
type Result struct {
	Title         string
	Body          string
	TitleFallback bool
	BodyFallback  bool
	UsedFallback  bool
	Degraded      []error
}

// Client rewrites titles and bodies through a Service, retrying once on
// rate limits and transient errors and falling back to the original text.
type Client struct {
	service  Service
	cfg      Config
	logger   *slog.Logger
	recorder Recorder
}

// NewClient creates a rewrite client. recorder may be nil.
func NewClient(service Service, cfg Config, logger *slog.Logger, recorder Recorder) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if strings.TrimSpace(cfg.TitlePrompt) == "" {
		cfg.TitlePrompt = DefaultTitlePrompt
	}
	if strings.TrimSpace(cfg.BodyPrompt) == "" {
		cfg.BodyPrompt = DefaultBodyPrompt
	}
	return &Client{
		service:  service,
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
	}
}

// Rewrite produces new wording for title and body. The two requests are
// independent: one falling back does not affect the other. Expected service
// failures never surface as errors.
func (c *Client) Rewrite(ctx context.Context, title, body string) Result {
	result := Result{Title: title, Body: body}

	if text, err := c.rewriteField(ctx, FieldTitle, c.cfg.TitlePrompt, title); err != nil {
		result.TitleFallback = true
		result.Degraded = append(result.Degraded, fmt.Errorf("title rewrite: %w", err))
	} else {
		result.Title = text
	}

	if text, err := c.rewriteField(ctx, FieldBody, c.cfg.BodyPrompt, body); err != nil {
		result.BodyFallback = true
		result.Degraded = append(result.Degraded, fmt.Errorf("body rewrite: %w", err))
	} else {
		result.Body = text
	}

	result.UsedFallback = result.TitleFallback || result.BodyFallback
	return result
}

func (c *Client) rewriteField(ctx context.Context, field, instruction, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		c.record(field, "skipped")
		return text, nil
	}
	if c.service == nil {
		c.record(field, "fallback")
		return "", NewServiceError(KindFatal, errors.New("no rewrite service configured"))
	}

	const maxAttempts = 2
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := c.call(ctx, Request{Instruction: instruction, Text: text})
		if err == nil {
			if attempt > 1 {
				c.record(field, "retried_ok")
			} else {
				c.record(field, "ok")
			}
			return out, nil
		}
		lastErr = err

		kind := KindOf(err)
		if errors.Is(err, errTimeout) || !kind.Retryable() || attempt == maxAttempts {
			break
		}

		c.logger.Debug("rewrite call failed, retrying after backoff",
			"field", field,
			"kind", kind,
			"backoff_ms", c.cfg.Backoff.Milliseconds(),
			"error", err)

		select {
		case <-ctx.Done():
			c.record(field, "fallback")
			return "", ctx.Err()
		case <-time.After(c.cfg.Backoff):
		}
	}

	c.logger.Info("rewrite fell back to original text", "field", field, "error", lastErr)
	c.record(field, "fallback")
	return "", lastErr
}

var errTimeout = errors.New("rewrite call timed out")

// call runs one request under the per-call timeout and cleans the response.
func (c *Client) call(ctx context.Context, req Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	type completion struct {
		out string
		err error
	}
	done := make(chan completion, 1)
	go func() {
		out, err := c.service.Complete(callCtx, req)
		done <- completion{out, err}
	}()

	var out string
	select {
	case r := <-done:
		if callCtx.Err() != nil && ctx.Err() == nil {
			return "", fmt.Errorf("%w after %s", errTimeout, c.cfg.Timeout)
		}
		if r.err != nil {
			return "", r.err
		}
		out = r.out
	case <-callCtx.Done():
		// a service that ignores ctx is abandoned; its reply lands in the buffered channel
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w after %s", errTimeout, c.cfg.Timeout)
	}

	cleaned := CleanResponse(out)
	if cleaned == "" {
		return "", NewServiceError(KindFatal, errors.New("empty response"))
	}
	if isRefusal(cleaned) {
		return "", NewServiceError(KindFatal, errors.New("boilerplate response"))
	}
	return cleaned, nil
}

func (c *Client) record(field, outcome string) {
	if c.recorder != nil {
		c.recorder.RecordRewrite(field, outcome)
	}
}
