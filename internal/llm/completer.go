// Package llm wraps the Genkit completion call with rate limiting and
// retry on transient provider errors.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const (
	// defaultTemperature and defaultTopP apply to every completion.
	defaultTemperature float32 = 0.7
	defaultTopP        float32 = 0.9
)

// Request is one completion call: the composed messages, the model to
// run them on, and the output token limit.
type Request struct {
	Model           string
	Messages        []*ai.Message
	MaxOutputTokens int
}

// RetryConfig bounds the retry loop around a completion call.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns the defaults used in production.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Service issues completion calls through a shared Genkit instance.
// A token-bucket limiter paces every attempt, including retries.
type Service struct {
	g       *genkit.Genkit
	limiter *rate.Limiter
	retry   RetryConfig
	logger  *slog.Logger
}

// NewService creates a completion Service. A nil limiter gets the
// default 10 rps burst 30 bucket.
func NewService(g *genkit.Genkit, limiter *rate.Limiter, retry RetryConfig, logger *slog.Logger) (*Service, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}
	if retry.MaxRetries == 0 && retry.InitialInterval == 0 {
		retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{g: g, limiter: limiter, retry: retry, logger: logger}, nil
}

// Complete runs one completion and returns the response text.
// Transient provider errors are retried with exponential backoff;
// anything else fails immediately.
func (s *Service) Complete(ctx context.Context, req Request) (string, error) {
	if req.Model == "" {
		return "", fmt.Errorf("model is required")
	}
	if len(req.Messages) == 0 {
		return "", fmt.Errorf("messages are required")
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(req.Model),
		ai.WithMessages(req.Messages...),
		ai.WithConfig(&genai.GenerateContentConfig{
			MaxOutputTokens: int32(req.MaxOutputTokens),
			Temperature:     genai.Ptr(defaultTemperature),
			TopP:            genai.Ptr(defaultTopP),
		}),
	}

	var lastErr error
	delay := s.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}

		resp, err := genkit.Generate(ctx, s.g, opts...)
		if err == nil {
			s.logger.Debug("completion succeeded",
				"model", req.Model, "attempts", attempt+1, "elapsed", time.Since(start))
			return resp.Text(), nil
		}

		lastErr = err
		if !retryableError(err) {
			return "", fmt.Errorf("generate: %w", err)
		}
		if attempt == s.retry.MaxRetries {
			break
		}

		s.logger.Debug("retrying completion",
			"attempt", attempt+1, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, s.retry.MaxInterval)
		}
	}

	return "", fmt.Errorf("generate after %d retries (elapsed: %v): %w",
		s.retry.MaxRetries, time.Since(start), lastErr)
}

// retryablePatterns groups transient error substrings by category.
// Matched case-insensitively; the provider SDKs expose no typed errors
// for these failures, so string matching is the only option.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},
	{"500", "502", "503", "504", "unavailable"},
	{"connection reset", "timeout", "temporary"},
}

func retryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, group := range retryablePatterns {
		for _, pattern := range group {
			if strings.Contains(msg, pattern) {
				return true
			}
		}
	}
	return false
}
