package llm

import (
	"errors"
	"fmt"
	"testing"
)

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", errors.New("googleapi: Error 429: rate limit exceeded"), true},
		{"quota", errors.New("Quota Exceeded for project"), true},
		{"server error", errors.New("rpc error: code 503 service unavailable"), true},
		{"timeout", errors.New("context deadline exceeded (Client.Timeout)"), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"bad request", errors.New("invalid argument: unknown model"), false},
		{"auth failure", errors.New("API key not valid"), false},
		{"wrapped transient", fmt.Errorf("generate: %w", errors.New("503 unavailable")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryableError(tt.err); got != tt.want {
				t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewService_Validation(t *testing.T) {
	if _, err := NewService(nil, nil, RetryConfig{}, nil); err == nil {
		t.Error("nil genkit instance must fail")
	}
}
