package unifiedllm

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{400, false},
		{401, false},
		{403, false},
		{404, false},
		{408, true},
		{413, false},
		{422, false},
		{429, true},
		{500, true},
		{503, true},
		{599, true},
	}

	for _, tt := range tests {
		err := ErrorFromStatusCode(tt.status, "test error", "openai", nil)
		if got := IsRetryable(err); got != tt.retryable {
			t.Errorf("status %d: IsRetryable = %v, want %v", tt.status, got, tt.retryable)
		}
	}

	if !IsContextLength(ErrorFromStatusCode(413, "too big", "openai", nil)) {
		t.Error("status 413 should map to a context length error")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"auth error", &AuthenticationError{}, false},
		{"context length", &ContextLengthError{}, false},
		{"quota exceeded", &QuotaExceededError{}, false},
		{"abort", &AbortError{}, false},
		{"rate limit", &RateLimitError{ProviderError: ProviderError{Retryable: true}}, true},
		{"server error", &ServerError{ProviderError: ProviderError{Retryable: true}}, true},
		{"network error", &NetworkError{}, true},
		{"timeout error", &RequestTimeoutError{}, true},
		{"unknown error", errors.New("unknown"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable(%T) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

func TestIsContextLengthThroughWrapping(t *testing.T) {
	err := fmt.Errorf("converse: %w", &ContextLengthError{})
	if !IsContextLength(err) {
		t.Error("expected wrapped context length error to be detected")
	}
	if IsContextLength(errors.New("plain")) {
		t.Error("plain error must not be reported as context length")
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{
		SDKError:   SDKError{Message: "rate limit exceeded"},
		Provider:   "openai",
		StatusCode: 429,
		Retryable:  true,
	}
	msg := err.Error()
	if !strings.Contains(msg, "openai") || !strings.Contains(msg, "rate limit") {
		t.Errorf("error message missing expected content: %q", msg)
	}

	cause := errors.New("root cause")
	wrapped := &SDKError{Message: "wrapper", Cause: cause}
	if !errors.Is(wrapped, cause) {
		t.Error("expected SDKError to unwrap to its cause")
	}
}

func TestGollmAdapterTranslateError(t *testing.T) {
	a := &GollmAdapter{provider: "openai"}

	tests := []struct {
		msg  string
		want string
	}{
		{"This model's maximum context length is 8192 tokens", "*unifiedllm.ContextLengthError"},
		{"error code: context_length_exceeded", "*unifiedllm.ContextLengthError"},
		{"401 Unauthorized", "*unifiedllm.AuthenticationError"},
		{"429 rate limit reached", "*unifiedllm.RateLimitError"},
		{"context deadline exceeded", "*unifiedllm.RequestTimeoutError"},
		{"something odd", "*unifiedllm.ProviderError"},
	}
	for _, tt := range tests {
		got := fmt.Sprintf("%T", a.translateError(errors.New(tt.msg)))
		if got != tt.want {
			t.Errorf("translateError(%q) = %s, want %s", tt.msg, got, tt.want)
		}
	}
}
