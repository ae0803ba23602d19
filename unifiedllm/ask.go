package unifiedllm

import (
	"context"
	"strings"
)

// AskOptions configures a single-prompt completion.
type AskOptions struct {
	Model       string
	Provider    string
	System      string
	Prompt      string
	Temperature *float64
	MaxTokens   *int
	Retry       *RetryPolicy // nil means DefaultRetryPolicy
	Purpose     string       // recorded under MetaPurpose
}

// Ask sends one user prompt (plus optional system prompt) and returns the
// trimmed response text. Retryable failures are retried per opts.Retry.
func Ask(ctx context.Context, client *Client, opts AskOptions) (string, error) {
	if client == nil {
		return "", &ConfigurationError{SDKError: SDKError{Message: "ask: nil client"}}
	}
	if strings.TrimSpace(opts.Prompt) == "" {
		return "", &ConfigurationError{SDKError: SDKError{Message: "ask: empty prompt"}}
	}

	messages := []Message{UserMessage(opts.Prompt)}
	if opts.System != "" {
		messages = append([]Message{SystemMessage(opts.System)}, messages...)
	}
	req := Request{
		Model:       opts.Model,
		Provider:    opts.Provider,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.Purpose != "" {
		req.Metadata = map[string]string{MetaPurpose: opts.Purpose}
	}

	policy := DefaultRetryPolicy()
	if opts.Retry != nil {
		policy = *opts.Retry
	}
	resp, err := Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
		return client.Complete(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}

// Float64 returns a pointer to v, for optional request fields.
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v, for optional request fields.
func Int(v int) *int { return &v }
