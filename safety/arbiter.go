package safety

import (
	"context"

	"github.com/martinemde/blockbot/unifiedllm"
)

// LLMArbiter judges with a language model at temperature zero.
type LLMArbiter struct {
	client    *unifiedllm.Client
	provider  string
	model     string
	maxTokens int
	retry     unifiedllm.RetryPolicy
}

func NewLLMArbiter(client *unifiedllm.Client, provider, model string) *LLMArbiter {
	return &LLMArbiter{
		client:    client,
		provider:  provider,
		model:     model,
		maxTokens: 150,
		retry:     unifiedllm.DefaultRetryPolicy(),
	}
}

func (a *LLMArbiter) Judge(ctx context.Context, prompt string) (string, error) {
	return unifiedllm.Ask(ctx, a.client, unifiedllm.AskOptions{
		Purpose:     unifiedllm.PurposeSafety,
		Provider:    a.provider,
		Model:       a.model,
		Prompt:      prompt,
		Temperature: unifiedllm.Float64(0),
		MaxTokens:   unifiedllm.Int(a.maxTokens),
		Retry:       &a.retry,
	})
}
