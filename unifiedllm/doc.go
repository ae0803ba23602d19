// Package unifiedllm is the model client used by the agent: a provider
// neutral request/response shape, a Client that routes to provider adapters
// through middleware, typed provider errors, and a generic retry helper.
//
// The only production adapter wraps github.com/teilomillet/gollm:
//
//	adapter, _ := unifiedllm.NewGollmAdapter("openai", os.Getenv("OPENAI_API_KEY"))
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider("openai", adapter),
//	    unifiedllm.WithMiddleware(unifiedllm.Observe(logger)),
//	)
//
//	text, _ := unifiedllm.Ask(ctx, client, unifiedllm.AskOptions{
//	    Prompt: "Say hello",
//	})
//
// Oversized prompts surface as *ContextLengthError (see IsContextLength); they
// are never retried by Retry because the same request would fail again.
// Callers shorten the conversation and try again instead.
package unifiedllm
