package unifiedllm

import "context"

// ProviderAdapter is a model backend the Client can route to.
type ProviderAdapter interface {
	// Name is the key the adapter is registered under ("openai", "ollama").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}

// ProviderFunc adapts a function to ProviderAdapter. It serves canned or
// scripted backends, such as a fixed arbiter answer in tests.
func ProviderFunc(name string, fn func(ctx context.Context, req Request) (*Response, error)) ProviderAdapter {
	return funcProvider{name: name, fn: fn}
}

type funcProvider struct {
	name string
	fn   func(ctx context.Context, req Request) (*Response, error)
}

func (p funcProvider) Name() string { return p.name }

func (p funcProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	return p.fn(ctx, req)
}
