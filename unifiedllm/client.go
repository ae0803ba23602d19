package unifiedllm

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"
)

// Metadata keys stamped on requests. MetaPurpose names what the call is
// for (conversation, safety, planner, stray); MetaRequestID ties together
// the log lines of one attempt.
const (
	MetaPurpose   = "purpose"
	MetaRequestID = "request_id"
)

// Purposes used by the agent's model calls.
const (
	PurposeConversation = "conversation"
	PurposeSafety       = "safety"
	PurposePlanner      = "planner"
	PurposeStray        = "stray"
	purposeOther        = "other"
)

// Middleware wraps a provider call. It receives the request and a next function
// that calls the downstream handler, and returns the response.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// Client routes requests to registered providers through middleware and
// keeps a running token tally per purpose.
type Client struct {
	mu              sync.RWMutex
	providers       map[string]ProviderAdapter
	defaultProvider string
	middleware      []Middleware

	usageMu sync.Mutex
	usage   map[string]Usage
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers a provider adapter.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers[name] = adapter
	}
}

// WithDefaultProvider sets the provider used when a request names none.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware appends middleware. The first one added runs outermost.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]ProviderAdapter),
		usage:     make(map[string]Usage),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds an adapter. The first one registered becomes the
// default when none was set.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

func (c *Client) resolveProvider(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "no provider specified and no default provider configured",
		}}
	}
	adapter, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return adapter, nil
}

// Complete stamps req with a request id, sends it through the middleware
// chain to the resolved provider and adds the reported usage to the tally
// for the request's purpose.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}
	req.Metadata = stamp(req.Metadata)

	handler := adapter.Complete
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw, next := c.middleware[i], handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}

	resp, err := handler(ctx, req)
	if err != nil {
		return nil, err
	}
	c.record(req.Metadata[MetaPurpose], resp.Usage)
	return resp, nil
}

// stamp copies md and gives it a request id if it has none.
func stamp(md map[string]string) map[string]string {
	out := make(map[string]string, len(md)+1)
	maps.Copy(out, md)
	if out[MetaRequestID] == "" {
		out[MetaRequestID] = uuid.NewString()
	}
	return out
}

func (c *Client) record(purpose string, u Usage) {
	if purpose == "" {
		purpose = purposeOther
	}
	c.usageMu.Lock()
	c.usage[purpose] = c.usage[purpose].Add(u)
	c.usageMu.Unlock()
}

// Usage returns the tokens consumed so far, by purpose.
func (c *Client) Usage() map[string]Usage {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	return maps.Clone(c.usage)
}

// Close releases resources held by all registered providers.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, adapter := range c.providers {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
