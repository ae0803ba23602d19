package unifiedllm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter wraps a gollm.LLM instance and implements ProviderAdapter.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key for the adapter.
func WithAPIKey(key string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.apiKey = key
	}
}

// WithModel sets the model used when a request names none.
func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.temperature = t
	}
}

// WithGollmOptions appends raw gollm options, applied after the adapter's
// own so they win.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// DefaultModel returns the model used for provider when none is configured.
func DefaultModel(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-3-5-sonnet-20240620"
	case "ollama":
		return "llama3"
	default:
		return "gpt-4o-mini"
	}
}

// NewGollmAdapter creates a new GollmAdapter for the given provider.
// If apiKey is empty, gollm will attempt to read it from environment variables.
func NewGollmAdapter(provider string, apiKey string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{
		apiKey:      apiKey,
		maxTokens:   1000,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		model = DefaultModel(provider)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // Retries are handled by Retry.
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		model:    model,
	}, nil
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Complete sends a blocking request and returns the full response.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := a.translateRequest(req)
	a.applyRequestOptions(req)

	text, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, a.translateError(err)
	}
	return a.buildResponse(req, text), nil
}

// translateRequest flattens the conversation into a single gollm prompt.
// System messages become the system prompt; everything else is rendered as
// an attributed transcript so turn order survives the flattening.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	var system []string
	var transcript []string

	for _, msg := range req.Messages {
		text := msg.TextContent()
		if text == "" {
			continue
		}
		switch msg.Role {
		case RoleSystem:
			system = append(system, text)
		case RoleUser:
			if msg.Name != "" {
				text = msg.Name + ": " + text
			}
			transcript = append(transcript, text)
		case RoleAssistant:
			transcript = append(transcript, "[Assistant]: "+text)
		}
	}

	promptText := strings.Join(transcript, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if len(system) > 0 {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.Join(system, "\n\n"), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}
	return gollm.NewPrompt(promptText, promptOpts...)
}

// applyRequestOptions applies request-level parameters to the gollm LLM.
func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}
	input := estimateTokens(req)
	return &Response{
		ID:       "resp_" + uuid.New().String()[:8],
		Model:    model,
		Provider: a.provider,
		Message: Message{
			Role:    RoleAssistant,
			Content: []ContentPart{TextPart(text)},
		},
		FinishReason: FinishReason{Reason: "stop", Raw: "stop"},
		Usage: Usage{
			// gollm doesn't expose usage; estimate from text length.
			InputTokens:  input,
			OutputTokens: len(text) / 4,
			TotalTokens:  input + len(text)/4,
		},
	}
}

// contextOverflowMarkers are provider phrasings for an oversized prompt.
var contextOverflowMarkers = []string{
	"context length",
	"context_length_exceeded",
	"maximum context",
	"too many tokens",
	"prompt is too long",
}

// translateError converts a gollm error into the unified error hierarchy.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	base := SDKError{Message: msg, Cause: err}

	for _, marker := range contextOverflowMarkers {
		if strings.Contains(lower, marker) {
			return &ContextLengthError{ProviderError: ProviderError{SDKError: base, Provider: a.provider, StatusCode: 413}}
		}
	}

	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		return &AuthenticationError{ProviderError: ProviderError{SDKError: base, Provider: a.provider, StatusCode: 401}}
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		return &AccessDeniedError{ProviderError: ProviderError{SDKError: base, Provider: a.provider, StatusCode: 403}}
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found"):
		return &NotFoundError{ProviderError: ProviderError{SDKError: base, Provider: a.provider, StatusCode: 404}}
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return &RateLimitError{ProviderError: ProviderError{SDKError: base, Provider: a.provider, StatusCode: 429, Retryable: true}}
	case strings.Contains(lower, "500") || strings.Contains(lower, "internal server"):
		return &ServerError{ProviderError: ProviderError{SDKError: base, Provider: a.provider, StatusCode: 500, Retryable: true}}
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return &RequestTimeoutError{SDKError: base}
	case strings.Contains(lower, "content filter"):
		return &ContentFilterError{ProviderError: ProviderError{SDKError: base, Provider: a.provider}}
	default:
		return &ProviderError{SDKError: base, Provider: a.provider, Retryable: true}
	}
}

// estimateTokens provides a rough token count estimate from request messages.
func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.TextContent()) / 4
	}
	if total == 0 {
		total = 10
	}
	return total
}
