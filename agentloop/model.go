package agentloop

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/martinemde/blockbot/history"
	"github.com/martinemde/blockbot/unifiedllm"
)

// Apology is the reply used when the model cannot be reached.
const Apology = "My brain disconnected, try again."

// Model produces the agent's next utterance from the conversation.
type Model interface {
	Converse(ctx context.Context, turns []history.Turn) (string, error)
}

// ToMessages maps turns onto chat messages: the agent's own turns become
// assistant messages, system notes become prefixed user messages, and
// everyone else is a named user message.
func ToMessages(turns []history.Turn, self string) []unifiedllm.Message {
	msgs := make([]unifiedllm.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Source {
		case self:
			msgs = append(msgs, unifiedllm.AssistantMessage(t.Text))
		case history.SourceSystem:
			msgs = append(msgs, unifiedllm.UserMessage("SYSTEM: "+t.Text))
		default:
			msgs = append(msgs, unifiedllm.NamedUserMessage(t.Source, t.Text))
		}
	}
	return msgs
}

// LLMModelConfig configures an LLMModel.
type LLMModelConfig struct {
	Name           string // the agent's own name
	Provider       string
	Model          string
	Temperature    *float64
	MaxTokens      *int
	ContextRetries int
	Retry          unifiedllm.RetryPolicy
	Logger         *zap.Logger
}

// LLMModel is a Model backed by a unifiedllm client.
type LLMModel struct {
	client *unifiedllm.Client
	cfg    LLMModelConfig
	logger *zap.Logger

	mu     sync.RWMutex
	system func() string
}

func NewLLMModel(client *unifiedllm.Client, cfg LLMModelConfig) *LLMModel {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMModel{client: client, cfg: cfg, logger: logger}
}

// SetSystemPrompt installs the function that renders the system prompt for
// each call.
func (m *LLMModel) SetSystemPrompt(fn func() string) {
	m.mu.Lock()
	m.system = fn
	m.mu.Unlock()
}

// Converse asks the model for the next utterance. When the conversation
// overflows the context window the oldest turn is dropped and the call
// retried, up to ContextRetries times. Every other failure, and an
// overflow that outlasts the retries, yields Apology with the error.
func (m *LLMModel) Converse(ctx context.Context, turns []history.Turn) (string, error) {
	m.mu.RLock()
	system := m.system
	m.mu.RUnlock()

	for attempt := 0; ; attempt++ {
		var msgs []unifiedllm.Message
		if system != nil {
			if s := system(); s != "" {
				msgs = append(msgs, unifiedllm.SystemMessage(s))
			}
		}
		msgs = append(msgs, ToMessages(turns, m.cfg.Name)...)
		req := unifiedllm.Request{
			Model:       m.cfg.Model,
			Provider:    m.cfg.Provider,
			Messages:    msgs,
			Temperature: m.cfg.Temperature,
			MaxTokens:   m.cfg.MaxTokens,
			Metadata:    map[string]string{unifiedllm.MetaPurpose: unifiedllm.PurposeConversation},
		}

		resp, err := unifiedllm.Retry(ctx, m.cfg.Retry, func(ctx context.Context) (*unifiedllm.Response, error) {
			return m.client.Complete(ctx, req)
		})
		if err == nil {
			return strings.TrimSpace(resp.Text()), nil
		}
		if unifiedllm.IsContextLength(err) && attempt < m.cfg.ContextRetries && len(turns) > 1 {
			m.logger.Warn("context length exceeded, dropping oldest turn",
				zap.Int("attempt", attempt+1),
				zap.Int("turns", len(turns)-1))
			metricContextRetries.Inc()
			turns = turns[1:]
			continue
		}
		return Apology, err
	}
}
