// Package llm provides the model clients used for server-side delegation.
package llm

import (
	"context"
	"time"

	"github.com/xiaot623/gogo/relay/internal/protocol"
)

// Provider tags.
const (
	ProviderCustom    = "custom"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ResolvedConfig is the final configuration for one model call.
type ResolvedConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// LLMClient sends one chat turn to a model provider and returns the reply text.
type LLMClient interface {
	SendChat(ctx context.Context, prompt string, history []protocol.ContextMessage, cfg ResolvedConfig) (string, error)
}

// Ensure the provider clients implement LLMClient.
var (
	_ LLMClient = (*Router)(nil)
	_ LLMClient = (*OpenAIClient)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
	_ LLMClient = (*MockClient)(nil)
)
