package llm

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/relay/internal/protocol"
)

const (
	// EnvGogoMode is the environment variable name for mode selection.
	EnvGogoMode = "GOGO_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// ErrUnsupportedProvider is returned for provider tags with no client.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// Router picks a provider client from the resolved config.
// Requests without a provider or API key go to the mock client.
type Router struct {
	providers map[string]LLMClient
	mock      LLMClient
	forceMock bool
}

// NewRouter creates a Router with the given provider clients.
func NewRouter(providers map[string]LLMClient, mock LLMClient) *Router {
	if mock == nil {
		mock = NewMockClient()
	}
	return &Router{providers: providers, mock: mock}
}

// NewLLMClient creates the default provider router.
// If GOGO_MODE=MOCK, every request is answered by the mock client.
func NewLLMClient(logger zerolog.Logger) *Router {
	openaiClient := NewOpenAIClient()
	r := NewRouter(map[string]LLMClient{
		ProviderCustom:    openaiClient,
		ProviderOpenAI:    openaiClient,
		ProviderAnthropic: NewAnthropicClient(),
	}, NewMockClient())

	if os.Getenv(EnvGogoMode) == ModeMock {
		logger.Info().Msg("GOGO_MODE=MOCK detected, using mock LLM client")
		r.forceMock = true
	}
	return r
}

// SendChat routes the call to the provider named in cfg.
func (r *Router) SendChat(ctx context.Context, prompt string, history []protocol.ContextMessage, cfg ResolvedConfig) (string, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if r.forceMock || provider == "" || cfg.APIKey == "" {
		return r.mock.SendChat(ctx, prompt, history, cfg)
	}

	client, ok := r.providers[provider]
	if !ok {
		return "", errors.Wrap(ErrUnsupportedProvider, provider)
	}
	return client.SendChat(ctx, prompt, history, cfg)
}
