package llm

import (
	"context"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/xiaot623/gogo/relay/internal/protocol"
)

const (
	defaultAnthropicModel     = "claude-3-5-sonnet-20241022"
	defaultAnthropicMaxTokens = 1024
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	extraOptions []anthropicoption.RequestOption
}

// NewAnthropicClient creates an Anthropic client. opts are applied to every call.
func NewAnthropicClient(opts ...anthropicoption.RequestOption) *AnthropicClient {
	return &AnthropicClient{extraOptions: opts}
}

// SendChat sends history plus prompt as one message request.
func (c *AnthropicClient) SendChat(ctx context.Context, prompt string, history []protocol.ContextMessage, cfg ResolvedConfig) (string, error) {
	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(cfg.APIKey)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, anthropicoption.WithBaseURL(base))
	}
	opts = append(opts, c.extraOptions...)
	client := anthropic.NewClient(opts...)

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultAnthropicModel
	}

	var system []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, msg := range history {
		if msg.Content == "" {
			continue
		}
		switch strings.ToLower(msg.Role) {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   defaultAnthropicMaxTokens,
		Messages:    messages,
		Temperature: anthropic.Float(defaultTemperature),
	}
	if len(system) > 0 {
		params.System = system
	}

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", errors.Wrap(err, "anthropic message")
	}
	return collectText(msg.Content), nil
}

func collectText(blocks []anthropic.ContentBlockUnion) string {
	var sb strings.Builder
	for _, block := range blocks {
		if block.Type != "text" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(block.Text)
	}
	return sb.String()
}
