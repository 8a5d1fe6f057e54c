package llm

import (
	"context"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/pkg/errors"

	"github.com/xiaot623/gogo/relay/internal/protocol"
)

const (
	defaultOpenAIModel = "gpt-3.5-turbo"
	defaultTemperature = 0.7
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
// A client is built per call because base URL and key vary per request.
type OpenAIClient struct {
	extraOptions []option.RequestOption
}

// NewOpenAIClient creates an OpenAI-compatible client. opts are applied to every call.
func NewOpenAIClient(opts ...option.RequestOption) *OpenAIClient {
	return &OpenAIClient{extraOptions: opts}
}

// SendChat sends history plus prompt as one chat completion.
func (c *OpenAIClient) SendChat(ctx context.Context, prompt string, history []protocol.ContextMessage, cfg ResolvedConfig) (string, error) {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if base := chatBaseURL(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	opts = append(opts, c.extraOptions...)
	client := openai.NewClient(opts...)

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	for _, msg := range history {
		switch strings.ToLower(msg.Role) {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(defaultTemperature),
	})
	if err != nil {
		return "", errors.Wrap(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// chatBaseURL normalizes a configured base URL for the SDK, which appends
// "chat/completions" itself.
func chatBaseURL(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	base = strings.TrimSuffix(base, "/")
	base = strings.TrimSuffix(base, "/chat/completions")
	return base + "/"
}
