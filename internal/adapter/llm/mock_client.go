package llm

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/relay/internal/protocol"
)

// MockClient answers without calling a provider. It is used when a request
// resolves to no provider or no API key.
type MockClient struct{}

// NewMockClient creates a new mock client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// SendChat echoes the prompt back.
func (m *MockClient) SendChat(ctx context.Context, prompt string, _ []protocol.ContextMessage, _ ResolvedConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("[MOCK REPLY] received: %s", truncate(prompt, 200)), nil
}

// truncate cuts s to at most maxLen runes.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
