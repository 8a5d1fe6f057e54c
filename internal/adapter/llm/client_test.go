package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go/option"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/relay/internal/protocol"
)

type recordingClient struct {
	reply string
	calls int
	cfg   ResolvedConfig
}

func (c *recordingClient) SendChat(_ context.Context, _ string, _ []protocol.ContextMessage, cfg ResolvedConfig) (string, error) {
	c.calls++
	c.cfg = cfg
	return c.reply, nil
}

func TestMockClientTruncatesPrompt(t *testing.T) {
	reply, err := NewMockClient().SendChat(context.Background(), strings.Repeat("a", 300), nil, ResolvedConfig{})
	require.NoError(t, err)
	assert.Equal(t, "[MOCK REPLY] received: "+strings.Repeat("a", 200), reply)
}

func TestRouterSelectsProvider(t *testing.T) {
	ctx := context.Background()
	custom := &recordingClient{reply: "custom"}
	mock := &recordingClient{reply: "mock"}
	r := NewRouter(map[string]LLMClient{ProviderCustom: custom}, mock)

	reply, err := r.SendChat(ctx, "p", nil, ResolvedConfig{Provider: "Custom", APIKey: "k", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "custom", reply)
	assert.Equal(t, "m", custom.cfg.Model)

	reply, err = r.SendChat(ctx, "p", nil, ResolvedConfig{Provider: "custom"})
	require.NoError(t, err)
	assert.Equal(t, "mock", reply, "missing API key falls back to mock")

	reply, err = r.SendChat(ctx, "p", nil, ResolvedConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "mock", reply, "missing provider falls back to mock")

	_, err = r.SendChat(ctx, "p", nil, ResolvedConfig{Provider: "gemini", APIKey: "k"})
	assert.True(t, errors.Is(err, ErrUnsupportedProvider))
	assert.Contains(t, err.Error(), "gemini")
}

func TestNewLLMClientMockMode(t *testing.T) {
	t.Setenv(EnvGogoMode, ModeMock)
	r := NewLLMClient(zerolog.Nop())
	reply, err := r.SendChat(context.Background(), "hi", nil, ResolvedConfig{Provider: ProviderOpenAI, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "[MOCK REPLY] received: hi", reply)
}

func TestOpenAIClientSendChat(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("unexpected auth header: %s", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"m1","choices":[{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`)
	}))
	defer server.Close()

	client := NewOpenAIClient(option.WithMaxRetries(0))
	reply, err := client.SendChat(context.Background(), "hello", []protocol.ContextMessage{
		{Role: "user", Content: "earlier"},
		{Role: "assistant", Content: "answer"},
	}, ResolvedConfig{
		Provider: ProviderCustom,
		BaseURL:  server.URL + "/v1/chat/completions",
		APIKey:   "sk-test",
		Model:    "m1",
		Timeout:  time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)
	assert.Equal(t, "m1", got.Model)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	assert.Equal(t, "hello", got.Messages[2].Content)
}

func TestOpenAIClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	client := NewOpenAIClient(option.WithMaxRetries(0))
	_, err := client.SendChat(context.Background(), "hello", nil, ResolvedConfig{BaseURL: server.URL, APIKey: "k"})
	assert.Error(t, err)
}

func TestAnthropicClientSendChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[{"type":"text","text":"hello"},{"type":"text","text":"world"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":2}}`)
	}))
	defer server.Close()

	reply, err := NewAnthropicClient().SendChat(context.Background(), "hi", []protocol.ContextMessage{
		{Role: "system", Content: "be brief"},
	}, ResolvedConfig{Provider: ProviderAnthropic, BaseURL: server.URL, APIKey: "k", Model: "claude-test"})
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", reply)
}

func TestChatBaseURL(t *testing.T) {
	assert.Equal(t, "", chatBaseURL(" "))
	assert.Equal(t, "https://api.example.com/v1/", chatBaseURL("https://api.example.com/v1"))
	assert.Equal(t, "https://api.example.com/v1/", chatBaseURL("https://api.example.com/v1/chat/completions"))
}
