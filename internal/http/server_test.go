package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/relay/internal/hub"
)

func newTestServer(t *testing.T) (*Server, *hub.Hub) {
	t.Helper()
	h := hub.New(nil, zerolog.Nop())
	t.Cleanup(h.Close)
	return NewServer(h, zerolog.Nop()), h
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, h := newTestServer(t)
	h.Register(hub.NewEndpoint("bob", 4))
	h.Register(hub.NewEndpoint("alice", 4))

	rec := do(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(2), body["connections"])
	assert.Equal(t, []any{"alice", "bob"}, body["keys"])
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "relay_connections_active")
}

func TestInternalSendStampsServerSender(t *testing.T) {
	s, h := newTestServer(t)
	bob := hub.NewEndpoint("bob", 4)
	h.Register(bob)

	rec := do(s, http.MethodPost, "/internal/send", `{"target":"bob","envelope":{"type":"chat","text":"maintenance at noon","sender":"alice"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"delivered":true}`, rec.Body.String())

	select {
	case data := <-bob.Outbound():
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "server", msg["sender"])
		assert.Equal(t, "maintenance at noon", msg["text"])
	case <-time.After(time.Second):
		t.Fatal("envelope not delivered")
	}
}

func TestInternalSendUnknownTarget(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(s, http.MethodPost, "/internal/send", `{"target":"ghost","envelope":{"text":"hi"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"delivered":false}`, rec.Body.String())
}

func TestInternalSendValidation(t *testing.T) {
	s, _ := newTestServer(t)

	cases := map[string]string{
		"missing target":   `{"envelope":{"text":"hi"}}`,
		"missing envelope": `{"target":"bob"}`,
		"array envelope":   `{"target":"bob","envelope":[1,2]}`,
		"broken body":      `{"target":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(s, http.MethodPost, "/internal/send", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
