// Package client is a reconnecting relay connection for endpoints that talk
// to the hub.
package client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/relay/internal/gate"
	"github.com/xiaot623/gogo/relay/internal/protocol"
)

// DefaultReconnectDelay is waited before every connect attempt.
const DefaultReconnectDelay = 3 * time.Second

const (
	defaultInboundBuffer = 64
	writeTimeout         = 10 * time.Second
)

// State is the connection state of a Transport.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config configures a Transport.
type Config struct {
	URL            string        // ws:// or wss:// address of the relay, including /ws
	AuthKey        string        // sent as X-Auth-Key; becomes this endpoint's key
	ReconnectDelay time.Duration // defaults to DefaultReconnectDelay
	Dialer         *websocket.Dialer
	Logger         zerolog.Logger
	InboundBuffer  int
}

// Transport keeps one relay connection alive until stopped.
type Transport struct {
	cfg    Config
	logger zerolog.Logger
	state  atomic.Int32

	mu      sync.Mutex // guards everything below
	conn    *websocket.Conn
	handler func(*protocol.Envelope)
	cancel  context.CancelFunc
	done    chan struct{}

	writeMu sync.Mutex
}

// New creates a stopped Transport.
func New(cfg Config) *Transport {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = defaultInboundBuffer
	}
	return &Transport{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "relay-client").Str("url", cfg.URL).Logger(),
	}
}

// State returns the current connection state.
func (t *Transport) State() State {
	return State(t.state.Load())
}

func (t *Transport) setState(s State) {
	if State(t.state.Swap(int32(s))) != s {
		t.logger.Debug().Str("state", s.String()).Msg("state changed")
	}
}

// OnMessage sets the handler for inbound envelopes, replacing any earlier one.
// The handler runs on a single goroutine in arrival order.
func (t *Transport) OnMessage(handler func(*protocol.Envelope)) {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
}

// Start launches the connect loop. Calling it while running does nothing.
func (t *Transport) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	inbound := make(chan *protocol.Envelope, t.cfg.InboundBuffer)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done

	go t.dispatch(inbound)
	go func() {
		defer close(done)
		defer close(inbound)
		t.run(ctx, inbound)
	}()
}

// Stop ends the connect loop, closes the active connection and waits for
// the loop to exit. It is safe to call more than once.
func (t *Transport) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	if cancel != nil {
		cancel()
	}
	conn := t.conn
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	if conn != nil {
		t.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		conn.Close()
	}
	<-done
}

// Send writes payload to the relay, adding target unless the payload
// already names one. It reports false when not connected or the write
// fails; the payload is then dropped.
func (t *Transport) Send(target string, payload map[string]any) bool {
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	if target != "" {
		if _, ok := out["target"]; !ok {
			out["target"] = target
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		t.logger.Warn().Err(err).Msg("payload not serializable")
		return false
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil || t.State() != StateConnected {
		return false
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.logger.Debug().Err(err).Msg("send failed")
		return false
	}
	return true
}

func (t *Transport) run(ctx context.Context, inbound chan<- *protocol.Envelope) {
	defer t.setState(StateDisconnected)

	header := http.Header{}
	if t.cfg.AuthKey != "" {
		header.Set(gate.HeaderAuthKey, t.cfg.AuthKey)
	}

	timer := time.NewTimer(t.cfg.ReconnectDelay)
	defer timer.Stop()

	for {
		t.setState(StateDisconnected)
		timer.Reset(t.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		t.setState(StateConnecting)
		conn, _, err := t.cfg.Dialer.DialContext(ctx, t.cfg.URL, header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn().Err(err).Dur("retry_in", t.cfg.ReconnectDelay).Msg("connect failed")
			continue
		}

		t.mu.Lock()
		if ctx.Err() != nil {
			t.mu.Unlock()
			conn.Close()
			return
		}
		t.conn = conn
		t.mu.Unlock()

		t.setState(StateConnected)
		t.logger.Info().Msg("connected to relay")

		t.readLoop(ctx, conn, inbound)

		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		t.logger.Info().Dur("retry_in", t.cfg.ReconnectDelay).Msg("disconnected from relay")
	}
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn, inbound chan<- *protocol.Envelope) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				t.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}

		env, err := protocol.Parse(data)
		if err != nil {
			t.logger.Debug().Err(err).Msg("inbound message dropped")
			continue
		}

		select {
		case inbound <- env:
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transport) dispatch(inbound <-chan *protocol.Envelope) {
	for env := range inbound {
		t.mu.Lock()
		handler := t.handler
		t.mu.Unlock()
		if handler != nil {
			t.deliver(handler, env)
		}
	}
}

func (t *Transport) deliver(handler func(*protocol.Envelope), env *protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Interface("panic", r).Str("type", env.Kind()).Msg("message handler panicked")
		}
	}()
	handler(env)
}

// GenerateAuthKey returns a random 32-character URL-safe key for pairing
// an endpoint with the relay.
func GenerateAuthKey() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
