// Package hub owns the endpoint registry and the routing/delegation logic of the relay.
package hub

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/relay/internal/metrics"
	"github.com/xiaot623/gogo/relay/internal/protocol"
)

// Dispatch failures. Callers drop the envelope; nothing is reported to the sender.
var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrNoTarget          = errors.New("envelope has no target")
	ErrUnknownTarget     = errors.New("target endpoint not registered")
	ErrBufferFull        = errors.New("send buffer full")
	ErrEndpointClosed    = errors.New("endpoint closed")
	ErrHubClosed         = errors.New("hub closed")
)

// Delegate turns a model_request envelope into reply text.
// The reply is always usable, even when err is non-nil.
type Delegate interface {
	ResolveAndCall(ctx context.Context, env *protocol.Envelope) (string, error)
}

// Hub manages all registered endpoints.
type Hub struct {
	// Endpoints indexed by key
	endpoints map[string]*Endpoint
	closed    bool
	mu        sync.RWMutex

	delegate Delegate
	logger   zerolog.Logger

	// Model calls outlive the read loop that issued them
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Hub. A nil delegate answers every model request with an error reply.
func New(delegate Delegate, logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		endpoints: make(map[string]*Endpoint),
		delegate:  delegate,
		logger:    logger.With().Str("component", "hub").Logger(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Register inserts ep under its key, replacing any earlier occupant.
// The replaced endpoint is left alone; it is no longer addressable and
// goes away when its own read loop ends. A closed hub closes ep instead.
func (h *Hub) Register(ep *Endpoint) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ep.Close()
		return
	}
	prev, replaced := h.endpoints[ep.Key]
	h.endpoints[ep.Key] = ep
	count := len(h.endpoints)
	h.mu.Unlock()

	metrics.ConnectionsActive.Set(float64(count))
	ev := h.logger.Info().Str("key", ep.Key).Str("conn_id", ep.ID)
	if replaced {
		ev = ev.Str("replaced_conn_id", prev.ID)
	}
	ev.Msg("endpoint registered")
}

// Unregister removes the endpoint registered under key. It is idempotent.
func (h *Hub) Unregister(key string) bool {
	h.mu.Lock()
	_, ok := h.endpoints[key]
	delete(h.endpoints, key)
	count := len(h.endpoints)
	h.mu.Unlock()

	if ok {
		metrics.ConnectionsActive.Set(float64(count))
		h.logger.Info().Str("key", key).Msg("endpoint unregistered")
	}
	return ok
}

// Release is the read-loop cleanup for ep. It closes ep and removes its key
// only while the key still maps to ep, so a stale connection closing late
// cannot evict the endpoint that replaced it.
func (h *Hub) Release(ep *Endpoint) bool {
	ep.Close()

	h.mu.Lock()
	cur, ok := h.endpoints[ep.Key]
	owned := ok && cur == ep
	if owned {
		delete(h.endpoints, ep.Key)
	}
	count := len(h.endpoints)
	h.mu.Unlock()

	if owned {
		metrics.ConnectionsActive.Set(float64(count))
		h.logger.Info().Str("key", ep.Key).Str("conn_id", ep.ID).Msg("endpoint released")
	}
	return owned
}

// Lookup returns the endpoint registered under key.
func (h *Hub) Lookup(key string) (*Endpoint, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ep, ok := h.endpoints[key]
	return ep, ok
}

// Count returns the number of registered endpoints.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.endpoints)
}

// Keys returns the registered keys in sorted order.
func (h *Hub) Keys() []string {
	h.mu.RLock()
	keys := make([]string, 0, len(h.endpoints))
	for k := range h.endpoints {
		keys = append(keys, k)
	}
	h.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Dispatch handles one raw inbound message from senderKey.
//
// Model requests are answered asynchronously on the hub's own context, so
// Dispatch returns as soon as the call is scheduled.
func (h *Hub) Dispatch(senderKey string, raw []byte) error {
	env, err := protocol.Parse(raw)
	if err != nil {
		metrics.EnvelopesTotal.WithLabelValues(metrics.OutcomeMalformed).Inc()
		return errors.Wrap(ErrMalformedEnvelope, err.Error())
	}

	if env.Kind() == protocol.TypeModelRequest {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return ErrHubClosed
		}
		h.wg.Add(1)
		h.mu.Unlock()

		metrics.EnvelopesTotal.WithLabelValues(metrics.OutcomeDelegated).Inc()
		go func() {
			defer h.wg.Done()
			h.answerModelRequest(h.ctx, senderKey, env)
		}()
		return nil
	}

	return h.Route(senderKey, env.Target, env)
}

// Route forwards env to target with sender stamped as senderKey.
// Any sender supplied by the client is overwritten.
func (h *Hub) Route(senderKey, target string, env *protocol.Envelope) error {
	if target == "" {
		metrics.EnvelopesTotal.WithLabelValues(metrics.OutcomeNoTarget).Inc()
		return ErrNoTarget
	}

	out := env.Clone()
	out.Sender = senderKey

	err := h.Send(target, out)
	switch {
	case err == nil:
		metrics.EnvelopesTotal.WithLabelValues(metrics.OutcomeRouted).Inc()
	case errors.Is(err, ErrUnknownTarget):
		metrics.EnvelopesTotal.WithLabelValues(metrics.OutcomeMiss).Inc()
	default:
		metrics.EnvelopesTotal.WithLabelValues(metrics.OutcomeWriteFail).Inc()
	}
	return err
}

// Send serializes env and queues it for the endpoint registered under key.
func (h *Hub) Send(key string, env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}

	ep, ok := h.Lookup(key)
	if !ok {
		return ErrUnknownTarget
	}
	if err := ep.enqueue(data); err != nil {
		h.logger.Debug().Err(err).Str("key", key).Str("conn_id", ep.ID).Msg("send dropped")
		return err
	}
	return nil
}

func (h *Hub) answerModelRequest(ctx context.Context, senderKey string, env *protocol.Envelope) {
	var reply string
	if h.delegate == nil {
		reply = "[ERROR] model delegation is not enabled on this server"
	} else {
		var err error
		reply, err = h.delegate.ResolveAndCall(ctx, env)
		if err != nil {
			h.logger.Warn().Err(err).Str("sender", senderKey).Str("session_id", env.SessionID).Msg("model request failed")
		}
	}

	if err := h.Send(senderKey, protocol.NewModelReply(env.SessionID, reply)); err != nil {
		h.logger.Debug().Err(err).Str("sender", senderKey).Msg("model reply dropped")
	}
}

// Close stops accepting model requests, cancels the ones in flight, closes
// every registered endpoint and waits for the model calls to finish.
// It is safe to call more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	eps := make([]*Endpoint, 0, len(h.endpoints))
	for _, ep := range h.endpoints {
		eps = append(eps, ep)
	}
	h.mu.Unlock()

	h.cancel()
	for _, ep := range eps {
		ep.Close()
	}
	h.wg.Wait()
}
