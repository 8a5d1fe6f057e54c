package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSendBuffer is the outbound queue depth of an endpoint.
const DefaultSendBuffer = 256

// Endpoint is a registered, addressable live connection.
//
// The hub never touches the socket. It only enqueues serialized envelopes;
// the connection's writer drains Outbound until Done is closed.
type Endpoint struct {
	ID           string
	Key          string
	RegisteredAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewEndpoint creates an endpoint for key with an outbound queue of the given size.
func NewEndpoint(key string, buffer int) *Endpoint {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Endpoint{
		ID:           uuid.New().String(),
		Key:          key,
		RegisteredAt: time.Now(),
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
	}
}

// Outbound returns the queue of serialized envelopes awaiting a write.
func (e *Endpoint) Outbound() <-chan []byte {
	return e.send
}

// Done is closed once the endpoint stops accepting writes.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// Close marks the endpoint closed. Safe to call more than once.
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
}

// Closed reports whether Close has been called.
func (e *Endpoint) Closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *Endpoint) enqueue(data []byte) error {
	if e.Closed() {
		return ErrEndpointClosed
	}
	select {
	case e.send <- data:
		return nil
	default:
		// A writer that cannot keep up is treated as dead; its own
		// read loop unregisters it once the socket is torn down.
		e.Close()
		return ErrBufferFull
	}
}
