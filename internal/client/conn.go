// ABOUTME: Per-user connection with a FIFO outbound queue and single writer goroutine
// ABOUTME: The queue preserves send order so follow-ups never overtake the events they follow

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// outboundBufferSize is the channel buffer for queued outbound events.
	outboundBufferSize = 64

	// writeTimeout bounds a single transport write.
	writeTimeout = 10 * time.Second
)

// ErrConnClosed indicates the connection was closed before the event
// could be queued.
var ErrConnClosed = errors.New("connection closed")

// Envelope is the wire frame for every socket event, inbound and
// outbound. Data carries the event-specific payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Transport abstracts the underlying socket so tests can substitute an
// in-memory implementation.
type Transport interface {
	// Write sends one complete frame.
	Write(ctx context.Context, data []byte) error
	// Close tears down the socket.
	Close() error
}

// Conn is a live client connection. All outbound events pass through a
// single FIFO queue drained by one writer goroutine, so two events
// queued in order are always written in that order.
type Conn struct {
	// ID uniquely identifies this connection instance. A user who
	// reconnects gets a new ID, which is how a stale registration is
	// told apart from the current one.
	ID     string
	UserID string

	transport Transport
	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewConn wraps a transport and starts the writer goroutine.
func NewConn(id, userID string, transport Transport) *Conn {
	c := &Conn{
		ID:        id,
		UserID:    userID,
		transport: transport,
		outbound:  make(chan []byte, outboundBufferSize),
		done:      make(chan struct{}),
		logger:    slog.Default().With("component", "conn", "user_id", userID),
	}
	go c.writePump()
	return c
}

// Send queues an event for delivery. It blocks if the outbound queue is
// full and returns ErrConnClosed if the connection goes away first.
func (c *Conn) Send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event data: %w", err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	select {
	case c.outbound <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	}
}

// writePump drains the outbound queue onto the transport. A write
// failure closes the connection.
func (c *Conn) writePump() {
	for {
		select {
		case frame := <-c.outbound:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.transport.Write(ctx, frame)
			cancel()
			if err != nil {
				c.logger.Debug("write failed, closing connection", "error", err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close shuts down the connection. Safe to call multiple times.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.transport.Close(); err != nil {
			c.logger.Debug("transport close failed", "error", err)
		}
	})
}

// Done is closed when the connection has been shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}
