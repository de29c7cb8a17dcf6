// ABOUTME: Tests for Conn's FIFO outbound queue and writer goroutine
// ABOUTME: Uses an in-memory transport to observe write order and close behavior

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// mockTransport records written frames in order
type mockTransport struct {
	mu       sync.Mutex
	frames   [][]byte
	writeErr error
	closed   bool
	written  chan struct{}
}

func newMockTransport() *mockTransport {
	return &mockTransport{written: make(chan struct{}, 128)}
}

func (m *mockTransport) Write(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.frames = append(m.frames, data)
	m.written <- struct{}{}
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockTransport) frameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func (m *mockTransport) waitFrames(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-m.written:
		case <-deadline:
			t.Fatalf("timed out waiting for %d frames, got %d", n, m.frameCount())
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	frames := make([][]byte, len(m.frames))
	copy(frames, m.frames)
	return frames
}

func TestConn_Send_PreservesOrder(t *testing.T) {
	transport := newMockTransport()
	conn := NewConn("conn-1", "user-1", transport)
	defer conn.Close()

	const total = 20
	for i := 0; i < total; i++ {
		if err := conn.Send("test_event", map[string]int{"seq": i}); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	frames := transport.waitFrames(t, total)
	for i, frame := range frames {
		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("unmarshaling frame %d: %v", i, err)
		}
		if env.Event != "test_event" {
			t.Errorf("frame %d event = %q, want test_event", i, env.Event)
		}
		var data struct {
			Seq int `json:"seq"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("unmarshaling frame %d data: %v", i, err)
		}
		if data.Seq != i {
			t.Errorf("frame %d seq = %d, want %d: queue reordered events", i, data.Seq, i)
		}
	}
}

func TestConn_Send_AfterClose(t *testing.T) {
	transport := newMockTransport()
	conn := NewConn("conn-1", "user-1", transport)
	conn.Close()

	// Give the writer goroutine a moment to observe the close, then
	// flood past the buffer so a blocked send would be detected.
	var err error
	for i := 0; i < outboundBufferSize*10; i++ {
		if err = conn.Send("test_event", nil); err != nil {
			break
		}
	}
	if !errors.Is(err, ErrConnClosed) {
		t.Errorf("Send after close = %v, want ErrConnClosed", err)
	}
}

func TestConn_WriteFailure_ClosesConnection(t *testing.T) {
	transport := newMockTransport()
	transport.writeErr = fmt.Errorf("broken pipe")
	conn := NewConn("conn-1", "user-1", transport)

	_ = conn.Send("test_event", nil)

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed after write failure")
	}

	transport.mu.Lock()
	closed := transport.closed
	transport.mu.Unlock()
	if !closed {
		t.Error("transport not closed after write failure")
	}
}

func TestConn_Close_Idempotent(t *testing.T) {
	transport := newMockTransport()
	conn := NewConn("conn-1", "user-1", transport)

	conn.Close()
	conn.Close()
	conn.Close()

	select {
	case <-conn.Done():
	default:
		t.Error("Done channel not closed")
	}
}
