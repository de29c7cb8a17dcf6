// ABOUTME: Registry maps user IDs to their live connections
// ABOUTME: A reconnect replaces the old entry; unregistration only removes the exact handle it was given

package client

import (
	"log/slog"
	"sync"

	"github.com/wirechat/wirechat/internal/metrics"
)

// Registry tracks which users are currently connected. Each user has at
// most one live connection; a new registration for the same user
// replaces the old one.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	logger *slog.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]*Conn),
		logger: logger.With("component", "registry"),
	}
}

// Register binds the connection to its user, replacing any previous
// connection for that user. The replaced connection is returned so the
// caller can close it; nil means the user was not connected before.
func (r *Registry) Register(conn *Conn) *Conn {
	r.mu.Lock()
	prev := r.conns[conn.UserID]
	r.conns[conn.UserID] = conn
	total := len(r.conns)
	r.mu.Unlock()

	metrics.ConnectionsActive.Set(float64(total))
	r.logger.Info("client connected",
		"user_id", conn.UserID,
		"conn_id", conn.ID,
		"replaced", prev != nil,
		"total_connections", total,
	)
	return prev
}

// Unregister removes the given connection, but only if it is still the
// user's current one. A connection replaced by a reconnect is a stale
// handle and must not evict its successor. Reports whether the mapping
// was removed, so callers can skip the rest of their presence teardown
// for stale handles.
func (r *Registry) Unregister(conn *Conn) bool {
	r.mu.Lock()
	current, ok := r.conns[conn.UserID]
	if !ok || current.ID != conn.ID {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, conn.UserID)
	total := len(r.conns)
	r.mu.Unlock()

	metrics.ConnectionsActive.Set(float64(total))
	r.logger.Info("client disconnected",
		"user_id", conn.UserID,
		"conn_id", conn.ID,
		"total_connections", total,
	)
	return true
}

// Resolve returns the live connection for a user, if any.
func (r *Registry) Resolve(userID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

// Count returns the number of connected users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
