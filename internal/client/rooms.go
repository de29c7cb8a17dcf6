// ABOUTME: Room membership tracking for chat sessions
// ABOUTME: Maps room IDs to the set of user IDs currently joined

package client

import (
	"log/slog"
	"sync"
)

// Rooms tracks which users have joined which chat rooms. Membership is
// in-memory only and reset on restart; clients rejoin on reconnect.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]bool // roomID -> userID -> joined
	logger  *slog.Logger
}

// NewRooms creates an empty room membership table.
func NewRooms(logger *slog.Logger) *Rooms {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rooms{
		members: make(map[string]map[string]bool),
		logger:  logger.With("component", "rooms"),
	}
}

// Join adds the user to the room. Joining a room twice is a no-op.
func (r *Rooms) Join(roomID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[roomID]; !ok {
		r.members[roomID] = make(map[string]bool)
	}
	r.members[roomID][userID] = true
	r.logger.Debug("user joined room", "room_id", roomID, "user_id", userID)
}

// Leave removes the user from the room. Empty rooms are dropped.
func (r *Rooms) Leave(roomID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if users, ok := r.members[roomID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(r.members, roomID)
		}
	}
	r.logger.Debug("user left room", "room_id", roomID, "user_id", userID)
}

// Members returns the user IDs currently joined to the room.
func (r *Rooms) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users, ok := r.members[roomID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	return ids
}

// Contains reports whether the user is currently joined to the room.
func (r *Rooms) Contains(roomID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members[roomID][userID]
}

// LeaveAll removes the user from every room they joined, returning the
// rooms they were removed from. Called on disconnect.
func (r *Rooms) LeaveAll(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []string
	for roomID, users := range r.members {
		if users[userID] {
			delete(users, userID)
			left = append(left, roomID)
			if len(users) == 0 {
				delete(r.members, roomID)
			}
		}
	}
	if len(left) > 0 {
		r.logger.Debug("user left all rooms", "user_id", userID, "rooms", len(left))
	}
	return left
}
