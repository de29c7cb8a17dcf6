// ABOUTME: Thread-safe bounded per-chat history window for enrichment context
// ABOUTME: Keeps the most recent message bodies of each chat, oldest evicted first

package router

import (
	"sync"
)

// historyCache holds a sliding window of recent message bodies per
// chat. Enrichment operations read from it instead of hitting the
// store; FetchHistory reseeds it so the window survives restarts.
type historyCache struct {
	mu      sync.RWMutex
	chats   map[string][]string
	maxSize int
}

func newHistoryCache(maxSize int) *historyCache {
	return &historyCache{
		chats:   make(map[string][]string),
		maxSize: maxSize,
	}
}

// Append adds a message body to the chat's window, evicting the oldest
// entry when the window is full.
func (c *historyCache) Append(chatID, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	window := append(c.chats[chatID], body)
	if len(window) > c.maxSize {
		window = window[len(window)-c.maxSize:]
	}
	c.chats[chatID] = window
}

// Recent returns a copy of the chat's window, oldest first.
func (c *historyCache) Recent(chatID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	window, ok := c.chats[chatID]
	if !ok {
		return nil
	}
	out := make([]string, len(window))
	copy(out, window)
	return out
}

// Replace reseeds the chat's window from persisted history. Only the
// most recent maxSize bodies are kept.
func (c *historyCache) Replace(chatID string, bodies []string) {
	if len(bodies) > c.maxSize {
		bodies = bodies[len(bodies)-c.maxSize:]
	}
	window := make([]string, len(bodies))
	copy(window, bodies)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats[chatID] = window
}

// Drop discards the chat's window.
func (c *historyCache) Drop(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.chats, chatID)
}
