package chat

import (
	"context"
	"sort"
	"sync"
	"time"
)

type typingKey struct {
	roomID int
	userID int
}

// TypingTracker holds who is typing in which room. Entries self-expire:
// a typing=true event refreshes the expiry, an explicit typing=false
// clears it, and reads evict whatever has lapsed. Nothing persists.
type TypingTracker struct {
	mu      sync.Mutex
	entries map[typingKey]time.Time
}

func NewTypingTracker() *TypingTracker {
	return &TypingTracker{entries: make(map[typingKey]time.Time)}
}

// SetTyping inserts or refreshes the expiry for (roomID, userID).
func (t *TypingTracker) SetTyping(roomID, userID int, ttl time.Duration) {
	t.mu.Lock()
	t.entries[typingKey{roomID, userID}] = time.Now().Add(ttl)
	t.mu.Unlock()
}

// ClearTyping removes the entry immediately, regardless of its expiry.
func (t *TypingTracker) ClearTyping(roomID, userID int) {
	t.mu.Lock()
	delete(t.entries, typingKey{roomID, userID})
	t.mu.Unlock()
}

// ActiveTypists returns the users currently typing in roomID, in
// ascending id order. Expired entries for the room are evicted on the
// way through.
func (t *TypingTracker) ActiveTypists(roomID int) []int {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	var users []int
	for key, expiry := range t.entries {
		if key.roomID != roomID {
			continue
		}
		if now.Before(expiry) {
			users = append(users, key.userID)
		} else {
			delete(t.entries, key)
		}
	}
	sort.Ints(users)
	return users
}

// Sweep evicts expired entries every interval until ctx is cancelled.
// Reads already evict lazily; the sweep bounds memory held for rooms
// nobody queries anymore.
func (t *TypingTracker) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.evictExpired()
		}
	}
}

func (t *TypingTracker) evictExpired() {
	now := time.Now()
	t.mu.Lock()
	for key, expiry := range t.entries {
		if !now.Before(expiry) {
			delete(t.entries, key)
		}
	}
	t.mu.Unlock()
}
