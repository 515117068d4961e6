package state

import (
	"sort"
	"sync"
)

// Typing tracks which remote users are composing, per conversation. It fully
// trusts remote stop signals and runs no expiry timer of its own: a peer that
// disconnects mid-typing without a stop leaves a stale entry until the next
// update for that user.
type Typing struct {
	mu     sync.RWMutex
	byConv map[string]map[string]struct{}
}

// NewTyping creates an empty typing tracker.
func NewTyping() *Typing {
	return &Typing{byConv: make(map[string]map[string]struct{})}
}

// Apply records a start or stop for (conversation, user). A stop for an
// unknown combination is a no-op. Returns whether membership changed.
func (t *Typing) Apply(conversationID, userID string, typing bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.byConv[conversationID]
	if typing {
		if set == nil {
			set = make(map[string]struct{})
			t.byConv[conversationID] = set
		}
		if _, ok := set[userID]; ok {
			return false
		}
		set[userID] = struct{}{}
		return true
	}
	if set == nil {
		return false
	}
	if _, ok := set[userID]; !ok {
		return false
	}
	delete(set, userID)
	return true
}

// TypingIn returns the users currently typing in a conversation, sorted.
func (t *Typing) TypingIn(conversationID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.byConv[conversationID]))
	for id := range t.byConv[conversationID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
