package state

import (
	"sort"
	"sync"
)

// Presence tracks which user ids are currently online. Absent entries are
// offline. State is transient and rebuildable from the next full snapshot;
// users who drop without an event go stale until then.
type Presence struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

// NewPresence creates an empty presence tracker.
func NewPresence() *Presence {
	return &Presence{online: make(map[string]struct{})}
}

// ReplaceAll applies a full online-list snapshot, discarding prior state.
func (p *Presence) ReplaceAll(userIDs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		p.online[id] = struct{}{}
	}
}

// SetOnline applies an incremental toggle for one user.
func (p *Presence) SetOnline(userID string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if online {
		p.online[userID] = struct{}{}
	} else {
		delete(p.online, userID)
	}
}

// IsOnline reports whether the user is currently online.
func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// Online returns the online user ids, sorted for stable rendering.
func (p *Presence) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
