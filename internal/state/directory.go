package state

import (
	"slices"
	"sync"
	"time"
)

// Directory is the conversation summary store. Entries are created on first
// observation (snapshot fetch or conversation:new push) and never removed;
// listing preserves insertion order.
type Directory struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*Conversation
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		byID: make(map[string]*Conversation),
	}
}

// UpsertSummary inserts a conversation if new; an already known id is left
// untouched. A "created" event never overwrites an existing summary — only
// explicit activity does. Returns whether the entry was inserted.
func (d *Directory) UpsertSummary(c Conversation) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byID[c.ID]; ok {
		return false
	}
	stored := c
	stored.ParticipantIDs = slices.Clone(c.ParticipantIDs)
	d.byID[c.ID] = &stored
	d.order = append(d.order, c.ID)
	return true
}

// RecordActivity updates the preview fields whenever the ledger accepts a new
// message for the conversation. Last write wins by arrival order, not by
// timestamp comparison: an out-of-order push still overwrites. Unknown
// conversations are ignored. Deletion of the previewed message does not
// retroactively clear the preview.
func (d *Directory) RecordActivity(conversationID, preview string, at time.Time, seq int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.byID[conversationID]
	if !ok {
		return false
	}
	c.LastMessage = preview
	c.LastMessageAt = at
	c.LastSeq = seq
	return true
}

// Get returns a copy of the conversation with the given id.
func (d *Directory) Get(id string) (Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byID[id]
	if !ok {
		return Conversation{}, false
	}
	return copyConversation(c), true
}

// List returns all known conversations in insertion order.
func (d *Directory) List() []Conversation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Conversation, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, copyConversation(d.byID[id]))
	}
	return out
}

func copyConversation(c *Conversation) Conversation {
	out := *c
	out.ParticipantIDs = slices.Clone(c.ParticipantIDs)
	return out
}
