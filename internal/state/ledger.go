package state

import (
	"slices"
	"sync"
	"time"
)

// Ledger is the ordered, deduplicated in-memory message store. Messages are
// appended on first sight and iterated in arrival order; they are never
// re-sorted by seq or timestamp afterwards. The only wholesale replacement is
// a join snapshot via ReplaceAll.
type Ledger struct {
	mu    sync.RWMutex
	order map[string][]string // conversation id -> message ids, arrival order
	byID  map[string]*Message
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		order: make(map[string][]string),
		byID:  make(map[string]*Message),
	}
}

// Insert adds a message if no message with that id exists. Returns false on a
// duplicate id (echo of an already observed message), keeping the first
// insert's fields.
func (l *Ledger) Insert(m Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byID[m.ID]; ok {
		return false
	}
	stored := m
	stored.Reactions = slices.Clone(m.Reactions)
	l.byID[m.ID] = &stored
	l.order[m.ConversationID] = append(l.order[m.ConversationID], m.ID)
	return true
}

// ReplaceAll loads a join snapshot: the conversation's view is replaced
// wholesale in the given order, never interleaved with what was there before.
func (l *Ledger) ReplaceAll(conversationID string, msgs []Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range l.order[conversationID] {
		delete(l.byID, id)
	}
	l.order[conversationID] = nil
	for _, m := range msgs {
		if _, ok := l.byID[m.ID]; ok {
			continue
		}
		stored := m
		stored.ConversationID = conversationID
		stored.Reactions = slices.Clone(m.Reactions)
		l.byID[m.ID] = &stored
		l.order[conversationID] = append(l.order[conversationID], m.ID)
	}
}

// ApplyEdit replaces the body and sets the edited flag, preserving id, seq
// and creation time. Unknown ids are ignored (the join snapshot for that
// conversation may simply not have arrived yet). A tombstoned message keeps
// its tombstone: delete wins over a later-arriving edit.
func (l *Ledger) ApplyEdit(id, body string, edited bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.byID[id]
	if !ok {
		return false
	}
	m.Body = body
	m.Edited = edited
	m.UpdatedAt = time.Now()
	return true
}

// ApplyDelete sets the tombstone flag. The body is retained (the archive
// keeps history; clearing is a presentation decision). Idempotent; unknown
// ids are ignored.
func (l *Ledger) ApplyDelete(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.byID[id]
	if !ok {
		return false
	}
	m.Deleted = true
	m.UpdatedAt = time.Now()
	return true
}

// AddReaction adds an (emoji, user) pair if absent. The reaction set of a
// tombstoned message is frozen. Returns whether the set changed.
func (l *Ledger) AddReaction(messageID, emoji, userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.byID[messageID]
	if !ok || m.Deleted {
		return false
	}
	r := Reaction{Emoji: emoji, UserID: userID}
	if slices.Contains(m.Reactions, r) {
		return false
	}
	m.Reactions = append(m.Reactions, r)
	return true
}

// RemoveReaction removes an (emoji, user) pair if present. Removing an absent
// pair, or touching a tombstoned message, is a no-op.
func (l *Ledger) RemoveReaction(messageID, emoji, userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.byID[messageID]
	if !ok || m.Deleted {
		return false
	}
	r := Reaction{Emoji: emoji, UserID: userID}
	i := slices.Index(m.Reactions, r)
	if i < 0 {
		return false
	}
	m.Reactions = slices.Delete(m.Reactions, i, i+1)
	return true
}

// Get returns a copy of the message with the given id.
func (l *Ledger) Get(id string) (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.byID[id]
	if !ok {
		return Message{}, false
	}
	return copyMessage(m), true
}

// Messages returns the conversation's messages in arrival order. The order is
// adjacency-stable, so a presentation layer can group by adjacent sender.
func (l *Ledger) Messages(conversationID string) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := l.order[conversationID]
	msgs := make([]Message, 0, len(ids))
	for _, id := range ids {
		msgs = append(msgs, copyMessage(l.byID[id]))
	}
	return msgs
}

func copyMessage(m *Message) Message {
	c := *m
	c.Reactions = slices.Clone(m.Reactions)
	return c
}
