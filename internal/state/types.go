package state

import "time"

// Message is the replica's view of one chat message. Messages are created on
// first observation and never removed, only tombstoned.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
	Seq            int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Edited         bool
	Deleted        bool
	Reactions      []Reaction
}

// Reaction is a single (emoji, user) pair on a message. A message holds at
// most one reaction per (user, emoji) combination.
type Reaction struct {
	Emoji  string
	UserID string
}

// ReactionGroups rolls the reaction set up per emoji, in first-seen emoji
// order, for rendering ("👍 3 [u1 u2 u3]").
func (m *Message) ReactionGroups() []ReactionGroup {
	var groups []ReactionGroup
	index := make(map[string]int)
	for _, r := range m.Reactions {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, ReactionGroup{Emoji: r.Emoji})
		}
		groups[i].Count++
		groups[i].Users = append(groups[i].Users, r.UserID)
	}
	return groups
}

// ReactionGroup is the per-emoji rollup of a message's reaction set.
type ReactionGroup struct {
	Emoji string
	Count int
	Users []string
}

// Conversation is a directory summary entry.
type Conversation struct {
	ID             string
	Type           string // "private" or "group"
	Name           string
	ParticipantIDs []string
	LastMessage    string
	LastMessageAt  time.Time
	LastSeq        int64
}
