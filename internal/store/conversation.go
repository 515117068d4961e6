package store

import (
	"encoding/json"
	"time"

	"github.com/peerzee/peersync/internal/state"
)

// UpsertConversation inserts or updates a conversation summary row.
func (db *DB) UpsertConversation(c *state.Conversation) error {
	participants, err := json.Marshal(c.ParticipantIDs)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO conversations (id, type, name, participants, last_message, last_message_at, last_seq, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message = excluded.last_message,
			last_message_at = excluded.last_message_at,
			last_seq = excluded.last_seq,
			updated_at = excluded.updated_at`,
		c.ID, c.Type, c.Name, string(participants), c.LastMessage, toMillis(c.LastMessageAt), c.LastSeq, now)
	return err
}

// ListConversations returns all archived conversations in insertion order,
// matching the directory's ordering contract.
func (db *DB) ListConversations() ([]state.Conversation, error) {
	rows, err := db.Query(`
		SELECT id, type, name, participants, last_message, last_message_at, last_seq
		FROM conversations
		ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []state.Conversation
	for rows.Next() {
		var c state.Conversation
		var participants string
		var lastAt int64
		if err := rows.Scan(&c.ID, &c.Type, &c.Name, &participants, &c.LastMessage, &lastAt, &c.LastSeq); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(participants), &c.ParticipantIDs); err != nil {
			c.ParticipantIDs = nil
		}
		c.LastMessageAt = fromMillis(lastAt)
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
