package store

import (
	"fmt"
	"time"

	"github.com/peerzee/peersync/internal/state"
)

// UpsertMessage inserts or updates a message row (idempotent on msg_id).
// Arrival order is preserved by the autoincrement rowid, so the archive can
// restore the ledger's iteration order after a restart.
func (db *DB) UpsertMessage(m *state.Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (msg_id, conversation_id, sender_id, body, seq, edited, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO UPDATE SET
			body = excluded.body,
			edited = excluded.edited,
			deleted = MAX(messages.deleted, excluded.deleted),
			updated_at = ?`,
		m.ID, m.ConversationID, m.SenderID, m.Body, m.Seq, m.Edited, m.Deleted, toMillis(m.CreatedAt), toMillis(m.UpdatedAt), now)
	return err
}

// ReplaceConversationMessages archives a join snapshot in one transaction:
// the conversation's rows are replaced wholesale in the given order.
func (db *DB) ReplaceConversationMessages(conversationID string, msgs []state.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		DELETE FROM reactions WHERE message_id IN
			(SELECT msg_id FROM messages WHERE conversation_id = ?)`, conversationID); err != nil {
		return fmt.Errorf("clear reactions: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (msg_id, conversation_id, sender_id, body, seq, edited, deleted, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(msg_id) DO NOTHING`,
			m.ID, conversationID, m.SenderID, m.Body, m.Seq, m.Edited, m.Deleted, toMillis(m.CreatedAt), now); err != nil {
			return fmt.Errorf("insert message in batch: %w", err)
		}
		for _, r := range m.Reactions {
			if _, err := tx.Exec(`
				INSERT INTO reactions (message_id, user_id, emoji, created_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(message_id, user_id, emoji) DO NOTHING`,
				m.ID, r.UserID, r.Emoji, now); err != nil {
				return fmt.Errorf("insert reaction in batch: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's archived messages in arrival order,
// reactions attached.
func (db *DB) ListMessages(conversationID string) ([]state.Message, error) {
	rows, err := db.Query(`
		SELECT msg_id, conversation_id, sender_id, body, seq, edited, deleted, created_at, updated_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []state.Message
	index := make(map[string]int)
	for rows.Next() {
		var m state.Message
		var createdAt, updatedAt int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.Seq, &m.Edited, &m.Deleted, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = fromMillis(createdAt)
		m.UpdatedAt = fromMillis(updatedAt)
		index[m.ID] = len(msgs)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rrows, err := db.Query(`
		SELECT r.message_id, r.user_id, r.emoji
		FROM reactions r
		JOIN messages m ON m.msg_id = r.message_id
		WHERE m.conversation_id = ?
		ORDER BY r.rowid ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rrows.Close() }()

	for rrows.Next() {
		var msgID string
		var r state.Reaction
		if err := rrows.Scan(&msgID, &r.UserID, &r.Emoji); err != nil {
			return nil, err
		}
		if i, ok := index[msgID]; ok {
			msgs[i].Reactions = append(msgs[i].Reactions, r)
		}
	}
	return msgs, rrows.Err()
}

// SetReaction records or clears one (message, user, emoji) reaction.
// Both directions are idempotent.
func (db *DB) SetReaction(messageID, emoji, userID string, present bool) error {
	if present {
		_, err := db.Exec(`
			INSERT INTO reactions (message_id, user_id, emoji, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(message_id, user_id, emoji) DO NOTHING`,
			messageID, userID, emoji, time.Now().UnixMilli())
		return err
	}
	_, err := db.Exec(`
		DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?`,
		messageID, userID, emoji)
	return err
}
