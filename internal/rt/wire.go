package rt

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/peerzee/peersync/internal/state"
)

// Envelope is the wire frame in both directions. Server pushes carry Event +
// Data; client commands additionally carry AckID when a one-shot reply is
// expected, and the reply comes back as Event "ack" with the same AckID.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ack_id,omitempty"`
}

// Inbound push event names.
const (
	EvtMessageNew      = "message:new"
	EvtMessageEdit     = "message:edit"
	EvtMessageDelete   = "message:delete"
	EvtReactionAdded   = "reaction:added"
	EvtReactionRemoved = "reaction:removed"
	EvtTypingUpdate    = "typing:update"
	EvtConversationNew = "conversation:new"
	EvtOnlineList      = "user:online-list"
	EvtOnline          = "user:online"
	EvtAck             = "ack"
)

// Outbound command names.
const (
	CmdJoin           = "conversation:join"
	CmdCreate         = "conversation:create"
	CmdSend           = "conversation:send"
	CmdEdit           = "message:edit"
	CmdDelete         = "message:delete"
	CmdReactionAdd    = "reaction:add"
	CmdReactionRemove = "reaction:remove"
	CmdTypingStart    = "typing:start"
	CmdTypingStop     = "typing:stop"
)

// MessageRecord mirrors the server's message payload. Seq is a decimal string
// on the wire; timestamps are RFC 3339.
type MessageRecord struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Body           string `json:"body"`
	Seq            string `json:"seq"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
	Edited         bool   `json:"edited"`
	Deleted        bool   `json:"deleted"`
}

// ToState normalizes a wire record into the replica's message type.
// Unparseable seq or timestamps degrade to zero values rather than failing:
// a malformed field never drops the whole message.
func (r MessageRecord) ToState() state.Message {
	return state.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Body:           r.Body,
		Seq:            parseSeq(r.Seq),
		CreatedAt:      parseTime(r.CreatedAt),
		UpdatedAt:      parseTime(r.UpdatedAt),
		Edited:         r.Edited,
		Deleted:        r.Deleted,
	}
}

// ConversationRecord mirrors the server's conversation summary payload.
type ConversationRecord struct {
	ID                 string   `json:"id"`
	Type               string   `json:"type"`
	Name               string   `json:"name"`
	ParticipantUserIDs []string `json:"participantUserIds"`
	LastMessage        string   `json:"lastMessage"`
	LastMessageAt      string   `json:"lastMessageAt"`
	LastSeq            string   `json:"lastSeq"`
}

// ToState normalizes a wire record into a directory summary.
func (r ConversationRecord) ToState() state.Conversation {
	return state.Conversation{
		ID:             r.ID,
		Type:           r.Type,
		Name:           r.Name,
		ParticipantIDs: r.ParticipantUserIDs,
		LastMessage:    r.LastMessage,
		LastMessageAt:  parseTime(r.LastMessageAt),
		LastSeq:        parseSeq(r.LastSeq),
	}
}

// MessageEdit is the message:edit push payload.
type MessageEdit struct {
	ID             string `json:"id"`
	Body           string `json:"body"`
	Edited         bool   `json:"edited"`
	ConversationID string `json:"conversation_id"`
}

// MessageDelete is the message:delete push payload.
type MessageDelete struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
}

// ReactionChange is the reaction:added / reaction:removed push payload.
type ReactionChange struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
}

// TypingUpdate is the typing:update push payload.
type TypingUpdate struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// PresenceUpdate is the user:online push payload.
type PresenceUpdate struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// Connectivity is published on rt.connected / rt.disconnected. It is a state
// toggle, not an error.
type Connectivity struct {
	Connected bool
}

// JoinRequest asks the server for a conversation's history and subscribes the
// session to its future pushes.
type JoinRequest struct {
	ConversationID string `json:"conversation_id"`
}

// JoinAck is the conversation:join acknowledgment: the ordered history plus
// the conversation id used for the stale-response guard.
type JoinAck struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []MessageRecord `json:"messages"`
}

// SendRequest is the conversation:send command payload.
type SendRequest struct {
	ConversationID string `json:"conversation_id"`
	Body           string `json:"body"`
}

// EditRequest is the outbound message:edit command payload.
type EditRequest struct {
	MessageID      string `json:"message_id"`
	Body           string `json:"body"`
	ConversationID string `json:"conversation_id"`
}

// DeleteRequest is the outbound message:delete command payload.
type DeleteRequest struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// ReactionRequest is the reaction:add / reaction:remove command payload.
type ReactionRequest struct {
	MessageID      string `json:"messageId"`
	Emoji          string `json:"emoji"`
	ConversationID string `json:"conversationId"`
}

// TypingSignal is the typing:start / typing:stop command payload.
type TypingSignal struct {
	ConversationID string `json:"conversationId"`
}

// CreateRequest is the conversation:create command payload.
type CreateRequest struct {
	Type               string   `json:"type"`
	Name               string   `json:"name"`
	ParticipantUserIDs []string `json:"participantUserIds"`
}

// CreateAck is the conversation:create acknowledgment.
type CreateAck struct {
	ConversationID string `json:"conversationId"`
	Type           string `json:"type"`
	Name           string `json:"name"`
	LastMessageAt  string `json:"lastMessageAt"`
	LastSeq        string `json:"lastSeq"`
}

// ToState converts the create acknowledgment into a directory summary.
func (a CreateAck) ToState() state.Conversation {
	return state.Conversation{
		ID:            a.ConversationID,
		Type:          a.Type,
		Name:          a.Name,
		LastMessageAt: parseTime(a.LastMessageAt),
		LastSeq:       parseSeq(a.LastSeq),
	}
}

func parseSeq(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
