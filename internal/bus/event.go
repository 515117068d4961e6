package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds, grouped by namespace. The "rt." namespace carries parsed
// inbound push events from the realtime channel; the sync engine is its only
// consumer. The remaining namespaces are store-change notifications emitted
// after a mutation is accepted — observers subscribe to these, never to "rt.".
const (
	// Published by internal/rt.
	KindRTConnected       = "rt.connected"
	KindRTDisconnected    = "rt.disconnected"
	KindRTMessageNew      = "rt.message_new"
	KindRTMessageEdit     = "rt.message_edit"
	KindRTMessageDelete   = "rt.message_delete"
	KindRTReactionAdded   = "rt.reaction_added"
	KindRTReactionRemoved = "rt.reaction_removed"
	KindRTTypingUpdate    = "rt.typing_update"
	KindRTConversationNew = "rt.conversation_new"
	KindRTPresenceList    = "rt.presence_list"
	KindRTPresenceUpdate  = "rt.presence_update"

	// Published by internal/sync.
	KindMessageUpserted      = "message.upserted"
	KindMessageEdited        = "message.edited"
	KindMessageDeleted       = "message.deleted"
	KindReactionChanged      = "message.reaction_changed"
	KindConversationUpserted = "conversation.upserted"
	KindConversationActivity = "conversation.activity"
	KindPresenceChanged      = "presence.changed"
	KindTypingChanged        = "typing.changed"
	KindHistoryLoaded        = "sync.history_loaded"
	KindSessionConnected     = "session.connected"
	KindSessionDisconnected  = "session.disconnected"

	// Published by internal/status.
	KindStatusChanged = "session.status_changed"
)
