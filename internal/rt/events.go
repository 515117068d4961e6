package rt

import (
	"encoding/json"
	"time"

	"github.com/peerzee/peersync/internal/bus"
	"go.uber.org/zap"
)

// handleFrame decodes one inbound frame and publishes the parsed event on the
// bus. Malformed frames are logged and dropped; nothing inbound is ever
// fatal. Unknown event names are ignored so the vocabulary can grow
// server-side first.
func (c *Client) handleFrame(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("malformed frame", zap.Error(err))
		return
	}

	if env.Event == EvtAck {
		c.handleAck(env)
		return
	}

	switch env.Event {
	case EvtMessageNew:
		var rec MessageRecord
		if !c.decode(env, &rec) {
			return
		}
		c.publish(bus.KindRTMessageNew, rec.ToState())
	case EvtMessageEdit:
		var p MessageEdit
		if !c.decode(env, &p) {
			return
		}
		c.publish(bus.KindRTMessageEdit, p)
	case EvtMessageDelete:
		var p MessageDelete
		if !c.decode(env, &p) {
			return
		}
		c.publish(bus.KindRTMessageDelete, p)
	case EvtReactionAdded:
		var p ReactionChange
		if !c.decode(env, &p) {
			return
		}
		c.publish(bus.KindRTReactionAdded, p)
	case EvtReactionRemoved:
		var p ReactionChange
		if !c.decode(env, &p) {
			return
		}
		c.publish(bus.KindRTReactionRemoved, p)
	case EvtTypingUpdate:
		var p TypingUpdate
		if !c.decode(env, &p) {
			return
		}
		c.publish(bus.KindRTTypingUpdate, p)
	case EvtConversationNew:
		var rec ConversationRecord
		if !c.decode(env, &rec) {
			return
		}
		c.publish(bus.KindRTConversationNew, rec.ToState())
	case EvtOnlineList:
		var ids []string
		if !c.decode(env, &ids) {
			return
		}
		c.publish(bus.KindRTPresenceList, ids)
	case EvtOnline:
		var p PresenceUpdate
		if !c.decode(env, &p) {
			return
		}
		c.publish(bus.KindRTPresenceUpdate, p)
	default:
		c.logger.Debug("unknown event", zap.String("event", env.Event))
	}
}

func (c *Client) handleAck(env Envelope) {
	c.ackMu.Lock()
	ack, ok := c.pending[env.AckID]
	delete(c.pending, env.AckID)
	c.ackMu.Unlock()
	if !ok {
		c.logger.Debug("ack with no pending request", zap.String("ack_id", env.AckID))
		return
	}
	ack(env.Data)
}

func (c *Client) decode(env Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		c.logger.Warn("malformed payload", zap.String("event", env.Event), zap.Error(err))
		return false
	}
	return true
}

func (c *Client) publish(kind string, payload any) {
	c.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
