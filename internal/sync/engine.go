package sync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/peerzee/peersync/internal/bus"
	"github.com/peerzee/peersync/internal/rt"
	"github.com/peerzee/peersync/internal/state"
	"github.com/peerzee/peersync/internal/store"
	"go.uber.org/zap"
)

// Validation errors for outbound actions.
var (
	ErrEmptyBody      = errors.New("message body is empty")
	ErrNoParticipants = errors.New("conversation needs at least one participant")
)

// Channel is the outbound side of the realtime session.
type Channel interface {
	Emit(event string, payload any) error
	EmitWithAck(event string, payload any, ack func(json.RawMessage)) error
}

// HistoryLoaded is the payload of sync.history_loaded events.
type HistoryLoaded struct {
	ConversationID string
	Count          int
}

// Engine is the synchronizer: it subscribes to "rt." events on the bus,
// dispatches each one to exactly one store mutation, writes accepted
// mutations through to the archive, and republishes store-change
// notifications for observers. It also owns the per-conversation join state
// machine and the outbound user actions.
type Engine struct {
	ledger    *state.Ledger
	directory *state.Directory
	presence  *state.Presence
	typing    *state.Typing
	composer  *Composer
	channel   Channel
	db        *store.DB
	bus       *bus.Bus
	logger    *zap.Logger
	cancel    context.CancelFunc

	mu        sync.Mutex
	active    string
	joined    bool
	connected bool
}

// NewEngine creates a sync engine owning fresh replica stores.
func NewEngine(channel Channel, db *store.DB, b *bus.Bus, logger *zap.Logger, typingDebounce time.Duration) *Engine {
	e := &Engine{
		ledger:    state.NewLedger(),
		directory: state.NewDirectory(),
		presence:  state.NewPresence(),
		typing:    state.NewTyping(),
		channel:   channel,
		db:        db,
		bus:       b,
		logger:    logger,
	}
	e.composer = NewComposer(typingDebounce, func(conversationID string, typing bool) {
		cmd := rt.CmdTypingStop
		if typing {
			cmd = rt.CmdTypingStart
		}
		if err := channel.Emit(cmd, rt.TypingSignal{ConversationID: conversationID}); err != nil {
			logger.Debug("typing signal dropped", zap.Error(err))
		}
	})
	return e
}

// Ledger exposes the message store for observers.
func (e *Engine) Ledger() *state.Ledger { return e.ledger }

// Directory exposes the conversation summary store.
func (e *Engine) Directory() *state.Directory { return e.directory }

// Presence exposes the presence tracker.
func (e *Engine) Presence() *state.Presence { return e.presence }

// Typing exposes the remote typing tracker.
func (e *Engine) Typing() *state.Typing { return e.typing }

// Start subscribes to inbound realtime events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("rt.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and cancels any pending typing timer.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.composer.Close()
}

// handleEvent routes one inbound event to exactly one store mutation. The
// switch is exhaustive over the transport's payload types; anything else is
// logged and dropped, never fatal.
func (e *Engine) handleEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case state.Message:
		e.applyMessageNew(p)
	case rt.MessageEdit:
		e.applyEdit(p)
	case rt.MessageDelete:
		e.applyDelete(p)
	case rt.ReactionChange:
		e.applyReaction(p, evt.Kind == bus.KindRTReactionAdded)
	case rt.TypingUpdate:
		e.applyTyping(p)
	case []string:
		e.applyPresenceList(p)
	case rt.PresenceUpdate:
		e.applyPresenceToggle(p)
	case state.Conversation:
		e.applyConversationNew(p)
	case rt.Connectivity:
		e.applyConnectivity(p)
	default:
		e.logger.Warn("unhandled event", zap.String("kind", evt.Kind))
	}
}

func (e *Engine) applyMessageNew(m state.Message) {
	if !e.ledger.Insert(m) {
		// Duplicate delivery, e.g. the echo of our own send.
		return
	}
	if err := e.db.UpsertMessage(&m); err != nil {
		e.logger.Error("archive message", zap.Error(err), zap.String("msg_id", m.ID))
	}
	e.publish(bus.KindMessageUpserted, m)

	if e.directory.RecordActivity(m.ConversationID, m.Body, m.CreatedAt, m.Seq) {
		if c, ok := e.directory.Get(m.ConversationID); ok {
			if err := e.db.UpsertConversation(&c); err != nil {
				e.logger.Error("archive conversation", zap.Error(err), zap.String("conversation_id", c.ID))
			}
			e.publish(bus.KindConversationActivity, c)
		}
	}
}

func (e *Engine) applyEdit(p rt.MessageEdit) {
	if !e.ledger.ApplyEdit(p.ID, p.Body, p.Edited) {
		// Unknown id: the join snapshot may not have arrived yet.
		e.logger.Debug("edit for unknown message", zap.String("msg_id", p.ID))
		return
	}
	m, _ := e.ledger.Get(p.ID)
	if err := e.db.UpsertMessage(&m); err != nil {
		e.logger.Error("archive edit", zap.Error(err), zap.String("msg_id", p.ID))
	}
	e.publish(bus.KindMessageEdited, m)
}

func (e *Engine) applyDelete(p rt.MessageDelete) {
	if !e.ledger.ApplyDelete(p.ID) {
		e.logger.Debug("delete for unknown message", zap.String("msg_id", p.ID))
		return
	}
	m, _ := e.ledger.Get(p.ID)
	if err := e.db.UpsertMessage(&m); err != nil {
		e.logger.Error("archive delete", zap.Error(err), zap.String("msg_id", p.ID))
	}
	e.publish(bus.KindMessageDeleted, m)
}

func (e *Engine) applyReaction(p rt.ReactionChange, added bool) {
	var changed bool
	if added {
		changed = e.ledger.AddReaction(p.MessageID, p.Emoji, p.UserID)
	} else {
		changed = e.ledger.RemoveReaction(p.MessageID, p.Emoji, p.UserID)
	}
	if !changed {
		return
	}
	if err := e.db.SetReaction(p.MessageID, p.Emoji, p.UserID, added); err != nil {
		e.logger.Error("archive reaction", zap.Error(err), zap.String("msg_id", p.MessageID))
	}
	e.publish(bus.KindReactionChanged, p)
}

func (e *Engine) applyTyping(p rt.TypingUpdate) {
	if e.typing.Apply(p.ConversationID, p.UserID, p.IsTyping) {
		e.publish(bus.KindTypingChanged, p)
	}
}

func (e *Engine) applyPresenceList(ids []string) {
	e.presence.ReplaceAll(ids)
	e.publish(bus.KindPresenceChanged, ids)
}

func (e *Engine) applyPresenceToggle(p rt.PresenceUpdate) {
	e.presence.SetOnline(p.UserID, p.IsOnline)
	e.publish(bus.KindPresenceChanged, p)
}

func (e *Engine) applyConversationNew(c state.Conversation) {
	if !e.directory.UpsertSummary(c) {
		return
	}
	if err := e.db.UpsertConversation(&c); err != nil {
		e.logger.Error("archive conversation", zap.Error(err), zap.String("conversation_id", c.ID))
	}
	e.publish(bus.KindConversationUpserted, c)
}

// applyConnectivity records channel state. Local replica data is kept across
// a disconnect; events missed while down are not backfilled until the next
// join replaces that conversation's view.
func (e *Engine) applyConnectivity(p rt.Connectivity) {
	e.mu.Lock()
	e.connected = p.Connected
	e.mu.Unlock()
	if p.Connected {
		e.publish(bus.KindSessionConnected, p)
	} else {
		e.publish(bus.KindSessionDisconnected, p)
	}
}

// Connected reports the channel state last observed from the transport.
func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// Select makes a conversation active and requests its history. The join also
// subscribes the session server-side to that conversation's future pushes.
// Selecting a different conversation while a join is outstanding restarts the
// cycle; the abandoned ack is discarded by the conversation-id guard.
func (e *Engine) Select(conversationID string) error {
	e.mu.Lock()
	e.active = conversationID
	e.joined = false
	e.mu.Unlock()

	return e.channel.EmitWithAck(rt.CmdJoin, rt.JoinRequest{ConversationID: conversationID}, e.onJoinAck)
}

// Active returns the selected conversation id and whether its history has
// been loaded.
func (e *Engine) Active() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active, e.joined
}

func (e *Engine) onJoinAck(data json.RawMessage) {
	var ack rt.JoinAck
	if err := json.Unmarshal(data, &ack); err != nil {
		e.logger.Warn("malformed join ack", zap.Error(err))
		return
	}

	e.mu.Lock()
	if ack.ConversationID != e.active {
		e.mu.Unlock()
		e.logger.Info("ignoring stale join ack",
			zap.String("conversation_id", ack.ConversationID),
			zap.String("active", e.active))
		return
	}
	e.joined = true
	e.mu.Unlock()

	msgs := make([]state.Message, 0, len(ack.Messages))
	for _, rec := range ack.Messages {
		msgs = append(msgs, rec.ToState())
	}
	e.ledger.ReplaceAll(ack.ConversationID, msgs)
	if err := e.db.ReplaceConversationMessages(ack.ConversationID, msgs); err != nil {
		e.logger.Error("archive history", zap.Error(err), zap.String("conversation_id", ack.ConversationID))
	}
	e.logger.Info("history loaded",
		zap.String("conversation_id", ack.ConversationID),
		zap.Int("messages", len(msgs)))
	e.publish(bus.KindHistoryLoaded, HistoryLoaded{
		ConversationID: ack.ConversationID,
		Count:          len(msgs),
	})
}

// SendMessage validates and emits a send. The compose state is cleared
// immediately (typing timer cancelled, stop emitted); the message itself is
// not inserted optimistically — it lands when the server's message:new
// echoes back.
func (e *Engine) SendMessage(conversationID, body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}
	e.composer.MessageSent(conversationID)
	return e.channel.Emit(rt.CmdSend, rt.SendRequest{
		ConversationID: conversationID,
		Body:           body,
	})
}

// EditMessage emits a fire-and-forget edit request.
func (e *Engine) EditMessage(messageID, conversationID, body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}
	return e.channel.Emit(rt.CmdEdit, rt.EditRequest{
		MessageID:      messageID,
		Body:           body,
		ConversationID: conversationID,
	})
}

// DeleteMessage emits a fire-and-forget delete request.
func (e *Engine) DeleteMessage(messageID, conversationID string) error {
	return e.channel.Emit(rt.CmdDelete, rt.DeleteRequest{
		MessageID:      messageID,
		ConversationID: conversationID,
	})
}

// AddReaction emits a fire-and-forget reaction add.
func (e *Engine) AddReaction(messageID, conversationID, emoji string) error {
	return e.channel.Emit(rt.CmdReactionAdd, rt.ReactionRequest{
		MessageID:      messageID,
		Emoji:          emoji,
		ConversationID: conversationID,
	})
}

// RemoveReaction emits a fire-and-forget reaction remove.
func (e *Engine) RemoveReaction(messageID, conversationID, emoji string) error {
	return e.channel.Emit(rt.CmdReactionRemove, rt.ReactionRequest{
		MessageID:      messageID,
		Emoji:          emoji,
		ConversationID: conversationID,
	})
}

// Keystroke records local compose activity (typing debounce).
func (e *Engine) Keystroke(conversationID string) {
	e.composer.Keystroke(conversationID)
}

// CreateConversation emits a create request whose one-shot acknowledgment
// yields the created conversation directly, bypassing the push channel. The
// summary is recorded and done (if non-nil) is invoked with it.
func (e *Engine) CreateConversation(ctype, name string, participantUserIDs []string, done func(state.Conversation)) error {
	if len(participantUserIDs) == 0 {
		return ErrNoParticipants
	}
	req := rt.CreateRequest{
		Type:               ctype,
		Name:               name,
		ParticipantUserIDs: participantUserIDs,
	}
	return e.channel.EmitWithAck(rt.CmdCreate, req, func(data json.RawMessage) {
		var ack rt.CreateAck
		if err := json.Unmarshal(data, &ack); err != nil {
			e.logger.Warn("malformed create ack", zap.Error(err))
			return
		}
		c := ack.ToState()
		e.applyConversationNew(c)
		if done != nil {
			done(c)
		}
	})
}

// LoadSnapshot seeds the directory from the REST conversation-list snapshot.
// Known ids are left untouched.
func (e *Engine) LoadSnapshot(convs []state.Conversation) {
	for _, c := range convs {
		e.applyConversationNew(c)
	}
}

// LoadArchive warm-loads the replica from the local archive so a restarted
// client renders immediately; the next join replaces each conversation's
// view with fresh history.
func (e *Engine) LoadArchive() error {
	convs, err := e.db.ListConversations()
	if err != nil {
		return err
	}
	for _, c := range convs {
		e.directory.UpsertSummary(c)
		msgs, err := e.db.ListMessages(c.ID)
		if err != nil {
			return err
		}
		if len(msgs) > 0 {
			e.ledger.ReplaceAll(c.ID, msgs)
		}
	}
	e.logger.Info("replica warm-loaded", zap.Int("conversations", len(convs)))
	return nil
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
