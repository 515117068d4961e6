package sync

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/peerzee/peersync/internal/bus"
	"github.com/peerzee/peersync/internal/rt"
	"github.com/peerzee/peersync/internal/state"
	"github.com/peerzee/peersync/internal/store"
	"go.uber.org/zap"
)

type emitted struct {
	event   string
	payload any
}

// fakeChannel records outbound traffic and hands ack callbacks back to the
// test, which plays the server by invoking them with raw JSON.
type fakeChannel struct {
	mu    sync.Mutex
	emits []emitted
	acks  []func(json.RawMessage)
}

func (c *fakeChannel) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emits = append(c.emits, emitted{event, payload})
	return nil
}

func (c *fakeChannel) EmitWithAck(event string, payload any, ack func(json.RawMessage)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emits = append(c.emits, emitted{event, payload})
	c.acks = append(c.acks, ack)
	return nil
}

func (c *fakeChannel) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.emits))
	for i, e := range c.emits {
		names[i] = e.event
	}
	return names
}

func (c *fakeChannel) lastAck(t *testing.T) func(json.RawMessage) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.acks) == 0 {
		t.Fatal("no ack callback captured")
	}
	return c.acks[len(c.acks)-1]
}

func testEngine(t *testing.T) (*Engine, *fakeChannel, *bus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ch := &fakeChannel{}
	b := bus.New()
	e := NewEngine(ch, db, b, zap.NewNop(), 50*time.Millisecond)
	t.Cleanup(e.Stop)
	return e, ch, b
}

func recvEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bus event")
		return bus.Event{}
	}
}

func TestIngestMessageIdempotent(t *testing.T) {
	e, _, _ := testEngine(t)

	m := state.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Body: "hi", Seq: 1}
	e.handleEvent(bus.Event{Kind: bus.KindRTMessageNew, Payload: m})
	e.handleEvent(bus.Event{Kind: bus.KindRTMessageNew, Payload: m})

	if got := e.Ledger().Messages("c1"); len(got) != 1 {
		t.Fatalf("ledger has %d messages, want 1", len(got))
	}
	archived, err := e.db.ListMessages("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(archived) != 1 {
		t.Errorf("archive has %d messages, want 1", len(archived))
	}
}

func TestMessageLifecycle(t *testing.T) {
	e, _, _ := testEngine(t)

	e.handleEvent(bus.Event{Kind: bus.KindRTConversationNew, Payload: state.Conversation{ID: "c1", Type: "dm"}})
	e.handleEvent(bus.Event{Kind: bus.KindRTMessageNew, Payload: state.Message{
		ID: "m1", ConversationID: "c1", SenderID: "u1", Body: "hi", Seq: 1, CreatedAt: time.Now(),
	}})

	c, ok := e.Directory().Get("c1")
	if !ok || c.LastMessage != "hi" || c.LastSeq != 1 {
		t.Fatalf("directory after new = %+v, want preview hi/seq 1", c)
	}

	e.handleEvent(bus.Event{Kind: bus.KindRTMessageEdit, Payload: rt.MessageEdit{
		ID: "m1", Body: "hello", Edited: true, ConversationID: "c1",
	}})
	m, _ := e.Ledger().Get("m1")
	if m.Body != "hello" || !m.Edited {
		t.Fatalf("after edit = %+v, want hello/edited", m)
	}

	e.handleEvent(bus.Event{Kind: bus.KindRTMessageDelete, Payload: rt.MessageDelete{
		ID: "m1", ConversationID: "c1",
	}})
	m, _ = e.Ledger().Get("m1")
	if !m.Deleted || m.Body != "hello" {
		t.Fatalf("after delete = %+v, want tombstone with body retained", m)
	}

	// Edits and deletes do not touch the directory preview.
	c, _ = e.Directory().Get("c1")
	if c.LastMessage != "hi" {
		t.Errorf("preview = %q, want unchanged hi", c.LastMessage)
	}

	archived, err := e.db.ListMessages("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(archived) != 1 || !archived[0].Deleted || archived[0].Body != "hello" {
		t.Errorf("archive = %+v, want the tombstone written through", archived)
	}
}

func TestEditForUnknownMessageDropped(t *testing.T) {
	e, _, b := testEngine(t)
	ch, unsub := b.Subscribe("message.", 8)
	defer unsub()

	e.handleEvent(bus.Event{Kind: bus.KindRTMessageEdit, Payload: rt.MessageEdit{ID: "ghost", Body: "x"}})

	select {
	case evt := <-ch:
		t.Fatalf("got %s, want no notification for an unknown id", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJoinLoadsHistory(t *testing.T) {
	e, ch, b := testEngine(t)
	events, unsub := b.Subscribe("sync.", 8)
	defer unsub()

	if err := e.Select("c1"); err != nil {
		t.Fatal(err)
	}
	if got := ch.events(); len(got) != 1 || got[0] != rt.CmdJoin {
		t.Fatalf("emits = %v, want a single join", got)
	}

	ack, _ := json.Marshal(rt.JoinAck{
		ConversationID: "c1",
		Messages: []rt.MessageRecord{
			{ID: "m1", ConversationID: "c1", SenderID: "u1", Body: "one", Seq: "1"},
			{ID: "m2", ConversationID: "c1", SenderID: "u2", Body: "two", Seq: "2"},
		},
	})
	ch.lastAck(t)(ack)

	if id, joined := e.Active(); id != "c1" || !joined {
		t.Fatalf("active = %s joined=%v, want c1 joined", id, joined)
	}
	msgs := e.Ledger().Messages("c1")
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("ledger = %+v, want snapshot order m1,m2", msgs)
	}

	evt := recvEvent(t, events)
	if evt.Kind != bus.KindHistoryLoaded {
		t.Fatalf("event = %s, want %s", evt.Kind, bus.KindHistoryLoaded)
	}
	if hl := evt.Payload.(HistoryLoaded); hl.ConversationID != "c1" || hl.Count != 2 {
		t.Errorf("payload = %+v", hl)
	}

	archived, err := e.db.ListMessages("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(archived) != 2 {
		t.Errorf("archive has %d messages, want the snapshot", len(archived))
	}
}

func TestStaleJoinAckIgnored(t *testing.T) {
	e, ch, _ := testEngine(t)

	if err := e.Select("c1"); err != nil {
		t.Fatal(err)
	}
	firstAck := ch.lastAck(t)
	if err := e.Select("c2"); err != nil {
		t.Fatal(err)
	}

	// The abandoned c1 reply arrives after the switch.
	stale, _ := json.Marshal(rt.JoinAck{
		ConversationID: "c1",
		Messages:       []rt.MessageRecord{{ID: "m1", ConversationID: "c1", Body: "late"}},
	})
	firstAck(stale)

	if id, joined := e.Active(); id != "c2" || joined {
		t.Fatalf("active = %s joined=%v, want c2 not joined", id, joined)
	}
	if msgs := e.Ledger().Messages("c1"); len(msgs) != 0 {
		t.Errorf("stale ack populated the ledger: %+v", msgs)
	}
}

func TestSendMessageValidation(t *testing.T) {
	e, ch, _ := testEngine(t)

	for _, body := range []string{"", "   ", "\n\t"} {
		if err := e.SendMessage("c1", body); !errors.Is(err, ErrEmptyBody) {
			t.Errorf("SendMessage(%q) = %v, want ErrEmptyBody", body, err)
		}
	}
	if got := ch.events(); len(got) != 0 {
		t.Fatalf("emits = %v, want none for rejected sends", got)
	}

	if err := e.SendMessage("c1", "hi"); err != nil {
		t.Fatal(err)
	}
	got := ch.events()
	if len(got) != 1 || got[0] != rt.CmdSend {
		t.Fatalf("emits = %v, want a single send", got)
	}
	req := ch.emits[0].payload.(rt.SendRequest)
	if req.ConversationID != "c1" || req.Body != "hi" {
		t.Errorf("payload = %+v", req)
	}
}

func TestSendClearsTyping(t *testing.T) {
	e, ch, _ := testEngine(t)

	e.Keystroke("c1")
	if err := e.SendMessage("c1", "hi"); err != nil {
		t.Fatal(err)
	}

	want := []string{rt.CmdTypingStart, rt.CmdTypingStop, rt.CmdSend}
	got := ch.events()
	if len(got) != len(want) {
		t.Fatalf("emits = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("emit %d = %s, want %s", i, got[i], want[i])
		}
	}

	// The debounce timer was cancelled by the send.
	time.Sleep(150 * time.Millisecond)
	if got := ch.events(); len(got) != len(want) {
		t.Errorf("emits after delay = %v, want no trailing stop", got)
	}
}

func TestCreateConversation(t *testing.T) {
	e, ch, _ := testEngine(t)

	if err := e.CreateConversation("group", "general", nil, nil); !errors.Is(err, ErrNoParticipants) {
		t.Fatalf("CreateConversation with no participants = %v, want ErrNoParticipants", err)
	}

	var created state.Conversation
	err := e.CreateConversation("group", "general", []string{"u1", "u2"}, func(c state.Conversation) {
		created = c
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := ch.events(); len(got) != 1 || got[0] != rt.CmdCreate {
		t.Fatalf("emits = %v, want a single create", got)
	}

	ack, _ := json.Marshal(rt.CreateAck{
		ConversationID: "c9",
		Type:           "group",
		Name:           "general",
		LastSeq:        "0",
	})
	ch.lastAck(t)(ack)

	if created.ID != "c9" || created.Name != "general" {
		t.Fatalf("done callback got %+v", created)
	}
	if _, ok := e.Directory().Get("c9"); !ok {
		t.Error("created conversation missing from directory")
	}
}

func TestReactionEvents(t *testing.T) {
	e, _, _ := testEngine(t)

	e.handleEvent(bus.Event{Kind: bus.KindRTMessageNew, Payload: state.Message{ID: "m1", ConversationID: "c1"}})
	add := bus.Event{Kind: bus.KindRTReactionAdded, Payload: rt.ReactionChange{MessageID: "m1", Emoji: "👍", UserID: "u1"}}
	e.handleEvent(add)
	e.handleEvent(add) // duplicate delivery

	m, _ := e.Ledger().Get("m1")
	if len(m.Reactions) != 1 {
		t.Fatalf("reactions = %+v, want exactly one", m.Reactions)
	}

	e.handleEvent(bus.Event{Kind: bus.KindRTReactionRemoved, Payload: rt.ReactionChange{MessageID: "m1", Emoji: "👍", UserID: "u1"}})
	m, _ = e.Ledger().Get("m1")
	if len(m.Reactions) != 0 {
		t.Fatalf("reactions = %+v, want none after remove", m.Reactions)
	}
}

func TestPresenceAndTyping(t *testing.T) {
	e, _, _ := testEngine(t)

	e.handleEvent(bus.Event{Kind: bus.KindRTPresenceList, Payload: []string{"u1", "u2"}})
	if !e.Presence().IsOnline("u1") || !e.Presence().IsOnline("u2") {
		t.Fatal("presence list not applied")
	}

	e.handleEvent(bus.Event{Kind: bus.KindRTPresenceUpdate, Payload: rt.PresenceUpdate{UserID: "u1", IsOnline: false}})
	if e.Presence().IsOnline("u1") {
		t.Error("u1 still online after toggle")
	}

	e.handleEvent(bus.Event{Kind: bus.KindRTTypingUpdate, Payload: rt.TypingUpdate{ConversationID: "c1", UserID: "u2", IsTyping: true}})
	if got := e.Typing().TypingIn("c1"); len(got) != 1 || got[0] != "u2" {
		t.Fatalf("typing = %v, want [u2]", got)
	}
	e.handleEvent(bus.Event{Kind: bus.KindRTTypingUpdate, Payload: rt.TypingUpdate{ConversationID: "c1", UserID: "u2", IsTyping: false}})
	if got := e.Typing().TypingIn("c1"); len(got) != 0 {
		t.Fatalf("typing = %v, want empty", got)
	}
}

func TestConnectivityToggle(t *testing.T) {
	e, _, b := testEngine(t)
	events, unsub := b.Subscribe("session.", 8)
	defer unsub()

	e.handleEvent(bus.Event{Kind: bus.KindRTConnected, Payload: rt.Connectivity{Connected: true}})
	if !e.Connected() {
		t.Fatal("engine not connected after rt.connected")
	}
	if evt := recvEvent(t, events); evt.Kind != bus.KindSessionConnected {
		t.Fatalf("event = %s, want %s", evt.Kind, bus.KindSessionConnected)
	}

	e.handleEvent(bus.Event{Kind: bus.KindRTDisconnected, Payload: rt.Connectivity{Connected: false}})
	if e.Connected() {
		t.Fatal("engine still connected after rt.disconnected")
	}
	if evt := recvEvent(t, events); evt.Kind != bus.KindSessionDisconnected {
		t.Fatalf("event = %s, want %s", evt.Kind, bus.KindSessionDisconnected)
	}

	// Replica data survives a disconnect.
	e.handleEvent(bus.Event{Kind: bus.KindRTMessageNew, Payload: state.Message{ID: "m1", ConversationID: "c1"}})
	e.handleEvent(bus.Event{Kind: bus.KindRTDisconnected, Payload: rt.Connectivity{}})
	if got := e.Ledger().Messages("c1"); len(got) != 1 {
		t.Error("ledger cleared on disconnect")
	}
}

func TestLoadSnapshotKeepsKnownEntries(t *testing.T) {
	e, _, _ := testEngine(t)

	e.handleEvent(bus.Event{Kind: bus.KindRTConversationNew, Payload: state.Conversation{ID: "c1", Name: "known"}})
	e.LoadSnapshot([]state.Conversation{
		{ID: "c1", Name: "overwrite attempt"},
		{ID: "c2", Name: "fresh"},
	})

	convs := e.Directory().List()
	if len(convs) != 2 {
		t.Fatalf("directory = %+v, want 2 entries", convs)
	}
	if convs[0].Name != "known" {
		t.Errorf("c1 name = %q, want existing entry preserved", convs[0].Name)
	}
}

func TestLoadArchiveWarmStart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	if err := db.UpsertConversation(&state.Conversation{ID: "c1", Type: "dm", LastMessage: "hi"}); err != nil {
		t.Fatal(err)
	}
	for _, m := range []state.Message{
		{ID: "m1", ConversationID: "c1", Body: "hi"},
		{ID: "m2", ConversationID: "c1", Body: "there"},
	} {
		if err := db.UpsertMessage(&m); err != nil {
			t.Fatal(err)
		}
	}

	e := NewEngine(&fakeChannel{}, db, bus.New(), zap.NewNop(), time.Second)
	defer e.Stop()
	if err := e.LoadArchive(); err != nil {
		t.Fatal(err)
	}

	if convs := e.Directory().List(); len(convs) != 1 || convs[0].LastMessage != "hi" {
		t.Fatalf("directory = %+v", convs)
	}
	if msgs := e.Ledger().Messages("c1"); len(msgs) != 2 || msgs[0].ID != "m1" {
		t.Fatalf("ledger = %+v, want archived order m1,m2", msgs)
	}
}
