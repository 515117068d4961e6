package state

import (
	"testing"
	"time"
)

func TestUpsertSummaryDedup(t *testing.T) {
	d := NewDirectory()

	if !d.UpsertSummary(Conversation{ID: "c1", Name: "general"}) {
		t.Fatal("first UpsertSummary returned false")
	}
	// A created event for a known id never overwrites the summary.
	if d.UpsertSummary(Conversation{ID: "c1", Name: "renamed"}) {
		t.Error("second UpsertSummary returned true")
	}

	got, ok := d.Get("c1")
	if !ok || got.Name != "general" {
		t.Errorf("Get(c1) = %+v, want original summary", got)
	}
}

func TestRecordActivityLastWriteWins(t *testing.T) {
	d := NewDirectory()
	d.UpsertSummary(Conversation{ID: "c1"})

	newer := time.Unix(200, 0)
	older := time.Unix(100, 0)

	d.RecordActivity("c1", "newer", newer, 2)
	// Arrival order wins, not timestamp comparison: an out-of-order push
	// still overwrites.
	d.RecordActivity("c1", "older", older, 1)

	got, _ := d.Get("c1")
	if got.LastMessage != "older" || !got.LastMessageAt.Equal(older) {
		t.Errorf("preview = %q at %v, want the last-arrived values", got.LastMessage, got.LastMessageAt)
	}
}

func TestRecordActivityUnknownConversation(t *testing.T) {
	d := NewDirectory()
	if d.RecordActivity("ghost", "hi", time.Now(), 1) {
		t.Error("RecordActivity for unknown conversation returned true")
	}
}

func TestListInsertionOrder(t *testing.T) {
	d := NewDirectory()
	d.UpsertSummary(Conversation{ID: "c1"})
	d.UpsertSummary(Conversation{ID: "c2"})
	d.UpsertSummary(Conversation{ID: "c3"})

	// Activity on c3 must not move it ahead of c1.
	d.RecordActivity("c3", "busy", time.Now(), 9)

	list := d.List()
	want := []string{"c1", "c2", "c3"}
	if len(list) != len(want) {
		t.Fatalf("got %d conversations, want %d", len(list), len(want))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("position %d = %s, want %s (insertion order)", i, list[i].ID, id)
		}
	}
}

func TestListReturnsCopies(t *testing.T) {
	d := NewDirectory()
	d.UpsertSummary(Conversation{ID: "c1", ParticipantIDs: []string{"u1"}})

	list := d.List()
	list[0].ParticipantIDs[0] = "mutated"

	got, _ := d.Get("c1")
	if got.ParticipantIDs[0] != "u1" {
		t.Error("caller mutation leaked into the directory")
	}
}
