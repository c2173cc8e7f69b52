package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/convosync/internal/core"
	"github.com/vovakirdan/convosync/internal/service/messages"
)

func TestChatViewPrintsNewMessagesAndOwnStatusChanges(t *testing.T) {
	var buf bytes.Buffer
	view := newChatView(&buf, "alice")

	snap := messages.Snapshot{
		ConversationID: "c1",
		Conversation: core.Conversation{
			ID: "c1",
			Participants: []core.Participant{
				{UserID: "alice", Name: "Alice"},
				{UserID: "bob", Name: "Bob"},
			},
		},
		Messages: []core.Message{
			{ID: "m1", SenderID: "bob", Sender: core.SenderOther, Content: "hello", Status: core.StatusSeen, CreatedAt: time.Now()},
			{ID: "temp-1", SenderID: "alice", Sender: core.SenderSelf, Content: "pending", Status: core.StatusSent},
		},
	}
	view.render(snap)

	out := buf.String()
	if !strings.Contains(out, "Bob: hello") {
		t.Fatalf("expected counterpart line, got %q", out)
	}
	if strings.Contains(out, "pending") {
		t.Fatalf("temporary messages must not be printed: %q", out)
	}

	buf.Reset()
	snap.Messages[1] = core.Message{ID: "m2", SenderID: "alice", Sender: core.SenderSelf, Content: "On my way", Status: core.StatusSent, CreatedAt: time.Now()}
	view.render(snap)
	if !strings.Contains(buf.String(), "you: On my way (sent)") {
		t.Fatalf("expected own line with status, got %q", buf.String())
	}

	buf.Reset()
	snap.Messages[1].Status = core.StatusDelivered
	view.render(snap)
	if !strings.Contains(buf.String(), `"On my way" is now delivered`) {
		t.Fatalf("expected status update, got %q", buf.String())
	}

	buf.Reset()
	view.render(snap)
	if buf.Len() != 0 {
		t.Fatalf("unchanged snapshot printed output: %q", buf.String())
	}
}
