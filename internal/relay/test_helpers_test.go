package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/convosync/internal/proto"
	"github.com/vovakirdan/convosync/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, name string) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Name == name {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event %q not received", name)
	return nil
}

func noEvent(t *testing.T, ch <-chan *Event, name string, wait time.Duration) {
	t.Helper()

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Name == name {
				t.Fatalf("unexpected event %q: %+v", name, ev.Data)
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func startHub(t *testing.T, st Store) *Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(st, nil)
	go hub.Run(ctx)
	return hub
}

func connect(t *testing.T, hub *Hub, id, userID string) *Client {
	t.Helper()

	c := NewClient(id)
	hub.RegisterClient(c)
	c.Commands <- &Command{Kind: CommandAuthenticate, UserID: userID, Name: userID}
	mustEvent(t, c.Events, proto.EventAuthenticated)
	return c
}

// syncLeft waits until the hub has processed c's earlier leave of room.
// Commands of one client are handled in order, so a second leave answered
// with not_in_room means the first one went through.
func syncLeft(t *testing.T, c *Client, room string) {
	t.Helper()

	c.Commands <- &Command{Kind: CommandLeaveRoom, Room: room}
	ev := mustEvent(t, c.Events, proto.EventError)
	if code := ev.Data.(proto.Error).Code; code != ErrCodeNotInRoom {
		t.Fatalf("expected %s after leave, got %s", ErrCodeNotInRoom, code)
	}
}

// fakeStore serves a fixed set of conversations and messages.
type fakeStore struct {
	mu    sync.Mutex
	convs map[string]store.Conversation
	msgs  map[string]store.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		convs: map[string]store.Conversation{
			"c1": {ID: "c1", UserID: "alice", ProfessionalID: "bob"},
		},
		msgs: map[string]store.Message{
			"m1": {ID: "m1", ConversationID: "c1", SenderID: "alice", ReceiverID: "bob", Status: "sent"},
		},
	}
}

func (f *fakeStore) GetConversation(_ context.Context, id string) (store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[id]
	if !ok {
		return store.Conversation{}, store.ErrNotFound
	}
	return conv, nil
}

func (f *fakeStore) AdvanceMessageStatus(_ context.Context, messageID, receiverID, status string, at time.Time) (store.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.msgs[messageID]
	if !ok {
		return store.Message{}, false, store.ErrNotFound
	}
	if msg.ReceiverID != receiverID {
		return store.Message{}, false, store.ErrNotParticipant
	}
	if rank(status) <= rank(msg.Status) {
		return msg, false, nil
	}
	msg.Status = status
	if status == "seen" {
		msg.SeenAt = &at
	}
	f.msgs[messageID] = msg
	return msg, true, nil
}

func rank(status string) int {
	switch status {
	case "sent":
		return 1
	case "delivered":
		return 2
	case "seen":
		return 3
	}
	return 0
}
