package backend

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/convosync/internal/api"
	"github.com/vovakirdan/convosync/internal/client"
	"github.com/vovakirdan/convosync/internal/core"
	"github.com/vovakirdan/convosync/internal/service/messages"
	"github.com/vovakirdan/convosync/internal/transport"
)

func startClient(t *testing.T, env *testEnv, userID, name, role string) *client.Client {
	t.Helper()

	logger := zerolog.Nop()
	token := env.token(t, userID, name, role)

	ch := transport.NewWebSocket(transport.Options{
		URL:               "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws",
		UserID:            userID,
		Token:             token,
		ReconnectAttempts: 1,
		ReconnectDelay:    50 * time.Millisecond,
	}, &logger)
	backend := api.New(env.server.URL, token, 2*time.Second, &logger)

	c := client.New(ch, backend, &logger, client.Options{
		LocalUserID: userID,
		TypingStop:  200 * time.Millisecond,
		TypingClear: 300 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start client %s: %v", userID, err)
	}
	t.Cleanup(func() { _ = c.Close() })

	waitFor(t, userID+" online", func() bool { return env.hub.IsOnline(userID) })
	return c
}

func messageStatus(sy *messages.Synchronizer, id string) core.MessageStatus {
	for _, m := range sy.Snapshot().Messages {
		if m.ID == id {
			return m.Status
		}
	}
	return ""
}

func TestEndToEndDeliveryReceipts(t *testing.T) {
	env := startTestServer(t)
	alice := startClient(t, env, "alice", "Alice", "user")
	bob := startClient(t, env, "bob", "Bob", "professional")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Opening by counterpart id redirects to the real conversation.
	sy, err := alice.OpenConversation(ctx, "bob")
	if err != nil {
		t.Fatalf("open conversation: %v", err)
	}
	convID := sy.ConversationID()
	if convID == "bob" || convID == "" {
		t.Fatalf("expected redirect to a conversation id, got %q", convID)
	}
	if !alice.Rooms.Joined(convID) || alice.Rooms.Joined("bob") {
		t.Fatalf("unexpected rooms after redirect: %v", alice.Rooms.Rooms())
	}

	msg, err := alice.Send(ctx, convID, "On my way")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Status != core.StatusSent {
		t.Fatalf("expected sent, got %s", msg.Status)
	}

	// Bob is online without the view open, so his client acknowledges delivery.
	waitFor(t, "delivered receipt", func() bool { return messageStatus(sy, msg.ID) == core.StatusDelivered })

	bobView, err := bob.OpenConversation(ctx, convID)
	if err != nil {
		t.Fatalf("bob open conversation: %v", err)
	}
	snap := bobView.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].Content != "On my way" {
		t.Fatalf("unexpected history for bob: %+v", snap.Messages)
	}

	waitFor(t, "seen receipt", func() bool { return messageStatus(sy, msg.ID) == core.StatusSeen })

	if n := len(sy.Snapshot().Messages); n != 1 {
		t.Fatalf("expected exactly one message for alice, got %d", n)
	}
}
