package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/convosync/internal/proto"
)

func wsURL(env *testEnv, token string) string {
	u := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func dialWS(t *testing.T, env *testEnv, token string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(env, token), nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, proto.Frame{Event: event, Data: data}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// readEvent reads frames until one named event arrives and decodes it into out.
func readEvent(t *testing.T, conn *websocket.Conn, event string, out any) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if frame.Event != event {
			continue
		}
		if out != nil {
			if err := json.Unmarshal(frame.Data, out); err != nil {
				t.Fatalf("decode %s: %v", event, err)
			}
		}
		return
	}
}

func authenticateWS(t *testing.T, conn *websocket.Conn, userID string) {
	t.Helper()

	sendFrame(t, conn, proto.EventAuthenticate, proto.AuthenticateData{UserID: userID})
	var data proto.AuthenticatedData
	readEvent(t, conn, proto.EventAuthenticated, &data)
	if !data.Success || data.UserID != userID {
		t.Fatalf("authentication failed: %+v", data)
	}
}

func TestWSRejectsInvalidToken(t *testing.T) {
	env := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(env, "garbage"), nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", resp)
	}
}

func TestWSAuthenticateWithFrameToken(t *testing.T) {
	env := startTestServer(t)
	token := env.token(t, "alice", "Alice", "user")

	conn := dialWS(t, env, "")

	sendFrame(t, conn, proto.EventJoinConversation, proto.ConversationRoomData{ConversationID: "c1"})
	var perr proto.Error
	readEvent(t, conn, proto.EventError, &perr)
	if perr.Code != "unauthorized" {
		t.Fatalf("expected unauthorized before authenticate, got %+v", perr)
	}

	sendFrame(t, conn, proto.EventAuthenticate, proto.AuthenticateData{UserID: "bob", Token: token})
	readEvent(t, conn, proto.EventError, &perr)
	if perr.Code != "forbidden" {
		t.Fatalf("expected forbidden for mismatched user, got %+v", perr)
	}

	sendFrame(t, conn, proto.EventAuthenticate, proto.AuthenticateData{UserID: "alice", Token: token})
	var data proto.AuthenticatedData
	readEvent(t, conn, proto.EventAuthenticated, &data)
	if !data.Success {
		t.Fatalf("expected success, got %+v", data)
	}

	waitFor(t, "alice online", func() bool { return env.hub.IsOnline("alice") })
}

func TestWSTypingAndAck(t *testing.T) {
	env := startTestServer(t)
	aliceToken := env.token(t, "alice", "Alice", "user")
	bobToken := env.token(t, "bob", "Bob", "professional")

	var conv proto.ConversationData
	env.call(t, http.MethodPost, "/api/messages/conversations/start", aliceToken, proto.StartConversationRequest{ProfessionalID: "bob"}, &conv)

	alice := dialWS(t, env, aliceToken)
	authenticateWS(t, alice, "alice")
	bob := dialWS(t, env, bobToken)
	authenticateWS(t, bob, "bob")

	for _, conn := range []*websocket.Conn{alice, bob} {
		sendFrame(t, conn, proto.EventJoinConversation, proto.ConversationRoomData{ConversationID: conv.ID})
		readEvent(t, conn, proto.EventJoinedConversation, nil)
	}

	sendFrame(t, alice, proto.EventTyping, proto.TypingData{ConversationID: conv.ID, IsTyping: true})
	var typing proto.TypingData
	readEvent(t, bob, proto.EventTyping, &typing)
	if typing.UserID != "alice" || typing.UserName != "Alice" || !typing.IsTyping {
		t.Fatalf("unexpected typing event: %+v", typing)
	}

	var sent proto.SendMessageResponse
	env.call(t, http.MethodPost, "/api/messages/messages/send", aliceToken, proto.SendMessageRequest{
		ConversationID: conv.ID, ReceiverID: "bob", Content: "On my way",
	}, &sent)

	var incoming proto.NewMessageData
	readEvent(t, bob, proto.EventNewMessage, &incoming)
	if incoming.Message == nil || incoming.Message.ID != sent.Data.ID || incoming.Content != "On my way" {
		t.Fatalf("unexpected new_message: %+v", incoming)
	}

	sendFrame(t, bob, proto.EventMessageSeen, proto.MessageAckData{MessageID: sent.Data.ID, ConversationID: conv.ID})
	var status proto.MessageStatusData
	readEvent(t, alice, proto.EventMessageStatus, &status)
	if status.MessageID != sent.Data.ID || status.Status != "seen" {
		t.Fatalf("unexpected message_status: %+v", status)
	}

	// The sender cannot acknowledge its own message.
	sendFrame(t, alice, proto.EventMessageDelivered, proto.MessageAckData{MessageID: sent.Data.ID})
	var perr proto.Error
	readEvent(t, alice, proto.EventError, &perr)
	if perr.Code != "forbidden" {
		t.Fatalf("expected forbidden ack, got %+v", perr)
	}
}

func TestWSRejectsMalformedFrames(t *testing.T) {
	env := startTestServer(t)
	conn := dialWS(t, env, env.token(t, "alice", "Alice", "user"))
	authenticateWS(t, conn, "alice")

	sendFrame(t, conn, "shout", map[string]string{"text": "hi"})
	var perr proto.Error
	readEvent(t, conn, proto.EventError, &perr)
	if perr.Code != "bad_request" {
		t.Fatalf("expected bad_request, got %+v", perr)
	}

	sendFrame(t, conn, proto.EventTyping, proto.TypingData{IsTyping: true})
	readEvent(t, conn, proto.EventError, &perr)
	if perr.Code != "bad_request" {
		t.Fatalf("expected bad_request for missing conversation, got %+v", perr)
	}
}

func TestWSStreamsManyFramesIntact(t *testing.T) {
	env := startTestServer(t)
	aliceToken := env.token(t, "alice", "Alice", "user")
	bobToken := env.token(t, "bob", "Bob", "professional")

	var conv proto.ConversationData
	env.call(t, http.MethodPost, "/api/messages/conversations/start", aliceToken, proto.StartConversationRequest{ProfessionalID: "bob"}, &conv)

	alice := dialWS(t, env, aliceToken)
	authenticateWS(t, alice, "alice")
	bob := dialWS(t, env, bobToken)
	authenticateWS(t, bob, "bob")

	for _, conn := range []*websocket.Conn{alice, bob} {
		sendFrame(t, conn, proto.EventJoinConversation, proto.ConversationRoomData{ConversationID: conv.ID})
		readEvent(t, conn, proto.EventJoinedConversation, nil)
	}

	for i := 0; i < 50; i++ {
		want := i%2 == 0
		sendFrame(t, alice, proto.EventTyping, proto.TypingData{ConversationID: conv.ID, IsTyping: want})
		var typing proto.TypingData
		readEvent(t, bob, proto.EventTyping, &typing)
		if typing.UserID != "alice" || typing.IsTyping != want {
			t.Fatalf("frame %d: unexpected typing event %+v", i, typing)
		}
	}

	resp, err := http.Get(env.server.URL + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected health 200 next to /ws, got %d", resp.StatusCode)
	}
}
