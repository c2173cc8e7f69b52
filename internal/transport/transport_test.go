package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/convosync/internal/core"
	"github.com/vovakirdan/convosync/internal/proto"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRegistryDispatchOrderAndUnsubscribe(t *testing.T) {
	reg := newRegistry()

	var got []string
	unsubA := reg.add("typing", func(json.RawMessage) { got = append(got, "a") })
	reg.add("typing", func(json.RawMessage) { got = append(got, "b") })

	if n := reg.dispatch("typing", nil); n != 2 {
		t.Fatalf("expected 2 handlers, got %d", n)
	}
	unsubA()
	unsubA()
	reg.dispatch("typing", nil)

	if strings.Join(got, ",") != "a,b,b" {
		t.Fatalf("unexpected dispatch order: %v", got)
	}
	if reg.count("typing") != 1 {
		t.Fatalf("expected 1 subscriber left, got %d", reg.count("typing"))
	}
}

func TestRegistryHandlerMayUnsubscribeDuringDispatch(t *testing.T) {
	reg := newRegistry()

	calls := 0
	var unsub func()
	unsub = reg.add("x", func(json.RawMessage) {
		calls++
		unsub()
	})

	reg.dispatch("x", nil)
	reg.dispatch("x", nil)

	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestLocalEmitFailsWhileDisconnected(t *testing.T) {
	ch := NewLocal()

	err := ch.Emit(context.Background(), proto.EventTyping, proto.TypingData{ConversationID: "c1"})
	if !errors.Is(err, core.ErrTransportDisconnected) {
		t.Fatalf("expected ErrTransportDisconnected, got %v", err)
	}

	var lifecycle []string
	OnLifecycle(ch, func() { lifecycle = append(lifecycle, "up") }, func() { lifecycle = append(lifecycle, "down") })

	_ = ch.Connect(context.Background())
	if err := ch.Emit(context.Background(), proto.EventTyping, proto.TypingData{ConversationID: "c1", IsTyping: true}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	_ = ch.Disconnect()

	if strings.Join(lifecycle, ",") != "up,down" {
		t.Fatalf("unexpected lifecycle events: %v", lifecycle)
	}
	emitted := ch.Emitted(proto.EventTyping)
	if len(emitted) != 1 {
		t.Fatalf("expected one typing frame, got %d", len(emitted))
	}
}

func TestTypedHelpersNormalizeAndSkipInvalid(t *testing.T) {
	ch := NewLocal()
	_ = ch.Connect(context.Background())
	logger := zerolog.Nop()

	var msgs []core.NewMessageEvent
	OnNewMessage(ch, &logger, func(ev core.NewMessageEvent) { msgs = append(msgs, ev) })

	var statuses []core.StatusEvent
	OnMessageStatus(ch, &logger, func(ev core.StatusEvent) { statuses = append(statuses, ev) })

	_ = ch.Deliver(proto.EventNewMessage, proto.NewMessageData{
		ConversationID: "c1",
		MessageID:      "m1",
		SenderID:       "pro",
		Content:        "flat",
	})
	_ = ch.Deliver(proto.EventNewMessage, proto.NewMessageData{ConversationID: "c1"})
	_ = ch.Deliver(proto.EventNewMessage, "not an object")

	_ = ch.Deliver(proto.EventMessageStatus, proto.MessageStatusData{ConversationID: "c1", MessageID: "all", Status: "seen"})
	_ = ch.Deliver(proto.EventMessageStatus, proto.MessageStatusData{ConversationID: "c1", MessageID: "m1", Status: "read"})

	if len(msgs) != 1 || msgs[0].Message.Content != "flat" || msgs[0].Message.Type != core.MessageTypeText {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if len(statuses) != 1 || !statuses[0].TargetsAll() {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
}

// fakeServer accepts websocket connections and records inbound frames.
type fakeServer struct {
	mu     sync.Mutex
	frames []proto.Frame
	conns  []*websocket.Conn
	auth   []string
}

func (s *fakeServer) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	s.mu.Unlock()

	for {
		var frame proto.Frame
		if err := wsjson.Read(r.Context(), conn, &frame); err != nil {
			return
		}
		s.mu.Lock()
		s.frames = append(s.frames, frame)
		s.mu.Unlock()
	}
}

func (s *fakeServer) framesNamed(event string) []proto.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []proto.Frame
	for _, f := range s.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (s *fakeServer) lastConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

func (s *fakeServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func startFakeServer(t *testing.T) (*fakeServer, string) {
	t.Helper()

	srv := &fakeServer{}
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	t.Cleanup(ts.Close)
	return srv, strings.Replace(ts.URL, "http", "ws", 1)
}

func TestWebSocketAuthenticatesAndDispatches(t *testing.T) {
	srv, url := startFakeServer(t)
	logger := zerolog.Nop()

	ch := NewWebSocket(Options{URL: url, UserID: "u1", Token: "tok"}, &logger)

	connected := make(chan struct{}, 1)
	ch.On(EventConnect, func(json.RawMessage) { connected <- struct{}{} })

	var mu sync.Mutex
	var typing []core.TypingEvent
	OnTyping(ch, &logger, func(ev core.TypingEvent) {
		mu.Lock()
		typing = append(typing, ev)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ch.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Disconnect()

	select {
	case <-connected:
	case <-ctx.Done():
		t.Fatalf("connect event not dispatched")
	}

	waitFor(t, "authenticate frame", func() bool { return len(srv.framesNamed(proto.EventAuthenticate)) == 1 })
	var auth proto.AuthenticateData
	if err := json.Unmarshal(srv.framesNamed(proto.EventAuthenticate)[0].Data, &auth); err != nil {
		t.Fatalf("decode authenticate: %v", err)
	}
	if auth.UserID != "u1" || auth.Token != "tok" {
		t.Fatalf("unexpected authenticate payload: %+v", auth)
	}
	srv.mu.Lock()
	header := srv.auth[0]
	srv.mu.Unlock()
	if header != "Bearer tok" {
		t.Fatalf("unexpected authorization header %q", header)
	}

	payload, _ := json.Marshal(proto.TypingData{ConversationID: "c1", UserID: "pro", IsTyping: true})
	if err := wsjson.Write(ctx, srv.lastConn(), proto.Frame{Event: proto.EventTyping, Data: payload}); err != nil {
		t.Fatalf("server write: %v", err)
	}

	waitFor(t, "typing event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(typing) == 1
	})

	if err := ch.Emit(ctx, proto.EventJoinConversation, proto.ConversationRoomData{ConversationID: "c1"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	waitFor(t, "join frame", func() bool { return len(srv.framesNamed(proto.EventJoinConversation)) == 1 })
}

func TestWebSocketReconnectsAfterServerClose(t *testing.T) {
	srv, url := startFakeServer(t)
	logger := zerolog.Nop()

	ch := NewWebSocket(Options{
		URL:               url,
		UserID:            "u1",
		ReconnectAttempts: 3,
		ReconnectDelay:    20 * time.Millisecond,
	}, &logger)

	var mu sync.Mutex
	var events []string
	OnLifecycle(ch,
		func() { mu.Lock(); events = append(events, "up"); mu.Unlock() },
		func() { mu.Lock(); events = append(events, "down"); mu.Unlock() },
	)

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Disconnect()

	waitFor(t, "first connection", func() bool { return srv.connCount() == 1 })
	// Closing before the server has read authenticate would discard the frame.
	waitFor(t, "first authenticate", func() bool { return len(srv.framesNamed(proto.EventAuthenticate)) == 1 })
	_ = srv.lastConn().Close(websocket.StatusGoingAway, "restart")

	waitFor(t, "reconnection", func() bool { return srv.connCount() == 2 && ch.Connected() })
	waitFor(t, "second authenticate", func() bool { return len(srv.framesNamed(proto.EventAuthenticate)) == 2 })

	if err := ch.Emit(context.Background(), proto.EventJoinConversation, proto.ConversationRoomData{ConversationID: "c1"}); err != nil {
		t.Fatalf("emit after reconnect: %v", err)
	}
	waitFor(t, "join after reconnect", func() bool { return len(srv.framesNamed(proto.EventJoinConversation)) == 1 })

	mu.Lock()
	got := strings.Join(events, ",")
	mu.Unlock()
	if got != "up,down,up" {
		t.Fatalf("unexpected lifecycle sequence: %s", got)
	}
}

func TestWebSocketEmitWhileDownFails(t *testing.T) {
	logger := zerolog.Nop()
	ch := NewWebSocket(Options{URL: "ws://127.0.0.1:1"}, &logger)

	err := ch.Emit(context.Background(), proto.EventTyping, proto.TypingData{ConversationID: "c1"})
	if core.Code(err) != core.ErrCodeTransportDisconnected {
		t.Fatalf("expected transport_disconnected, got %v", err)
	}
	if ch.Connected() {
		t.Fatalf("expected channel to be down")
	}
}
