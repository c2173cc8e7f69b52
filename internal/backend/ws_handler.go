package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/convosync/internal/auth"
	"github.com/vovakirdan/convosync/internal/observability"
	"github.com/vovakirdan/convosync/internal/proto"
	"github.com/vovakirdan/convosync/internal/relay"
	"github.com/vovakirdan/convosync/internal/utils"
)

// WSHandler upgrades HTTP connections and bridges them to relay.Client.
type WSHandler struct {
	hub  *relay.Hub
	auth *auth.Service
	log  *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *relay.Hub, authService *auth.Service, logger *zerolog.Logger) http.Handler {
	return &WSHandler{hub: hub, auth: authService, log: logger}
}

// session carries per-connection auth state owned by the read loop.
type session struct {
	client *relay.Client
	// token presented on the upgrade request, if any
	token  string
	claims *auth.Claims
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess := &session{}
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		sess.token = token
	} else if token := r.URL.Query().Get("token"); token != "" {
		sess.token = token
	}
	if sess.token != "" {
		claims, err := h.auth.ValidateToken(sess.token)
		if err != nil {
			h.log.Debug().Err(err).Msg("ws upgrade with invalid token")
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		sess.claims = claims
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	observability.IncWSActive()
	defer observability.DecWSActive()

	sess.client = relay.NewClient(utils.NewID())
	h.hub.RegisterClient(sess.client)
	defer h.hub.UnregisterClient(sess.client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, sess)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, sess.client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("client_id", sess.client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, sess *session) error {
	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return err
		}

		cmd, protoErr := h.frameToCommand(sess, frame)
		if protoErr != nil {
			h.log.Debug().Str("client_id", sess.client.ID).Str("event", frame.Event).Str("code", protoErr.Code).Msg("rejected frame")
			if err := writeFrame(ctx, conn, proto.EventError, protoErr); err != nil {
				return err
			}
			continue
		}
		if cmd == nil {
			continue
		}

		select {
		case sess.client.Commands <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *relay.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := writeFrame(ctx, conn, event.Name, event.Data); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// frameToCommand maps an inbound frame to a hub command. Authentication is
// resolved here so the hub only ever sees verified user ids.
func (h *WSHandler) frameToCommand(sess *session, frame proto.Frame) (*relay.Command, *proto.Error) {
	switch frame.Event {
	case proto.EventAuthenticate:
		var data proto.AuthenticateData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return nil, badRequest("malformed authenticate payload")
		}
		claims := sess.claims
		if data.Token != "" {
			parsed, err := h.auth.ValidateToken(data.Token)
			if err != nil {
				return nil, &proto.Error{Code: relay.ErrCodeUnauthorized, Msg: "invalid token"}
			}
			claims = parsed
		}
		if claims == nil {
			return nil, &proto.Error{Code: relay.ErrCodeUnauthorized, Msg: "token required"}
		}
		if data.UserID != "" && data.UserID != claims.UserID {
			return nil, &proto.Error{Code: relay.ErrCodeForbidden, Msg: "user_id does not match token"}
		}
		sess.claims = claims
		return &relay.Command{Kind: relay.CommandAuthenticate, UserID: claims.UserID, Name: claims.Name}, nil

	case proto.EventJoinConversation, proto.EventLeaveConversation:
		var data proto.ConversationRoomData
		if err := json.Unmarshal(frame.Data, &data); err != nil || data.ConversationID == "" {
			return nil, badRequest("conversation_id is required")
		}
		kind := relay.CommandJoinRoom
		if frame.Event == proto.EventLeaveConversation {
			kind = relay.CommandLeaveRoom
		}
		return &relay.Command{Kind: kind, Room: data.ConversationID}, nil

	case proto.EventTyping:
		var data proto.TypingData
		if err := json.Unmarshal(frame.Data, &data); err != nil || data.ConversationID == "" {
			return nil, badRequest("conversation_id is required")
		}
		return &relay.Command{Kind: relay.CommandTyping, Room: data.ConversationID, IsTyping: data.IsTyping}, nil

	case proto.EventMessageDelivered, proto.EventMessageSeen:
		var data proto.MessageAckData
		if err := json.Unmarshal(frame.Data, &data); err != nil || data.MessageID == "" {
			return nil, badRequest("message_id is required")
		}
		status := "delivered"
		if frame.Event == proto.EventMessageSeen {
			status = "seen"
		}
		return &relay.Command{Kind: relay.CommandAck, MessageID: data.MessageID, Status: status}, nil

	default:
		return nil, badRequest("unknown event " + frame.Event)
	}
}

func badRequest(msg string) *proto.Error {
	return &proto.Error{Code: relay.ErrCodeBadRequest, Msg: msg}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, conn, proto.Frame{Event: event, Data: data})
}
