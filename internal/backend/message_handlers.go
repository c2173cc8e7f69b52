package backend

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/convosync/internal/auth"
	"github.com/vovakirdan/convosync/internal/proto"
	"github.com/vovakirdan/convosync/internal/relay"
	"github.com/vovakirdan/convosync/internal/store"
)

// Publisher fans socket events out to relay rooms.
type Publisher interface {
	presence
	Publish(rooms []string, ev *relay.Event)
}

// MessageHandlers serves the messaging REST API.
type MessageHandlers struct {
	store store.Store
	hub   Publisher
	log   *zerolog.Logger
	now   func() time.Time
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(st store.Store, hub Publisher, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{
		store: st,
		hub:   hub,
		log:   logger,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ListConversations returns the caller's conversations, most recent first.
// GET /api/messages/conversations
func (h *MessageHandlers) ListConversations(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)

	skip, errSkip := queryInt(c, "skip")
	limit, errLimit := queryInt(c, "limit")
	if errSkip != nil || errLimit != nil || skip < 0 || limit < 0 {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Detail: "skip and limit must be non-negative integers"})
		return
	}

	// booking_status is accepted for compatibility; bookings live outside this backend.
	filter := store.ConversationFilter{
		Status: c.Query("status"),
		Search: c.Query("search"),
		Skip:   skip,
		Limit:  limit,
	}

	ctx := c.Request.Context()
	summaries, total, err := h.store.ListConversations(ctx, userID, filter)
	if err != nil {
		h.internalError(c, err, "failed to list conversations")
		return
	}
	unread, err := h.store.UnreadTotal(ctx, userID)
	if err != nil {
		h.internalError(c, err, "failed to count unread")
		return
	}

	users := newUserCache(h.store)
	resp := proto.ConversationListResponse{
		Conversations: make([]proto.ConversationData, 0, len(summaries)),
		Total:         total,
		UnreadTotal:   unread,
		Skip:          skip,
		Limit:         limit,
	}
	for _, s := range summaries {
		resp.Conversations = append(resp.Conversations, conversationData(ctx, s.Conversation, s.UnreadCount, s.LastMessage, users, h.hub))
	}
	c.JSON(http.StatusOK, resp)
}

// ConversationDetail returns a conversation with its full history.
// GET /api/messages/conversations/:id
func (h *MessageHandlers) ConversationDetail(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)
	ctx := c.Request.Context()

	conv, ok := h.participantConversation(c, c.Param("id"), userID)
	if !ok {
		return
	}

	msgs, err := h.store.ListMessages(ctx, conv.ID)
	if err != nil {
		h.internalError(c, err, "failed to list messages")
		return
	}

	users := newUserCache(h.store)
	resp := proto.ConversationDetailResponse{
		Messages:      make([]proto.MessageData, 0, len(msgs)),
		TotalMessages: len(msgs),
	}
	unread := 0
	var last *store.Message
	for i, m := range msgs {
		if m.ReceiverID == userID && m.Status != "seen" && m.Type != "system" && !m.IsDeleted {
			unread++
		}
		if !m.IsDeleted {
			last = &msgs[i]
		}
		resp.Messages = append(resp.Messages, messageData(m, users.get(ctx, m.SenderID).Name))
	}
	resp.Conversation = conversationData(ctx, conv, unread, last, users, h.hub)
	resp.Booking = resp.Conversation.BookingReference

	c.JSON(http.StatusOK, resp)
}

// StartConversation opens (or returns) the conversation with a counterpart.
// POST /api/messages/conversations/start
func (h *MessageHandlers) StartConversation(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)
	ctx := c.Request.Context()

	var req proto.StartConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Detail: "professional_id is required"})
		return
	}

	conv, status, detail := h.resolveConversation(c, userID, req.ProfessionalID, req.BookingID)
	if status != 0 {
		c.JSON(status, proto.ErrorResponse{Detail: detail})
		return
	}

	if req.InitialMessage != "" {
		if _, err := h.createMessage(c, conv, userID, "text", req.InitialMessage); err != nil {
			h.internalError(c, err, "failed to store initial message")
			return
		}
	}

	h.log.Info().Str("conversation_id", conv.ID).Str("user_id", userID).Msg("conversation started")
	c.JSON(http.StatusOK, conversationData(ctx, conv, 0, nil, newUserCache(h.store), h.hub))
}

// SendMessage persists a message and pushes it to both sides.
// POST /api/messages/messages/send
func (h *MessageHandlers) SendMessage(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)

	var req proto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Detail: "receiver_id and content are required"})
		return
	}
	msgType := req.MessageType
	if msgType == "" {
		msgType = "text"
	}
	if msgType != "text" && msgType != "image" && msgType != "location" {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Detail: "unsupported message_type " + msgType})
		return
	}

	var conv store.Conversation
	if req.ConversationID != "" {
		var ok bool
		conv, ok = h.participantConversation(c, req.ConversationID, userID)
		if !ok {
			return
		}
		if conv.Counterpart(userID) != req.ReceiverID {
			c.JSON(http.StatusBadRequest, proto.ErrorResponse{Detail: "receiver is not part of the conversation"})
			return
		}
	} else {
		var status int
		var detail string
		conv, status, detail = h.resolveConversation(c, userID, req.ReceiverID, "")
		if status != 0 {
			c.JSON(status, proto.ErrorResponse{Detail: detail})
			return
		}
	}

	msg, err := h.createMessage(c, conv, userID, msgType, req.Content)
	if err != nil {
		h.internalError(c, err, "failed to store message")
		return
	}

	c.JSON(http.StatusOK, proto.SendMessageResponse{
		Message:        "Message sent successfully",
		Data:           messageData(msg, c.GetString(ContextKeyName)),
		ConversationID: conv.ID,
	})
}

// MarkRead marks every message addressed to the caller as seen.
// POST /api/messages/conversations/:id/mark-read
func (h *MessageHandlers) MarkRead(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)

	conv, ok := h.participantConversation(c, c.Param("id"), userID)
	if !ok {
		return
	}

	now := h.now()
	n, err := h.store.MarkConversationRead(c.Request.Context(), conv.ID, userID, now)
	if err != nil {
		h.internalError(c, err, "failed to mark conversation read")
		return
	}
	if n > 0 {
		// Only the sender's messages changed, so only the sender is told.
		h.hub.Publish([]string{relay.PersonalRoom(conv.Counterpart(userID))}, &relay.Event{
			Name: proto.EventMessageStatus,
			Data: proto.MessageStatusData{
				ConversationID: conv.ID,
				MessageID:      "all",
				Status:         "seen",
				UpdatedAt:      now,
			},
		})
	}

	c.JSON(http.StatusOK, proto.StatusResponse{Message: "Conversation marked as read", Status: "ok"})
}

// UpdateMessageStatus advances one message addressed to the caller.
// PUT /api/messages/messages/:id/status?status=delivered|seen
func (h *MessageHandlers) UpdateMessageStatus(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)
	status := c.Query("status")
	if status != "delivered" && status != "seen" {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Detail: "status must be delivered or seen"})
		return
	}

	msg, changed, err := h.store.AdvanceMessageStatus(c.Request.Context(), c.Param("id"), userID, status, h.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, proto.ErrorResponse{Detail: "Message not found"})
		return
	case errors.Is(err, store.ErrNotParticipant):
		c.JSON(http.StatusForbidden, proto.ErrorResponse{Detail: "only the receiver can update the status"})
		return
	case err != nil:
		h.internalError(c, err, "failed to update message status")
		return
	}
	if changed {
		h.hub.Publish(relay.StatusRooms(msg), &relay.Event{Name: proto.EventMessageStatus, Data: relay.StatusData(msg)})
	}

	c.JSON(http.StatusOK, proto.StatusResponse{Message: "Status updated", Status: msg.Status})
}

// UnreadCount returns how many messages addressed to the caller are unseen.
// GET /api/messages/conversations/unread-count
func (h *MessageHandlers) UnreadCount(c *gin.Context) {
	n, err := h.store.UnreadTotal(c.Request.Context(), c.GetString(ContextKeyUserID))
	if err != nil {
		h.internalError(c, err, "failed to count unread")
		return
	}
	c.JSON(http.StatusOK, proto.UnreadCountResponse{UnreadCount: n})
}

// participantConversation loads id and hides conversations the caller is not
// part of behind the same 404 as missing ones.
func (h *MessageHandlers) participantConversation(c *gin.Context, id, userID string) (store.Conversation, bool) {
	conv, err := h.store.GetConversation(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !conv.HasParticipant(userID)) {
		c.JSON(http.StatusNotFound, proto.ErrorResponse{Detail: "Conversation not found"})
		return store.Conversation{}, false
	}
	if err != nil {
		h.internalError(c, err, "failed to load conversation")
		return store.Conversation{}, false
	}
	return conv, true
}

// resolveConversation finds or creates the conversation between the caller
// and counterpartID. A non-zero status reports why it could not.
func (h *MessageHandlers) resolveConversation(c *gin.Context, userID, counterpartID, bookingID string) (store.Conversation, int, string) {
	ctx := c.Request.Context()
	if counterpartID == userID {
		return store.Conversation{}, http.StatusBadRequest, "cannot start a conversation with yourself"
	}
	if _, err := h.store.GetUser(ctx, counterpartID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Conversation{}, http.StatusNotFound, "User not found"
		}
		h.log.Error().Err(err).Str("user_id", counterpartID).Msg("failed to load counterpart")
		return store.Conversation{}, http.StatusInternalServerError, "internal server error"
	}

	customer, professional := userID, counterpartID
	if c.GetString(ContextKeyRole) == auth.RoleProfessional {
		customer, professional = counterpartID, userID
	}
	conv, err := h.store.CreateConversation(ctx, customer, professional, bookingID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to create conversation")
		return store.Conversation{}, http.StatusInternalServerError, "internal server error"
	}
	return conv, 0, ""
}

// createMessage persists a message from senderID and publishes new_message to
// the conversation room and both personal rooms.
func (h *MessageHandlers) createMessage(c *gin.Context, conv store.Conversation, senderID, msgType, content string) (store.Message, error) {
	msg, err := h.store.CreateMessage(c.Request.Context(), store.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     conv.Counterpart(senderID),
		Type:           msgType,
		Content:        content,
		CreatedAt:      h.now(),
	})
	if err != nil {
		return store.Message{}, err
	}

	h.hub.Publish(
		[]string{conv.ID, relay.PersonalRoom(msg.ReceiverID), relay.PersonalRoom(senderID)},
		&relay.Event{Name: proto.EventNewMessage, Data: newMessageData(msg, c.GetString(ContextKeyName))},
	)
	h.log.Debug().
		Str("conversation_id", conv.ID).
		Str("message_id", msg.ID).
		Str("user_id", senderID).
		Msg("message stored")
	return msg, nil
}

func (h *MessageHandlers) internalError(c *gin.Context, err error, msg string) {
	h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg(msg)
	c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Detail: "internal server error"})
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
