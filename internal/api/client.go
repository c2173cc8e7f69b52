package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/vovakirdan/convosync/internal/core"
	"github.com/vovakirdan/convosync/internal/proto"
)

const defaultTimeout = 10 * time.Second

// Client talks to the messaging REST API.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *fasthttp.Client
	log     *zerolog.Logger

	mu    sync.RWMutex
	token string
}

// New builds a client for baseURL (e.g. http://localhost:8080).
func New(baseURL, token string, timeout time.Duration, logger *zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		token:   token,
		log:     logger,
		http: &fasthttp.Client{
			Name:                "convosync",
			MaxIdleConnDuration: time.Minute,
		},
	}
}

// SetToken replaces the bearer token used for subsequent calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ConversationDetail fetches a conversation and its history. Unknown ids fail
// with core.ErrNotFound.
func (c *Client) ConversationDetail(ctx context.Context, conversationID string) (ConversationDetail, error) {
	var resp proto.ConversationDetailResponse
	if err := c.do(ctx, fasthttp.MethodGet, "/api/messages/conversations/"+url.PathEscape(conversationID), nil, nil, &resp); err != nil {
		return ConversationDetail{}, fmt.Errorf("conversation %s: %w", conversationID, err)
	}

	detail := ConversationDetail{Conversation: resp.Conversation.ToCore()}
	for _, m := range resp.Messages {
		if m.IsDeleted {
			continue
		}
		detail.Messages = append(detail.Messages, m.ToCore())
	}
	if resp.Booking != nil {
		b := resp.Booking.ToCore()
		detail.Booking = &b
	} else {
		detail.Booking = detail.Conversation.Booking
	}
	return detail, nil
}

// StartConversation opens (or returns) the conversation with counterpartID.
func (c *Client) StartConversation(ctx context.Context, counterpartID, initialMessage string) (core.Conversation, error) {
	body := proto.StartConversationRequest{ProfessionalID: counterpartID, InitialMessage: initialMessage}
	var resp proto.ConversationData
	if err := c.do(ctx, fasthttp.MethodPost, "/api/messages/conversations/start", nil, body, &resp); err != nil {
		return core.Conversation{}, fmt.Errorf("start conversation with %s: %w", counterpartID, err)
	}
	return resp.ToCore(), nil
}

// SendMessage persists a message and returns the stored copy.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (core.Message, error) {
	body := proto.SendMessageRequest{
		ConversationID: req.ConversationID,
		ReceiverID:     req.ReceiverID,
		MessageType:    string(req.Type),
		Content:        req.Content,
	}
	var resp proto.SendMessageResponse
	if err := c.do(ctx, fasthttp.MethodPost, "/api/messages/messages/send", nil, body, &resp); err != nil {
		return core.Message{}, fmt.Errorf("send message: %w", err)
	}
	msg := resp.Data.ToCore()
	if msg.ConversationID == "" {
		msg.ConversationID = resp.ConversationID
	}
	return msg, nil
}

// MarkRead marks every inbound message of the conversation as seen.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/api/messages/conversations/" + url.PathEscape(conversationID) + "/mark-read"
	if err := c.do(ctx, fasthttp.MethodPost, path, nil, nil, nil); err != nil {
		return fmt.Errorf("mark read %s: %w", conversationID, err)
	}
	return nil
}

// UpdateMessageStatus sets the status of one message.
func (c *Client) UpdateMessageStatus(ctx context.Context, messageID string, status core.MessageStatus) error {
	path := "/api/messages/messages/" + url.PathEscape(messageID) + "/status"
	query := url.Values{"status": {string(status)}}
	if err := c.do(ctx, fasthttp.MethodPut, path, query, nil, nil); err != nil {
		return fmt.Errorf("update status of %s: %w", messageID, err)
	}
	return nil
}

// Conversations lists conversation summaries.
func (c *Client) Conversations(ctx context.Context, filter Filter) (ConversationPage, error) {
	query := url.Values{}
	if filter.Status != "" {
		query.Set("status", filter.Status)
	}
	if filter.BookingStatus != "" {
		query.Set("booking_status", filter.BookingStatus)
	}
	if filter.Search != "" {
		query.Set("search", filter.Search)
	}
	if filter.Skip > 0 {
		query.Set("skip", strconv.Itoa(filter.Skip))
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}

	var resp proto.ConversationListResponse
	if err := c.do(ctx, fasthttp.MethodGet, "/api/messages/conversations", query, nil, &resp); err != nil {
		return ConversationPage{}, fmt.Errorf("list conversations: %w", err)
	}

	page := ConversationPage{Total: resp.Total, UnreadTotal: resp.UnreadTotal}
	for _, conv := range resp.Conversations {
		page.Conversations = append(page.Conversations, conv.ToCore())
	}
	return page, nil
}

// UnreadCount returns the total unread messages of the caller.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp proto.UnreadCountResponse
	if err := c.do(ctx, fasthttp.MethodGet, "/api/messages/conversations/unread-count", nil, nil, &resp); err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return resp.UnreadCount, nil
}

// IssueToken asks the development backend for a bearer token.
func (c *Client) IssueToken(ctx context.Context, req proto.TokenRequest) (string, error) {
	var resp proto.TokenResponse
	if err := c.do(ctx, fasthttp.MethodPost, "/api/auth/token", nil, req, &resp); err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return resp.Token, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := c.baseURL + path
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
	}

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return err
	}
	code := resp.StatusCode()
	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", code).
		Dur("took", time.Since(start)).
		Msg("api call")

	if code == fasthttp.StatusNotFound {
		return core.ErrNotFound
	}
	if code < 200 || code > 299 {
		return statusError(method, path, code, resp.Body())
	}

	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(method, path string, code int, body []byte) error {
	var detail proto.ErrorResponse
	if err := json.Unmarshal(body, &detail); err != nil {
		detail.Detail = ""
	}
	return &StatusError{Method: method, Path: path, Code: code, Detail: detail.Detail}
}

// IsStatus reports whether err carries a response with the given status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
