package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/convosync/internal/store"
	"github.com/vovakirdan/convosync/internal/utils"
)

//go:embed schema.sql
var schema string

const statusRank = `CASE status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'seen' THEN 3 ELSE 0 END`

const messageColumns = `id, conversation_id, sender_id, receiver_id, message_type, content, status, is_deleted, created_at, delivered_at, seen_at`

const conversationColumns = `c.id, c.user_id, c.professional_id, c.booking_id, c.status, c.created_at, c.updated_at`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// New opens (or creates) the database at dbPath and applies the schema.
// Use ":memory:" for a throwaway database.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; :memory: requires it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// UpsertUser creates the user or refreshes its name and role. Empty fields
// keep their stored values.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user store.User) (store.User, error) {
	if user.Role == "" {
		user.Role = "user"
	}
	query := `
		INSERT INTO users (id, name, role, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
			role = excluded.role
	`
	if _, err := s.db.ExecContext(ctx, query, user.ID, user.Name, user.Role, s.now()); err != nil {
		return store.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return s.GetUser(ctx, user.ID)
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (store.User, error) {
	var user store.User
	err := s.db.GetContext(ctx, &user, `SELECT id, name, role, created_at FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, store.ErrNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// ==== ConversationStore implementation ====

// CreateConversation returns the conversation between userID and
// professionalID, creating it when missing.
func (s *SQLiteStore) CreateConversation(ctx context.Context, userID, professionalID, bookingID string) (store.Conversation, error) {
	now := s.now()
	query := `
		INSERT INTO conversations (id, user_id, professional_id, booking_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'active', ?, ?)
		ON CONFLICT(user_id, professional_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, utils.NewID(), userID, professionalID, bookingID, now, now); err != nil {
		return store.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return s.FindConversation(ctx, userID, professionalID)
}

// GetConversation retrieves a conversation by id.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (store.Conversation, error) {
	var conv store.Conversation
	err := s.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations c WHERE c.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Conversation{}, store.ErrNotFound
	}
	if err != nil {
		return store.Conversation{}, fmt.Errorf("query conversation: %w", err)
	}
	return conv, nil
}

// FindConversation looks a conversation up by its two participants.
func (s *SQLiteStore) FindConversation(ctx context.Context, userID, professionalID string) (store.Conversation, error) {
	var conv store.Conversation
	query := `SELECT ` + conversationColumns + ` FROM conversations c WHERE c.user_id = ? AND c.professional_id = ?`
	err := s.db.GetContext(ctx, &conv, query, userID, professionalID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Conversation{}, store.ErrNotFound
	}
	if err != nil {
		return store.Conversation{}, fmt.Errorf("query conversation: %w", err)
	}
	return conv, nil
}

type summaryRow struct {
	store.Conversation
	UnreadCount int `db:"unread_count"`
}

// ListConversations returns the conversations of participantID, most recently
// active first, plus the total matching the filter before paging.
func (s *SQLiteStore) ListConversations(ctx context.Context, participantID string, filter store.ConversationFilter) ([]store.ConversationSummary, int, error) {
	where := []string{"(c.user_id = ? OR c.professional_id = ?)"}
	args := []any{participantID, participantID}
	if filter.Status != "" {
		where = append(where, "c.status = ?")
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		where = append(where, `(
			EXISTS (SELECT 1 FROM users u
				WHERE u.id = CASE WHEN c.user_id = ? THEN c.professional_id ELSE c.user_id END
				AND u.name LIKE ?)
			OR EXISTS (SELECT 1 FROM messages m
				WHERE m.conversation_id = c.id AND m.is_deleted = 0 AND m.content LIKE ?))`)
		args = append(args, participantID, like, like)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM conversations c WHERE `+cond, args...); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT ` + conversationColumns + `,
			(SELECT COUNT(*) FROM messages m
				WHERE m.conversation_id = c.id AND m.receiver_id = ?
				AND m.status != 'seen' AND m.is_deleted = 0 AND m.message_type != 'system') AS unread_count
		FROM conversations c
		WHERE ` + cond + `
		ORDER BY c.updated_at DESC
		LIMIT ? OFFSET ?
	`
	queryArgs := append([]any{participantID}, args...)
	queryArgs = append(queryArgs, limit, filter.Skip)

	var rows []summaryRow
	if err := s.db.SelectContext(ctx, &rows, query, queryArgs...); err != nil {
		return nil, 0, fmt.Errorf("query conversations: %w", err)
	}

	summaries := make([]store.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		last, err := s.lastMessage(ctx, row.ID)
		if err != nil {
			return nil, 0, err
		}
		summaries = append(summaries, store.ConversationSummary{
			Conversation: row.Conversation,
			UnreadCount:  row.UnreadCount,
			LastMessage:  last,
		})
	}
	return summaries, total, nil
}

func (s *SQLiteStore) lastMessage(ctx context.Context, conversationID string) (*store.Message, error) {
	var msg store.Message
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE conversation_id = ? AND is_deleted = 0
		ORDER BY created_at DESC, rowid DESC LIMIT 1`
	err := s.db.GetContext(ctx, &msg, query, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last message: %w", err)
	}
	return &msg, nil
}

// UnreadTotal counts the messages addressed to userID not yet seen.
func (s *SQLiteStore) UnreadTotal(ctx context.Context, userID string) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM messages
		WHERE receiver_id = ? AND status != 'seen' AND is_deleted = 0 AND message_type != 'system'`
	if err := s.db.GetContext(ctx, &n, query, userID); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// ==== MessageStore implementation ====

// CreateMessage persists msg, assigning id, status and timestamp when unset,
// and bumps the conversation's activity time.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg store.Message) (store.Message, error) {
	if msg.ID == "" {
		msg.ID = utils.NewID()
	}
	if msg.Type == "" {
		msg.Type = "text"
	}
	if msg.Status == "" && msg.Type != "system" {
		msg.Status = "sent"
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return store.Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (:id, :conversation_id, :sender_id, :receiver_id, :message_type, :content, :status,
			:is_deleted, :created_at, :delivered_at, :seen_at)
	`
	if _, err := tx.NamedExecContext(ctx, insert, msg); err != nil {
		return store.Message{}, fmt.Errorf("insert message: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, msg.CreatedAt, msg.ConversationID)
	if err != nil {
		return store.Message{}, fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.Message{}, store.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return store.Message{}, fmt.Errorf("commit message: %w", err)
	}
	return msg, nil
}

// GetMessage retrieves a message by id.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (store.Message, error) {
	var msg store.Message
	err := s.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Message{}, store.ErrNotFound
	}
	if err != nil {
		return store.Message{}, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// ListMessages returns the history of a conversation, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	msgs := []store.Message{}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, rowid ASC`
	if err := s.db.SelectContext(ctx, &msgs, query, conversationID); err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return msgs, nil
}

// AdvanceMessageStatus implements store.MessageStore.
func (s *SQLiteStore) AdvanceMessageStatus(ctx context.Context, messageID, receiverID, status string, at time.Time) (store.Message, bool, error) {
	rank := rankOf(status)
	if rank == 0 {
		return store.Message{}, false, fmt.Errorf("unknown status %q", status)
	}

	query := `
		UPDATE messages SET
			status = ?,
			delivered_at = COALESCE(delivered_at, ?),
			seen_at = CASE WHEN ? = 'seen' THEN COALESCE(seen_at, ?) ELSE seen_at END
		WHERE id = ? AND receiver_id = ? AND message_type != 'system' AND ` + statusRank + ` < ?
	`
	res, err := s.db.ExecContext(ctx, query, status, at, status, at, messageID, receiverID, rank)
	if err != nil {
		return store.Message{}, false, fmt.Errorf("update status: %w", err)
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return store.Message{}, false, fmt.Errorf("update status: %w", err)
	}

	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return store.Message{}, false, err
	}
	if msg.ReceiverID != receiverID {
		return store.Message{}, false, store.ErrNotParticipant
	}
	return msg, changed > 0, nil
}

// MarkConversationRead implements store.MessageStore.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error) {
	query := `
		UPDATE messages SET
			status = 'seen',
			delivered_at = COALESCE(delivered_at, ?),
			seen_at = COALESCE(seen_at, ?)
		WHERE conversation_id = ? AND receiver_id = ? AND status != 'seen' AND message_type != 'system'
	`
	res, err := s.db.ExecContext(ctx, query, at, at, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return int(n), nil
}

func rankOf(status string) int {
	switch status {
	case "sent":
		return 1
	case "delivered":
		return 2
	case "seen":
		return 3
	default:
		return 0
	}
}
