// Package message persists and reads conversation messages. Inserts are
// idempotent on external message id so at-least-once webhook delivery is
// safe to retry.
package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/replyflow/replyflow/internal/db"
)

// ErrDuplicateMessage is returned when a message with the same external
// id was already persisted; callers treat it as a successful no-op.
var ErrDuplicateMessage = errors.New("duplicate external message id")

// Service persists and reads messages.
type Service struct {
	querier db.Querier
	logger  *slog.Logger
}

// NewService creates a message service.
func NewService(log *slog.Logger, querier db.Querier) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		querier: querier,
		logger:  log.With(slog.String("service", "message")),
	}
}

// Persist writes a single message. Duplicate external ids are detected
// on insert, not beforehand; the unique index is the idempotency guard.
func (s *Service) Persist(ctx context.Context, input PersistInput) (Message, error) {
	pgConvID, err := db.ParseUUID(input.ConversationID)
	if err != nil {
		return Message{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	pgTenantID, err := db.ParseUUID(input.TenantID)
	if err != nil {
		return Message{}, fmt.Errorf("invalid tenant id: %w", err)
	}
	if strings.TrimSpace(input.SenderType) == "" {
		return Message{}, fmt.Errorf("sender type is required")
	}

	row := s.querier.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, tenant_id, sender_type, content, external_message_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, conversation_id, tenant_id, sender_type, content, external_message_id, created_at`,
		pgConvID, pgTenantID, input.SenderType, input.Content, db.ToText(input.ExternalMessageID))
	msg, err := scanMessage(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Message{}, ErrDuplicateMessage
		}
		return Message{}, fmt.Errorf("persist message: %w", err)
	}
	return msg, nil
}

// ListLatest returns the newest messages for a conversation in
// chronological order (oldest first), capped at limit.
func (s *Service) ListLatest(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	pgConvID, err := db.ParseUUID(conversationID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.querier.Query(ctx, `
		SELECT id, conversation_id, tenant_id, sender_type, content, external_message_id, created_at
		FROM messages WHERE conversation_id = $1
		ORDER BY created_at DESC LIMIT $2`, pgConvID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var newestFirst []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		newestFirst = append(newestFirst, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to oldest-first for prompt assembly.
	msgs := make([]Message, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		msgs = append(msgs, newestFirst[i])
	}
	return msgs, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	var id, convID, tenantID pgtype.UUID
	var externalID pgtype.Text
	var createdAt pgtype.Timestamptz
	err := row.Scan(&id, &convID, &tenantID, &m.SenderType, &m.Content, &externalID, &createdAt)
	if err != nil {
		return Message{}, err
	}
	m.ID = id.String()
	m.ConversationID = convID.String()
	m.TenantID = tenantID.String()
	m.ExternalMessageID = db.TextToString(externalID)
	m.CreatedAt = createdAt.Time
	return m, nil
}
