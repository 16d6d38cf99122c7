// Package lead implements idempotent find-or-create resolution of leads
// and their conversations, keyed by phone within a tenant.
package lead

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/replyflow/replyflow/internal/db"
)

// Service resolves leads and conversations.
type Service struct {
	querier db.Querier
	logger  *slog.Logger
	// reuseClosed keeps the single-thread-per-lead behavior: the most
	// recent conversation is reused even when its status is closed.
	reuseClosed bool
}

// NewService creates a lead service.
func NewService(log *slog.Logger, querier db.Querier, reuseClosedConversations bool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		querier:     querier,
		logger:      log.With(slog.String("service", "lead")),
		reuseClosed: reuseClosedConversations,
	}
}

// Resolve finds or creates the lead for (tenant, phone). Concurrent
// webhook deliveries for the same new phone race on the insert; the
// loser sees the unique violation and re-fetches.
func (s *Service) Resolve(ctx context.Context, tenantID, phone, displayName string) (Lead, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return Lead{}, fmt.Errorf("phone is required")
	}
	pgTenantID, err := db.ParseUUID(tenantID)
	if err != nil {
		return Lead{}, err
	}

	found, err := s.getByPhone(ctx, pgTenantID, phone)
	if err == nil {
		return found, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, fmt.Errorf("lookup lead: %w", err)
	}

	created, err := s.insert(ctx, pgTenantID, phone, displayName)
	if err == nil {
		return created, nil
	}
	if db.IsUniqueViolation(err) {
		// Lost the create race; the row exists now.
		existing, refetchErr := s.getByPhone(ctx, pgTenantID, phone)
		if refetchErr != nil {
			return Lead{}, fmt.Errorf("refetch lead after duplicate insert: %w", refetchErr)
		}
		return existing, nil
	}
	return Lead{}, fmt.Errorf("create lead: %w", err)
}

// ResolveConversation returns the lead's active conversation: the most
// recently created one regardless of status, or a new open conversation
// when none exists. When closed-conversation reuse is disabled, a closed
// latest conversation also starts a new thread.
func (s *Service) ResolveConversation(ctx context.Context, l Lead) (Conversation, error) {
	pgLeadID, err := db.ParseUUID(l.ID)
	if err != nil {
		return Conversation{}, err
	}
	row := s.querier.QueryRow(ctx, `
		SELECT id, tenant_id, lead_id, assigned_owner, status, message_count, created_at, updated_at
		FROM conversations WHERE lead_id = $1
		ORDER BY created_at DESC LIMIT 1`, pgLeadID)
	conv, err := scanConversation(row)
	switch {
	case err == nil:
		if conv.Status == StatusClosed && !s.reuseClosed {
			return s.createConversation(ctx, l)
		}
		return conv, nil
	case errors.Is(err, pgx.ErrNoRows):
		return s.createConversation(ctx, l)
	default:
		return Conversation{}, fmt.Errorf("lookup conversation: %w", err)
	}
}

// Touch records the latest inbound message on the lead row.
func (s *Service) Touch(ctx context.Context, leadID, lastMessage string, at time.Time) error {
	pgID, err := db.ParseUUID(leadID)
	if err != nil {
		return err
	}
	_, err = s.querier.Exec(ctx, `
		UPDATE leads
		SET last_message = $2, last_message_at = $3, message_count = message_count + 1
		WHERE id = $1`, pgID, lastMessage, db.ToTimestamptz(at))
	if err != nil {
		return fmt.Errorf("touch lead: %w", err)
	}
	return nil
}

// BumpConversation advances updated_at and the message counter.
func (s *Service) BumpConversation(ctx context.Context, conversationID string) error {
	pgID, err := db.ParseUUID(conversationID)
	if err != nil {
		return err
	}
	_, err = s.querier.Exec(ctx, `
		UPDATE conversations
		SET message_count = message_count + 1, updated_at = now()
		WHERE id = $1`, pgID)
	if err != nil {
		return fmt.Errorf("bump conversation: %w", err)
	}
	return nil
}

func (s *Service) getByPhone(ctx context.Context, tenantID pgtype.UUID, phone string) (Lead, error) {
	row := s.querier.QueryRow(ctx, `
		SELECT id, tenant_id, phone, display_name, last_message, last_message_at, message_count, created_at
		FROM leads WHERE tenant_id = $1 AND phone = $2`, tenantID, phone)
	return scanLead(row)
}

func (s *Service) insert(ctx context.Context, tenantID pgtype.UUID, phone, displayName string) (Lead, error) {
	row := s.querier.QueryRow(ctx, `
		INSERT INTO leads (tenant_id, phone, display_name)
		VALUES ($1, $2, $3)
		RETURNING id, tenant_id, phone, display_name, last_message, last_message_at, message_count, created_at`,
		tenantID, phone, strings.TrimSpace(displayName))
	return scanLead(row)
}

func (s *Service) createConversation(ctx context.Context, l Lead) (Conversation, error) {
	pgTenantID, err := db.ParseUUID(l.TenantID)
	if err != nil {
		return Conversation{}, err
	}
	pgLeadID, err := db.ParseUUID(l.ID)
	if err != nil {
		return Conversation{}, err
	}
	row := s.querier.QueryRow(ctx, `
		INSERT INTO conversations (tenant_id, lead_id, status)
		VALUES ($1, $2, $3)
		RETURNING id, tenant_id, lead_id, assigned_owner, status, message_count, created_at, updated_at`,
		pgTenantID, pgLeadID, StatusOpen)
	conv, err := scanConversation(row)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func scanLead(row pgx.Row) (Lead, error) {
	var l Lead
	var id, tenantID pgtype.UUID
	var lastMessageAt, createdAt pgtype.Timestamptz
	err := row.Scan(&id, &tenantID, &l.Phone, &l.DisplayName, &l.LastMessage,
		&lastMessageAt, &l.MessageCount, &createdAt)
	if err != nil {
		return Lead{}, err
	}
	l.ID = id.String()
	l.TenantID = tenantID.String()
	l.LastMessageAt = lastMessageAt.Time
	l.CreatedAt = createdAt.Time
	return l, nil
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	var id, tenantID, leadID, owner pgtype.UUID
	var createdAt, updatedAt pgtype.Timestamptz
	err := row.Scan(&id, &tenantID, &leadID, &owner, &c.Status,
		&c.MessageCount, &createdAt, &updatedAt)
	if err != nil {
		return Conversation{}, err
	}
	c.ID = id.String()
	c.TenantID = tenantID.String()
	c.LeadID = leadID.String()
	if owner.Valid {
		c.AssignedOwner = owner.String()
	}
	c.CreatedAt = createdAt.Time
	c.UpdatedAt = updatedAt.Time
	return c, nil
}
