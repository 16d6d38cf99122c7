// Package notify records dashboard notifications: human-handoff
// requests, connection outages and similar operator-facing events.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/replyflow/replyflow/internal/db"
)

// Priorities understood by the dashboard.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Notification is one operator-facing event.
type Notification struct {
	ID          string
	TenantID    string
	Title       string
	Description string
	Priority    string
	LeadID      string
	CreatedAt   time.Time
}

// Input describes a notification to record. LeadID is optional.
type Input struct {
	TenantID    string
	Title       string
	Description string
	Priority    string
	LeadID      string
}

// Sink is the write interface the pipeline depends on.
type Sink interface {
	Notify(ctx context.Context, in Input) error
}

type Service struct {
	querier db.Querier
	logger  *slog.Logger
}

func NewService(log *slog.Logger, querier db.Querier) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		querier: querier,
		logger:  log.With(slog.String("service", "notify")),
	}
}

// Notify inserts a notification row.
func (s *Service) Notify(ctx context.Context, in Input) error {
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}
	var leadID any
	if in.LeadID != "" {
		leadID = in.LeadID
	}
	_, err := s.querier.Exec(ctx, `
		INSERT INTO notifications (tenant_id, title, description, priority, lead_id)
		VALUES ($1, $2, $3, $4, $5)`,
		in.TenantID, in.Title, in.Description, in.Priority, leadID,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	s.logger.Info("notification recorded",
		slog.String("tenant_id", in.TenantID),
		slog.String("title", in.Title),
		slog.String("priority", in.Priority),
	)
	return nil
}

// ListRecent returns the latest notifications for a tenant.
func (s *Service) ListRecent(ctx context.Context, tenantID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.querier.Query(ctx, `
		SELECT id, tenant_id, title, description, priority, COALESCE(lead_id::text, ''), created_at
		FROM notifications
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.TenantID, &n.Title, &n.Description, &n.Priority, &n.LeadID, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
