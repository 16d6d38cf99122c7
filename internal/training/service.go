package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/replyflow/replyflow/internal/db"
)

// ErrInvalidTransition is returned when a requested lifecycle change
// is not a legal edge of the training state machine.
var ErrInvalidTransition = errors.New("invalid training status transition")

// Service owns the per-tenant training lifecycle row.
type Service struct {
	querier db.Querier
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(log *slog.Logger, querier db.Querier) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		querier: querier,
		logger:  log.With(slog.String("service", "training")),
		now:     time.Now,
	}
}

const statusColumns = `tenant_id, status, started_at, ready_at, activated_at,
	messages_analyzed, min_days_required, min_messages_required, confidence_score,
	faq_count, response_pattern_count, company_info_count, objection_handling_count, product_info_count`

// GetStatus returns the tenant's training row, creating a fresh
// learning-phase row on first use.
func (s *Service) GetStatus(ctx context.Context, tenantID string) (Status, error) {
	st, err := s.fetch(ctx, tenantID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Status{}, fmt.Errorf("get training status: %w", err)
	}
	_, err = s.querier.Exec(ctx, `
		INSERT INTO training_status (tenant_id, status, started_at)
		VALUES ($1, $2, now())
		ON CONFLICT (tenant_id) DO NOTHING`,
		tenantID, StatusLearning,
	)
	if err != nil {
		return Status{}, fmt.Errorf("init training status: %w", err)
	}
	st, err = s.fetch(ctx, tenantID)
	if err != nil {
		return Status{}, fmt.Errorf("get training status: %w", err)
	}
	return st, nil
}

func (s *Service) fetch(ctx context.Context, tenantID string) (Status, error) {
	row := s.querier.QueryRow(ctx,
		`SELECT `+statusColumns+` FROM training_status WHERE tenant_id = $1`,
		tenantID,
	)
	return scanStatus(row)
}

func scanStatus(row pgx.Row) (Status, error) {
	var (
		st                    Status
		readyAt, activatedAt  *time.Time
		faq, pattern, company int
		objection, product    int
	)
	err := row.Scan(
		&st.TenantID, &st.Status, &st.StartedAt, &readyAt, &activatedAt,
		&st.MessagesAnalyzed, &st.MinDaysRequired, &st.MinMessagesRequired, &st.ConfidenceScore,
		&faq, &pattern, &company, &objection, &product,
	)
	if err != nil {
		return Status{}, err
	}
	if readyAt != nil {
		st.ReadyAt = *readyAt
	}
	if activatedAt != nil {
		st.ActivatedAt = *activatedAt
	}
	st.CategoryCounts = map[string]int{
		CategoryFAQ:               faq,
		CategoryResponsePattern:   pattern,
		CategoryCompanyInfo:       company,
		CategoryObjectionHandling: objection,
		CategoryProductInfo:       product,
	}
	return st, nil
}

var categoryColumn = map[string]string{
	CategoryFAQ:               "faq_count",
	CategoryResponsePattern:   "response_pattern_count",
	CategoryCompanyInfo:       "company_info_count",
	CategoryObjectionHandling: "objection_handling_count",
	CategoryProductInfo:       "product_info_count",
}

// RecordAnalyzed bumps the analyzed-message counter and the given
// category counter, refreshes the confidence score, then promotes
// learning → ready when both thresholds have been met.
func (s *Service) RecordAnalyzed(ctx context.Context, tenantID, category string) error {
	col, ok := categoryColumn[category]
	if !ok {
		return fmt.Errorf("unknown knowledge category %q", category)
	}
	_, err := s.querier.Exec(ctx, fmt.Sprintf(`
		UPDATE training_status
		SET messages_analyzed = messages_analyzed + 1,
		    %s = %s + 1,
		    updated_at = now()
		WHERE tenant_id = $1`, col, col),
		tenantID,
	)
	if err != nil {
		return fmt.Errorf("record analyzed message: %w", err)
	}

	st, err := s.fetch(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("check training readiness: %w", err)
	}
	if score := st.Confidence(); score != st.ConfidenceScore {
		_, err = s.querier.Exec(ctx, `
			UPDATE training_status SET confidence_score = $2, updated_at = now() WHERE tenant_id = $1`,
			tenantID, score,
		)
		if err != nil {
			return fmt.Errorf("update confidence score: %w", err)
		}
	}
	return s.promoteIfReady(ctx, st)
}

func (s *Service) promoteIfReady(ctx context.Context, st Status) error {
	tenantID := st.TenantID
	if !st.ReadyEligible(s.now()) {
		return nil
	}
	_, err := s.querier.Exec(ctx, `
		UPDATE training_status
		SET status = $2, ready_at = now(), updated_at = now()
		WHERE tenant_id = $1 AND status = $3`,
		tenantID, StatusReady, StatusLearning,
	)
	if err != nil {
		return fmt.Errorf("promote training status: %w", err)
	}
	s.logger.Info("training ready",
		slog.String("tenant_id", tenantID),
		slog.Int("messages_analyzed", st.MessagesAnalyzed),
	)
	return nil
}

// Activate moves a tenant to the active state. Requires ready or
// paused; activation from ready records activated_at.
func (s *Service) Activate(ctx context.Context, tenantID string) error {
	st, err := s.GetStatus(ctx, tenantID)
	if err != nil {
		return err
	}
	if !CanTransition(st.Status, StatusActive) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, st.Status, StatusActive)
	}
	_, err = s.querier.Exec(ctx, `
		UPDATE training_status
		SET status = $2,
		    activated_at = COALESCE(activated_at, now()),
		    updated_at = now()
		WHERE tenant_id = $1`,
		tenantID, StatusActive,
	)
	if err != nil {
		return fmt.Errorf("activate training: %w", err)
	}
	s.logger.Info("training activated", slog.String("tenant_id", tenantID))
	return nil
}

// Pause suspends AI responses for an active tenant.
func (s *Service) Pause(ctx context.Context, tenantID string) error {
	st, err := s.GetStatus(ctx, tenantID)
	if err != nil {
		return err
	}
	if !CanTransition(st.Status, StatusPaused) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, st.Status, StatusPaused)
	}
	_, err = s.querier.Exec(ctx, `
		UPDATE training_status SET status = $2, updated_at = now() WHERE tenant_id = $1`,
		tenantID, StatusPaused,
	)
	if err != nil {
		return fmt.Errorf("pause training: %w", err)
	}
	s.logger.Info("training paused", slog.String("tenant_id", tenantID))
	return nil
}
