// Package usage tracks per-tenant monthly message quotas.
package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/replyflow/replyflow/internal/db"
	"github.com/replyflow/replyflow/internal/tenant"
)

// ErrQuotaExceeded is returned when the tenant's monthly allowance is
// spent. It maps to a 403-equivalent rejection, never a silent drop.
var ErrQuotaExceeded = errors.New("monthly message quota exceeded")

// TenantReader provides the tier lookup the meter needs.
type TenantReader interface {
	Get(ctx context.Context, tenantID string) (tenant.Tenant, error)
}

// Meter checks and increments monthly usage counters.
type Meter struct {
	querier db.Querier
	tenants TenantReader
	logger  *slog.Logger
	now     func() time.Time
}

// NewMeter creates a usage meter.
func NewMeter(log *slog.Logger, querier db.Querier, tenants TenantReader) *Meter {
	if log == nil {
		log = slog.Default()
	}
	return &Meter{
		querier: querier,
		tenants: tenants,
		logger:  log.With(slog.String("service", "usage")),
		now:     time.Now,
	}
}

// CheckQuota compares the current calendar-month message count against
// the tenant's tier allowance. Tier lookup failures default to the
// smallest tier; usage read failures fail open.
func (m *Meter) CheckQuota(ctx context.Context, tenantID string) error {
	tier := tenant.TierSmall
	t, err := m.tenants.Get(ctx, tenantID)
	if err != nil {
		m.logger.Warn("tier lookup failed, assuming smallest tier",
			slog.String("tenant_id", tenantID), slog.Any("error", err))
	} else {
		tier = t.Tier
	}
	limit, unlimited := tenant.MonthlyLimit(tier)
	if unlimited {
		return nil
	}

	count, err := m.currentCount(ctx, tenantID)
	if err != nil {
		m.logger.Warn("usage read failed, allowing request",
			slog.String("tenant_id", tenantID),
			slog.Bool("fail_open", true),
			slog.Any("error", err))
		return nil
	}
	if count >= limit {
		return fmt.Errorf("%w: %d of %d messages used this month (tier %s)",
			ErrQuotaExceeded, count, limit, tier)
	}
	return nil
}

// Increment upserts the current-month row, adding one message and the
// approximate token count. Tokens are a character-length estimate used
// for dashboards, not billing.
func (m *Meter) Increment(ctx context.Context, tenantID string, tokens int) error {
	pgTenantID, err := db.ParseUUID(tenantID)
	if err != nil {
		return err
	}
	start, end := monthBounds(m.now().UTC())
	_, err = m.querier.Exec(ctx, `
		INSERT INTO usage_counters (tenant_id, period_start, period_end, message_count, token_count)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (tenant_id, period_start)
		DO UPDATE SET message_count = usage_counters.message_count + 1,
		              token_count = usage_counters.token_count + $4`,
		pgTenantID, start, end, tokens)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

// EstimateTokens approximates token usage from character length.
func EstimateTokens(input, output string) int {
	chars := len(input) + len(output)
	return (chars + 3) / 4
}

func (m *Meter) currentCount(ctx context.Context, tenantID string) (int, error) {
	pgTenantID, err := db.ParseUUID(tenantID)
	if err != nil {
		return 0, err
	}
	start, _ := monthBounds(m.now().UTC())
	var count int
	row := m.querier.QueryRow(ctx, `
		SELECT message_count FROM usage_counters
		WHERE tenant_id = $1 AND period_start = $2`, pgTenantID, start)
	err = row.Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func monthBounds(now time.Time) (pgtype.Date, pgtype.Date) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return pgtype.Date{Time: start, Valid: true}, pgtype.Date{Time: end, Valid: true}
}
