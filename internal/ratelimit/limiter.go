// Package ratelimit implements a fixed-window, per-tenant, per-operation
// request throttle backed by a persisted counter row.
//
// The limiter fails open: a storage error during a check is logged and
// treated as allowed, because channel availability takes priority over
// strict throttling. The read-then-write is deliberately not wrapped in
// a serializable transaction; two near-simultaneous checks can both read
// a stale count and both increment. That brief over-admission is an
// accepted soft-limit tradeoff, not a bug to fix with locking.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/replyflow/replyflow/internal/db"
)

// Result is the outcome of one rate-limit check.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter checks fixed-window counters.
type Limiter struct {
	querier db.Querier
	logger  *slog.Logger
	now     func() time.Time
}

// NewLimiter creates a limiter.
func NewLimiter(log *slog.Logger, querier db.Querier) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{
		querier: querier,
		logger:  log.With(slog.String("service", "ratelimit")),
		now:     time.Now,
	}
}

// Check admits or rejects one request against the (tenant, operation)
// window of maxRequests per window duration.
func (l *Limiter) Check(ctx context.Context, tenantID, operation string, maxRequests int, window time.Duration) Result {
	res, err := l.check(ctx, tenantID, operation, maxRequests, window)
	if err != nil {
		// Fail open: availability over strictness. Operators alert on
		// the fail_open attribute; see DESIGN notes.
		l.logger.Warn("rate limit check failed, allowing request",
			slog.String("tenant_id", tenantID),
			slog.String("operation", operation),
			slog.Bool("fail_open", true),
			slog.Any("error", err))
		return Result{Allowed: true, Remaining: maxRequests}
	}
	return res
}

func (l *Limiter) check(ctx context.Context, tenantID, operation string, maxRequests int, window time.Duration) (Result, error) {
	pgTenantID, err := db.ParseUUID(tenantID)
	if err != nil {
		return Result{}, err
	}
	now := l.now().UTC()

	var count int
	var resetAt pgtype.Timestamptz
	row := l.querier.QueryRow(ctx, `
		SELECT request_count, reset_at FROM rate_limit_counters
		WHERE tenant_id = $1 AND operation = $2`, pgTenantID, operation)
	err = row.Scan(&count, &resetAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return l.startWindow(ctx, pgTenantID, operation, maxRequests, now, window)
	case err != nil:
		return Result{}, fmt.Errorf("read rate limit counter: %w", err)
	}

	if now.After(resetAt.Time) {
		// Window expired; start fresh rather than keep accumulating.
		return l.resetWindow(ctx, pgTenantID, operation, maxRequests, now, window)
	}

	if count >= maxRequests {
		retryAfter := resetAt.Time.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt.Time, RetryAfter: retryAfter}, nil
	}

	_, err = l.querier.Exec(ctx, `
		UPDATE rate_limit_counters SET request_count = request_count + 1
		WHERE tenant_id = $1 AND operation = $2`, pgTenantID, operation)
	if err != nil {
		return Result{}, fmt.Errorf("increment rate limit counter: %w", err)
	}
	return Result{Allowed: true, Remaining: maxRequests - count - 1, ResetAt: resetAt.Time}, nil
}

func (l *Limiter) startWindow(ctx context.Context, tenantID pgtype.UUID, operation string, maxRequests int, now time.Time, window time.Duration) (Result, error) {
	resetAt := now.Add(window)
	_, err := l.querier.Exec(ctx, `
		INSERT INTO rate_limit_counters (tenant_id, operation, window_start, reset_at, request_count)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (tenant_id, operation)
		DO UPDATE SET window_start = $3, reset_at = $4, request_count = 1`,
		tenantID, operation, db.ToTimestamptz(now), db.ToTimestamptz(resetAt))
	if err != nil {
		return Result{}, fmt.Errorf("start rate limit window: %w", err)
	}
	return Result{Allowed: true, Remaining: maxRequests - 1, ResetAt: resetAt}, nil
}

func (l *Limiter) resetWindow(ctx context.Context, tenantID pgtype.UUID, operation string, maxRequests int, now time.Time, window time.Duration) (Result, error) {
	resetAt := now.Add(window)
	_, err := l.querier.Exec(ctx, `
		UPDATE rate_limit_counters
		SET window_start = $3, reset_at = $4, request_count = 1
		WHERE tenant_id = $1 AND operation = $2`,
		tenantID, operation, db.ToTimestamptz(now), db.ToTimestamptz(resetAt))
	if err != nil {
		return Result{}, fmt.Errorf("reset rate limit window: %w", err)
	}
	return Result{Allowed: true, Remaining: maxRequests - 1, ResetAt: resetAt}, nil
}
