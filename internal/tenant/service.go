// Package tenant loads tenant records, channel connections, and the
// typed per-tenant automation settings.
package tenant

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

// ErrNotFound is returned when a tenant-scoped record does not exist.
var ErrNotFound = errors.New("not found")

// Service reads tenant state from Postgres.
type Service struct {
	querier db.Querier
	logger  *slog.Logger
}

// NewService creates a tenant service.
func NewService(log *slog.Logger, querier db.Querier) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		querier: querier,
		logger:  log.With(slog.String("service", "tenant")),
	}
}

// Get loads a tenant by id.
func (s *Service) Get(ctx context.Context, tenantID string) (Tenant, error) {
	pgID, err := db.ParseUUID(tenantID)
	if err != nil {
		return Tenant{}, err
	}
	var t Tenant
	var id pgtype.UUID
	var createdAt pgtype.Timestamptz
	row := s.querier.QueryRow(ctx,
		`SELECT id, name, tier, created_at FROM tenants WHERE id = $1`, pgID)
	if err := row.Scan(&id, &t.Name, &t.Tier, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, fmt.Errorf("load tenant: %w", err)
	}
	t.ID = id.String()
	t.CreatedAt = createdAt.Time
	return t, nil
}

// GetSettings loads the tenant's AI settings, applying defaults for a
// missing row and for empty fields.
func (s *Service) GetSettings(ctx context.Context, tenantID string) (AISettings, error) {
	pgID, err := db.ParseUUID(tenantID)
	if err != nil {
		return AISettings{}, err
	}
	settings := defaultSettings(tenantID)
	var connectionID pgtype.UUID
	row := s.querier.QueryRow(ctx, `
		SELECT is_enabled, persona_name, custom_instructions, blocked_topics,
		       transfer_keyword, timezone, active_hours_start, active_hours_end,
		       max_history_messages, connection_id
		FROM ai_settings WHERE tenant_id = $1`, pgID)
	err = row.Scan(
		&settings.IsEnabled,
		&settings.PersonaName,
		&settings.CustomInstructions,
		&settings.BlockedTopics,
		&settings.TransferKeyword,
		&settings.Timezone,
		&settings.ActiveHoursStart,
		&settings.ActiveHoursEnd,
		&settings.MaxHistoryMessages,
		&connectionID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return settings, nil
		}
		return AISettings{}, fmt.Errorf("load ai settings: %w", err)
	}
	if connectionID.Valid {
		settings.ConnectionID = connectionID.String()
	}
	normalizeSettings(&settings)
	return settings, nil
}

// GetConnectionByExternalID resolves a provider connection, e.g. a Cloud
// API phone number id or an Evolution instance name.
func (s *Service) GetConnectionByExternalID(ctx context.Context, provider, externalID string) (Connection, error) {
	row := s.querier.QueryRow(ctx, `
		SELECT id, tenant_id, provider, external_id,
		       COALESCE(verify_token, ''), COALESCE(access_token, ''),
		       status, last_checked_at
		FROM channel_connections WHERE provider = $1 AND external_id = $2`,
		provider, strings.TrimSpace(externalID))
	return scanConnection(row)
}

// GetConnection loads a connection by id.
func (s *Service) GetConnection(ctx context.Context, connectionID string) (Connection, error) {
	pgID, err := db.ParseUUID(connectionID)
	if err != nil {
		return Connection{}, err
	}
	row := s.querier.QueryRow(ctx, `
		SELECT id, tenant_id, provider, external_id,
		       COALESCE(verify_token, ''), COALESCE(access_token, ''),
		       status, last_checked_at
		FROM channel_connections WHERE id = $1`, pgID)
	return scanConnection(row)
}

// ListConnections returns every channel connection; used by the
// periodic health sweep, which iterates them sequentially.
func (s *Service) ListConnections(ctx context.Context) ([]Connection, error) {
	rows, err := s.querier.Query(ctx, `
		SELECT id, tenant_id, provider, external_id,
		       COALESCE(verify_token, ''), COALESCE(access_token, ''),
		       status, last_checked_at
		FROM channel_connections ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()
	var conns []Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// UpdateConnectionStatus records the result of a health probe.
func (s *Service) UpdateConnectionStatus(ctx context.Context, connectionID, status string) error {
	pgID, err := db.ParseUUID(connectionID)
	if err != nil {
		return err
	}
	_, err = s.querier.Exec(ctx, `
		UPDATE channel_connections SET status = $2, last_checked_at = now()
		WHERE id = $1`, pgID, status)
	if err != nil {
		return fmt.Errorf("update connection status: %w", err)
	}
	return nil
}

// HasVerifyToken reports whether any connection of the provider was
// provisioned with the given webhook verification token.
func (s *Service) HasVerifyToken(ctx context.Context, provider, token string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}
	var exists bool
	row := s.querier.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM channel_connections
			WHERE provider = $1 AND verify_token = $2
		)`, provider, token)
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("check verify token: %w", err)
	}
	return exists, nil
}

// GetUserByEmail loads a dashboard user for login.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	var id, tenantID pgtype.UUID
	row := s.querier.QueryRow(ctx, `
		SELECT id, tenant_id, email, password_hash
		FROM tenant_users WHERE lower(email) = lower($1)`, strings.TrimSpace(email))
	if err := row.Scan(&id, &tenantID, &u.Email, &u.PasswordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("load user: %w", err)
	}
	u.ID = id.String()
	u.TenantID = tenantID.String()
	return u, nil
}

func scanConnection(row pgx.Row) (Connection, error) {
	var c Connection
	var id, tenantID pgtype.UUID
	var lastChecked pgtype.Timestamptz
	err := row.Scan(&id, &tenantID, &c.Provider, &c.ExternalID,
		&c.VerifyToken, &c.AccessToken, &c.Status, &lastChecked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Connection{}, ErrNotFound
		}
		return Connection{}, fmt.Errorf("load connection: %w", err)
	}
	c.ID = id.String()
	c.TenantID = tenantID.String()
	c.LastCheckedAt = lastChecked.Time
	return c, nil
}

func defaultSettings(tenantID string) AISettings {
	return AISettings{
		TenantID:           tenantID,
		IsEnabled:          false,
		PersonaName:        DefaultPersonaName,
		Timezone:           DefaultTimezone,
		ActiveHoursStart:   0,
		ActiveHoursEnd:     24,
		MaxHistoryMessages: DefaultMaxHistory,
	}
}

func normalizeSettings(s *AISettings) {
	if strings.TrimSpace(s.PersonaName) == "" {
		s.PersonaName = DefaultPersonaName
	}
	if strings.TrimSpace(s.Timezone) == "" {
		s.Timezone = DefaultTimezone
	}
	if s.MaxHistoryMessages <= 0 {
		s.MaxHistoryMessages = DefaultMaxHistory
	}
	if s.ActiveHoursStart < 0 || s.ActiveHoursStart > 24 {
		s.ActiveHoursStart = 0
	}
	if s.ActiveHoursEnd < 0 || s.ActiveHoursEnd > 24 {
		s.ActiveHoursEnd = 24
	}
}
