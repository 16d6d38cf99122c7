package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/replyflow/replyflow/internal/tenant"
)

// ErrInvalidCredentials covers both unknown emails and bad passwords
// so login responses cannot be used to probe for accounts.
var ErrInvalidCredentials = errors.New("invalid credentials")

// UserReader resolves dashboard users.
type UserReader interface {
	GetUserByEmail(ctx context.Context, email string) (tenant.User, error)
}

// Login verifies dashboard credentials and mints tokens.
type Login struct {
	users     UserReader
	secret    string
	expiresIn time.Duration
	logger    *slog.Logger
}

func NewLogin(log *slog.Logger, users UserReader, secret string, expiresIn time.Duration) *Login {
	if log == nil {
		log = slog.Default()
	}
	return &Login{
		users:     users,
		secret:    secret,
		expiresIn: expiresIn,
		logger:    log.With(slog.String("service", "auth")),
	}
}

// Session is a successful login result.
type Session struct {
	Token     string
	ExpiresAt time.Time
	UserID    string
	TenantID  string
}

// Authenticate checks the password hash and issues a tenant-scoped token.
func (l *Login) Authenticate(ctx context.Context, email, password string) (Session, error) {
	user, err := l.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	token, expiresAt, err := GenerateToken(user.ID, user.TenantID, l.secret, l.expiresIn)
	if err != nil {
		return Session{}, fmt.Errorf("generate token: %w", err)
	}
	l.logger.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("tenant_id", user.TenantID),
	)
	return Session{
		Token:     token,
		ExpiresAt: expiresAt,
		UserID:    user.ID,
		TenantID:  user.TenantID,
	}, nil
}

// HashPassword produces a bcrypt hash for account provisioning.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
