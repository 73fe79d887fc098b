// Package identity implements magic-link login and session management.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"hubgate/internal/config"
	"hubgate/internal/store"
	"hubgate/internal/utils"
)

const (
	// LinkTTL is the redemption window of a magic link.
	LinkTTL = 15 * time.Minute

	tokenEntropyBytes = 32
)

var (
	ErrInvalidDomain        = errors.New("email domain not allowed")
	ErrInvalidOrExpiredLink = errors.New("invalid or expired link")
	ErrLinkExpired          = errors.New("link has expired")
)

// User is the identity attached to a validated session.
type User struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires"`
}

// LoginResult is returned by a successful magic-link verification.
type LoginResult struct {
	SessionToken string    `json:"session_token"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	ExpiresAt    time.Time `json:"expires"`
}

// Manager issues magic links and exchanges them for sessions. All state
// lives in the injected store; the manager itself is stateless and safe for
// concurrent use.
type Manager struct {
	cfg    config.AuthConfig
	store  store.Store
	logger *utils.Logger
	now    func() time.Time
}

func NewManager(cfg config.AuthConfig, st store.Store, logger *utils.Logger) *Manager {
	return &Manager{cfg: cfg, store: st, logger: logger, now: time.Now}
}

// SendMagicLink mints a one-time login token for email. Delivering the
// token is the caller's concern; it is returned directly for trusted
// callers.
func (m *Manager) SendMagicLink(ctx context.Context, email string) (string, error) {
	if !m.cfg.ValidateEmail(email) {
		return "", fmt.Errorf("%w: email must be from %s", ErrInvalidDomain, m.cfg.EmailDomain)
	}
	token := utils.NewToken(tokenEntropyBytes)
	link := store.PendingLink{
		Token:     token,
		Email:     email,
		ExpiresAt: m.now().Add(LinkTTL),
	}
	if err := m.store.PutLink(ctx, link); err != nil {
		return "", fmt.Errorf("store magic link: %w", err)
	}
	m.logger.Infof("magic link generated for %s", email)
	return token, nil
}

// VerifyMagicLink consumes a login token and opens a session. The token is
// single use: a second verification of the same token fails.
func (m *Manager) VerifyMagicLink(ctx context.Context, token string) (LoginResult, error) {
	link, err := m.store.TakeLink(ctx, token, m.now())
	if errors.Is(err, store.ErrNotFound) {
		return LoginResult{}, ErrInvalidOrExpiredLink
	}
	if errors.Is(err, store.ErrLinkExpired) {
		return LoginResult{}, ErrLinkExpired
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("consume magic link: %w", err)
	}

	userID := UserIDFromEmail(link.Email, m.cfg.EmailDomain)
	sessionToken := utils.NewToken(tokenEntropyBytes)
	now := m.now()
	session := store.Session{
		Token:     sessionToken,
		UserID:    userID,
		Email:     link.Email,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(m.cfg.SessionDurationHours) * time.Hour),
	}
	if err := m.store.PutSession(ctx, session); err != nil {
		return LoginResult{}, fmt.Errorf("store session: %w", err)
	}
	m.logger.Infof("session created for %s", link.Email)
	return LoginResult{
		SessionToken: sessionToken,
		UserID:       userID,
		Email:        link.Email,
		ExpiresAt:    session.ExpiresAt,
	}, nil
}

// ValidateSession resolves a session token. Unknown and expired tokens both
// return nil; an expired session is reaped by the lookup.
func (m *Manager) ValidateSession(ctx context.Context, token string) (*User, error) {
	session, err := m.store.GetSession(ctx, token, m.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &User{UserID: session.UserID, Email: session.Email, ExpiresAt: session.ExpiresAt}, nil
}

// InvalidateSession logs a session out. Idempotent.
func (m *Manager) InvalidateSession(ctx context.Context, token string) (bool, error) {
	return m.store.DeleteSession(ctx, token)
}

// CleanupExpired sweeps expired links and sessions. Safe to run alongside
// concurrent lookups.
func (m *Manager) CleanupExpired(ctx context.Context) error {
	links, sessions, err := m.store.DeleteExpired(ctx, m.now())
	if err != nil {
		return err
	}
	if links > 0 || sessions > 0 {
		m.logger.Infof("cleaned up %d links, %d sessions", links, sessions)
	}
	return nil
}

// UserIDFromEmail derives the stable user id for an authenticated email.
// Domain-matching addresses use the local part directly; anything else gets
// a fixed-length hash of the full address. The mapping is pure so identical
// emails resolve identically across processes.
func UserIDFromEmail(email, domain string) string {
	if domain != "" && strings.HasSuffix(email, "@"+domain) {
		return strings.SplitN(email, "@", 2)[0]
	}
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])[:12]
}
