// Package store holds the hub's mutable records: login sessions, pending
// magic links, and consent records. The reference backend is in-memory;
// the sqlite subpackage provides a durable one behind the same interface.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for unknown keys and for expired records
	// reaped on lookup.
	ErrNotFound = errors.New("record not found")
	// ErrLinkExpired is returned by TakeLink when the token existed but its
	// window has passed. The record is deleted as part of the call.
	ErrLinkExpired = errors.New("link expired")
)

type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type PendingLink struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ConsentRecord struct {
	UserID      string     `json:"user_id"`
	ConsentedAt time.Time  `json:"consented_at"`
	Revoked     bool       `json:"revoked"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	Version     string     `json:"consent_version"`
}

// Store is the persistence boundary for the three mutable record types.
// Implementations must make every read-modify-write atomic per key: a link
// token is consumable exactly once, and an expiry check that deletes must
// not race a concurrent lookup into a lost update.
type Store interface {
	PutLink(ctx context.Context, link PendingLink) error
	// TakeLink consumes a pending link. A found-but-expired link is deleted
	// and reported as ErrLinkExpired; an unknown token is ErrNotFound.
	TakeLink(ctx context.Context, token string, now time.Time) (PendingLink, error)

	PutSession(ctx context.Context, session Session) error
	// GetSession returns the live session for token. An expired session is
	// reaped during the lookup and reported as ErrNotFound.
	GetSession(ctx context.Context, token string, now time.Time) (Session, error)
	DeleteSession(ctx context.Context, token string) (bool, error)

	// DeleteExpired sweeps links and sessions past their expiry.
	DeleteExpired(ctx context.Context, now time.Time) (links, sessions int, err error)

	PutConsent(ctx context.Context, record ConsentRecord) error
	GetConsent(ctx context.Context, userID string) (ConsentRecord, error)
	// RevokeConsent flips an existing record to revoked. ErrNotFound when the
	// user never consented.
	RevokeConsent(ctx context.Context, userID string, at time.Time) error
	ListConsents(ctx context.Context) ([]ConsentRecord, error)

	Close() error
}
