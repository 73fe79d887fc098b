// Package sqlite implements the hub store backed by a SQLite database, for
// deployments that need sessions, magic links, and consent records to
// survive a restart.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"hubgate/internal/store"
)

// Store wraps a SQLite database connection implementing store.Store.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path, runs migrations, and enables
// WAL mode for concurrent reads.
func Open(path string) (*Store, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=foreign_keys(1)&_pragma=synchronous(normal)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS pending_links (
	token      TEXT PRIMARY KEY,
	email      TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	token      TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	email      TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS consents (
	user_id      TEXT PRIMARY KEY,
	consented_at TIMESTAMP NOT NULL,
	revoked      INTEGER NOT NULL DEFAULT 0,
	revoked_at   TIMESTAMP,
	version      TEXT NOT NULL DEFAULT ''
);`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) PutLink(ctx context.Context, link store.PendingLink) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pending_links(token, email, expires_at) VALUES(?, ?, ?)
ON CONFLICT(token) DO UPDATE SET email = excluded.email, expires_at = excluded.expires_at`,
		link.Token, link.Email, link.ExpiresAt.UTC())
	return err
}

// TakeLink consumes a link inside a transaction so a token can be redeemed
// exactly once even under concurrent verification attempts.
func (s *Store) TakeLink(ctx context.Context, token string, now time.Time) (store.PendingLink, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.PendingLink{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var link store.PendingLink
	err = tx.QueryRowContext(ctx, `
SELECT token, email, expires_at FROM pending_links WHERE token = ?`, token).
		Scan(&link.Token, &link.Email, &link.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.PendingLink{}, store.ErrNotFound
	}
	if err != nil {
		return store.PendingLink{}, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM pending_links WHERE token = ?`, token)
	if err != nil {
		return store.PendingLink{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return store.PendingLink{}, err
	}
	if affected == 0 {
		// Another verification won the race.
		return store.PendingLink{}, store.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return store.PendingLink{}, err
	}
	if now.After(link.ExpiresAt) {
		return store.PendingLink{}, store.ErrLinkExpired
	}
	return link, nil
}

func (s *Store) PutSession(ctx context.Context, session store.Session) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions(token, user_id, email, created_at, expires_at) VALUES(?, ?, ?, ?, ?)`,
		session.Token, session.UserID, session.Email,
		session.CreatedAt.UTC(), session.ExpiresAt.UTC())
	return err
}

func (s *Store) GetSession(ctx context.Context, token string, now time.Time) (store.Session, error) {
	var session store.Session
	err := s.db.QueryRowContext(ctx, `
SELECT token, user_id, email, created_at, expires_at FROM sessions WHERE token = ?`, token).
		Scan(&session.Token, &session.UserID, &session.Email, &session.CreatedAt, &session.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Session{}, store.ErrNotFound
	}
	if err != nil {
		return store.Session{}, err
	}
	if now.After(session.ExpiresAt) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ? AND expires_at <= ?`, token, now.UTC())
		return store.Session{}, store.ErrNotFound
	}
	return session, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_links WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, 0, err
	}
	links, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return int(links), 0, err
	}
	sessions, _ := res.RowsAffected()
	return int(links), int(sessions), nil
}

func (s *Store) PutConsent(ctx context.Context, record store.ConsentRecord) error {
	var revokedAt any
	if record.RevokedAt != nil {
		revokedAt = record.RevokedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO consents(user_id, consented_at, revoked, revoked_at, version) VALUES(?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	consented_at = excluded.consented_at,
	revoked = excluded.revoked,
	revoked_at = excluded.revoked_at,
	version = excluded.version`,
		record.UserID, record.ConsentedAt.UTC(), record.Revoked, revokedAt, record.Version)
	return err
}

func (s *Store) GetConsent(ctx context.Context, userID string) (store.ConsentRecord, error) {
	record, err := scanConsent(s.db.QueryRowContext(ctx, `
SELECT user_id, consented_at, revoked, revoked_at, version FROM consents WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return store.ConsentRecord{}, store.ErrNotFound
	}
	return record, err
}

func (s *Store) RevokeConsent(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE consents SET revoked = 1, revoked_at = ? WHERE user_id = ?`, at.UTC(), userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListConsents(ctx context.Context) ([]store.ConsentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, consented_at, revoked, revoked_at, version FROM consents ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ConsentRecord
	for rows.Next() {
		record, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConsent(row scanner) (store.ConsentRecord, error) {
	var record store.ConsentRecord
	var revokedAt sql.NullTime
	err := row.Scan(&record.UserID, &record.ConsentedAt, &record.Revoked, &revokedAt, &record.Version)
	if err != nil {
		return store.ConsentRecord{}, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		record.RevokedAt = &t
	}
	return record, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
