// Package consent tracks per-user consent state for a hub.
package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hubgate/internal/config"
	"hubgate/internal/store"
	"hubgate/internal/utils"
)

var (
	ErrNotRevocable = errors.New("consent cannot be revoked for this hub")
	ErrNoRecord     = errors.New("no consent record found")
)

// Manager is the consent ledger: who consented, when, and whether they
// later revoked. Records are never deleted, only flipped.
type Manager struct {
	cfg    config.ConsentConfig
	store  store.Store
	logger *utils.Logger
	now    func() time.Time
}

func NewManager(cfg config.ConsentConfig, st store.Store, logger *utils.Logger) *Manager {
	return &Manager{cfg: cfg, store: st, logger: logger, now: time.Now}
}

// HasConsented reports whether userID has active consent. Hubs whose policy
// does not require consent treat every user as consented.
func (m *Manager) HasConsented(ctx context.Context, userID string) (bool, error) {
	if !m.cfg.Required {
		return true, nil
	}
	record, err := m.store.GetConsent(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load consent: %w", err)
	}
	return !record.Revoked, nil
}

// RecordConsent upserts a fresh consent record. Re-consent after revocation
// clears the revoked flag and refreshes the timestamp.
func (m *Manager) RecordConsent(ctx context.Context, userID string) (store.ConsentRecord, error) {
	record := store.ConsentRecord{
		UserID:      userID,
		ConsentedAt: m.now(),
		Revoked:     false,
		Version:     m.cfg.Version,
	}
	if err := m.store.PutConsent(ctx, record); err != nil {
		return store.ConsentRecord{}, fmt.Errorf("store consent: %w", err)
	}
	m.logger.Infof("consent recorded for user %s", userID)
	return record, nil
}

// RevokeConsent flips a user's record to revoked.
func (m *Manager) RevokeConsent(ctx context.Context, userID string) error {
	if !m.cfg.Revocable {
		return ErrNotRevocable
	}
	err := m.store.RevokeConsent(ctx, userID, m.now())
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoRecord
	}
	if err != nil {
		return fmt.Errorf("revoke consent: %w", err)
	}
	m.logger.Infof("consent revoked for user %s", userID)
	return nil
}

// GetConsentInfo returns the user's record, or nil if they never consented.
func (m *Manager) GetConsentInfo(ctx context.Context, userID string) (*store.ConsentRecord, error) {
	record, err := m.store.GetConsent(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load consent: %w", err)
	}
	return &record, nil
}

// AllConsentedUsers returns the ids of users with active consent.
func (m *Manager) AllConsentedUsers(ctx context.Context) (map[string]bool, error) {
	records, err := m.store.ListConsents(ctx)
	if err != nil {
		return nil, err
	}
	users := make(map[string]bool)
	for _, record := range records {
		if !record.Revoked {
			users[record.UserID] = true
		}
	}
	return users, nil
}

// ExportRecords returns every consent record, revoked ones included, for
// compliance reporting.
func (m *Manager) ExportRecords(ctx context.Context) ([]store.ConsentRecord, error) {
	return m.store.ListConsents(ctx)
}

// FormContent is the disclosure shown before a user consents.
type FormContent struct {
	Title                 string   `json:"title"`
	Text                  string   `json:"text"`
	DataUsage             []string `json:"data_usage"`
	DataSharedWith        []string `json:"data_shared_with"`
	OptionalParticipation bool     `json:"optional_participation"`
	Revocable             bool     `json:"revocable"`
}

func (m *Manager) FormContent() FormContent {
	return FormContent{
		Title:                 m.cfg.Title,
		Text:                  m.cfg.Text,
		DataUsage:             m.cfg.DataUsage,
		DataSharedWith:        m.cfg.DataSharedWith,
		OptionalParticipation: m.cfg.OptionalParticipation,
		Revocable:             m.cfg.Revocable,
	}
}
