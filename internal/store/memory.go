package store

import (
	"context"
	"sync"
	"time"
)

// Memory is the reference Store: mutex-guarded maps scoped to the process
// lifetime. Nothing survives a restart.
type Memory struct {
	mu       sync.Mutex
	links    map[string]PendingLink
	sessions map[string]Session
	consents map[string]ConsentRecord
}

func NewMemory() *Memory {
	return &Memory{
		links:    make(map[string]PendingLink),
		sessions: make(map[string]Session),
		consents: make(map[string]ConsentRecord),
	}
}

func (m *Memory) PutLink(_ context.Context, link PendingLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[link.Token] = link
	return nil
}

func (m *Memory) TakeLink(_ context.Context, token string, now time.Time) (PendingLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[token]
	if !ok {
		return PendingLink{}, ErrNotFound
	}
	delete(m.links, token)
	if now.After(link.ExpiresAt) {
		return PendingLink{}, ErrLinkExpired
	}
	return link, nil
}

func (m *Memory) PutSession(_ context.Context, session Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.Token] = session
	return nil
}

func (m *Memory) GetSession(_ context.Context, token string, now time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[token]
	if !ok {
		return Session{}, ErrNotFound
	}
	if now.After(session.ExpiresAt) {
		delete(m.sessions, token)
		return Session{}, ErrNotFound
	}
	return session, nil
}

func (m *Memory) DeleteSession(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[token]; !ok {
		return false, nil
	}
	delete(m.sessions, token)
	return true, nil
}

func (m *Memory) DeleteExpired(_ context.Context, now time.Time) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	links := 0
	for token, link := range m.links {
		if now.After(link.ExpiresAt) {
			delete(m.links, token)
			links++
		}
	}
	sessions := 0
	for token, session := range m.sessions {
		if now.After(session.ExpiresAt) {
			delete(m.sessions, token)
			sessions++
		}
	}
	return links, sessions, nil
}

func (m *Memory) PutConsent(_ context.Context, record ConsentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consents[record.UserID] = record
	return nil
}

func (m *Memory) GetConsent(_ context.Context, userID string) (ConsentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.consents[userID]
	if !ok {
		return ConsentRecord{}, ErrNotFound
	}
	return record, nil
}

func (m *Memory) RevokeConsent(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.consents[userID]
	if !ok {
		return ErrNotFound
	}
	record.Revoked = true
	record.RevokedAt = &at
	m.consents[userID] = record
	return nil
}

func (m *Memory) ListConsents(_ context.Context) ([]ConsentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ConsentRecord, 0, len(m.consents))
	for _, record := range m.consents {
		out = append(out, record)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
