package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTakeLinkHasExactlyOneWinner(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, m.PutLink(ctx, PendingLink{Token: "tok", Email: "bob@example.org", ExpiresAt: now.Add(time.Minute)}))

	const attempts = 32
	var wg sync.WaitGroup
	wins := make(chan PendingLink, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if link, err := m.TakeLink(ctx, "tok", now); err == nil {
				wins <- link
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []PendingLink
	for link := range wins {
		winners = append(winners, link)
	}
	require.Len(t, winners, 1)
	assert.Equal(t, "bob@example.org", winners[0].Email)
}

func TestTakeLinkDeletesExpired(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, m.PutLink(ctx, PendingLink{Token: "tok", Email: "a@e", ExpiresAt: now.Add(-time.Second)}))

	_, err := m.TakeLink(ctx, "tok", now)
	assert.ErrorIs(t, err, ErrLinkExpired)
	_, err = m.TakeLink(ctx, "tok", now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteExpiredCounts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, m.PutLink(ctx, PendingLink{Token: "l1", Email: "a@e", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, m.PutSession(ctx, Session{Token: "s1", UserID: "a", Email: "a@e", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, m.PutSession(ctx, Session{Token: "s2", UserID: "b", Email: "b@e", ExpiresAt: now.Add(time.Minute)}))

	links, sessions, err := m.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, links)
	assert.Equal(t, 1, sessions)

	_, err = m.GetSession(ctx, "s2", now)
	assert.NoError(t, err)
}
