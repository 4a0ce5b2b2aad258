package notification_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"ms-registration/internal/database/dbtest"
	"ms-registration/internal/logger"
	"ms-registration/internal/models"
	"ms-registration/internal/notification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDispatchLog(t *testing.T) *notification.DispatchLog {
	db := dbtest.New(t)
	return notification.NewDispatchLog(db, logger.NewWithWriter("test", io.Discard))
}

func TestContextHash(t *testing.T) {
	assert.Equal(t, "", notification.ContextHash(""))
	assert.Len(t, notification.ContextHash("registration:1"), 64)
	assert.Equal(t, notification.ContextHash("a"), notification.ContextHash("a"))
	assert.NotEqual(t, notification.ContextHash("a"), notification.ContextHash("b"))
}

func TestClaimOnlyOnce(t *testing.T) {
	ctx := context.Background()
	log := newDispatchLog(t)

	entry, already, err := log.Claim(ctx, 1, "alice", models.KindRegistrationConfirmation, "registration:7")
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, models.NotificationPending, entry.Status)
	assert.Equal(t, notification.ContextHash("registration:7"), entry.ContextHash)

	// an in-flight claim blocks a second one
	again, already, err := log.Claim(ctx, 1, "alice", models.KindRegistrationConfirmation, "registration:7")
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, entry.ID, again.ID)

	require.NoError(t, log.MarkSent(ctx, entry))
	sent, already, err := log.Claim(ctx, 1, "alice", models.KindRegistrationConfirmation, "registration:7")
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, models.NotificationSent, sent.Status)
	assert.NotNil(t, sent.SentAt)
}

func TestClaimKeyParts(t *testing.T) {
	ctx := context.Background()
	log := newDispatchLog(t)

	_, already, err := log.Claim(ctx, 1, "alice", models.KindEventAnnouncement, "hello")
	require.NoError(t, err)
	require.False(t, already)

	claims := []struct {
		name    string
		eventID int64
		userID  string
		kind    models.NotificationKind
		scope   string
	}{
		{"other event", 2, "alice", models.KindEventAnnouncement, "hello"},
		{"other user", 1, "bob", models.KindEventAnnouncement, "hello"},
		{"other kind", 1, "alice", models.KindRegistrationConfirmation, "hello"},
		{"other context", 1, "alice", models.KindEventAnnouncement, "goodbye"},
		{"no context", 1, "alice", models.KindEventAnnouncement, ""},
	}
	for _, c := range claims {
		t.Run(c.name, func(t *testing.T) {
			_, already, err := log.Claim(ctx, c.eventID, c.userID, c.kind, c.scope)
			require.NoError(t, err)
			assert.False(t, already)
		})
	}
}

func TestClaimResetsFailedRow(t *testing.T) {
	ctx := context.Background()
	log := newDispatchLog(t)

	entry, _, err := log.Claim(ctx, 1, "alice", models.KindEventAnnouncement, "hello")
	require.NoError(t, err)
	require.NoError(t, log.MarkFailed(ctx, entry, errors.New("smtp: connection refused")))

	retry, already, err := log.Claim(ctx, 1, "alice", models.KindEventAnnouncement, "hello")
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, entry.ID, retry.ID)
	assert.Equal(t, models.NotificationPending, retry.Status)
	assert.Empty(t, retry.Error)
	assert.Nil(t, retry.SentAt)

	_, already, err = log.Claim(ctx, 1, "alice", models.KindEventAnnouncement, "hello")
	require.NoError(t, err)
	assert.True(t, already, "the reset row is held by the retry")
}

func TestMarkFailedClearsSentAt(t *testing.T) {
	ctx := context.Background()
	log := newDispatchLog(t)

	entry, _, err := log.Claim(ctx, 1, "alice", models.KindRegistrationConfirmation, "registration:1")
	require.NoError(t, err)
	require.NoError(t, log.MarkSent(ctx, entry))
	require.NotNil(t, entry.SentAt)

	require.NoError(t, log.MarkFailed(ctx, entry, errors.New("bounced")))
	assert.Nil(t, entry.SentAt)
	assert.Equal(t, models.NotificationFailed, entry.Status)

	retry, already, err := log.Claim(ctx, 1, "alice", models.KindRegistrationConfirmation, "registration:1")
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, models.NotificationPending, retry.Status)
	assert.Nil(t, retry.SentAt)
}

func TestClaimConcurrent(t *testing.T) {
	ctx := context.Background()
	log := newDispatchLog(t)

	const claimers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, already, err := log.Claim(ctx, 1, "alice", models.KindRegistrationConfirmation, "registration:1")
			if assert.NoError(t, err) && !already {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
