package reminder

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcourier/internal/database"
	"chatcourier/internal/models"
)

func testDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(context.Background(), models.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "reminder.db"),
		PoolSize:    5,
		PoolPrewarm: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type countingWaker struct{ wakes int }

func (w *countingWaker) Wake() { w.wakes++ }

func TestCreate(t *testing.T) {
	svc := NewService(testDB(t), nil, quietLogger())
	ctx := context.Background()

	r, err := svc.Create(ctx, "owner-1", "call the dentist", "2026-09-01 10:30", "EST")
	require.NoError(t, err)
	assert.Greater(t, r.ID, int64(0))
	// Abbreviations are normalized at creation.
	assert.Equal(t, "America/New_York", r.TimezoneID)
}

func TestCreate_Validation(t *testing.T) {
	svc := NewService(testDB(t), nil, quietLogger())
	ctx := context.Background()

	_, err := svc.Create(ctx, "owner-1", "  ", "2026-09-01 10:30", "UTC")
	assert.Error(t, err, "empty text")

	_, err = svc.Create(ctx, "owner-1", "text", "tomorrow at noon", "UTC")
	assert.Error(t, err, "bad time format")

	_, err = svc.Create(ctx, "owner-1", "text", "2026-09-01 10:30", "Mars/Olympus")
	assert.Error(t, err, "bad timezone")
}

func TestCreate_DefaultsToUTCWithoutStoredZone(t *testing.T) {
	svc := NewService(testDB(t), nil, quietLogger())
	ctx := context.Background()

	r, err := svc.Create(ctx, "owner-1", "text", "2026-09-01 10:30", "")
	require.NoError(t, err)
	assert.Equal(t, "UTC", r.TimezoneID)
}

func TestCreate_WakesScheduler(t *testing.T) {
	db := testDB(t)
	waker := &countingWaker{}
	svc := NewService(db, waker, quietLogger())
	ctx := context.Background()

	_, err := svc.Create(ctx, "owner-1", "now", "2020-01-01 00:00", "UTC")
	require.NoError(t, err)
	assert.Equal(t, 1, waker.wakes)

	// Validation failures never wake; nothing was stored.
	_, err = svc.Create(ctx, "owner-1", " ", "2020-01-01 00:00", "UTC")
	require.Error(t, err)
	assert.Equal(t, 1, waker.wakes)
}

func TestCreate_FallsBackToOwnerTimezone(t *testing.T) {
	db := testDB(t)
	svc := NewService(db, nil, quietLogger())
	ctx := context.Background()

	_, err := svc.SetOwnerTimezone(ctx, "owner-1", "PST")
	require.NoError(t, err)

	r, err := svc.Create(ctx, "owner-1", "standup", "2026-09-01 09:00", "")
	require.NoError(t, err)
	assert.Equal(t, "America/Los_Angeles", r.TimezoneID)
}

func TestListPendingAndCancel(t *testing.T) {
	svc := NewService(testDB(t), nil, quietLogger())
	ctx := context.Background()

	r1, err := svc.Create(ctx, "owner-1", "first", "2026-09-01 08:00", "UTC")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "owner-1", "second", "2026-09-02 08:00", "UTC")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "owner-2", "other", "2026-09-01 08:00", "UTC")
	require.NoError(t, err)

	pending, err := svc.ListPending(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, svc.Cancel(ctx, r1.ID))

	pending, err = svc.ListPending(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "second", pending[0].Text)
}

func TestCancelAll(t *testing.T) {
	svc := NewService(testDB(t), nil, quietLogger())
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c"} {
		_, err := svc.Create(ctx, "owner-1", text, "2026-09-01 08:00", "UTC")
		require.NoError(t, err)
	}

	affected, err := svc.CancelAll(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)

	pending, err := svc.ListPending(ctx, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}
