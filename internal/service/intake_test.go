package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcourier/internal/database"
	"chatcourier/internal/models"
	"chatcourier/internal/queue"
	"chatcourier/internal/ratelimit"
)

type countingWaker struct{ wakes int }

func (w *countingWaker) Wake() { w.wakes++ }

func setupIntake(t *testing.T, limits ratelimit.Limits) (*IntakeService, *database.Database, *countingWaker) {
	t.Helper()
	db, err := database.New(context.Background(), models.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "intake.db"),
		PoolSize:    5,
		PoolPrewarm: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	waker := &countingWaker{}
	intake := NewIntakeService(
		queue.NewService(db, models.QueueConfig{}, logger),
		ratelimit.New(db, limits, logger),
		db,
		waker,
		logger,
	)
	return intake, db, waker
}

func TestHandleEvent_Accepted(t *testing.T) {
	intake, db, waker := setupIntake(t, ratelimit.Limits{})
	ctx := context.Background()

	outcome, id, err := intake.HandleEvent(ctx, &models.InboundEvent{
		EventID: "ev-1",
		Sender:  "owner-1",
		Kind:    models.EventKindText,
		Content: "hello there",
	})
	require.NoError(t, err)
	assert.Equal(t, models.IntakeAccepted, outcome)
	assert.Equal(t, 1, waker.wakes)

	item, err := db.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hello there", item.Payload)
	assert.Equal(t, models.MessageStatusPending, item.Status)
}

func TestHandleEvent_DuplicateEventID(t *testing.T) {
	intake, _, waker := setupIntake(t, ratelimit.Limits{})
	ctx := context.Background()

	event := &models.InboundEvent{EventID: "ev-1", Sender: "owner-1", Content: "hello"}
	outcome, _, err := intake.HandleEvent(ctx, event)
	require.NoError(t, err)
	require.Equal(t, models.IntakeAccepted, outcome)

	// The upstream redelivers the same event id.
	outcome, _, err = intake.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, models.IntakeDuplicate, outcome)
	assert.Equal(t, 1, waker.wakes)
}

func TestHandleEvent_ContentHashDuplicate(t *testing.T) {
	intake, _, _ := setupIntake(t, ratelimit.Limits{})
	ctx := context.Background()

	// Different event ids would pass the event dedup; exercise the
	// content-hash layer directly via distinct inbound events carrying
	// identical content and id after the window.
	outcome, _, err := intake.HandleEvent(ctx, &models.InboundEvent{EventID: "ev-a", Sender: "owner-1", Content: "same"})
	require.NoError(t, err)
	require.Equal(t, models.IntakeAccepted, outcome)

	outcome, _, err = intake.HandleEvent(ctx, &models.InboundEvent{EventID: "ev-b", Sender: "owner-1", Content: "same"})
	require.NoError(t, err)
	assert.Equal(t, models.IntakeAccepted, outcome, "different event id means different content hash")
}

func TestHandleEvent_RateLimited(t *testing.T) {
	intake, _, _ := setupIntake(t, ratelimit.Limits{
		BurstLimit:     2,
		BurstWindow:    time.Minute,
		RapidFireCount: 100,
		SustainedCount: 100,
	})
	ctx := context.Background()

	for i, ev := range []string{"ev-1", "ev-2"} {
		outcome, _, err := intake.HandleEvent(ctx, &models.InboundEvent{EventID: ev, Sender: "owner-1", Content: ev})
		require.NoError(t, err)
		require.Equal(t, models.IntakeAccepted, outcome, i)
	}

	outcome, _, err := intake.HandleEvent(ctx, &models.InboundEvent{EventID: "ev-3", Sender: "owner-1", Content: "ev-3"})
	require.NoError(t, err)
	assert.Equal(t, models.IntakeRateLimited, outcome)
}

func TestHandleEvent_ReplayedEventAccruesRateMarks(t *testing.T) {
	intake, _, _ := setupIntake(t, ratelimit.Limits{
		BurstLimit:     2,
		BurstWindow:    time.Minute,
		RapidFireCount: 100,
		SustainedCount: 100,
	})
	ctx := context.Background()

	// Rate limiting runs before dedup, so endlessly replaying one event id
	// still counts against the sender and eventually blocks them.
	event := &models.InboundEvent{EventID: "ev-replay", Sender: "owner-1", Content: "hello"}

	outcome, _, err := intake.HandleEvent(ctx, event)
	require.NoError(t, err)
	require.Equal(t, models.IntakeAccepted, outcome)

	outcome, _, err = intake.HandleEvent(ctx, event)
	require.NoError(t, err)
	require.Equal(t, models.IntakeDuplicate, outcome)

	outcome, _, err = intake.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, models.IntakeRateLimited, outcome)
}

func TestHandleEvent_Unauthorized(t *testing.T) {
	intake, db, _ := setupIntake(t, ratelimit.Limits{})
	ctx := context.Background()

	require.NoError(t, db.AddAuthorizedSender(ctx, "owner-1", "Alice", "admin"))

	outcome, _, err := intake.HandleEvent(ctx, &models.InboundEvent{EventID: "ev-1", Sender: "stranger", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, models.IntakeUnauthorized, outcome)

	outcome, _, err = intake.HandleEvent(ctx, &models.InboundEvent{EventID: "ev-2", Sender: "owner-1", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, models.IntakeAccepted, outcome)
}

func TestHandleEvent_Validation(t *testing.T) {
	intake, _, _ := setupIntake(t, ratelimit.Limits{})
	ctx := context.Background()

	_, _, err := intake.HandleEvent(ctx, nil)
	assert.Error(t, err)

	_, _, err = intake.HandleEvent(ctx, &models.InboundEvent{Sender: "owner-1", Content: "x"})
	assert.Error(t, err, "missing event id")

	_, _, err = intake.HandleEvent(ctx, &models.InboundEvent{EventID: "ev-1", Content: "x"})
	assert.Error(t, err, "missing sender")

	_, _, err = intake.HandleEvent(ctx, &models.InboundEvent{EventID: "ev-1", Sender: "owner-1", Kind: models.EventKindUnsupported})
	assert.Error(t, err, "unsupported kind")
}
