package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcourier/internal/database"
	"chatcourier/internal/models"
	"chatcourier/internal/processlock"
)

type fakeResponder struct {
	reply string
	err   error
	calls int
}

func (f *fakeResponder) Respond(ctx context.Context, ownerID, payload string, history []models.ConversationTurn) (*models.ResponderResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &models.ResponderResult{Status: "success", Text: f.reply}, nil
}

type fakeNotifier struct {
	result *models.SendResult
	err    error
	sent   []string
}

func (f *fakeNotifier) Send(ctx context.Context, ownerID, text string) (*models.SendResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, text)
	if f.result != nil {
		return f.result, nil
	}
	return &models.SendResult{Success: true}, nil
}

func testProcessor(t *testing.T, db *database.Database, responder Responder, notifier Notifier) *Processor {
	t.Helper()
	lock, err := processlock.New(filepath.Join(t.TempDir(), "proc.lock"), quietLogger())
	require.NoError(t, err)
	return NewProcessor(db, responder, notifier, lock, ProcessorConfig{}, quietLogger())
}

func TestRetryDelay_Schedule(t *testing.T) {
	assert.Equal(t, 30*time.Second, RetryDelay(0))
	assert.Equal(t, 60*time.Second, RetryDelay(1))
	assert.Equal(t, 300*time.Second, RetryDelay(2))
	assert.Equal(t, 900*time.Second, RetryDelay(3))
	// Later attempts stay at the ceiling.
	assert.Equal(t, 900*time.Second, RetryDelay(4))
	assert.Equal(t, 900*time.Second, RetryDelay(10))
}

func TestProcessBatch_Delivers(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.EnqueueItem(ctx, "owner-1", "how are you", "hash-p1", nil)
	require.NoError(t, err)

	responder := &fakeResponder{reply: "fine, thanks"}
	notifier := &fakeNotifier{}
	p := testProcessor(t, db, responder, notifier)

	processed, err := p.processBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, []string{"fine, thanks"}, notifier.sent)

	item, err := db.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusCompleted, item.Status)
	require.NotNil(t, item.Reply)
	assert.Equal(t, "fine, thanks", *item.Reply)
}

func TestProcessBatch_ResponderErrorSchedulesRetry(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.EnqueueItem(ctx, "owner-1", "question", "hash-p2", nil)
	require.NoError(t, err)

	responder := &fakeResponder{err: errors.New("model unavailable")}
	p := testProcessor(t, db, responder, &fakeNotifier{})

	before := time.Now()
	_, err = p.processBatch(ctx)
	require.NoError(t, err)

	item, err := db.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusPending, item.Status)
	assert.Equal(t, 1, item.RetryCount)
	require.NotNil(t, item.ErrorMessage)
	assert.Contains(t, *item.ErrorMessage, "model unavailable")
	// First retry lands ~30s out.
	assert.WithinDuration(t, before.Add(30*time.Second), item.NextRetryAt, 5*time.Second)
}

func TestProcessBatch_ExhaustedAttemptsFail(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.EnqueueItem(ctx, "owner-1", "question", "hash-p3", nil)
	require.NoError(t, err)
	// Four failures already on the books; the fifth attempt is the last.
	require.NoError(t, db.ScheduleRetry(ctx, id, 4, time.Now().Add(-time.Second), "previous failure"))

	responder := &fakeResponder{err: errors.New("still down")}
	p := testProcessor(t, db, responder, &fakeNotifier{})

	_, err = p.processBatch(ctx)
	require.NoError(t, err)

	item, err := db.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusFailed, item.Status)
}

func TestProcessBatch_NotifierFailureSchedulesRetry(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.EnqueueItem(ctx, "owner-1", "question", "hash-p4", nil)
	require.NoError(t, err)

	notifier := &fakeNotifier{result: &models.SendResult{Success: false, Error: "channel down"}}
	p := testProcessor(t, db, &fakeResponder{reply: "answer"}, notifier)

	_, err = p.processBatch(ctx)
	require.NoError(t, err)

	item, err := db.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusPending, item.Status)
	assert.Equal(t, 1, item.RetryCount)
}

func TestProcessBatch_TokenRefreshHalts(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.EnqueueItem(ctx, "owner-1", "one", "hash-p5a", nil)
	require.NoError(t, err)
	_, err = db.EnqueueItem(ctx, "owner-2", "two", "hash-p5b", nil)
	require.NoError(t, err)

	notifier := &fakeNotifier{result: &models.SendResult{Success: false, RequiresTokenRefresh: true}}
	p := testProcessor(t, db, &fakeResponder{reply: "answer"}, notifier)

	_, err = p.processBatch(ctx)
	assert.ErrorIs(t, err, errTokenRefresh)
}

func TestStart_SecondProcessorRejected(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	lockPath := filepath.Join(t.TempDir(), "proc.lock")
	lock1, err := processlock.New(lockPath, quietLogger())
	require.NoError(t, err)
	lock2, err := processlock.New(lockPath, quietLogger())
	require.NoError(t, err)

	responder := &fakeResponder{reply: "ok"}
	p1 := NewProcessor(db, responder, &fakeNotifier{}, lock1, ProcessorConfig{}, quietLogger())
	p2 := NewProcessor(db, responder, &fakeNotifier{}, lock2, ProcessorConfig{}, quietLogger())

	require.NoError(t, p1.Start(ctx))
	defer p1.Stop()
	assert.True(t, p1.Running())

	err = p2.Start(ctx)
	assert.Error(t, err)
	assert.False(t, p2.Running())
}

func TestStart_ReclaimsStaleWork(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.EnqueueItem(ctx, "owner-1", "orphaned", "hash-p6", nil)
	require.NoError(t, err)
	claimed, err := db.ClaimPendingBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	responder := &fakeResponder{reply: "recovered"}
	p := testProcessor(t, db, responder, &fakeNotifier{})
	// Everything in_progress counts as stale from this processor's view.
	p.now = func() time.Time { return time.Now().Add(24 * time.Hour) }

	require.NoError(t, p.Start(ctx))
	p.Stop()

	item, err := db.GetItem(ctx, id)
	require.NoError(t, err)
	// The sweep returned it to pending (the loop may have delivered it since).
	assert.NotEqual(t, models.MessageStatusInProgress, item.Status)
}
