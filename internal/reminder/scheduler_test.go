package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcourier/internal/models"
)

type recordingNotifier struct {
	mu     sync.Mutex
	sent   []string
	owners []string
	err    error
	result *models.SendResult
}

func (n *recordingNotifier) Send(ctx context.Context, ownerID, text string) (*models.SendResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return nil, n.err
	}
	n.sent = append(n.sent, text)
	n.owners = append(n.owners, ownerID)
	if n.result != nil {
		return n.result, nil
	}
	return &models.SendResult{Success: true}, nil
}

func TestCheckOnce_DeliversDue(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	// 09:00 New York on a summer day is 13:00 UTC.
	_, err := db.CreateReminder(ctx, &models.Reminder{
		OwnerID:       "owner-1",
		Text:          "take medication",
		ScheduledTime: "2026-07-15 09:00",
		TimezoneID:    "America/New_York",
	})
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	s := NewScheduler(db, notifier, SchedulerConfig{}, quietLogger())

	// Just before the due instant nothing fires.
	s.now = func() time.Time { return time.Date(2026, 7, 15, 12, 59, 0, 0, time.UTC) }
	remaining, err := s.CheckOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
	assert.Empty(t, notifier.sent)

	// At the due instant it fires.
	s.now = func() time.Time { return time.Date(2026, 7, 15, 13, 0, 0, 0, time.UTC) }
	remaining, err = s.CheckOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
	require.Len(t, notifier.sent, 1)
	assert.Contains(t, notifier.sent[0], "take medication")
	assert.Equal(t, []string{"owner-1"}, notifier.owners)

	// It never fires twice.
	remaining, err = s.CheckOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
	assert.Len(t, notifier.sent, 1)
}

func TestCheckOnce_MarksSentDespiteNotifierError(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.CreateReminder(ctx, &models.Reminder{
		OwnerID:       "owner-1",
		Text:          "doomed",
		ScheduledTime: "2020-01-01 00:00",
		TimezoneID:    "UTC",
	})
	require.NoError(t, err)

	notifier := &recordingNotifier{err: errors.New("channel down")}
	s := NewScheduler(db, notifier, SchedulerConfig{}, quietLogger())

	_, err = s.CheckOnce(ctx)
	require.NoError(t, err)

	// A failing notifier must not make the reminder fire again.
	unsent, err := db.GetUnsentReminders(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsent)
}

func TestCheckOnce_MultipleOwners(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, owner := range []string{"owner-1", "owner-2"} {
		_, err := db.CreateReminder(ctx, &models.Reminder{
			OwnerID:       owner,
			Text:          "shared moment",
			ScheduledTime: "2020-01-01 00:00",
			TimezoneID:    "UTC",
		})
		require.NoError(t, err)
	}

	notifier := &recordingNotifier{}
	s := NewScheduler(db, notifier, SchedulerConfig{}, quietLogger())

	_, err := s.CheckOnce(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"owner-1", "owner-2"}, notifier.owners)
}

func TestCheckOnce_RetiresMalformedRows(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.CreateReminder(ctx, &models.Reminder{
		OwnerID:       "owner-1",
		Text:          "broken",
		ScheduledTime: "garbage",
		TimezoneID:    "UTC",
	})
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	s := NewScheduler(db, notifier, SchedulerConfig{}, quietLogger())

	_, err = s.CheckOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, notifier.sent)

	unsent, err := db.GetUnsentReminders(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsent)
}

func TestWake_CutsSleepShort(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	notifier := &recordingNotifier{}
	s := NewScheduler(db, notifier, SchedulerConfig{IdleWait: time.Hour}, quietLogger())
	s.Start(ctx)
	defer s.Stop()

	// The loop is asleep for an hour; a wake plus a due reminder gets
	// delivered promptly.
	time.Sleep(50 * time.Millisecond)
	_, err := db.CreateReminder(ctx, &models.Reminder{
		OwnerID:       "owner-1",
		Text:          "now",
		ScheduledTime: "2020-01-01 00:00",
		TimezoneID:    "UTC",
	})
	require.NoError(t, err)
	s.Wake()

	require.Eventually(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return len(notifier.sent) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCreate_DeliversImmediatelyDueReminder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	notifier := &recordingNotifier{}
	s := NewScheduler(db, notifier, SchedulerConfig{IdleWait: time.Hour}, quietLogger())
	s.Start(ctx)
	defer s.Stop()

	// With the loop asleep for an hour, only the wake from Create can get a
	// reminder that is already due out the door promptly.
	time.Sleep(50 * time.Millisecond)
	svc := NewService(db, s, quietLogger())
	_, err := svc.Create(ctx, "owner-1", "due right now", "2020-01-01 00:00", "UTC")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return len(notifier.sent) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWake_NeverBlocks(t *testing.T) {
	s := NewScheduler(testDB(t), &recordingNotifier{}, SchedulerConfig{}, quietLogger())
	for i := 0; i < 100; i++ {
		s.Wake()
	}
}
