package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"chatcourier/internal/constants"
	"chatcourier/internal/database"
	"chatcourier/internal/metrics"
	"chatcourier/internal/models"
	"chatcourier/internal/privacy"
)

// Notifier delivers a formatted reminder to the owner's channel.
type Notifier interface {
	Send(ctx context.Context, ownerID, text string) (*models.SendResult, error)
}

// SchedulerConfig tunes the check loop. Zero values take the defaults.
type SchedulerConfig struct {
	// IdleWait bounds the sleep when nothing is pending.
	IdleWait time.Duration
	// BusyWait bounds the sleep while unsent reminders exist.
	BusyWait time.Duration
}

func (c *SchedulerConfig) applyDefaults() {
	if c.IdleWait <= 0 {
		c.IdleWait = time.Duration(constants.DefaultReminderIdleWaitSec) * time.Second
	}
	if c.BusyWait <= 0 {
		c.BusyWait = time.Duration(constants.DefaultReminderBusyWaitSec) * time.Second
	}
}

// Scheduler checks reminders for dueness and delivers them. It is event
// driven: Wake cuts a sleep short so a just-created reminder is considered
// immediately, with the timed fallback as a safety net.
type Scheduler struct {
	db       *database.Database
	notifier Notifier
	logger   *logrus.Logger
	cfg      SchedulerConfig

	wakeCh chan struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	now func() time.Time
}

// NewScheduler creates a reminder scheduler.
func NewScheduler(db *database.Database, notifier Notifier, cfg SchedulerConfig, logger *logrus.Logger) *Scheduler {
	cfg.applyDefaults()
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		db:       db,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		wakeCh:   make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Wake nudges the scheduler to check now. Never blocks; a pending wake
// coalesces with this one.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Start launches the check loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(ctx)
}

// Stop halts the loop and blocks until it exits.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()
	<-done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)
	s.logger.Info("Reminder scheduler started")

	for {
		pending, err := s.CheckOnce(ctx)
		if err != nil {
			s.logger.WithError(err).Error("Reminder check failed")
		}

		wait := s.cfg.IdleWait
		if pending > 0 {
			wait = s.cfg.BusyWait
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.wakeCh:
		case <-time.After(wait):
		}
	}
}

// CheckOnce delivers every due reminder and returns the number still unsent.
// A reminder is marked sent even when delivery fails: a stale reminder firing
// hours late is worse than a dropped one.
func (s *Scheduler) CheckOnce(ctx context.Context) (int, error) {
	reminders, err := s.db.GetUnsentReminders(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	remaining := 0
	for _, r := range reminders {
		due, err := DueAt(r.ScheduledTime, r.TimezoneID)
		if err != nil {
			// Unparseable rows would loop forever; retire them.
			s.logger.WithError(err).WithField("reminder_id", r.ID).Error("Retiring malformed reminder")
			if markErr := s.db.MarkReminderSent(ctx, r.ID); markErr != nil {
				s.logger.WithError(markErr).Warn("Failed to retire reminder")
			}
			continue
		}
		if due.After(now) {
			remaining++
			continue
		}
		s.deliver(ctx, r)
	}
	return remaining, nil
}

func (s *Scheduler) deliver(ctx context.Context, r *models.Reminder) {
	log := s.logger.WithFields(logrus.Fields{
		"reminder_id": r.ID,
		"owner":       privacy.MaskOwnerID(r.OwnerID),
	})

	text := formatReminder(r)
	result, err := s.notifier.Send(ctx, r.OwnerID, text)
	switch {
	case err != nil:
		log.WithError(err).Error("Reminder delivery failed")
		metrics.IncrementCounter("reminders_delivery_errors_total", nil)
	case !result.Success:
		log.WithField("error", result.Error).Error("Reminder delivery rejected")
		metrics.IncrementCounter("reminders_delivery_errors_total", nil)
	default:
		log.Info("Reminder delivered")
		metrics.IncrementCounter("reminders_delivered_total", nil)
	}

	// Sent regardless of outcome so a failing notifier cannot make the same
	// reminder fire repeatedly.
	if err := s.db.MarkReminderSent(ctx, r.ID); err != nil {
		log.WithError(err).Error("Failed to mark reminder sent")
	}
}

// formatReminder renders the delivery text with the scheduled time in the
// owner's zone.
func formatReminder(r *models.Reminder) string {
	display := r.ScheduledTime
	if loc, err := time.LoadLocation(r.TimezoneID); err == nil {
		if local, err := time.ParseInLocation(TimeLayout, r.ScheduledTime, loc); err == nil {
			display = local.Format("Mon Jan 2 15:04 MST")
		}
	}
	return fmt.Sprintf("Reminder: %s (scheduled for %s)", r.Text, display)
}
