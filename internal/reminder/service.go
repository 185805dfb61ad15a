// Package reminder implements timezone-aware scheduled notifications.
// Reminders are stored as the owner's wall-clock time plus a zone id; the UTC
// due instant is re-derived on every check.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"chatcourier/internal/database"
	"chatcourier/internal/models"
	"chatcourier/internal/privacy"
)

// Waker is nudged after a reminder is stored so the scheduler re-checks
// dueness immediately instead of waiting out its idle fallback.
type Waker interface {
	Wake()
}

// Service manages reminder CRUD. Delivery is the Scheduler's job.
type Service struct {
	db     *database.Database
	waker  Waker
	logger *logrus.Logger
}

// NewService creates a reminder service. waker may be nil.
func NewService(db *database.Database, waker Waker, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{db: db, waker: waker, logger: logger}
}

// Create validates and stores a reminder, then wakes the scheduler. When
// timezoneID is empty, the owner's stored zone is used, falling back to UTC.
func (s *Service) Create(ctx context.Context, ownerID, text, scheduledTime, timezoneID string) (*models.Reminder, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("reminder text cannot be empty")
	}
	if _, err := time.Parse(TimeLayout, scheduledTime); err != nil {
		return nil, fmt.Errorf("scheduled time must be %q: %w", TimeLayout, err)
	}

	if timezoneID == "" {
		stored, err := s.db.GetOwnerTimezone(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if stored == "" {
			stored = "UTC"
		}
		timezoneID = stored
	}
	normalized, err := NormalizeTimezone(timezoneID)
	if err != nil {
		return nil, err
	}

	r := &models.Reminder{
		OwnerID:       ownerID,
		Text:          text,
		ScheduledTime: scheduledTime,
		TimezoneID:    normalized,
	}
	id, err := s.db.CreateReminder(ctx, r)
	if err != nil {
		return nil, err
	}
	r.ID = id

	s.logger.WithFields(logrus.Fields{
		"reminder_id": id,
		"owner":       privacy.MaskOwnerID(ownerID),
		"scheduled":   scheduledTime,
		"timezone":    normalized,
	}).Info("Reminder created")

	// A reminder due right now should fire now, not after the idle fallback.
	if s.waker != nil {
		s.waker.Wake()
	}
	return r, nil
}

// ListPending returns an owner's unsent reminders.
func (s *Service) ListPending(ctx context.Context, ownerID string) ([]*models.Reminder, error) {
	return s.db.GetOwnerReminders(ctx, ownerID)
}

// Cancel marks a reminder sent without delivering it. Rows are never deleted
// so the history stays auditable.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	return s.db.MarkReminderSent(ctx, id)
}

// CancelAll cancels every unsent reminder for an owner.
func (s *Service) CancelAll(ctx context.Context, ownerID string) (int64, error) {
	return s.db.MarkAllRemindersSent(ctx, ownerID)
}

// SetOwnerTimezone validates and stores an owner's zone.
func (s *Service) SetOwnerTimezone(ctx context.Context, ownerID, timezoneID string) (string, error) {
	normalized, err := NormalizeTimezone(timezoneID)
	if err != nil {
		return "", err
	}
	if err := s.db.SetOwnerTimezone(ctx, ownerID, normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
