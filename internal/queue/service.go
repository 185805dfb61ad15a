// Package queue implements the durable delivery queue: content-hash dedup at
// intake, a persistent pending store and a single-instance processor that
// drives responder and notifier with retry.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
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

// Service is the intake-facing side of the queue. It is safe for concurrent
// use.
type Service struct {
	db     *database.Database
	logger *logrus.Logger

	dedupWindow time.Duration

	// seenEvents is a bounded in-memory front for the inbound_events table.
	// The table is the authority; the cache just avoids a query on the hot
	// path for events replayed within the window.
	mu         sync.Mutex
	seenEvents map[string]time.Time

	now func() time.Time
}

// NewService creates a queue service.
func NewService(db *database.Database, cfg models.QueueConfig, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	window := time.Duration(cfg.DedupWindowSec) * time.Second
	if window <= 0 {
		window = time.Duration(constants.DefaultDedupWindowSec) * time.Second
	}
	return &Service{
		db:          db,
		logger:      logger,
		dedupWindow: window,
		seenEvents:  make(map[string]time.Time),
		now:         time.Now,
	}
}

// ContentHash derives the dedup key for an inbound event. Two events with the
// same owner, payload and event id collapse to one queue item.
func ContentHash(ownerID, payload, eventID string) string {
	h := sha256.New()
	h.Write([]byte(ownerID))
	h.Write([]byte{0})
	h.Write([]byte(payload))
	h.Write([]byte{0})
	h.Write([]byte(eventID))
	return hex.EncodeToString(h.Sum(nil))
}

// Enqueue persists one inbound event as a pending queue item. A content-hash
// collision is reported as a duplicate outcome, not an error.
func (s *Service) Enqueue(ctx context.Context, event *models.InboundEvent) (models.IntakeOutcome, int64, error) {
	hash := ContentHash(event.Sender, event.Content, event.EventID)

	metadata := map[string]string{"event_id": event.EventID}
	if event.Kind != "" {
		metadata["kind"] = string(event.Kind)
	}

	id, err := s.db.EnqueueItem(ctx, event.Sender, event.Content, hash, metadata)
	if err != nil {
		if errors.Is(err, database.ErrDuplicateItem) {
			s.logger.WithFields(logrus.Fields{
				"owner":    privacy.MaskOwnerID(event.Sender),
				"event_id": privacy.MaskEventID(event.EventID),
			}).Info("Duplicate message dropped")
			metrics.IncrementCounter("queue_duplicates_total", nil)
			return models.IntakeDuplicate, 0, nil
		}
		return models.IntakeFailed, 0, fmt.Errorf("failed to enqueue: %w", err)
	}

	metrics.IncrementCounter("queue_enqueued_total", nil)
	return models.IntakeAccepted, id, nil
}

// IsDuplicateInboundEvent reports whether the webhook event id was already
// seen within the dedup window, recording it when new. Safe across processes
// because the table insert is the authority.
func (s *Service) IsDuplicateInboundEvent(ctx context.Context, eventID string) (bool, error) {
	now := s.now()

	s.mu.Lock()
	if seen, ok := s.seenEvents[eventID]; ok && now.Sub(seen) < s.dedupWindow {
		s.mu.Unlock()
		return true, nil
	}
	// Drop expired entries while we hold the lock.
	for id, seen := range s.seenEvents {
		if now.Sub(seen) >= s.dedupWindow {
			delete(s.seenEvents, id)
		}
	}
	s.seenEvents[eventID] = now
	s.mu.Unlock()

	isNew, err := s.db.RecordInboundEvent(ctx, eventID, "")
	if err != nil {
		return false, err
	}
	if !isNew {
		recent, err := s.db.HasRecentInboundEvent(ctx, eventID, s.dedupWindow)
		if err != nil {
			return false, err
		}
		return recent, nil
	}
	return false, nil
}

// GetStatus fetches a queue item by id.
func (s *Service) GetStatus(ctx context.Context, id int64) (*models.QueueItem, error) {
	return s.db.GetItem(ctx, id)
}

// Cancel cancels a pending item. Items already in flight or terminal are not
// touched.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	if err := s.db.CancelItem(ctx, id); err != nil {
		return err
	}
	metrics.IncrementCounter("queue_cancelled_total", nil)
	return nil
}

// Snapshot summarizes queue state for operators.
func (s *Service) Snapshot(ctx context.Context) (*models.QueueSnapshot, error) {
	return s.db.GetQueueSnapshot(ctx)
}
