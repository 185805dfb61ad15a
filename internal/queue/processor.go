package queue

import (
	"context"
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
	"chatcourier/internal/processlock"
)

// Responder generates the reply for a queued message. It is an external
// contract; the processor only interprets the result status.
type Responder interface {
	Respond(ctx context.Context, ownerID, payload string, history []models.ConversationTurn) (*models.ResponderResult, error)
}

// Notifier delivers a reply to the owner's channel.
type Notifier interface {
	Send(ctx context.Context, ownerID, text string) (*models.SendResult, error)
}

// retryDelays is the fixed backoff schedule. Attempts beyond the last entry
// reuse it.
var retryDelays = [...]time.Duration{
	30 * time.Second,
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
}

// errTokenRefresh halts the processing loop: with the delivery credential
// invalid every send would fail and burn retry attempts.
var errTokenRefresh = errors.New("notifier requires token refresh")

// ProcessorConfig tunes the processing loop. Zero values take the defaults.
type ProcessorConfig struct {
	BatchSize     int
	MaxAttempts   int
	IdleSleep     time.Duration
	ErrorSleep    time.Duration
	RetentionDays int
}

func (c *ProcessorConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = constants.DefaultQueueBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = constants.DefaultQueueMaxAttempts
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = time.Duration(constants.DefaultQueueIdleSleepSec) * time.Second
	}
	if c.ErrorSleep <= 0 {
		c.ErrorSleep = time.Duration(constants.DefaultQueueErrorSleepSec) * time.Second
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}
}

// Processor drains the pending queue. At most one instance runs against a
// database; the file lock enforces that across processes.
type Processor struct {
	db        *database.Database
	responder Responder
	notifier  Notifier
	lock      *processlock.Lock
	logger    *logrus.Logger
	cfg       ProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	lastCleanup time.Time
	now         func() time.Time
}

// NewProcessor wires a processor. Start acquires the lock.
func NewProcessor(db *database.Database, responder Responder, notifier Notifier, lock *processlock.Lock, cfg ProcessorConfig, logger *logrus.Logger) *Processor {
	cfg.applyDefaults()
	if logger == nil {
		logger = logrus.New()
	}
	return &Processor{
		db:        db,
		responder: responder,
		notifier:  notifier,
		lock:      lock,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start acquires the processor lock, reclaims work orphaned by a previous
// crash and launches the processing loop. It fails when another processor
// already holds the lock.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	acquired, err := p.lock.Acquire(ctx, processlock.Options{ForceStale: true})
	if err != nil {
		return fmt.Errorf("failed to acquire processor lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("another processor instance holds the lock")
	}

	staleCutoff := p.now().Add(-time.Duration(constants.DefaultStaleInProgressMinSec) * time.Second)
	reclaimed, err := p.db.ResetStaleInProgress(ctx, staleCutoff)
	if err != nil {
		_ = p.lock.Release()
		return fmt.Errorf("failed to reclaim stale items: %w", err)
	}
	if reclaimed > 0 {
		p.logger.WithField("count", reclaimed).Warn("Reclaimed orphaned in-progress items")
	}

	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.run(ctx)
	return nil
}

// Stop halts the loop and releases the lock. Blocks until the loop exits.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	done := p.doneCh
	p.mu.Unlock()

	<-done
	if err := p.lock.Release(); err != nil {
		p.logger.WithError(err).Warn("Failed to release processor lock")
	}
}

// Running reports whether the processing loop is active.
func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.doneCh)
	p.logger.Info("Queue processor started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		processed, err := p.processBatch(ctx)
		if err != nil {
			if errors.Is(err, errTokenRefresh) {
				p.logger.Error("Delivery credential refresh required; halting processor")
				p.haltForTokenRefresh(ctx)
				return
			}
			p.logger.WithError(err).Error("Batch processing failed")
			metrics.IncrementCounter("queue_batch_errors_total", nil)
			if !p.sleep(ctx, p.cfg.ErrorSleep) {
				return
			}
			continue
		}

		if processed == 0 {
			p.idleWork(ctx)
			if !p.sleep(ctx, p.cfg.IdleSleep) {
				return
			}
			continue
		}

		if !p.sleep(ctx, p.cfg.IdleSleep) {
			return
		}
	}
}

// processBatch claims and delivers one batch. A per-item failure schedules a
// retry and the loop moves on; only infrastructure errors bubble up.
func (p *Processor) processBatch(ctx context.Context) (int, error) {
	items, err := p.db.ClaimPendingBatch(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, item := range items {
		if err := p.deliver(ctx, item); err != nil {
			if errors.Is(err, errTokenRefresh) {
				return len(items), errTokenRefresh
			}
			p.logger.WithError(err).WithField("item_id", item.ID).Error("Delivery bookkeeping failed")
		}
	}
	return len(items), nil
}

func (p *Processor) deliver(ctx context.Context, item *models.QueueItem) error {
	start := p.now()
	log := p.logger.WithFields(logrus.Fields{
		"item_id": item.ID,
		"owner":   privacy.MaskOwnerID(item.OwnerID),
		"attempt": item.RetryCount + 1,
	})

	history, err := p.db.GetConversationHistory(ctx, item.OwnerID, constants.DefaultHistoryTurns)
	if err != nil {
		log.WithError(err).Warn("Failed to load conversation history; continuing without it")
		history = nil
	}

	result, err := p.responder.Respond(ctx, item.OwnerID, item.Payload, history)
	if err != nil {
		log.WithError(err).Warn("Responder failed")
		return p.handleFailure(ctx, item, fmt.Sprintf("responder error: %v", err))
	}
	// A non-success responder status still carries deliverable text, e.g. a
	// fallback apology. Only a responder error triggers retry.
	if result.Status != "" && result.Status != "success" {
		log.WithField("status", result.Status).Debug("Responder returned non-success status")
	}

	sendResult, err := p.notifier.Send(ctx, item.OwnerID, result.Text)
	if err != nil {
		log.WithError(err).Warn("Notifier failed")
		return p.handleFailure(ctx, item, fmt.Sprintf("notifier error: %v", err))
	}
	if sendResult.RequiresTokenRefresh {
		return errTokenRefresh
	}
	if !sendResult.Success {
		reason := sendResult.Error
		if reason == "" {
			reason = fmt.Sprintf("notifier status %d", sendResult.StatusCode)
		}
		log.WithField("reason", reason).Warn("Delivery rejected")
		return p.handleFailure(ctx, item, reason)
	}

	if err := p.db.MarkCompleted(ctx, item.ID, result.Text); err != nil {
		return err
	}
	metrics.IncrementCounter("queue_delivered_total", nil)
	metrics.RecordTimer("queue_delivery_duration", p.now().Sub(start), nil)
	log.Info("Message delivered")
	return nil
}

// handleFailure schedules a retry or, once attempts are exhausted, fails the
// item for good.
func (p *Processor) handleFailure(ctx context.Context, item *models.QueueItem, reason string) error {
	nextCount := item.RetryCount + 1
	if nextCount >= p.cfg.MaxAttempts {
		metrics.IncrementCounter("queue_failed_total", nil)
		p.logger.WithFields(logrus.Fields{
			"item_id":  item.ID,
			"attempts": nextCount,
		}).Error("Message failed permanently")
		return p.db.MarkFailed(ctx, item.ID, reason)
	}

	delay := RetryDelay(item.RetryCount)
	metrics.IncrementCounter("queue_retries_total", nil)
	return p.db.ScheduleRetry(ctx, item.ID, nextCount, p.now().Add(delay), reason)
}

// RetryDelay returns the backoff before the next attempt after retryCount
// prior failures.
func RetryDelay(retryCount int) time.Duration {
	idx := retryCount
	if idx >= len(retryDelays) {
		idx = len(retryDelays) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return retryDelays[idx]
}

// haltForTokenRefresh fails everything still queued and marks the processor
// stopped. Messages fail loudly rather than silently aging out while the
// credential is rotated.
func (p *Processor) haltForTokenRefresh(ctx context.Context) {
	failed, err := p.db.FailAllPending(ctx, "delivery credential refresh required")
	if err != nil {
		p.logger.WithError(err).Error("Failed to fail pending items")
	} else if failed > 0 {
		p.logger.WithField("count", failed).Error("Failed all pending items pending credential refresh")
	}
	metrics.IncrementCounter("queue_token_refresh_halts_total", nil)

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	if err := p.lock.Release(); err != nil {
		p.logger.WithError(err).Warn("Failed to release processor lock")
	}
}

// idleWork runs housekeeping while the queue is empty: backlog alerting and
// periodic cleanup of old terminal records.
func (p *Processor) idleWork(ctx context.Context) {
	backlogCutoff := p.now().Add(-time.Duration(constants.DefaultBacklogAgeMinutes) * time.Minute)
	count, err := p.db.CountPendingOlderThan(ctx, backlogCutoff)
	if err != nil {
		p.logger.WithError(err).Warn("Backlog check failed")
	} else if count > constants.DefaultBacklogThreshold {
		p.logger.WithField("count", count).Warn("Queue backlog building up")
		metrics.SetGauge("queue_backlog", float64(count), nil)
	}

	if p.now().Sub(p.lastCleanup) > time.Hour {
		p.lastCleanup = p.now()
		deleted, err := p.db.CleanupOldRecords(ctx, p.cfg.RetentionDays)
		if err != nil {
			p.logger.WithError(err).Warn("Record cleanup failed")
		} else if deleted > 0 {
			p.logger.WithField("deleted", deleted).Info("Cleaned up old records")
		}
	}
}

func (p *Processor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-p.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}
