// Package service orchestrates inbound event handling: authorization, rate
// limiting, event dedup and enqueueing, in that order.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"chatcourier/internal/metrics"
	"chatcourier/internal/models"
	"chatcourier/internal/privacy"
	"chatcourier/internal/queue"
	"chatcourier/internal/ratelimit"
)

// Waker is anything that wants a nudge when new work is accepted. The queue
// processor polls, but the reminder scheduler wakes on owner activity so
// timezone updates take effect promptly.
type Waker interface {
	Wake()
}

// IntakeService decides what happens to one inbound event.
type IntakeService struct {
	queue   *queue.Service
	limiter *ratelimit.Limiter
	auth    Authorizer
	waker   Waker
	logger  *logrus.Logger
}

// Authorizer checks the sender allowlist.
type Authorizer interface {
	IsAuthorizedSender(ctx context.Context, ownerID string) (bool, error)
}

// NewIntakeService wires the intake pipeline. waker may be nil.
func NewIntakeService(q *queue.Service, limiter *ratelimit.Limiter, auth Authorizer, waker Waker, logger *logrus.Logger) *IntakeService {
	if logger == nil {
		logger = logrus.New()
	}
	return &IntakeService{
		queue:   q,
		limiter: limiter,
		auth:    auth,
		waker:   waker,
		logger:  logger,
	}
}

// HandleEvent runs one inbound event through the pipeline and returns the
// synchronous outcome. Denials are outcomes, not errors; the error return is
// for infrastructure failures only.
func (s *IntakeService) HandleEvent(ctx context.Context, event *models.InboundEvent) (models.IntakeOutcome, int64, error) {
	if err := validateEvent(event); err != nil {
		return models.IntakeFailed, 0, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"owner":    privacy.MaskOwnerID(event.Sender),
		"event_id": privacy.MaskEventID(event.EventID),
	})

	authorized, err := s.auth.IsAuthorizedSender(ctx, event.Sender)
	if err != nil {
		return models.IntakeFailed, 0, fmt.Errorf("authorization check failed: %w", err)
	}
	if !authorized {
		log.Warn("Unauthorized sender rejected")
		metrics.IncrementCounter("intake_unauthorized_total", nil)
		return models.IntakeUnauthorized, 0, nil
	}

	// Rate limiting runs before dedup so redelivered event ids still accrue
	// marks; otherwise a replayed id could never trip a block.
	decision, err := s.limiter.Check(ctx, event.Sender)
	if err != nil {
		return models.IntakeFailed, 0, fmt.Errorf("rate limit check failed: %w", err)
	}
	if !decision.Allowed {
		log.WithField("reason", decision.Reason).Warn("Rate limited sender rejected")
		metrics.IncrementCounter("intake_rate_limited_total", nil)
		return models.IntakeRateLimited, 0, nil
	}

	duplicate, err := s.queue.IsDuplicateInboundEvent(ctx, event.EventID)
	if err != nil {
		return models.IntakeFailed, 0, fmt.Errorf("event dedup check failed: %w", err)
	}
	if duplicate {
		log.Info("Duplicate event dropped")
		metrics.IncrementCounter("intake_duplicate_events_total", nil)
		return models.IntakeDuplicate, 0, nil
	}

	outcome, id, err := s.queue.Enqueue(ctx, event)
	if err != nil {
		return models.IntakeFailed, 0, err
	}
	if outcome == models.IntakeAccepted && s.waker != nil {
		s.waker.Wake()
	}
	return outcome, id, nil
}

func validateEvent(event *models.InboundEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if strings.TrimSpace(event.EventID) == "" {
		return fmt.Errorf("event id cannot be empty")
	}
	if strings.TrimSpace(event.Sender) == "" {
		return fmt.Errorf("event sender cannot be empty")
	}
	if event.Kind == models.EventKindUnsupported {
		return fmt.Errorf("unsupported event kind")
	}
	return nil
}
