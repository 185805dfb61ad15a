// Package ratelimit enforces per-owner admission control with sliding
// windows, pattern detection and durable temporary blocks.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"chatcourier/internal/constants"
	"chatcourier/internal/database"
	"chatcourier/internal/models"
	"chatcourier/internal/privacy"
)

// Violation reasons as persisted and reported.
const (
	ReasonHourlyLimit   = "hourly_limit"
	ReasonBurstLimit    = "burst_limit"
	ReasonRapidFire     = "rapid_fire"
	ReasonSustainedHigh = "sustained_high"
)

// Limits carries every threshold the limiter applies. Zero values take the
// defaults.
type Limits struct {
	Window        time.Duration
	MaxRequests   int
	BurstWindow   time.Duration
	BurstLimit    int
	BlockDuration time.Duration

	RapidFireCount     int
	RapidFireWindow    time.Duration
	SustainedCount     int
	SustainedWindow    time.Duration
	MarksPerOwnerLimit int
}

func (l *Limits) applyDefaults() {
	if l.Window <= 0 {
		l.Window = time.Duration(constants.DefaultRateWindowSec) * time.Second
	}
	if l.MaxRequests <= 0 {
		l.MaxRequests = constants.DefaultRateMaxRequests
	}
	if l.BurstWindow <= 0 {
		l.BurstWindow = time.Duration(constants.DefaultBurstWindowSec) * time.Second
	}
	if l.BurstLimit <= 0 {
		l.BurstLimit = constants.DefaultBurstLimit
	}
	if l.BlockDuration <= 0 {
		l.BlockDuration = time.Duration(constants.DefaultBlockDurationSec) * time.Second
	}
	if l.RapidFireCount <= 0 {
		l.RapidFireCount = constants.DefaultRapidFireCount
	}
	if l.RapidFireWindow <= 0 {
		l.RapidFireWindow = time.Duration(constants.DefaultRapidFireWindowSec) * time.Second
	}
	if l.SustainedCount <= 0 {
		l.SustainedCount = constants.DefaultSustainedCount
	}
	if l.SustainedWindow <= 0 {
		l.SustainedWindow = time.Duration(constants.DefaultSustainedWindowSec) * time.Second
	}
	if l.MarksPerOwnerLimit <= 0 {
		l.MarksPerOwnerLimit = constants.DefaultRateMarksCap
	}
}

// Limiter tracks request timestamps per owner in memory and persists blocks
// and violations. In-memory counters reset on restart; durable blocks do not,
// so an abusive owner stays blocked across a crash.
type Limiter struct {
	db     *database.Database
	logger *logrus.Logger
	limits Limits

	mu    sync.Mutex
	marks map[string][]time.Time

	now func() time.Time
}

// New creates a limiter backed by db.
func New(db *database.Database, limits Limits, logger *logrus.Logger) *Limiter {
	limits.applyDefaults()
	if logger == nil {
		logger = logrus.New()
	}
	return &Limiter{
		db:     db,
		logger: logger,
		limits: limits,
		marks:  make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Check decides whether one request from ownerID is admitted, recording the
// request when it is. A persisted block that cannot be read fails closed.
func (l *Limiter) Check(ctx context.Context, ownerID string) (models.RateDecision, error) {
	block, err := l.db.GetActiveBlock(ctx, ownerID)
	if err != nil {
		return models.RateDecision{Allowed: false, Reason: "storage_error"},
			fmt.Errorf("failed to check rate block: %w", err)
	}
	if block != nil {
		end := block.BlockEnd
		return models.RateDecision{Allowed: false, Reason: block.Reason, UnblockAt: &end}, nil
	}

	now := l.now()

	l.mu.Lock()
	marks := l.pruneLocked(ownerID, now)

	reason := l.violationLocked(marks, now)
	if reason == "" {
		marks = append(marks, now)
		if len(marks) > l.limits.MarksPerOwnerLimit {
			marks = marks[len(marks)-l.limits.MarksPerOwnerLimit:]
		}
		l.marks[ownerID] = marks
		l.mu.Unlock()
		return models.RateDecision{Allowed: true}, nil
	}
	l.mu.Unlock()

	unblockAt, err := l.block(ctx, ownerID, reason, now)
	if err != nil {
		return models.RateDecision{Allowed: false, Reason: reason}, err
	}
	return models.RateDecision{Allowed: false, Reason: reason, UnblockAt: &unblockAt}, nil
}

// violationLocked evaluates the thresholds against the pruned marks plus the
// request under consideration. Callers hold l.mu.
func (l *Limiter) violationLocked(marks []time.Time, now time.Time) string {
	total := len(marks) + 1
	if total > l.limits.MaxRequests {
		return ReasonHourlyLimit
	}
	if countSince(marks, now.Add(-l.limits.BurstWindow))+1 > l.limits.BurstLimit {
		return ReasonBurstLimit
	}
	if countSince(marks, now.Add(-l.limits.RapidFireWindow))+1 >= l.limits.RapidFireCount {
		return ReasonRapidFire
	}
	if countSince(marks, now.Add(-l.limits.SustainedWindow))+1 >= l.limits.SustainedCount {
		return ReasonSustainedHigh
	}
	return ""
}

func (l *Limiter) block(ctx context.Context, ownerID, reason string, now time.Time) (time.Time, error) {
	unblockAt := now.Add(l.limits.BlockDuration)
	rateBlock := &models.RateBlock{
		OwnerID:    ownerID,
		BlockStart: now.UTC(),
		BlockEnd:   unblockAt.UTC(),
		Reason:     reason,
	}

	l.logger.WithFields(logrus.Fields{
		"owner":      privacy.MaskOwnerID(ownerID),
		"reason":     reason,
		"unblock_at": unblockAt.UTC().Format(time.RFC3339),
	}).Warn("Rate limit exceeded; blocking owner")

	if err := l.db.UpsertBlock(ctx, rateBlock); err != nil {
		return unblockAt, fmt.Errorf("failed to persist rate block: %w", err)
	}
	if err := l.db.RecordViolation(ctx, ownerID, reason, ""); err != nil {
		l.logger.WithError(err).Warn("Failed to record rate violation")
	}
	return unblockAt, nil
}

// Unblock removes an owner's durable block and clears their counters.
func (l *Limiter) Unblock(ctx context.Context, ownerID string) error {
	if err := l.db.ClearBlock(ctx, ownerID); err != nil {
		return err
	}
	l.mu.Lock()
	delete(l.marks, ownerID)
	l.mu.Unlock()
	return nil
}

// Stats summarizes an owner's recent usage for the admin surface.
func (l *Limiter) Stats(ctx context.Context, ownerID string) (*models.OwnerRateStats, error) {
	now := l.now()

	l.mu.Lock()
	marks := l.pruneLocked(ownerID, now)
	stats := &models.OwnerRateStats{
		RequestsLastHour:   len(marks),
		RequestsLastMinute: countSince(marks, now.Add(-time.Minute)),
	}
	l.mu.Unlock()

	violations, err := l.db.GetRecentViolations(ctx, ownerID, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	stats.RecentViolations = violations

	block, err := l.db.GetActiveBlock(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	stats.CurrentBlock = block
	return stats, nil
}

// pruneLocked drops marks older than the main window and returns the
// survivors. Callers hold l.mu.
func (l *Limiter) pruneLocked(ownerID string, now time.Time) []time.Time {
	cutoff := now.Add(-l.limits.Window)
	marks := l.marks[ownerID]
	i := 0
	for i < len(marks) && marks[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		marks = marks[i:]
		if len(marks) == 0 {
			delete(l.marks, ownerID)
		} else {
			l.marks[ownerID] = marks
		}
	}
	return marks
}

func countSince(marks []time.Time, cutoff time.Time) int {
	count := 0
	for i := len(marks) - 1; i >= 0; i-- {
		if marks[i].Before(cutoff) {
			break
		}
		count++
	}
	return count
}
