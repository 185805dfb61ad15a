package models

import "time"

// RateDecision is the outcome of a single admission check.
type RateDecision struct {
	Allowed   bool       `json:"allowed"`
	Reason    string     `json:"reason,omitempty"`
	UnblockAt *time.Time `json:"unblockAt,omitempty"`
}

// RateBlock is a durable temporary block on an owner. Once persisted it is
// authoritative even if the in-memory counters were lost to a restart.
type RateBlock struct {
	OwnerID    string    `json:"ownerId"`
	BlockStart time.Time `json:"blockStart"`
	BlockEnd   time.Time `json:"blockEnd"`
	Reason     string    `json:"reason"`
}

// RateViolation records one threshold breach for the admin surface.
type RateViolation struct {
	OwnerID   string    `json:"ownerId"`
	Type      string    `json:"type"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// OwnerRateStats is the per-owner usage summary exposed to operators.
type OwnerRateStats struct {
	RequestsLastHour   int             `json:"requestsLastHour"`
	RequestsLastMinute int             `json:"requestsLastMinute"`
	RecentViolations   []RateViolation `json:"recentViolations"`
	CurrentBlock       *RateBlock      `json:"currentBlock,omitempty"`
}
