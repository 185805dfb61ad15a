package models

import "time"

// Reminder is a scheduled notification. ScheduledTime is the owner's
// wall-clock time ("2006-01-02 15:04") and is always interpreted in
// TimezoneID, the zone active when the reminder was created. The UTC due
// instant is re-derived from the pair on every check; it is never stored.
type Reminder struct {
	ID            int64     `json:"id"`
	OwnerID       string    `json:"ownerId"`
	Text          string    `json:"text"`
	ScheduledTime string    `json:"scheduledTime"`
	TimezoneID    string    `json:"timezoneId"`
	IsSent        bool      `json:"isSent"`
	CreatedAt     time.Time `json:"createdAt"`
}
