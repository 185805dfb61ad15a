package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordInboundEvent inserts the event id into the dedup table. Returns true
// when the event is new, false when an entry already exists. The primary key
// on event_id makes the check race-safe across processes.
func (d *Database) RecordInboundEvent(ctx context.Context, eventID, eventContext string) (bool, error) {
	var isNew bool
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO inbound_events (event_id, processed_at, context)
			VALUES (?, ?, ?)`,
			eventID, d.now().UTC(), eventContext)
		if err != nil {
			if isUniqueConstraintError(err) {
				isNew = false
				return nil
			}
			return err
		}
		isNew = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to record inbound event: %w", err)
	}
	return isNew, nil
}

// HasRecentInboundEvent reports whether eventID was seen within the window.
func (d *Database) HasRecentInboundEvent(ctx context.Context, eventID string, window time.Duration) (bool, error) {
	cutoff := d.now().UTC().Add(-window)
	var count int
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM inbound_events WHERE event_id = ? AND processed_at >= ?`,
			eventID, cutoff).Scan(&count)
	})
	if err != nil {
		return false, fmt.Errorf("failed to check inbound event: %w", err)
	}
	return count > 0, nil
}
