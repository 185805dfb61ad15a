package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chatcourier/internal/models"
)

// ErrReminderNotFound signals that no unsent reminder matches the given id.
var ErrReminderNotFound = errors.New("reminder not found")

// CreateReminder stores a reminder keyed by the owner's wall-clock time and
// zone. The caller has already validated both.
func (d *Database) CreateReminder(ctx context.Context, r *models.Reminder) (int64, error) {
	encText, err := d.encryptor.encryptIfEnabled(r.Text)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt reminder text: %w", err)
	}

	var id int64
	err = d.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
			INSERT INTO reminders (owner_id, text, scheduled_time, timezone_id, is_sent)
			VALUES (?, ?, ?, ?, 0)`,
			r.OwnerID, encText, r.ScheduledTime, r.TimezoneID)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create reminder: %w", err)
	}
	return id, nil
}

// GetUnsentReminders returns every reminder not yet marked sent, oldest
// first. Dueness is decided by the caller, which re-derives the UTC instant
// from the stored wall-clock time and zone.
func (d *Database) GetUnsentReminders(ctx context.Context) ([]*models.Reminder, error) {
	var reminders []*models.Reminder
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT id, owner_id, text, scheduled_time, timezone_id, is_sent, created_at
			FROM reminders WHERE is_sent = 0
			ORDER BY created_at ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r models.Reminder
			if err := rows.Scan(&r.ID, &r.OwnerID, &r.Text, &r.ScheduledTime,
				&r.TimezoneID, &r.IsSent, &r.CreatedAt); err != nil {
				return err
			}
			r.Text, _ = d.encryptor.decryptIfEnabled(r.Text)
			reminders = append(reminders, &r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get unsent reminders: %w", err)
	}
	return reminders, nil
}

// GetOwnerReminders returns an owner's unsent reminders, oldest first.
func (d *Database) GetOwnerReminders(ctx context.Context, ownerID string) ([]*models.Reminder, error) {
	var reminders []*models.Reminder
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT id, owner_id, text, scheduled_time, timezone_id, is_sent, created_at
			FROM reminders WHERE is_sent = 0 AND owner_id = ?
			ORDER BY created_at ASC`, ownerID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r models.Reminder
			if err := rows.Scan(&r.ID, &r.OwnerID, &r.Text, &r.ScheduledTime,
				&r.TimezoneID, &r.IsSent, &r.CreatedAt); err != nil {
				return err
			}
			r.Text, _ = d.encryptor.decryptIfEnabled(r.Text)
			reminders = append(reminders, &r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get owner reminders: %w", err)
	}
	return reminders, nil
}

// MarkReminderSent flips is_sent. Cancellation uses the same transition, so a
// reminder row is never deleted.
func (d *Database) MarkReminderSent(ctx context.Context, id int64) error {
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx,
			`UPDATE reminders SET is_sent = 1 WHERE id = ? AND is_sent = 0`, id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrReminderNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrReminderNotFound) {
			return ErrReminderNotFound
		}
		return fmt.Errorf("failed to mark reminder sent: %w", err)
	}
	return nil
}

// MarkAllRemindersSent cancels every unsent reminder for an owner. Returns
// the number affected.
func (d *Database) MarkAllRemindersSent(ctx context.Context, ownerID string) (int64, error) {
	var affected int64
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx,
			`UPDATE reminders SET is_sent = 1 WHERE owner_id = ? AND is_sent = 0`, ownerID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to cancel reminders: %w", err)
	}
	return affected, nil
}
