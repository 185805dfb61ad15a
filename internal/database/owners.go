package database

import (
	"context"
	"database/sql"
	"fmt"
)

// GetOwnerTimezone returns the IANA zone id stored for an owner, or "" when
// none is set.
func (d *Database) GetOwnerTimezone(ctx context.Context, ownerID string) (string, error) {
	var tz string
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		err := conn.QueryRowContext(ctx,
			`SELECT timezone FROM owner_timezones WHERE owner_id = ?`, ownerID).Scan(&tz)
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to get owner timezone: %w", err)
	}
	return tz, nil
}

// SetOwnerTimezone stores or replaces an owner's zone id.
func (d *Database) SetOwnerTimezone(ctx context.Context, ownerID, timezoneID string) error {
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO owner_timezones (owner_id, timezone, last_updated)
			VALUES (?, ?, ?)
			ON CONFLICT(owner_id) DO UPDATE SET
				timezone = excluded.timezone,
				last_updated = excluded.last_updated`,
			ownerID, timezoneID, d.now().UTC())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to set owner timezone: %w", err)
	}
	return nil
}

// IsAuthorizedSender reports whether an owner may use the service. An empty
// allowlist admits everyone.
func (d *Database) IsAuthorizedSender(ctx context.Context, ownerID string) (bool, error) {
	var total, matched int
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		if err := conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM authorized_senders`).Scan(&total); err != nil {
			return err
		}
		if total == 0 {
			return nil
		}
		return conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM authorized_senders WHERE owner_id = ?`, ownerID).Scan(&matched)
	})
	if err != nil {
		return false, fmt.Errorf("failed to check authorized sender: %w", err)
	}
	if total == 0 {
		return true, nil
	}
	return matched > 0, nil
}

// AddAuthorizedSender adds or updates an allowlist entry.
func (d *Database) AddAuthorizedSender(ctx context.Context, ownerID, name, addedBy string) error {
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO authorized_senders (owner_id, name, added_by, added_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(owner_id) DO UPDATE SET
				name = excluded.name,
				added_by = excluded.added_by`,
			ownerID, name, addedBy, d.now().UTC())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to add authorized sender: %w", err)
	}
	return nil
}

// RemoveAuthorizedSender deletes an allowlist entry.
func (d *Database) RemoveAuthorizedSender(ctx context.Context, ownerID string) error {
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			`DELETE FROM authorized_senders WHERE owner_id = ?`, ownerID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to remove authorized sender: %w", err)
	}
	return nil
}
