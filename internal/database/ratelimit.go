package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatcourier/internal/models"
)

// GetActiveBlock returns the current block for an owner, or nil when none is
// in effect. Durable blocks outlive process restarts.
func (d *Database) GetActiveBlock(ctx context.Context, ownerID string) (*models.RateBlock, error) {
	var block *models.RateBlock
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `
			SELECT owner_id, block_start, block_end, reason FROM rate_blocks
			WHERE owner_id = ? AND block_end > ?`,
			ownerID, d.now().UTC())
		var b models.RateBlock
		if err := row.Scan(&b.OwnerID, &b.BlockStart, &b.BlockEnd, &b.Reason); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		block = &b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get active block: %w", err)
	}
	return block, nil
}

// UpsertBlock persists a block, replacing any previous one for the owner.
func (d *Database) UpsertBlock(ctx context.Context, block *models.RateBlock) error {
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO rate_blocks (owner_id, block_start, block_end, reason)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(owner_id) DO UPDATE SET
				block_start = excluded.block_start,
				block_end = excluded.block_end,
				reason = excluded.reason`,
			block.OwnerID, block.BlockStart.UTC(), block.BlockEnd.UTC(), block.Reason)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upsert rate block: %w", err)
	}
	return nil
}

// ClearBlock removes an owner's block, if any.
func (d *Database) ClearBlock(ctx context.Context, ownerID string) error {
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			`DELETE FROM rate_blocks WHERE owner_id = ?`, ownerID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear rate block: %w", err)
	}
	return nil
}

// RecordViolation appends a threshold breach for the admin surface.
func (d *Database) RecordViolation(ctx context.Context, ownerID, violationType, details string) error {
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO rate_violations (owner_id, violation_type, details, created_at)
			VALUES (?, ?, ?, ?)`,
			ownerID, violationType, details, d.now().UTC())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record rate violation: %w", err)
	}
	return nil
}

// GetRecentViolations returns an owner's violations within the window, newest
// first.
func (d *Database) GetRecentViolations(ctx context.Context, ownerID string, window time.Duration) ([]models.RateViolation, error) {
	cutoff := d.now().UTC().Add(-window)
	var violations []models.RateViolation
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT owner_id, violation_type, details, created_at FROM rate_violations
			WHERE owner_id = ? AND created_at >= ?
			ORDER BY created_at DESC`,
			ownerID, cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var v models.RateViolation
			var details sql.NullString
			if err := rows.Scan(&v.OwnerID, &v.Type, &details, &v.CreatedAt); err != nil {
				return err
			}
			v.Details = details.String
			violations = append(violations, v)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get rate violations: %w", err)
	}
	return violations, nil
}
