package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatcourier/internal/models"
)

var (
	// ErrDuplicateItem signals that an item with the same content hash is
	// already queued. The caller treats this as a dedup hit, not a failure.
	ErrDuplicateItem = errors.New("queue item with this content hash already exists")

	// ErrItemNotFound signals that no queue item matches the given id.
	ErrItemNotFound = errors.New("queue item not found")
)

const queueItemColumns = `id, owner_id, payload, reply, status, retry_count,
	next_retry_at, content_hash, error_message, metadata, created_at, updated_at`

// EnqueueItem inserts a new pending queue item. The UNIQUE constraint on
// content_hash is the dedup authority; a violation comes back as
// ErrDuplicateItem.
func (d *Database) EnqueueItem(ctx context.Context, ownerID, payload, contentHash string, metadata map[string]string) (int64, error) {
	encPayload, err := d.encryptor.encryptIfEnabled(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt payload: %w", err)
	}

	metaJSON := "{}"
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metaJSON = string(raw)
	}

	var id int64
	err = d.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
			INSERT INTO queue_items (owner_id, payload, status, retry_count, next_retry_at, content_hash, metadata)
			VALUES (?, ?, ?, 0, ?, ?, ?)`,
			ownerID, encPayload, models.MessageStatusPending, d.now().UTC(), contentHash, metaJSON)
		if err != nil {
			if isUniqueConstraintError(err) {
				return ErrDuplicateItem
			}
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateItem) {
			return 0, ErrDuplicateItem
		}
		return 0, fmt.Errorf("failed to enqueue item: %w", err)
	}
	return id, nil
}

// GetItem fetches a single queue item by id.
func (d *Database) GetItem(ctx context.Context, id int64) (*models.QueueItem, error) {
	var item *models.QueueItem
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx,
			`SELECT `+queueItemColumns+` FROM queue_items WHERE id = ?`, id)
		var scanErr error
		item, scanErr = d.scanQueueItem(row)
		return scanErr
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return item, nil
}

// ClaimPendingBatch atomically marks up to limit due pending items as
// in_progress and returns them oldest first. Due means next_retry_at is at or
// before now.
func (d *Database) ClaimPendingBatch(ctx context.Context, limit int) ([]*models.QueueItem, error) {
	var items []*models.QueueItem
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		rows, err := tx.QueryContext(ctx, `
			SELECT `+queueItemColumns+` FROM queue_items
			WHERE status = ? AND next_retry_at <= ?
			ORDER BY created_at ASC, id ASC
			LIMIT ?`,
			models.MessageStatusPending, d.now().UTC(), limit)
		if err != nil {
			return err
		}
		items, err = d.scanQueueItems(rows)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return tx.Commit()
		}

		ids := make([]interface{}, len(items))
		placeholders := make([]string, len(items))
		for i, item := range items {
			ids[i] = item.ID
			placeholders[i] = "?"
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_items SET status = ? WHERE id IN (`+strings.Join(placeholders, ",")+`)`,
			append([]interface{}{models.MessageStatusInProgress}, ids...)...); err != nil {
			return err
		}
		for _, item := range items {
			item.Status = models.MessageStatusInProgress
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending batch: %w", err)
	}
	return items, nil
}

// MarkCompleted records a successful delivery together with the reply that
// was sent.
func (d *Database) MarkCompleted(ctx context.Context, id int64, reply string) error {
	encReply, err := d.encryptor.encryptIfEnabled(reply)
	if err != nil {
		return fmt.Errorf("failed to encrypt reply: %w", err)
	}
	return d.updateItem(ctx, id, `
		UPDATE queue_items SET status = ?, reply = ?, error_message = NULL WHERE id = ?`,
		models.MessageStatusCompleted, encReply, id)
}

// MarkFailed moves an item to the terminal failed state.
func (d *Database) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return d.updateItem(ctx, id, `
		UPDATE queue_items SET status = ?, error_message = ? WHERE id = ?`,
		models.MessageStatusFailed, errMsg, id)
}

// ScheduleRetry returns an item to pending with an incremented retry count
// and a future due time.
func (d *Database) ScheduleRetry(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time, errMsg string) error {
	return d.updateItem(ctx, id, `
		UPDATE queue_items SET status = ?, retry_count = ?, next_retry_at = ?, error_message = ? WHERE id = ?`,
		models.MessageStatusPending, retryCount, nextRetryAt.UTC(), errMsg, id)
}

// CancelItem cancels a pending item. Items already picked up or finished are
// left alone and ErrItemNotFound is returned.
func (d *Database) CancelItem(ctx context.Context, id int64) error {
	return d.updateItem(ctx, id, `
		UPDATE queue_items SET status = ? WHERE id = ? AND status = ?`,
		models.MessageStatusCancelled, id, models.MessageStatusPending)
}

// FailAllPending marks every pending and in-progress item failed with the
// given reason. Used when the delivery credential is being refreshed and
// retrying would only burn attempts.
func (d *Database) FailAllPending(ctx context.Context, reason string) (int64, error) {
	var affected int64
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
			UPDATE queue_items SET status = ?, error_message = ?
			WHERE status IN (?, ?)`,
			models.MessageStatusFailed, reason,
			models.MessageStatusPending, models.MessageStatusInProgress)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fail pending items: %w", err)
	}
	return affected, nil
}

// ResetStaleInProgress returns in-progress items older than the cutoff to
// pending. Run once at processor startup to reclaim work orphaned by a crash.
func (d *Database) ResetStaleInProgress(ctx context.Context, olderThan time.Time) (int64, error) {
	var affected int64
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
			UPDATE queue_items SET status = ?, next_retry_at = ?
			WHERE status = ? AND updated_at <= ?`,
			models.MessageStatusPending, d.now().UTC(),
			models.MessageStatusInProgress, olderThan.UTC())
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale items: %w", err)
	}
	return affected, nil
}

// CountPendingOlderThan counts pending items created before the cutoff. Used
// for backlog warnings.
func (d *Database) CountPendingOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM queue_items WHERE status = ? AND created_at <= ?`,
			models.MessageStatusPending, cutoff.UTC()).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count backlog: %w", err)
	}
	return count, nil
}

// GetQueueSnapshot summarizes queue state for the admin surface.
func (d *Database) GetQueueSnapshot(ctx context.Context) (*models.QueueSnapshot, error) {
	snapshot := &models.QueueSnapshot{StatusCounts: make(map[models.MessageStatus]int)}
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx,
			`SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var status string
			var count int
			if err := rows.Scan(&status, &count); err != nil {
				return err
			}
			snapshot.StatusCounts[models.MessageStatus(status)] = count
		}
		if err := rows.Err(); err != nil {
			return err
		}
		snapshot.PendingCount = snapshot.StatusCounts[models.MessageStatusPending]

		var oldest sql.NullTime
		if err := conn.QueryRowContext(ctx, `
			SELECT MIN(created_at) FROM queue_items WHERE status = ?`,
			models.MessageStatusPending).Scan(&oldest); err != nil {
			return err
		}
		if oldest.Valid {
			t := oldest.Time.UTC()
			snapshot.OldestPending = &t
		}

		dayAgo := d.now().UTC().Add(-24 * time.Hour)
		return conn.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM queue_items WHERE status = ? AND updated_at >= ?`,
			models.MessageStatusFailed, dayAgo).Scan(&snapshot.RecentFailures)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build queue snapshot: %w", err)
	}
	return snapshot, nil
}

// GetConversationHistory returns the most recent completed exchanges for an
// owner, oldest first, up to turns payload/reply pairs.
func (d *Database) GetConversationHistory(ctx context.Context, ownerID string, turns int) ([]models.ConversationTurn, error) {
	var history []models.ConversationTurn
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT payload, reply FROM queue_items
			WHERE owner_id = ? AND status = ? AND reply IS NOT NULL
			ORDER BY created_at DESC, id DESC
			LIMIT ?`,
			ownerID, models.MessageStatusCompleted, turns)
		if err != nil {
			return err
		}
		defer rows.Close()

		var pairs [][2]string
		for rows.Next() {
			var payload, reply string
			if err := rows.Scan(&payload, &reply); err != nil {
				return err
			}
			payload, _ = d.encryptor.decryptIfEnabled(payload)
			reply, _ = d.encryptor.decryptIfEnabled(reply)
			pairs = append(pairs, [2]string{payload, reply})
		}
		if err := rows.Err(); err != nil {
			return err
		}

		// Rows come back newest first; the conversation reads oldest first.
		for i := len(pairs) - 1; i >= 0; i-- {
			history = append(history,
				models.ConversationTurn{Role: "user", Content: pairs[i][0]},
				models.ConversationTurn{Role: "assistant", Content: pairs[i][1]})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	return history, nil
}

// CleanupOldRecords deletes terminal queue items and expired rate state older
// than retentionDays. Returns the number of queue rows removed.
func (d *Database) CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := d.now().UTC().AddDate(0, 0, -retentionDays)
	var deleted int64
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
			DELETE FROM queue_items
			WHERE status IN (?, ?, ?) AND updated_at <= ?`,
			models.MessageStatusCompleted, models.MessageStatusFailed, models.MessageStatusCancelled,
			cutoff)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		if err != nil {
			return err
		}
		if _, err := conn.ExecContext(ctx,
			`DELETE FROM rate_violations WHERE created_at <= ?`, cutoff); err != nil {
			return err
		}
		if _, err := conn.ExecContext(ctx,
			`DELETE FROM rate_blocks WHERE block_end <= ?`, d.now().UTC()); err != nil {
			return err
		}
		_, err = conn.ExecContext(ctx,
			`DELETE FROM inbound_events WHERE processed_at <= ?`, cutoff)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old records: %w", err)
	}
	return deleted, nil
}

func (d *Database) updateItem(ctx context.Context, id int64, query string, args ...interface{}) error {
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrItemNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return ErrItemNotFound
		}
		return fmt.Errorf("failed to update queue item %d: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanQueueItem(row rowScanner) (*models.QueueItem, error) {
	var item models.QueueItem
	var reply, errMsg sql.NullString
	var metaJSON string
	if err := row.Scan(&item.ID, &item.OwnerID, &item.Payload, &reply, &item.Status,
		&item.RetryCount, &item.NextRetryAt, &item.ContentHash, &errMsg, &metaJSON,
		&item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}

	item.Payload, _ = d.encryptor.decryptIfEnabled(item.Payload)
	if reply.Valid {
		decrypted, _ := d.encryptor.decryptIfEnabled(reply.String)
		item.Reply = &decrypted
	}
	if errMsg.Valid {
		item.ErrorMessage = &errMsg.String
	}
	if metaJSON != "" && metaJSON != "{}" {
		if err := json.Unmarshal([]byte(metaJSON), &item.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &item, nil
}

func (d *Database) scanQueueItems(rows *sql.Rows) ([]*models.QueueItem, error) {
	defer rows.Close()
	var items []*models.QueueItem
	for rows.Next() {
		item, err := d.scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
