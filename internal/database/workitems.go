package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jordanhubbard/quill/internal/execution"
)

// EnqueueWorkItem inserts a pending work item. Sequence is assigned by the
// database so claim order is global.
func (d *Database) EnqueueWorkItem(ctx context.Context, item *execution.WorkItem) error {
	if item == nil {
		return fmt.Errorf("work item cannot be nil")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	item.UpdatedAt = time.Now()

	payload, err := marshalJSON(item.Payload)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO work_items (id, kind, payload, status, lock_scope, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING sequence
	`
	return d.db.QueryRowContext(ctx, rebind(query),
		item.ID,
		item.Kind,
		payload,
		execution.WorkItemPending,
		nullable(item.LockScope),
		nullable(item.IdempotencyKey),
		item.CreatedAt,
		item.UpdatedAt,
	).Scan(&item.Sequence)
}

// ClaimWorkItem atomically claims the oldest pending item whose lock scope
// is not already held by a claimed item. SKIP LOCKED lets multiple workers
// poll the same table without serializing on each other.
func (d *Database) ClaimWorkItem(ctx context.Context, workerID string) (*execution.WorkItem, error) {
	query := `
		UPDATE work_items
		SET status = 'claimed', claimed_by = ?, claimed_at = ?, updated_at = ?
		WHERE id = (
			SELECT w.id FROM work_items w
			WHERE w.status = 'pending'
			AND (w.lock_scope IS NULL OR NOT EXISTS (
				SELECT 1 FROM work_items h
				WHERE h.lock_scope = w.lock_scope AND h.status = 'claimed'
			))
			ORDER BY w.sequence
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, sequence, kind, payload, status, lock_scope, idempotency_key,
			error_code, claimed_by, claimed_at, created_at, updated_at
	`
	now := time.Now()
	item, err := scanWorkItem(d.db.QueryRowContext(ctx, rebind(query), workerID, now, now))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// FinishWorkItem settles a claimed item. errorCode is empty for done items.
func (d *Database) FinishWorkItem(ctx context.Context, id, status, errorCode string) error {
	query := `
		UPDATE work_items
		SET status = ?, error_code = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := d.db.ExecContext(ctx, rebind(query), status, nullable(errorCode), time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("work item not found: %s", id)
	}
	return nil
}

// RequeueStaleClaims returns items claimed longer than the timeout to
// pending, recovering from worker crashes.
func (d *Database) RequeueStaleClaims(ctx context.Context, olderThan time.Duration) (int, error) {
	query := `
		UPDATE work_items
		SET status = 'pending', claimed_by = NULL, claimed_at = NULL, updated_at = ?
		WHERE status = 'claimed' AND claimed_at < ?
	`
	result, err := d.db.ExecContext(ctx, rebind(query), time.Now(), time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func scanWorkItem(row rowScanner) (*execution.WorkItem, error) {
	item := &execution.WorkItem{}
	var (
		payload                          []byte
		lockScope, idemKey, errorCode    sql.NullString
		claimedBy                        sql.NullString
		claimedAt                        sql.NullTime
	)
	err := row.Scan(
		&item.ID,
		&item.Sequence,
		&item.Kind,
		&payload,
		&item.Status,
		&lockScope,
		&idemKey,
		&errorCode,
		&claimedBy,
		&claimedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.LockScope = lockScope.String
	item.IdempotencyKey = idemKey.String
	item.ErrorCode = errorCode.String
	item.ClaimedBy = claimedBy.String
	if claimedAt.Valid {
		t := claimedAt.Time
		item.ClaimedAt = &t
	}
	item.Payload = map[string]any{}
	if err := unmarshalJSON(payload, &item.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload for work item %s: %w", item.ID, err)
	}
	return item, nil
}
