package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanhubbard/quill/internal/execution"
)

// AppendLedger writes one append-only ledger record. Ledger rows are never
// updated or deleted.
func (d *Database) AppendLedger(ctx context.Context, entry *execution.LedgerEntry) error {
	if entry == nil {
		return fmt.Errorf("ledger entry cannot be nil")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO execution_ledger (id, execution_id, node_id, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := d.db.ExecContext(ctx, rebind(query),
		entry.ID,
		entry.ExecutionID,
		entry.NodeID,
		entry.Kind,
		entry.Payload,
		entry.CreatedAt,
	)
	return err
}

// ListLedger returns an execution's ledger in append order, optionally
// filtered by kind.
func (d *Database) ListLedger(ctx context.Context, executionID, kind string) ([]*execution.LedgerEntry, error) {
	query := `
		SELECT id, execution_id, node_id, kind, payload, created_at
		FROM execution_ledger
		WHERE execution_id = ?
	`
	args := []interface{}{executionID}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY created_at ASC"

	rows, err := d.db.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*execution.LedgerEntry
	for rows.Next() {
		entry := &execution.LedgerEntry{}
		if err := rows.Scan(
			&entry.ID,
			&entry.ExecutionID,
			&entry.NodeID,
			&entry.Kind,
			&entry.Payload,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
