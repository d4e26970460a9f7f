package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jordanhubbard/quill/internal/execution"
)

// UpsertExecution inserts or updates an execution row. The engine calls
// this after every node step, so the whole mutable state round-trips.
func (d *Database) UpsertExecution(ctx context.Context, exec *execution.Execution) error {
	if exec == nil {
		return fmt.Errorf("execution cannot be nil")
	}

	contextState, err := marshalJSON(exec.ContextState)
	if err != nil {
		return err
	}
	retryCounts, err := marshalJSON(exec.RetryCounts)
	if err != nil {
		return err
	}
	choices, err := marshalJSON(exec.PendingChoices)
	if err != nil {
		return err
	}
	labels, err := marshalJSON(exec.Labels)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO executions (id, plan_id, plan_version, document_id, space_id,
			current_node_id, status, context_state, retry_counts,
			pending_prompt, pending_choices, pending_schema,
			thread_id, lock_scope, idempotency_key,
			started_at, completed_at, last_node_at, terminal_outcome, failure_reason, labels)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_node_id = excluded.current_node_id,
			status = excluded.status,
			context_state = excluded.context_state,
			retry_counts = excluded.retry_counts,
			pending_prompt = excluded.pending_prompt,
			pending_choices = excluded.pending_choices,
			pending_schema = excluded.pending_schema,
			thread_id = excluded.thread_id,
			completed_at = excluded.completed_at,
			last_node_at = excluded.last_node_at,
			terminal_outcome = excluded.terminal_outcome,
			failure_reason = excluded.failure_reason,
			labels = excluded.labels
	`

	_, err = d.db.ExecContext(ctx, rebind(query),
		exec.ID,
		exec.PlanID,
		exec.PlanVersion,
		exec.DocumentID,
		nullable(exec.SpaceID),
		exec.CurrentNodeID,
		string(exec.Status),
		contextState,
		retryCounts,
		nullable(exec.PendingPrompt),
		choices,
		nullable(exec.PendingSchema),
		nullable(exec.ThreadID),
		nullable(exec.LockScope),
		nullable(exec.IdempotencyKey),
		exec.StartedAt,
		exec.CompletedAt,
		exec.LastNodeAt,
		nullable(exec.Terminal),
		nullable(exec.FailureReason),
		labels,
	)
	return err
}

// GetExecution retrieves an execution by ID.
func (d *Database) GetExecution(ctx context.Context, id string) (*execution.Execution, error) {
	query := `
		SELECT id, plan_id, plan_version, document_id, space_id,
			current_node_id, status, context_state, retry_counts,
			pending_prompt, pending_choices, pending_schema,
			thread_id, lock_scope, idempotency_key,
			started_at, completed_at, last_node_at, terminal_outcome, failure_reason, labels
		FROM executions
		WHERE id = ?
	`
	exec, err := d.scanExecution(d.db.QueryRowContext(ctx, rebind(query), id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution not found: %s", id)
	}
	return exec, err
}

// FindOpenByIdempotencyKey returns the non-terminal execution holding the
// key, or nil when no such execution exists.
func (d *Database) FindOpenByIdempotencyKey(ctx context.Context, key string) (*execution.Execution, error) {
	query := `
		SELECT id, plan_id, plan_version, document_id, space_id,
			current_node_id, status, context_state, retry_counts,
			pending_prompt, pending_choices, pending_schema,
			thread_id, lock_scope, idempotency_key,
			started_at, completed_at, last_node_at, terminal_outcome, failure_reason, labels
		FROM executions
		WHERE idempotency_key = ? AND status IN ('running', 'paused')
		ORDER BY started_at DESC
		LIMIT 1
	`
	exec, err := d.scanExecution(d.db.QueryRowContext(ctx, rebind(query), key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return exec, err
}

// ListExecutionsByDocument returns all executions driving a document, newest
// first.
func (d *Database) ListExecutionsByDocument(ctx context.Context, documentID string) ([]*execution.Execution, error) {
	query := `
		SELECT id, plan_id, plan_version, document_id, space_id,
			current_node_id, status, context_state, retry_counts,
			pending_prompt, pending_choices, pending_schema,
			thread_id, lock_scope, idempotency_key,
			started_at, completed_at, last_node_at, terminal_outcome, failure_reason, labels
		FROM executions
		WHERE document_id = ?
		ORDER BY started_at DESC
	`
	rows, err := d.db.QueryContext(ctx, rebind(query), documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*execution.Execution
	for rows.Next() {
		exec, err := d.scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (d *Database) scanExecution(row rowScanner) (*execution.Execution, error) {
	exec := &execution.Execution{}
	var (
		spaceID, pendingPrompt, pendingSchema       sql.NullString
		threadID, lockScope, idempotencyKey         sql.NullString
		terminal, failureReason                     sql.NullString
		contextState, retryCounts, choices, labels  []byte
		completedAt                                 sql.NullTime
	)

	err := row.Scan(
		&exec.ID,
		&exec.PlanID,
		&exec.PlanVersion,
		&exec.DocumentID,
		&spaceID,
		&exec.CurrentNodeID,
		&exec.Status,
		&contextState,
		&retryCounts,
		&pendingPrompt,
		&choices,
		&pendingSchema,
		&threadID,
		&lockScope,
		&idempotencyKey,
		&exec.StartedAt,
		&completedAt,
		&exec.LastNodeAt,
		&terminal,
		&failureReason,
		&labels,
	)
	if err != nil {
		return nil, err
	}

	exec.SpaceID = spaceID.String
	exec.PendingPrompt = pendingPrompt.String
	exec.PendingSchema = pendingSchema.String
	exec.ThreadID = threadID.String
	exec.LockScope = lockScope.String
	exec.IdempotencyKey = idempotencyKey.String
	exec.Terminal = terminal.String
	exec.FailureReason = failureReason.String
	if completedAt.Valid {
		t := completedAt.Time
		exec.CompletedAt = &t
	}

	exec.ContextState = map[string]any{}
	if err := unmarshalJSON(contextState, &exec.ContextState); err != nil {
		return nil, fmt.Errorf("failed to decode context state for %s: %w", exec.ID, err)
	}
	exec.RetryCounts = map[string]int{}
	if err := unmarshalJSON(retryCounts, &exec.RetryCounts); err != nil {
		return nil, fmt.Errorf("failed to decode retry counts for %s: %w", exec.ID, err)
	}
	if err := unmarshalJSON(choices, &exec.PendingChoices); err != nil {
		return nil, fmt.Errorf("failed to decode pending choices for %s: %w", exec.ID, err)
	}
	if err := unmarshalJSON(labels, &exec.Labels); err != nil {
		return nil, fmt.Errorf("failed to decode labels for %s: %w", exec.ID, err)
	}
	return exec, nil
}

// InsertHistory appends one audit record. History rows are never updated.
func (d *Database) InsertHistory(ctx context.Context, entry *execution.HistoryEntry) error {
	if entry == nil {
		return fmt.Errorf("history entry cannot be nil")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO execution_history (id, execution_id, node_id, outcome, edge_id, attempt, forced, result_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := d.db.ExecContext(ctx, rebind(query),
		entry.ID,
		entry.ExecutionID,
		entry.NodeID,
		entry.Outcome,
		nullable(entry.EdgeID),
		entry.Attempt,
		entry.Forced,
		nullable(entry.ResultJSON),
		entry.CreatedAt,
	)
	return err
}

// ListHistory returns the audit trail of an execution in order.
func (d *Database) ListHistory(ctx context.Context, executionID string) ([]*execution.HistoryEntry, error) {
	query := `
		SELECT id, execution_id, node_id, outcome, edge_id, attempt, forced, result_data, created_at
		FROM execution_history
		WHERE execution_id = ?
		ORDER BY created_at ASC
	`
	rows, err := d.db.QueryContext(ctx, rebind(query), executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*execution.HistoryEntry
	for rows.Next() {
		entry := &execution.HistoryEntry{}
		var edgeID, resultData sql.NullString
		if err := rows.Scan(
			&entry.ID,
			&entry.ExecutionID,
			&entry.NodeID,
			&entry.Outcome,
			&edgeID,
			&entry.Attempt,
			&entry.Forced,
			&resultData,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entry.EdgeID = edgeID.String
		entry.ResultJSON = resultData.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
