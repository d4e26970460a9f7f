package execution

import (
	"time"
)

// Status represents the status of a workflow execution
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"    // Waiting for human input mid-graph
	StatusCompleted Status = "completed" // Reached a terminal node
	StatusFailed    Status = "failed"    // Unrecoverable configuration or internal error
)

// Outcome values shared by node executors and edge matching. Plans may use
// additional outcome strings (e.g. gate classifications); these are the ones
// the engine itself branches on.
const (
	OutcomeSuccess        = "success"
	OutcomeFailed         = "failed"
	OutcomeNeedsUserInput = "needs_user_input"
	OutcomeOutOfScope     = "out_of_scope"
)

// Execution is the mutable row tracking one in-flight run of a plan.
type Execution struct {
	ID             string            `json:"id"`
	PlanID         string            `json:"plan_id"`
	PlanVersion    int               `json:"plan_version"`
	DocumentID     string            `json:"document_id"` // Document whose production this run drives
	SpaceID        string            `json:"space_id"`
	CurrentNodeID  string            `json:"current_node_id"`
	Status         Status            `json:"status"`
	ContextState   map[string]any    `json:"context_state"`
	RetryCounts    map[string]int    `json:"retry_counts"` // Circuit-breaker counters keyed by node id
	PendingPrompt  string            `json:"pending_prompt,omitempty"`
	PendingChoices []string          `json:"pending_choices,omitempty"`
	PendingSchema  string            `json:"pending_schema,omitempty"` // user_input_schema_ref of the paused node
	ThreadID       string            `json:"thread_id,omitempty"`
	LockScope      string            `json:"lock_scope,omitempty"` // project:{id} or epic:{id}
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	LastNodeAt     time.Time         `json:"last_node_at"`
	Terminal       string            `json:"terminal_outcome,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
}

// IsTerminal reports whether the execution has already closed.
func (e *Execution) IsTerminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// Result is produced by every node executor and consumed by the engine's
// routing logic. The engine never constructs Results itself.
type Result struct {
	Outcome           string         `json:"outcome"`
	Metadata          map[string]any `json:"metadata,omitempty"` // Merged into context_state
	RequiresUserInput bool           `json:"requires_user_input,omitempty"`
	UserPrompt        string         `json:"user_prompt,omitempty"`
	UserChoices       []string       `json:"user_choices,omitempty"`
	UserInputSchema   string         `json:"user_input_schema_ref,omitempty"`
	ErrorCode         string         `json:"error_code,omitempty"`
}

// HistoryEntry is one append-only audit record of a node execution.
type HistoryEntry struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	Outcome     string    `json:"outcome"`
	EdgeID      string    `json:"edge_id,omitempty"`
	Attempt     int       `json:"attempt"`
	Forced      bool      `json:"forced"` // Circuit-breaker override, not a plan-authored transition
	ResultJSON  string    `json:"result_data,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChildSpec describes one derived document a node wants materialized.
type ChildSpec struct {
	DocTypeID  string         `json:"doc_type_id"`
	Identifier string         `json:"identifier"` // Stable domain key, e.g. an epic id
	Content    map[string]any `json:"content"`
	Lineage    Lineage        `json:"_lineage"`
}

// Lineage records where a child document came from.
type Lineage struct {
	ParentDocumentType string `json:"parent_document_type"`
	ParentExecutionID  string `json:"parent_execution_id"`
	Transformation     string `json:"transformation"`
}

// ChildChangeSummary is emitted once per spawn pass, and only when at least
// one of the sets is non-empty.
type ChildChangeSummary struct {
	Created    []string `json:"created"`
	Updated    []string `json:"updated"`
	Superseded []string `json:"superseded"`
}

// Empty reports whether the spawn pass changed nothing.
func (s *ChildChangeSummary) Empty() bool {
	return len(s.Created) == 0 && len(s.Updated) == 0 && len(s.Superseded) == 0
}
