package execution

import (
	"time"
)

// Work item kinds.
const (
	WorkItemStart  = "start_execution"
	WorkItemResume = "resume_execution"
)

// Work item statuses.
const (
	WorkItemPending   = "pending"
	WorkItemClaimed   = "claimed"
	WorkItemDone      = "done"
	WorkItemFailed    = "failed"
	WorkItemDeferred  = "deferred" // Lock scope held by another execution
)

// WorkItem is one queued request to start or resume an execution. Items in
// the same lock scope are processed one at a time in sequence order.
type WorkItem struct {
	ID             string         `json:"id"`
	Sequence       int64          `json:"sequence"`
	Kind           string         `json:"kind"`
	Payload        map[string]any `json:"payload"`
	Status         string         `json:"status"`
	LockScope      string         `json:"lock_scope,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
	ClaimedBy      string         `json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time     `json:"claimed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
