package execution

import (
	"time"
)

// Lifecycle values for child documents.
const (
	LifecycleActive = "active"
	LifecycleStale  = "stale"
)

// ChildDocument is a persisted derived document materialized from a parent
// execution's output. Children are never deleted, only superseded.
type ChildDocument struct {
	ID               string         `json:"id"`
	ParentDocumentID string         `json:"parent_document_id"`
	SpaceID          string         `json:"space_id"`
	DocTypeID        string         `json:"doc_type_id"`
	Identifier       string         `json:"identifier"` // Stable domain key
	Content          map[string]any `json:"content"`
	Version          int            `json:"version"`
	IsLatest         bool           `json:"is_latest"`
	Lifecycle        string         `json:"lifecycle"`
	Lineage          Lineage        `json:"_lineage"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Ledger entry kinds.
const (
	LedgerKindReport  = "report"
	LedgerKindVerdict = "governance_verdict"
	LedgerKindPrompt  = "prompt"
)

// LedgerEntry is one append-only audit record for an execution. Governance
// verdict entries carry only the redacted verdict and classification, never
// the scanned payload.
type LedgerEntry struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	Kind        string    `json:"kind"`
	Payload     string    `json:"payload"` // JSON-encoded
	CreatedAt   time.Time `json:"created_at"`
}
