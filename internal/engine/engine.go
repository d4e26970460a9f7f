// Package engine is the plan executor: it loads a plan, advances a persisted
// execution through its nodes one step at a time, applies routing and
// circuit-breaker policy, pauses for human input, and materializes child
// documents idempotently.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/quill/internal/execution"
	"github.com/jordanhubbard/quill/internal/metrics"
	"github.com/jordanhubbard/quill/internal/node"
	"github.com/jordanhubbard/quill/internal/plan"
	"github.com/jordanhubbard/quill/internal/telemetry"
)

// Store is the persistence the engine needs. Executions are upserted after
// every step so a crash between node completion and persistence is
// recoverable by re-running the same node.
type Store interface {
	UpsertExecution(ctx context.Context, exec *execution.Execution) error
	GetExecution(ctx context.Context, id string) (*execution.Execution, error)
	FindOpenByIdempotencyKey(ctx context.Context, key string) (*execution.Execution, error)
	InsertHistory(ctx context.Context, entry *execution.HistoryEntry) error
	AppendLedger(ctx context.Context, entry *execution.LedgerEntry) error
	ListChildren(ctx context.Context, parentDocumentID string) ([]*execution.ChildDocument, error)
	CreateChild(ctx context.Context, doc *execution.ChildDocument) error
	UpdateChild(ctx context.Context, doc *execution.ChildDocument) error
	SupersedeChild(ctx context.Context, id string) error
	EnqueueWorkItem(ctx context.Context, item *execution.WorkItem) error
}

// EventSink receives fire-and-forget notifications. Implementations must
// not block the step loop on delivery.
type EventSink interface {
	Publish(ctx context.Context, eventType string, payload map[string]any) error
}

// NodeRegistry dispatches node types to executors. Satisfied by
// node.Registry.
type NodeRegistry interface {
	Get(t plan.NodeType) (node.Executor, error)
	Check(p *plan.Plan) error
}

// Engine advances workflow executions through their plans.
type Engine struct {
	store   Store
	plans   *plan.Store
	nodes   NodeRegistry
	events  EventSink
	metrics *metrics.Metrics
}

// New creates an engine. events may be nil when no sink is configured.
func New(store Store, plans *plan.Store, nodes NodeRegistry, events EventSink, m *metrics.Metrics) *Engine {
	return &Engine{
		store:   store,
		plans:   plans,
		nodes:   nodes,
		events:  events,
		metrics: m,
	}
}

// StartRequest describes an externally-triggered execution start.
type StartRequest struct {
	PlanID         string
	PlanVersion    int // 0 = latest
	DocumentID     string
	SpaceID        string
	InitialContext map[string]any
	LockScope      string
	IdempotencyKey string
	ThreadID       string
}

// StartExecution creates (or re-finds, under the idempotency key) an
// execution seeded at the plan's first entry node, then runs it until it
// pauses or terminates.
func (e *Engine) StartExecution(ctx context.Context, req StartRequest) (*execution.Execution, error) {
	if req.PlanID == "" {
		return nil, fmt.Errorf("plan id cannot be empty")
	}
	if req.DocumentID == "" {
		return nil, fmt.Errorf("document id cannot be empty")
	}

	if req.IdempotencyKey != "" {
		existing, err := e.store.FindOpenByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if existing != nil {
			log.Printf("[Engine] Reusing open execution %s for idempotency key %s", existing.ID, req.IdempotencyKey)
			return existing, nil
		}
	}

	p, err := e.resolvePlan(req.PlanID, req.PlanVersion)
	if err != nil {
		return nil, err
	}

	state := make(map[string]any, len(req.InitialContext))
	for k, v := range req.InitialContext {
		state[k] = v
	}

	exec := &execution.Execution{
		ID:             fmt.Sprintf("wfex-%s", uuid.New().String()[:8]),
		PlanID:         p.ID,
		PlanVersion:    p.Version,
		DocumentID:     req.DocumentID,
		SpaceID:        req.SpaceID,
		CurrentNodeID:  p.EntryNodeIDs[0],
		Status:         execution.StatusRunning,
		ContextState:   state,
		RetryCounts:    make(map[string]int),
		ThreadID:       req.ThreadID,
		LockScope:      req.LockScope,
		IdempotencyKey: req.IdempotencyKey,
		StartedAt:      time.Now(),
		LastNodeAt:     time.Now(),
	}

	if err := e.store.UpsertExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	log.Printf("[Engine] Started execution %s of plan %s v%d for document %s",
		exec.ID, p.ID, p.Version, req.DocumentID)
	telemetry.Add(ctx, telemetry.ExecutionsStarted, 1)
	if e.metrics != nil {
		e.metrics.ExecutionsTotal.WithLabelValues(p.ID).Inc()
		e.metrics.ExecutionsActive.WithLabelValues(p.ID).Inc()
	}
	e.emit(ctx, "execution_started", map[string]any{
		"execution_id": exec.ID,
		"plan_id":      p.ID,
		"document_id":  req.DocumentID,
	})

	if err := e.run(ctx, p, exec); err != nil {
		return exec, err
	}
	return exec, nil
}

// ResumeExecution re-enters a paused execution with new human input merged
// into context. The paused node decides what to do with it; malformed input
// re-prompts rather than advancing.
func (e *Engine) ResumeExecution(ctx context.Context, executionID string, userInput map[string]any, threadID string) (*execution.Execution, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	if exec.Status != execution.StatusPaused {
		return nil, fmt.Errorf("execution %s is %s, not paused", executionID, exec.Status)
	}

	p, err := e.plans.Get(exec.PlanID, exec.PlanVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan for resume: %w", err)
	}

	execution.SetUserInput(exec.ContextState, userInput)
	if threadID != "" {
		exec.ThreadID = threadID
	}
	exec.Status = execution.StatusRunning
	exec.PendingPrompt = ""
	exec.PendingChoices = nil
	exec.PendingSchema = ""

	if err := e.store.UpsertExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to persist resume: %w", err)
	}

	log.Printf("[Engine] Resumed execution %s at node %s", exec.ID, exec.CurrentNodeID)
	if e.metrics != nil {
		e.metrics.ExecutionsResumed.WithLabelValues(p.ID).Inc()
	}

	if err := e.run(ctx, p, exec); err != nil {
		return exec, err
	}
	return exec, nil
}

// GetExecution loads an execution by id.
func (e *Engine) GetExecution(ctx context.Context, id string) (*execution.Execution, error) {
	return e.store.GetExecution(ctx, id)
}

func (e *Engine) resolvePlan(id string, version int) (*plan.Plan, error) {
	var p *plan.Plan
	var err error
	if version > 0 {
		p, err = e.plans.Get(id, version)
	} else {
		p, err = e.plans.Latest(id)
	}
	if err != nil {
		return nil, err
	}
	// Exhaustiveness is a startup concern, but plans hot-reload, so the
	// check repeats when each execution starts.
	if checkErr := e.nodes.Check(p); checkErr != nil {
		return nil, checkErr
	}
	return p, nil
}

// emit publishes a notification without letting sink failures disturb the
// step loop.
func (e *Engine) emit(ctx context.Context, eventType string, payload map[string]any) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, eventType, payload); err != nil {
		log.Printf("[Engine] Warning: failed to publish %s event: %v", eventType, err)
	}
	if e.metrics != nil {
		e.metrics.EventsPublished.WithLabelValues(eventType).Inc()
	}
}

func encodeResult(result *execution.Result) string {
	b, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(b)
}
