// Package worker runs the work-item claim loop: queued start and resume
// requests are claimed in sequence order, serialized per lock scope, and
// handed to the engine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jordanhubbard/quill/internal/engine"
	"github.com/jordanhubbard/quill/internal/execution"
	"github.com/jordanhubbard/quill/internal/lockscope"
	"github.com/jordanhubbard/quill/internal/metrics"
)

// Runner starts and resumes executions. Satisfied by engine.Engine.
type Runner interface {
	StartExecution(ctx context.Context, req engine.StartRequest) (*execution.Execution, error)
	ResumeExecution(ctx context.Context, executionID string, userInput map[string]any, threadID string) (*execution.Execution, error)
}

// Queue is the work-item persistence the pool needs.
type Queue interface {
	ClaimWorkItem(ctx context.Context, workerID string) (*execution.WorkItem, error)
	FinishWorkItem(ctx context.Context, id, status, errorCode string) error
	RequeueStaleClaims(ctx context.Context, olderThan time.Duration) (int, error)
}

// Scopes acquires cross-process lock-scope leases and pre-filters duplicate
// start triggers. Nil-safe via the noopScopes default.
type Scopes interface {
	Acquire(ctx context.Context, scope, holder string) error
	Release(ctx context.Context, scope, holder string) error
	RegisterIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type noopScopes struct{}

func (noopScopes) Acquire(ctx context.Context, scope, holder string) error { return nil }
func (noopScopes) Release(ctx context.Context, scope, holder string) error { return nil }
func (noopScopes) RegisterIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

// Pool manages a fixed set of claim workers.
type Pool struct {
	engine  Runner
	queue   Queue
	scopes  Scopes
	metrics *metrics.Metrics

	size         int
	pollInterval time.Duration
	staleAfter   time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// Options tune the pool. Zero values get defaults.
type Options struct {
	Size         int
	PollInterval time.Duration
	StaleAfter   time.Duration
	Scopes       Scopes
	Metrics      *metrics.Metrics
}

// NewPool creates a claim pool.
func NewPool(eng Runner, queue Queue, opts Options) *Pool {
	if opts.Size <= 0 {
		opts.Size = 4
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.StaleAfter == 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	if opts.Scopes == nil {
		opts.Scopes = noopScopes{}
	}
	return &Pool{
		engine:       eng,
		queue:        queue,
		scopes:       opts.Scopes,
		metrics:      opts.Metrics,
		size:         opts.Size,
		pollInterval: opts.PollInterval,
		staleAfter:   opts.StaleAfter,
	}
}

// Start launches the claim workers and the stale-claim janitor.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("pool already running")
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.running = true

	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		workerID := fmt.Sprintf("wrk-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.claimLoop(ctx, workerID)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.janitorLoop(ctx)
	}()

	go func() {
		wg.Wait()
		close(p.done)
	}()

	log.Printf("[Worker] Started %d claim workers", p.size)
	return nil
}

// Stop cancels the workers and waits for in-flight items to settle.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
	log.Printf("[Worker] Pool stopped")
}

func (p *Pool) claimLoop(ctx context.Context, workerID string) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		item, err := p.queue.ClaimWorkItem(ctx, workerID)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[Worker] %s claim failed: %v", workerID, err)
			}
			continue
		}
		if item == nil {
			continue
		}
		p.process(ctx, workerID, item)
	}
}

func (p *Pool) janitorLoop(ctx context.Context) {
	ticker := time.NewTicker(p.staleAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := p.queue.RequeueStaleClaims(ctx, p.staleAfter)
		if err != nil {
			log.Printf("[Worker] Failed to requeue stale claims: %v", err)
			continue
		}
		if n > 0 {
			log.Printf("[Worker] Requeued %d stale claims", n)
		}
	}
}

func (p *Pool) process(ctx context.Context, workerID string, item *execution.WorkItem) {
	if p.metrics != nil {
		p.metrics.WorkItemsClaimed.WithLabelValues(item.Kind).Inc()
	}

	if err := p.scopes.Acquire(ctx, item.LockScope, workerID); err != nil {
		if errors.Is(err, lockscope.ErrScopeHeld) {
			// Another process holds the scope; put the item back and let
			// sequence order retry it.
			if ferr := p.queue.FinishWorkItem(ctx, item.ID, execution.WorkItemPending, ""); ferr != nil {
				log.Printf("[Worker] Failed to return %s to pending: %v", item.ID, ferr)
			}
			return
		}
		log.Printf("[Worker] %s scope acquire failed for %s: %v", workerID, item.ID, err)
		p.settle(ctx, item, execution.WorkItemFailed, "LOCK_SCOPE_ERROR")
		return
	}
	defer func() {
		if err := p.scopes.Release(ctx, item.LockScope, workerID); err != nil {
			log.Printf("[Worker] Failed to release scope %s: %v", item.LockScope, err)
		}
	}()

	switch item.Kind {
	case execution.WorkItemStart:
		p.handleStart(ctx, item)
	case execution.WorkItemResume:
		p.handleResume(ctx, item)
	default:
		log.Printf("[Worker] Unknown work item kind %s for %s", item.Kind, item.ID)
		p.settle(ctx, item, execution.WorkItemFailed, "UNKNOWN_KIND")
	}
}

func (p *Pool) handleStart(ctx context.Context, item *execution.WorkItem) {
	// Duplicate triggers are dropped before touching the engine. The
	// database lookup inside StartExecution stays authoritative; this only
	// spares it the round trip for repeats within the lease window.
	if item.IdempotencyKey != "" {
		first, err := p.scopes.RegisterIdempotencyKey(ctx, item.IdempotencyKey, 0)
		if err != nil {
			log.Printf("[Worker] Idempotency pre-filter unavailable for %s: %v", item.ID, err)
		} else if !first {
			log.Printf("[Worker] Item %s is a duplicate trigger (key %s), skipping", item.ID, item.IdempotencyKey)
			p.settle(ctx, item, execution.WorkItemDone, "")
			return
		}
	}

	req := engine.StartRequest{
		PlanID:         payloadString(item.Payload, "plan_id"),
		PlanVersion:    payloadInt(item.Payload, "plan_version"),
		DocumentID:     payloadString(item.Payload, "document_id"),
		SpaceID:        payloadString(item.Payload, "space_id"),
		LockScope:      item.LockScope,
		IdempotencyKey: item.IdempotencyKey,
		ThreadID:       payloadString(item.Payload, "thread_id"),
	}
	if initial, ok := item.Payload["initial_context"].(map[string]any); ok {
		req.InitialContext = initial
	}

	exec, err := p.engine.StartExecution(ctx, req)
	if err != nil {
		log.Printf("[Worker] Start failed for item %s: %v", item.ID, err)
		p.settle(ctx, item, execution.WorkItemFailed, "START_FAILED")
		return
	}
	log.Printf("[Worker] Item %s started execution %s (%s)", item.ID, exec.ID, exec.Status)
	p.settle(ctx, item, execution.WorkItemDone, "")
}

func (p *Pool) handleResume(ctx context.Context, item *execution.WorkItem) {
	executionID := payloadString(item.Payload, "execution_id")
	input, _ := item.Payload["input"].(map[string]any)
	threadID := payloadString(item.Payload, "thread_id")

	exec, err := p.engine.ResumeExecution(ctx, executionID, input, threadID)
	if err != nil {
		log.Printf("[Worker] Resume failed for item %s: %v", item.ID, err)
		p.settle(ctx, item, execution.WorkItemFailed, "RESUME_FAILED")
		return
	}
	log.Printf("[Worker] Item %s resumed execution %s (%s)", item.ID, exec.ID, exec.Status)
	p.settle(ctx, item, execution.WorkItemDone, "")
}

func (p *Pool) settle(ctx context.Context, item *execution.WorkItem, status, errorCode string) {
	if err := p.queue.FinishWorkItem(ctx, item.ID, status, errorCode); err != nil {
		log.Printf("[Worker] Failed to settle item %s as %s: %v", item.ID, status, err)
	}
}

func payloadString(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
