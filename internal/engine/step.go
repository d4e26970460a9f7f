package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/quill/internal/execution"
	"github.com/jordanhubbard/quill/internal/governance"
	"github.com/jordanhubbard/quill/internal/plan"
	"github.com/jordanhubbard/quill/internal/telemetry"
)

// maxStepsPerRun bounds one synchronous advance so a plan whose edges cycle
// without pausing cannot spin the worker forever. Legitimate loops pass
// through QA/remediation and are bounded by the circuit breaker well below
// this.
const maxStepsPerRun = 200

// run advances the execution until it pauses, terminates, or fails. State
// is persisted after every step, so re-running after a crash re-enters the
// current node; executors are re-entrant for exactly that reason.
func (e *Engine) run(ctx context.Context, p *plan.Plan, exec *execution.Execution) error {
	for steps := 0; ; steps++ {
		if exec.IsTerminal() {
			return nil
		}
		if steps >= maxStepsPerRun {
			return e.failExecution(ctx, exec,
				fmt.Sprintf("step budget exceeded at node %s: plan cycles without pausing", exec.CurrentNodeID))
		}

		n := p.NodeByID(exec.CurrentNodeID)
		if n == nil {
			return e.failExecution(ctx, exec,
				fmt.Sprintf("current node %s not found in plan %s v%d", exec.CurrentNodeID, p.ID, p.Version))
		}

		executor, err := e.nodes.Get(n.Type)
		if err != nil {
			return e.failExecution(ctx, exec, err.Error())
		}

		started := time.Now()
		result, err := executor.Execute(ctx, n, exec)
		elapsed := time.Since(started)
		telemetry.Add(ctx, telemetry.NodesExecuted, 1)
		telemetry.Record(ctx, telemetry.NodeLatency, float64(elapsed.Milliseconds()))
		if e.metrics != nil {
			e.metrics.NodeDuration.WithLabelValues(string(n.Type)).Observe(elapsed.Seconds())
		}

		if err != nil {
			var hardStop *governance.HardStopError
			if errors.As(err, &hardStop) {
				return e.hardStop(ctx, exec, n, hardStop)
			}
			// Unexpected executor error: a bug, not a business failure.
			return e.failExecution(ctx, exec, fmt.Sprintf("node %s: %v", n.NodeID, err))
		}

		if e.metrics != nil {
			e.metrics.NodeExecutions.WithLabelValues(string(n.Type), result.Outcome).Inc()
		}

		execution.Merge(exec.ContextState, result.Metadata)
		exec.LastNodeAt = time.Now()

		e.appendLedger(ctx, exec, n.NodeID, execution.LedgerKindReport, encodeResult(result))

		if n.Type == plan.NodeTypeEnd {
			e.closeExecution(ctx, p, exec, n)
			return nil
		}

		if specs := decodeChildSpecs(result.Metadata, exec); len(specs) > 0 {
			if _, err := e.SpawnChildren(ctx, exec, specs); err != nil {
				log.Printf("[Engine] Warning: child spawn failed for %s: %v", exec.ID, err)
			}
		}

		if receipt, ok := result.Metadata["spawn_receipt"].(map[string]any); ok {
			if err := e.enqueueSpawn(ctx, exec, receipt); err != nil {
				log.Printf("[Engine] Warning: spawn receipt not enqueued for %s: %v", exec.ID, err)
			}
		}

		// Circuit breaker: a safety override, not a plan-authored edge.
		if result.Outcome == execution.OutcomeFailed && p.Governance.BreakerApplies(n.Type) {
			exec.RetryCounts[n.NodeID]++
			if e.metrics != nil {
				e.metrics.NodeRetries.WithLabelValues(p.ID, n.NodeID).Inc()
			}
			if exec.RetryCounts[n.NodeID] > p.Governance.CircuitBreaker.MaxRetries {
				if err := e.tripBreaker(ctx, p, exec, n); err != nil {
					return err
				}
				continue
			}
		}

		edge, err := resolveEdge(p, n.NodeID, result.Outcome, exec.ContextState)
		if err != nil {
			// No matching edge is a configuration error: fail fast rather
			// than silently stalling.
			return e.failExecution(ctx, exec, err.Error())
		}

		e.recordHistory(ctx, exec, n.NodeID, result.Outcome, edge.EdgeID, false)

		if result.RequiresUserInput {
			return e.pauseExecution(ctx, p, exec, n, result)
		}

		if edge.NonAdvancing {
			return e.failExecution(ctx, exec,
				fmt.Sprintf("non-advancing edge %s matched a result that does not pause; node %s would spin",
					edge.EdgeID, n.NodeID))
		}

		exec.CurrentNodeID = edge.ToNodeID
		if err := e.store.UpsertExecution(ctx, exec); err != nil {
			return fmt.Errorf("failed to persist transition: %w", err)
		}
	}
}

// resolveEdge selects the single edge matching the node's outcome whose
// conditions all hold against context state.
func resolveEdge(p *plan.Plan, nodeID, outcome string, state map[string]any) (*plan.Edge, error) {
	for _, edge := range p.EdgesFrom(nodeID) {
		if edge.Outcome != outcome {
			continue
		}
		if conditionsHold(edge.Conditions, state) {
			e := edge
			return &e, nil
		}
	}
	return nil, fmt.Errorf("no edge from node %s matches outcome %q", nodeID, outcome)
}

func conditionsHold(conditions []plan.Condition, state map[string]any) bool {
	for _, c := range conditions {
		if fmt.Sprintf("%v", state[c.Key]) != c.Equals {
			return false
		}
	}
	return true
}

// tripBreaker force-routes the execution to the blocked terminal.
func (e *Engine) tripBreaker(ctx context.Context, p *plan.Plan, exec *execution.Execution, n *plan.Node) error {
	blocked := p.TerminalFor(plan.TerminalBlocked)
	if blocked == nil {
		return e.failExecution(ctx, exec, "circuit breaker tripped but plan has no blocked terminal")
	}

	log.Printf("[Engine] CIRCUIT BREAKER: node %s of execution %s exceeded %d retries, forcing %s",
		n.NodeID, exec.ID, p.Governance.CircuitBreaker.MaxRetries, blocked.NodeID)
	telemetry.Add(ctx, telemetry.BreakerTrips, 1)
	if e.metrics != nil {
		e.metrics.BreakerTrips.WithLabelValues(p.ID, n.NodeID).Inc()
	}

	e.recordHistory(ctx, exec, n.NodeID, execution.OutcomeFailed, "", true)
	exec.CurrentNodeID = blocked.NodeID
	if err := e.store.UpsertExecution(ctx, exec); err != nil {
		return fmt.Errorf("failed to persist breaker transition: %w", err)
	}

	e.emit(ctx, "breaker_tripped", map[string]any{
		"execution_id": exec.ID,
		"node_id":      n.NodeID,
		"max_retries":  p.Governance.CircuitBreaker.MaxRetries,
	})
	return nil
}

// pauseExecution suspends the graph at the current node for human input.
func (e *Engine) pauseExecution(ctx context.Context, p *plan.Plan, exec *execution.Execution, n *plan.Node, result *execution.Result) error {
	exec.Status = execution.StatusPaused
	exec.PendingPrompt = result.UserPrompt
	exec.PendingChoices = result.UserChoices
	exec.PendingSchema = result.UserInputSchema

	if err := e.store.UpsertExecution(ctx, exec); err != nil {
		return fmt.Errorf("failed to persist pause: %w", err)
	}

	log.Printf("[Engine] Execution %s paused at node %s for user input", exec.ID, n.NodeID)
	telemetry.Add(ctx, telemetry.ExecutionsPaused, 1)
	if e.metrics != nil {
		e.metrics.ExecutionsPaused.WithLabelValues(p.ID, n.NodeID).Inc()
	}
	e.emit(ctx, "execution_paused", map[string]any{
		"execution_id": exec.ID,
		"node_id":      n.NodeID,
		"prompt":       result.UserPrompt,
		"schema_ref":   result.UserInputSchema,
	})
	return nil
}

// closeExecution reaches a terminal state exactly once.
func (e *Engine) closeExecution(ctx context.Context, p *plan.Plan, exec *execution.Execution, n *plan.Node) {
	if exec.IsTerminal() {
		return
	}
	now := time.Now()
	exec.Status = execution.StatusCompleted
	exec.Terminal = string(n.TerminalOutcome)
	exec.CompletedAt = &now

	if err := e.store.UpsertExecution(ctx, exec); err != nil {
		log.Printf("[Engine] Warning: failed to persist terminal state for %s: %v", exec.ID, err)
		return
	}

	log.Printf("[Engine] Execution %s completed with terminal outcome %s", exec.ID, n.TerminalOutcome)
	telemetry.Add(ctx, telemetry.ExecutionsCompleted, 1)
	if e.metrics != nil {
		e.metrics.ExecutionsActive.WithLabelValues(p.ID).Dec()
		e.metrics.ExecutionTerminals.WithLabelValues(p.ID, string(n.TerminalOutcome)).Inc()
		e.metrics.ExecutionDuration.WithLabelValues(p.ID, string(n.TerminalOutcome)).
			Observe(now.Sub(exec.StartedAt).Seconds())
	}
	e.emit(ctx, "execution_completed", map[string]any{
		"execution_id": exec.ID,
		"terminal":     string(n.TerminalOutcome),
	})
}

// hardStop aborts the current node without persisting its output. The
// persisted execution (from before the node ran) is reloaded so nothing the
// node wrote to context survives, and the ledger records only the redacted
// verdict.
func (e *Engine) hardStop(ctx context.Context, exec *execution.Execution, n *plan.Node, hs *governance.HardStopError) error {
	persisted, err := e.store.GetExecution(ctx, exec.ID)
	if err != nil {
		log.Printf("[Engine] Warning: hard stop could not reload execution %s: %v", exec.ID, err)
		persisted = exec
		persisted.ContextState = map[string]any{}
	}

	now := time.Now()
	persisted.Status = execution.StatusFailed
	persisted.FailureReason = "governance_hard_stop"
	persisted.CompletedAt = &now
	if err := e.store.UpsertExecution(ctx, persisted); err != nil {
		return fmt.Errorf("failed to persist hard stop: %w", err)
	}

	verdict, _ := json.Marshal(map[string]string{
		"verdict":        string(governance.VerdictSecretDetected),
		"classification": hs.Classification,
	})
	e.appendLedger(ctx, persisted, n.NodeID, execution.LedgerKindVerdict, string(verdict))

	log.Printf("[Engine] HARD STOP: execution %s aborted at node %s (classification %s)",
		exec.ID, n.NodeID, hs.Classification)
	e.emit(ctx, "execution_failed", map[string]any{
		"execution_id": exec.ID,
		"reason":       "governance_hard_stop",
	})

	*exec = *persisted
	return nil
}

// failExecution marks the execution failed, preserving context for
// diagnosis, and returns the error to the caller.
func (e *Engine) failExecution(ctx context.Context, exec *execution.Execution, reason string) error {
	now := time.Now()
	exec.Status = execution.StatusFailed
	exec.FailureReason = reason
	exec.CompletedAt = &now
	if err := e.store.UpsertExecution(ctx, exec); err != nil {
		log.Printf("[Engine] Warning: failed to persist failure state for %s: %v", exec.ID, err)
	}
	log.Printf("[Engine] Execution %s failed: %s", exec.ID, reason)
	e.emit(ctx, "execution_failed", map[string]any{
		"execution_id": exec.ID,
		"reason":       reason,
	})
	return fmt.Errorf("execution %s failed: %s", exec.ID, reason)
}

func (e *Engine) recordHistory(ctx context.Context, exec *execution.Execution, nodeID, outcome, edgeID string, forced bool) {
	entry := &execution.HistoryEntry{
		ID:          fmt.Sprintf("wfhist-%s", uuid.New().String()[:8]),
		ExecutionID: exec.ID,
		NodeID:      nodeID,
		Outcome:     outcome,
		EdgeID:      edgeID,
		Attempt:     exec.RetryCounts[nodeID] + 1,
		Forced:      forced,
		CreatedAt:   time.Now(),
	}
	if err := e.store.InsertHistory(ctx, entry); err != nil {
		log.Printf("[Engine] Warning: failed to insert history: %v", err)
	}
}

func (e *Engine) appendLedger(ctx context.Context, exec *execution.Execution, nodeID, kind, payload string) {
	entry := &execution.LedgerEntry{
		ID:          fmt.Sprintf("wfled-%s", uuid.New().String()[:8]),
		ExecutionID: exec.ID,
		NodeID:      nodeID,
		Kind:        kind,
		Payload:     payload,
		CreatedAt:   time.Now(),
	}
	if err := e.store.AppendLedger(ctx, entry); err != nil {
		log.Printf("[Engine] Warning: failed to append ledger entry: %v", err)
	}
}
