package node

import (
	"context"
	"log"

	"github.com/jordanhubbard/quill/internal/execution"
	"github.com/jordanhubbard/quill/internal/plan"
)

// EndExecutor closes an execution at a terminal node. The engine performs
// the actual state transition; the executor just reports the terminal
// outcome so the close is recorded like any other node result.
type EndExecutor struct{}

// NewEndExecutor creates an end executor.
func NewEndExecutor() *EndExecutor {
	return &EndExecutor{}
}

// Execute records the terminal outcome.
func (e *EndExecutor) Execute(_ context.Context, n *plan.Node, exec *execution.Execution) (*execution.Result, error) {
	log.Printf("[End] Execution %s reached terminal %s (%s)", exec.ID, n.NodeID, n.TerminalOutcome)
	return &execution.Result{
		Outcome: execution.OutcomeSuccess,
		Metadata: map[string]any{
			"terminal_outcome": string(n.TerminalOutcome),
			"gate_outcome":     n.GateOutcome,
		},
	}, nil
}
