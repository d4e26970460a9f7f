// Package node implements the per-type executors the engine dispatches to:
// task (LLM generation), gate and intake_gate (resumable human-confirmed
// classification), qa (drift/promotion validation), and end (terminal).
package node

import (
	"context"
	"fmt"

	"github.com/jordanhubbard/quill/internal/constraint"
	"github.com/jordanhubbard/quill/internal/execution"
	"github.com/jordanhubbard/quill/internal/governance"
	"github.com/jordanhubbard/quill/internal/mech"
	"github.com/jordanhubbard/quill/internal/plan"
	"github.com/jordanhubbard/quill/internal/provider"
)

// Executor is the contract every node type implements. Expected failures
// come back as Results; a returned error is either a governance hard stop
// or a programmer error the engine escalates.
type Executor interface {
	Execute(ctx context.Context, n *plan.Node, exec *execution.Execution) (*execution.Result, error)
}

// DocumentReader gives task prompts access to prior documents.
type DocumentReader interface {
	LatestContent(ctx context.Context, space, docTypeID string) (map[string]any, error)
}

// Deps holds the collaborators shared by the executors.
type Deps struct {
	LLM       provider.Client
	Mech      *mech.Registry
	Validator *constraint.Validator
	Drift     *constraint.DriftChecker
	Scanner   governance.Scanner
	Documents DocumentReader
}

// Registry maps node types to executors. It is closed: construction wires
// every known node type, and Check verifies a plan only uses types the
// registry covers before any execution starts.
type Registry struct {
	executors map[plan.NodeType]Executor
	ops       *mech.Registry
}

// NewRegistry builds the executor registry from shared dependencies.
func NewRegistry(deps Deps) *Registry {
	gate := NewGateExecutor(deps)
	return &Registry{
		executors: map[plan.NodeType]Executor{
			plan.NodeTypeTask:       NewTaskExecutor(deps),
			plan.NodeTypeGate:       gate,
			plan.NodeTypeIntakeGate: gate,
			plan.NodeTypeQA:         NewQAExecutor(deps),
			plan.NodeTypeEnd:        NewEndExecutor(),
		},
		ops: deps.Mech,
	}
}

// Get returns the executor for a node type.
func (r *Registry) Get(t plan.NodeType) (Executor, error) {
	ex, ok := r.executors[t]
	if !ok {
		return nil, fmt.Errorf("no executor registered for node type %q", t)
	}
	return ex, nil
}

// Check verifies every node type and mechanical operation a plan references
// is covered, so dispatch failures are startup configuration errors rather
// than call-time surprises.
func (r *Registry) Check(p *plan.Plan) error {
	for _, n := range p.Nodes {
		if _, ok := r.executors[n.Type]; !ok {
			return fmt.Errorf("plan %s: node %s uses unregistered type %q", p.ID, n.NodeID, n.Type)
		}
		for name, internal := range n.Internals {
			if internal.InternalType != plan.InternalMech {
				continue
			}
			if internal.Operation == "" {
				return fmt.Errorf("plan %s: node %s internal %s has no operation", p.ID, n.NodeID, name)
			}
			if r.ops == nil || !r.ops.Has(internal.Operation) {
				return fmt.Errorf("plan %s: node %s internal %s uses unregistered operation %q",
					p.ID, n.NodeID, name, internal.Operation)
			}
		}
	}
	return nil
}

// configString pulls an optional string from node config.
func configString(n *plan.Node, key, fallback string) string {
	if v, ok := n.Config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// configBool pulls an optional bool from node config.
func configBool(n *plan.Node, key string) bool {
	v, _ := n.Config[key].(bool)
	return v
}
