package plan

import (
	"time"
)

// NodeType represents the type of a plan node
type NodeType string

const (
	NodeTypeTask       NodeType = "task"        // LLM generation/remediation task
	NodeTypeGate       NodeType = "gate"        // Resumable human-confirmed classification
	NodeTypeQA         NodeType = "qa"          // Drift/promotion validation pass
	NodeTypeIntakeGate NodeType = "intake_gate" // Initial intake clarification gate
	NodeTypeEnd        NodeType = "end"         // Terminal node
)

// TerminalOutcome classifies how an execution ends
type TerminalOutcome string

const (
	TerminalStabilized TerminalOutcome = "stabilized" // Document produced and validated
	TerminalBlocked    TerminalOutcome = "blocked"    // Circuit breaker or unrecoverable failure
	TerminalAbandoned  TerminalOutcome = "abandoned"  // Out of scope / user abandoned
)

// InternalType tags a gate sub-step by who executes it
type InternalType string

const (
	InternalLLM  InternalType = "LLM"  // Model call with deterministic fallback
	InternalMech InternalType = "MECH" // Mechanical operation
	InternalUI   InternalType = "UI"   // Suspends for human input
)

// Internal describes one sub-step of a gate-profile node
type Internal struct {
	InternalType InternalType   `yaml:"internal_type" json:"internal_type"`
	Operation    string         `yaml:"operation,omitempty" json:"operation,omitempty"` // Mech operation id for MECH steps
	Config       map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// Node represents a typed unit of work in a plan
type Node struct {
	NodeID          string              `yaml:"node_id" json:"node_id"`
	Type            NodeType            `yaml:"type" json:"type"`
	Config          map[string]any      `yaml:"config,omitempty" json:"config,omitempty"`
	Internals       map[string]Internal `yaml:"internals,omitempty" json:"internals,omitempty"` // pass_a, extract, entry, pin
	TerminalOutcome TerminalOutcome     `yaml:"terminal_outcome,omitempty" json:"terminal_outcome,omitempty"`
	GateOutcome     string              `yaml:"gate_outcome,omitempty" json:"gate_outcome,omitempty"`
}

// Condition is a predicate over execution context state. All conditions on
// an edge must hold for the edge to be selected.
type Condition struct {
	Key    string `yaml:"key" json:"key"`
	Equals string `yaml:"equals" json:"equals"`
}

// Edge represents an outcome-matched transition between nodes
type Edge struct {
	EdgeID       string      `yaml:"edge_id" json:"edge_id"`
	FromNodeID   string      `yaml:"from_node_id" json:"from_node_id"`
	ToNodeID     string      `yaml:"to_node_id,omitempty" json:"to_node_id,omitempty"` // Empty iff non_advancing
	Outcome      string      `yaml:"outcome" json:"outcome"`
	Conditions   []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	NonAdvancing bool        `yaml:"non_advancing,omitempty" json:"non_advancing,omitempty"`
}

// CircuitBreaker bounds retry loops for the listed node types
type CircuitBreaker struct {
	MaxRetries int        `yaml:"max_retries" json:"max_retries"`
	AppliesTo  []NodeType `yaml:"applies_to" json:"applies_to"`
}

// Governance holds plan-level safety policy
type Governance struct {
	CircuitBreaker CircuitBreaker `yaml:"circuit_breaker" json:"circuit_breaker"`
}

// Plan represents an immutable, versioned workflow plan
type Plan struct {
	ID              string     `yaml:"id" json:"id"`
	Version         int        `yaml:"version" json:"version"`
	Name            string     `yaml:"name" json:"name"`
	Description     string     `yaml:"description" json:"description"`
	EntryNodeIDs    []string   `yaml:"entry_node_ids" json:"entry_node_ids"`
	Nodes           []Node     `yaml:"nodes" json:"nodes"`
	Edges           []Edge     `yaml:"edges" json:"edges"`
	ThreadOwnership string     `yaml:"thread_ownership,omitempty" json:"thread_ownership,omitempty"`
	Governance      Governance `yaml:"governance" json:"governance"`
	LoadedAt        time.Time  `yaml:"-" json:"loaded_at"`
}

// NodeByID returns the node with the given id, or nil.
func (p *Plan) NodeByID(nodeID string) *Node {
	for i := range p.Nodes {
		if p.Nodes[i].NodeID == nodeID {
			return &p.Nodes[i]
		}
	}
	return nil
}

// EdgesFrom returns all edges originating at the given node.
func (p *Plan) EdgesFrom(nodeID string) []Edge {
	var out []Edge
	for _, e := range p.Edges {
		if e.FromNodeID == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// TerminalFor returns the end node carrying the given terminal outcome, or nil.
func (p *Plan) TerminalFor(outcome TerminalOutcome) *Node {
	for i := range p.Nodes {
		if p.Nodes[i].Type == NodeTypeEnd && p.Nodes[i].TerminalOutcome == outcome {
			return &p.Nodes[i]
		}
	}
	return nil
}

// BreakerApplies reports whether the circuit breaker counts failures for
// the given node type.
func (g *Governance) BreakerApplies(t NodeType) bool {
	for _, nt := range g.CircuitBreaker.AppliesTo {
		if nt == t {
			return true
		}
	}
	return false
}
