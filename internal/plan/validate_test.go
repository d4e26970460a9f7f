package plan

import (
	"strings"
	"testing"
)

// minimalPlan returns a valid two-node plan that individual tests then break.
func minimalPlan() *Plan {
	return &Plan{
		ID:           "doc-production",
		Version:      1,
		EntryNodeIDs: []string{"generate"},
		Nodes: []Node{
			{NodeID: "generate", Type: NodeTypeTask},
			{NodeID: "end_stabilized", Type: NodeTypeEnd, TerminalOutcome: TerminalStabilized},
			{NodeID: "end_blocked", Type: NodeTypeEnd, TerminalOutcome: TerminalBlocked},
		},
		Edges: []Edge{
			{EdgeID: "e1", FromNodeID: "generate", ToNodeID: "end_stabilized", Outcome: "success"},
			{EdgeID: "e2", FromNodeID: "generate", ToNodeID: "end_blocked", Outcome: "failed"},
		},
	}
}

func TestValidateAcceptsMinimalPlan(t *testing.T) {
	if err := minimalPlan().Validate(); err != nil {
		t.Fatalf("valid plan rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Plan)
		wantErr string
	}{
		{
			name:    "missing id",
			mutate:  func(p *Plan) { p.ID = "" },
			wantErr: "plan id is required",
		},
		{
			name:    "no entry nodes",
			mutate:  func(p *Plan) { p.EntryNodeIDs = nil },
			wantErr: "no entry nodes",
		},
		{
			name:    "unresolvable entry node",
			mutate:  func(p *Plan) { p.EntryNodeIDs = []string{"phantom"} },
			wantErr: "entry node phantom not found",
		},
		{
			name:    "duplicate node id",
			mutate:  func(p *Plan) { p.Nodes = append(p.Nodes, Node{NodeID: "generate", Type: NodeTypeTask}) },
			wantErr: "duplicate node_id",
		},
		{
			name:    "unknown node type",
			mutate:  func(p *Plan) { p.Nodes[0].Type = "loop" },
			wantErr: "unknown type",
		},
		{
			name:    "end node without terminal outcome",
			mutate:  func(p *Plan) { p.Nodes[1].TerminalOutcome = "" },
			wantErr: "missing terminal_outcome",
		},
		{
			name:    "edge from unknown node",
			mutate:  func(p *Plan) { p.Edges[0].FromNodeID = "phantom" },
			wantErr: "unknown from_node_id",
		},
		{
			name:    "edge to unknown node",
			mutate:  func(p *Plan) { p.Edges[0].ToNodeID = "phantom" },
			wantErr: "unknown to_node_id",
		},
		{
			name:    "edge without outcome",
			mutate:  func(p *Plan) { p.Edges[0].Outcome = "" },
			wantErr: "empty outcome",
		},
		{
			name: "non-advancing edge with a target",
			mutate: func(p *Plan) {
				p.Edges = append(p.Edges, Edge{
					EdgeID: "e3", FromNodeID: "generate", ToNodeID: "end_stabilized",
					Outcome: "needs_user_input", NonAdvancing: true,
				})
			},
			wantErr: "must not target another node",
		},
		{
			name: "non-terminal node without outbound edges",
			mutate: func(p *Plan) {
				p.Nodes = append(p.Nodes, Node{NodeID: "orphan", Type: NodeTypeTask})
			},
			wantErr: "no outbound edges",
		},
		{
			name: "duplicate terminal outcome",
			mutate: func(p *Plan) {
				p.Nodes = append(p.Nodes, Node{NodeID: "end_again", Type: NodeTypeEnd, TerminalOutcome: TerminalStabilized})
			},
			wantErr: "claimed by both",
		},
		{
			name: "missing blocked terminal",
			mutate: func(p *Plan) {
				p.Nodes = p.Nodes[:2]
				p.Edges = p.Edges[:1]
			},
			wantErr: "missing blocked terminal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := minimalPlan()
			tt.mutate(p)
			err := p.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAllowsSelfTargetNonAdvancingEdge(t *testing.T) {
	p := minimalPlan()
	p.Edges = append(p.Edges, Edge{
		EdgeID: "e3", FromNodeID: "generate", ToNodeID: "generate",
		Outcome: "needs_user_input", NonAdvancing: true,
	})
	if err := p.Validate(); err != nil {
		t.Fatalf("self-target non-advancing edge rejected: %v", err)
	}
}

func TestNodeByID(t *testing.T) {
	p := minimalPlan()
	if n := p.NodeByID("generate"); n == nil || n.Type != NodeTypeTask {
		t.Errorf("NodeByID(generate) = %v", n)
	}
	if n := p.NodeByID("phantom"); n != nil {
		t.Errorf("NodeByID(phantom) = %v, want nil", n)
	}
}

func TestEdgesFrom(t *testing.T) {
	p := minimalPlan()
	edges := p.EdgesFrom("generate")
	if len(edges) != 2 {
		t.Fatalf("EdgesFrom(generate) = %d edges, want 2", len(edges))
	}
	if len(p.EdgesFrom("end_stabilized")) != 0 {
		t.Error("terminal node should have no outbound edges")
	}
}

func TestTerminalFor(t *testing.T) {
	p := minimalPlan()
	if n := p.TerminalFor(TerminalBlocked); n == nil || n.NodeID != "end_blocked" {
		t.Errorf("TerminalFor(blocked) = %v", n)
	}
	if n := p.TerminalFor(TerminalAbandoned); n != nil {
		t.Errorf("TerminalFor(abandoned) = %v, want nil", n)
	}
}

func TestBreakerApplies(t *testing.T) {
	g := Governance{CircuitBreaker: CircuitBreaker{
		MaxRetries: 2,
		AppliesTo:  []NodeType{NodeTypeQA, NodeTypeTask},
	}}
	if !g.BreakerApplies(NodeTypeQA) || !g.BreakerApplies(NodeTypeTask) {
		t.Error("breaker should apply to listed types")
	}
	if g.BreakerApplies(NodeTypeGate) {
		t.Error("breaker must not apply to unlisted types")
	}
}
