package plan

import (
	"fmt"
)

// Validate checks plan invariants at load time so that routing errors are
// configuration errors caught before any execution starts:
//   - entry nodes and every advancing edge endpoint resolve to a node
//   - every non-terminal node has at least one outbound edge
//   - at most one end node per terminal outcome class, and at least the
//     blocked terminal (the circuit breaker force-routes to it)
func (p *Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("plan id is required")
	}
	if len(p.EntryNodeIDs) == 0 {
		return fmt.Errorf("plan %s: no entry nodes", p.ID)
	}

	nodeIDs := make(map[string]NodeType, len(p.Nodes))
	for _, n := range p.Nodes {
		if n.NodeID == "" {
			return fmt.Errorf("plan %s: node with empty node_id", p.ID)
		}
		if _, dup := nodeIDs[n.NodeID]; dup {
			return fmt.Errorf("plan %s: duplicate node_id %s", p.ID, n.NodeID)
		}
		switch n.Type {
		case NodeTypeTask, NodeTypeGate, NodeTypeQA, NodeTypeIntakeGate, NodeTypeEnd:
		default:
			return fmt.Errorf("plan %s: node %s has unknown type %q", p.ID, n.NodeID, n.Type)
		}
		if n.Type == NodeTypeEnd && n.TerminalOutcome == "" {
			return fmt.Errorf("plan %s: end node %s missing terminal_outcome", p.ID, n.NodeID)
		}
		nodeIDs[n.NodeID] = n.Type
	}

	for _, entry := range p.EntryNodeIDs {
		if _, ok := nodeIDs[entry]; !ok {
			return fmt.Errorf("plan %s: entry node %s not found", p.ID, entry)
		}
	}

	outbound := make(map[string]int)
	for _, e := range p.Edges {
		if _, ok := nodeIDs[e.FromNodeID]; !ok {
			return fmt.Errorf("plan %s: edge %s references unknown from_node_id %s", p.ID, e.EdgeID, e.FromNodeID)
		}
		if e.NonAdvancing {
			if e.ToNodeID != "" && e.ToNodeID != e.FromNodeID {
				return fmt.Errorf("plan %s: non-advancing edge %s must not target another node", p.ID, e.EdgeID)
			}
		} else {
			if _, ok := nodeIDs[e.ToNodeID]; !ok {
				return fmt.Errorf("plan %s: edge %s references unknown to_node_id %q", p.ID, e.EdgeID, e.ToNodeID)
			}
		}
		if e.Outcome == "" {
			return fmt.Errorf("plan %s: edge %s has empty outcome", p.ID, e.EdgeID)
		}
		outbound[e.FromNodeID]++
	}

	terminals := make(map[TerminalOutcome]string)
	for _, n := range p.Nodes {
		if n.Type == NodeTypeEnd {
			if prev, dup := terminals[n.TerminalOutcome]; dup {
				return fmt.Errorf("plan %s: terminal outcome %s claimed by both %s and %s",
					p.ID, n.TerminalOutcome, prev, n.NodeID)
			}
			terminals[n.TerminalOutcome] = n.NodeID
			continue
		}
		if outbound[n.NodeID] == 0 {
			return fmt.Errorf("plan %s: non-terminal node %s has no outbound edges", p.ID, n.NodeID)
		}
	}

	if _, ok := terminals[TerminalBlocked]; !ok {
		return fmt.Errorf("plan %s: missing blocked terminal (required by circuit breaker)", p.ID)
	}

	return nil
}
