package plan

import (
	"os"
	"path/filepath"
	"testing"
)

const planYAML = `
id: doc-production
version: 3
name: Document Production
entry_node_ids: [intake]
nodes:
  - node_id: intake
    type: intake_gate
    config:
      classifications: [incident, change]
    internals:
      extract:
        internal_type: MECH
        operation: extractor
        config:
          fields:
            kind: "$.classification"
      entry:
        internal_type: UI
  - node_id: generate
    type: task
    config:
      instructions: Produce the document body.
  - node_id: end_stabilized
    type: end
    terminal_outcome: stabilized
  - node_id: end_blocked
    type: end
    terminal_outcome: blocked
edges:
  - edge_id: e1
    from_node_id: intake
    to_node_id: generate
    outcome: success
  - edge_id: e1b
    from_node_id: intake
    outcome: needs_user_input
    non_advancing: true
  - edge_id: e2
    from_node_id: generate
    to_node_id: end_stabilized
    outcome: success
    conditions:
      - key: route
        equals: keep
  - edge_id: e3
    from_node_id: generate
    to_node_id: end_blocked
    outcome: failed
governance:
  circuit_breaker:
    max_retries: 2
    applies_to: [task, qa]
`

func writePlanFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write plan file: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writePlanFile(t, t.TempDir(), "doc-production.yaml", planYAML)

	p, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if p.ID != "doc-production" || p.Version != 3 {
		t.Errorf("got %s v%d", p.ID, p.Version)
	}
	if len(p.Nodes) != 4 || len(p.Edges) != 4 {
		t.Errorf("got %d nodes, %d edges", len(p.Nodes), len(p.Edges))
	}

	intake := p.NodeByID("intake")
	if intake == nil || intake.Type != NodeTypeIntakeGate {
		t.Fatalf("intake node = %v", intake)
	}
	extract, ok := intake.Internals["extract"]
	if !ok || extract.InternalType != InternalMech || extract.Operation != "extractor" {
		t.Errorf("extract internal = %+v", extract)
	}
	if entry := intake.Internals["entry"]; entry.InternalType != InternalUI {
		t.Errorf("entry internal = %+v", entry)
	}

	var conditional *Edge
	for i := range p.Edges {
		if p.Edges[i].EdgeID == "e2" {
			conditional = &p.Edges[i]
		}
	}
	if conditional == nil || len(conditional.Conditions) != 1 ||
		conditional.Conditions[0].Key != "route" || conditional.Conditions[0].Equals != "keep" {
		t.Errorf("conditional edge = %+v", conditional)
	}

	if p.Governance.CircuitBreaker.MaxRetries != 2 {
		t.Errorf("max_retries = %d", p.Governance.CircuitBreaker.MaxRetries)
	}
	if !p.Governance.BreakerApplies(NodeTypeTask) {
		t.Error("breaker should apply to task nodes")
	}
}

func TestLoadFromFileDefaultsVersion(t *testing.T) {
	yaml := `
id: unversioned
entry_node_ids: [generate]
nodes:
  - node_id: generate
    type: task
  - node_id: end_blocked
    type: end
    terminal_outcome: blocked
edges:
  - edge_id: e1
    from_node_id: generate
    to_node_id: end_blocked
    outcome: failed
`
	path := writePlanFile(t, t.TempDir(), "unversioned.yaml", yaml)

	p, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if p.Version != 1 {
		t.Errorf("version = %d, want default 1", p.Version)
	}
}

func TestLoadFromFileRejectsInvalidPlan(t *testing.T) {
	yaml := `
id: broken
entry_node_ids: [phantom]
nodes:
  - node_id: end_blocked
    type: end
    terminal_outcome: blocked
edges: []
`
	path := writePlanFile(t, t.TempDir(), "broken.yaml", yaml)
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadDirSkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	writePlanFile(t, dir, "good.yaml", planYAML)
	writePlanFile(t, dir, "bad.yaml", "id: broken\n")
	writePlanFile(t, dir, "notes.txt", "not a plan")

	plans, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load dir failed: %v", err)
	}
	if len(plans) != 1 || plans[0].ID != "doc-production" {
		t.Errorf("plans = %v", plans)
	}
}

func TestStoreVersioning(t *testing.T) {
	s := NewStore()
	s.Install(&Plan{ID: "doc-production", Version: 1})
	s.Install(&Plan{ID: "doc-production", Version: 3})
	s.Install(&Plan{ID: "doc-production", Version: 2})

	p, err := s.Get("doc-production", 2)
	if err != nil || p.Version != 2 {
		t.Errorf("Get v2 = %v, %v", p, err)
	}

	latest, err := s.Latest("doc-production")
	if err != nil || latest.Version != 3 {
		t.Errorf("Latest = %v, %v", latest, err)
	}

	if _, err := s.Get("doc-production", 9); err == nil {
		t.Error("expected error for missing version")
	}
	if _, err := s.Get("phantom", 1); err == nil {
		t.Error("expected error for missing plan")
	}
	if _, err := s.Latest("phantom"); err == nil {
		t.Error("expected error for missing plan")
	}
}

func TestStoreInstallDir(t *testing.T) {
	dir := t.TempDir()
	writePlanFile(t, dir, "doc-production.yaml", planYAML)

	s := NewStore()
	if err := s.InstallDir(dir); err != nil {
		t.Fatalf("install dir failed: %v", err)
	}
	if _, err := s.Get("doc-production", 3); err != nil {
		t.Errorf("installed plan missing: %v", err)
	}
}
