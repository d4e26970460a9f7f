package node

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/jordanhubbard/quill/internal/constraint"
	"github.com/jordanhubbard/quill/internal/execution"
	"github.com/jordanhubbard/quill/internal/mech"
	"github.com/jordanhubbard/quill/internal/plan"
	"github.com/jordanhubbard/quill/internal/provider"
)

// fakeLLM returns canned completions and records what it was asked.
type fakeLLM struct {
	mu         sync.Mutex
	response   string
	err        error
	calls      int
	lastSystem string
	lastUser   string
}

func (f *fakeLLM) Complete(_ context.Context, systemPrompt string, messages []provider.Message) (*provider.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastSystem = systemPrompt
	if len(messages) > 0 {
		f.lastUser = messages[len(messages)-1].Content
	}
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Completion{
		Content: f.response,
		Usage:   provider.TokenUsage{PromptTokens: 10, CompletionTokens: 20},
	}, nil
}

// fakeDocuments serves one prior document per type.
type fakeDocuments struct {
	content map[string]map[string]any
}

func (f *fakeDocuments) LatestContent(_ context.Context, _, docTypeID string) (map[string]any, error) {
	return f.content[docTypeID], nil
}

func testDeps(llm provider.Client) Deps {
	return Deps{
		LLM:       llm,
		Mech:      mech.DefaultRegistry(),
		Validator: constraint.NewValidator(),
		Drift:     constraint.NewDriftChecker(),
	}
}

func newExec(state map[string]any) *execution.Execution {
	if state == nil {
		state = map[string]any{}
	}
	return &execution.Execution{
		ID:           "wfex-test",
		SpaceID:      "space-1",
		ContextState: state,
	}
}

func TestRegistryCoversAllNodeTypes(t *testing.T) {
	r := NewRegistry(testDeps(nil))
	for _, nt := range []plan.NodeType{
		plan.NodeTypeTask, plan.NodeTypeGate, plan.NodeTypeIntakeGate,
		plan.NodeTypeQA, plan.NodeTypeEnd,
	} {
		if _, err := r.Get(nt); err != nil {
			t.Errorf("no executor for node type %s: %v", nt, err)
		}
	}
	if _, err := r.Get(plan.NodeType("decision_table")); err == nil {
		t.Error("expected error for unknown node type")
	}
}

func TestRegistryCheckRejectsUnknownOperation(t *testing.T) {
	r := NewRegistry(testDeps(nil))
	p := &plan.Plan{
		ID: "plan-1",
		Nodes: []plan.Node{
			{
				NodeID: "intake",
				Type:   plan.NodeTypeIntakeGate,
				Internals: map[string]plan.Internal{
					"extract": {InternalType: plan.InternalMech, Operation: "teleport"},
				},
			},
		},
	}
	err := r.Check(p)
	if err == nil {
		t.Fatal("expected check to fail for unregistered operation")
	}
	if !strings.Contains(err.Error(), "teleport") {
		t.Errorf("error should name the operation, got: %v", err)
	}
}

func TestRegistryCheckRejectsMissingOperation(t *testing.T) {
	r := NewRegistry(testDeps(nil))
	p := &plan.Plan{
		ID: "plan-1",
		Nodes: []plan.Node{
			{
				NodeID: "intake",
				Type:   plan.NodeTypeIntakeGate,
				Internals: map[string]plan.Internal{
					"extract": {InternalType: plan.InternalMech},
				},
			},
		},
	}
	if err := r.Check(p); err == nil {
		t.Fatal("expected check to fail for mech internal without operation")
	}
}

func TestRegistryCheckAcceptsValidPlan(t *testing.T) {
	r := NewRegistry(testDeps(nil))
	p := &plan.Plan{
		ID: "plan-1",
		Nodes: []plan.Node{
			{
				NodeID: "intake",
				Type:   plan.NodeTypeIntakeGate,
				Internals: map[string]plan.Internal{
					"extract": {InternalType: plan.InternalMech, Operation: mech.OpExtractor},
					"entry":   {InternalType: plan.InternalUI},
				},
			},
			{NodeID: "generate", Type: plan.NodeTypeTask},
		},
	}
	if err := r.Check(p); err != nil {
		t.Fatalf("check failed on valid plan: %v", err)
	}
}

func TestEndExecutorReportsTerminalOutcome(t *testing.T) {
	e := NewEndExecutor()
	n := &plan.Node{
		NodeID:          "end_stabilized",
		Type:            plan.NodeTypeEnd,
		TerminalOutcome: plan.TerminalStabilized,
		GateOutcome:     "proceed",
	}

	result, err := e.Execute(context.Background(), n, newExec(nil))
	if err != nil {
		t.Fatalf("end executor failed: %v", err)
	}
	if result.Outcome != execution.OutcomeSuccess {
		t.Errorf("outcome = %s, want success", result.Outcome)
	}
	if result.Metadata["terminal_outcome"] != string(plan.TerminalStabilized) {
		t.Errorf("terminal_outcome = %v", result.Metadata["terminal_outcome"])
	}
	if result.Metadata["gate_outcome"] != "proceed" {
		t.Errorf("gate_outcome = %v", result.Metadata["gate_outcome"])
	}
}
