package node

import (
	"context"
	"strings"
	"testing"

	"github.com/jordanhubbard/quill/internal/execution"
	"github.com/jordanhubbard/quill/internal/mech"
	"github.com/jordanhubbard/quill/internal/plan"
)

func gateNode() *plan.Node {
	return &plan.Node{
		NodeID: "intake",
		Type:   plan.NodeTypeIntakeGate,
		Config: map[string]any{
			"classifications":        []any{"incident", "change"},
			"default_classification": "needs_clarification",
			"fallback_patterns": map[string]any{
				"incident": []any{"outage", "incident", "broken"},
				"change":   []any{"feature", "improve"},
			},
		},
	}
}

func TestGateWithoutIntakeAsksForIt(t *testing.T) {
	g := NewGateExecutor(testDeps(nil))
	exec := newExec(nil)

	result, err := g.Execute(context.Background(), gateNode(), exec)
	if err != nil {
		t.Fatalf("gate failed: %v", err)
	}
	if !result.RequiresUserInput || result.Outcome != execution.OutcomeNeedsUserInput {
		t.Fatalf("expected needs_user_input, got %+v", result)
	}
	if result.UserPrompt == "" {
		t.Error("expected a prompt for intake text")
	}
	if execution.GatePhaseOf(exec.ContextState) != execution.GatePhaseInitial {
		t.Errorf("phase = %s, want initial", execution.GatePhaseOf(exec.ContextState))
	}
}

func TestGateResumedIntakeRunsClassification(t *testing.T) {
	g := NewGateExecutor(testDeps(nil))
	exec := newExec(nil)
	execution.SetUserInput(exec.ContextState, map[string]any{
		"text": "there is an outage, everything is broken",
	})

	result, err := g.Execute(context.Background(), gateNode(), exec)
	if err != nil {
		t.Fatalf("gate failed: %v", err)
	}
	if result.Metadata["classification"] != "incident" {
		t.Errorf("classification = %v, want incident", result.Metadata["classification"])
	}
	if execution.IntakeText(exec.ContextState) == "" {
		t.Error("resumed text should be stored as intake")
	}
	if _, ok := execution.UserInput(exec.ContextState); ok {
		t.Error("consumed user input should be cleared")
	}
	if execution.GatePhaseOf(exec.ContextState) != execution.GatePhaseAwaitingConfirmation {
		t.Error("a definite classification should move the gate to awaiting_confirmation")
	}
}

func TestGateAmbiguousIntakeStaysInitial(t *testing.T) {
	g := NewGateExecutor(testDeps(nil))
	exec := newExec(map[string]any{"intake_text": "hello, please help"})

	result, err := g.Execute(context.Background(), gateNode(), exec)
	if err != nil {
		t.Fatalf("gate failed: %v", err)
	}
	if result.Outcome != execution.OutcomeNeedsUserInput || !result.RequiresUserInput {
		t.Fatalf("expected suspension for more detail, got %+v", result)
	}
	if execution.GatePhaseOf(exec.ContextState) != execution.GatePhaseInitial {
		t.Errorf("phase = %s, want initial", execution.GatePhaseOf(exec.ContextState))
	}
}

func TestGateInitialPassSuspendsForConfirmation(t *testing.T) {
	llm := &fakeLLM{response: `{"classification": "incident", "fields": {"system": "payments"}}`}
	g := NewGateExecutor(testDeps(llm))
	exec := newExec(map[string]any{"intake_text": "payments is down"})

	result, err := g.Execute(context.Background(), gateNode(), exec)
	if err != nil {
		t.Fatalf("gate failed: %v", err)
	}
	if result.Outcome != execution.OutcomeNeedsUserInput || !result.RequiresUserInput {
		t.Fatalf("expected suspension for confirmation, got %+v", result)
	}
	if result.Metadata["classification"] != "incident" {
		t.Errorf("classification = %v", result.Metadata["classification"])
	}
	if !strings.Contains(result.UserPrompt, "incident") {
		t.Errorf("prompt should name the classification: %q", result.UserPrompt)
	}
	// choices always end with the two engine-level escape hatches
	n := len(result.UserChoices)
	if n < 4 || result.UserChoices[n-2] != ClassificationNeedsClarification ||
		result.UserChoices[n-1] != ClassificationOutOfScope {
		t.Errorf("choices = %v", result.UserChoices)
	}
	if execution.GatePhaseOf(exec.ContextState) != execution.GatePhaseAwaitingConfirmation {
		t.Error("gate should persist awaiting_confirmation phase")
	}

	fields, _ := exec.ContextState["extracted_fields"].(map[string]any)
	if fields["system"] != "payments" {
		t.Errorf("extracted fields = %v", fields)
	}
}

func TestGateFallsBackToKeywordClassification(t *testing.T) {
	llm := &fakeLLM{response: "I cannot comply with that request."}
	g := NewGateExecutor(testDeps(llm))
	exec := newExec(map[string]any{"intake_text": "there is an outage, everything is broken"})

	result, err := g.Execute(context.Background(), gateNode(), exec)
	if err != nil {
		t.Fatalf("gate failed: %v", err)
	}
	if result.Metadata["classification"] != "incident" {
		t.Errorf("fallback classification = %v, want incident", result.Metadata["classification"])
	}
}

func TestGateOutOfScopeClassificationShortCircuits(t *testing.T) {
	llm := &fakeLLM{response: `{"classification": "out_of_scope", "fields": {}}`}
	g := NewGateExecutor(testDeps(llm))
	exec := newExec(map[string]any{"intake_text": "write me a poem"})

	result, err := g.Execute(context.Background(), gateNode(), exec)
	if err != nil {
		t.Fatalf("gate failed: %v", err)
	}
	if result.Outcome != execution.OutcomeOutOfScope {
		t.Errorf("outcome = %s, want out_of_scope", result.Outcome)
	}
	if result.RequiresUserInput {
		t.Error("out of scope should not suspend")
	}
}

func TestGateConfirmationPinsFields(t *testing.T) {
	g := NewGateExecutor(testDeps(nil))
	exec := newExec(map[string]any{
		"intake_text":      "payments is down",
		"classification":   "incident",
		"extracted_fields": map[string]any{"system": "payments", "severity": "low"},
	})
	execution.SetGatePhase(exec.ContextState, execution.GatePhaseAwaitingConfirmation)
	execution.SetUserInput(exec.ContextState, map[string]any{
		"classification": "incident",
		"fields":         map[string]any{"severity": "high"},
	})

	result, err := g.Execute(context.Background(), gateNode(), exec)
	if err != nil {
		t.Fatalf("confirmation failed: %v", err)
	}
	if result.Outcome != execution.OutcomeSuccess {
		t.Fatalf("outcome = %s, want success", result.Outcome)
	}

	bound, ok := execution.BoundFields(exec.ContextState)
	if !ok {
		t.Fatal("expected bound fields in context")
	}
	if bound["system"] != "payments" {
		t.Errorf("extracted field lost: %v", bound)
	}
	if bound["severity"] != "high" {
		t.Errorf("user correction should win: %v", bound)
	}
	if execution.GatePhaseOf(exec.ContextState) != execution.GatePhaseComplete {
		t.Error("confirmed gate should be complete")
	}
	if _, ok := execution.UserInput(exec.ContextState); ok {
		t.Error("consumed user input should be cleared")
	}
}

func TestGateConfirmationRunsPinInternal(t *testing.T) {
	n := gateNode()
	n.Internals = map[string]plan.Internal{
		"pin": {
			InternalType: plan.InternalMech,
			Operation:    mech.OpInvariantPinner,
			Config: map[string]any{
				"answers_key":     "clarification_answers",
				"constraints_key": "llm_constraints",
			},
		},
	}

	g := NewGateExecutor(testDeps(nil))
	exec := newExec(map[string]any{
		"classification": "incident",
		"clarification_answers": []any{
			map[string]any{
				"clarification_id": "c-region",
				"binding":          true,
				"selected_option":  "eu-west",
			},
		},
	})
	execution.SetGatePhase(exec.ContextState, execution.GatePhaseAwaitingConfirmation)
	execution.SetUserInput(exec.ContextState, map[string]any{"classification": "incident"})

	if _, err := g.Execute(context.Background(), n, exec); err != nil {
		t.Fatalf("confirmation failed: %v", err)
	}

	pinned, ok := exec.ContextState["pinned_constraints"].([]any)
	if !ok || len(pinned) != 1 {
		t.Fatalf("pinned_constraints = %v", exec.ContextState["pinned_constraints"])
	}
	if pinned[0] != "c-region: eu-west" {
		t.Errorf("pinned[0] = %v", pinned[0])
	}
}

func TestGateClarificationLoopsWithFollowUp(t *testing.T) {
	g := NewGateExecutor(testDeps(nil))
	exec := newExec(map[string]any{"classification": "incident"})
	execution.SetGatePhase(exec.ContextState, execution.GatePhaseAwaitingConfirmation)
	execution.SetUserInput(exec.ContextState, map[string]any{
		"classification": ClassificationNeedsClarification,
		"question":       "Which environment is affected?",
	})

	result, err := g.Execute(context.Background(), gateNode(), exec)
	if err != nil {
		t.Fatalf("clarification failed: %v", err)
	}
	if result.Outcome != execution.OutcomeNeedsUserInput || !result.RequiresUserInput {
		t.Fatalf("expected another suspension, got %+v", result)
	}
	if result.UserPrompt != "Which environment is affected?" {
		t.Errorf("prompt = %q", result.UserPrompt)
	}
	if execution.GatePhaseOf(exec.ContextState) != execution.GatePhaseInitial {
		t.Error("declined confirmation must drop back to the initial phase")
	}
}

func TestGateClarificationAnswerReclassifies(t *testing.T) {
	g := NewGateExecutor(testDeps(nil))
	exec := newExec(map[string]any{
		"intake_text":    "something is wrong",
		"classification": "incident",
	})
	execution.SetGatePhase(exec.ContextState, execution.GatePhaseAwaitingConfirmation)
	execution.SetUserInput(exec.ContextState, map[string]any{
		"classification": ClassificationNeedsClarification,
		"text":           "actually we want to improve the checkout feature",
	})

	result, err := g.Execute(context.Background(), gateNode(), exec)
	if err != nil {
		t.Fatalf("clarification failed: %v", err)
	}
	if result.Metadata["classification"] != "change" {
		t.Errorf("classification = %v, want change after re-running pass_a", result.Metadata["classification"])
	}
	intake := execution.IntakeText(exec.ContextState)
	if !strings.Contains(intake, "something is wrong") || !strings.Contains(intake, "checkout feature") {
		t.Errorf("intake should accumulate clarification text: %q", intake)
	}
}

func TestGateResumeOutOfScopeAbandons(t *testing.T) {
	g := NewGateExecutor(testDeps(nil))
	exec := newExec(map[string]any{"classification": "incident"})
	execution.SetGatePhase(exec.ContextState, execution.GatePhaseAwaitingConfirmation)
	execution.SetUserInput(exec.ContextState, map[string]any{
		"classification": ClassificationOutOfScope,
	})

	result, err := g.Execute(context.Background(), gateNode(), exec)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if result.Outcome != execution.OutcomeOutOfScope {
		t.Errorf("outcome = %s, want out_of_scope", result.Outcome)
	}
	if execution.GatePhaseOf(exec.ContextState) != execution.GatePhaseComplete {
		t.Error("abandoned gate should be complete")
	}
}

func TestGateMalformedResumeReprompts(t *testing.T) {
	g := NewGateExecutor(testDeps(nil))
	exec := newExec(map[string]any{"classification": "incident"})
	execution.SetGatePhase(exec.ContextState, execution.GatePhaseAwaitingConfirmation)

	result, err := g.Execute(context.Background(), gateNode(), exec)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if result.Outcome != execution.OutcomeNeedsUserInput || !result.RequiresUserInput {
		t.Fatalf("expected re-prompt, got %+v", result)
	}
	if execution.GatePhaseOf(exec.ContextState) != execution.GatePhaseAwaitingConfirmation {
		t.Error("malformed resume must not advance the phase")
	}
}

func TestGateCompletePhaseIsIdempotent(t *testing.T) {
	g := NewGateExecutor(testDeps(nil))
	exec := newExec(nil)
	execution.SetGatePhase(exec.ContextState, execution.GatePhaseComplete)

	result, err := g.Execute(context.Background(), gateNode(), exec)
	if err != nil {
		t.Fatalf("re-entry failed: %v", err)
	}
	if result.Outcome != execution.OutcomeSuccess {
		t.Errorf("outcome = %s, want success", result.Outcome)
	}
}
