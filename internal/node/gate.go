package node

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/jordanhubbard/quill/internal/execution"
	"github.com/jordanhubbard/quill/internal/mech"
	"github.com/jordanhubbard/quill/internal/plan"
	"github.com/jordanhubbard/quill/internal/provider"
)

// Classification values with engine-level meaning. Plans define the rest.
const (
	ClassificationNeedsClarification = "needs_clarification"
	ClassificationOutOfScope         = "out_of_scope"
)

// GateExecutor runs the gate-profile state machine: pass_a classifies the
// free-text input, extract pulls structured fields, entry suspends for human
// confirmation, and pin turns confirmed fields into binding constraints.
// The current phase is an explicit enum in context state, so a resumed or
// re-run node always knows where it stands.
type GateExecutor struct {
	deps Deps
}

// NewGateExecutor creates a gate executor. It serves both gate and
// intake_gate nodes; they differ only in plan wiring.
func NewGateExecutor(deps Deps) *GateExecutor {
	return &GateExecutor{deps: deps}
}

// Execute advances the gate by one phase transition.
func (g *GateExecutor) Execute(ctx context.Context, n *plan.Node, exec *execution.Execution) (*execution.Result, error) {
	switch phase := execution.GatePhaseOf(exec.ContextState); phase {
	case execution.GatePhaseInitial:
		return g.initialPass(ctx, n, exec)
	case execution.GatePhaseAwaitingConfirmation:
		return g.handleConfirmation(ctx, n, exec)
	case execution.GatePhaseComplete:
		// Re-entry after a crash between completion and routing; the gate's
		// work is already in context state.
		return &execution.Result{Outcome: execution.OutcomeSuccess}, nil
	default:
		return nil, fmt.Errorf("gate %s: unknown phase %q", n.NodeID, phase)
	}
}

// initialPass runs pass_a and extract, then suspends at entry. The phase
// stays initial until pass_a lands on a definite classification, so any
// free text supplied on resume flows back through classification instead of
// being mistaken for a confirmation.
func (g *GateExecutor) initialPass(ctx context.Context, n *plan.Node, exec *execution.Execution) (*execution.Result, error) {
	if text := resumedFreeText(exec.ContextState); text != "" {
		appendIntake(exec.ContextState, text)
		execution.ClearUserInput(exec.ContextState)
	}

	intake := execution.IntakeText(exec.ContextState)
	if strings.TrimSpace(intake) == "" {
		return &execution.Result{
			Outcome:           execution.OutcomeNeedsUserInput,
			RequiresUserInput: true,
			UserPrompt:        "Describe what you need this document to cover.",
			UserInputSchema:   configString(n, "input_schema_ref", "gate_confirmation"),
		}, nil
	}

	classification, fields := g.classify(ctx, n, intake)
	execution.SetClassification(exec.ContextState, classification)

	if extracted := g.runExtract(n, exec); extracted != nil {
		for k, v := range extracted {
			if _, present := fields[k]; !present {
				fields[k] = v
			}
		}
	}
	exec.ContextState["extracted_fields"] = fields

	if classification == ClassificationOutOfScope {
		return &execution.Result{
			Outcome:  execution.OutcomeOutOfScope,
			Metadata: map[string]any{"classification": classification},
		}, nil
	}

	if classification == ClassificationNeedsClarification {
		return &execution.Result{
			Outcome:           execution.OutcomeNeedsUserInput,
			RequiresUserInput: true,
			UserPrompt:        "The request is ambiguous. Add detail on what this document should cover.",
			UserInputSchema:   configString(n, "input_schema_ref", "gate_confirmation"),
			Metadata:          map[string]any{"classification": classification},
		}, nil
	}

	execution.SetGatePhase(exec.ContextState, execution.GatePhaseAwaitingConfirmation)
	return &execution.Result{
		Outcome:           execution.OutcomeNeedsUserInput,
		RequiresUserInput: true,
		UserPrompt:        g.entryPrompt(classification, fields),
		UserChoices:       g.choices(n),
		UserInputSchema:   configString(n, "input_schema_ref", "gate_confirmation"),
		Metadata: map[string]any{
			"classification":   classification,
			"extracted_fields": fields,
		},
	}, nil
}

// handleConfirmation consumes resume input: pin on confirmation, fall back
// to classification on needs_clarification, abandon on out_of_scope,
// re-prompt on bad input.
func (g *GateExecutor) handleConfirmation(ctx context.Context, n *plan.Node, exec *execution.Execution) (*execution.Result, error) {
	input, ok := execution.UserInput(exec.ContextState)
	if !ok || len(input) == 0 {
		// Malformed resume: stay in the same phase with an error prompt.
		return &execution.Result{
			Outcome:           execution.OutcomeNeedsUserInput,
			RequiresUserInput: true,
			UserPrompt:        "The previous response could not be read. " + g.entryPrompt(execution.Classification(exec.ContextState), nil),
			UserChoices:       g.choices(n),
			UserInputSchema:   configString(n, "input_schema_ref", "gate_confirmation"),
		}, nil
	}

	classification, _ := input["classification"].(string)
	if classification == "" {
		classification = execution.Classification(exec.ContextState)
	}
	if classification == "" {
		// No classification was ever established; the input is intake, not
		// a confirmation. Route it back through pass_a.
		execution.SetGatePhase(exec.ContextState, execution.GatePhaseInitial)
		return g.initialPass(ctx, n, exec)
	}

	switch classification {
	case ClassificationNeedsClarification:
		// The confirmation was declined. Drop back to the initial phase so
		// the next free-text answer re-runs classification and can land on
		// a different outcome.
		execution.SetGatePhase(exec.ContextState, execution.GatePhaseInitial)
		if text := resumedFreeText(exec.ContextState); text != "" {
			return g.initialPass(ctx, n, exec)
		}
		execution.ClearUserInput(exec.ContextState)
		followUp, _ := input["question"].(string)
		if followUp == "" {
			followUp = "What else should this document take into account?"
		}
		return &execution.Result{
			Outcome:           execution.OutcomeNeedsUserInput,
			RequiresUserInput: true,
			UserPrompt:        followUp,
			UserInputSchema:   configString(n, "input_schema_ref", "gate_confirmation"),
		}, nil

	case ClassificationOutOfScope:
		execution.ClearUserInput(exec.ContextState)
		execution.SetGatePhase(exec.ContextState, execution.GatePhaseComplete)
		return &execution.Result{
			Outcome:  execution.OutcomeOutOfScope,
			Metadata: map[string]any{"classification": classification},
		}, nil
	}

	// Confirmed: pin the fields as binding constraints.
	fields := make(map[string]any)
	if extracted, ok := exec.ContextState["extracted_fields"].(map[string]any); ok {
		for k, v := range extracted {
			fields[k] = v
		}
	}
	if corrected, ok := input["fields"].(map[string]any); ok {
		for k, v := range corrected {
			fields[k] = v
		}
	}

	g.runPin(n, exec)
	execution.SetClassification(exec.ContextState, classification)
	execution.SetBoundFields(exec.ContextState, fields)
	execution.ClearUserInput(exec.ContextState)
	execution.SetGatePhase(exec.ContextState, execution.GatePhaseComplete)

	log.Printf("[Gate] Node %s confirmed classification %q with %d bound fields",
		n.NodeID, classification, len(fields))

	return &execution.Result{
		Outcome: execution.OutcomeSuccess,
		Metadata: map[string]any{
			"classification": classification,
			"bound_fields":   fields,
		},
	}, nil
}

// classify runs pass_a: LLM first, deterministic keyword fallback when no
// model response parses as JSON.
func (g *GateExecutor) classify(ctx context.Context, n *plan.Node, intake string) (string, map[string]any) {
	if g.deps.LLM != nil {
		if cls, fields, ok := g.classifyLLM(ctx, n, intake); ok {
			return cls, fields
		}
	}
	return g.classifyFallback(n, intake), map[string]any{}
}

func (g *GateExecutor) classifyLLM(ctx context.Context, n *plan.Node, intake string) (string, map[string]any, bool) {
	system := fmt.Sprintf(
		"Classify the request into one of: %s. Respond with JSON {\"classification\": string, \"fields\": object}.",
		strings.Join(g.choices(n), ", "))

	completion, err := g.deps.LLM.Complete(ctx, system, []provider.Message{{Role: "user", Content: intake}})
	if err != nil {
		log.Printf("[Gate] Node %s pass_a provider call failed, using fallback: %v", n.NodeID, err)
		return "", nil, false
	}

	var parsed struct {
		Classification string         `json:"classification"`
		Fields         map[string]any `json:"fields"`
	}
	if err := provider.ExtractJSON(completion.Content, &parsed); err != nil || parsed.Classification == "" {
		log.Printf("[Gate] Node %s pass_a output unparseable, using fallback", n.NodeID)
		return "", nil, false
	}
	if parsed.Fields == nil {
		parsed.Fields = map[string]any{}
	}
	return parsed.Classification, parsed.Fields, true
}

// classifyFallback scores configured keyword patterns against the intake.
func (g *GateExecutor) classifyFallback(n *plan.Node, intake string) string {
	patterns, _ := n.Config["fallback_patterns"].(map[string]any)
	lower := strings.ToLower(intake)

	best := configString(n, "default_classification", ClassificationNeedsClarification)
	bestHits := 0
	for cls, raw := range patterns {
		words, ok := raw.([]any)
		if !ok {
			continue
		}
		hits := 0
		for _, w := range words {
			if s, ok := w.(string); ok && strings.Contains(lower, strings.ToLower(s)) {
				hits++
			}
		}
		if hits > bestHits {
			best = cls
			bestHits = hits
		}
	}
	return best
}

// runExtract invokes the extract internal, if the plan defines one.
func (g *GateExecutor) runExtract(n *plan.Node, exec *execution.Execution) map[string]any {
	internal, ok := n.Internals["extract"]
	if !ok || internal.InternalType != plan.InternalMech {
		return nil
	}
	result := g.runMech(n, internal, exec)
	if result == nil || !result.Success {
		return nil
	}
	return result.Output
}

// runPin invokes the pin internal, if the plan defines one, and stores the
// pinned constraint list.
func (g *GateExecutor) runPin(n *plan.Node, exec *execution.Execution) {
	internal, ok := n.Internals["pin"]
	if !ok || internal.InternalType != plan.InternalMech {
		return
	}
	result := g.runMech(n, internal, exec)
	if result != nil && result.Success {
		if constraints, ok := result.Output["constraints"]; ok {
			exec.ContextState["pinned_constraints"] = constraints
		}
	}
}

func (g *GateExecutor) runMech(n *plan.Node, internal plan.Internal, exec *execution.Execution) *mech.Result {
	handler, err := g.deps.Mech.Get(internal.Operation)
	if err != nil {
		log.Printf("[Gate] Node %s: %v", n.NodeID, err)
		return nil
	}
	result, err := handler.Execute(internal.Config, exec.ContextState)
	if err != nil {
		log.Printf("[Gate] Node %s operation %s misconfigured: %v", n.NodeID, internal.Operation, err)
		return nil
	}
	return &result
}

func (g *GateExecutor) entryPrompt(classification string, fields map[string]any) string {
	var b strings.Builder
	if classification != "" {
		fmt.Fprintf(&b, "This request was classified as %q.", classification)
	} else {
		b.WriteString("This request could not be classified automatically.")
	}
	if len(fields) > 0 {
		encoded, _ := json.Marshal(fields)
		b.WriteString(" Extracted fields: ")
		b.Write(encoded)
	}
	b.WriteString(" Confirm or correct before generation proceeds.")
	return b.String()
}

// resumedFreeText pulls free text out of pending resume input. UI clients
// send intake and clarification answers under "text"; "answer" is accepted
// for older clients.
func resumedFreeText(state map[string]any) string {
	input, ok := execution.UserInput(state)
	if !ok {
		return ""
	}
	for _, key := range []string{"text", "answer"} {
		if s, ok := input[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// appendIntake folds supplied text into the stored intake so repeated
// clarification rounds classify against the full conversation.
func appendIntake(state map[string]any, text string) {
	existing := execution.IntakeText(state)
	if strings.TrimSpace(existing) == "" {
		execution.SetIntakeText(state, text)
		return
	}
	execution.SetIntakeText(state, existing+"\n"+text)
}

func (g *GateExecutor) choices(n *plan.Node) []string {
	raw, _ := n.Config["classifications"].([]any)
	out := make([]string, 0, len(raw)+2)
	for _, c := range raw {
		if s, ok := c.(string); ok {
			out = append(out, s)
		}
	}
	out = append(out, ClassificationNeedsClarification, ClassificationOutOfScope)
	return out
}
