package execution

// context_state stays a weakly-typed map at the persistence boundary so
// plans can evolve their keys without schema migrations. Accessors below are
// the only way engine and executor code reads the keys it depends on.

// GatePhase is the explicit phase of a resumable gate node's internal state
// machine, persisted in context_state between suspension and resume.
type GatePhase string

const (
	GatePhaseInitial              GatePhase = "initial"
	GatePhaseAwaitingConfirmation GatePhase = "awaiting_confirmation"
	GatePhaseComplete             GatePhase = "complete"
)

const (
	keyGatePhase      = "intake_gate_phase"
	keyUserInput      = "user_input"
	keyClassification = "classification"
	keyIntakeText     = "intake_text"
	keyFeedback       = "qa_feedback"
	keyDocumentBody   = "document_body"
	keyBoundFields    = "bound_fields"
)

// GatePhaseOf returns the persisted gate phase, defaulting to initial.
func GatePhaseOf(state map[string]any) GatePhase {
	if v, ok := state[keyGatePhase].(string); ok && v != "" {
		return GatePhase(v)
	}
	return GatePhaseInitial
}

// SetGatePhase records the gate phase in context state.
func SetGatePhase(state map[string]any, phase GatePhase) {
	state[keyGatePhase] = string(phase)
}

// UserInput returns the most recent human input merged in on resume.
func UserInput(state map[string]any) (map[string]any, bool) {
	v, ok := state[keyUserInput].(map[string]any)
	return v, ok
}

// SetUserInput stores resume input in context state.
func SetUserInput(state map[string]any, input map[string]any) {
	state[keyUserInput] = input
}

// ClearUserInput removes consumed resume input so a re-entered node does not
// mistake stale input for fresh confirmation.
func ClearUserInput(state map[string]any) {
	delete(state, keyUserInput)
}

// Classification returns the gate's confirmed or provisional classification.
func Classification(state map[string]any) string {
	v, _ := state[keyClassification].(string)
	return v
}

// SetClassification records the classification value.
func SetClassification(state map[string]any, value string) {
	state[keyClassification] = value
}

// IntakeText returns the original free-text intake, if any.
func IntakeText(state map[string]any) string {
	v, _ := state[keyIntakeText].(string)
	return v
}

// SetIntakeText stores the free-text intake, replacing any prior value.
func SetIntakeText(state map[string]any, text string) {
	state[keyIntakeText] = text
}

// QAFeedback returns the issue payload left by the last failed QA pass for
// the remediation task to consume.
func QAFeedback(state map[string]any) ([]any, bool) {
	v, ok := state[keyFeedback].([]any)
	return v, ok
}

// SetQAFeedback stores the QA issue payload.
func SetQAFeedback(state map[string]any, issues []any) {
	state[keyFeedback] = issues
}

// DocumentBody returns the generated document body, if a task node has
// produced one.
func DocumentBody(state map[string]any) (map[string]any, bool) {
	v, ok := state[keyDocumentBody].(map[string]any)
	return v, ok
}

// SetDocumentBody stores the generated document body.
func SetDocumentBody(state map[string]any, body map[string]any) {
	state[keyDocumentBody] = body
}

// BoundFields returns fields confirmed by the user and pinned as binding
// constraints by a gate's pin step.
func BoundFields(state map[string]any) (map[string]any, bool) {
	v, ok := state[keyBoundFields].(map[string]any)
	return v, ok
}

// SetBoundFields stores pinned fields.
func SetBoundFields(state map[string]any, fields map[string]any) {
	state[keyBoundFields] = fields
}

// Merge copies result metadata into context state, later values winning.
func Merge(state map[string]any, metadata map[string]any) {
	for k, v := range metadata {
		state[k] = v
	}
}
