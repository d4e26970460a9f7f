package constraint

// Severity of a promotion-validity finding
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// DriftSeverity of a drift finding. The drift checker reports in upper case
// to match the report schema consumed downstream.
type DriftSeverity string

const (
	DriftError   DriftSeverity = "ERROR"
	DriftWarning DriftSeverity = "WARNING"
)

// Issue is one promotion/contradiction/policy/grounding finding. Ephemeral:
// computed per QA pass and persisted only inside a node result's metadata.
type Issue struct {
	Severity    Severity `json:"severity"`
	CheckID     string   `json:"check_id"`
	FieldID     string   `json:"field_id,omitempty"`
	Message     string   `json:"message"`
	Evidence    string   `json:"evidence,omitempty"`
	Remediation string   `json:"remediation,omitempty"`
}

// DriftViolation is one post-generation drift finding against a binding
// invariant.
type DriftViolation struct {
	Severity        DriftSeverity `json:"severity"`
	CheckType       string        `json:"check_type"`
	ClarificationID string        `json:"clarification_id,omitempty"`
	Message         string        `json:"message"`
	Evidence        string        `json:"evidence,omitempty"`
	Remediation     string        `json:"remediation,omitempty"`
}

// Priority of a clarification answer
type Priority string

const (
	PriorityMust   Priority = "must"
	PriorityShould Priority = "should"
	PriorityCould  Priority = "could"
)

// Answer is a bound clarification answer a generated constraint may trace to.
type Answer struct {
	ClarificationID string   `json:"clarification_id"`
	Priority        Priority `json:"priority"`
	Text            string   `json:"text"`
	NormalizedText  string   `json:"normalized_text,omitempty"`
	Binding         bool     `json:"binding"`
	SelectedOption  string   `json:"selected_option,omitempty"`
	ExcludedOptions []string `json:"excluded_options,omitempty"`
}

// Check identifiers reported in issues and violations.
const (
	CheckPromotion     = "promotion_validity"
	CheckUntraceable   = "untraceable_constraint"
	CheckContradiction = "internal_contradiction"
	CheckPolicy        = "policy_conformance"
	CheckGrounding     = "grounding"

	DriftContradiction    = "contradiction"
	DriftConstraintStated = "constraint_stated"
	DriftTraceability     = "traceability"
	DriftReopenedDecision = "reopened_decision"
)
