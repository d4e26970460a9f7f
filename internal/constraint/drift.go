package constraint

import (
	"fmt"
	"strings"
)

// decisionSections are the only sections scanned by the reopened-decision
// check. Whole-document search reopens false positives every time an
// artifact restates a settled topic as fact, so the scope stays narrow.
var decisionSections = []string{
	"early_decision_points",
	"unknowns",
	"stakeholder_questions",
	"recommendations_for_pm",
}

// Artifact is the generated document as seen by the drift checker: the full
// text plus its parsed sections.
type Artifact struct {
	Text     string
	Sections map[string][]string // section id -> entries
}

// KnownConstraints returns the artifact's known_constraints section joined
// for traceability matching.
func (a *Artifact) KnownConstraints() string {
	return strings.Join(a.Sections["known_constraints"], "\n")
}

// DriftChecker validates a generated artifact against binding invariants.
type DriftChecker struct{}

// NewDriftChecker creates a drift checker.
func NewDriftChecker() *DriftChecker {
	return &DriftChecker{}
}

// Check runs all drift checks against binding invariants only. Non-binding
// answers never produce violations.
func (d *DriftChecker) Check(artifact *Artifact, answers []Answer) []DriftViolation {
	var violations []DriftViolation
	for _, a := range answers {
		if !a.Binding {
			continue
		}
		violations = append(violations, d.checkContradiction(artifact, a)...)
		violations = append(violations, d.checkConstraintStated(artifact, a)...)
		violations = append(violations, d.checkTraceability(artifact, a)...)
		violations = append(violations, d.checkReopenedDecision(artifact, a)...)
	}
	return violations
}

// checkContradiction errors when the artifact positively mentions an option
// the invariant excluded, or states a different choice than was selected.
func (d *DriftChecker) checkContradiction(artifact *Artifact, a Answer) []DriftViolation {
	var out []DriftViolation
	text := strings.ToLower(artifact.Text)

	for _, excluded := range a.ExcludedOptions {
		if excluded == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(excluded)) {
			out = append(out, DriftViolation{
				Severity:        DriftError,
				CheckType:       DriftContradiction,
				ClarificationID: a.ClarificationID,
				Message:         fmt.Sprintf("artifact mentions excluded option %q for %s", excluded, a.ClarificationID),
				Evidence:        excluded,
				Remediation:     fmt.Sprintf("remove references to %q; the bound choice is %q", excluded, a.SelectedOption),
			})
		}
	}

	// A constraint entry restating the decided topic without the selected
	// option is a contradiction even when no options were excluded
	// explicitly.
	if a.SelectedOption != "" {
		topic := Keywords(a.topicText())
		selected := strings.ToLower(a.SelectedOption)
		for _, entry := range artifact.Sections["known_constraints"] {
			if OverlapRatio(Keywords(entry), topic) < 0.5 {
				continue
			}
			if strings.Contains(strings.ToLower(entry), selected) {
				continue
			}
			out = append(out, DriftViolation{
				Severity:        DriftError,
				CheckType:       DriftContradiction,
				ClarificationID: a.ClarificationID,
				Message:         fmt.Sprintf("artifact states a different choice than %q for %s", a.SelectedOption, a.ClarificationID),
				Evidence:        entry,
				Remediation:     fmt.Sprintf("restate the constraint with the bound choice %q", a.SelectedOption),
			})
		}
	}
	return out
}

// checkConstraintStated warns when the bound value is absent from the
// artifact text entirely.
func (d *DriftChecker) checkConstraintStated(artifact *Artifact, a Answer) []DriftViolation {
	value := a.boundValue()
	if value == "" {
		return nil
	}
	if strings.Contains(strings.ToLower(artifact.Text), strings.ToLower(value)) {
		return nil
	}
	return []DriftViolation{{
		Severity:        DriftWarning,
		CheckType:       DriftConstraintStated,
		ClarificationID: a.ClarificationID,
		Message:         fmt.Sprintf("bound value %q for %s does not appear in the artifact", value, a.ClarificationID),
		Remediation:     "state the bound constraint in the artifact body",
	}}
}

// checkTraceability warns when the bound value is missing from the
// known_constraints section specifically.
func (d *DriftChecker) checkTraceability(artifact *Artifact, a Answer) []DriftViolation {
	value := a.boundValue()
	if value == "" {
		return nil
	}
	if strings.Contains(strings.ToLower(artifact.KnownConstraints()), strings.ToLower(value)) {
		return nil
	}
	return []DriftViolation{{
		Severity:        DriftWarning,
		CheckType:       DriftTraceability,
		ClarificationID: a.ClarificationID,
		Message:         fmt.Sprintf("bound value %q for %s missing from known_constraints", value, a.ClarificationID),
		Remediation:     "add the bound constraint to the known_constraints section",
	}}
}

// checkReopenedDecision warns when a decision-bearing section raises the
// invariant's topic again as an open question.
func (d *DriftChecker) checkReopenedDecision(artifact *Artifact, a Answer) []DriftViolation {
	topic := Keywords(a.topicText())
	if len(topic) == 0 {
		return nil
	}

	var out []DriftViolation
	for _, section := range decisionSections {
		for _, entry := range artifact.Sections[section] {
			if OverlapRatio(topic, Keywords(entry)) >= 0.5 {
				out = append(out, DriftViolation{
					Severity:        DriftWarning,
					CheckType:       DriftReopenedDecision,
					ClarificationID: a.ClarificationID,
					Message:         fmt.Sprintf("section %s reopens decided topic for %s", section, a.ClarificationID),
					Evidence:        entry,
					Remediation:     fmt.Sprintf("the decision is settled (%s); remove it from %s", a.boundValue(), section),
				})
			}
		}
	}
	return out
}

// boundValue prefers the normalized text over the raw answer label.
func (a *Answer) boundValue() string {
	if a.NormalizedText != "" {
		return a.NormalizedText
	}
	if a.SelectedOption != "" {
		return a.SelectedOption
	}
	return a.Text
}

func (a *Answer) topicText() string {
	return a.Text + " " + a.SelectedOption
}
