package constraint

import (
	"fmt"
)

// prohibited term categories scanned by the policy-conformance check.
// Unknowns and stakeholder questions must not wander into budget or
// authority territory the document has no mandate over.
var prohibitedTerms = map[string][]string{
	"budget":    {"budget", "cost", "pricing", "headcount", "funding"},
	"authority": {"approve", "authority", "sign-off", "veto", "mandate"},
}

const promotionOverlapThreshold = 0.5
const contradictionJaccardThreshold = 0.5

// Validator runs the promotion, contradiction, policy, and grounding checks
// over generated content versus bound clarification answers.
type Validator struct{}

// NewValidator creates a constraint validator.
func NewValidator() *Validator {
	return &Validator{}
}

// CheckPromotionValidity verifies each generated constraint traces to a
// must-priority answer or explicit intake text with at least 50% keyword
// overlap. Overlap with only a should/could answer is a promotion warning;
// no match at all is an untraceable-constraint warning.
func (v *Validator) CheckPromotionValidity(constraints []string, answers []Answer, intakeText string) []Issue {
	var issues []Issue
	intakeKW := Keywords(intakeText)

	for _, c := range constraints {
		target := Keywords(c)
		if len(target) == 0 {
			continue
		}

		mustHit := false
		softHit := ""
		for _, a := range answers {
			ratio := OverlapRatio(target, Keywords(a.Text))
			if ratio < promotionOverlapThreshold {
				continue
			}
			if a.Priority == PriorityMust {
				mustHit = true
				break
			}
			softHit = a.ClarificationID
		}

		if mustHit || OverlapRatio(target, intakeKW) >= promotionOverlapThreshold {
			continue
		}

		if softHit != "" {
			issues = append(issues, Issue{
				Severity:    SeverityWarning,
				CheckID:     CheckPromotion,
				FieldID:     softHit,
				Message:     fmt.Sprintf("constraint promoted from non-must answer %s: %q", softHit, c),
				Evidence:    c,
				Remediation: "downgrade to assumption or obtain a must-priority confirmation",
			})
			continue
		}

		issues = append(issues, Issue{
			Severity:    SeverityWarning,
			CheckID:     CheckUntraceable,
			Message:     fmt.Sprintf("constraint has no traceable source: %q", c),
			Evidence:    c,
			Remediation: "remove the constraint or trace it to intake text or a confirmed answer",
		})
	}

	return issues
}

// CheckContradictions flags any constraint/assumption pair whose keyword
// sets exceed 0.5 Jaccard similarity. The same concept must not appear as
// both a fixed constraint and an open assumption.
func (v *Validator) CheckContradictions(constraints, assumptions []string) []Issue {
	var issues []Issue
	for _, c := range constraints {
		ck := Keywords(c)
		for _, a := range assumptions {
			sim := Jaccard(ck, Keywords(a))
			if sim > contradictionJaccardThreshold {
				issues = append(issues, Issue{
					Severity:    SeverityError,
					CheckID:     CheckContradiction,
					Message:     fmt.Sprintf("constraint %q overlaps open assumption %q (jaccard %.2f)", c, a, sim),
					Evidence:    a,
					Remediation: "resolve the assumption or drop the constraint",
				})
			}
		}
	}
	return issues
}

// CheckPolicyConformance scans unknowns and stakeholder-question sections
// for prohibited budget/authority terms.
func (v *Validator) CheckPolicyConformance(sections map[string][]string) []Issue {
	var issues []Issue
	for _, section := range []string{"unknowns", "stakeholder_questions"} {
		for _, entry := range sections[section] {
			for category, terms := range prohibitedTerms {
				for _, term := range terms {
					if ContainsTerm(entry, term) {
						issues = append(issues, Issue{
							Severity:    SeverityWarning,
							CheckID:     CheckPolicy,
							FieldID:     section,
							Message:     fmt.Sprintf("%s section raises %s topic (term %q)", section, category, term),
							Evidence:    entry,
							Remediation: "route the question to the owning stakeholder instead",
						})
					}
				}
			}
		}
	}
	return issues
}

// CheckGrounding verifies MVP guardrails trace to must/should answers or
// intake text with at least 50% keyword overlap.
func (v *Validator) CheckGrounding(guardrails []string, answers []Answer, intakeText string) []Issue {
	var issues []Issue
	intakeKW := Keywords(intakeText)

	for _, g := range guardrails {
		target := Keywords(g)
		if len(target) == 0 {
			continue
		}
		grounded := OverlapRatio(target, intakeKW) >= promotionOverlapThreshold
		for _, a := range answers {
			if grounded {
				break
			}
			if a.Priority == PriorityCould {
				continue
			}
			if OverlapRatio(target, Keywords(a.Text)) >= promotionOverlapThreshold {
				grounded = true
			}
		}
		if !grounded {
			issues = append(issues, Issue{
				Severity:    SeverityWarning,
				CheckID:     CheckGrounding,
				Message:     fmt.Sprintf("guardrail not grounded in answers or intake: %q", g),
				Evidence:    g,
				Remediation: "trace the guardrail to a must/should answer or intake text",
			})
		}
	}
	return issues
}
