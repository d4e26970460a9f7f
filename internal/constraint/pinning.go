package constraint

import (
	"fmt"
)

const duplicateKeywordThreshold = 2

// PinInvariants builds the canonical pinned constraint list from binding
// invariants, then appends LLM-produced constraints that are not duplicates
// of the pinned set. Output order is pinned-first.
//
// An LLM constraint is a duplicate when it shares at least two keywords
// (each longer than three characters) with any pinned constraint.
func PinInvariants(answers []Answer, llmConstraints []string) []string {
	var pinned []string
	for _, a := range answers {
		if !a.Binding {
			continue
		}
		pinned = append(pinned, canonicalConstraint(a))
	}

	out := make([]string, 0, len(pinned)+len(llmConstraints))
	out = append(out, pinned...)

	for _, c := range llmConstraints {
		dup := false
		for _, p := range pinned {
			if SharedKeywords(c, p) >= duplicateKeywordThreshold {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

// canonicalConstraint renders one binding invariant as a pinned constraint,
// preferring normalized text over the raw answer label.
func canonicalConstraint(a Answer) string {
	if a.NormalizedText != "" {
		return a.NormalizedText
	}
	if a.SelectedOption != "" {
		return fmt.Sprintf("%s: %s", a.ClarificationID, a.SelectedOption)
	}
	return a.Text
}
