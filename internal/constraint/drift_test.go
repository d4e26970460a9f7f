package constraint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindingAnswer() Answer {
	return Answer{
		ClarificationID: "c-db",
		Priority:        PriorityMust,
		Text:            "which database engine should back the service",
		SelectedOption:  "PostgreSQL",
		ExcludedOptions: []string{"MongoDB", "DynamoDB"},
		NormalizedText:  "the service is backed by PostgreSQL",
		Binding:         true,
	}
}

func TestDriftIgnoresNonBindingAnswers(t *testing.T) {
	a := bindingAnswer()
	a.Binding = false
	artifact := &Artifact{Text: "we will evaluate MongoDB next quarter"}

	violations := NewDriftChecker().Check(artifact, []Answer{a})
	assert.Empty(t, violations)
}

func TestDriftContradictionOnExcludedOption(t *testing.T) {
	artifact := &Artifact{
		Text: "the service is backed by PostgreSQL, with MongoDB as a fallback",
		Sections: map[string][]string{
			"known_constraints": {"the service is backed by PostgreSQL"},
		},
	}
	violations := NewDriftChecker().Check(artifact, []Answer{bindingAnswer()})

	require.Len(t, violations, 1)
	assert.Equal(t, DriftError, violations[0].Severity)
	assert.Equal(t, DriftContradiction, violations[0].CheckType)
	assert.Equal(t, "MongoDB", violations[0].Evidence)
}

func TestDriftContradictionOnRestatedChoice(t *testing.T) {
	// No excluded options: the contradiction still surfaces when a
	// constraint entry restates the decided topic with another value.
	a := bindingAnswer()
	a.ExcludedOptions = nil
	a.NormalizedText = ""
	artifact := &Artifact{
		Text: "the database engine backing the service is MySQL",
		Sections: map[string][]string{
			"known_constraints": {"the database engine backing the service is MySQL"},
		},
	}

	violations := NewDriftChecker().Check(artifact, []Answer{a})

	var contradictions []DriftViolation
	for _, v := range violations {
		if v.CheckType == DriftContradiction {
			contradictions = append(contradictions, v)
		}
	}
	require.Len(t, contradictions, 1)
	assert.Equal(t, DriftError, contradictions[0].Severity)
	assert.Contains(t, contradictions[0].Message, "different choice")
	assert.Equal(t, "the database engine backing the service is MySQL", contradictions[0].Evidence)
}

func TestDriftWarnsWhenBoundValueOmitted(t *testing.T) {
	artifact := &Artifact{
		Text:     "the charter describes the rollout plan and staffing",
		Sections: map[string][]string{},
	}
	violations := NewDriftChecker().Check(artifact, []Answer{bindingAnswer()})

	types := make(map[string]DriftSeverity)
	for _, v := range violations {
		types[v.CheckType] = v.Severity
	}
	assert.Equal(t, DriftWarning, types[DriftConstraintStated])
	assert.Equal(t, DriftWarning, types[DriftTraceability])
	assert.NotContains(t, types, DriftContradiction)
}

func TestDriftTraceabilityChecksKnownConstraintsSection(t *testing.T) {
	// Bound value appears in the body but not under known_constraints.
	artifact := &Artifact{
		Text: "the service is backed by PostgreSQL per the platform decision",
		Sections: map[string][]string{
			"known_constraints": {"launch is gated on security review"},
		},
	}
	violations := NewDriftChecker().Check(artifact, []Answer{bindingAnswer()})

	require.Len(t, violations, 1)
	assert.Equal(t, DriftTraceability, violations[0].CheckType)
}

func TestDriftReopenedDecisionScopedToDecisionSections(t *testing.T) {
	base := "the service is backed by PostgreSQL"
	artifact := &Artifact{
		Text: base,
		Sections: map[string][]string{
			"known_constraints":     {base},
			"unknowns":              {"which database engine should back the service"},
			"mvp_guardrails":        {"database engine selection is settled"},
		},
	}
	violations := NewDriftChecker().Check(artifact, []Answer{bindingAnswer()})

	require.Len(t, violations, 1)
	assert.Equal(t, DriftReopenedDecision, violations[0].CheckType)
	assert.Equal(t, "which database engine should back the service", violations[0].Evidence)
}

func TestDriftCleanArtifactHasNoViolations(t *testing.T) {
	base := "the service is backed by PostgreSQL"
	artifact := &Artifact{
		Text: base + "; migrations run nightly",
		Sections: map[string][]string{
			"known_constraints": {base},
		},
	}
	violations := NewDriftChecker().Check(artifact, []Answer{bindingAnswer()})
	assert.Empty(t, violations)
}

func TestPinInvariantsPinnedFirstAndDeduplicated(t *testing.T) {
	answers := []Answer{
		bindingAnswer(),
		{ClarificationID: "c-region", Binding: true, SelectedOption: "eu-west"},
		{ClarificationID: "c-skip", Binding: false, Text: "not pinned"},
	}
	llm := []string{
		"the service is backed by PostgreSQL storage", // duplicate of pinned c-db
		"uptime target is four nines",
	}

	out := PinInvariants(answers, llm)

	require.Len(t, out, 3)
	assert.Equal(t, "the service is backed by PostgreSQL", out[0])
	assert.Equal(t, "c-region: eu-west", out[1])
	assert.Equal(t, "uptime target is four nines", out[2])
}

func TestPinInvariantsKeepsDistinctLLMConstraints(t *testing.T) {
	out := PinInvariants(nil, []string{"launch requires a rollback plan"})
	assert.Equal(t, []string{"launch requires a rollback plan"}, out)
}
