package node

import (
	"context"
	"encoding/json"
	"log"
	"sort"

	"github.com/jordanhubbard/quill/internal/constraint"
	"github.com/jordanhubbard/quill/internal/execution"
	"github.com/jordanhubbard/quill/internal/governance"
	"github.com/jordanhubbard/quill/internal/mech"
	"github.com/jordanhubbard/quill/internal/plan"
	"github.com/jordanhubbard/quill/internal/provider"
)

// QAExecutor validates a generated document body: governance scan first,
// then structural drift and promotion checks, then an optional semantic
// LLM-graded pass. Findings aggregate into success or failed, with a
// per-issue feedback payload the remediation task consumes on the next
// loop iteration.
type QAExecutor struct {
	deps Deps
}

// NewQAExecutor creates a QA executor.
func NewQAExecutor(deps Deps) *QAExecutor {
	return &QAExecutor{deps: deps}
}

// feedbackItem is one entry of the remediation feedback payload.
type feedbackItem struct {
	Type        string `json:"type"`
	CheckID     string `json:"check_id"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
	Severity    string `json:"severity"`
}

// Execute runs the QA pass.
func (q *QAExecutor) Execute(ctx context.Context, n *plan.Node, exec *execution.Execution) (*execution.Result, error) {
	body, ok := execution.DocumentBody(exec.ContextState)
	if !ok {
		return &execution.Result{
			Outcome:   execution.OutcomeFailed,
			ErrorCode: mech.ErrCodeMissingInput,
			Metadata:  map[string]any{"error": "no document body in context"},
		}, nil
	}

	// Governance checkpoint: a detection aborts the node before any
	// finding or output is persisted.
	if err := governance.Check(ctx, q.deps.Scanner, body); err != nil {
		return nil, err
	}

	artifact := artifactFromBody(body)
	answers, _ := mech.DecodeAnswers(exec.ContextState["clarification_answers"])

	var feedback []feedbackItem
	hasError := false

	for _, v := range q.deps.Drift.Check(artifact, answers) {
		if v.Severity == constraint.DriftError {
			hasError = true
		}
		feedback = append(feedback, feedbackItem{
			Type:        "drift",
			CheckID:     v.CheckType,
			Message:     v.Message,
			Remediation: v.Remediation,
			Severity:    string(v.Severity),
		})
	}

	for _, issue := range q.structuralIssues(artifact, answers, exec) {
		if issue.Severity == constraint.SeverityError {
			hasError = true
		}
		feedback = append(feedback, feedbackItem{
			Type:        "promotion",
			CheckID:     issue.CheckID,
			Message:     issue.Message,
			Remediation: issue.Remediation,
			Severity:    string(issue.Severity),
		})
	}

	for _, item := range q.mechIssues(n, exec, body) {
		if item.Severity == string(constraint.SeverityError) {
			hasError = true
		}
		feedback = append(feedback, item)
	}

	if configBool(n, "semantic_review") {
		semantic := q.semanticPass(ctx, n, artifact)
		for _, item := range semantic {
			if item.Severity == string(constraint.SeverityError) {
				hasError = true
			}
		}
		feedback = append(feedback, semantic...)
	}

	payload := make([]any, len(feedback))
	for i, item := range feedback {
		m := map[string]any{
			"type":     item.Type,
			"check_id": item.CheckID,
			"message":  item.Message,
			"severity": item.Severity,
		}
		if item.Remediation != "" {
			m["remediation"] = item.Remediation
		}
		payload[i] = m
	}

	outcome := execution.OutcomeSuccess
	if hasError {
		outcome = execution.OutcomeFailed
		execution.SetQAFeedback(exec.ContextState, payload)
	}

	log.Printf("[QA] Node %s: %d findings, outcome %s", n.NodeID, len(feedback), outcome)

	return &execution.Result{
		Outcome: outcome,
		Metadata: map[string]any{
			"qa_issues":      payload,
			"qa_issue_count": len(feedback),
		},
	}, nil
}

// structuralIssues runs the promotion, contradiction, policy, and grounding
// checks over the artifact's sections.
func (q *QAExecutor) structuralIssues(artifact *constraint.Artifact, answers []constraint.Answer, exec *execution.Execution) []constraint.Issue {
	intake := execution.IntakeText(exec.ContextState)

	var issues []constraint.Issue
	issues = append(issues, q.deps.Validator.CheckPromotionValidity(
		artifact.Sections["known_constraints"], answers, intake)...)
	issues = append(issues, q.deps.Validator.CheckContradictions(
		artifact.Sections["known_constraints"], artifact.Sections["assumptions"])...)
	issues = append(issues, q.deps.Validator.CheckPolicyConformance(artifact.Sections)...)
	issues = append(issues, q.deps.Validator.CheckGrounding(
		artifact.Sections["mvp_guardrails"], answers, intake)...)
	return issues
}

// mechIssues runs the node's configured mech checks against the body, in
// name order, folding each failure into the feedback payload as an error
// finding. Misconfigured steps log and contribute nothing; plan validation
// is the place to catch those.
func (q *QAExecutor) mechIssues(n *plan.Node, exec *execution.Execution, body map[string]any) []feedbackItem {
	names := make([]string, 0, len(n.Internals))
	for name, internal := range n.Internals {
		if internal.InternalType == plan.InternalMech {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)

	overlay := make(map[string]any, len(exec.ContextState)+1)
	for k, v := range exec.ContextState {
		overlay[k] = v
	}
	execution.SetDocumentBody(overlay, body)

	var out []feedbackItem
	for _, name := range names {
		internal := n.Internals[name]
		handler, err := q.deps.Mech.Get(internal.Operation)
		if err != nil {
			log.Printf("[QA] Node %s: %v", n.NodeID, err)
			continue
		}
		result, err := handler.Execute(internal.Config, overlay)
		if err != nil {
			log.Printf("[QA] Node %s check %s misconfigured: %v", n.NodeID, name, err)
			continue
		}
		if result.Success {
			for k, v := range result.Output {
				overlay[k] = v
			}
			continue
		}
		out = append(out, feedbackItem{
			Type:        "mech",
			CheckID:     name,
			Message:     result.Error,
			Severity:    string(constraint.SeverityError),
			Remediation: "satisfy check " + name,
		})
	}
	return out
}

// semanticPass asks the model to grade the artifact. It is best effort: a
// provider failure logs and contributes no findings rather than failing QA.
func (q *QAExecutor) semanticPass(ctx context.Context, n *plan.Node, artifact *constraint.Artifact) []feedbackItem {
	if q.deps.LLM == nil {
		return nil
	}

	system := "Review the document for internal consistency and completeness. " +
		"Respond with JSON {\"issues\": [{\"check_id\": string, \"message\": string, \"severity\": \"error\"|\"warning\", \"remediation\": string}]}."

	completion, err := q.deps.LLM.Complete(ctx, system, []provider.Message{{Role: "user", Content: artifact.Text}})
	if err != nil {
		log.Printf("[QA] Node %s semantic pass unavailable: %v", n.NodeID, err)
		return nil
	}

	var parsed struct {
		Issues []struct {
			CheckID     string `json:"check_id"`
			Message     string `json:"message"`
			Severity    string `json:"severity"`
			Remediation string `json:"remediation"`
		} `json:"issues"`
	}
	if err := provider.ExtractJSON(completion.Content, &parsed); err != nil {
		log.Printf("[QA] Node %s semantic pass output unparseable: %v", n.NodeID, err)
		return nil
	}

	out := make([]feedbackItem, 0, len(parsed.Issues))
	for _, issue := range parsed.Issues {
		severity := issue.Severity
		if severity != string(constraint.SeverityError) {
			severity = string(constraint.SeverityWarning)
		}
		out = append(out, feedbackItem{
			Type:        "semantic",
			CheckID:     "semantic_" + issue.CheckID,
			Message:     issue.Message,
			Remediation: issue.Remediation,
			Severity:    severity,
		})
	}
	return out
}

// artifactFromBody renders the weakly-typed document body into the drift
// checker's artifact shape: full text plus string-list sections.
func artifactFromBody(body map[string]any) *constraint.Artifact {
	sections := make(map[string][]string)
	for key, raw := range body {
		switch v := raw.(type) {
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					sections[key] = append(sections[key], s)
				}
			}
		case string:
			sections[key] = []string{v}
		}
	}
	encoded, _ := json.Marshal(body)
	return &constraint.Artifact{
		Text:     string(encoded),
		Sections: sections,
	}
}
