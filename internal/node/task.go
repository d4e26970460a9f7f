package node

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/jordanhubbard/quill/internal/execution"
	"github.com/jordanhubbard/quill/internal/governance"
	"github.com/jordanhubbard/quill/internal/plan"
	"github.com/jordanhubbard/quill/internal/provider"
)

// TaskExecutor runs LLM generation and remediation tasks. It assembles a
// prompt from node config, context state, and prior documents, invokes the
// provider, and parses the produced document body.
type TaskExecutor struct {
	deps Deps
}

// NewTaskExecutor creates a task executor.
func NewTaskExecutor(deps Deps) *TaskExecutor {
	return &TaskExecutor{deps: deps}
}

// Execute runs the task node. Provider and parse failures come back as
// failed results with error codes; they never escape as raw errors.
func (t *TaskExecutor) Execute(ctx context.Context, n *plan.Node, exec *execution.Execution) (*execution.Result, error) {
	// A missing client is a deployment misconfiguration, not a transient
	// provider failure, so it surfaces as an error instead of a retryable
	// failed result.
	if t.deps.LLM == nil {
		return nil, fmt.Errorf("task %s: no LLM client configured", n.NodeID)
	}

	prompt, err := t.assemblePrompt(ctx, n, exec)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", n.NodeID, err)
	}

	completion, err := t.deps.LLM.Complete(ctx, configString(n, "system_prompt", ""), []provider.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		code := provider.CodeOf(err)
		log.Printf("[Task] Node %s provider call failed (%s): %v", n.NodeID, code, err)
		return &execution.Result{
			Outcome:   execution.OutcomeFailed,
			ErrorCode: code,
			Metadata:  map[string]any{"error": err.Error()},
		}, nil
	}

	var body map[string]any
	if err := provider.ExtractJSON(completion.Content, &body); err != nil {
		log.Printf("[Task] Node %s produced unparseable output: %v", n.NodeID, err)
		return &execution.Result{
			Outcome:   execution.OutcomeFailed,
			ErrorCode: provider.ErrCodeSchemaInvalid,
			Metadata:  map[string]any{"error": err.Error()},
		}, nil
	}

	// Governance checkpoint before the body enters context state. A hard
	// stop propagates as an error: the engine aborts without persisting.
	if err := governance.Check(ctx, t.deps.Scanner, body); err != nil {
		return nil, err
	}

	metadata := map[string]any{
		"document_body": body,
		"token_usage": map[string]any{
			"prompt":     completion.Usage.PromptTokens,
			"completion": completion.Usage.CompletionTokens,
		},
	}

	if failed, err := t.runInternals(n, exec, body, metadata); err != nil {
		return nil, fmt.Errorf("task %s: %w", n.NodeID, err)
	} else if failed != nil {
		return failed, nil
	}

	return &execution.Result{
		Outcome:  execution.OutcomeSuccess,
		Metadata: metadata,
	}, nil
}

// runInternals executes the node's configured mech steps against the fresh
// body, in name order, folding each step's output into the result metadata.
// A step's business failure fails the node with the step's error code; a
// misconfigured step is a plan authoring error and escapes as a Go error.
func (t *TaskExecutor) runInternals(n *plan.Node, exec *execution.Execution, body map[string]any, metadata map[string]any) (*execution.Result, error) {
	if len(n.Internals) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(n.Internals))
	for name, internal := range n.Internals {
		if internal.InternalType == plan.InternalMech {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	overlay := make(map[string]any, len(exec.ContextState)+1)
	for k, v := range exec.ContextState {
		overlay[k] = v
	}
	execution.SetDocumentBody(overlay, body)

	for _, name := range names {
		internal := n.Internals[name]
		handler, err := t.deps.Mech.Get(internal.Operation)
		if err != nil {
			return nil, err
		}
		result, err := handler.Execute(internal.Config, overlay)
		if err != nil {
			return nil, fmt.Errorf("internal %s (%s): %w", name, internal.Operation, err)
		}
		if !result.Success {
			log.Printf("[Task] Node %s internal %s failed (%s)", n.NodeID, name, result.ErrorCode)
			return &execution.Result{
				Outcome:   execution.OutcomeFailed,
				ErrorCode: result.ErrorCode,
				Metadata:  map[string]any{"failed_internal": name},
			}, nil
		}
		for k, v := range result.Output {
			overlay[k] = v
			metadata[k] = v
		}
	}
	return nil, nil
}

// assemblePrompt builds the user prompt from instructions, QA feedback from
// the previous loop iteration, bound constraints, and prior documents.
func (t *TaskExecutor) assemblePrompt(ctx context.Context, n *plan.Node, exec *execution.Execution) (string, error) {
	var b strings.Builder

	instructions := configString(n, "instructions", "")
	if instructions == "" {
		return "", fmt.Errorf("config missing instructions")
	}
	b.WriteString(instructions)

	if fields, ok := execution.BoundFields(exec.ContextState); ok && len(fields) > 0 {
		encoded, _ := json.Marshal(fields)
		b.WriteString("\n\nBinding constraints (must be respected):\n")
		b.Write(encoded)
	}

	if feedback, ok := execution.QAFeedback(exec.ContextState); ok && len(feedback) > 0 {
		encoded, _ := json.Marshal(feedback)
		b.WriteString("\n\nValidation issues from the previous attempt; fix every one:\n")
		b.Write(encoded)
	}

	if intake := execution.IntakeText(exec.ContextState); intake != "" {
		b.WriteString("\n\nOriginal intake:\n")
		b.WriteString(intake)
	}

	if priorType := configString(n, "prior_doc_type", ""); priorType != "" && t.deps.Documents != nil {
		content, err := t.deps.Documents.LatestContent(ctx, exec.SpaceID, priorType)
		if err != nil {
			log.Printf("[Task] Node %s: prior document %s unavailable: %v", n.NodeID, priorType, err)
		} else if content != nil {
			encoded, _ := json.Marshal(content)
			b.WriteString("\n\nPrior document (" + priorType + "):\n")
			b.Write(encoded)
		}
	}

	b.WriteString("\n\nRespond with a single JSON object for the document body.")
	return b.String(), nil
}
