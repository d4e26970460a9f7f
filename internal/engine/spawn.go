package engine

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/quill/internal/execution"
	"github.com/jordanhubbard/quill/internal/telemetry"
)

// SpawnChildren materializes child documents idempotently by diffing the
// desired set against what already exists under the parent. Unchanged
// children produce zero writes, so re-running a spawning node after a crash
// is safe. The change-summary event is emitted at most once per pass and
// suppressed entirely when nothing changed.
func (e *Engine) SpawnChildren(ctx context.Context, exec *execution.Execution, specs []execution.ChildSpec) (*execution.ChildChangeSummary, error) {
	existing, err := e.store.ListChildren(ctx, exec.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children of %s: %w", exec.DocumentID, err)
	}

	latest := make(map[string]*execution.ChildDocument, len(existing))
	for _, doc := range existing {
		if doc.IsLatest {
			latest[doc.Identifier] = doc
		}
	}

	desired := make(map[string]bool, len(specs))
	summary := &execution.ChildChangeSummary{}
	now := time.Now()

	for _, spec := range specs {
		if spec.Identifier == "" {
			return nil, fmt.Errorf("child spec for doc type %s has no identifier", spec.DocTypeID)
		}
		if desired[spec.Identifier] {
			return nil, fmt.Errorf("duplicate child identifier %s in spawn pass", spec.Identifier)
		}
		desired[spec.Identifier] = true

		current, ok := latest[spec.Identifier]
		if !ok {
			doc := &execution.ChildDocument{
				ID:               fmt.Sprintf("wfdoc-%s", uuid.New().String()[:8]),
				ParentDocumentID: exec.DocumentID,
				SpaceID:          exec.SpaceID,
				DocTypeID:        spec.DocTypeID,
				Identifier:       spec.Identifier,
				Content:          spec.Content,
				Version:          1,
				IsLatest:         true,
				Lifecycle:        execution.LifecycleActive,
				Lineage:          spec.Lineage,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := e.store.CreateChild(ctx, doc); err != nil {
				return nil, fmt.Errorf("failed to create child %s: %w", spec.Identifier, err)
			}
			summary.Created = append(summary.Created, spec.Identifier)
			if e.metrics != nil {
				e.metrics.ChildrenCreated.WithLabelValues(spec.DocTypeID).Inc()
			}
			continue
		}

		// Update in place only when content actually differs; identical
		// content means the pass is a no-op for this child.
		if reflect.DeepEqual(current.Content, spec.Content) && current.Lifecycle == execution.LifecycleActive {
			continue
		}
		current.Content = spec.Content
		current.Version++
		current.Lifecycle = execution.LifecycleActive
		current.Lineage = spec.Lineage
		current.UpdatedAt = now
		if err := e.store.UpdateChild(ctx, current); err != nil {
			return nil, fmt.Errorf("failed to update child %s: %w", spec.Identifier, err)
		}
		summary.Updated = append(summary.Updated, spec.Identifier)
		if e.metrics != nil {
			e.metrics.ChildrenUpdated.WithLabelValues(spec.DocTypeID).Inc()
		}
	}

	// Children the parent no longer produces are superseded, never deleted.
	for identifier, doc := range latest {
		if desired[identifier] || doc.Lifecycle == execution.LifecycleStale {
			continue
		}
		if err := e.store.SupersedeChild(ctx, doc.ID); err != nil {
			return nil, fmt.Errorf("failed to supersede child %s: %w", identifier, err)
		}
		summary.Superseded = append(summary.Superseded, identifier)
		if e.metrics != nil {
			e.metrics.ChildrenSuperseded.WithLabelValues(doc.DocTypeID).Inc()
		}
	}

	if summary.Empty() {
		return summary, nil
	}

	log.Printf("[Engine] Execution %s spawn pass: %d created, %d updated, %d superseded",
		exec.ID, len(summary.Created), len(summary.Updated), len(summary.Superseded))
	telemetry.Add(ctx, telemetry.ChildrenSpawned, int64(len(summary.Created)))
	e.emit(ctx, "children_updated", map[string]any{
		"execution_id":       exec.ID,
		"parent_document_id": exec.DocumentID,
		"created":            summary.Created,
		"updated":            summary.Updated,
		"superseded":         summary.Superseded,
	})
	return summary, nil
}

// enqueueSpawn turns a spawn receipt from a routing step into a queued start
// request for the child execution. The receipt's child_execution_id doubles
// as the idempotency key, so re-running the spawning node enqueues at most
// one live start per receipt.
func (e *Engine) enqueueSpawn(ctx context.Context, exec *execution.Execution, receipt map[string]any) error {
	childID := stringOf(receipt["child_execution_id"])
	docTypeID := stringOf(receipt["doc_type_id"])
	if childID == "" || docTypeID == "" {
		return fmt.Errorf("spawn receipt missing child_execution_id or doc_type_id")
	}
	planID := stringOf(receipt["plan_id"])
	if planID == "" {
		planID = docTypeID
	}

	initial := map[string]any{"lineage": receipt["lineage"], "spawned_by": exec.ID}
	if seed, ok := receipt["seed_inputs"].(map[string]any); ok {
		for k, v := range seed {
			initial[k] = v
		}
	}

	item := &execution.WorkItem{
		ID:             fmt.Sprintf("wfitem-%s", uuid.New().String()[:8]),
		Kind:           execution.WorkItemStart,
		LockScope:      exec.LockScope,
		IdempotencyKey: childID,
		Payload: map[string]any{
			"plan_id":         planID,
			"document_id":     fmt.Sprintf("wfdoc-%s", childID),
			"space_id":        exec.SpaceID,
			"thread_id":       exec.ThreadID,
			"initial_context": initial,
		},
	}
	if err := e.store.EnqueueWorkItem(ctx, item); err != nil {
		return fmt.Errorf("failed to enqueue child start: %w", err)
	}

	log.Printf("[Engine] Execution %s enqueued child execution %s (plan %s)", exec.ID, childID, planID)
	e.emit(ctx, "child_enqueued", map[string]any{
		"execution_id":       exec.ID,
		"child_execution_id": childID,
		"plan_id":            planID,
	})
	return nil
}

// decodeChildSpecs pulls child specs out of node result metadata and stamps
// lineage from the spawning execution. Nodes that do not spawn simply omit
// the key; task nodes may also carry the list inside the produced document
// body.
func decodeChildSpecs(metadata map[string]any, exec *execution.Execution) []execution.ChildSpec {
	raw, ok := metadata["children"]
	if !ok {
		if body, found := metadata["document_body"].(map[string]any); found {
			raw, ok = body["children"]
		}
	}
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		// Mech handlers hand the typed slice through directly.
		if typed, ok := raw.([]execution.ChildSpec); ok {
			return stampLineage(typed, exec)
		}
		return nil
	}

	specs := make([]execution.ChildSpec, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		spec := execution.ChildSpec{
			DocTypeID:  stringOf(m["doc_type_id"]),
			Identifier: stringOf(m["identifier"]),
		}
		if content, ok := m["content"].(map[string]any); ok {
			spec.Content = content
		}
		specs = append(specs, spec)
	}
	return stampLineage(specs, exec)
}

func stampLineage(specs []execution.ChildSpec, exec *execution.Execution) []execution.ChildSpec {
	for i := range specs {
		if specs[i].Lineage.ParentExecutionID == "" {
			specs[i].Lineage = execution.Lineage{
				ParentDocumentType: stringOf(exec.ContextState["doc_type_id"]),
				ParentExecutionID:  exec.ID,
				Transformation:     "spawn",
			}
		}
	}
	return specs
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}
