package mech

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BuildSpawnReceipt documents the intent to spawn a child execution from a
// routing decision. It only builds the receipt; creating the child execution
// is the engine's job, so this handler stays side-effect free.
//
// Config:
//
//	route_key:    context key holding the routing decision (route_id, confidence)
//	doc_type_id:  document type the child will produce
//	plan_id:      optional plan driving the child; defaults to doc_type_id
//	seed_keys:    context keys copied into the child's seed inputs
func BuildSpawnReceipt(config, context map[string]any) (Result, error) {
	routeKey, err := configString(config, "route_key")
	if err != nil {
		return Result{}, err
	}
	docTypeID, err := configString(config, "doc_type_id")
	if err != nil {
		return Result{}, err
	}

	route, ok := context[routeKey].(map[string]any)
	if !ok {
		return Fail(ErrCodeMissingInput, fmt.Sprintf("routing decision %q not present in context", routeKey)), nil
	}
	routeID, _ := route["route_id"].(string)
	if routeID == "" {
		return Fail(ErrCodeMissingInput, "routing decision has no route_id"), nil
	}

	seed := make(map[string]any)
	if raw, ok := config["seed_keys"].([]any); ok {
		for _, k := range raw {
			key, ok := k.(string)
			if !ok {
				continue
			}
			if v, ok := context[key]; ok {
				seed[key] = v
			}
		}
	}

	planID, _ := config["plan_id"].(string)
	if planID == "" {
		planID = docTypeID
	}

	receipt := map[string]any{
		"child_execution_id": fmt.Sprintf("wfex-%s", uuid.New().String()[:8]),
		"doc_type_id":        docTypeID,
		"plan_id":            planID,
		"route_id":           routeID,
		"seed_inputs":        seed,
		"lineage": map[string]any{
			"transformation": "spawn",
			"routed_by":      routeKey,
			"confidence":     route["confidence"],
		},
		"issued_at": time.Now().UTC().Format(time.RFC3339),
	}

	return Ok(map[string]any{"spawn_receipt": receipt}), nil
}
