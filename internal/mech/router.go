package mech

import (
	"fmt"
	"sort"
)

const (
	matchRatioWeight      = 0.9
	runnerUpPenaltyWindow = 0.1
)

// RouteCandidate is one scored routing rule, returned for audit alongside
// the selected route.
type RouteCandidate struct {
	RouteID    string  `json:"route_id"`
	Score      float64 `json:"score"`
	MatchRatio float64 `json:"match_ratio"`
}

// Route scores configured routing rules against extracted classification
// fields and returns the top candidate.
//
// Config:
//
//	rules: list of {route_id, match: {field: expected}, confidence_bonus}
//	input_key: context key holding the extracted classification fields
//
// Score = match-ratio × 0.9 + confidence bonus, capped at 1.0. The final
// confidence is penalized when a runner-up scores within 0.1 of the winner,
// so ambiguous routings surface as low-confidence decisions.
func Route(config, context map[string]any) (Result, error) {
	rules, err := configList(config, "rules")
	if err != nil {
		return Result{}, err
	}
	inputKey, err := configString(config, "input_key")
	if err != nil {
		return Result{}, err
	}

	fields, ok := context[inputKey].(map[string]any)
	if !ok {
		return Fail(ErrCodeMissingInput, fmt.Sprintf("classification fields %q not present in context", inputKey)), nil
	}

	var candidates []RouteCandidate
	for i, raw := range rules {
		rule, ok := raw.(map[string]any)
		if !ok {
			return Result{}, fmt.Errorf("router: rule %d is not a map", i)
		}
		routeID, ok := rule["route_id"].(string)
		if !ok || routeID == "" {
			return Result{}, fmt.Errorf("router: rule %d missing route_id", i)
		}
		match, _ := rule["match"].(map[string]any)
		if len(match) == 0 {
			return Result{}, fmt.Errorf("router: rule %q has no match fields", routeID)
		}

		matched := 0
		for field, expected := range match {
			if got, ok := fields[field]; ok && fmt.Sprintf("%v", got) == fmt.Sprintf("%v", expected) {
				matched++
			}
		}
		ratio := float64(matched) / float64(len(match))

		bonus := 0.0
		if b, ok := rule["confidence_bonus"].(float64); ok {
			bonus = b
		}

		score := ratio*matchRatioWeight + bonus
		if score > 1.0 {
			score = 1.0
		}
		candidates = append(candidates, RouteCandidate{RouteID: routeID, Score: score, MatchRatio: ratio})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) == 0 || candidates[0].MatchRatio == 0 {
		return Fail(ErrCodeNoRouteMatch, "no routing rule matched the classification fields"), nil
	}

	winner := candidates[0]
	confidence := winner.Score
	if len(candidates) > 1 {
		gap := winner.Score - candidates[1].Score
		if gap < runnerUpPenaltyWindow {
			confidence -= (runnerUpPenaltyWindow - gap)
			if confidence < 0 {
				confidence = 0
			}
		}
	}

	audit := make([]any, 0, len(candidates))
	for _, c := range candidates {
		audit = append(audit, map[string]any{
			"route_id":    c.RouteID,
			"score":       c.Score,
			"match_ratio": c.MatchRatio,
		})
	}

	return Ok(map[string]any{
		"route_id":   winner.RouteID,
		"confidence": confidence,
		"candidates": audit,
	}), nil
}
