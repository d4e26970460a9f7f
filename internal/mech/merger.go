package mech

import (
	"fmt"
)

// Merge strategies.
const (
	StrategyDeepMerge    = "deep_merge"
	StrategyShallowMerge = "shallow_merge"
	StrategyConcatenate  = "concatenate"
)

// Merge combines named inputs from context under the configured strategy.
//
// Config:
//
//	strategy: deep_merge | shallow_merge | concatenate
//	inputs:   list of context keys, merged in order (later wins)
//
// deep_merge recursively unions maps and concatenates lists; later sources
// win on scalar conflicts. shallow_merge replaces top-level keys wholesale.
// concatenate appends list inputs into one list.
func Merge(config, context map[string]any) (Result, error) {
	strategy, err := configString(config, "strategy")
	if err != nil {
		return Result{}, err
	}
	inputKeys, err := configList(config, "inputs")
	if err != nil {
		return Result{}, err
	}

	var sources []any
	for _, raw := range inputKeys {
		key, ok := raw.(string)
		if !ok {
			return Result{}, fmt.Errorf("merger: input keys must be strings")
		}
		value, ok := context[key]
		if !ok {
			return Fail(ErrCodeMissingInput, fmt.Sprintf("input %q not present in context", key)), nil
		}
		sources = append(sources, value)
	}

	switch strategy {
	case StrategyConcatenate:
		var out []any
		for i, src := range sources {
			list, ok := src.([]any)
			if !ok {
				return Fail(ErrCodeMissingInput, fmt.Sprintf("concatenate input %d is not a list", i)), nil
			}
			out = append(out, list...)
		}
		return Ok(map[string]any{"merged": out}), nil

	case StrategyShallowMerge, StrategyDeepMerge:
		out := make(map[string]any)
		for i, src := range sources {
			m, ok := src.(map[string]any)
			if !ok {
				return Fail(ErrCodeMissingInput, fmt.Sprintf("merge input %d is not a map", i)), nil
			}
			if strategy == StrategyShallowMerge {
				for k, v := range m {
					out[k] = v
				}
			} else {
				deepMergeInto(out, m)
			}
		}
		return Ok(map[string]any{"merged": out}), nil

	default:
		return Result{}, fmt.Errorf("merger: unknown strategy %q", strategy)
	}
}

// deepMergeInto merges src into dst recursively. Maps union, lists
// concatenate, scalars from src win.
func deepMergeInto(dst, src map[string]any) {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		switch ev := existing.(type) {
		case map[string]any:
			if sv, ok := v.(map[string]any); ok {
				deepMergeInto(ev, sv)
				continue
			}
		case []any:
			if sv, ok := v.([]any); ok {
				dst[k] = append(append([]any{}, ev...), sv...)
				continue
			}
		}
		dst[k] = v
	}
}
