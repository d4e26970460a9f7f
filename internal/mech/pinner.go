package mech

import (
	"fmt"

	"github.com/jordanhubbard/quill/internal/constraint"
)

// PinInvariants turns binding clarification answers into canonical pinned
// constraints and filters out LLM-produced duplicates.
//
// Config:
//
//	answers_key:     context key holding clarification answers
//	constraints_key: context key holding LLM-produced constraint strings
func PinInvariants(config, context map[string]any) (Result, error) {
	answersKey, err := configString(config, "answers_key")
	if err != nil {
		return Result{}, err
	}
	constraintsKey, err := configString(config, "constraints_key")
	if err != nil {
		return Result{}, err
	}

	answers, ok := DecodeAnswers(context[answersKey])
	if !ok {
		return Fail(ErrCodeMissingInput, fmt.Sprintf("answers %q not present in context", answersKey)), nil
	}

	var llm []string
	if raw, ok := context[constraintsKey].([]any); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok {
				llm = append(llm, s)
			}
		}
	}

	pinned := constraint.PinInvariants(answers, llm)
	out := make([]any, len(pinned))
	for i, p := range pinned {
		out[i] = p
	}
	return Ok(map[string]any{"constraints": out}), nil
}

// FilterExclusions drops items whose tags intersect the configured
// exclusion tags.
//
// Config:
//
//	items_key:      context key holding a list of {.., tags: [..]} items
//	exclusion_tags: tags that disqualify an item
func FilterExclusions(config, context map[string]any) (Result, error) {
	itemsKey, err := configString(config, "items_key")
	if err != nil {
		return Result{}, err
	}
	tagsList, err := configList(config, "exclusion_tags")
	if err != nil {
		return Result{}, err
	}

	excluded := make(map[string]bool, len(tagsList))
	for _, t := range tagsList {
		if s, ok := t.(string); ok {
			excluded[s] = true
		}
	}

	items, ok := context[itemsKey].([]any)
	if !ok {
		return Fail(ErrCodeMissingInput, fmt.Sprintf("items %q not present in context", itemsKey)), nil
	}

	var kept, dropped []any
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			kept = append(kept, raw)
			continue
		}
		hit := false
		if tags, ok := item["tags"].([]any); ok {
			for _, t := range tags {
				if s, ok := t.(string); ok && excluded[s] {
					hit = true
					break
				}
			}
		}
		if hit {
			dropped = append(dropped, raw)
		} else {
			kept = append(kept, raw)
		}
	}

	return Ok(map[string]any{"items": kept, "excluded": dropped}), nil
}

// DecodeAnswers converts the loosely-typed context representation of
// clarification answers into constraint.Answer values.
func DecodeAnswers(raw any) ([]constraint.Answer, bool) {
	list, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	answers := make([]constraint.Answer, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		a := constraint.Answer{}
		a.ClarificationID, _ = m["clarification_id"].(string)
		if p, ok := m["priority"].(string); ok {
			a.Priority = constraint.Priority(p)
		}
		a.Text, _ = m["text"].(string)
		a.NormalizedText, _ = m["normalized_text"].(string)
		a.Binding, _ = m["binding"].(bool)
		a.SelectedOption, _ = m["selected_option"].(string)
		if ex, ok := m["excluded_options"].([]any); ok {
			for _, e := range ex {
				if s, ok := e.(string); ok {
					a.ExcludedOptions = append(a.ExcludedOptions, s)
				}
			}
		}
		answers = append(answers, a)
	}
	return answers, true
}
