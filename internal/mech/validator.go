package mech

import (
	"fmt"
	"strings"
)

// ValidateFields runs generic per-field checks against a JSONPath-addressed
// input, short-circuiting on the first failure.
//
// Config:
//
//	checks: list of {path, check, ...} where check is one of
//	  required:           value present and non-empty
//	  enum:               value in "allowed" list
//	  equals:             value equals "expected"
//	  pow_ref_resolvable: value names a plan-of-work ref present in the
//	                      context's pow_refs list
func ValidateFields(config, context map[string]any) (Result, error) {
	checks, err := configList(config, "checks")
	if err != nil {
		return Result{}, err
	}

	for i, raw := range checks {
		check, ok := raw.(map[string]any)
		if !ok {
			return Result{}, fmt.Errorf("validator: check %d is not a map", i)
		}
		path, ok := check["path"].(string)
		if !ok || path == "" {
			return Result{}, fmt.Errorf("validator: check %d missing path", i)
		}
		kind, ok := check["check"].(string)
		if !ok || kind == "" {
			return Result{}, fmt.Errorf("validator: check %d missing check kind", i)
		}

		value, present := ResolvePath(context, path)

		switch kind {
		case "required":
			if !present || isEmpty(value) {
				return Fail(ErrCodeCheckFailed, fmt.Sprintf("required field %s is missing", path)), nil
			}

		case "enum":
			allowed, ok := check["allowed"].([]any)
			if !ok {
				return Result{}, fmt.Errorf("validator: enum check on %s missing allowed list", path)
			}
			match := false
			for _, a := range allowed {
				if fmt.Sprintf("%v", a) == fmt.Sprintf("%v", value) {
					match = true
					break
				}
			}
			if !match {
				return Fail(ErrCodeCheckFailed,
					fmt.Sprintf("field %s value %v not in allowed set", path, value)), nil
			}

		case "equals":
			expected, hasExpected := check["expected"]
			if !hasExpected {
				return Result{}, fmt.Errorf("validator: equals check on %s missing expected", path)
			}
			if fmt.Sprintf("%v", value) != fmt.Sprintf("%v", expected) {
				return Fail(ErrCodeCheckFailed,
					fmt.Sprintf("field %s value %v != expected %v", path, value, expected)), nil
			}

		case "pow_ref_resolvable":
			ref, _ := value.(string)
			if ref == "" {
				return Fail(ErrCodeUnresolvedRef, fmt.Sprintf("field %s holds no plan-of-work ref", path)), nil
			}
			refs, _ := context["pow_refs"].([]any)
			resolved := false
			for _, r := range refs {
				if s, ok := r.(string); ok && strings.EqualFold(s, ref) {
					resolved = true
					break
				}
			}
			if !resolved {
				return Fail(ErrCodeUnresolvedRef, fmt.Sprintf("plan-of-work ref %q does not resolve", ref)), nil
			}

		default:
			return Result{}, fmt.Errorf("validator: unknown check kind %q", kind)
		}
	}

	return Ok(map[string]any{"checked": len(checks)}), nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
