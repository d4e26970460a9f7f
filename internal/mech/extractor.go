package mech

import (
	"fmt"
	"strconv"
	"strings"
)

// Extract pulls JSONPath-style fields out of context into a flat output map.
//
// Config:
//
//	fields: map of output key -> path ("$.a.b[0].c" or "a.b.c")
//
// Missing paths yield null in the output, never an error: downstream steps
// decide whether an absent field matters.
func Extract(config, context map[string]any) (Result, error) {
	fields, err := configMap(config, "fields")
	if err != nil {
		return Result{}, err
	}

	output := make(map[string]any, len(fields))
	for key, raw := range fields {
		path, ok := raw.(string)
		if !ok {
			return Result{}, fmt.Errorf("extractor: field %q path must be a string", key)
		}
		value, _ := ResolvePath(context, path)
		output[key] = value
	}
	return Ok(output), nil
}

// ResolvePath walks a dotted path with optional [n] array indices through
// nested maps and slices. The leading "$." is optional.
func ResolvePath(root map[string]any, path string) (any, bool) {
	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return nil, false
	}

	var current any = root
	for _, seg := range strings.Split(path, ".") {
		key, indices, err := splitIndices(seg)
		if err != nil {
			return nil, false
		}
		if key != "" {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = m[key]
			if !ok {
				return nil, false
			}
		}
		for _, idx := range indices {
			list, ok := current.([]any)
			if !ok || idx < 0 || idx >= len(list) {
				return nil, false
			}
			current = list[idx]
		}
	}
	return current, true
}

// splitIndices parses "items[0][1]" into ("items", [0, 1]).
func splitIndices(seg string) (string, []int, error) {
	open := strings.Index(seg, "[")
	if open < 0 {
		return seg, nil, nil
	}
	key := seg[:open]
	var indices []int
	rest := seg[open:]
	for rest != "" {
		if !strings.HasPrefix(rest, "[") {
			return "", nil, fmt.Errorf("malformed index in %q", seg)
		}
		close := strings.Index(rest, "]")
		if close < 0 {
			return "", nil, fmt.Errorf("unterminated index in %q", seg)
		}
		idx, err := strconv.Atoi(rest[1:close])
		if err != nil {
			return "", nil, fmt.Errorf("non-numeric index in %q", seg)
		}
		indices = append(indices, idx)
		rest = rest[close+1:]
	}
	return key, indices, nil
}

func configMap(config map[string]any, key string) (map[string]any, error) {
	raw, ok := config[key]
	if !ok {
		return nil, fmt.Errorf("config missing %q", key)
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config %q must be a map", key)
	}
	return m, nil
}

func configString(config map[string]any, key string) (string, error) {
	raw, ok := config[key]
	if !ok {
		return "", fmt.Errorf("config missing %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("config %q must be a string", key)
	}
	return s, nil
}

func configList(config map[string]any, key string) ([]any, error) {
	raw, ok := config[key]
	if !ok {
		return nil, fmt.Errorf("config missing %q", key)
	}
	l, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("config %q must be a list", key)
	}
	return l, nil
}
