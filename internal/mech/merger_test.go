package mech

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepMergeConcatenatesLists(t *testing.T) {
	context := map[string]any{
		"base":    map[string]any{"a": []any{1}},
		"overlay": map[string]any{"a": []any{2}},
	}
	config := map[string]any{
		"strategy": "deep_merge",
		"inputs":   []any{"base", "overlay"},
	}

	result, err := Merge(config, context)
	require.NoError(t, err)
	require.True(t, result.Success)

	merged := result.Output["merged"].(map[string]any)
	assert.Equal(t, []any{1, 2}, merged["a"])
}

func TestShallowMergeReplacesKeysWholesale(t *testing.T) {
	context := map[string]any{
		"base":    map[string]any{"a": []any{1}},
		"overlay": map[string]any{"a": []any{2}},
	}
	config := map[string]any{
		"strategy": "shallow_merge",
		"inputs":   []any{"base", "overlay"},
	}

	result, err := Merge(config, context)
	require.NoError(t, err)
	require.True(t, result.Success)

	merged := result.Output["merged"].(map[string]any)
	assert.Equal(t, []any{2}, merged["a"])
}

func TestDeepMergeUnionsNestedMaps(t *testing.T) {
	context := map[string]any{
		"base": map[string]any{
			"settings": map[string]any{"region": "us-east", "tier": "standard"},
		},
		"overlay": map[string]any{
			"settings": map[string]any{"tier": "premium"},
		},
	}
	config := map[string]any{
		"strategy": "deep_merge",
		"inputs":   []any{"base", "overlay"},
	}

	result, err := Merge(config, context)
	require.NoError(t, err)

	settings := result.Output["merged"].(map[string]any)["settings"].(map[string]any)
	assert.Equal(t, "us-east", settings["region"])
	assert.Equal(t, "premium", settings["tier"])
}

func TestDeepMergeScalarConflictLaterWins(t *testing.T) {
	context := map[string]any{
		"base":    map[string]any{"title": "draft"},
		"overlay": map[string]any{"title": "final"},
	}
	config := map[string]any{
		"strategy": "deep_merge",
		"inputs":   []any{"base", "overlay"},
	}

	result, err := Merge(config, context)
	require.NoError(t, err)
	assert.Equal(t, "final", result.Output["merged"].(map[string]any)["title"])
}

func TestConcatenateAppendsLists(t *testing.T) {
	context := map[string]any{
		"first":  []any{"a", "b"},
		"second": []any{"c"},
	}
	config := map[string]any{
		"strategy": "concatenate",
		"inputs":   []any{"first", "second"},
	}

	result, err := Merge(config, context)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, result.Output["merged"])
}

func TestMergeMissingInputFailsWithoutGoError(t *testing.T) {
	config := map[string]any{
		"strategy": "deep_merge",
		"inputs":   []any{"absent"},
	}

	result, err := Merge(config, map[string]any{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, ErrCodeMissingInput, result.ErrorCode)
	assert.Equal(t, "failed", result.Outcome)
}

func TestMergeUnknownStrategyIsConfigError(t *testing.T) {
	config := map[string]any{
		"strategy": "zip",
		"inputs":   []any{},
	}

	_, err := Merge(config, map[string]any{})
	assert.Error(t, err)
}

func TestMergeDoesNotMutateSources(t *testing.T) {
	base := map[string]any{"a": []any{1}}
	context := map[string]any{
		"base":    base,
		"overlay": map[string]any{"a": []any{2}},
	}
	config := map[string]any{
		"strategy": "deep_merge",
		"inputs":   []any{"base", "overlay"},
	}

	_, err := Merge(config, context)
	require.NoError(t, err)
	assert.Equal(t, []any{1}, base["a"])
}
