package mech

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPullsNestedFields(t *testing.T) {
	context := map[string]any{
		"request": map[string]any{
			"classification": map[string]any{"kind": "incident"},
			"attachments":    []any{map[string]any{"name": "log.txt"}},
		},
	}
	config := map[string]any{
		"fields": map[string]any{
			"kind":       "$.request.classification.kind",
			"attachment": "request.attachments[0].name",
		},
	}

	result, err := Extract(config, context)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "incident", result.Output["kind"])
	assert.Equal(t, "log.txt", result.Output["attachment"])
}

func TestExtractMissingPathYieldsNull(t *testing.T) {
	config := map[string]any{
		"fields": map[string]any{"missing": "$.no.such.path"},
	}

	result, err := Extract(config, map[string]any{})
	require.NoError(t, err)
	require.True(t, result.Success)

	value, present := result.Output["missing"]
	assert.True(t, present)
	assert.Nil(t, value)
}

func TestExtractNonStringPathIsConfigError(t *testing.T) {
	config := map[string]any{
		"fields": map[string]any{"bad": 7},
	}

	_, err := Extract(config, map[string]any{})
	assert.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	root := map[string]any{
		"a": map[string]any{
			"b": []any{
				map[string]any{"c": "found"},
				"second",
			},
		},
		"grid": []any{
			[]any{"x", "y"},
		},
	}

	tests := []struct {
		path  string
		want  any
		found bool
	}{
		{"$.a.b[0].c", "found", true},
		{"a.b[1]", "second", true},
		{"grid[0][1]", "y", true},
		{"a.b[5]", nil, false},
		{"a.b[-1]", nil, false},
		{"a.missing", nil, false},
		{"a.b[x]", nil, false},
		{"", nil, false},
		{"$.", nil, false},
	}

	for _, tt := range tests {
		got, found := ResolvePath(root, tt.path)
		assert.Equal(t, tt.found, found, "path %q", tt.path)
		assert.Equal(t, tt.want, got, "path %q", tt.path)
	}
}

func TestSplitIndices(t *testing.T) {
	key, indices, err := splitIndices("items[0][12]")
	require.NoError(t, err)
	assert.Equal(t, "items", key)
	assert.Equal(t, []int{0, 12}, indices)

	key, indices, err = splitIndices("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", key)
	assert.Empty(t, indices)

	_, _, err = splitIndices("items[3")
	assert.Error(t, err)
}
