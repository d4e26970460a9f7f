package mech

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func routerConfig(rules ...map[string]any) map[string]any {
	list := make([]any, len(rules))
	for i, r := range rules {
		list[i] = r
	}
	return map[string]any{
		"rules":     list,
		"input_key": "classification",
	}
}

func TestRouteSelectsBestMatch(t *testing.T) {
	config := routerConfig(
		map[string]any{
			"route_id": "incident_report",
			"match":    map[string]any{"kind": "incident", "severity": "high"},
		},
		map[string]any{
			"route_id": "change_request",
			"match":    map[string]any{"kind": "change"},
		},
	)
	context := map[string]any{
		"classification": map[string]any{"kind": "incident", "severity": "high"},
	}

	result, err := Route(config, context)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "incident_report", result.Output["route_id"])
	assert.InDelta(t, 0.9, result.Output["confidence"].(float64), 1e-9)

	candidates := result.Output["candidates"].([]any)
	require.Len(t, candidates, 2)
	top := candidates[0].(map[string]any)
	assert.Equal(t, "incident_report", top["route_id"])
	assert.InDelta(t, 1.0, top["match_ratio"].(float64), 1e-9)
}

func TestRouteCloseRunnerUpLowersConfidence(t *testing.T) {
	config := routerConfig(
		map[string]any{
			"route_id":         "primary",
			"match":            map[string]any{"kind": "incident"},
			"confidence_bonus": 0.05,
		},
		map[string]any{
			"route_id": "secondary",
			"match":    map[string]any{"kind": "incident"},
		},
	)
	context := map[string]any{
		"classification": map[string]any{"kind": "incident"},
	}

	result, err := Route(config, context)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "primary", result.Output["route_id"])

	// winner 0.95, runner-up 0.90; the 0.05 gap is inside the penalty
	// window, so confidence drops by the remaining 0.05.
	assert.InDelta(t, 0.90, result.Output["confidence"].(float64), 1e-9)
}

func TestRouteNoMatchFails(t *testing.T) {
	config := routerConfig(
		map[string]any{
			"route_id": "incident_report",
			"match":    map[string]any{"kind": "incident"},
		},
	)
	context := map[string]any{
		"classification": map[string]any{"kind": "retrospective"},
	}

	result, err := Route(config, context)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, ErrCodeNoRouteMatch, result.ErrorCode)
}

func TestRouteMissingClassificationFails(t *testing.T) {
	config := routerConfig(
		map[string]any{
			"route_id": "incident_report",
			"match":    map[string]any{"kind": "incident"},
		},
	)

	result, err := Route(config, map[string]any{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, ErrCodeMissingInput, result.ErrorCode)
}

func TestRouteScoreCappedAtOne(t *testing.T) {
	config := routerConfig(
		map[string]any{
			"route_id":         "boosted",
			"match":            map[string]any{"kind": "incident"},
			"confidence_bonus": 0.5,
		},
	)
	context := map[string]any{
		"classification": map[string]any{"kind": "incident"},
	}

	result, err := Route(config, context)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.InDelta(t, 1.0, result.Output["confidence"].(float64), 1e-9)
}

func TestRouteMalformedRuleIsConfigError(t *testing.T) {
	config := routerConfig(map[string]any{"match": map[string]any{"kind": "x"}})
	context := map[string]any{
		"classification": map[string]any{"kind": "x"},
	}

	_, err := Route(config, context)
	assert.Error(t, err)
}
