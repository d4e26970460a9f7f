package constraint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordsDropsStopwordsAndShortTokens(t *testing.T) {
	kw := Keywords("The API must use the new cache for all reads")
	assert.False(t, kw["the"], "stopword kept")
	assert.False(t, kw["must"], "stopword kept")
	assert.False(t, kw["api"], "short token kept")
	assert.False(t, kw["new"], "short token kept")
	assert.True(t, kw["cache"])
	assert.True(t, kw["reads"])
}

func TestKeywordsTokenizesPunctuation(t *testing.T) {
	kw := Keywords("feature-flags, rollout_plan; QUOTAS!")
	assert.True(t, kw["feature-flags"])
	assert.True(t, kw["rollout_plan"])
	assert.True(t, kw["quotas"])
}

func TestOverlapRatio(t *testing.T) {
	target := Keywords("kubernetes cluster deployment")
	source := Keywords("deploy the service to the kubernetes cluster")
	// kubernetes + cluster found, deployment not.
	assert.InDelta(t, 2.0/3.0, OverlapRatio(target, source), 0.001)

	assert.Equal(t, 0.0, OverlapRatio(map[string]bool{}, source),
		"empty target must not count as grounded")
}

func TestJaccard(t *testing.T) {
	a := Keywords("payment provider stripe integration")
	b := Keywords("payment provider stripe integration undecided")
	assert.InDelta(t, 0.8, Jaccard(a, b), 0.001)

	assert.Equal(t, 0.0, Jaccard(map[string]bool{}, map[string]bool{}))
	assert.Equal(t, 0.0, Jaccard(a, map[string]bool{}))
}

func TestSharedKeywords(t *testing.T) {
	n := SharedKeywords("retention window ninety days", "data retention window policy")
	assert.Equal(t, 2, n) // retention, window
}

func TestContainsTerm(t *testing.T) {
	assert.True(t, ContainsTerm("What is the budget allocation", "budget"))
	assert.False(t, ContainsTerm("the budgeting process", "budget"),
		"token match must not hit substrings of longer words")
	assert.True(t, ContainsTerm("requires sign-off from legal", "sign-off"))
	assert.False(t, ContainsTerm("no fiscal topics here", "budget"))
}
