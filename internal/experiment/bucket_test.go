package experiment

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dislink/dxp/internal/store"
)

func TestHash_KnownValues(t *testing.T) {
	tests := []struct {
		input  string
		hash   int64
		bucket int
	}{
		{"", 0, 0},
		{"a", 97, 97},
		{"ab", 3105, 5},
		{"user-123456789", 935451827, 27},
		{"3f2504e0-4f89-11d3-9a0c-0305e82c3301", 280591469, 69},
		// Surrogate pair hashes as two UTF-16 code units
		{"😀", 1772899, 99},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.hash, Hash(tt.input))
			assert.Equal(t, tt.bucket, Bucket(tt.input))
		})
	}
}

func TestBucket_RoughlyUniform(t *testing.T) {
	counts := make([]int, 10)
	for i := 0; i < 10000; i++ {
		counts[Bucket(fmt.Sprintf("user-%d", i))/10]++
	}
	for decile, n := range counts {
		assert.InDelta(t, 1000, n, 250, "decile %d", decile)
	}
}

func TestInTraffic(t *testing.T) {
	assert.True(t, InTraffic("ab", 6))
	assert.False(t, InTraffic("ab", 5))
	assert.False(t, InTraffic("ab", 0))
	assert.True(t, InTraffic("😀", 100))
}

func TestEligible(t *testing.T) {
	tests := []struct {
		name  string
		rules []store.Rule
		want  bool
	}{
		{"no rules", nil, true},
		{"allow-listed", []store.Rule{{Kind: store.RuleUserIDs, Values: []string{"u1", "u2"}}}, true},
		{"not allow-listed", []store.Rule{{Kind: store.RuleUserIDs, Values: []string{"u2"}}}, false},
		{"empty allow-list", []store.Rule{{Kind: store.RuleUserIDs}}, false},
		{"device passes", []store.Rule{{Kind: store.RuleDevice, Values: []string{"ios"}}}, true},
		{"country passes", []store.Rule{{Kind: store.RuleCountry, Values: []string{"NZ"}}}, true},
		{"unknown kind passes", []store.Rule{{Kind: "beta_cohort", Values: []string{"x"}}}, true},
		{"mixed, user excluded", []store.Rule{
			{Kind: store.RuleSegment, Values: []string{"pro"}},
			{Kind: store.RuleUserIDs, Values: []string{"u9"}},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Eligible(tt.rules, "u1"))
		})
	}
}

func TestSelectVariant(t *testing.T) {
	variants := []store.Variant{
		{ID: "a", TrafficWeight: 30},
		{ID: "b", TrafficWeight: 70},
	}

	assert.Equal(t, "a", SelectVariant(variants, 0).ID)
	assert.Equal(t, "a", SelectVariant(variants, 0.29).ID)
	assert.Equal(t, "b", SelectVariant(variants, 0.30).ID)
	assert.Equal(t, "b", SelectVariant(variants, 0.999999).ID)
}

func TestSelectVariant_WeightsNeedNotSumTo100(t *testing.T) {
	variants := []store.Variant{
		{ID: "a", TrafficWeight: 1},
		{ID: "b", TrafficWeight: 1},
		{ID: "c", TrafficWeight: 2},
	}

	assert.Equal(t, "a", SelectVariant(variants, 0.2).ID)
	assert.Equal(t, "b", SelectVariant(variants, 0.3).ID)
	assert.Equal(t, "c", SelectVariant(variants, 0.6).ID)
}

func TestSelectVariant_SkipsZeroWeights(t *testing.T) {
	variants := []store.Variant{
		{ID: "off", TrafficWeight: 0},
		{ID: "on", TrafficWeight: 5},
	}

	assert.Equal(t, "on", SelectVariant(variants, 0).ID)
}

func TestSelectVariant_ZeroTotalFallsBackToFirst(t *testing.T) {
	variants := []store.Variant{{ID: "first"}, {ID: "second"}}

	assert.Equal(t, "first", SelectVariant(variants, 0.9).ID)
}

func TestSelectVariant_Empty(t *testing.T) {
	require.Nil(t, SelectVariant(nil, 0.5))
}
