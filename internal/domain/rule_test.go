package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func endpoints(rules []Rule) []string {
	result := make([]string, 0, len(rules))
	for _, rule := range rules {
		result = append(result, rule.Endpoint+"|"+rule.Period)
	}
	return result
}

func TestNewRule(t *testing.T) {
	t.Run("Should cache parsed duration", func(t *testing.T) {
		rule, err := NewRule("get:/api/values", "15m", 10, false)

		require.NoError(t, err)
		assert.Equal(t, 15*time.Minute, rule.Duration())
		assert.True(t, rule.IsValid())
	})

	t.Run("Should fail fast on invalid period", func(t *testing.T) {
		_, err := NewRule("*", "abc", 10, false)

		var formatErr *FormatError
		require.Error(t, err)
		assert.True(t, errors.As(err, &formatErr))
	})

	t.Run("Should allow non positive limits", func(t *testing.T) {
		rule, err := NewRule("*", "1s", 0, false)

		require.NoError(t, err)
		assert.Equal(t, 0, rule.Limit)
	})
}

func TestRule_UnmarshalJSON(t *testing.T) {
	t.Run("Should parse period on decode", func(t *testing.T) {
		var rule Rule
		err := json.Unmarshal([]byte(`{"endpoint":"*","period":"1h","limit":100,"use_sliding_window":true}`), &rule)

		require.NoError(t, err)
		assert.Equal(t, time.Hour, rule.Duration())
		assert.True(t, rule.UseSlidingWindow)
	})

	t.Run("Should reject invalid period on decode", func(t *testing.T) {
		var rules RuleSet
		err := json.Unmarshal([]byte(`[{"endpoint":"*","period":"1x","limit":1}]`), &rules)

		var formatErr *FormatError
		assert.True(t, errors.As(err, &formatErr))
	})
}

func TestRule_IsGlobal(t *testing.T) {
	tests := map[string]bool{
		"*":               true,
		"*:*":             true,
		"get:*":           true,
		"POST:*":          true,
		"get:/api/values": false,
		"*:/api":          false,
	}

	for pattern, expected := range tests {
		t.Run(pattern, func(t *testing.T) {
			assert.Equal(t, expected, MustRule(pattern, "1s", 1, false).IsGlobal())
		})
	}
}

func TestRuleSet_EndpointRules(t *testing.T) {
	rules := RuleSet{
		MustRule("get:/api/values", "1m", 10, false),
		MustRule("*:/api/values", "1m", 20, false),
		MustRule("post:/api/values", "1m", 1, false),
		MustRule("*", "1m", 1000, false),
		MustRule("*:*", "1h", 1, false),
		MustRule("get:*", "1h", 1, false),
		MustRule("get:/api/values/5", "1h", 100, false),
	}

	tests := []struct {
		name     string
		verb     string
		path     string
		expected []string
	}{
		{
			name:     "Should match prefix and keep lowest limit per period",
			verb:     "GET",
			path:     "/api/values/5",
			expected: []string{"get:/api/values|1m", "get:/api/values/5|1h"},
		},
		{
			name:     "Should not match other verbs",
			verb:     "delete",
			path:     "/api/values",
			expected: []string{"*:/api/values|1m"},
		},
		{
			name:     "Should match explicit verb",
			verb:     "post",
			path:     "/api/values",
			expected: []string{"post:/api/values|1m"},
		},
		{
			name:     "Bare wildcard matches any path",
			verb:     "get",
			path:     "/other",
			expected: []string{"*|1m"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := rules.EndpointRules(tt.verb, tt.path)

			assert.Equal(t, tt.expected, endpoints(result))
		})
	}
}

func TestRuleSet_EndpointRules_StricterBareWildcardWinsPeriod(t *testing.T) {
	rules := RuleSet{
		MustRule("*", "1m", 10, false),
		MustRule("get:/api", "1m", 100, false),
	}

	result := rules.EndpointRules("get", "/api/x")

	require.Len(t, result, 1)
	assert.Equal(t, "*", result[0].Endpoint)
	assert.Equal(t, 10, result[0].Limit)
}

func TestRuleSet_EndpointRules_PatternMatchesRequest(t *testing.T) {
	rules := RuleSet{MustRule("get:/api/values", "1s", 1, false)}

	assert.Len(t, rules.EndpointRules("get", "/api/values/5"), 1)
	assert.Empty(t, rules.EndpointRules("post", "/api/values"))
}

func TestRuleSet_EndpointRules_TieKeepsShortestPattern(t *testing.T) {
	rules := RuleSet{
		MustRule("get:/api/values/5", "1m", 5, false),
		MustRule("get:/api", "1m", 5, false),
	}

	result := rules.EndpointRules("get", "/api/values/5")

	require.Len(t, result, 1)
	assert.Equal(t, "get:/api", result[0].Endpoint)
}

func TestRuleSet_GlobalRules(t *testing.T) {
	rules := RuleSet{
		MustRule("*", "1s", 5, false),
		MustRule("*:*", "1s", 3, false),
		MustRule("GET:*", "1h", 100, false),
		MustRule("post:*", "1h", 10, false),
		MustRule("get:/api", "1h", 1, false),
	}

	assert.Equal(t, []string{"*:*|1s", "GET:*|1h"}, endpoints(rules.GlobalRules("get")))
	assert.Equal(t, []string{"*:*|1s", "post:*|1h"}, endpoints(rules.GlobalRules("POST")))
	assert.Equal(t, []string{"*:*|1s"}, endpoints(rules.GlobalRules("put")))
}

func TestExceptPeriods(t *testing.T) {
	base := []Rule{MustRule("get:/a", "1s", 1, false)}
	extra := []Rule{MustRule("*", "1s", 10, false), MustRule("*", "1h", 100, false)}

	result := ExceptPeriods(base, extra)

	assert.Equal(t, []string{"get:/a|1s", "*|1h"}, endpoints(result))
}

func TestSortByDuration(t *testing.T) {
	rules := []Rule{
		MustRule("*", "1d", 1, false),
		MustRule("*", "1s", 1, false),
		MustRule("*", "1h", 1, false),
	}

	SortByDuration(rules, false)
	assert.Equal(t, []string{"*|1s", "*|1h", "*|1d"}, endpoints(rules))

	SortByDuration(rules, true)
	assert.Equal(t, []string{"*|1d", "*|1h", "*|1s"}, endpoints(rules))
}
