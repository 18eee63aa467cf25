package replane

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateReturnsBaseValueWithNoMatchingOverride(t *testing.T) {
	e := Entry{Name: "f", Value: "base"}
	assert.Equal(t, "base", Evaluate(e, Context{}))
}

func TestEvaluateReturnsFirstMatchingOverrideByPriority(t *testing.T) {
	e := Entry{
		Name:  "f",
		Value: "base",
		Overrides: []Override{
			{Name: "first", Conditions: []Condition{{Kind: CondEquals, Property: "env", Value: &Literal{Value: "prod"}}}, Value: "prod-value"},
			{Name: "second", Conditions: nil, Value: "catch-all"}, // empty conditions always hold
		},
	}

	assert.Equal(t, "prod-value", Evaluate(e, Context{"env": "prod"}))
	assert.Equal(t, "catch-all", Evaluate(e, Context{"env": "staging"}), "falls through to the next override, not the base value")
}

func TestEvaluateConditionKinds(t *testing.T) {
	tests := []struct {
		name string
		cond Condition
		ctx  Context
		want bool
	}{
		{"equals match", Condition{Kind: CondEquals, Property: "env", Value: &Literal{Value: "prod"}}, Context{"env": "prod"}, true},
		{"equals mismatch", Condition{Kind: CondEquals, Property: "env", Value: &Literal{Value: "prod"}}, Context{"env": "dev"}, false},
		{"equals absent attribute", Condition{Kind: CondEquals, Property: "env", Value: &Literal{Value: "prod"}}, Context{}, false},
		{"equals cross-type numeric", Condition{Kind: CondEquals, Property: "n", Value: &Literal{Value: float64(10)}}, Context{"n": 10}, true},

		{"in match", Condition{Kind: CondIn, Property: "tier", Values: []Literal{{Value: "gold"}, {Value: "platinum"}}}, Context{"tier": "platinum"}, true},
		{"in mismatch", Condition{Kind: CondIn, Property: "tier", Values: []Literal{{Value: "gold"}}}, Context{"tier": "bronze"}, false},
		{"in absent attribute", Condition{Kind: CondIn, Property: "tier", Values: []Literal{{Value: "gold"}}}, Context{}, false},

		{"not_in absent attribute holds", Condition{Kind: CondNotIn, Property: "tier", Values: []Literal{{Value: "gold"}}}, Context{}, true},
		{"not_in present and excluded", Condition{Kind: CondNotIn, Property: "tier", Values: []Literal{{Value: "gold"}}}, Context{"tier": "silver"}, true},
		{"not_in present and listed", Condition{Kind: CondNotIn, Property: "tier", Values: []Literal{{Value: "gold"}}}, Context{"tier": "gold"}, false},

		{"less_than holds", Condition{Kind: CondLessThan, Property: "age", Value: &Literal{Value: float64(18)}}, Context{"age": 10}, true},
		{"less_than fails on equal", Condition{Kind: CondLessThan, Property: "age", Value: &Literal{Value: float64(18)}}, Context{"age": 18}, false},
		{"less_than_or_equal holds on equal", Condition{Kind: CondLessThanOrEqual, Property: "age", Value: &Literal{Value: float64(18)}}, Context{"age": 18}, true},
		{"greater_than holds", Condition{Kind: CondGreaterThan, Property: "age", Value: &Literal{Value: float64(18)}}, Context{"age": 21}, true},
		{"greater_than_or_equal holds on equal", Condition{Kind: CondGreaterThanOrEqual, Property: "age", Value: &Literal{Value: float64(18)}}, Context{"age": 18}, true},
		{"numeric compare against non-numeric attribute is false, not a panic", Condition{Kind: CondLessThan, Property: "age", Value: &Literal{Value: float64(18)}}, Context{"age": "old"}, false},
		{"numeric compare against NaN literal is false", Condition{Kind: CondLessThan, Property: "age", Value: &Literal{Value: nan()}}, Context{"age": 1}, false},

		{"and: all hold", Condition{Kind: CondAnd, Conditions: []Condition{
			{Kind: CondEquals, Property: "env", Value: &Literal{Value: "prod"}},
			{Kind: CondGreaterThan, Property: "age", Value: &Literal{Value: float64(18)}},
		}}, Context{"env": "prod", "age": 21}, true},
		{"and: one fails", Condition{Kind: CondAnd, Conditions: []Condition{
			{Kind: CondEquals, Property: "env", Value: &Literal{Value: "prod"}},
			{Kind: CondGreaterThan, Property: "age", Value: &Literal{Value: float64(18)}},
		}}, Context{"env": "prod", "age": 10}, false},

		{"or: one holds", Condition{Kind: CondOr, Conditions: []Condition{
			{Kind: CondEquals, Property: "env", Value: &Literal{Value: "prod"}},
			{Kind: CondEquals, Property: "env", Value: &Literal{Value: "staging"}},
		}}, Context{"env": "staging"}, true},
		{"or: none hold", Condition{Kind: CondOr, Conditions: []Condition{
			{Kind: CondEquals, Property: "env", Value: &Literal{Value: "prod"}},
		}}, Context{"env": "dev"}, false},

		{"not: negates inner", Condition{Kind: CondNot, Inner: &Condition{Kind: CondEquals, Property: "env", Value: &Literal{Value: "prod"}}}, Context{"env": "dev"}, true},
		{"not: missing inner is false", Condition{Kind: CondNot}, Context{}, false},

		{"unknown kind never panics, resolves false", Condition{Kind: ConditionKind("made-up")}, Context{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, conditionHolds(tt.cond, tt.ctx))
		})
	}
}

func TestContextMergePerCallKeysWin(t *testing.T) {
	base := Context{"env": "prod", "region": "us"}
	merged := base.Merge(Context{"env": "staging"})

	assert.Equal(t, "staging", merged["env"])
	assert.Equal(t, "us", merged["region"])
	// The receiver is untouched.
	assert.Equal(t, "prod", base["env"])
}

func TestContextMergeHandlesNilEitherSide(t *testing.T) {
	var nilCtx Context
	assert.Equal(t, Context{"a": 1}, nilCtx.Merge(Context{"a": 1}))
	assert.Equal(t, Context{"a": 1}, Context{"a": 1}.Merge(nil))
}

func TestDeepEqualNumericCrossType(t *testing.T) {
	assert.True(t, deepEqual(int64(10), float64(10)))
	assert.True(t, deepEqual([]any{1, 2}, []any{1.0, 2.0}))
	assert.False(t, deepEqual([]any{1, 2}, []any{1, 3}))
	assert.True(t, deepEqual(map[string]any{"a": 1}, map[string]any{"a": 1.0}))
	assert.False(t, deepEqual("x", "y"))
}

func nan() float64 {
	var zero float64
	return zero / zero
}
