package transition

import (
	"context"
	"testing"

	"github.com/fieldservice/concierge/internal/model"
	"github.com/fieldservice/concierge/internal/semantic"
	"github.com/fieldservice/concierge/internal/session"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, fake *model.FakeClient) (*Engine, session.Store) {
	t.Helper()
	store := session.NewStore(session.NewMemoryBackend(), nil)
	var evaluator *semantic.Evaluator
	if fake != nil {
		evaluator = semantic.NewEvaluator(fake, nil)
	}
	return NewEngine(store, evaluator, nil, nil), store
}

func TestValidatePrioritiesRejectsDuplicates(t *testing.T) {
	err := ValidatePriorities([]Rule{{Priority: 1}, {Priority: 1}})
	require.Error(t, err)
}

func TestEvaluateStaysWhenNoRuleMatches(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	outcome, err := engine.Evaluate(context.Background(), "sess-1", []Rule{
		{Priority: 1, Condition: NewDeterministic("customer.name", OpIsSet, nil), NextGoalID: "intake"},
	}, nil)
	require.NoError(t, err)
	require.False(t, outcome.Advanced)
}

func TestEvaluatePicksHighestPriorityMatch(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	_, err := store.Update(context.Background(), "sess-1", map[string]any{
		"customer": map[string]any{"name": "Ada"},
	}, nil)
	require.NoError(t, err)

	outcome, err := engine.Evaluate(context.Background(), "sess-1", []Rule{
		{Priority: 1, Condition: NewDeterministic("customer.name", OpIsSet, nil), NextGoalID: "low"},
		{Priority: 10, Condition: NewDeterministic("customer.name", OpIsSet, nil), NextGoalID: "high"},
	}, nil)
	require.NoError(t, err)
	require.True(t, outcome.Advanced)
	require.Equal(t, "high", outcome.NextGoalID)
}

func TestEvaluateCompoundAllOf(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	_, err := store.Update(context.Background(), "sess-1", map[string]any{
		"customer": map[string]any{"name": "Ada", "phone": "555"},
	}, nil)
	require.NoError(t, err)

	outcome, err := engine.Evaluate(context.Background(), "sess-1", []Rule{
		{Priority: 1, Condition: AllOf(
			NewDeterministic("customer.name", OpIsSet, nil),
			NewDeterministic("customer.phone", OpIsSet, nil),
		), NextGoalID: "scheduling"},
	}, nil)
	require.NoError(t, err)
	require.True(t, outcome.Advanced)
	require.Equal(t, "scheduling", outcome.NextGoalID)
}

func TestEvaluateSemanticConditionBelowThresholdDoesNotAdvance(t *testing.T) {
	fake := &model.FakeClient{Scripts: [][]model.Delta{
		{{Type: model.DeltaText, Text: `{"result": true, "confidence": 0.3, "reason": "weak"}`}},
	}}
	engine, _ := newTestEngine(t, fake)
	outcome, err := engine.Evaluate(context.Background(), "sess-1", []Rule{
		{Priority: 1, Condition: NewSemantic("is the customer satisfied?"), NextGoalID: "close"},
	}, nil)
	require.NoError(t, err)
	require.False(t, outcome.Advanced)
}

func TestEvaluateSemanticConditionAboveThresholdAdvances(t *testing.T) {
	fake := &model.FakeClient{Scripts: [][]model.Delta{
		{{Type: model.DeltaText, Text: `{"result": true, "confidence": 0.95, "reason": "clear"}`}},
	}}
	engine, _ := newTestEngine(t, fake)
	outcome, err := engine.Evaluate(context.Background(), "sess-1", []Rule{
		{Priority: 1, Condition: NewSemantic("is the customer satisfied?"), NextGoalID: "close"},
	}, nil)
	require.NoError(t, err)
	require.True(t, outcome.Advanced)
	require.Equal(t, "close", outcome.NextGoalID)
}

func TestEvaluateNumericComparators(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	_, err := store.Update(context.Background(), "sess-1", map[string]any{
		"operations": map[string]any{"attempts": 3.0},
	}, nil)
	require.NoError(t, err)

	outcome, err := engine.Evaluate(context.Background(), "sess-1", []Rule{
		{Priority: 1, Condition: NewDeterministic("operations.attempts", OpGE, 3.0), NextGoalID: "escalate"},
	}, nil)
	require.NoError(t, err)
	require.True(t, outcome.Advanced)
}
