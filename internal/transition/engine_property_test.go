package transition

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/fieldservice/concierge/internal/session"
)

// TestEvaluatePriorityProperty verifies that among any two rules whose
// conditions both hold, the higher-priority rule's outcome is returned,
// regardless of declaration order.
func TestEvaluatePriorityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("the higher-priority rule wins when both conditions hold", prop.ForAll(
		func(p1, p2 int) bool {
			if p1 == p2 {
				return true // distinct priorities are a load-time invariant
			}
			ctx := context.Background()
			store := session.NewStore(session.NewMemoryBackend(), nil)
			if _, err := store.Update(ctx, "s", map[string]any{"customer": map[string]any{"name": "Ada"}}, nil); err != nil {
				return false
			}
			engine := NewEngine(store, nil, nil, nil)
			rules := []Rule{
				{Priority: p1, Condition: NewDeterministic("customer.name", OpIsSet, nil), NextGoalID: "a"},
				{Priority: p2, Condition: NewDeterministic("customer.name", OpIsSet, nil), NextGoalID: "b"},
			}
			outcome, err := engine.Evaluate(ctx, "s", rules, nil)
			if err != nil || !outcome.Advanced {
				return false
			}
			want := "a"
			if p2 > p1 {
				want = "b"
			}
			return outcome.NextGoalID == want
		},
		gen.IntRange(-1000, 1000),
		gen.IntRange(-1000, 1000),
	))

	properties.TestingRun(t)
}

// TestEvaluateDeterminismProperty verifies that given an identical memory
// snapshot and rule list, repeated evaluation returns the identical outcome
// when only deterministic rules are involved.
func TestEvaluateDeterminismProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("identical snapshots and rules yield identical outcomes", prop.ForAll(
		func(value string, p1, p2 int) bool {
			if p1 == p2 {
				p2++
			}
			ctx := context.Background()
			store := session.NewStore(session.NewMemoryBackend(), nil)
			if _, err := store.Update(ctx, "s", map[string]any{"service": map[string]any{"primary_request": value}}, nil); err != nil {
				return false
			}
			engine := NewEngine(store, nil, nil, nil)
			rules := []Rule{
				{Priority: p1, Condition: NewDeterministic("service.primary_request", OpIsSet, nil), NextGoalID: "elicit"},
				{Priority: p2, Condition: NewDeterministic("service.primary_request", OpEQ, value), NextGoalID: "exact"},
			}
			first, err1 := engine.Evaluate(ctx, "s", rules, nil)
			second, err2 := engine.Evaluate(ctx, "s", rules, nil)
			return err1 == nil && err2 == nil && first == second
		},
		gen.AlphaString(),
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
