package semantic

import (
	"context"
	"testing"

	"github.com/fieldservice/concierge/internal/model"
	"github.com/stretchr/testify/require"
)

func TestEvaluateParsesWellFormedVerdict(t *testing.T) {
	fake := &model.FakeClient{
		Scripts: [][]model.Delta{
			{{Type: model.DeltaText, Text: `{"result": true, "confidence": 0.92, "reason": "customer confirmed"}`}, {Type: model.DeltaStop}},
		},
	}
	eval := NewEvaluator(fake, nil)
	v := eval.Evaluate(context.Background(), "has the customer confirmed the appointment?", map[string]any{"service": map[string]any{}}, nil)
	require.True(t, v.Bool)
	require.InDelta(t, 0.92, v.Confidence, 0.001)
	require.Equal(t, "customer confirmed", v.Reason)
}

func TestEvaluateBelowConfidenceThresholdIsFalse(t *testing.T) {
	fake := &model.FakeClient{
		Scripts: [][]model.Delta{
			{{Type: model.DeltaText, Text: `{"result": true, "confidence": 0.4, "reason": "unsure"}`}},
		},
	}
	eval := NewEvaluator(fake, nil)
	v := eval.Evaluate(context.Background(), "is the customer upset?", nil, nil)
	require.False(t, v.Bool)
}

func TestEvaluateWithLoweredThreshold(t *testing.T) {
	fake := &model.FakeClient{
		Scripts: [][]model.Delta{
			{{Type: model.DeltaText, Text: `{"result": true, "confidence": 0.5, "reason": "plausible"}`}},
		},
	}
	eval := NewEvaluator(fake, nil).WithThreshold(0.4)
	v := eval.Evaluate(context.Background(), "is the customer upset?", nil, nil)
	require.True(t, v.Bool)
}

func TestEvaluateMalformedOutputIsParseFailed(t *testing.T) {
	fake := &model.FakeClient{
		Scripts: [][]model.Delta{
			{{Type: model.DeltaText, Text: "not json at all"}},
		},
	}
	eval := NewEvaluator(fake, nil)
	v := eval.Evaluate(context.Background(), "anything", nil, nil)
	require.False(t, v.Bool)
	require.Equal(t, 0.0, v.Confidence)
	require.Equal(t, "parse_failed", v.Reason)
}

func TestEvaluateTruncatesToLastThreeExchanges(t *testing.T) {
	fake := &model.FakeClient{
		Scripts: [][]model.Delta{
			{{Type: model.DeltaText, Text: `{"result": false, "confidence": 0.9, "reason": "n/a"}`}},
		},
	}
	eval := NewEvaluator(fake, nil)
	exchanges := []Exchange{
		{Role: "user", Text: "one"}, {Role: "assistant", Text: "two"},
		{Role: "user", Text: "three"}, {Role: "assistant", Text: "four"},
		{Role: "user", Text: "five"},
	}
	eval.Evaluate(context.Background(), "p", nil, exchanges)
	require.Len(t, fake.Requests, 1)
	body := fake.Requests[0].Messages[0].Text
	require.NotContains(t, body, "one")
	require.Contains(t, body, "five")
}
