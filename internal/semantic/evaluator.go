// Package semantic implements the semantic evaluator: a thin LLM wrapper
// that turns a natural-language predicate plus a memory projection and
// recent exchanges into a strict yes/no/confidence verdict, used by
// internal/transition's Semantic condition variant.
package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fieldservice/concierge/internal/model"
	"github.com/fieldservice/concierge/internal/telemetry"
)

const (
	// maxExchanges caps the conversation context fed to the evaluator.
	maxExchanges = 3
	// maxOutputTokens caps the evaluator's output length.
	maxOutputTokens = 150
	// temperature is kept near zero for determinism.
	temperature = 0.0
	// defaultConfidenceThreshold is the minimum confidence for a true
	// verdict when no override is configured.
	defaultConfidenceThreshold = 0.7
)

// Exchange is one (role, text) conversational turn.
type Exchange struct {
	Role string
	Text string
}

// Verdict is the Evaluate result.
type Verdict struct {
	Bool       bool
	Confidence float64
	Reason     string
}

// Evaluator answers yes/no predicates with a confidence score.
type Evaluator struct {
	client    model.Client
	log       telemetry.Logger
	threshold float64
}

// NewEvaluator builds an Evaluator backed by client.
func NewEvaluator(client model.Client, log telemetry.Logger) *Evaluator {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Evaluator{client: client, log: log, threshold: defaultConfidenceThreshold}
}

// WithThreshold overrides the minimum confidence for a true verdict.
// Values outside (0, 1] leave the default in place.
func (e *Evaluator) WithThreshold(threshold float64) *Evaluator {
	if threshold > 0 && threshold <= 1 {
		e.threshold = threshold
	}
	return e
}

// Evaluate answers predicateText against the memory projection and recent
// exchanges. Output parsing is strict: on any failure to parse a
// well-formed verdict, it returns {false, 0, "parse_failed"} rather than
// propagating an error.
func (e *Evaluator) Evaluate(ctx context.Context, predicateText string, memoryProjection map[string]any, recent []Exchange) Verdict {
	req := buildRequest(predicateText, memoryProjection, recent)

	stream, err := e.client.StreamChat(ctx, req)
	if err != nil {
		e.log.Warn(ctx, "semantic evaluation request failed", "predicate", predicateText, "error", err)
		return Verdict{Bool: false, Confidence: 0, Reason: "parse_failed"}
	}
	defer func() { _ = stream.Close() }()

	var text strings.Builder
	for {
		delta, err := stream.Recv(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			e.log.Warn(ctx, "semantic evaluation stream failed", "predicate", predicateText, "error", err)
			return Verdict{Bool: false, Confidence: 0, Reason: "parse_failed"}
		}
		if delta.Type == model.DeltaText {
			text.WriteString(delta.Text)
		}
		if delta.Type == model.DeltaStop {
			break
		}
	}

	verdict, ok := parseVerdict(text.String())
	if !ok {
		e.log.Warn(ctx, "semantic evaluation parse failed", "predicate", predicateText, "raw", text.String())
		return Verdict{Bool: false, Confidence: 0, Reason: "parse_failed"}
	}
	if verdict.Confidence < e.threshold {
		verdict.Bool = false
	}
	return verdict
}

func buildRequest(predicateText string, projection map[string]any, recent []Exchange) model.Request {
	if len(recent) > maxExchanges {
		recent = recent[len(recent)-maxExchanges:]
	}
	projJSON, _ := json.Marshal(projection)

	var convo strings.Builder
	for _, ex := range recent {
		fmt.Fprintf(&convo, "%s: %s\n", ex.Role, ex.Text)
	}

	system := "You evaluate a yes/no predicate about a customer-service conversation. " +
		"Respond with exactly one JSON object of the form " +
		`{"result": true|false, "confidence": 0.0-1.0, "reason": "short phrase"}` +
		" and nothing else."

	user := fmt.Sprintf(
		"Predicate: %s\n\nMemory:\n%s\n\nRecent exchanges:\n%s",
		predicateText, string(projJSON), convo.String(),
	)

	return model.Request{
		System:      system,
		Messages:    []model.Message{{Role: model.RoleUser, Text: user}},
		Temperature: temperature,
		MaxTokens:   maxOutputTokens,
	}
}

type rawVerdict struct {
	Result     *bool    `json:"result"`
	Confidence *float64 `json:"confidence"`
	Reason     string   `json:"reason"`
}

// parseVerdict extracts the JSON verdict object from raw model output,
// tolerating surrounding whitespace or stray prose around the object.
func parseVerdict(raw string) (Verdict, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return Verdict{}, false
	}
	var rv rawVerdict
	if err := json.Unmarshal([]byte(raw[start:end+1]), &rv); err != nil {
		return Verdict{}, false
	}
	if rv.Result == nil || rv.Confidence == nil {
		return Verdict{}, false
	}
	conf := *rv.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return Verdict{Bool: *rv.Result, Confidence: conf, Reason: rv.Reason}, true
}
