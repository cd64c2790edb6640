package transition

import (
	"context"
	"fmt"
	"sort"

	"github.com/fieldservice/concierge/internal/semantic"
	"github.com/fieldservice/concierge/internal/session"
	"github.com/fieldservice/concierge/internal/telemetry"
)

// Rule is one branching rule within a goal.
type Rule struct {
	Priority   int
	Condition  Condition
	NextGoalID string
}

// Outcome is the Stay/Advance result of evaluating a goal's rules.
type Outcome struct {
	Advanced   bool
	NextGoalID string
	Reason     string
}

// Event is recorded for every semantic condition evaluated, successful or
// not: an evaluator failure counts as false but still leaves a trace.
type Event struct {
	SessionID     string
	PredicateText string
	Verdict       semantic.Verdict
}

// EventRecorder receives SemanticEvaluated-style events as the engine runs.
type EventRecorder interface {
	RecordSemanticEvaluated(ctx context.Context, ev Event)
}

type noopRecorder struct{}

func (noopRecorder) RecordSemanticEvaluated(context.Context, Event) {}

// Engine computes Stay/Advance decisions for a goal's branching rules.
type Engine struct {
	store     session.Store
	evaluator *semantic.Evaluator
	log       telemetry.Logger
	recorder  EventRecorder
}

// NewEngine builds an Engine. recorder may be nil, in which case semantic
// evaluations are not reported anywhere beyond the returned Outcome.
func NewEngine(store session.Store, evaluator *semantic.Evaluator, recorder EventRecorder, log telemetry.Logger) *Engine {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Engine{store: store, evaluator: evaluator, log: log, recorder: recorder}
}

// ValidatePriorities enforces that rules within a goal have pairwise
// distinct priorities. It returns a plain error; callers in internal/config
// wrap it with errs.KindConfigInvalid.
func ValidatePriorities(rules []Rule) error {
	seen := make(map[int]bool, len(rules))
	for _, r := range rules {
		if seen[r.Priority] {
			return fmt.Errorf("transition: duplicate rule priority %d", r.Priority)
		}
		seen[r.Priority] = true
	}
	return nil
}

// Evaluate runs rules in descending priority order against sid's current
// session state and recent history, returning the first rule's outcome
// whose condition is true, or Stay if none fire.
func (e *Engine) Evaluate(ctx context.Context, sid string, rules []Rule, recentExchanges []semantic.Exchange) (Outcome, error) {
	ordered := append([]Rule(nil), rules...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })

	sess, err := e.store.Get(ctx, sid)
	if err != nil {
		return Outcome{}, err
	}

	for _, rule := range ordered {
		ok, err := e.evalCondition(ctx, sid, rule.Condition, sess, recentExchanges)
		if err != nil {
			return Outcome{}, err
		}
		if ok {
			return Outcome{Advanced: true, NextGoalID: rule.NextGoalID, Reason: fmt.Sprintf("rule priority %d matched", rule.Priority)}, nil
		}
	}
	return Outcome{Advanced: false, Reason: "no rule matched"}, nil
}

func (e *Engine) evalCondition(ctx context.Context, sid string, c Condition, sess *session.Session, recent []semantic.Exchange) (bool, error) {
	switch c.Kind {
	case Deterministic:
		values, err := sess.Memory.ReadPaths(paths(c))
		if err != nil {
			return false, err
		}
		return evalDeterministic(c, values), nil
	case Compound:
		if len(c.All) > 0 {
			for _, sub := range c.All {
				ok, err := e.evalCondition(ctx, sid, sub, sess, recent)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil // short-circuit
				}
			}
			return true, nil
		}
		for _, sub := range c.Any {
			ok, err := e.evalCondition(ctx, sid, sub, sess, recent)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil // short-circuit
			}
		}
		return false, nil
	case Semantic:
		if e.evaluator == nil {
			return false, nil
		}
		projection := map[string]any(sess.Memory)
		verdict := e.evaluator.Evaluate(ctx, c.Text, projection, recent)
		e.recorder.RecordSemanticEvaluated(ctx, Event{SessionID: sid, PredicateText: c.Text, Verdict: verdict})
		return verdict.Bool, nil
	default:
		return false, nil
	}
}
