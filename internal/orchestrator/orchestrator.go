package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldservice/concierge/internal/agent"
	"github.com/fieldservice/concierge/internal/config"
	"github.com/fieldservice/concierge/internal/errs"
	"github.com/fieldservice/concierge/internal/events"
	"github.com/fieldservice/concierge/internal/session"
	"github.com/fieldservice/concierge/internal/telemetry"
	"github.com/fieldservice/concierge/internal/tools"
	"github.com/fieldservice/concierge/internal/transition"
)

// outBuffer bounds the orchestrator's public Chunk channel; a full channel
// blocks the agent loop, so a slow consumer throttles the turn instead of
// growing an unbounded queue.
const outBuffer = 8

// defaultHistoryWindow is the number of recent exchanges included in the
// prompt, used when the config does not override it.
const defaultHistoryWindow = 10

// Publisher is the narrow seam onto the event sink the orchestrator needs;
// *events.Bus satisfies it.
type Publisher interface {
	Publish(evt events.Event)
}

// Orchestrator coordinates one turn at a time per session: it loads the
// session, runs the goal agent, evaluates transitions, persists the
// result, and emits lifecycle events.
type Orchestrator struct {
	store    session.Store
	graph    *config.Graph
	agent    *agent.Agent
	engine   *transition.Engine
	registry *tools.Registry
	bus      Publisher
	log      telemetry.Logger
	metrics  telemetry.Metrics
	tracer   telemetry.Tracer

	summarizer          Summarizer
	summarizeAfterTurns int
	historyWindow       int

	turnLocksMu sync.RWMutex
	turnLocks   map[string]*sync.Mutex
}

// Option configures optional Orchestrator behavior.
type Option func(*Orchestrator)

// WithSummarizer wires the optional history-summarization collaborator,
// invoked once a session's history holds more than afterTurns entries. afterTurns <=
// 0 disables summarization.
func WithSummarizer(s Summarizer, afterTurns int) Option {
	return func(o *Orchestrator) {
		o.summarizer = s
		o.summarizeAfterTurns = afterTurns
	}
}

// WithHistoryWindow overrides the default N-exchange prompt window.
func WithHistoryWindow(n int) Option {
	return func(o *Orchestrator) { o.historyWindow = n }
}

// WithTracer wires a Tracer that wraps every turn in a span. Defaults to a
// no-op tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// New builds an Orchestrator wiring together the Config Loader's graph,
// the Session Store, the Unified Goal Agent, the Transition Engine, the
// Tool Registry, and the Event Bus.
func New(
	store session.Store,
	graph *config.Graph,
	goalAgent *agent.Agent,
	engine *transition.Engine,
	registry *tools.Registry,
	bus Publisher,
	log telemetry.Logger,
	metrics telemetry.Metrics,
	opts ...Option,
) *Orchestrator {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	o := &Orchestrator{
		store: store, graph: graph, agent: goalAgent, engine: engine,
		registry: registry, bus: bus, log: log, metrics: metrics,
		tracer:        telemetry.NewNoopTracer(),
		historyWindow: defaultHistoryWindow,
		turnLocks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// turnLock returns the per-session mutex serializing Turn calls, distinct
// from the session store's finer-grained per-operation lock. Holding this
// lock for the whole turn, across every suspension point, is what makes
// turns totally ordered within a session, while the store's own lock still
// protects each individual memory read/write against any other direct
// caller.
func (o *Orchestrator) turnLock(sid string) *sync.Mutex {
	o.turnLocksMu.RLock()
	l, ok := o.turnLocks[sid]
	o.turnLocksMu.RUnlock()
	if ok {
		return l
	}
	o.turnLocksMu.Lock()
	defer o.turnLocksMu.Unlock()
	if l, ok = o.turnLocks[sid]; ok {
		return l
	}
	l = &sync.Mutex{}
	o.turnLocks[sid] = l
	return l
}

// Turn runs one turn for sid. It returns a Chunk stream and a single-value
// Report channel, both closed when the turn ends.
func (o *Orchestrator) Turn(ctx context.Context, sid, userText string) (<-chan Chunk, <-chan Report) {
	out := make(chan Chunk, outBuffer)
	reportCh := make(chan Report, 1)
	go o.runTurn(ctx, sid, userText, out, reportCh)
	return out, reportCh
}

func (o *Orchestrator) runTurn(ctx context.Context, sid, userText string, out chan<- Chunk, reportCh chan<- Report) {
	defer close(out)
	defer close(reportCh)

	lock := o.turnLock(sid)
	lock.Lock()
	defer lock.Unlock()

	ctx, span := o.tracer.Start(ctx, "orchestrator.Turn")
	defer span.End()

	start := time.Now()
	report := Report{TurnID: uuid.NewString(), SessionID: sid, UserInput: userText}

	sess, err := o.store.Get(ctx, sid)
	if err != nil {
		o.log.Error(ctx, "turn aborted: session load failed", "session_id", sid, "error", err)
		report.Aborted = true
		report.AbortReason = string(errs.KindSessionIOFailure)
		reportCh <- report
		return
	}
	if sess.Terminal {
		report.Aborted = true
		report.AbortReason = string(errs.KindSessionTerminal)
		reportCh <- report
		return
	}

	if sess.CurrentGoal == "" {
		sess, err = o.store.SetGoal(ctx, sid, o.graph.InitialGoal)
		if err != nil {
			report.Aborted = true
			report.AbortReason = string(errs.KindSessionIOFailure)
			reportCh <- report
			return
		}
	}
	report.GoalIn = sess.CurrentGoal

	goal, ok := o.graph.Goals[sess.CurrentGoal]
	if !ok {
		o.log.Error(ctx, "transition config drift: current goal undefined", "session_id", sid, "goal", sess.CurrentGoal)
		report.Aborted = true
		report.AbortReason = string(errs.KindTransitionConfigDrift)
		reportCh <- report
		return
	}

	// A deferred tool name passes config validation on the promise that it
	// is registered before first use; reject the turn if it still is not.
	for _, tn := range goal.Tools {
		if o.graph.DeferredTools[tn] && !o.registry.Known(tn) {
			o.log.Error(ctx, "turn rejected: deferred tool never registered", "session_id", sid, "tool", tn)
			report.Aborted = true
			report.AbortReason = string(errs.KindToolNotFound)
			o.publishTurnAborted(sid, string(errs.KindToolNotFound))
			reportCh <- report
			return
		}
	}

	recentExchanges := agent.ExchangesFromHistory(sess.History, o.historyWindow)
	profile := o.graph.AgentProfiles[goal.AgentProfile]
	tactics := resolveTactics(o.graph, profile, goal)
	schemas := o.registry.Describe(goal.Tools)

	req := agent.Request{
		SessionID: sid, Goal: goal, Profile: profile, TacticTexts: tactics,
		MemoryProjection: map[string]any(sess.Memory), RecentExchanges: recentExchanges,
		UserInput: userText, ToolSchemas: schemas,
		MaxTools: o.graph.Limits.MaxToolsPerTurn, TurnTimeoutSec: o.graph.Limits.TurnTimeout,
		ToolHardTimeoutSec: o.graph.Limits.ToolHardTimeout,
	}

	if _, err := o.store.AppendHistory(ctx, sid, "user", userText); err != nil {
		report.Aborted = true
		report.AbortReason = string(errs.KindSessionIOFailure)
		reportCh <- report
		return
	}

	chunks, resultCh := o.agent.Run(ctx, req)
	for c := range chunks {
		out <- fromAgentChunk(c)
	}
	outcome := <-resultCh

	report.ToolInvocations = len(outcome.ToolInvocations)
	report.Usage = outcome.Usage
	report.AssistantText = outcome.AssistantText
	report.Duration = time.Since(start)

	if outcome.AssistantText != "" {
		if _, err := o.store.AppendHistory(ctx, sid, "assistant", outcome.AssistantText); err != nil {
			o.log.Error(ctx, "failed to persist assistant turn", "session_id", sid, "error", err)
		}
	}

	if outcome.Err != nil {
		kind, _ := errs.KindOf(outcome.Err)
		report.Aborted = true
		report.AbortReason = string(kind)
		span.RecordError(outcome.Err)
		o.publishTurnAborted(sid, string(kind))
		reportCh <- report
		return
	}

	if _, err := o.store.RecordTurn(ctx, sid, outcome.Usage.InputTokens, outcome.Usage.OutputTokens, 0); err != nil {
		o.log.Error(ctx, "failed to record turn counters", "session_id", sid, "error", err)
	}
	o.maybeSummarize(ctx, sid)

	transitionOutcome, err := o.engine.Evaluate(ctx, sid, goal.Rules, toSemanticExchanges(recentExchanges))
	if err != nil {
		o.log.Error(ctx, "transition evaluation failed", "session_id", sid, "error", err)
		report.GoalOut = sess.CurrentGoal
		o.publishTurnReport(report)
		reportCh <- report
		return
	}

	report.GoalOut = report.GoalIn
	if transitionOutcome.Advanced {
		report.Advanced = true
		report.TransitionNote = transitionOutcome.Reason
		report.GoalOut = transitionOutcome.NextGoalID
		if _, err := o.store.SetGoal(ctx, sid, transitionOutcome.NextGoalID); err != nil {
			o.log.Error(ctx, "failed to persist goal transition", "session_id", sid, "error", err)
		} else {
			o.publishGoalTransitioned(sid, report.GoalIn, transitionOutcome.NextGoalID, transitionOutcome.Reason)
			if nextGoal, ok := o.graph.Goals[transitionOutcome.NextGoalID]; ok && nextGoal.Terminal {
				o.runTermination(ctx, sid, nextGoal, out)
				report.SessionTerminal = true
			}
		}
	}

	o.publishTurnReport(report)
	reportCh <- report
}

// runTermination executes a terminal goal's termination sequence, a short
// deterministic list of pseudo-chunk steps: a "say" step emits a text
// chunk and appends it to history; a "call_tool" step invokes the
// designated tool synchronously and waits for its result before the
// session is marked complete and the terminal chunk is emitted.
func (o *Orchestrator) runTermination(ctx context.Context, sid string, goal config.Goal, out chan<- Chunk) {
	for _, step := range goal.Termination {
		switch step.Kind {
		case "say":
			out <- Chunk{Kind: KindTerminationStep, Text: step.Text}
			if _, err := o.store.AppendHistory(ctx, sid, "assistant", step.Text); err != nil {
				o.log.Error(ctx, "failed to persist termination step", "session_id", sid, "error", err)
			}
		case "call_tool":
			out <- Chunk{Kind: KindToolCallBegin, ToolName: step.Tool}
			inv := o.registry.Invoke(ctx, step.Tool, nil, sid)
			o.publishToolInvoked(sid, inv)
			out <- Chunk{Kind: KindToolCallEnd, ToolName: step.Tool, ToolSucceeded: inv.Result.Ok}
		}
	}
	if _, err := o.store.MarkTerminal(ctx, sid); err != nil {
		o.log.Error(ctx, "failed to mark session terminal", "session_id", sid, "error", err)
	}
	out <- Chunk{Kind: KindSessionTerminal}
}

func (o *Orchestrator) maybeSummarize(ctx context.Context, sid string) {
	if o.summarizer == nil || o.summarizeAfterTurns <= 0 {
		return
	}
	sess, err := o.store.Get(ctx, sid)
	if err != nil || len(sess.History) <= o.summarizeAfterTurns {
		return
	}
	update, err := o.summarizer.Summarize(ctx, sid, sess.History)
	if err != nil {
		o.log.Warn(ctx, "history summarization failed", "session_id", sid, "error", err)
		return
	}
	if len(update) == 0 {
		return
	}
	if _, err := o.store.Update(ctx, sid, update, nil); err != nil {
		o.log.Warn(ctx, "failed to persist history summary", "session_id", sid, "error", err)
	}
}

func resolveTactics(graph *config.Graph, profile config.AgentProfile, goal config.Goal) []string {
	names := append(append([]string{}, profile.DefaultTactics...), goal.Tactics...)
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		if text, ok := graph.Tactics[n]; ok {
			out = append(out, text)
		}
	}
	return out
}
