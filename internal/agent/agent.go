package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/fieldservice/concierge/internal/errs"
	"github.com/fieldservice/concierge/internal/model"
	"github.com/fieldservice/concierge/internal/telemetry"
	"github.com/fieldservice/concierge/internal/tools"
)

// chunkBuffer bounds the agent's output channel. A small buffer lets the
// loop get a little ahead of a slow consumer before blocking on a full
// channel, which is the flow-control mechanism: a slow consumer stalls the
// turn loop rather than growing an unbounded queue.
const chunkBuffer = 8

// defaultTemperature and defaultMaxOutputTokens are used when a profile
// does not declare model knobs.
const (
	defaultTemperature     = 0.4
	defaultMaxOutputTokens = 1024
)

// fallbackText closes out the turn when it hits its tool-call cap.
const fallbackText = "Sorry — let me pause there."

// defaultToolHardTimeout is the grace period a cancellation-ignoring tool
// handler gets after the turn context ends before it is abandoned.
const defaultToolHardTimeout = 15 * time.Second

// EventRecorder receives the per-tool-call and cap-exceeded events the
// agent loop produces as it runs, mirroring transition.EventRecorder's
// shape so both components report through the same kind of seam.
type EventRecorder interface {
	RecordToolInvoked(ctx context.Context, sessionID string, inv tools.Invocation)
	RecordTooManyTools(ctx context.Context, sessionID string)
}

type noopRecorder struct{}

func (noopRecorder) RecordToolInvoked(context.Context, string, tools.Invocation) {}
func (noopRecorder) RecordTooManyTools(context.Context, string)                  {}

// Outcome is the final result of a Run, delivered once on the result
// channel whether the turn completed normally or aborted.
type Outcome struct {
	AssistantText   string
	Usage           model.TokenUsage
	ToolInvocations []tools.Invocation
	// Err is nil on a clean Done (including the too-many-tools fallback);
	// otherwise one of errs.KindLLMStreamError, errs.KindTurnTimeout, or
	// errs.KindTurnCancelled.
	Err error
}

// Agent runs the per-turn LLM loop: Run executes one turn and returns a
// stream of Chunks plus a single-value Outcome channel.
type Agent struct {
	client   model.Client
	registry *tools.Registry
	recorder EventRecorder
	log      telemetry.Logger
}

// NewAgent builds an Agent backed by client for LLM streaming and registry
// for tool invocation. recorder may be nil.
func NewAgent(client model.Client, registry *tools.Registry, recorder EventRecorder, log telemetry.Logger) *Agent {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Agent{client: client, registry: registry, recorder: recorder, log: log}
}

// Run starts the turn loop in a background goroutine and returns the chunk
// stream plus a single-value Outcome channel, both closed when the turn
// ends.
func (a *Agent) Run(ctx context.Context, req Request) (<-chan Chunk, <-chan Outcome) {
	chunks := make(chan Chunk, chunkBuffer)
	result := make(chan Outcome, 1)
	go a.run(ctx, req, chunks, result)
	return chunks, result
}

func (a *Agent) run(ctx context.Context, req Request, chunks chan<- Chunk, result chan<- Outcome) {
	defer close(chunks)
	defer close(result)

	timeout := time.Duration(req.TurnTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	turnCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxTools := req.MaxTools
	if maxTools <= 0 {
		maxTools = 5
	}
	hardTimeout := time.Duration(req.ToolHardTimeoutSec) * time.Second
	if hardTimeout <= 0 {
		hardTimeout = defaultToolHardTimeout
	}

	temperature := req.Profile.Model.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	maxOutput := req.Profile.Model.MaxOutputLength
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputTokens
	}

	system := buildSystemPrompt(req)
	messages := buildMessages(req)
	toolDefs := toolDefinitions(req.ToolSchemas)

	var assistantText []byte
	var usage model.TokenUsage
	var invocations []tools.Invocation
	toolCalls := 0

	for {
		stream, err := a.client.StreamChat(turnCtx, model.Request{
			System:      system,
			Messages:    messages,
			Tools:       toolDefs,
			Temperature: temperature,
			MaxTokens:   maxOutput,
		})
		if err != nil {
			a.abort(result, string(assistantText), usage, invocations, errs.KindLLMStreamError, "start stream", err)
			return
		}

		sawToolCall, recvErr := a.consumeStream(turnCtx, stream, chunks, &assistantText, &usage, &invocations, &toolCalls, maxTools, hardTimeout, req.SessionID, &messages)
		_ = stream.Close()
		if recvErr != nil {
			kind := errs.KindLLMStreamError
			switch {
			case ctx.Err() != nil:
				kind = errs.KindTurnCancelled
			case turnCtx.Err() != nil:
				kind = errs.KindTurnTimeout
			}
			a.abort(result, string(assistantText), usage, invocations, kind, "turn aborted", recvErr)
			return
		}
		if toolCalls > maxTools {
			assistantText = append(assistantText, fallbackText...)
			chunks <- Chunk{Type: ChunkToken, Text: fallbackText}
			chunks <- Chunk{Type: ChunkDone, AssistantText: string(assistantText), Usage: usage, Reason: "too_many_tools"}
			a.recorder.RecordTooManyTools(ctx, req.SessionID)
			result <- Outcome{AssistantText: string(assistantText), Usage: usage, ToolInvocations: invocations}
			return
		}
		if !sawToolCall {
			break
		}
	}

	chunks <- Chunk{Type: ChunkDone, AssistantText: string(assistantText), Usage: usage}
	result <- Outcome{AssistantText: string(assistantText), Usage: usage, ToolInvocations: invocations}
}

// consumeStream drains one StreamChat response, emitting Token/ToolCallBegin/
// ToolCallEnd chunks as deltas arrive and appending the resulting assistant
// tool-call + tool-result messages to *messages for the next request. It
// returns sawToolCall=true if a tool call was fully assembled and executed,
// and a non-nil recvErr if the stream ended with a provider error, timeout,
// or cancellation rather than a natural DeltaStop/EOF.
func (a *Agent) consumeStream(
	ctx context.Context,
	stream model.Stream,
	chunks chan<- Chunk,
	assistantText *[]byte,
	usage *model.TokenUsage,
	invocations *[]tools.Invocation,
	toolCalls *int,
	maxTools int,
	hardTimeout time.Duration,
	sessionID string,
	messages *[]model.Message,
) (sawToolCall bool, recvErr error) {
	for {
		delta, err := stream.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return sawToolCall, nil
			}
			return sawToolCall, err
		}
		switch delta.Type {
		case model.DeltaText:
			*assistantText = append(*assistantText, delta.Text...)
			chunks <- Chunk{Type: ChunkToken, Text: delta.Text}
		case model.DeltaToolCallEnd:
			sawToolCall = true
			*toolCalls++
			if *toolCalls > maxTools {
				return sawToolCall, nil
			}
			tc := delta.ToolCall
			chunks <- Chunk{Type: ChunkToolCallBegin, ToolCallID: tc.ID, ToolName: tc.Name, ToolArgs: tc.Input}

			inv := a.invokeTool(ctx, hardTimeout, tc.Name, tc.Input, sessionID)
			*invocations = append(*invocations, inv)
			a.recorder.RecordToolInvoked(ctx, sessionID, inv)

			chunks <- Chunk{
				Type: ChunkToolCallEnd, ToolCallID: tc.ID, ToolName: tc.Name,
				ToolSummary: summarizeResult(inv.Result), ToolSucceeded: inv.Result.Ok,
			}

			*messages = append(*messages,
				model.Message{Role: model.RoleAssistant, ToolCall: tc},
				model.Message{Role: model.RoleUser, ToolResult: &model.ToolResultPart{
					ToolUseID: tc.ID, Content: resultContent(inv.Result), IsError: !inv.Result.Ok,
				}},
			)
		case model.DeltaUsage:
			*usage = *delta.Usage
		case model.DeltaStop:
			return sawToolCall, nil
		}
	}
}

// invokeTool runs the registry invocation on its own goroutine so a handler
// that ignores cancellation cannot wedge the turn: once ctx ends, the
// handler gets hardTimeout to return before it is abandoned and the
// invocation is recorded as a timeout. The orphaned goroutine is left to
// finish on its own; its result is discarded.
func (a *Agent) invokeTool(ctx context.Context, hardTimeout time.Duration, name string, args map[string]any, sid string) tools.Invocation {
	done := make(chan tools.Invocation, 1)
	start := time.Now()
	go func() { done <- a.registry.Invoke(ctx, name, args, sid) }()

	select {
	case inv := <-done:
		return inv
	case <-ctx.Done():
	}

	timer := time.NewTimer(hardTimeout)
	defer timer.Stop()
	select {
	case inv := <-done:
		return inv
	case <-timer.C:
		a.log.Error(ctx, "abandoning unresponsive tool handler",
			"error_kind", string(errs.KindToolOrphan), "tool", name, "session_id", sid,
			"hard_timeout", hardTimeout.String())
		return tools.Invocation{
			Name:      name,
			Arguments: args,
			Result:    tools.Fail(tools.KindTimeout, "handler ignored cancellation and was abandoned"),
			Latency:   time.Since(start),
		}
	}
}

func (a *Agent) abort(result chan<- Outcome, text string, usage model.TokenUsage, invocations []tools.Invocation, kind errs.Kind, msg string, cause error) {
	result <- Outcome{
		AssistantText:   text,
		Usage:           usage,
		ToolInvocations: invocations,
		Err:             errs.Wrap(kind, msg, cause),
	}
}

func summarizeResult(r tools.Result) string {
	if r.Ok {
		data, _ := json.Marshal(r.Payload)
		return string(data)
	}
	return string(r.Kind) + ": " + r.Message
}

func resultContent(r tools.Result) string {
	if r.Ok {
		data, _ := json.Marshal(r.Payload)
		return string(data)
	}
	data, _ := json.Marshal(map[string]string{"error": string(r.Kind), "message": r.Message})
	return string(data)
}
