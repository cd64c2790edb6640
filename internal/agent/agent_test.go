package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldservice/concierge/internal/config"
	"github.com/fieldservice/concierge/internal/model"
	"github.com/fieldservice/concierge/internal/session"
	"github.com/fieldservice/concierge/internal/tools"
)

func newRegistry(t *testing.T, handler tools.Handler) *tools.Registry {
	t.Helper()
	store := session.NewStore(session.NewMemoryBackend(), nil)
	reg := tools.NewRegistry(store, nil)
	require.NoError(t, reg.Register(tools.Registration{
		Schema:   tools.Schema{Name: "echo_tool", Description: "echoes its input"},
		Handler:  handler,
		Mappings: []tools.ResultMapping{{ResultPath: "value", MemoryPath: "echoed.value"}},
	}))
	return reg
}

func drain(chunks <-chan Chunk) []Chunk {
	var out []Chunk
	for c := range chunks {
		out = append(out, c)
	}
	return out
}

func baseRequest() Request {
	return Request{
		SessionID: "s1",
		Goal:      config.Goal{ID: "greet", Description: "say hello"},
		Profile:   config.AgentProfile{Identity: "a concierge"},
		UserInput: "hi",
	}
}

func TestRun_TextOnlyTurnEmitsTokensThenDone(t *testing.T) {
	client := &model.FakeClient{Scripts: [][]model.Delta{{
		{Type: model.DeltaText, Text: "Hello"},
		{Type: model.DeltaText, Text: " there"},
		{Type: model.DeltaUsage, Usage: &model.TokenUsage{InputTokens: 10, OutputTokens: 2}},
		{Type: model.DeltaStop},
	}}}
	reg := newRegistry(t, func(context.Context, map[string]tools.Value) tools.Result { return tools.Succeed(nil) })
	a := NewAgent(client, reg, nil, nil)

	chunks, result := a.Run(context.Background(), baseRequest())
	got := drain(chunks)
	outcome := <-result

	require.NoError(t, outcome.Err)
	assert.Equal(t, "Hello there", outcome.AssistantText)
	assert.Equal(t, 10, outcome.Usage.InputTokens)
	require.Len(t, got, 3)
	assert.Equal(t, ChunkDone, got[2].Type)
	assert.Equal(t, "Hello there", got[2].AssistantText)
}

func TestRun_ToolCallInterleavesAndResumesStream(t *testing.T) {
	client := &model.FakeClient{Scripts: [][]model.Delta{
		{
			{Type: model.DeltaText, Text: "Let me check. "},
			{Type: model.DeltaToolCallEnd, ToolCall: &model.ToolCall{ID: "call_1", Name: "echo_tool", Input: map[string]any{"value": "x"}}},
			{Type: model.DeltaStop},
		},
		{
			{Type: model.DeltaText, Text: "Done."},
			{Type: model.DeltaStop},
		},
	}}
	reg := newRegistry(t, func(_ context.Context, args map[string]tools.Value) tools.Result {
		return tools.Succeed(map[string]any{"value": args["value"].ToAny()})
	})
	a := NewAgent(client, reg, nil, nil)

	chunks, result := a.Run(context.Background(), baseRequest())
	got := drain(chunks)
	outcome := <-result

	require.NoError(t, outcome.Err)
	assert.Equal(t, "Let me check. Done.", outcome.AssistantText)
	require.Len(t, outcome.ToolInvocations, 1)
	assert.True(t, outcome.ToolInvocations[0].Result.Ok)
	require.Len(t, client.Requests, 2, "the second StreamChat call resumes with the tool result appended")

	var sawBegin, sawEnd bool
	for _, c := range got {
		if c.Type == ChunkToolCallBegin {
			sawBegin = true
		}
		if c.Type == ChunkToolCallEnd {
			sawEnd = true
			assert.True(t, c.ToolSucceeded)
		}
	}
	assert.True(t, sawBegin)
	assert.True(t, sawEnd)
}

func TestRun_ExceedingMaxToolsEmitsFallbackDone(t *testing.T) {
	toolCall := func(id string) model.Delta {
		return model.Delta{Type: model.DeltaToolCallEnd, ToolCall: &model.ToolCall{ID: id, Name: "echo_tool", Input: map[string]any{}}}
	}
	client := &model.FakeClient{Scripts: [][]model.Delta{
		{toolCall("1"), {Type: model.DeltaStop}},
		{toolCall("2"), {Type: model.DeltaStop}},
	}}
	reg := newRegistry(t, func(context.Context, map[string]tools.Value) tools.Result { return tools.Succeed(nil) })
	a := NewAgent(client, reg, nil, nil)

	req := baseRequest()
	req.MaxTools = 1
	chunks, result := a.Run(context.Background(), req)
	got := drain(chunks)
	outcome := <-result

	require.NoError(t, outcome.Err)
	last := got[len(got)-1]
	assert.Equal(t, ChunkDone, last.Type)
	assert.Equal(t, "too_many_tools", last.Reason)
	assert.Equal(t, fallbackText, outcome.AssistantText)

	var tokens string
	callPairs := 0
	for _, c := range got {
		if c.Type == ChunkToken {
			tokens += c.Text
		}
		if c.Type == ChunkToolCallEnd {
			callPairs++
		}
	}
	assert.Equal(t, last.AssistantText, tokens, "done text equals concatenated tokens")
	assert.Equal(t, 1, callPairs, "exactly MaxTools tool-call pairs before the fallback")
}

func TestRun_MidStreamProviderErrorAborts(t *testing.T) {
	client := &model.FakeClient{Scripts: [][]model.Delta{{
		{Type: model.DeltaText, Text: "Partial"},
	}}}
	// The fake stream returns io.EOF after the script, which reads as a
	// clean end; wrap it so exhaustion surfaces as a provider error instead.
	reg := newRegistry(t, func(context.Context, map[string]tools.Value) tools.Result { return tools.Succeed(nil) })
	a := NewAgent(failingAfterScript{client}, reg, nil, nil)

	chunks, result := a.Run(context.Background(), baseRequest())
	drain(chunks)
	outcome := <-result

	require.Error(t, outcome.Err)
	assert.Equal(t, "Partial", outcome.AssistantText, "partial text survives the abort")
}

type failingAfterScript struct{ inner model.Client }

func (c failingAfterScript) StreamChat(ctx context.Context, req model.Request) (model.Stream, error) {
	s, err := c.inner.StreamChat(ctx, req)
	if err != nil {
		return nil, err
	}
	return failingStream{s}, nil
}

type failingStream struct{ inner model.Stream }

func (s failingStream) Recv(ctx context.Context) (model.Delta, error) {
	d, err := s.inner.Recv(ctx)
	if err != nil {
		return model.Delta{}, assertErr{}
	}
	return d, nil
}

func (s failingStream) Close() error { return s.inner.Close() }

func TestInvokeTool_AbandonsHandlerThatIgnoresCancellation(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	reg := newRegistry(t, func(context.Context, map[string]tools.Value) tools.Result {
		<-block // ignores ctx on purpose
		return tools.Succeed(nil)
	})
	a := NewAgent(&model.FakeClient{}, reg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inv := a.invokeTool(ctx, 20*time.Millisecond, "echo_tool", nil, "s1")

	require.False(t, inv.Result.Ok)
	assert.Equal(t, tools.KindTimeout, inv.Result.Kind)
	assert.Equal(t, "echo_tool", inv.Name)
}

func TestInvokeTool_WaitsOutHandlerThatReturnsWithinGrace(t *testing.T) {
	release := make(chan struct{})
	reg := newRegistry(t, func(context.Context, map[string]tools.Value) tools.Result {
		<-release
		return tools.Succeed(map[string]any{"value": "late"})
	})
	a := NewAgent(&model.FakeClient{}, reg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	inv := a.invokeTool(ctx, time.Second, "echo_tool", nil, "s1")

	require.True(t, inv.Result.Ok, "a handler that finishes inside the grace period keeps its result")
}

type erroringClient struct{ err error }

func (c erroringClient) StreamChat(context.Context, model.Request) (model.Stream, error) {
	return nil, c.err
}

func TestRun_StreamStartFailureAbortsWithLLMStreamError(t *testing.T) {
	client := erroringClient{err: assertErr{}}
	reg := newRegistry(t, func(context.Context, map[string]tools.Value) tools.Result { return tools.Succeed(nil) })
	a := NewAgent(client, reg, nil, nil)

	chunks, result := a.Run(context.Background(), baseRequest())
	drain(chunks)
	outcome := <-result

	require.Error(t, outcome.Err)
}

type assertErr struct{}

func (assertErr) Error() string { return "provider unavailable" }
