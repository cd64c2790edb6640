package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, satisfied by *sdk.MessageService so tests can substitute a
// fake.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicClient implements Client on top of Anthropic Claude Messages.
type AnthropicClient struct {
	msg   MessagesClient
	model string
}

// NewAnthropicClient builds an AnthropicClient from an Anthropic Messages
// client and a default model identifier.
func NewAnthropicClient(msg MessagesClient, modelID string) (*AnthropicClient, error) {
	if msg == nil {
		return nil, errors.New("model: anthropic client is required")
	}
	if modelID == "" {
		return nil, errors.New("model: default model identifier is required")
	}
	return &AnthropicClient{msg: msg, model: modelID}, nil
}

// NewAnthropicClientFromAPIKey builds an AnthropicClient using the SDK's
// default HTTP client configuration.
func NewAnthropicClientFromAPIKey(apiKey, modelID string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("model: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicClient(&client.Messages, modelID)
}

// StreamChat implements Client.
func (c *AnthropicClient) StreamChat(ctx context.Context, req Request) (Stream, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return nil, fmt.Errorf("model: anthropic messages stream: %w", err)
	}
	return newAnthropicStream(ctx, stream), nil
}

func (c *AnthropicClient) buildParams(req Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("model: messages are required")
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		return nil, errors.New("model: max_tokens must be positive")
	}
	params := &sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(c.model),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}
	return params, nil
}

func encodeMessages(msgs []Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			continue // system text is collected separately
		case RoleUser:
			if m.ToolResult != nil {
				out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(
					m.ToolResult.ToolUseID, m.ToolResult.Content, m.ToolResult.IsError,
				)))
				continue
			}
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Text)))
		case RoleAssistant:
			if m.ToolCall != nil {
				out = append(out, sdk.NewAssistantMessage(sdk.NewToolUseBlock(m.ToolCall.ID, m.ToolCall.Input, m.ToolCall.Name)))
				continue
			}
			if m.Text != "" {
				out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Text)))
			}
		default:
			return nil, fmt.Errorf("model: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("model: at least one user/assistant message is required")
	}
	return out, nil
}

func encodeTools(defs []ToolDefinition) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: def.InputSchema}, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "rate limit")
}

// anthropicStream adapts Anthropic's SSE event stream to the Stream
// interface, assembling partial tool-call JSON fragments into a single
// DeltaToolCallEnd.
type anthropicStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	raw    *ssestream.Stream[sdk.MessageStreamEventUnion]

	deltas chan Delta

	mu       sync.Mutex
	finalErr error
}

func newAnthropicStream(ctx context.Context, raw *ssestream.Stream[sdk.MessageStreamEventUnion]) *anthropicStream {
	cctx, cancel := context.WithCancel(ctx)
	s := &anthropicStream{ctx: cctx, cancel: cancel, raw: raw, deltas: make(chan Delta, 32)}
	go s.run()
	return s
}

func (s *anthropicStream) run() {
	defer close(s.deltas)
	defer func() { _ = s.raw.Close() }()

	toolNames := map[int]string{}
	toolIDs := map[int]string{}
	fragments := map[int][]string{}

	emit := func(d Delta) bool {
		select {
		case s.deltas <- d:
			return true
		case <-s.ctx.Done():
			return false
		}
	}

	for s.raw.Next() {
		event := s.raw.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			idx := int(ev.Index)
			if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolNames[idx] = tu.Name
				toolIDs[idx] = tu.ID
				if !emit(Delta{Type: DeltaToolCallBegin, ToolCallID: tu.ID, ToolCallName: tu.Name}) {
					return
				}
			}
		case sdk.ContentBlockDeltaEvent:
			idx := int(ev.Index)
			switch d := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if d.Text != "" && !emit(Delta{Type: DeltaText, Text: d.Text}) {
					return
				}
			case sdk.InputJSONDelta:
				if d.PartialJSON != "" {
					fragments[idx] = append(fragments[idx], d.PartialJSON)
					if !emit(Delta{Type: DeltaToolCallArgsChunk, ToolCallID: toolIDs[idx], ArgsChunk: d.PartialJSON}) {
						return
					}
				}
			}
		case sdk.ContentBlockStopEvent:
			idx := int(ev.Index)
			if name, ok := toolNames[idx]; ok {
				joined := strings.Join(fragments[idx], "")
				if strings.TrimSpace(joined) == "" {
					joined = "{}"
				}
				var input map[string]any
				if err := json.Unmarshal([]byte(joined), &input); err != nil {
					input = map[string]any{}
				}
				tc := &ToolCall{ID: toolIDs[idx], Name: name, Input: input}
				delete(toolNames, idx)
				delete(toolIDs, idx)
				delete(fragments, idx)
				if !emit(Delta{Type: DeltaToolCallEnd, ToolCallID: tc.ID, ToolCallName: tc.Name, ToolCall: tc}) {
					return
				}
			}
		case sdk.MessageDeltaEvent:
			usage := TokenUsage{
				InputTokens:  int(ev.Usage.InputTokens),
				OutputTokens: int(ev.Usage.OutputTokens),
				TotalTokens:  int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
			}
			if !emit(Delta{Type: DeltaUsage, Usage: &usage}) {
				return
			}
		case sdk.MessageStopEvent:
			emit(Delta{Type: DeltaStop})
		}
	}
	if err := s.raw.Err(); err != nil {
		s.setErr(err)
	}
}

func (s *anthropicStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalErr == nil {
		s.finalErr = err
	}
}

func (s *anthropicStream) Recv(ctx context.Context) (Delta, error) {
	select {
	case d, ok := <-s.deltas:
		if ok {
			return d, nil
		}
		s.mu.Lock()
		err := s.finalErr
		s.mu.Unlock()
		if err != nil {
			return Delta{}, err
		}
		return Delta{}, io.EOF
	case <-ctx.Done():
		return Delta{}, ctx.Err()
	case <-s.ctx.Done():
		return Delta{}, s.ctx.Err()
	}
}

func (s *anthropicStream) Close() error {
	s.cancel()
	return s.raw.Close()
}
