// Package agent implements the unified goal agent: a single LLM turn loop
// per goal that builds a system prompt from the goal, profile, tactics,
// and session memory, streams tokens, interleaves tool calls through
// internal/tools, and yields a lazy, finite sequence of Chunk values on a
// bounded channel.
package agent

import "github.com/fieldservice/concierge/internal/model"

// ChunkType discriminates the active field of a Chunk.
type ChunkType int

const (
	// ChunkToken carries one streamed content token.
	ChunkToken ChunkType = iota
	// ChunkToolCallBegin marks a fully-assembled tool call about to run.
	ChunkToolCallBegin
	// ChunkToolCallEnd marks a tool call's completion with a summary.
	ChunkToolCallEnd
	// ChunkDone marks the end of the turn's assistant output.
	ChunkDone
)

// Chunk is one increment of a goal agent's output stream.
type Chunk struct {
	Type ChunkType

	// ChunkToken
	Text string

	// ChunkToolCallBegin / ChunkToolCallEnd
	ToolCallID    string
	ToolName      string
	ToolArgs      map[string]any
	ToolSummary   string
	ToolSucceeded bool

	// ChunkDone
	AssistantText string
	Usage         model.TokenUsage
	// Reason is set on a Done chunk produced early, e.g. "too_many_tools".
	Reason string
}
