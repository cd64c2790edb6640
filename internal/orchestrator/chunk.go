// Package orchestrator implements the per-turn coordinator: it loads a
// session, delegates to the goal agent (internal/agent), runs the
// transition engine (internal/transition) once the agent's turn completes,
// persists the result, and emits lifecycle events (internal/events).
package orchestrator

import (
	"github.com/fieldservice/concierge/internal/agent"
	"github.com/fieldservice/concierge/internal/model"
)

// ChunkKind discriminates the active fields of a Chunk. It is a superset of
// agent.ChunkType: normal turn chunks pass through unchanged, and
// termination-sequence/session-terminal pseudo-chunks are added for the
// orchestrator's own bookkeeping.
type ChunkKind int

const (
	KindToken ChunkKind = iota
	KindToolCallBegin
	KindToolCallEnd
	KindDone
	// KindTerminationStep marks one pseudo-chunk of a terminal goal's
	// termination sequence (a "say" line or a synchronous tool call).
	KindTerminationStep
	// KindSessionTerminal marks the end of the termination sequence; no
	// further Turn calls for this session will succeed.
	KindSessionTerminal
)

// Chunk is one increment of a Turn's output stream.
type Chunk struct {
	Kind ChunkKind

	Text string

	ToolName      string
	ToolArgs      map[string]any
	ToolSummary   string
	ToolSucceeded bool

	AssistantText string
	Usage         model.TokenUsage
	Reason        string
}

func fromAgentChunk(c agent.Chunk) Chunk {
	var kind ChunkKind
	switch c.Type {
	case agent.ChunkToken:
		kind = KindToken
	case agent.ChunkToolCallBegin:
		kind = KindToolCallBegin
	case agent.ChunkToolCallEnd:
		kind = KindToolCallEnd
	case agent.ChunkDone:
		kind = KindDone
	}
	return Chunk{
		Kind: kind, Text: c.Text,
		ToolName: c.ToolName, ToolArgs: c.ToolArgs,
		ToolSummary: c.ToolSummary, ToolSucceeded: c.ToolSucceeded,
		AssistantText: c.AssistantText, Usage: c.Usage, Reason: c.Reason,
	}
}
