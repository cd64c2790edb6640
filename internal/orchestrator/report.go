package orchestrator

import (
	"context"
	"time"

	"github.com/fieldservice/concierge/internal/model"
	"github.com/fieldservice/concierge/internal/session"
)

// Report is the turn record emitted after every Turn.
type Report struct {
	TurnID          string
	SessionID       string
	GoalIn          string
	GoalOut         string
	UserInput       string
	AssistantText   string
	ToolInvocations int
	Usage           model.TokenUsage
	Duration        time.Duration
	Advanced        bool
	TransitionNote  string
	Aborted         bool
	AbortReason     string
	SessionTerminal bool
}

// Summarizer is the optional history-summarization collaborator: invoked
// when a session's history grows past a configurable threshold, it reads
// conversation_meta paths and returns an update to merge back in (normally
// just conversation_meta.summary). Summarization is a pluggable
// collaborator, never core orchestration logic.
type Summarizer interface {
	Summarize(ctx context.Context, sid string, history []session.HistoryEntry) (map[string]any, error)
}
