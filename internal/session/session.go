// Package session implements the session store: per-session
// memory with deep-merge updates, per-session serialization via a lock map,
// and pluggable persistence backends (in-process file, MongoDB).
package session

import (
	"context"
	"time"

	"github.com/fieldservice/concierge/internal/memory"
)

type (
	// Session is the durable per-conversation state.
	Session struct {
		ID           string         `json:"session_id"`
		CurrentGoal  string         `json:"current_goal"`
		EnteredGoals []string       `json:"entered_goals"`
		Memory       memory.Tree    `json:"memory"`
		History      []HistoryEntry `json:"history"`
		Counters     Counters       `json:"counters"`
		Terminal     bool           `json:"terminal"`
		CreatedAt    time.Time      `json:"created_at"`
		UpdatedAt    time.Time      `json:"updated_at"`
		Extra        map[string]any `json:"-"` // unknown top-level keys, preserved across read/modify/write
	}

	// HistoryEntry is one turn of conversation history.
	HistoryEntry struct {
		Role      string    `json:"role"`
		Text      string    `json:"text"`
		Timestamp time.Time `json:"ts"`
	}

	// Counters tracks token/cost accounting.
	Counters struct {
		Turns     int     `json:"turns"`
		TokensIn  int     `json:"tokens_in"`
		TokensOut int     `json:"tokens_out"`
		CostUnits float64 `json:"cost_units"`
	}
)

// newSession returns an empty Session ready for its first turn.
func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Memory:    memory.NewTree(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a defensive deep copy of s, used for Get's snapshot
// contract: callers never observe later mutations through a snapshot.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Memory = s.Memory.Clone()
	out.EnteredGoals = append([]string(nil), s.EnteredGoals...)
	out.History = append([]HistoryEntry(nil), s.History...)
	if s.Extra != nil {
		out.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = memory.Clone(v)
		}
	}
	return &out
}

// Store is the session store's public contract.
type Store interface {
	// Get returns a snapshot of the session, creating an empty one on miss.
	Get(ctx context.Context, sid string) (*Session, error)

	// Update applies a partial memory tree via deep-merge under the
	// session's lock and returns the post-update snapshot.
	Update(ctx context.Context, sid string, update map[string]any, appendPaths map[string]bool) (*Session, error)

	// ReadPaths is a lightweight projection of named memory paths.
	ReadPaths(ctx context.Context, sid string, paths []string) (map[string]any, error)

	// AppendHistory appends one conversation turn to history.
	AppendHistory(ctx context.Context, sid string, role, text string) (*Session, error)

	// SetGoal sets the current goal id and appends it to entered-goals.
	SetGoal(ctx context.Context, sid string, goalID string) (*Session, error)

	// RecordTurn increments the turn counter and token/cost accounting
	// after a completed turn.
	RecordTurn(ctx context.Context, sid string, tokensIn, tokensOut int, costUnits float64) (*Session, error)

	// MarkTerminal marks the session complete once its terminal goal's
	// termination sequence has run.
	MarkTerminal(ctx context.Context, sid string) (*Session, error)

	// WithLock runs fn with exclusive access to the session for the
	// duration of a full turn. fn receives a mutable working copy and
	// returns the Session to persist, or an error to abort without
	// persisting.
	WithLock(ctx context.Context, sid string, fn func(ctx context.Context, s *Session) (*Session, error)) (*Session, error)

	// ActiveSessions reports how many known sessions are not yet
	// terminal, for the operator surface's sessions_active gauge.
	ActiveSessions() int
}
