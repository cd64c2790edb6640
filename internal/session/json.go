package session

import "encoding/json"

// sessionAlias mirrors Session's tagged fields for JSON round-tripping while
// keeping Extra (unknown top-level keys) out of the struct tags so it can be
// folded back in manually.
type sessionAlias struct {
	ID           string         `json:"session_id"`
	CurrentGoal  string         `json:"current_goal"`
	EnteredGoals []string       `json:"entered_goals"`
	Memory       map[string]any `json:"memory"`
	History      []HistoryEntry `json:"history"`
	Counters     Counters       `json:"counters"`
	Terminal     bool           `json:"terminal"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
}

// knownTopLevelKeys lists the JSON keys sessionAlias declares, used to
// separate "known" fields from arbitrary forward-compatible ones when
// decoding: unknown top-level keys survive a read/modify/write cycle.
var knownTopLevelKeys = map[string]bool{
	"session_id": true, "current_goal": true, "entered_goals": true,
	"memory": true, "history": true, "counters": true, "terminal": true,
	"created_at": true, "updated_at": true,
}

// MarshalJSON serializes the session as a self-describing document with any
// Extra top-level keys merged back in alongside the known fields.
func (s *Session) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"session_id":    s.ID,
		"current_goal":  s.CurrentGoal,
		"entered_goals": s.EnteredGoals,
		"memory":        map[string]any(s.Memory),
		"history":       s.History,
		"counters":      s.Counters,
		"terminal":      s.Terminal,
		"created_at":    s.CreatedAt.Format(timeLayout),
		"updated_at":    s.UpdatedAt.Format(timeLayout),
	}
	for k, v := range s.Extra {
		if !knownTopLevelKeys[k] {
			out[k] = v
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a session document, preserving any top-level keys it
// does not recognize in Extra so a future round-trip does not drop them.
func (s *Session) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var alias sessionAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	s.ID = alias.ID
	s.CurrentGoal = alias.CurrentGoal
	s.EnteredGoals = alias.EnteredGoals
	s.History = alias.History
	s.Counters = alias.Counters
	s.Terminal = alias.Terminal
	if alias.Memory != nil {
		s.Memory = normalizeMemory(alias.Memory)
	}
	if alias.CreatedAt != "" {
		if t, err := parseTime(alias.CreatedAt); err == nil {
			s.CreatedAt = t
		}
	}
	if alias.UpdatedAt != "" {
		if t, err := parseTime(alias.UpdatedAt); err == nil {
			s.UpdatedAt = t
		}
	}
	extra := make(map[string]any)
	for k, v := range raw {
		if knownTopLevelKeys[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		extra[k] = val
	}
	if len(extra) > 0 {
		s.Extra = extra
	}
	return nil
}
