// Package config implements the configuration loader: it parses a single
// declarative YAML document at startup into an immutable in-memory graph
// of goals, agent profiles, tactics, tool mappings, and per-profile model
// defaults, validating cross-references before returning it.
package config

import (
	"fmt"

	"github.com/fieldservice/concierge/internal/errs"
	"github.com/fieldservice/concierge/internal/tools"
	"github.com/fieldservice/concierge/internal/transition"
	"gopkg.in/yaml.v3"
)

// ModelDefaults carries per-profile model knobs.
type ModelDefaults struct {
	Temperature     float64 `yaml:"temperature"`
	MaxOutputLength int     `yaml:"max_output_length"`
}

// AgentProfile is an identity + default tactics bundle referenced by goals.
type AgentProfile struct {
	ID             string        `yaml:"id"`
	Identity       string        `yaml:"identity"`
	DefaultTactics []string      `yaml:"default_tactics"`
	Model          ModelDefaults `yaml:"model"`
}

// Tactic is a named, free-form prompt fragment.
type Tactic struct {
	Name string `yaml:"name"`
	Text string `yaml:"text"`
}

// BranchRuleDoc is the YAML shape of one branching rule; Condition is
// normalized by condition.go into the tagged transition.Condition variant.
type BranchRuleDoc struct {
	Priority   int          `yaml:"priority"`
	Condition  ConditionDoc `yaml:"condition"`
	NextGoalID string       `yaml:"next_goal_id"`
}

// TerminationStep is one pseudo-chunk step of a goal's termination
// sequence.
type TerminationStep struct {
	Kind string `yaml:"kind"` // "say" | "call_tool"
	Text string `yaml:"text,omitempty"`
	Tool string `yaml:"tool,omitempty"`
}

// GoalDoc is the YAML shape of one goal.
type GoalDoc struct {
	ID              string            `yaml:"id"`
	Description     string            `yaml:"description"`
	AgentProfile    string            `yaml:"agent_profile"`
	Tools           []string          `yaml:"tools"`
	Tactics         []string          `yaml:"tactics"`
	SuccessCriteria []string          `yaml:"success_criteria"`
	MaxTurns        int               `yaml:"max_turns"`
	Rules           []BranchRuleDoc   `yaml:"rules"`
	Termination     []TerminationStep `yaml:"termination,omitempty"`
	Terminal        bool              `yaml:"terminal"`
	Initial         bool              `yaml:"initial"`
}

// ToolMappingDoc declares a tool's result-to-memory mappings in YAML.
type ToolMappingDoc struct {
	Tool     string `yaml:"tool"`
	Mappings []struct {
		ResultPath string `yaml:"result_path"`
		MemoryPath string `yaml:"memory_path"`
		Append     bool   `yaml:"append"`
	} `yaml:"mappings"`
	Enrich []struct {
		ArgField    string   `yaml:"arg_field"`
		MemoryPaths []string `yaml:"memory_paths"`
		Template    string   `yaml:"template"`
	} `yaml:"enrich"`
}

// document is the root YAML shape.
type document struct {
	Version       string           `yaml:"version"`
	InitialGoal   string           `yaml:"initial_goal"`
	AgentProfiles []AgentProfile   `yaml:"agent_profiles"`
	Tactics       []Tactic         `yaml:"tactics"`
	Goals         []GoalDoc        `yaml:"goals"`
	ToolMappings  []ToolMappingDoc `yaml:"tool_mappings"`
	DeferredTools []string         `yaml:"deferred_tools"`
	Limits        struct {
		MaxToolsPerTurn     int     `yaml:"max_tools_per_turn"`
		TurnTimeoutSec      int     `yaml:"turn_timeout_seconds"`
		ToolHardTimeoutSec  int     `yaml:"tool_hard_timeout_seconds"`
		SentenceMaxChars    int     `yaml:"sentence_max_chars"`
		HistoryWindow       int     `yaml:"history_window"`
		SummarizeAfterTurns int     `yaml:"summarize_after_turns"`
		SemanticConfidence  float64 `yaml:"semantic_confidence"`
		VoiceID             string  `yaml:"voice_id"`
	} `yaml:"limits"`
}

// Goal is the validated, process-wide-immutable runtime form of GoalDoc.
type Goal struct {
	ID              string
	Description     string
	AgentProfile    string
	Tools           []string
	Tactics         []string
	SuccessCriteria []string
	MaxTurns        int
	Rules           []transition.Rule
	Termination     []TerminationStep
	Terminal        bool
	Initial         bool
}

// Limits carries the tunable per-turn and pipeline caps.
type Limits struct {
	MaxToolsPerTurn     int
	TurnTimeout         int // seconds
	ToolHardTimeout     int // seconds
	SentenceMaxChars    int // voice pipeline sentence-flush threshold
	HistoryWindow       int // exchanges included in the prompt
	SummarizeAfterTurns int // 0 disables history summarization
	SemanticConfidence  float64
	VoiceID             string
}

// Graph is the immutable in-memory configuration graph returned by Load.
type Graph struct {
	Version       string
	Goals         map[string]Goal
	InitialGoal   string
	AgentProfiles map[string]AgentProfile
	Tactics       map[string]string
	ToolMappings  map[string][]tools.ResultMapping
	ToolEnrich    map[string][]tools.EnrichmentRule
	DeferredTools map[string]bool
	Limits        Limits
}

const (
	defaultMaxToolsPerTurn    = 5
	defaultTurnTimeoutSec     = 30
	defaultToolHardTimeoutSec = 15
	defaultSentenceMaxChars   = 100
	defaultHistoryWindow      = 10
	defaultSemanticConfidence = 0.7
)

// Load parses, defaults, and validates a configuration document, returning
// errs.KindConfigInvalid on any violation.
func Load(data []byte) (*Graph, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.KindConfigInvalid, "parse config document", err)
	}
	applyDefaults(&doc)
	return build(doc)
}

func applyDefaults(doc *document) {
	if doc.Limits.MaxToolsPerTurn <= 0 {
		doc.Limits.MaxToolsPerTurn = defaultMaxToolsPerTurn
	}
	if doc.Limits.TurnTimeoutSec <= 0 {
		doc.Limits.TurnTimeoutSec = defaultTurnTimeoutSec
	}
	if doc.Limits.ToolHardTimeoutSec <= 0 {
		doc.Limits.ToolHardTimeoutSec = defaultToolHardTimeoutSec
	}
	if doc.Limits.SentenceMaxChars <= 0 {
		doc.Limits.SentenceMaxChars = defaultSentenceMaxChars
	}
	if doc.Limits.HistoryWindow <= 0 {
		doc.Limits.HistoryWindow = defaultHistoryWindow
	}
	if doc.Limits.SemanticConfidence <= 0 {
		doc.Limits.SemanticConfidence = defaultSemanticConfidence
	}
}

func build(doc document) (*Graph, error) {
	profiles := make(map[string]AgentProfile, len(doc.AgentProfiles))
	for _, p := range doc.AgentProfiles {
		profiles[p.ID] = p
	}
	tactics := make(map[string]string, len(doc.Tactics))
	for _, t := range doc.Tactics {
		tactics[t.Name] = t.Text
	}
	deferred := make(map[string]bool, len(doc.DeferredTools))
	for _, n := range doc.DeferredTools {
		deferred[n] = true
	}

	goals := make(map[string]Goal, len(doc.Goals))
	initial := ""
	for _, g := range doc.Goals {
		if _, ok := profiles[g.AgentProfile]; !ok {
			return nil, errs.New(errs.KindConfigInvalid, fmt.Sprintf("goal %q references unknown agent profile %q", g.ID, g.AgentProfile))
		}
		for _, tn := range g.Tactics {
			if _, ok := tactics[tn]; !ok {
				return nil, errs.New(errs.KindConfigInvalid, fmt.Sprintf("goal %q references unknown tactic %q", g.ID, tn))
			}
		}
		rules := make([]transition.Rule, 0, len(g.Rules))
		for _, rd := range g.Rules {
			cond, err := rd.Condition.toCondition()
			if err != nil {
				return nil, errs.Wrap(errs.KindConfigInvalid, fmt.Sprintf("goal %q rule condition", g.ID), err)
			}
			rules = append(rules, transition.Rule{Priority: rd.Priority, Condition: cond, NextGoalID: rd.NextGoalID})
		}
		if err := transition.ValidatePriorities(rules); err != nil {
			return nil, errs.Wrap(errs.KindConfigInvalid, fmt.Sprintf("goal %q", g.ID), err)
		}
		if g.Initial {
			if initial != "" {
				return nil, errs.New(errs.KindConfigInvalid, "more than one goal marked initial")
			}
			initial = g.ID
		}
		if g.Terminal && len(g.Rules) > 0 {
			return nil, errs.New(errs.KindConfigInvalid, fmt.Sprintf("terminal goal %q must not declare branching rules", g.ID))
		}
		goals[g.ID] = Goal{
			ID: g.ID, Description: g.Description, AgentProfile: g.AgentProfile,
			Tools: g.Tools, Tactics: g.Tactics, SuccessCriteria: g.SuccessCriteria,
			MaxTurns: g.MaxTurns, Rules: rules, Termination: g.Termination,
			Terminal: g.Terminal, Initial: g.Initial,
		}
	}
	// A top-level initial_goal and a per-goal initial flag are both
	// accepted; when both appear they must agree.
	if doc.InitialGoal != "" {
		if _, ok := goals[doc.InitialGoal]; !ok {
			return nil, errs.New(errs.KindConfigInvalid, fmt.Sprintf("initial_goal %q is not a defined goal", doc.InitialGoal))
		}
		if initial != "" && initial != doc.InitialGoal {
			return nil, errs.New(errs.KindConfigInvalid, fmt.Sprintf("initial_goal %q conflicts with goal %q marked initial", doc.InitialGoal, initial))
		}
		initial = doc.InitialGoal
	}
	if initial == "" {
		return nil, errs.New(errs.KindConfigInvalid, "exactly one goal must be marked initial")
	}
	for _, g := range goals {
		for _, r := range g.Rules {
			if r.NextGoalID == "" {
				continue
			}
			if _, ok := goals[r.NextGoalID]; !ok {
				return nil, errs.New(errs.KindConfigInvalid, fmt.Sprintf("goal %q rule references unknown next_goal_id %q", g.ID, r.NextGoalID))
			}
		}
		for _, step := range g.Termination {
			if step.Kind == "call_tool" && step.Tool == "" {
				return nil, errs.New(errs.KindConfigInvalid, fmt.Sprintf("goal %q termination step missing tool name", g.ID))
			}
		}
	}

	toolMappings := make(map[string][]tools.ResultMapping, len(doc.ToolMappings))
	toolEnrich := make(map[string][]tools.EnrichmentRule, len(doc.ToolMappings))
	for _, tm := range doc.ToolMappings {
		ms := make([]tools.ResultMapping, 0, len(tm.Mappings))
		for _, m := range tm.Mappings {
			ms = append(ms, tools.ResultMapping{ResultPath: m.ResultPath, MemoryPath: m.MemoryPath, Append: m.Append})
		}
		toolMappings[tm.Tool] = ms
		ers := make([]tools.EnrichmentRule, 0, len(tm.Enrich))
		for _, e := range tm.Enrich {
			ers = append(ers, tools.EnrichmentRule{ArgField: e.ArgField, MemoryPaths: e.MemoryPaths, Template: e.Template})
		}
		if len(ers) > 0 {
			toolEnrich[tm.Tool] = ers
		}
	}

	return &Graph{
		Version: doc.Version,
		Goals:   goals, InitialGoal: initial, AgentProfiles: profiles,
		Tactics: tactics, ToolMappings: toolMappings, ToolEnrich: toolEnrich,
		DeferredTools: deferred,
		Limits: Limits{
			MaxToolsPerTurn:     doc.Limits.MaxToolsPerTurn,
			TurnTimeout:         doc.Limits.TurnTimeoutSec,
			ToolHardTimeout:     doc.Limits.ToolHardTimeoutSec,
			SentenceMaxChars:    doc.Limits.SentenceMaxChars,
			HistoryWindow:       doc.Limits.HistoryWindow,
			SummarizeAfterTurns: doc.Limits.SummarizeAfterTurns,
			SemanticConfidence:  doc.Limits.SemanticConfidence,
			VoiceID:             doc.Limits.VoiceID,
		},
	}, nil
}

// ValidateToolNames checks every tool referenced by a goal against the
// registry's known tools: a referenced name must either be registered at
// startup or flagged as deferred.
func (g *Graph) ValidateToolNames(known func(name string) bool) error {
	for _, goal := range g.Goals {
		for _, tn := range goal.Tools {
			if known(tn) || g.DeferredTools[tn] {
				continue
			}
			return errs.New(errs.KindConfigInvalid, fmt.Sprintf("goal %q references unregistered, non-deferred tool %q", goal.ID, tn))
		}
	}
	return nil
}
