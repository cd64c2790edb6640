package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fieldservice/concierge/internal/config"
	"github.com/fieldservice/concierge/internal/model"
	"github.com/fieldservice/concierge/internal/session"
	"github.com/fieldservice/concierge/internal/tools"
)

// Exchange is one (role, text) conversational turn, the agent-package
// mirror of session.HistoryEntry trimmed to what the prompt needs.
type Exchange struct {
	Role string
	Text string
}

// Request bundles everything the turn loop needs to build a system prompt
// and run one turn for a goal.
type Request struct {
	SessionID        string
	Goal             config.Goal
	Profile          config.AgentProfile
	TacticTexts      []string
	MemoryProjection map[string]any
	RecentExchanges  []Exchange
	UserInput        string
	ToolSchemas      []tools.Schema
	MaxTools         int
	TurnTimeoutSec   int
	// ToolHardTimeoutSec bounds how long a cancellation-ignoring tool
	// handler is waited on after the turn context ends.
	ToolHardTimeoutSec int
}

// ExchangesFromHistory trims history to the last n entries and converts
// them to Exchanges.
func ExchangesFromHistory(history []session.HistoryEntry, n int) []Exchange {
	if n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]Exchange, len(history))
	for i, h := range history {
		out[i] = Exchange{Role: h.Role, Text: h.Text}
	}
	return out
}

// buildSystemPrompt assembles the system prompt from the agent profile
// identity, goal description and success criteria, tactics, and a compact
// memory projection.
func buildSystemPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n\n", req.Profile.Identity)
	fmt.Fprintf(&b, "Current goal: %s\n%s\n\n", req.Goal.ID, req.Goal.Description)

	if len(req.Goal.SuccessCriteria) > 0 {
		b.WriteString("This goal is complete once the following memory facts are known:\n")
		for _, p := range req.Goal.SuccessCriteria {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}

	if len(req.TacticTexts) > 0 {
		b.WriteString("Follow these conversation tactics:\n")
		for _, t := range req.TacticTexts {
			fmt.Fprintf(&b, "- %s\n", t)
		}
		b.WriteString("\n")
	}

	if len(req.MemoryProjection) > 0 {
		proj, _ := json.Marshal(req.MemoryProjection)
		fmt.Fprintf(&b, "Known facts about this conversation so far:\n%s\n\n", string(proj))
	}

	b.WriteString("Use the available tools to look up or record information; never fabricate a record you have not retrieved or created through a tool call.")
	return b.String()
}

// buildMessages converts recent history and the new user input into the
// model message list, in order, with the new input appended last.
func buildMessages(req Request) []model.Message {
	msgs := make([]model.Message, 0, len(req.RecentExchanges)+1)
	for _, ex := range req.RecentExchanges {
		role := model.RoleUser
		if ex.Role == "assistant" {
			role = model.RoleAssistant
		}
		msgs = append(msgs, model.Message{Role: role, Text: ex.Text})
	}
	msgs = append(msgs, model.Message{Role: model.RoleUser, Text: req.UserInput})
	return msgs
}

// toolDefinitions converts the allowed tool schemas into the provider-
// agnostic ToolDefinition shape, synthesizing a JSON Schema object from the
// typed FieldSchema list.
func toolDefinitions(schemas []tools.Schema) []model.ToolDefinition {
	out := make([]model.ToolDefinition, 0, len(schemas))
	for _, s := range schemas {
		props := make(map[string]any, len(s.Fields))
		var required []string
		for _, f := range s.Fields {
			props[f.Name] = map[string]any{
				"type":        jsonSchemaType(f.Type),
				"description": f.Description,
			}
			if f.Required {
				required = append(required, f.Name)
			}
		}
		schema := map[string]any{
			"type":       "object",
			"properties": props,
		}
		if len(required) > 0 {
			schema["required"] = required
		}
		out = append(out, model.ToolDefinition{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: schema,
		})
	}
	return out
}

func jsonSchemaType(k tools.ValueKind) string {
	switch k {
	case tools.KindString:
		return "string"
	case tools.KindNumber:
		return "number"
	case tools.KindBool:
		return "boolean"
	case tools.KindArray:
		return "array"
	case tools.KindObject:
		return "object"
	default:
		return "string"
	}
}
