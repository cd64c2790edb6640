package config

import (
	"testing"

	"github.com/fieldservice/concierge/internal/errs"
	"github.com/stretchr/testify/require"
)

const minimalDoc = `
agent_profiles:
  - id: default
    identity: "You are a helpful field-service concierge."
tactics:
  - name: empathize
    text: "Acknowledge the customer's frustration before proceeding."
goals:
  - id: intake
    description: "Collect customer identity"
    agent_profile: default
    tools: [lookup_customer]
    tactics: [empathize]
    success_criteria: [customer.name]
    max_turns: 5
    initial: true
    rules:
      - priority: 10
        condition: { path: customer.name, op: is_set }
        next_goal_id: scheduling
  - id: scheduling
    description: "Schedule a visit"
    agent_profile: default
    tools: [schedule_visit]
    terminal: true
tool_mappings:
  - tool: lookup_customer
    mappings:
      - result_path: name
        memory_path: customer.name
`

func TestLoadMinimalDocument(t *testing.T) {
	g, err := Load([]byte(minimalDoc))
	require.NoError(t, err)
	require.Equal(t, "intake", g.InitialGoal)
	require.Len(t, g.Goals, 2)
	require.Equal(t, defaultMaxToolsPerTurn, g.Limits.MaxToolsPerTurn)
	require.Equal(t, defaultTurnTimeoutSec, g.Limits.TurnTimeout)
}

func TestLoadRejectsUnknownAgentProfile(t *testing.T) {
	_, err := Load([]byte(`
goals:
  - id: intake
    agent_profile: ghost
    initial: true
`))
	requireConfigInvalid(t, err)
}

func TestLoadRejectsUnknownNextGoal(t *testing.T) {
	_, err := Load([]byte(`
agent_profiles:
  - id: default
goals:
  - id: intake
    agent_profile: default
    initial: true
    rules:
      - priority: 1
        condition: { path: customer.name, op: is_set }
        next_goal_id: nonexistent
`))
	requireConfigInvalid(t, err)
}

func TestLoadRejectsMultipleInitialGoals(t *testing.T) {
	_, err := Load([]byte(`
agent_profiles:
  - id: default
goals:
  - id: a
    agent_profile: default
    initial: true
  - id: b
    agent_profile: default
    initial: true
`))
	requireConfigInvalid(t, err)
}

func TestLoadRejectsNoInitialGoal(t *testing.T) {
	_, err := Load([]byte(`
agent_profiles:
  - id: default
goals:
  - id: a
    agent_profile: default
`))
	requireConfigInvalid(t, err)
}

func TestLoadAcceptsTopLevelInitialGoal(t *testing.T) {
	g, err := Load([]byte(`
initial_goal: intake
agent_profiles:
  - id: default
goals:
  - id: intake
    agent_profile: default
`))
	require.NoError(t, err)
	require.Equal(t, "intake", g.InitialGoal)
}

func TestLoadRejectsConflictingInitialGoal(t *testing.T) {
	_, err := Load([]byte(`
initial_goal: a
agent_profiles:
  - id: default
goals:
  - id: a
    agent_profile: default
  - id: b
    agent_profile: default
    initial: true
`))
	requireConfigInvalid(t, err)
}

func TestLoadRejectsTerminalGoalWithRules(t *testing.T) {
	_, err := Load([]byte(`
agent_profiles:
  - id: default
goals:
  - id: a
    agent_profile: default
    initial: true
  - id: b
    agent_profile: default
    terminal: true
    rules:
      - priority: 1
        condition: { path: customer.name, op: is_set }
        next_goal_id: a
`))
	requireConfigInvalid(t, err)
}

func TestLoadRejectsDuplicateRulePriorities(t *testing.T) {
	_, err := Load([]byte(`
agent_profiles:
  - id: default
goals:
  - id: a
    agent_profile: default
    initial: true
    rules:
      - priority: 1
        condition: { text: "is the customer happy?" }
        next_goal_id: a
      - priority: 1
        condition: { text: "is the customer unhappy?" }
        next_goal_id: a
`))
	requireConfigInvalid(t, err)
}

func TestValidateToolNamesAllowsDeferred(t *testing.T) {
	g, err := Load([]byte(`
agent_profiles:
  - id: default
goals:
  - id: a
    agent_profile: default
    initial: true
    tools: [future_tool]
deferred_tools: [future_tool]
`))
	require.NoError(t, err)
	err = g.ValidateToolNames(func(string) bool { return false })
	require.NoError(t, err)
}

func TestValidateToolNamesRejectsUnknownNonDeferred(t *testing.T) {
	g, err := Load([]byte(`
agent_profiles:
  - id: default
goals:
  - id: a
    agent_profile: default
    initial: true
    tools: [mystery_tool]
`))
	require.NoError(t, err)
	err = g.ValidateToolNames(func(string) bool { return false })
	requireConfigInvalid(t, err)
}

func requireConfigInvalid(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.KindConfigInvalid, kind)
}
