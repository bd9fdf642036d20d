package runner

import (
	"testing"

	"github.com/stretchr/testify/require"

	v1 "github.com/relaydev/agentrelay/pkg/api/v1"
)

func TestBuildUsesReadOnlyToolsForPlanning(t *testing.T) {
	b := DefaultCommandBuilder{AgentBinary: "agent"}
	task := v1.Task{IssueID: "iss-1", ProjectIdentifier: "ENG", SequenceID: 1, Title: "Fix the thing"}

	argv, env := b.Build(task, v1.PhasePlanning, "/repo", "", Limits{MaxTurns: 5, MaxBudgetUSD: 1.5})

	require.Equal(t, "agent", argv[0])
	require.Contains(t, argv, "--allow-tool")
	require.NotContains(t, argv, "write_file")
	require.Contains(t, argv, "read_file")
	require.Contains(t, env, "AGENTRELAY_TASK_SLUG=ENG-1")
	require.NotContains(t, joinedEnv(env), "AGENTRELAY_BRANCH=")
}

func TestBuildUsesWriteToolsForImplementation(t *testing.T) {
	b := DefaultCommandBuilder{AgentBinary: "agent"}
	task := v1.Task{IssueID: "iss-1", ProjectIdentifier: "ENG", SequenceID: 1, Title: "Fix the thing"}

	argv, env := b.Build(task, v1.PhaseImplementation, "/repo/.worktrees/eng-1", "agentrelay/eng-1", Limits{MaxTurns: 20, MaxBudgetUSD: 5})

	require.Contains(t, argv, "write_file")
	require.Contains(t, argv, "git_commit")
	require.Contains(t, env, "AGENTRELAY_BRANCH=agentrelay/eng-1")
}

func TestBuildPassesTurnsAndBudgetFlags(t *testing.T) {
	b := DefaultCommandBuilder{AgentBinary: "agent"}
	task := v1.Task{IssueID: "iss-1"}

	argv, _ := b.Build(task, v1.PhaseImplementation, "/repo", "branch", Limits{MaxTurns: 42, MaxBudgetUSD: 3.25})

	require.Contains(t, argv, "42")
	require.Contains(t, argv, "3.25")
}

func TestBuildPlanningPromptIncludesMarker(t *testing.T) {
	prompt := buildPrompt(v1.Task{IssueID: "iss-1", Title: "Fix"}, v1.PhasePlanning, "")
	require.Contains(t, prompt, "<!-- AGENT_PLAN -->")
}

func TestBuildImplementationPromptIncludesBranch(t *testing.T) {
	prompt := buildPrompt(v1.Task{IssueID: "iss-1", Title: "Fix"}, v1.PhaseImplementation, "agentrelay/eng-1")
	require.Contains(t, prompt, "agentrelay/eng-1")
}

func joinedEnv(env []string) string {
	out := ""
	for _, e := range env {
		out += e + "\n"
	}
	return out
}
