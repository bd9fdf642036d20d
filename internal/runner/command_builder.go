package runner

import (
	"fmt"
	"strconv"

	v1 "github.com/relaydev/agentrelay/pkg/api/v1"
)

// readOnlyTools and writeTools are the phase tool allow-lists from
// spec §4.5: planning may only read and search; implementation may
// read, write, commit, push, and run CI.
var (
	readOnlyTools = []string{"read_file", "search", "list_dir"}
	writeTools    = []string{"read_file", "search", "list_dir", "write_file", "run_command", "git_commit", "git_push", "run_ci"}
)

// DefaultCommandBuilder builds the agentrelay-driven agent subprocess
// invocation: a single binary (the configured LLM agent CLI) run
// non-interactively with a phase-specific prompt, tool allow-list, and
// turn/budget limits passed as flags, mirroring the teacher's
// agents.CmdBuilder fluent flag-assembly style but collapsed into one
// function since agentrelay drives exactly one agent CLI rather than a
// family of them.
type DefaultCommandBuilder struct {
	AgentBinary string
}

var _ CommandBuilder = DefaultCommandBuilder{}

func (b DefaultCommandBuilder) Build(task v1.Task, ph v1.Phase, workingDir, branchName string, limits Limits) ([]string, []string) {
	tools := readOnlyTools
	if ph == v1.PhaseImplementation {
		tools = writeTools
	}

	argv := []string{
		b.AgentBinary,
		"--output-format", "stream-json",
		"--max-turns", strconv.Itoa(limits.MaxTurns),
		"--max-budget-usd", fmt.Sprintf("%.2f", limits.MaxBudgetUSD),
		"--prompt", buildPrompt(task, ph, branchName),
	}
	for _, tool := range tools {
		argv = append(argv, "--allow-tool", tool)
	}

	env := []string{
		"AGENTRELAY_TASK_SLUG=" + task.Slug(),
		"AGENTRELAY_WORKING_DIR=" + workingDir,
	}
	if branchName != "" {
		env = append(env, "AGENTRELAY_BRANCH="+branchName)
	}

	return argv, env
}

func buildPrompt(task v1.Task, ph v1.Phase, branchName string) string {
	if ph == v1.PhasePlanning {
		return fmt.Sprintf(
			"Investigate issue %s: %s\n\n%s\n\nProduce a plan as a comment. "+
				"The plan comment must contain the exact marker %s so the orchestrator "+
				"recognizes it as posted. Make no code changes.",
			task.Slug(), task.Title, task.DescriptionHTML, "<!-- AGENT_PLAN -->",
		)
	}
	return fmt.Sprintf(
		"Implement issue %s: %s on branch %s. Follow the previously posted plan. "+
			"Commit your changes and push the branch, then open or update a pull request.",
		task.Slug(), task.Title, branchName,
	)
}
