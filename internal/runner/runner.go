// Package runner drives a single agent subprocess through the
// lazy-message protocol described in spec §4.5: it streams
// newline-delimited JSON messages from the agent's stdout via a PTY
// (so output is line-buffered the way an interactive terminal would
// produce it) until the distinguished terminating "result" message,
// classifies the outcome, and reports progress via the notifier and
// tracker comments. Grounded on the teacher's agentctl pty process
// wrapper (creack/pty, pty.StartWithSize) generalized from an
// interactive shell session to a one-shot, message-streaming
// subprocess.
package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/relaydev/agentrelay/internal/notifier"
	"github.com/relaydev/agentrelay/internal/obslog"
	"github.com/relaydev/agentrelay/internal/tracker"
	v1 "github.com/relaydev/agentrelay/pkg/api/v1"
)

// resultMessage is the only agent subprocess message shape the core
// depends on, per spec §6.
type resultMessage struct {
	Type         string   `json:"type"`
	Subtype      string   `json:"subtype"`
	Errors       []string `json:"errors"`
	TotalCostUSD *float64 `json:"total_cost_usd"`
}

// Limits bundles the per-phase caps chosen by the agent manager before
// invoking the runner.
type Limits struct {
	MaxTurns     int
	MaxBudgetUSD float64
}

// Result is what the runner resolves with once the result message has
// been observed.
type Result struct {
	CostUSD   float64
	Success   bool
	ErrorType v1.AgentErrorType
}

// CommandBuilder constructs the subprocess command for a given task
// and phase. Implementations choose the underlying agent binary,
// prompt, and tool allow-list; the runner only needs an *exec.Cmd-like
// launchable, so it is abstracted as a slice of argv plus extra env
// entries to keep the runner package free of any one agent CLI's flag syntax.
type CommandBuilder interface {
	Build(task v1.Task, ph v1.Phase, workingDir, branchName string, limits Limits) (argv []string, env []string)
}

// Runner drives one agent subprocess invocation.
type Runner struct {
	tracker  tracker.Client
	notifier notifier.Notifier
	commands CommandBuilder
	log      *obslog.Logger
}

// New creates a Runner.
func New(trackerClient tracker.Client, n notifier.Notifier, commands CommandBuilder, log *obslog.Logger) *Runner {
	return &Runner{tracker: trackerClient, notifier: n, commands: commands, log: log}
}

// Run drives the agent subprocess for task through to its result
// message, per spec §4.5. ph has already been determined by the
// phase detector. comments is not used: the prompt is built from the
// task, phase, and branch only. The per-phase turn and budget caps are
// supplied by the caller's Limits.
func (r *Runner) Run(ctx context.Context, task v1.Task, ph v1.Phase, workingDir, branchName string, comments []v1.Comment, limits Limits) (Result, error) {
	slug := task.Slug()

	r.notifier.AgentStarted(ctx, slug, task.Title)
	if err := r.tracker.CreateComment(ctx, task.ProjectID, task.IssueID, startingComment(slug, ph)); err != nil {
		r.log.Warn("failed to post starting comment", zap.String("issueId", task.IssueID), zap.Error(err))
	}

	argv, env := r.commands.Build(task, ph, workingDir, branchName, limits)
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("command builder produced an empty argv for %s", slug)
	}

	result, err := r.drive(ctx, argv, env, workingDir)
	if err != nil {
		errText := err.Error()
		r.notifier.AgentErrored(ctx, slug, task.Title, errText)
		if commentErr := r.tracker.CreateComment(ctx, task.ProjectID, task.IssueID, crashComment(errText)); commentErr != nil {
			r.log.Warn("failed to post crash comment", zap.String("issueId", task.IssueID), zap.Error(commentErr))
		}
		return Result{}, err
	}

	if result.Success {
		r.notifier.AgentCompleted(ctx, slug, task.Title)
		if err := r.tracker.CreateComment(ctx, task.ProjectID, task.IssueID, completionComment(slug)); err != nil {
			r.log.Warn("failed to post completion comment", zap.String("issueId", task.IssueID), zap.Error(err))
		}
	} else {
		r.notifier.AgentErrored(ctx, slug, task.Title, string(result.ErrorType))
		if err := r.tracker.CreateComment(ctx, task.ProjectID, task.IssueID, failureComment(slug, result.ErrorType)); err != nil {
			r.log.Warn("failed to post failure comment", zap.String("issueId", task.IssueID), zap.Error(err))
		}
	}

	return result, nil
}

// drive starts the subprocess in a PTY and scans its output
// line-by-line for JSON messages until the terminating result message
// is seen. It returns as soon as that message arrives, per spec
// §4.5's "do not continue iterating" rule, even if the process is
// still exiting.
func (r *Runner) drive(ctx context.Context, argv, env []string, workingDir string) (Result, error) {
	cmd := newCommand(ctx, argv, env, workingDir)

	ptyFile, err := pty.Start(cmd)
	if err != nil {
		return Result{}, fmt.Errorf("start agent subprocess: %w", err)
	}
	defer func() { _ = ptyFile.Close() }()

	scanner := bufio.NewScanner(ptyFile)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var msg resultMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue // non-JSON chatter on the line, not a protocol message
		}
		if msg.Type != "result" {
			continue
		}

		var cost float64
		if msg.TotalCostUSD != nil {
			cost = *msg.TotalCostUSD
		}

		if msg.Subtype == "success" {
			return Result{CostUSD: cost, Success: true}, nil
		}

		return Result{CostUSD: cost, Success: false, ErrorType: classify(msg)}, nil
	}

	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("reading agent subprocess output: %w", err)
	}
	return Result{}, fmt.Errorf("agent subprocess exited without a result message")
}

// classify implements the closed classification in spec §4.5: no
// error list but a non-success subtype means rate_limited; a subtype
// containing "budget" or "turns" maps to the matching terminal type;
// anything else is unknown.
func classify(msg resultMessage) v1.AgentErrorType {
	switch {
	case len(msg.Errors) == 0:
		return v1.ErrorRateLimited
	case strings.Contains(msg.Subtype, "budget"):
		return v1.ErrorBudgetExceeded
	case strings.Contains(msg.Subtype, "turns"):
		return v1.ErrorMaxTurns
	default:
		return v1.ErrorUnknown
	}
}

func startingComment(slug string, ph v1.Phase) string {
	return fmt.Sprintf("<p>Agent started on %s (%s phase).</p>", slug, ph)
}

func completionComment(slug string) string {
	return fmt.Sprintf("<p>Agent completed %s successfully.</p>", slug)
}

func failureComment(slug string, errType v1.AgentErrorType) string {
	return fmt.Sprintf("<p>Agent run for %s failed: %s.</p>", slug, errType)
}

func crashComment(errText string) string {
	return fmt.Sprintf("<p>Agent run crashed: %s</p>", errText)
}
