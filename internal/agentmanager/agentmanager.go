// Package agentmanager implements the agent-lifecycle manager (C8):
// it owns the active-agent set, the daily spend budget, and the
// decision tree that turns a dequeued task into a running agent, and
// a finished agent run into completion, retry, or terminal failure.
// Grounded on the teacher's orchestrator/scheduler package's
// struct-plus-mutex shape, generalized from "dispatch to an external
// agent-manager client" to "own the agent lifecycle directly",
// per spec §4.6.
package agentmanager

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaydev/agentrelay/internal/clock"
	"github.com/relaydev/agentrelay/internal/config"
	"github.com/relaydev/agentrelay/internal/history"
	"github.com/relaydev/agentrelay/internal/notifier"
	"github.com/relaydev/agentrelay/internal/obslog"
	"github.com/relaydev/agentrelay/internal/phase"
	"github.com/relaydev/agentrelay/internal/poller"
	"github.com/relaydev/agentrelay/internal/queue"
	"github.com/relaydev/agentrelay/internal/runner"
	"github.com/relaydev/agentrelay/internal/state"
	"github.com/relaydev/agentrelay/internal/tracker"
	"github.com/relaydev/agentrelay/internal/worktree"
	v1 "github.com/relaydev/agentrelay/pkg/api/v1"
)

// SpawnRejectReason is the closed set of reasons spawnAgent can
// decline to start an agent.
type SpawnRejectReason string

const (
	RejectNoProjectConfig SpawnRejectReason = "no_project_config"
	RejectBudgetExceeded  SpawnRejectReason = "budget_exceeded"
)

// SpawnResult is the outcome of a spawnAgent call.
type SpawnResult struct {
	Started bool
	Reason  SpawnRejectReason
}

// ProjectConfigLookup resolves per-project repo settings and tracker
// ids, satisfied by projectcache.Cache plus internal/config's project
// map.
type ProjectConfigLookup interface {
	RepoConfig(projectIdentifier string) (config.ProjectConfig, bool)
	TodoStateID(projectIdentifier string) (string, bool)
}

// Manager owns activeAgents, the persisted state, and the budget.
type Manager struct {
	tracker  tracker.Client
	notifier notifier.Notifier
	worktree *worktree.Manager
	runner   *runner.Runner
	poller   *poller.Poller
	queue    *queue.Queue
	projects ProjectConfigLookup
	store    *state.Store
	clock    clock.Clock
	history  history.Recorder
	events   EventPublisher
	log      *obslog.Logger
	cfg      config.AgentConfig

	mu             sync.Mutex
	activeAgents   map[string]v1.ActiveAgent
	lastPhase      map[string]v1.Phase
	dailySpendUSD  float64
	dailySpendDate string
}

// retryable is the set of error types eligible for backoff retry, per
// spec §4.6.
func retryable(errType v1.AgentErrorType) bool {
	return errType.Retryable()
}

// EventPublisher forwards lifecycle events to the operational status
// surface (internal/statusapi). Kept as a narrow structural interface
// so this package doesn't need to import statusapi.
type EventPublisher interface {
	Publish(eventType string, payload interface{})
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, interface{}) {}

// New creates a Manager seeded from persisted state.
func New(
	trackerClient tracker.Client,
	n notifier.Notifier,
	wt *worktree.Manager,
	r *runner.Runner,
	p *poller.Poller,
	q *queue.Queue,
	projects ProjectConfigLookup,
	store *state.Store,
	clk clock.Clock,
	hist history.Recorder,
	events EventPublisher,
	log *obslog.Logger,
	cfg config.AgentConfig,
	initial *state.State,
) *Manager {
	if hist == nil {
		hist = history.NoOp{}
	}
	if events == nil {
		events = noopPublisher{}
	}
	return &Manager{
		tracker:        trackerClient,
		notifier:       n,
		worktree:       wt,
		runner:         r,
		poller:         p,
		queue:          q,
		projects:       projects,
		store:          store,
		clock:          clk,
		history:        hist,
		events:         events,
		log:            log,
		cfg:            cfg,
		activeAgents:   initial.ActiveAgents,
		lastPhase:      make(map[string]v1.Phase),
		dailySpendUSD:  initial.DailySpendUSD,
		dailySpendDate: initial.DailySpendDate,
	}
}

func todayUTC(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// budgetCheck resets the daily counter on a date rollover, then
// admits iff dailySpendUsd + maxBudgetPerTask <= maxDailyBudget. Must
// be called with mu held.
func (m *Manager) budgetCheckLocked() bool {
	today := todayUTC(m.clock.Now())
	if m.dailySpendDate != today {
		m.dailySpendUSD = 0
		m.dailySpendDate = today
	}
	return m.dailySpendUSD+m.cfg.MaxBudgetPerTask <= m.cfg.MaxDailyBudget
}

// persistLocked snapshots manager state into the store. Must be
// called with mu held.
func (m *Manager) persistLocked() {
	snapshot := &state.State{
		ActiveAgents:   copyActiveAgents(m.activeAgents),
		DailySpendUSD:  m.dailySpendUSD,
		DailySpendDate: m.dailySpendDate,
		QueuedTasks:    m.queue.ToJSON(),
	}
	if err := m.store.Save(snapshot); err != nil {
		m.log.Error("failed to persist state", zap.Error(err))
	}
}

func copyActiveAgents(in map[string]v1.ActiveAgent) map[string]v1.ActiveAgent {
	out := make(map[string]v1.ActiveAgent, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// SpawnAgent implements spec §4.6's decision tree. It returns quickly
// (the runner is launched without being awaited); completion is
// handled by a continuation that updates manager state when the
// runner resolves.
func (m *Manager) SpawnAgent(ctx context.Context, task v1.Task, retryCount int) SpawnResult {
	// The caller (orchestrator processing tick) is responsible for
	// releasing the lease and resetting the tracker state to todo on
	// this rejection, per spec §4.6/§4.7 — not this method.
	repoCfg, ok := m.projects.RepoConfig(task.ProjectIdentifier)
	if !ok {
		return SpawnResult{Reason: RejectNoProjectConfig}
	}

	m.mu.Lock()
	admitted := m.budgetCheckLocked()
	m.mu.Unlock()
	if !admitted {
		m.notifier.AgentErrored(ctx, task.Slug(), task.Title, "Budget limit reached for today")
		m.poller.ReleaseTask(task.IssueID)
		return SpawnResult{Reason: RejectBudgetExceeded}
	}

	trackerComments, err := m.tracker.ListComments(ctx, task.ProjectID, task.IssueID)
	if err != nil {
		m.log.Warn("failed to list comments, assuming planning phase", zap.String("issueId", task.IssueID), zap.Error(err))
	}
	comments := make([]v1.Comment, len(trackerComments))
	for i, c := range trackerComments {
		comments[i] = v1.Comment{ID: c.ID, HTML: c.CommentHTML}
	}
	ph := phase.Detect(comments)

	// lastPhase survives across the activeAgents entry being cleared on
	// finish/retry, so a resumed task (e.g. planning completed, task
	// re-discovered for implementation) still has something to diff
	// the freshly detected phase against.
	m.mu.Lock()
	previous, hadPrevious := m.lastPhase[task.IssueID]
	m.lastPhase[task.IssueID] = ph
	m.mu.Unlock()
	if hadPrevious && previous != ph {
		m.history.Record(ctx, history.Event{
			IssueID: task.IssueID, ProjectIdentifier: task.ProjectIdentifier, SequenceID: task.SequenceID,
			Type: history.EventPhaseTransition, Phase: ph, RetryCount: retryCount,
			Detail: string(previous) + " -> " + string(ph),
		})
	}

	var workingDir, branchName string
	if ph == v1.PhasePlanning {
		workingDir = repoCfg.RepoPath
	} else {
		// A first attempt needs a fresh worktree and fails if the branch or
		// directory already exists; a retry resumes what the previous
		// attempt left in place.
		createWorktree := m.worktree.CreateWorktree
		if retryCount > 0 {
			createWorktree = m.worktree.GetOrCreateWorktree
		}
		info, err := createWorktree(ctx, repoCfg.RepoPath, task.Slug(), repoCfg.DefaultBranch)
		if err != nil {
			m.notifier.AgentErrored(ctx, task.Slug(), task.Title, err.Error())
			m.poller.ReleaseTask(task.IssueID)
			return SpawnResult{Started: false}
		}
		workingDir = info.WorktreePath
		branchName = info.BranchName
	}

	active := v1.ActiveAgent{
		Task:         task,
		Phase:        ph,
		WorktreePath: workingDir,
		BranchName:   branchName,
		StartedAt:    m.clock.Now(),
		Status:       v1.AgentStatusRunning,
		RetryCount:   retryCount,
	}

	m.mu.Lock()
	m.activeAgents[task.IssueID] = active
	m.persistLocked()
	m.mu.Unlock()

	m.history.Record(ctx, history.Event{
		IssueID: task.IssueID, ProjectIdentifier: task.ProjectIdentifier, SequenceID: task.SequenceID,
		Type: history.EventSpawned, Phase: ph, RetryCount: retryCount,
	})

	limits := runner.Limits{MaxTurns: m.cfg.MaxTurns, MaxBudgetUSD: m.cfg.MaxBudgetPerTask}
	if ph == v1.PhasePlanning {
		limits = runner.Limits{MaxTurns: planningMaxTurns, MaxBudgetUSD: planningMaxBudgetUSD}
	}

	go m.runAndHandle(ctx, task, ph, workingDir, branchName, comments, limits, retryCount, repoCfg)

	return SpawnResult{Started: true}
}

const (
	planningMaxTurns     = 15
	planningMaxBudgetUSD = 0.50
)

// runAndHandle launches the runner and, on completion, applies the
// retry-vs-terminal decision tree from spec §4.6/§7.
func (m *Manager) runAndHandle(
	ctx context.Context,
	task v1.Task,
	ph v1.Phase,
	workingDir, branchName string,
	comments []v1.Comment,
	limits runner.Limits,
	retryCount int,
	repoCfg config.ProjectConfig,
) {
	result, err := m.runner.Run(ctx, task, ph, workingDir, branchName, comments, limits)

	m.mu.Lock()
	m.dailySpendUSD += result.CostUSD
	spend := m.dailySpendUSD
	m.mu.Unlock()
	m.events.Publish("budget_updated", map[string]interface{}{"dailySpendUsd": spend, "dailyBudgetUsd": m.cfg.MaxDailyBudget})

	if err != nil {
		// A crash is treated the same as an unknown, retryable error
		// (spec §4.6: "same retry branch if within limits").
		m.handleOutcome(ctx, task, ph, repoCfg, retryCount, false, v1.ErrorUnknown)
		return
	}

	if result.Success {
		m.handleOutcome(ctx, task, ph, repoCfg, retryCount, true, "")
		return
	}

	m.handleOutcome(ctx, task, ph, repoCfg, retryCount, false, result.ErrorType)
}

func (m *Manager) handleOutcome(
	ctx context.Context,
	task v1.Task,
	ph v1.Phase,
	repoCfg config.ProjectConfig,
	retryCount int,
	success bool,
	errType v1.AgentErrorType,
) {
	if success {
		m.finish(ctx, task, ph, repoCfg, v1.AgentStatusCompleted)
		return
	}

	if retryable(errType) && retryCount < m.cfg.MaxRetries {
		m.retry(ctx, task, retryCount)
		return
	}

	m.finish(ctx, task, ph, repoCfg, v1.AgentStatusErrored)
}

// retry implements spec §4.6's retry branch: compute the next delay,
// reset the tracker state to todo (best-effort), drop the active
// entry, release the lease, and requeue at retryCount+1.
func (m *Manager) retry(ctx context.Context, task v1.Task, retryCount int) {
	delay := time.Duration(math.Round(float64(m.cfg.RetryBaseDelay()) * math.Pow(2, float64(retryCount))))
	m.notifier.AgentErrored(ctx, task.Slug(), task.Title, "retrying in "+delay.String())

	m.history.Record(ctx, history.Event{
		IssueID: task.IssueID, ProjectIdentifier: task.ProjectIdentifier, SequenceID: task.SequenceID,
		Type: history.EventRetried, RetryCount: retryCount + 1, Detail: "backoff " + delay.String(),
	})

	m.ResetTrackerToTodo(ctx, task)

	m.mu.Lock()
	delete(m.activeAgents, task.IssueID)
	m.persistLocked()
	m.mu.Unlock()

	m.poller.ReleaseTask(task.IssueID)
	m.queue.Requeue(task, retryCount+1)

	m.mu.Lock()
	m.persistLocked()
	m.mu.Unlock()

	// Worktree (if any, for implementation phase) is intentionally left
	// in place on retry; it aids inspection and resume per spec §4.6.
}

// finish handles both success and non-retryable (or retry-exhausted)
// failure: mark status, persist, clean up the worktree for
// implementation-phase runs only, then drop and release.
func (m *Manager) finish(ctx context.Context, task v1.Task, ph v1.Phase, repoCfg config.ProjectConfig, status v1.AgentStatus) {
	eventType := history.EventCompleted
	if status == v1.AgentStatusErrored {
		eventType = history.EventAbandoned
	}
	m.history.Record(ctx, history.Event{
		IssueID: task.IssueID, ProjectIdentifier: task.ProjectIdentifier, SequenceID: task.SequenceID,
		Type: eventType, Phase: ph,
	})

	m.mu.Lock()
	if active, ok := m.activeAgents[task.IssueID]; ok {
		active.Status = status
		m.activeAgents[task.IssueID] = active
	}
	m.persistLocked()
	m.mu.Unlock()

	if ph == v1.PhaseImplementation {
		m.worktree.RemoveWorktree(ctx, repoCfg.RepoPath, task.Slug())
	}

	m.mu.Lock()
	delete(m.activeAgents, task.IssueID)
	// A completed implementation run or any errored run ends the task's
	// lifecycle in this manager; a completed planning run still has an
	// implementation phase ahead, so its lastPhase entry is kept so the
	// next spawn can detect that transition.
	if status == v1.AgentStatusErrored || ph == v1.PhaseImplementation {
		delete(m.lastPhase, task.IssueID)
	}
	m.persistLocked()
	m.mu.Unlock()

	m.poller.ReleaseTask(task.IssueID)
	m.events.Publish("agent_finished", map[string]interface{}{"issueId": task.IssueID, "status": string(status)})
}

// ResetTrackerToTodo PATCHes the tracker's state for task back to
// todo. Exposed so the orchestrator can invoke it directly for
// rejections it is itself responsible for (no_project_config) and for
// orphan recovery at startup.
func (m *Manager) ResetTrackerToTodo(ctx context.Context, task v1.Task) {
	todoStateID, ok := m.projects.TodoStateID(task.ProjectIdentifier)
	if !ok {
		return
	}
	if err := m.tracker.UpdateIssue(ctx, task.ProjectID, task.IssueID, tracker.IssueUpdate{State: todoStateID}); err != nil {
		m.log.Warn("failed to reset tracker state to todo", zap.String("issueId", task.IssueID), zap.Error(err))
	}
}

// RecoverOrphans implements spec §4.7 step 4: every persisted active
// agent whose status was running or blocked is re-enqueued at
// retryCount=0, and the tracker state for that issue is reset to
// todo (errors logged, not fatal). Must run before the discovery and
// processing timers start.
func (m *Manager) RecoverOrphans(ctx context.Context) {
	m.mu.Lock()
	var orphans []v1.Task
	for issueID, active := range m.activeAgents {
		if active.Status == v1.AgentStatusRunning || active.Status == v1.AgentStatusBlocked {
			orphans = append(orphans, active.Task)
			delete(m.activeAgents, issueID)
		}
	}
	m.persistLocked()
	m.mu.Unlock()

	for _, task := range orphans {
		m.queue.Enqueue(task)
		m.ResetTrackerToTodo(ctx, task)
		m.log.Info("recovered orphaned active agent", zap.String("issueId", task.IssueID))
	}

	m.mu.Lock()
	m.persistLocked()
	m.mu.Unlock()
}

// CheckStaleAgents alerts once per running agent that has exceeded
// the stale threshold.
func (m *Manager) CheckStaleAgents(ctx context.Context, staleThreshold time.Duration) {
	now := m.clock.Now()

	m.mu.Lock()
	var toAlert []v1.Task
	for issueID, active := range m.activeAgents {
		if active.Status != v1.AgentStatusRunning || active.AlertedStale {
			continue
		}
		if now.Sub(active.StartedAt) <= staleThreshold {
			continue
		}
		active.AlertedStale = true
		m.activeAgents[issueID] = active
		toAlert = append(toAlert, active.Task)
	}
	if len(toAlert) > 0 {
		m.persistLocked()
	}
	m.mu.Unlock()

	for _, task := range toAlert {
		m.notifier.AgentErrored(ctx, task.Slug(), task.Title, "Stale agent: still running past the stale threshold")
	}
}

// ActiveCount returns the number of currently active agents.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activeAgents)
}

// IsTaskActive reports whether issueID has an active agent.
func (m *Manager) IsTaskActive(issueID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.activeAgents[issueID]
	return ok
}

// GetActiveAgents returns a snapshot of all active agents.
func (m *Manager) GetActiveAgents() map[string]v1.ActiveAgent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyActiveAgents(m.activeAgents)
}

// GetDailySpend returns today's accumulated spend.
func (m *Manager) GetDailySpend() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailySpendUSD
}

// GetDailyBudget returns the configured daily budget cap.
func (m *Manager) GetDailyBudget() float64 {
	return m.cfg.MaxDailyBudget
}
