// Package v1 holds the wire-level types shared across agentrelay's
// internal packages: the task record carried from discovery through
// spawn, the phases an agent execution moves through, and the closed
// set of outcomes an agent run can report.
package v1

import (
	"strconv"
	"time"
)

// Phase identifies which stage of the two-phase lifecycle a task is in.
type Phase string

const (
	PhasePlanning       Phase = "planning"
	PhaseImplementation Phase = "implementation"
)

// AgentStatus is the lifecycle status of an active agent.
type AgentStatus string

const (
	AgentStatusRunning   AgentStatus = "running"
	AgentStatusBlocked   AgentStatus = "blocked"
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusErrored   AgentStatus = "errored"
)

// AgentErrorType is the closed set of ways an agent run can fail.
// Classification happens once, in the runner, from the result message's
// subtype; everything downstream switches on this type rather than on
// strings.
type AgentErrorType string

const (
	ErrorRateLimited    AgentErrorType = "rate_limited"
	ErrorBudgetExceeded AgentErrorType = "budget_exceeded"
	ErrorMaxTurns       AgentErrorType = "max_turns"
	ErrorUnknown        AgentErrorType = "unknown"
)

// Retryable reports whether this error type is eligible for backoff retry.
// rate_limited and unknown are retryable; budget_exceeded and max_turns
// are terminal failures surfaced to the human operator instead.
func (e AgentErrorType) Retryable() bool {
	return e == ErrorRateLimited || e == ErrorUnknown
}

// Task is the immutable record carried through the queue and into a
// spawned agent. It is constructed once, at discovery time, from a
// tracker issue.
type Task struct {
	IssueID           string   `json:"issueId"`
	ProjectID         string   `json:"projectId"`
	ProjectIdentifier string   `json:"projectIdentifier"`
	SequenceID        int      `json:"sequenceId"`
	Title             string   `json:"title"`
	DescriptionHTML   string   `json:"descriptionHtml"`
	StateID           string   `json:"stateId"`
	LabelIDs          []string `json:"labelIds"`
}

// Slug returns the task's human-readable display form, "<PROJECT>-<seq>".
func (t Task) Slug() string {
	return t.ProjectIdentifier + "-" + strconv.Itoa(t.SequenceID)
}

// QueueEntry is a task waiting in the ready queue.
type QueueEntry struct {
	Task          Task      `json:"task"`
	RetryCount    int       `json:"retryCount"`
	NextAttemptAt time.Time `json:"nextAttemptAt"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
}

// ActiveAgent is a task currently being driven by an agent subprocess.
type ActiveAgent struct {
	Task         Task        `json:"task"`
	Phase        Phase       `json:"phase"`
	WorktreePath string      `json:"worktreePath"`
	BranchName   string      `json:"branchName"`
	StartedAt    time.Time   `json:"startedAt"`
	Status       AgentStatus `json:"status"`
	CostUSD      float64     `json:"costUsd,omitempty"`
	AlertedStale bool        `json:"alertedStale,omitempty"`
	RetryCount   int         `json:"retryCount"`
}

// Comment is a tracker issue comment, as needed by the phase detector.
type Comment struct {
	ID   string `json:"id"`
	HTML string `json:"html"`
}
