// Package history is the task lifecycle audit log (spec supplement):
// every lease, spawn, phase transition, completion, retry, and
// abandonment is appended to a local SQLite table, independent of the
// crash-recovery JSON file in internal/state. Grounded on the
// teacher's internal/analytics package: a narrow Repository interface
// in front of a single sqlite implementation, opened the way
// internal/db/sqlite.go opens its writer connection.
package history

import (
	"context"
	"time"

	v1 "github.com/relaydev/agentrelay/pkg/api/v1"
)

// EventType is the closed set of lifecycle events this log records.
type EventType string

const (
	EventLeased          EventType = "leased"
	EventSpawned         EventType = "spawned"
	EventPhaseTransition EventType = "phase_transition"
	EventCompleted       EventType = "completed"
	EventRetried         EventType = "retried"
	EventAbandoned       EventType = "abandoned"
)

// Event is one row of the audit log. OccurredAt is left zero by
// callers and stamped by the recorder at insert time.
type Event struct {
	IssueID           string
	ProjectIdentifier string
	SequenceID        int
	Type              EventType
	Phase             v1.Phase
	Detail            string
	CostUSD           float64
	RetryCount        int
	OccurredAt        time.Time
}

// Recorder appends lifecycle events. Implementations must not block
// the caller on anything slower than a single local insert; agentmanager
// calls this inline from its decision-tree methods.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// NoOp discards every event. Used when AGENTRELAY_HISTORY_PATH is unset.
type NoOp struct{}

func (NoOp) Record(context.Context, Event) {}

var _ Recorder = NoOp{}
