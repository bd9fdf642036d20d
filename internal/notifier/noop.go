package notifier

import "context"

// NoOp is used when notifier credentials are absent; every call
// succeeds trivially and does nothing.
type NoOp struct{}

var _ Notifier = NoOp{}

func (NoOp) SendMessage(_ context.Context, _ string, _ string) (string, error) { return "", nil }
func (NoOp) AgentStarted(_ context.Context, _, _ string)                       {}
func (NoOp) AgentCompleted(_ context.Context, _, _ string)                     {}
func (NoOp) AgentErrored(_ context.Context, _, _, _ string)                    {}
func (NoOp) AgentBlocked(_ context.Context, _, _ string) (string, error)       { return "", nil }
