// Package notifier delivers out-of-band operator notifications:
// agent start/completion/error/blocked events and budget/stale
// warnings. Grounded on the teacher's notifications/providers package
// (a small Provider interface plus an Apprise CLI-backed
// implementation), folded into the narrower contract spec §6 demands.
package notifier

import "context"

// Notifier is the contract depended on by the agent manager and
// runner. A no-op implementation stands in when credentials are
// absent, per spec §4.7 startup.
type Notifier interface {
	SendMessage(ctx context.Context, text string, replyTo string) (string, error)
	AgentStarted(ctx context.Context, taskSlug, title string)
	AgentCompleted(ctx context.Context, taskSlug, title string)
	AgentErrored(ctx context.Context, taskSlug, title string, errText string)
	AgentBlocked(ctx context.Context, taskSlug, question string) (string, error)
}
