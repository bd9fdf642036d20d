package notifier

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relaydev/agentrelay/internal/obslog"
)

// Apprise sends notifications by shelling out to the `apprise` CLI,
// the same mechanism the teacher's AppriseProvider uses, fanned out
// across a static list of target URLs read once at construction.
type Apprise struct {
	urls []string
	log  *obslog.Logger
}

var _ Notifier = (*Apprise)(nil)

// NewApprise creates an Apprise notifier. Call Available to check the
// CLI is on PATH before relying on it; agentrelay falls back to NoOp
// when it is not.
func NewApprise(urls []string, log *obslog.Logger) *Apprise {
	return &Apprise{urls: urls, log: log}
}

// Available reports whether the apprise binary can be found on PATH.
func Available() bool {
	_, err := exec.LookPath("apprise")
	return err == nil
}

func (a *Apprise) SendMessage(ctx context.Context, text string, replyTo string) (string, error) {
	body := text
	if replyTo != "" {
		body = fmt.Sprintf("%s\n(re: %s)", text, replyTo)
	}
	if err := a.send(ctx, "agentrelay", body); err != nil {
		return "", err
	}
	return "", nil
}

func (a *Apprise) AgentStarted(ctx context.Context, taskSlug, title string) {
	a.notify(ctx, fmt.Sprintf("Started %s: %s", taskSlug, title))
}

func (a *Apprise) AgentCompleted(ctx context.Context, taskSlug, title string) {
	a.notify(ctx, fmt.Sprintf("Completed %s: %s", taskSlug, title))
}

func (a *Apprise) AgentErrored(ctx context.Context, taskSlug, title, errText string) {
	a.notify(ctx, fmt.Sprintf("Errored %s: %s (%s)", taskSlug, title, errText))
}

func (a *Apprise) AgentBlocked(ctx context.Context, taskSlug, question string) (string, error) {
	body := fmt.Sprintf("Blocked %s: %s", taskSlug, question)
	if err := a.send(ctx, "agentrelay", body); err != nil {
		return "", err
	}
	return "", nil
}

func (a *Apprise) notify(ctx context.Context, body string) {
	if err := a.send(ctx, "agentrelay", body); err != nil {
		a.log.Warn("notify failed", zap.Error(err))
	}
}

func (a *Apprise) send(ctx context.Context, title, body string) error {
	if !Available() {
		return fmt.Errorf("apprise not installed")
	}
	if len(a.urls) == 0 {
		return fmt.Errorf("apprise urls not configured")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	args := []string{"-t", title, "-b", body}
	args = append(args, a.urls...)

	cmd := exec.CommandContext(timeoutCtx, "apprise", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("apprise failed: %w (%s)", err, strings.TrimSpace(string(output)))
	}
	return nil
}
