// Package orchestrator implements the top-level control loop (C10):
// startup/recovery, the discovery timer, the processing timer, and
// graceful shutdown. Grounded on the teacher's cmd/kandev/main.go
// wiring sequence (load config -> init logger -> init subsystems ->
// run) generalized to this system's two-timer scheduling model
// instead of a WebSocket gateway.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relaydev/agentrelay/internal/agentmanager"
	"github.com/relaydev/agentrelay/internal/config"
	"github.com/relaydev/agentrelay/internal/history"
	"github.com/relaydev/agentrelay/internal/notifier"
	"github.com/relaydev/agentrelay/internal/obslog"
	"github.com/relaydev/agentrelay/internal/poller"
	"github.com/relaydev/agentrelay/internal/projectcache"
	"github.com/relaydev/agentrelay/internal/queue"
	"github.com/relaydev/agentrelay/internal/state"
	"github.com/relaydev/agentrelay/internal/telemetry"
)

var tracer = telemetry.Tracer("agentrelay/orchestrator")

// staleThreshold is the fixed 6-hour stale-agent window from spec §4.6.
const staleThreshold = 6 * time.Hour

// EventPublisher forwards lifecycle events to the operational status
// surface. Satisfied by *statusapi.Hub; kept as a narrow interface
// here so orchestrator doesn't need to import statusapi.
type EventPublisher interface {
	Publish(eventType string, payload interface{})
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, interface{}) {}

// Orchestrator wires together the poller, queue, and agent manager
// behind the two independent timers described in spec §4.7/§5.
type Orchestrator struct {
	cfg      *config.Config
	cache    *projectcache.Cache
	poller   *poller.Poller
	queue    *queue.Queue
	manager  *agentmanager.Manager
	notifier notifier.Notifier
	history  history.Recorder
	events   EventPublisher
	log      *obslog.Logger

	discoveryTicker  *time.Ticker
	processingTicker *time.Ticker
	stop             chan struct{}
}

// New assembles an Orchestrator from its already-constructed
// dependencies. Call Run to start the two timers and block until the
// context is cancelled.
func New(
	cfg *config.Config,
	cache *projectcache.Cache,
	p *poller.Poller,
	q *queue.Queue,
	manager *agentmanager.Manager,
	n notifier.Notifier,
	hist history.Recorder,
	events EventPublisher,
	log *obslog.Logger,
) *Orchestrator {
	if hist == nil {
		hist = history.NoOp{}
	}
	if events == nil {
		events = noopPublisher{}
	}
	return &Orchestrator{
		cfg:      cfg,
		cache:    cache,
		poller:   p,
		queue:    q,
		manager:  manager,
		notifier: n,
		history:  hist,
		events:   events,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// Run starts the discovery and processing timers and blocks until ctx
// is cancelled, at which point it logs and notifies of shutdown, naming
// still-active agents, and returns. It writes no state snapshot of its
// own on shutdown.
func (o *Orchestrator) Run(ctx context.Context) {
	o.discoveryTicker = time.NewTicker(o.cfg.Agent.PollInterval())
	o.processingTicker = time.NewTicker(o.cfg.Agent.SpawnDelay())
	defer o.discoveryTicker.Stop()
	defer o.processingTicker.Stop()

	o.log.Info("orchestrator started",
		zap.Duration("pollInterval", o.cfg.Agent.PollInterval()),
		zap.Duration("spawnDelay", o.cfg.Agent.SpawnDelay()))

	for {
		select {
		case <-ctx.Done():
			o.shutdown(context.Background())
			return
		case <-o.stop:
			o.shutdown(context.Background())
			return
		case <-o.discoveryTicker.C:
			o.discoveryTick(ctx)
		case <-o.processingTicker.C:
			o.processingTick(ctx)
		}
	}
}

// Stop signals Run to exit on its next select iteration.
func (o *Orchestrator) Stop() {
	close(o.stop)
}

// discoveryTick implements spec §4.7's discovery timer: stale check,
// poll, then claim-and-enqueue for each newly discovered task.
func (o *Orchestrator) discoveryTick(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "discoveryTick")
	defer span.End()

	o.manager.CheckStaleAgents(ctx, staleThreshold)

	tasks := o.poller.PollForTasks(ctx, 2*o.cfg.Agent.MaxConcurrent)
	for _, task := range tasks {
		if o.manager.IsTaskActive(task.IssueID) || o.queue.Has(task.IssueID) {
			continue
		}
		entry, ok := o.cache.Get(task.ProjectIdentifier)
		if !ok {
			continue
		}
		if !o.poller.ClaimTask(ctx, task, entry.InProgressStateID) {
			continue
		}
		o.history.Record(ctx, history.Event{
			IssueID: task.IssueID, ProjectIdentifier: task.ProjectIdentifier, SequenceID: task.SequenceID,
			Type: history.EventLeased,
		})
		o.queue.Enqueue(task)
		o.events.Publish("queue_changed", map[string]interface{}{"issueId": task.IssueID, "size": o.queue.Size()})
	}
}

// processingTick implements spec §4.7's processing timer: if there is
// spawn capacity, dequeue one entry and spawn it, handling the two
// rejection reasons inline.
func (o *Orchestrator) processingTick(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "processingTick")
	defer span.End()

	if o.manager.ActiveCount() >= o.cfg.Agent.MaxConcurrent {
		return
	}

	entry, ok := o.queue.Dequeue()
	if !ok {
		return
	}

	result := o.manager.SpawnAgent(ctx, entry.Task, entry.RetryCount)
	switch {
	case result.Started:
		// Runner is driving asynchronously; manager's continuation
		// handles completion/retry/terminal failure.
		o.events.Publish("agent_started", map[string]interface{}{"issueId": entry.Task.IssueID, "slug": entry.Task.Slug()})
	case result.Reason == agentmanager.RejectBudgetExceeded:
		// Open question: re-enqueuing at retryCount=0 makes this
		// indistinguishable from a fresh task (spec §9). Implemented
		// literally per spec's own note.
		o.queue.Enqueue(entry.Task)
	case result.Reason == agentmanager.RejectNoProjectConfig:
		o.poller.ReleaseTask(entry.Task.IssueID)
		o.manager.ResetTrackerToTodo(ctx, entry.Task)
	}
}

func (o *Orchestrator) shutdown(ctx context.Context) {
	active := o.manager.GetActiveAgents()
	names := make([]string, 0, len(active))
	for _, a := range active {
		names = append(names, a.Task.Slug())
	}

	o.log.Info("orchestrator shutting down", zap.Strings("stillRunning", names))

	msg := "agentrelay shutting down"
	if len(names) > 0 {
		msg += ": still running " + joinSlugs(names)
	}
	o.notifier.AgentErrored(ctx, "orchestrator", "shutdown", msg)
}

func joinSlugs(slugs []string) string {
	out := ""
	for i, s := range slugs {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

// Startup runs spec §4.7's steps 1-5 (after the caller has already
// constructed the tracker client, notifier, project cache, and state
// store): load persisted state, hydrate the queue, recover orphans,
// and persist the now-orphan-free state.
func Startup(ctx context.Context, store *state.Store, q *queue.Queue, manager *agentmanager.Manager) (*state.State, error) {
	st, err := store.Load()
	if err != nil {
		return nil, err
	}

	q.Hydrate(st.QueuedTasks)
	manager.RecoverOrphans(ctx)

	return st, nil
}
