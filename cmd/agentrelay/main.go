// Package main is the entry point for the agentrelay orchestrator
// process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/relaydev/agentrelay/internal/agentmanager"
	"github.com/relaydev/agentrelay/internal/clock"
	"github.com/relaydev/agentrelay/internal/config"
	"github.com/relaydev/agentrelay/internal/history"
	"github.com/relaydev/agentrelay/internal/notifier"
	"github.com/relaydev/agentrelay/internal/obslog"
	"github.com/relaydev/agentrelay/internal/orchestrator"
	"github.com/relaydev/agentrelay/internal/poller"
	"github.com/relaydev/agentrelay/internal/projectcache"
	"github.com/relaydev/agentrelay/internal/queue"
	"github.com/relaydev/agentrelay/internal/runner"
	"github.com/relaydev/agentrelay/internal/state"
	"github.com/relaydev/agentrelay/internal/statusapi"
	"github.com/relaydev/agentrelay/internal/tracker"
	"github.com/relaydev/agentrelay/internal/worktree"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "projects" {
		os.Exit(runProjectsCommand(os.Args[2:]))
	}

	// 1. Load configuration.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger.
	log, err := obslog.New(obslog.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, OutputPath: cfg.Logging.OutputPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	obslog.SetDefault(log)

	log.Info("starting agentrelay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialize the tracker client.
	apiKey := os.Getenv("TRACKER_API_KEY")
	if apiKey == "" {
		log.Fatal("TRACKER_API_KEY is required")
	}
	trackerClient := tracker.NewHTTPClient(cfg.Plane.BaseURL, cfg.Plane.WorkspaceSlug, apiKey)

	// 4. Initialize the notifier, falling back to a no-op when
	// credentials are absent.
	var n notifier.Notifier = notifier.NoOp{}
	if urls := os.Getenv("APPRISE_URLS"); urls != "" && notifier.Available() {
		n = notifier.NewApprise(strings.Split(urls, ","), log)
	}

	// 5. Resolve the project cache.
	identifiers := make([]string, 0, len(cfg.Projects))
	for id := range cfg.Projects {
		identifiers = append(identifiers, id)
	}
	cache, err := projectcache.Build(ctx, trackerClient, log, identifiers, cfg.Agent.LabelName)
	if err != nil {
		log.Fatal("failed to build project cache", zap.Error(err))
	}

	// 6. Ensure every configured repo gitignores .worktrees/.
	wtManager := worktree.NewManager(log)
	for id, p := range cfg.Projects {
		if err := wtManager.EnsureWorktreeGitignore(p.RepoPath); err != nil {
			log.Warn("failed to ensure .worktrees/ gitignored", zap.String("project", id), zap.Error(err))
		}
	}

	// 7. Initialize state persistence and hydrate the queue.
	statePath, err := state.DefaultPath()
	if err != nil {
		log.Fatal("failed to resolve state path", zap.Error(err))
	}
	store := state.NewStore(statePath, log)

	// History is best-effort: a sqlite failure here shouldn't stop the
	// orchestrator, just leave the audit trail empty.
	var hist history.Recorder = history.NoOp{}
	var histStore *history.Store
	if histPath := os.Getenv("AGENTRELAY_HISTORY_PATH"); histPath != "" {
		var err error
		histStore, err = history.Open(histPath, log)
		if err != nil {
			log.Warn("failed to open history store, continuing without audit log", zap.Error(err))
			histStore = nil
		} else {
			defer func() { _ = histStore.Close() }()
			hist = histStore
		}
	}

	q := queue.New(cfg.Agent.RetryBaseDelay(), clock.Real{}.Now)
	p := poller.New(trackerClient, cache, log)

	commandBuilder := runner.DefaultCommandBuilder{AgentBinary: agentBinary()}
	r := runner.New(trackerClient, n, commandBuilder, log)

	lookup := orchestrator.NewProjectLookup(cfg.Projects, cache)

	initial, err := store.Load()
	if err != nil {
		log.Fatal("failed to load persisted state", zap.Error(err))
	}

	// A nil *history.Store boxed directly into the History interface
	// would be a non-nil interface wrapping a nil pointer; only box it
	// when it's actually open.
	var statusHistory statusapi.History
	if histStore != nil {
		statusHistory = histStore
	}

	statusServer := statusapi.NewServer(nil, q, statusHistory, log)

	manager := agentmanager.New(trackerClient, n, wtManager, r, p, q, lookup, store, clock.Real{}, hist, statusServer.Hub(), log, cfg.Agent, initial)
	statusServer.SetManager(manager)

	// 8. Recover orphans and rehydrate the queue before timers start.
	if _, err := orchestrator.Startup(ctx, store, q, manager); err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}

	orch := orchestrator.New(cfg, cache, p, q, manager, n, hist, statusServer.Hub(), log)

	// 9. Start the status API, if configured.
	if addr := os.Getenv("AGENTRELAY_STATUS_ADDR"); addr != "" {
		go statusServer.Run(ctx)
		httpServer := &http.Server{Addr: addr, Handler: statusServer.Handler()}
		go func() {
			log.Info("status API listening", zap.String("addr", addr))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("status API server stopped", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
	}

	// 10. Run until SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		cancel()
	}()

	orch.Run(ctx)
	log.Info("agentrelay stopped")
}

func agentBinary() string {
	if bin := os.Getenv("AGENTRELAY_AGENT_BINARY"); bin != "" {
		return bin
	}
	return "agent"
}
