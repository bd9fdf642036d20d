// Package projectcache resolves, once at startup, the tracker ids each
// configured project needs at runtime: the agent label and the
// handful of workflow states the orchestrator cares about. Grounded on
// the teacher's config-driven initialization style (internal/common/config)
// adapted to a resolve-against-a-remote-API shape instead of pure
// local parsing.
package projectcache

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relaydev/agentrelay/internal/obslog"
	"github.com/relaydev/agentrelay/internal/tracker"
)

// Entry is a project cache entry: the project record plus the ids
// resolved for it. Optional states are empty strings when the project's
// workflow does not distinguish them.
type Entry struct {
	Project           tracker.Project
	AgentLabelID      string
	TodoStateID       string
	InProgressStateID string
	PlanReviewStateID string
	InReviewStateID   string
	DoneStateID       string
}

// Cache is the resolved, read-only view over configured projects,
// keyed by project identifier (upper-cased).
type Cache struct {
	entries map[string]Entry
}

// Build resolves a cache entry for each identifier in projectIdentifiers
// against the tracker. A project is skipped (and logged) if it cannot
// be found, its agent label is missing, or either required state
// (todo, in_progress) cannot be resolved.
func Build(ctx context.Context, client tracker.Client, log *obslog.Logger, projectIdentifiers []string, labelName string) (*Cache, error) {
	projects, err := client.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	byIdentifier := make(map[string]tracker.Project, len(projects))
	for _, p := range projects {
		byIdentifier[strings.ToUpper(p.Identifier)] = p
	}

	// Label and state lookups are independent per project, so resolve
	// them concurrently: each project is two extra round trips to the
	// tracker, and a workspace with a dozen configured projects would
	// otherwise pay that latency serially on every startup.
	var mu sync.Mutex
	entries := make(map[string]Entry)
	g, gctx := errgroup.WithContext(ctx)

	for _, rawIdentifier := range projectIdentifiers {
		identifier := strings.ToUpper(rawIdentifier)

		project, ok := byIdentifier[identifier]
		if !ok {
			log.Warn("skipping project: not found in tracker", zap.String("project", identifier))
			continue
		}

		g.Go(func() error {
			entry, ok := resolveEntry(gctx, client, log, identifier, project, labelName)
			if !ok {
				return nil
			}
			mu.Lock()
			entries[identifier] = entry
			mu.Unlock()
			return nil
		})
	}

	// Per-project tracker failures are logged and skipped inline and
	// every goroutine returns nil, so g.Wait only ever returns nil; a
	// cancelled ctx surfaces as failed lookups and skipped projects.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Cache{entries: entries}, nil
}

func resolveEntry(ctx context.Context, client tracker.Client, log *obslog.Logger, identifier string, project tracker.Project, labelName string) (Entry, bool) {
	labels, err := client.ListLabels(ctx, project.ID)
	if err != nil {
		log.Warn("skipping project: failed to list labels", zap.String("project", identifier), zap.Error(err))
		return Entry{}, false
	}
	labelID := findLabelID(labels, labelName)
	if labelID == "" {
		log.Warn("skipping project: agent label not found", zap.String("project", identifier), zap.String("label", labelName))
		return Entry{}, false
	}

	states, err := client.ListStates(ctx, project.ID)
	if err != nil {
		log.Warn("skipping project: failed to list states", zap.String("project", identifier), zap.Error(err))
		return Entry{}, false
	}

	resolved := resolveStates(states)
	if resolved.TodoStateID == "" || resolved.InProgressStateID == "" {
		log.Warn("skipping project: required state missing", zap.String("project", identifier))
		return Entry{}, false
	}

	return Entry{
		Project:           project,
		AgentLabelID:      labelID,
		TodoStateID:       resolved.TodoStateID,
		InProgressStateID: resolved.InProgressStateID,
		PlanReviewStateID: resolved.PlanReviewStateID,
		InReviewStateID:   resolved.InReviewStateID,
		DoneStateID:       resolved.DoneStateID,
	}, true
}

func findLabelID(labels []tracker.Label, name string) string {
	for _, l := range labels {
		if strings.EqualFold(l.Name, name) {
			return l.ID
		}
	}
	return ""
}

type resolvedStates struct {
	TodoStateID       string
	InProgressStateID string
	PlanReviewStateID string
	InReviewStateID   string
	DoneStateID       string
}

// resolveStates maps tracker states to the cache's named slots by
// group and, for the two "started" sub-states, a case-insensitive name
// substring: plan_review contains "plan"; in_review contains "review"
// and is not the plan_review state.
func resolveStates(states []tracker.State) resolvedStates {
	var r resolvedStates
	for _, s := range states {
		lowerName := strings.ToLower(s.Name)
		switch s.Group {
		case tracker.StateGroupUnstarted:
			if r.TodoStateID == "" {
				r.TodoStateID = s.ID
			}
		case tracker.StateGroupStarted:
			switch {
			case strings.Contains(lowerName, "plan"):
				if r.PlanReviewStateID == "" {
					r.PlanReviewStateID = s.ID
				}
			case strings.Contains(lowerName, "review"):
				if r.InReviewStateID == "" {
					r.InReviewStateID = s.ID
				}
			default:
				if r.InProgressStateID == "" {
					r.InProgressStateID = s.ID
				}
			}
		case tracker.StateGroupCompleted:
			if r.DoneStateID == "" {
				r.DoneStateID = s.ID
			}
		}
	}
	return r
}

// Get returns the cache entry for a project identifier (case-insensitive).
func (c *Cache) Get(projectIdentifier string) (Entry, bool) {
	e, ok := c.entries[strings.ToUpper(projectIdentifier)]
	return e, ok
}

// Identifiers returns the identifiers of every resolved (non-skipped)
// project, in no particular order.
func (c *Cache) Identifiers() []string {
	out := make([]string, 0, len(c.entries))
	for id := range c.entries {
		out = append(out, id)
	}
	return out
}

// All returns every resolved entry.
func (c *Cache) All() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}
