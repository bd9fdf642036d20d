// Package poller implements task discovery (C3): scanning cached
// projects for todo issues carrying the agent label, and the
// in-memory claim set that keeps a discovered issue from being
// re-picked while it is queued or active.
package poller

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/relaydev/agentrelay/internal/obslog"
	"github.com/relaydev/agentrelay/internal/projectcache"
	"github.com/relaydev/agentrelay/internal/tracker"
	v1 "github.com/relaydev/agentrelay/pkg/api/v1"
)

// Poller discovers and claims tracker issues.
type Poller struct {
	client tracker.Client
	cache  *projectcache.Cache
	log    *obslog.Logger

	mu            sync.Mutex
	claimedIssues map[string]struct{}
}

// New creates a Poller over the given tracker client and resolved
// project cache.
func New(client tracker.Client, cache *projectcache.Cache, log *obslog.Logger) *Poller {
	return &Poller{
		client:        client,
		cache:         cache,
		log:           log,
		claimedIssues: make(map[string]struct{}),
	}
}

// PollForTasks lists open issues across cached projects, in cache
// iteration order, re-verifying server-side filtering locally and
// skipping already-claimed issues, until maxTasks tasks have been
// materialized or every project has been checked. Per-project errors
// are logged and swallowed so one misbehaving project does not block
// the rest.
func (p *Poller) PollForTasks(ctx context.Context, maxTasks int) []v1.Task {
	var tasks []v1.Task

	for _, entry := range p.cache.All() {
		if len(tasks) >= maxTasks {
			break
		}

		issues, err := p.client.ListIssues(ctx, entry.Project.ID, entry.TodoStateID)
		if err != nil {
			p.log.Warn("poll: failed to list issues", zap.String("project", entry.Project.Identifier), zap.Error(err))
			continue
		}

		for _, issue := range issues {
			if len(tasks) >= maxTasks {
				break
			}
			if issue.State != entry.TodoStateID {
				continue
			}
			if !containsLabel(issue.Labels, entry.AgentLabelID) {
				continue
			}
			if p.isClaimed(issue.ID) {
				continue
			}

			tasks = append(tasks, v1.Task{
				IssueID:           issue.ID,
				ProjectID:         entry.Project.ID,
				ProjectIdentifier: entry.Project.Identifier,
				SequenceID:        issue.SequenceID,
				Title:             issue.Name,
				DescriptionHTML:   issue.DescriptionHTML,
				StateID:           issue.State,
				LabelIDs:          issue.Labels,
			})
		}
	}

	return tasks
}

// ClaimTask transitions the task's tracker state to in_progress and,
// on success, adds it to the claim set. Returns false without
// claiming on any error.
func (p *Poller) ClaimTask(ctx context.Context, task v1.Task, inProgressStateID string) bool {
	err := p.client.UpdateIssue(ctx, task.ProjectID, task.IssueID, tracker.IssueUpdate{State: inProgressStateID})
	if err != nil {
		p.log.Warn("claim failed", zap.String("issueId", task.IssueID), zap.Error(err))
		return false
	}

	p.mu.Lock()
	p.claimedIssues[task.IssueID] = struct{}{}
	p.mu.Unlock()
	return true
}

// ReleaseTask idempotently removes issueID from the claim set.
func (p *Poller) ReleaseTask(issueID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.claimedIssues, issueID)
}

func (p *Poller) isClaimed(issueID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.claimedIssues[issueID]
	return ok
}

func containsLabel(labels []string, labelID string) bool {
	for _, l := range labels {
		if l == labelID {
			return true
		}
	}
	return false
}
