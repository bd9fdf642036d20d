package poller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaydev/agentrelay/internal/obslog"
	"github.com/relaydev/agentrelay/internal/projectcache"
	"github.com/relaydev/agentrelay/internal/tracker"
	v1 "github.com/relaydev/agentrelay/pkg/api/v1"
)

type fakeTrackerClient struct {
	issues      map[string][]tracker.Issue
	listErr     map[string]error
	updateErr   error
	updateCalls []tracker.IssueUpdate
}

func (f *fakeTrackerClient) ListProjects(context.Context) ([]tracker.Project, error) { return nil, nil }
func (f *fakeTrackerClient) ListLabels(context.Context, string) ([]tracker.Label, error) {
	return nil, nil
}
func (f *fakeTrackerClient) ListStates(context.Context, string) ([]tracker.State, error) {
	return nil, nil
}

func (f *fakeTrackerClient) ListIssues(_ context.Context, projectID, _ string) ([]tracker.Issue, error) {
	if err, ok := f.listErr[projectID]; ok {
		return nil, err
	}
	return f.issues[projectID], nil
}

func (f *fakeTrackerClient) GetIssue(context.Context, string, string) (*tracker.Issue, error) {
	return nil, nil
}
func (f *fakeTrackerClient) ListComments(context.Context, string, string) ([]tracker.Comment, error) {
	return nil, nil
}

func (f *fakeTrackerClient) UpdateIssue(_ context.Context, _, _ string, update tracker.IssueUpdate) error {
	f.updateCalls = append(f.updateCalls, update)
	return f.updateErr
}

func (f *fakeTrackerClient) CreateComment(context.Context, string, string, string) error { return nil }
func (f *fakeTrackerClient) CreateLink(context.Context, string, string, string, string) error {
	return nil
}

func testLogger(t *testing.T) *obslog.Logger {
	t.Helper()
	log, err := obslog.New(obslog.Config{Level: "error", Format: "text", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func cacheWithOneProject(t *testing.T, client tracker.Client) *projectcache.Cache {
	t.Helper()
	cache, err := projectcache.Build(context.Background(), client, testLogger(t), []string{"ENG"}, "agent")
	require.NoError(t, err)
	return cache
}

func fakeClientWithProject() *fakeProjectCacheClient {
	return &fakeProjectCacheClient{
		projects: []tracker.Project{{ID: "proj-1", Identifier: "ENG"}},
		labels:   map[string][]tracker.Label{"proj-1": {{ID: "lbl-agent", Name: "agent"}}},
		states: map[string][]tracker.State{
			"proj-1": {
				{ID: "state-todo", Name: "Todo", Group: tracker.StateGroupUnstarted},
				{ID: "state-doing", Name: "In Progress", Group: tracker.StateGroupStarted},
			},
		},
	}
}

// fakeProjectCacheClient implements tracker.Client for building a real
// Cache to drive the poller against, then forwards ListIssues/UpdateIssue
// to an embedded fakeTrackerClient so tests can script issue pages.
type fakeProjectCacheClient struct {
	fakeTrackerClient
	projects []tracker.Project
	labels   map[string][]tracker.Label
	states   map[string][]tracker.State
}

func (f *fakeProjectCacheClient) ListProjects(context.Context) ([]tracker.Project, error) {
	return f.projects, nil
}

func (f *fakeProjectCacheClient) ListLabels(_ context.Context, projectID string) ([]tracker.Label, error) {
	return f.labels[projectID], nil
}

func (f *fakeProjectCacheClient) ListStates(_ context.Context, projectID string) ([]tracker.State, error) {
	return f.states[projectID], nil
}

func TestPollForTasksFiltersByStateAndLabel(t *testing.T) {
	client := fakeClientWithProject()
	client.issues = map[string][]tracker.Issue{
		"proj-1": {
			{ID: "iss-1", Name: "has label, todo", State: "state-todo", Labels: []string{"lbl-agent"}},
			{ID: "iss-2", Name: "wrong state", State: "state-doing", Labels: []string{"lbl-agent"}},
			{ID: "iss-3", Name: "missing label", State: "state-todo", Labels: []string{"lbl-other"}},
		},
	}
	cache := cacheWithOneProject(t, client)
	p := New(client, cache, testLogger(t))

	tasks := p.PollForTasks(context.Background(), 10)

	require.Len(t, tasks, 1)
	require.Equal(t, "iss-1", tasks[0].IssueID)
	require.Equal(t, "ENG", tasks[0].ProjectIdentifier)
}

func TestPollForTasksRespectsMaxTasks(t *testing.T) {
	client := fakeClientWithProject()
	client.issues = map[string][]tracker.Issue{
		"proj-1": {
			{ID: "iss-1", State: "state-todo", Labels: []string{"lbl-agent"}},
			{ID: "iss-2", State: "state-todo", Labels: []string{"lbl-agent"}},
			{ID: "iss-3", State: "state-todo", Labels: []string{"lbl-agent"}},
		},
	}
	cache := cacheWithOneProject(t, client)
	p := New(client, cache, testLogger(t))

	tasks := p.PollForTasks(context.Background(), 2)

	require.Len(t, tasks, 2)
}

func TestPollForTasksSkipsAlreadyClaimedIssues(t *testing.T) {
	client := fakeClientWithProject()
	client.issues = map[string][]tracker.Issue{
		"proj-1": {{ID: "iss-1", State: "state-todo", Labels: []string{"lbl-agent"}}},
	}
	cache := cacheWithOneProject(t, client)
	p := New(client, cache, testLogger(t))

	entry, ok := cache.Get("ENG")
	require.True(t, ok)

	task := p.PollForTasks(context.Background(), 10)[0]
	require.True(t, p.ClaimTask(context.Background(), task, entry.InProgressStateID))

	tasks := p.PollForTasks(context.Background(), 10)
	require.Empty(t, tasks)
}

func TestPollForTasksSwallowsPerProjectErrors(t *testing.T) {
	client := fakeClientWithProject()
	client.listErr = map[string]error{"proj-1": context.DeadlineExceeded}
	cache := cacheWithOneProject(t, client)
	p := New(client, cache, testLogger(t))

	require.NotPanics(t, func() {
		tasks := p.PollForTasks(context.Background(), 10)
		require.Empty(t, tasks)
	})
}

func TestClaimTaskAddsToClaimSetOnSuccess(t *testing.T) {
	client := fakeClientWithProject()
	cache := cacheWithOneProject(t, client)
	p := New(client, cache, testLogger(t))

	ok := p.ClaimTask(context.Background(), taskFor("iss-1", "proj-1"), "state-doing")

	require.True(t, ok)
	require.True(t, p.isClaimed("iss-1"))
	require.Len(t, client.updateCalls, 1)
	require.Equal(t, "state-doing", client.updateCalls[0].State)
}

func TestClaimTaskDoesNotClaimOnError(t *testing.T) {
	client := fakeClientWithProject()
	client.updateErr = context.DeadlineExceeded
	cache := cacheWithOneProject(t, client)
	p := New(client, cache, testLogger(t))

	ok := p.ClaimTask(context.Background(), taskFor("iss-1", "proj-1"), "state-doing")

	require.False(t, ok)
	require.False(t, p.isClaimed("iss-1"))
}

func TestReleaseTaskIsIdempotent(t *testing.T) {
	client := fakeClientWithProject()
	cache := cacheWithOneProject(t, client)
	p := New(client, cache, testLogger(t))

	require.True(t, p.ClaimTask(context.Background(), taskFor("iss-1", "proj-1"), "state-doing"))
	p.ReleaseTask("iss-1")
	p.ReleaseTask("iss-1")

	require.False(t, p.isClaimed("iss-1"))
}

func TestContainsLabel(t *testing.T) {
	require.True(t, containsLabel([]string{"a", "b"}, "b"))
	require.False(t, containsLabel([]string{"a", "b"}, "c"))
	require.False(t, containsLabel(nil, "c"))
}

func taskFor(issueID, projectID string) v1.Task {
	return v1.Task{IssueID: issueID, ProjectID: projectID}
}
