package projectcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaydev/agentrelay/internal/obslog"
	"github.com/relaydev/agentrelay/internal/tracker"
)

type fakeClient struct {
	projects    []tracker.Project
	labels      map[string][]tracker.Label
	states      map[string][]tracker.State
	labelsErr   map[string]error
	statesErr   map[string]error
	projectsErr error
}

func (f *fakeClient) ListProjects(context.Context) ([]tracker.Project, error) {
	return f.projects, f.projectsErr
}

func (f *fakeClient) ListLabels(_ context.Context, projectID string) ([]tracker.Label, error) {
	if err, ok := f.labelsErr[projectID]; ok {
		return nil, err
	}
	return f.labels[projectID], nil
}

func (f *fakeClient) ListStates(_ context.Context, projectID string) ([]tracker.State, error) {
	if err, ok := f.statesErr[projectID]; ok {
		return nil, err
	}
	return f.states[projectID], nil
}

func (f *fakeClient) ListIssues(context.Context, string, string) ([]tracker.Issue, error) {
	return nil, nil
}
func (f *fakeClient) GetIssue(context.Context, string, string) (*tracker.Issue, error) {
	return nil, nil
}
func (f *fakeClient) ListComments(context.Context, string, string) ([]tracker.Comment, error) {
	return nil, nil
}
func (f *fakeClient) UpdateIssue(context.Context, string, string, tracker.IssueUpdate) error {
	return nil
}
func (f *fakeClient) CreateComment(context.Context, string, string, string) error { return nil }
func (f *fakeClient) CreateLink(context.Context, string, string, string, string) error {
	return nil
}

func testLogger(t *testing.T) *obslog.Logger {
	t.Helper()
	log, err := obslog.New(obslog.Config{Level: "error", Format: "text", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func TestBuildResolvesProjectStatesAndLabel(t *testing.T) {
	client := &fakeClient{
		projects: []tracker.Project{{ID: "p1", Identifier: "eng"}},
		labels:   map[string][]tracker.Label{"p1": {{ID: "lbl-1", Name: "Agent"}}},
		states: map[string][]tracker.State{
			"p1": {
				{ID: "s-todo", Name: "Todo", Group: tracker.StateGroupUnstarted},
				{ID: "s-plan", Name: "Plan Review", Group: tracker.StateGroupStarted},
				{ID: "s-doing", Name: "In Progress", Group: tracker.StateGroupStarted},
				{ID: "s-review", Name: "In Review", Group: tracker.StateGroupStarted},
				{ID: "s-done", Name: "Done", Group: tracker.StateGroupCompleted},
			},
		},
	}

	cache, err := Build(context.Background(), client, testLogger(t), []string{"ENG"}, "agent")

	require.NoError(t, err)
	entry, ok := cache.Get("eng")
	require.True(t, ok)
	require.Equal(t, "lbl-1", entry.AgentLabelID)
	require.Equal(t, "s-todo", entry.TodoStateID)
	require.Equal(t, "s-plan", entry.PlanReviewStateID)
	require.Equal(t, "s-doing", entry.InProgressStateID)
	require.Equal(t, "s-review", entry.InReviewStateID)
	require.Equal(t, "s-done", entry.DoneStateID)
}

func TestBuildSkipsProjectNotFoundInTracker(t *testing.T) {
	client := &fakeClient{projects: []tracker.Project{{ID: "p1", Identifier: "other"}}}

	cache, err := Build(context.Background(), client, testLogger(t), []string{"ENG"}, "agent")

	require.NoError(t, err)
	require.Empty(t, cache.Identifiers())
}

func TestBuildSkipsProjectMissingAgentLabel(t *testing.T) {
	client := &fakeClient{
		projects: []tracker.Project{{ID: "p1", Identifier: "eng"}},
		labels:   map[string][]tracker.Label{"p1": {{ID: "lbl-1", Name: "bug"}}},
	}

	cache, err := Build(context.Background(), client, testLogger(t), []string{"ENG"}, "agent")

	require.NoError(t, err)
	_, ok := cache.Get("eng")
	require.False(t, ok)
}

func TestBuildSkipsProjectMissingRequiredState(t *testing.T) {
	client := &fakeClient{
		projects: []tracker.Project{{ID: "p1", Identifier: "eng"}},
		labels:   map[string][]tracker.Label{"p1": {{ID: "lbl-1", Name: "agent"}}},
		states: map[string][]tracker.State{
			"p1": {{ID: "s-todo", Name: "Todo", Group: tracker.StateGroupUnstarted}},
		},
	}

	cache, err := Build(context.Background(), client, testLogger(t), []string{"ENG"}, "agent")

	require.NoError(t, err)
	_, ok := cache.Get("eng")
	require.False(t, ok)
}

func TestBuildPropagatesListProjectsError(t *testing.T) {
	client := &fakeClient{projectsErr: context.DeadlineExceeded}

	_, err := Build(context.Background(), client, testLogger(t), []string{"ENG"}, "agent")

	require.Error(t, err)
}

func TestBuildSkipsProjectOnLabelsOrStatesError(t *testing.T) {
	client := &fakeClient{
		projects:  []tracker.Project{{ID: "p1", Identifier: "eng"}, {ID: "p2", Identifier: "ops"}},
		labels:    map[string][]tracker.Label{"p2": {{ID: "lbl-2", Name: "agent"}}},
		labelsErr: map[string]error{"p1": context.DeadlineExceeded},
		statesErr: map[string]error{"p2": context.DeadlineExceeded},
	}

	cache, err := Build(context.Background(), client, testLogger(t), []string{"ENG", "OPS"}, "agent")

	require.NoError(t, err)
	require.Empty(t, cache.Identifiers())
}

func TestGetIsCaseInsensitive(t *testing.T) {
	client := &fakeClient{
		projects: []tracker.Project{{ID: "p1", Identifier: "eng"}},
		labels:   map[string][]tracker.Label{"p1": {{ID: "lbl-1", Name: "agent"}}},
		states: map[string][]tracker.State{
			"p1": {
				{ID: "s-todo", Group: tracker.StateGroupUnstarted},
				{ID: "s-doing", Group: tracker.StateGroupStarted},
			},
		},
	}

	cache, err := Build(context.Background(), client, testLogger(t), []string{"eng"}, "agent")
	require.NoError(t, err)

	_, ok := cache.Get("ENG")
	require.True(t, ok)
}

func TestAllReturnsEveryResolvedEntry(t *testing.T) {
	client := &fakeClient{
		projects: []tracker.Project{
			{ID: "p1", Identifier: "eng"},
			{ID: "p2", Identifier: "ops"},
		},
		labels: map[string][]tracker.Label{
			"p1": {{ID: "l1", Name: "agent"}},
			"p2": {{ID: "l2", Name: "agent"}},
		},
		states: map[string][]tracker.State{
			"p1": {{ID: "s1", Group: tracker.StateGroupUnstarted}, {ID: "s2", Group: tracker.StateGroupStarted}},
			"p2": {{ID: "s3", Group: tracker.StateGroupUnstarted}, {ID: "s4", Group: tracker.StateGroupStarted}},
		},
	}

	cache, err := Build(context.Background(), client, testLogger(t), []string{"eng", "ops"}, "agent")
	require.NoError(t, err)
	require.Len(t, cache.All(), 2)
}
