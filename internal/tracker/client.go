// Package tracker is a thin, typed wrapper over the external
// project-tracking service's HTTP API: list/get/update/comment/link.
// Responses are validated at the boundary; callers never see raw JSON.
package tracker

import "context"

// Client is the tracker surface depended on by the poller, project
// cache, agent manager, and runner. Defined as an interface so fakes
// can stand in during tests, per the "duck-typed client -> interface"
// design note.
type Client interface {
	ListProjects(ctx context.Context) ([]Project, error)
	ListLabels(ctx context.Context, projectID string) ([]Label, error)
	ListStates(ctx context.Context, projectID string) ([]State, error)
	ListIssues(ctx context.Context, projectID string, stateID string) ([]Issue, error)
	GetIssue(ctx context.Context, projectID, issueID string) (*Issue, error)
	ListComments(ctx context.Context, projectID, issueID string) ([]Comment, error)
	UpdateIssue(ctx context.Context, projectID, issueID string, update IssueUpdate) error
	CreateComment(ctx context.Context, projectID, issueID, commentHTML string) error
	CreateLink(ctx context.Context, projectID, issueID, title, url string) error
}
