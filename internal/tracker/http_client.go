package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relaydev/agentrelay/internal/telemetry"
)

var tracer = telemetry.Tracer("agentrelay/tracker")

// HTTPClient implements Client against the tracker's REST API using a
// single workspace API key, mirroring the corpus's PAT-authenticated
// HTTP clients: a bare *http.Client, a base URL, one auth header, and a
// small get/patch/post helper trio that every typed method routes
// through.
type HTTPClient struct {
	baseURL       string
	workspaceSlug string
	apiKey        string
	httpClient    *http.Client
}

// NewHTTPClient creates a tracker client for the given workspace.
func NewHTTPClient(baseURL, workspaceSlug, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL:       baseURL,
		workspaceSlug: workspaceSlug,
		apiKey:        apiKey,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) workspacePath(format string, args ...interface{}) string {
	return fmt.Sprintf("/api/v1/workspaces/%s"+format, append([]interface{}{c.workspaceSlug}, args...)...)
}

func (c *HTTPClient) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.get(ctx, c.workspacePath("/projects/?per_page=100"), &projects); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

func (c *HTTPClient) ListLabels(ctx context.Context, projectID string) ([]Label, error) {
	var labels []Label
	if err := c.get(ctx, c.workspacePath("/projects/%s/labels/?per_page=100", projectID), &labels); err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	return labels, nil
}

func (c *HTTPClient) ListStates(ctx context.Context, projectID string) ([]State, error) {
	var states []State
	if err := c.get(ctx, c.workspacePath("/projects/%s/states/?per_page=100", projectID), &states); err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	return states, nil
}

func (c *HTTPClient) ListIssues(ctx context.Context, projectID, stateID string) ([]Issue, error) {
	endpoint := c.workspacePath("/projects/%s/issues/?per_page=50", projectID)
	if stateID != "" {
		endpoint += "&state=" + stateID
	}
	var issues []Issue
	if err := c.get(ctx, endpoint, &issues); err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	return issues, nil
}

func (c *HTTPClient) GetIssue(ctx context.Context, projectID, issueID string) (*Issue, error) {
	var issue Issue
	endpoint := c.workspacePath("/projects/%s/issues/%s/", projectID, issueID)
	if err := c.get(ctx, endpoint, &issue); err != nil {
		return nil, fmt.Errorf("get issue %s: %w", issueID, err)
	}
	return &issue, nil
}

func (c *HTTPClient) ListComments(ctx context.Context, projectID, issueID string) ([]Comment, error) {
	var comments []Comment
	endpoint := c.workspacePath("/projects/%s/issues/%s/comments/?per_page=100", projectID, issueID)
	if err := c.get(ctx, endpoint, &comments); err != nil {
		return nil, fmt.Errorf("list comments for %s: %w", issueID, err)
	}
	return comments, nil
}

func (c *HTTPClient) UpdateIssue(ctx context.Context, projectID, issueID string, update IssueUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal issue update: %w", err)
	}
	endpoint := c.workspacePath("/projects/%s/issues/%s/", projectID, issueID)
	return c.patch(ctx, endpoint, body)
}

func (c *HTTPClient) CreateComment(ctx context.Context, projectID, issueID, commentHTML string) error {
	body, err := json.Marshal(map[string]string{"comment_html": commentHTML})
	if err != nil {
		return fmt.Errorf("marshal comment: %w", err)
	}
	endpoint := c.workspacePath("/projects/%s/issues/%s/comments/", projectID, issueID)
	return c.post(ctx, endpoint, body)
}

func (c *HTTPClient) CreateLink(ctx context.Context, projectID, issueID, title, url string) error {
	body, err := json.Marshal(map[string]string{"title": title, "url": url})
	if err != nil {
		return fmt.Errorf("marshal link: %w", err)
	}
	endpoint := c.workspacePath("/projects/%s/issues/%s/links/", projectID, issueID)
	return c.post(ctx, endpoint, body)
}

func (c *HTTPClient) get(ctx context.Context, endpoint string, result interface{}) error {
	ctx, span := tracer.Start(ctx, "tracker.get")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("tracker API %s returned %d: %s", endpoint, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

func (c *HTTPClient) patch(ctx context.Context, endpoint string, body []byte) error {
	return c.write(ctx, http.MethodPatch, endpoint, body)
}

func (c *HTTPClient) post(ctx context.Context, endpoint string, body []byte) error {
	return c.write(ctx, http.MethodPost, endpoint, body)
}

func (c *HTTPClient) write(ctx context.Context, method, endpoint string, body []byte) error {
	ctx, span := tracer.Start(ctx, "tracker."+strings.ToLower(method))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("tracker API %s %s returned %d: %s", method, endpoint, resp.StatusCode, string(respBody))
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
}
