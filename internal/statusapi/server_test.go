package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaydev/agentrelay/internal/history"
	"github.com/relaydev/agentrelay/internal/obslog"
	v1 "github.com/relaydev/agentrelay/pkg/api/v1"
)

type fakeManager struct {
	agents map[string]v1.ActiveAgent
	spend  float64
	budget float64
}

func (f *fakeManager) GetActiveAgents() map[string]v1.ActiveAgent { return f.agents }
func (f *fakeManager) GetDailySpend() float64                     { return f.spend }
func (f *fakeManager) GetDailyBudget() float64                    { return f.budget }

type fakeQueue struct {
	entries []v1.QueueEntry
}

func (f *fakeQueue) Entries() []v1.QueueEntry { return f.entries }
func (f *fakeQueue) Size() int                { return len(f.entries) }

type fakeHistory struct {
	events map[string][]history.Event
}

func (f *fakeHistory) ForTask(_ context.Context, issueID string) ([]history.Event, error) {
	return f.events[issueID], nil
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]history.Event, error) {
	var all []history.Event
	for _, evs := range f.events {
		all = append(all, evs...)
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func testLogger(t *testing.T) *obslog.Logger {
	t.Helper()
	log, err := obslog.New(obslog.Config{Level: "error", Format: "text", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func TestHandleHealthz(t *testing.T) {
	s := NewServer(&fakeManager{}, &fakeQueue{}, nil, testLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleQueueReturnsEntries(t *testing.T) {
	q := &fakeQueue{entries: []v1.QueueEntry{
		{Task: v1.Task{IssueID: "a"}},
		{Task: v1.Task{IssueID: "b"}},
	}}
	s := NewServer(&fakeManager{}, q, nil, testLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Entries []v1.QueueEntry `json:"entries"`
		Size    int             `json:"size"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 2, body.Size)
}

func TestHandleAgentsReturnsActiveAgents(t *testing.T) {
	m := &fakeManager{agents: map[string]v1.ActiveAgent{
		"iss-1": {Task: v1.Task{IssueID: "iss-1"}, Status: v1.AgentStatusRunning},
	}}
	s := NewServer(m, &fakeQueue{}, nil, testLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Agents []v1.ActiveAgent `json:"agents"`
		Count  int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
}

func TestHandleBudgetReturnsSpendAndCap(t *testing.T) {
	m := &fakeManager{spend: 3.5, budget: 20}
	s := NewServer(m, &fakeQueue{}, nil, testLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/budget", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		DailySpendUSD  float64 `json:"dailySpendUsd"`
		DailyBudgetUSD float64 `json:"dailyBudgetUsd"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 3.5, body.DailySpendUSD)
	require.Equal(t, 20.0, body.DailyBudgetUSD)
}

func TestHandleTaskHistoryWithoutStoreReturnsEmpty(t *testing.T) {
	s := NewServer(&fakeManager{}, &fakeQueue{}, nil, testLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/history/iss-1", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"events":[]}`, w.Body.String())
}

func TestHandleTaskHistoryWithStore(t *testing.T) {
	h := &fakeHistory{events: map[string][]history.Event{
		"iss-1": {{IssueID: "iss-1", Type: history.EventLeased}},
	}}
	s := NewServer(&fakeManager{}, &fakeQueue{}, h, testLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/history/iss-1", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Events []history.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Events, 1)
}

func TestSetManagerCompletesTwoStepConstruction(t *testing.T) {
	s := NewServer(nil, &fakeQueue{}, nil, testLogger(t))
	s.SetManager(&fakeManager{spend: 1, budget: 2})

	req := httptest.NewRequest(http.MethodGet, "/budget", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}
