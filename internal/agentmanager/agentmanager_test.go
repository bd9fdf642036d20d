package agentmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaydev/agentrelay/internal/clock"
	"github.com/relaydev/agentrelay/internal/config"
	"github.com/relaydev/agentrelay/internal/history"
	"github.com/relaydev/agentrelay/internal/state"
)

func TestTodayUTCFormatsDateOnly(t *testing.T) {
	now := time.Date(2026, 3, 5, 23, 59, 0, 0, time.UTC)
	require.Equal(t, "2026-03-05", todayUTC(now))
}

func TestBudgetCheckLockedResetsOnDateRollover(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 3, 6, 0, 0, 1, 0, time.UTC))
	m := &Manager{
		clock:          fc,
		cfg:            config.AgentConfig{MaxBudgetPerTask: 5, MaxDailyBudget: 20},
		dailySpendUSD:  19,
		dailySpendDate: "2026-03-05",
	}

	admitted := m.budgetCheckLocked()

	require.True(t, admitted)
	require.Equal(t, float64(0), m.dailySpendUSD)
	require.Equal(t, "2026-03-06", m.dailySpendDate)
}

func TestBudgetCheckLockedRejectsWhenNoRoomForAnotherTask(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC))
	m := &Manager{
		clock:          fc,
		cfg:            config.AgentConfig{MaxBudgetPerTask: 5, MaxDailyBudget: 20},
		dailySpendUSD:  18,
		dailySpendDate: "2026-03-06",
	}

	require.False(t, m.budgetCheckLocked())
}

func TestBudgetCheckLockedAdmitsExactlyAtCap(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC))
	m := &Manager{
		clock:          fc,
		cfg:            config.AgentConfig{MaxBudgetPerTask: 5, MaxDailyBudget: 20},
		dailySpendUSD:  15,
		dailySpendDate: "2026-03-06",
	}

	require.True(t, m.budgetCheckLocked())
}

func TestRetryableClassifiesErrorTypes(t *testing.T) {
	require.True(t, retryable("rate_limited"))
	require.True(t, retryable("unknown"))
	require.False(t, retryable("budget_exceeded"))
	require.False(t, retryable("max_turns"))
}

func TestNewDefaultsNilHistoryAndEventsToNoOps(t *testing.T) {
	m := New(nil, nil, nil, nil, nil, nil, nil, nil, clock.Real{}, nil, nil, nil, config.AgentConfig{}, state.Default())

	require.NotNil(t, m.history)
	require.NotNil(t, m.events)
	require.NotPanics(t, func() {
		m.history.Record(context.Background(), history.Event{Type: history.EventLeased})
		m.events.Publish("queue_changed", nil)
	})
}
