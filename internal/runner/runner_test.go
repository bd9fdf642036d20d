package runner

import (
	"testing"

	"github.com/stretchr/testify/require"

	v1 "github.com/relaydev/agentrelay/pkg/api/v1"
)

func TestClassifyNoErrorsIsRateLimited(t *testing.T) {
	require.Equal(t, v1.ErrorRateLimited, classify(resultMessage{Subtype: "error", Errors: nil}))
}

func TestClassifyBudgetSubtype(t *testing.T) {
	require.Equal(t, v1.ErrorBudgetExceeded, classify(resultMessage{Subtype: "error_max_budget_exceeded", Errors: []string{"x"}}))
}

func TestClassifyTurnsSubtype(t *testing.T) {
	require.Equal(t, v1.ErrorMaxTurns, classify(resultMessage{Subtype: "error_max_turns", Errors: []string{"x"}}))
}

func TestClassifyUnknownSubtype(t *testing.T) {
	require.Equal(t, v1.ErrorUnknown, classify(resultMessage{Subtype: "error_weird", Errors: []string{"x"}}))
}

func TestStartingCommentMentionsSlugAndPhase(t *testing.T) {
	c := startingComment("ENG-1", v1.PhasePlanning)
	require.Contains(t, c, "ENG-1")
	require.Contains(t, c, string(v1.PhasePlanning))
}

func TestFailureCommentMentionsErrorType(t *testing.T) {
	c := failureComment("ENG-1", v1.ErrorBudgetExceeded)
	require.Contains(t, c, string(v1.ErrorBudgetExceeded))
}

func TestCompletionCommentMentionsSlug(t *testing.T) {
	require.Contains(t, completionComment("ENG-1"), "ENG-1")
}

func TestCrashCommentMentionsErrorText(t *testing.T) {
	require.Contains(t, crashComment("boom"), "boom")
}
