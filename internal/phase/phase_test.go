package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"

	v1 "github.com/relaydev/agentrelay/pkg/api/v1"
)

func TestDetectImplementationWhenSentinelPresent(t *testing.T) {
	comments := []v1.Comment{
		{HTML: "<p>kickoff</p>"},
		{HTML: "<!-- AGENT_PLAN --> here is the plan"},
	}
	assert.Equal(t, v1.PhaseImplementation, Detect(comments))
}

func TestDetectPlanningWithoutSentinel(t *testing.T) {
	comments := []v1.Comment{
		{HTML: "<p>kickoff</p>"},
		{HTML: "<p>still discussing</p>"},
	}
	assert.Equal(t, v1.PhasePlanning, Detect(comments))
}

func TestDetectPlanningWithNoComments(t *testing.T) {
	assert.Equal(t, v1.PhasePlanning, Detect(nil))
}
