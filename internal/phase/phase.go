// Package phase implements the two-phase lifecycle detector (C6): it
// decides whether a task is still in planning or has moved to
// implementation by scanning posted comments for a sentinel marker.
package phase

import (
	"strings"

	v1 "github.com/relaydev/agentrelay/pkg/api/v1"
)

// Sentinel is the HTML comment string that marks a posted plan. It is
// an HTML comment so it never renders in the comment UI.
const Sentinel = "<!-- AGENT_PLAN -->"

// Detect scans comments for Sentinel. If any comment contains it, the
// task has already produced a plan and moves to implementation;
// otherwise it is still in planning.
func Detect(comments []v1.Comment) v1.Phase {
	for _, c := range comments {
		if strings.Contains(c.HTML, Sentinel) {
			return v1.PhaseImplementation
		}
	}
	return v1.PhasePlanning
}
