package orchestrator

import (
	"strings"

	"github.com/relaydev/agentrelay/internal/config"
	"github.com/relaydev/agentrelay/internal/projectcache"
)

// ProjectLookup bridges the statically configured per-project repo
// settings (internal/config) and the tracker-resolved project cache
// (internal/projectcache) into the single interface agentmanager
// needs: spec §4.6's "no project config" rejection is about the
// former; tracker state resets need the latter.
type ProjectLookup struct {
	projects map[string]config.ProjectConfig
	cache    *projectcache.Cache
}

// NewProjectLookup creates a ProjectLookup over cfg's configured
// projects (keyed by identifier, case-insensitive) and the resolved
// project cache.
func NewProjectLookup(projects map[string]config.ProjectConfig, cache *projectcache.Cache) *ProjectLookup {
	upper := make(map[string]config.ProjectConfig, len(projects))
	for id, p := range projects {
		upper[strings.ToUpper(id)] = p
	}
	return &ProjectLookup{projects: upper, cache: cache}
}

// RepoConfig returns the statically configured repo settings for a
// project identifier, if any.
func (pl *ProjectLookup) RepoConfig(projectIdentifier string) (config.ProjectConfig, bool) {
	cfg, ok := pl.projects[strings.ToUpper(projectIdentifier)]
	return cfg, ok
}

// TodoStateID returns the tracker-resolved todo state id for a
// project identifier, if the project was resolved into the cache.
func (pl *ProjectLookup) TodoStateID(projectIdentifier string) (string, bool) {
	entry, ok := pl.cache.Get(projectIdentifier)
	if !ok {
		return "", false
	}
	return entry.TodoStateID, true
}
