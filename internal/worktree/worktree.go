// Package worktree manages isolated git working copies, one per task,
// layered over `git worktree`. Adapted from the teacher's
// agent/worktree manager: same per-repo mutex and os/exec-driven git
// plumbing, but with the database-backed Store dropped in favor of
// disk/git state as the source of truth, per spec §4.3 — the
// orchestrator's crash-recovery story already persists everything it
// needs in runner state, so a second worktree ledger would just drift
// from the git state it describes.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/relaydev/agentrelay/internal/obslog"
)

// Info describes a created or resumed worktree.
type Info struct {
	WorktreePath string
	BranchName   string
	IsExisting   bool
	LastCommit   string
}

// Manager creates, resumes, and removes per-task git worktrees,
// serializing mutating operations per repository path.
type Manager struct {
	log *obslog.Logger

	repoLockMu sync.Mutex
	repoLocks  map[string]*sync.Mutex
}

// NewManager creates a worktree Manager.
func NewManager(log *obslog.Logger) *Manager {
	return &Manager{
		log:       log,
		repoLocks: make(map[string]*sync.Mutex),
	}
}

func (m *Manager) repoLock(repoPath string) *sync.Mutex {
	m.repoLockMu.Lock()
	defer m.repoLockMu.Unlock()

	lock, ok := m.repoLocks[repoPath]
	if !ok {
		lock = &sync.Mutex{}
		m.repoLocks[repoPath] = lock
	}
	return lock
}

func worktreePath(repoPath, taskSlug string) string {
	return filepath.Join(repoPath, ".worktrees", "agent-"+taskSlug)
}

func branchName(taskSlug string) string {
	return "agent/" + taskSlug
}

// CreateWorktree implements spec §4.3's createWorktree: it refreshes
// the main checkout against origin/defaultBranch, then fails fast if
// the worktree directory or branch already exist, otherwise creates a
// new worktree on a fresh branch.
func (m *Manager) CreateWorktree(ctx context.Context, repoPath, taskSlug, defaultBranch string) (*Info, error) {
	lock := m.repoLock(repoPath)
	lock.Lock()
	defer lock.Unlock()

	if err := m.refreshMainCheckout(ctx, repoPath, defaultBranch); err != nil {
		return nil, fmt.Errorf("refresh main checkout: %w", err)
	}

	wtPath := worktreePath(repoPath, taskSlug)
	branch := branchName(taskSlug)

	if _, err := os.Stat(wtPath); err == nil {
		return nil, fmt.Errorf("worktree already exists: %s", wtPath)
	}

	if m.branchExists(repoPath, branch) {
		return nil, fmt.Errorf("branch %s already exists", branch)
	}

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, wtPath, "origin/"+defaultBranch)
	cmd.Dir = repoPath
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git worktree add failed: %s: %w", string(output), err)
	}

	m.log.Info("created worktree", zap.String("path", wtPath), zap.String("branch", branch))
	return &Info{WorktreePath: wtPath, BranchName: branch}, nil
}

// GetOrCreateWorktree is the resume-friendly variant used by the
// implementation phase on retry after a prior crash: if the branch
// already exists locally or on origin, it materializes a worktree for
// that branch instead of failing.
func (m *Manager) GetOrCreateWorktree(ctx context.Context, repoPath, taskSlug, defaultBranch string) (*Info, error) {
	lock := m.repoLock(repoPath)
	lock.Lock()
	defer lock.Unlock()

	branch := branchName(taskSlug)
	wtPath := worktreePath(repoPath, taskSlug)

	if _, err := os.Stat(wtPath); err == nil {
		lastCommit, _ := m.lastCommitMessage(ctx, wtPath)
		return &Info{WorktreePath: wtPath, BranchName: branch, IsExisting: true, LastCommit: lastCommit}, nil
	}

	if err := m.fetch(ctx, repoPath); err != nil {
		m.log.Warn("fetch failed before resume", zap.Error(err))
	}

	if m.branchExists(repoPath, branch) || m.remoteBranchExists(ctx, repoPath, branch) {
		cmd := exec.CommandContext(ctx, "git", "worktree", "add", wtPath, branch)
		cmd.Dir = repoPath
		if output, err := cmd.CombinedOutput(); err != nil {
			return nil, fmt.Errorf("git worktree add (resume) failed: %s: %w", string(output), err)
		}
		lastCommit, _ := m.lastCommitMessage(ctx, wtPath)
		m.log.Info("resumed worktree", zap.String("path", wtPath), zap.String("branch", branch))
		return &Info{WorktreePath: wtPath, BranchName: branch, IsExisting: true, LastCommit: lastCommit}, nil
	}

	if err := m.refreshMainCheckout(ctx, repoPath, defaultBranch); err != nil {
		return nil, fmt.Errorf("refresh main checkout: %w", err)
	}
	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, wtPath, "origin/"+defaultBranch)
	cmd.Dir = repoPath
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git worktree add failed: %s: %w", string(output), err)
	}
	m.log.Info("created worktree", zap.String("path", wtPath), zap.String("branch", branch))
	return &Info{WorktreePath: wtPath, BranchName: branch}, nil
}

// RemoveWorktree force-removes the worktree for taskSlug, swallowing
// errors (idempotent) and never deleting the branch.
func (m *Manager) RemoveWorktree(ctx context.Context, repoPath, taskSlug string) {
	lock := m.repoLock(repoPath)
	lock.Lock()
	defer lock.Unlock()

	wtPath := worktreePath(repoPath, taskSlug)

	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", wtPath)
	cmd.Dir = repoPath
	if output, err := cmd.CombinedOutput(); err != nil {
		m.log.Warn("git worktree remove failed, falling back to rm -rf",
			zap.String("path", wtPath), zap.String("output", string(output)), zap.Error(err))
		_ = os.RemoveAll(wtPath)

		pruneCmd := exec.CommandContext(ctx, "git", "worktree", "prune")
		pruneCmd.Dir = repoPath
		_ = pruneCmd.Run()
	}
}

// ListWorktrees returns worktree paths in the order reported by
// `git worktree list --porcelain`.
func (m *Manager) ListWorktrees(ctx context.Context, repoPath string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "worktree", "list", "--porcelain")
	cmd.Dir = repoPath
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git worktree list: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(string(output), "\n") {
		if path, ok := strings.CutPrefix(line, "worktree "); ok {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// EnsureWorktreeGitignore ensures ".worktrees/" is listed in repoPath's
// .gitignore, creating the file if absent and appending with a
// separating newline if the entry is missing. Idempotent.
func (m *Manager) EnsureWorktreeGitignore(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")

	existing, err := os.ReadFile(gitignorePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read .gitignore: %w", err)
		}
		return os.WriteFile(gitignorePath, []byte(".worktrees/\n"), 0644)
	}

	for _, line := range strings.Split(string(existing), "\n") {
		if strings.TrimSpace(line) == ".worktrees/" {
			return nil
		}
	}

	content := string(existing)
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += ".worktrees/\n"
	return os.WriteFile(gitignorePath, []byte(content), 0644)
}

func (m *Manager) refreshMainCheckout(ctx context.Context, repoPath, defaultBranch string) error {
	if err := m.fetch(ctx, repoPath); err != nil {
		return err
	}

	resetCmd := exec.CommandContext(ctx, "git", "reset", "--hard", "origin/"+defaultBranch)
	resetCmd.Dir = repoPath
	if output, err := resetCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("reset --hard: %s: %w", string(output), err)
	}

	cleanCmd := exec.CommandContext(ctx, "git", "clean", "-fd", "-e", ".worktrees/")
	cleanCmd.Dir = repoPath
	if output, err := cleanCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("clean: %s: %w", string(output), err)
	}
	return nil
}

func (m *Manager) fetch(ctx context.Context, repoPath string) error {
	cmd := exec.CommandContext(ctx, "git", "fetch", "origin")
	cmd.Dir = repoPath
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("fetch: %s: %w", string(output), err)
	}
	return nil
}

func (m *Manager) branchExists(repoPath, branch string) bool {
	cmd := exec.Command("git", "rev-parse", "--verify", branch)
	cmd.Dir = repoPath
	return cmd.Run() == nil
}

func (m *Manager) remoteBranchExists(ctx context.Context, repoPath, branch string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--verify", "origin/"+branch)
	cmd.Dir = repoPath
	return cmd.Run() == nil
}

func (m *Manager) lastCommitMessage(ctx context.Context, worktreePath string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "log", "-1", "--pretty=%s")
	cmd.Dir = worktreePath
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}
