package runner

import (
	"context"
	"os"
	"os/exec"
)

// newCommand builds the *exec.Cmd for the agent subprocess: argv[0] is
// the binary, the rest are arguments; env entries are appended to the
// current process environment; workingDir becomes the subprocess's
// working directory (the worktree for implementation, the repo itself
// for planning).
func newCommand(ctx context.Context, argv, env []string, workingDir string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(), env...)
	return cmd
}
