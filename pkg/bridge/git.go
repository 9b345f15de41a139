package bridge

import (
	"context"
	"log/slog"

	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/process"
)

// GitCommitter commits the configuration work directory.
type GitCommitter struct {
	runner  process.Runner
	workDir string
}

// NewGitCommitter creates a committer for the repository at workDir.
func NewGitCommitter(runner process.Runner, workDir string) *GitCommitter {
	return &GitCommitter{runner: runner, workDir: workDir}
}

func (g *GitCommitter) Commit(ctx context.Context, message string) error {
	slog.Info("git_commit", "work_dir", g.workDir)

	if _, err := g.runner.Run(ctx, "git", []string{"-C", g.workDir, "commit", "-a", "-m", message}, nil); err != nil {
		slog.Error("git_commit_failed", "work_dir", g.workDir, "error", err)
		return errors.Wrap(err, "failed to commit configuration")
	}
	return nil
}
