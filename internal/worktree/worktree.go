// Package worktree creates per-module git worktrees for a mission. It
// only ever invokes the external `git worktree` command and reports a
// typed fallback when that isn't possible — the kernel never implements
// git plumbing itself.
package worktree

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/csk-next/csk/internal/domain"
	"github.com/csk-next/csk/internal/pathio"
)

// Create attempts to create a git worktree for a module at targetDir on a
// new branch. If targetDir already exists and is non-empty, it is treated
// as already created. If repoRoot is not inside a git work tree, or the
// worktree add fails even after retrying against an existing branch, a
// fallback record is returned rather than an error — mission creation
// continues with tasks unworktreed.
func Create(ctx context.Context, repoRoot, moduleID, targetDir, branch string) domain.WorktreeRecord {
	rec := domain.WorktreeRecord{ModuleID: moduleID, Path: targetDir, Branch: branch}

	if !isGitRepo(ctx, repoRoot) {
		rec.CreateStatus = "fallback"
		rec.FallbackReason = "not_a_git_repository"
		return rec
	}

	if dirNonEmpty(targetDir) {
		rec.CreateStatus = "existing"
		return rec
	}

	if out, ok := runGit(ctx, repoRoot, "worktree", "add", "-b", branch, targetDir, "HEAD"); ok {
		rec.CreateStatus = "created"
		return rec
	} else if out2, ok2 := runGit(ctx, repoRoot, "worktree", "add", targetDir, branch); ok2 {
		rec.CreateStatus = "created"
		return rec
	} else {
		rec.CreateStatus = "fallback"
		rec.FallbackReason = "worktree_create_failed: " + strings.TrimSpace(out + out2)
		return rec
	}
}

func isGitRepo(ctx context.Context, repoRoot string) bool {
	_, ok := runGit(ctx, repoRoot, "rev-parse", "--is-inside-work-tree")
	return ok
}

func dirNonEmpty(dir string) bool {
	if !pathio.Exists(dir) {
		return false
	}
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

func runGit(ctx context.Context, dir string, args ...string) (string, bool) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err == nil
}
