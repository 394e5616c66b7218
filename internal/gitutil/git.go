// Package gitutil wraps the git CLI with the small set of operations the
// pipeline needs to manage per-task worktrees: creating and tearing them
// down, rebasing onto the default branch, and committing/pushing phase
// output.
package gitutil

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ExecResult captures a git invocation's output and exit status.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the command exited zero.
func (r ExecResult) Success() bool { return r.ExitCode == 0 }

// CombinedOutput joins stdout and stderr for error messages and logs.
func (r ExecResult) CombinedOutput() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Git wraps operations against a single repository checkout.
type Git struct {
	RepoPath string
}

// New returns a Git bound to repoPath.
func New(repoPath string) *Git {
	return &Git{RepoPath: repoPath}
}

// WorktreePath returns the conventional worktree location for a task
// branch, sibling to the main checkout.
func (g *Git) WorktreePath(branch string) string {
	return g.RepoPath + "-worktrees/" + branch
}

// Exec runs `git -C RepoPath <args...>` and captures output without
// failing on a non-zero exit; callers inspect ExecResult.Success().
func (g *Git) Exec(ctx context.Context, args ...string) (ExecResult, error) {
	return g.execEnv(ctx, nil, args...)
}

func (g *Git) execEnv(ctx context.Context, env []string, args ...string) (ExecResult, error) {
	fullArgs := append([]string{"-C", g.RepoPath}, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)
	if env != nil {
		cmd.Env = env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("exec git %v: %w", args, err)
	}
	return res, nil
}

// RemoteURL returns the configured origin URL, used to derive a PR's web
// URL for the pipeline-state snapshot.
func (g *Git) RemoteURL(ctx context.Context) (string, error) {
	res, err := g.Exec(ctx, "config", "--get", "remote.origin.url")
	if err != nil {
		return "", err
	}
	if !res.Success() {
		return "", fmt.Errorf("git remote.origin.url: %s", res.CombinedOutput())
	}
	return strings.TrimSpace(res.Stdout), nil
}

// CreateWorktree adds a new worktree at WorktreePath(branch), creating
// branch from base.
func (g *Git) CreateWorktree(ctx context.Context, branch, base string) (ExecResult, error) {
	return g.Exec(ctx, "worktree", "add", "-b", branch, g.WorktreePath(branch), base)
}

// RemoveWorktree removes the worktree and deletes the branch, then prunes
// stale worktree metadata. Failures on any individual step are not fatal
// to the others: a partially torn-down worktree should still be pruned.
func (g *Git) RemoveWorktree(ctx context.Context, branch string) error {
	path := g.WorktreePath(branch)
	_, _ = g.Exec(ctx, "worktree", "remove", "--force", path)
	_, _ = g.Exec(ctx, "branch", "-D", branch)
	_, err := g.Exec(ctx, "worktree", "prune")
	return err
}

// RevParseHead returns the current HEAD commit sha.
func (g *Git) RevParseHead(ctx context.Context) (string, error) {
	return g.RevParse(ctx, "HEAD")
}

// RevParse resolves an arbitrary ref.
func (g *Git) RevParse(ctx context.Context, ref string) (string, error) {
	res, err := g.Exec(ctx, "rev-parse", ref)
	if err != nil {
		return "", err
	}
	if !res.Success() {
		return "", fmt.Errorf("rev-parse %s: %s", ref, res.CombinedOutput())
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Checkout switches to ref.
func (g *Git) Checkout(ctx context.Context, ref string) (ExecResult, error) {
	return g.Exec(ctx, "checkout", ref)
}

// FetchOrigin fetches all refs from origin.
func (g *Git) FetchOrigin(ctx context.Context) (ExecResult, error) {
	return g.Exec(ctx, "fetch", "origin")
}

// Pull fast-forwards onto origin/branch, falling back to a hard reset if
// the fast-forward is rejected (the worktree has no local commits worth
// preserving at this point in the phase lifecycle).
func (g *Git) Pull(ctx context.Context, branch string) (ExecResult, error) {
	res, err := g.Exec(ctx, "merge", "--ff-only", "origin/"+branch)
	if err != nil {
		return res, err
	}
	if res.Success() {
		return res, nil
	}
	return g.Exec(ctx, "reset", "--hard", "origin/"+branch)
}

// RebaseOntoMain rebases the current branch onto origin/<mainBranch>.
func (g *Git) RebaseOntoMain(ctx context.Context, mainBranch string) (ExecResult, error) {
	return g.Exec(ctx, "rebase", "origin/"+mainBranch)
}

// AbortRebase cleans up a rebase left in progress after a failed attempt.
func (g *Git) AbortRebase(ctx context.Context) (ExecResult, error) {
	return g.Exec(ctx, "rebase", "--abort")
}

// PushForce force-pushes branch to origin with lease protection.
func (g *Git) PushForce(ctx context.Context, branch string) (ExecResult, error) {
	return g.Exec(ctx, "push", "--force-with-lease", "origin", branch)
}

// Push pushes branch to origin, creating the upstream if absent.
func (g *Git) Push(ctx context.Context, branch string) (ExecResult, error) {
	return g.Exec(ctx, "push", "-u", "origin", branch)
}

// DeleteRemoteBranch removes branch from origin.
func (g *Git) DeleteRemoteBranch(ctx context.Context, branch string) (ExecResult, error) {
	return g.Exec(ctx, "push", "origin", "--delete", branch)
}

// CommitAll stages every change and commits with message and an optional
// author override (used to attribute commits to an agent co-author). It
// reports hasChanges=false without error when the tree was already clean,
// so callers can distinguish "nothing to commit" from a real failure.
func (g *Git) CommitAll(ctx context.Context, message string, authorEnv []string) (hasChanges bool, res ExecResult, err error) {
	if _, err := g.Exec(ctx, "add", "-A"); err != nil {
		return false, ExecResult{}, err
	}
	status, err := g.Exec(ctx, "status", "--porcelain")
	if err != nil {
		return false, ExecResult{}, err
	}
	if strings.TrimSpace(status.Stdout) == "" {
		return false, ExecResult{}, nil
	}
	res, err = g.execEnv(ctx, authorEnv, "commit", "-m", message)
	if err != nil {
		return false, res, err
	}
	return res.Success(), res, nil
}

// LsFiles lists tracked files, used to build file-listing context for an
// agent prompt.
func (g *Git) LsFiles(ctx context.Context) ([]string, error) {
	res, err := g.Exec(ctx, "ls-files")
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return nil, fmt.Errorf("ls-files: %s", res.CombinedOutput())
	}
	var files []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// StatusPorcelain returns `git status --porcelain` output, empty when clean.
func (g *Git) StatusPorcelain(ctx context.Context) (string, error) {
	res, err := g.Exec(ctx, "status", "--porcelain")
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}
