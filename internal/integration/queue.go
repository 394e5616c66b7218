// Package integration processes the integration queue: pushing finished
// task branches and opening (optionally auto-merging) their pull
// requests, with startup orphan recovery for crashes mid-flight.
package integration

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/andywolf/borg/internal/gitutil"
	"github.com/andywolf/borg/internal/github"
	"github.com/andywolf/borg/internal/security"
	"github.com/andywolf/borg/internal/store"
	"golang.org/x/sync/errgroup"
)

// PollInterval is how often Processor.Run polls the queue for new entries.
const PollInterval = 60 * time.Second

// ghCallsPerMinute bounds how many `gh` subprocess calls a single repo can
// trigger per minute, since a burst of finished tasks in one repo can
// otherwise submit more PR operations than GitHub's abuse limits like.
const ghCallsPerMinute = 20

// maxConcurrentEntries bounds how many queue entries a single poll
// processes at once; entries for different repos are independent, so
// fanning them out shortens a poll when many tasks finish in the same
// window.
const maxConcurrentEntries = 4

var prURLPattern = regexp.MustCompile(`https://github\.com/[^/]+/[^/]+/pull/(\d+)`)

// Processor drains the integration queue: push, open PR, optionally
// auto-merge, and record the resulting status on both the queue entry
// and its task.
type Processor struct {
	db      *store.Store
	tokens  *github.TokenManager
	limiter *security.RateLimiter
}

// New builds a Processor backed by db, authenticating `gh` invocations
// with tokens from the GitHub App token manager.
func New(db *store.Store, tokens *github.TokenManager) *Processor {
	return &Processor{db: db, tokens: tokens, limiter: security.NewRateLimiter(ghCallsPerMinute, time.Minute)}
}

// Run polls the queue on PollInterval until ctx is canceled. Call
// RecoverOrphans once at startup before the first Run tick.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.processOnce(ctx)
		}
	}
}

func (p *Processor) processOnce(ctx context.Context) {
	entries, err := p.db.ListQueueByStatus("queued")
	if err != nil {
		slog.Error("integration: list queue", "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentEntries)
	for _, e := range entries {
		entry := e
		g.Go(func() error {
			if err := p.processEntry(gctx, entry); err != nil {
				slog.Error("integration: process queue entry", "entry_id", entry.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Processor) processEntry(ctx context.Context, e store.QueueEntry) error {
	if !p.limiter.Allow(e.RepoPath) {
		slog.Warn("integration: rate limit hit, deferring to next poll", "repo", e.RepoPath)
		return nil
	}

	if err := p.db.UpdateQueueStatus(e.ID, "merging", 0); err != nil {
		return err
	}

	g := gitutil.New(e.RepoPath)
	token, err := p.tokens.Token()
	if err != nil {
		return p.fail(e, fmt.Errorf("fetch github token: %w", err))
	}

	if res, err := g.Push(ctx, e.Branch); err != nil || !res.Success() {
		if err == nil {
			err = fmt.Errorf("git push failed: %s", res.CombinedOutput())
		}
		return p.fail(e, err)
	}

	task, err := p.db.GetTask(e.TaskID)
	if err != nil {
		return p.fail(e, err)
	}

	prNumber, err := p.openPR(ctx, e, token, task)
	if err != nil {
		return p.fail(e, err)
	}

	rc, ok, _ := p.db.GetRepoConfig(e.RepoPath)
	autoMerge := ok && rc.AutoMerge
	if autoMerge {
		if err := p.autoMerge(ctx, e, token, prNumber); err != nil {
			slog.Warn("integration: auto-merge failed, leaving PR open", "entry_id", e.ID, "error", err)
			return p.db.UpdateQueueStatus(e.ID, "merging", prNumber)
		}
		if err := p.db.UpdateTaskStatus(e.TaskID, "merged"); err != nil {
			return err
		}
		return p.db.UpdateQueueStatus(e.ID, "merged", prNumber)
	}

	return p.db.UpdateQueueStatus(e.ID, "merging", prNumber)
}

func (p *Processor) openPR(ctx context.Context, e store.QueueEntry, token string, task store.Task) (int64, error) {
	title := fmt.Sprintf("task-%d", e.TaskID)
	body := task.Description
	if body == "" {
		body = task.Title
	}
	cmd := exec.CommandContext(ctx, "gh", "pr", "create",
		"--title", title,
		"--body", body,
		"--head", e.Branch,
	)
	cmd.Dir = e.RepoPath
	cmd.Env = append(cmd.Env, "GITHUB_TOKEN="+token)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("gh pr create: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	number, _ := parsePRNumber(string(out))
	return number, nil
}

func (p *Processor) autoMerge(ctx context.Context, e store.QueueEntry, token string, prNumber int64) error {
	cmd := exec.CommandContext(ctx, "gh", "pr", "merge", strconv.FormatInt(prNumber, 10),
		"--squash", "--auto")
	cmd.Dir = e.RepoPath
	cmd.Env = append(cmd.Env, "GITHUB_TOKEN="+token)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("gh pr merge: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (p *Processor) fail(e store.QueueEntry, cause error) error {
	if uerr := p.db.UpdateQueueStatus(e.ID, "failed", 0); uerr != nil {
		return uerr
	}
	return cause
}

// RecoverOrphans re-enqueues done tasks missing a queue entry (a crash
// between advancePhase's UpdateTaskStatus and EnqueueIntegration) and
// resets any entry stuck in "merging" whose task never reached "merged"
// (a crash mid-PR) back to "queued" for a retry.
func (p *Processor) RecoverOrphans() error {
	merging, err := p.db.ListQueueByStatus("merging")
	if err != nil {
		return err
	}
	for _, e := range merging {
		task, err := p.db.GetTask(e.TaskID)
		if err != nil {
			continue
		}
		if task.Status != "merged" {
			if err := p.db.UpdateQueueStatus(e.ID, "queued", 0); err != nil {
				return err
			}
		}
	}

	return p.recoverMissingQueueEntries()
}

// recoverMissingQueueEntries re-enqueues any "done" task that has no
// queue entry at all, covering a crash between advancePhase marking the
// task done and its EnqueueIntegration call landing.
func (p *Processor) recoverMissingQueueEntries() error {
	queued, err := p.db.ListQueueByStatus("queued")
	if err != nil {
		return err
	}
	merging, err := p.db.ListQueueByStatus("merging")
	if err != nil {
		return err
	}
	have := make(map[int64]bool, len(queued)+len(merging))
	for _, e := range queued {
		have[e.TaskID] = true
	}
	for _, e := range merging {
		have[e.TaskID] = true
	}

	doneTasks, err := p.db.ListTasksByStatus("done")
	if err != nil {
		return err
	}
	for _, t := range doneTasks {
		if have[t.ID] {
			continue
		}
		if _, err := p.db.EnqueueIntegration(t.ID, t.Branch, t.RepoPath); err != nil {
			return err
		}
	}
	return nil
}

func parsePRNumber(out string) (int64, error) {
	m := prURLPattern.FindStringSubmatch(strings.TrimSpace(out))
	if len(m) < 2 {
		return 0, fmt.Errorf("could not parse PR number from: %s", strings.TrimSpace(out))
	}
	return strconv.ParseInt(m[1], 10, 64)
}
