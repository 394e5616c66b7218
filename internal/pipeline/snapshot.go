package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/renameio/v2"

	"github.com/andywolf/borg/internal/store"
)

const (
	snapshotMaxHistory    = 5
	snapshotTruncateRunes = 2000
)

var remoteOwnerRepoPattern = regexp.MustCompile(`github\.com[:/]([^/]+)/([^/]+?)(\.git)?$`)

// snapshotFile is the on-disk shape of .borg/pipeline-state.json, written
// into the task's worktree after every phase so an operator (or a
// recovering daemon) can see where a task is without querying the store.
// The field set matches the documented schema exactly: task_id, task_title,
// phase, worktree_path, pr_url, pending_approvals, phase_history,
// generated_at.
type snapshotFile struct {
	TaskID           int64                `json:"task_id"`
	TaskTitle        string               `json:"task_title"`
	Phase            string               `json:"phase"`
	WorktreePath     string               `json:"worktree_path"`
	PRURL            *string              `json:"pr_url"`
	PendingApprovals []string             `json:"pending_approvals"`
	PhaseHistory     []snapshotHistoryRow `json:"phase_history"`
	GeneratedAt      time.Time            `json:"generated_at"`
}

type snapshotHistoryRow struct {
	Phase     string    `json:"phase"`
	Success   bool      `json:"success"`
	Output    string    `json:"output"`
	Timestamp time.Time `json:"timestamp"`
}

// writeSnapshot persists the task's current phase, PR status, and recent
// phase history to .borg/pipeline-state.json in its worktree, using
// renameio for an atomic replace so a concurrent reader (or a crash
// mid-write) never observes a half-written file.
func (s *Scheduler) writeSnapshot(task store.Task) {
	history, err := s.db.RecentTaskOutputs(task.ID, snapshotMaxHistory)
	if err != nil {
		return
	}
	rows := make([]snapshotHistoryRow, len(history))
	for i, h := range history {
		rows[i] = snapshotHistoryRow{
			Phase:     h.Phase,
			Success:   h.Success,
			Output:    truncateRunes(h.Output, snapshotTruncateRunes),
			Timestamp: h.Timestamp,
		}
	}

	var prURL *string
	var pendingApprovals []string
	if entries, err := s.db.QueueEntriesForTask(task.ID); err == nil {
		prURL, pendingApprovals = s.summarizeQueueEntries(task, entries)
	}

	dir := s.worktreeDir(task)
	data, err := json.MarshalIndent(snapshotFile{
		TaskID:           task.ID,
		TaskTitle:        task.Title,
		Phase:            task.Status,
		WorktreePath:     dir,
		PRURL:            prURL,
		PendingApprovals: pendingApprovals,
		PhaseHistory:     rows,
		GeneratedAt:      time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return
	}

	path := filepath.Join(dir, ".borg", "pipeline-state.json")
	_ = renameio.WriteFile(path, data, 0o644)
}

// summarizeQueueEntries derives the snapshot's pr_url and pending_approvals
// from a task's integration-queue history: a "merging" entry has an open PR
// awaiting a merge decision (auto-merge declined or failed), so its branch
// counts as a pending approval; the newest entry with a known PR number
// supplies the PR URL.
func (s *Scheduler) summarizeQueueEntries(task store.Task, entries []store.QueueEntry) (*string, []string) {
	var prURL *string
	var pending []string
	for _, e := range entries {
		if e.Status == "merging" {
			pending = append(pending, e.Branch)
		}
		if e.PRNumber > 0 {
			if url := s.prURLFor(task.RepoPath, e.PRNumber); url != "" {
				prURL = &url
			}
		}
	}
	return prURL, pending
}

// prURLFor resolves repoPath's origin remote to a github.com web URL for
// prNumber, returning "" if the remote isn't a recognizable GitHub URL.
func (s *Scheduler) prURLFor(repoPath string, prNumber int64) string {
	remote, err := s.gitForRepo(repoPath).RemoteURL(context.Background())
	if err != nil {
		return ""
	}
	m := remoteOwnerRepoPattern.FindStringSubmatch(strings.TrimSpace(remote))
	if len(m) < 3 {
		return ""
	}
	return fmt.Sprintf("https://github.com/%s/%s/pull/%d", m[1], m[2], prNumber)
}

// truncateRunes truncates s to at most n runes, cutting on a rune
// boundary rather than a byte offset so multi-byte UTF-8 sequences are
// never split.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
