package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/andywolf/borg/internal/modes"
	"github.com/andywolf/borg/internal/store"
)

const (
	taskStartMarker     = "TASK_START"
	taskEndMarker       = "TASK_END"
	proposalStartMarker = "PROPOSAL_START"
	proposalEndMarker   = "PROPOSAL_END"
)

// seedIfIdle runs one seed scan per eligible watched repo when the
// scheduler had nothing else to dispatch this tick. A repo is eligible
// once its backlog is below MaxBacklogPerRepo and its last seed attempt
// is older than SeedCooldown; activeTaskCount is currently unused beyond
// signalling "the pipeline really is idle" to the caller.
func (s *Scheduler) seedIfIdle(ctx context.Context, activeTaskCount int) {
	if !s.cfg.ContinuousMode {
		return
	}
	for _, repo := range s.cfg.WatchedRepos {
		if !s.seedDue(repo.Path) {
			continue
		}
		backlog, err := s.db.CountActiveTasksForRepo(repo.Path)
		if err != nil {
			slog.Error("pipeline: count active tasks", "repo", repo.Path, "error", err)
			continue
		}
		if backlog >= s.cfg.MaxBacklogPerRepo {
			continue
		}
		s.markSeeded(repo.Path)
		go s.runSeed(ctx, repo)
	}
}

func (s *Scheduler) seedDue(repoPath string) bool {
	s.lastSeed.mu.Lock()
	defer s.lastSeed.mu.Unlock()
	last, ok := s.lastSeed.at[repoPath]
	if !ok {
		return true
	}
	return time.Since(last) >= s.cfg.SeedCooldown
}

func (s *Scheduler) markSeeded(repoPath string) {
	s.lastSeed.mu.Lock()
	defer s.lastSeed.mu.Unlock()
	s.lastSeed.at[repoPath] = time.Now()
}

// runSeed runs the repo's mode's configured seed scans in turn, parsing
// each scan's output for TASK or PROPOSAL blocks and inserting the
// corresponding row. A scan producing neither is silently skipped: an
// agent finding nothing actionable is a normal, frequent outcome.
func (s *Scheduler) runSeed(ctx context.Context, repo RepoConfig) {
	mode, ok := modesGet(repo.Mode)
	if !ok || len(mode.SeedModes) == 0 {
		return
	}

	for _, seed := range mode.SeedModes {
		cfg := modes.PhaseConfig{
			Name:         seed.Name,
			Label:        seed.Label,
			Type:         modes.PhaseAgent,
			Instruction:  seed.Prompt,
			AllowedTools: seed.AllowedTools,
			FreshSession: true,
		}
		if cfg.AllowedTools == "" {
			cfg.AllowedTools = "Read,Glob,Grep,Bash"
		}

		bctx := BackendPhaseContext{
			Task:  store.Task{RepoPath: repo.Path},
			Model: s.cfg.DefaultModel,
		}
		out, err := s.backend.RunPhase(ctx, cfg, bctx)
		if err != nil || !out.Success {
			if err != nil {
				slog.Error("pipeline: seed scan failed", "repo", repo.Path, "seed", seed.Name, "error", err)
			}
			continue
		}

		s.ingestSeedOutput(repo, seed, out.Output)
	}
}

func (s *Scheduler) ingestSeedOutput(repo RepoConfig, seed modes.SeedConfig, output string) {
	switch seed.OutputType {
	case modes.SeedOutputTask:
		for _, block := range extractBlocks(output, taskStartMarker, taskEndMarker) {
			title := extractField(block, "title")
			desc := extractField(block, "description")
			if title == "" {
				continue
			}
			_, err := s.db.InsertTask(store.Task{
				Title:       title,
				Description: desc,
				RepoPath:    repo.Path,
				Status:      "backlog",
				MaxAttempts: 3,
				CreatedBy:   "seed:" + seed.Name,
				Mode:        repo.Mode,
				Backend:     repo.Backend,
			})
			if err != nil {
				slog.Error("pipeline: insert seeded task", "repo", repo.Path, "error", err)
			}
		}
	case modes.SeedOutputProposal:
		for _, block := range extractBlocks(output, proposalStartMarker, proposalEndMarker) {
			title := extractField(block, "title")
			if title == "" {
				continue
			}
			_, err := s.db.InsertProposal(store.Proposal{
				RepoPath:    repo.Path,
				Title:       title,
				Description: extractField(block, "description"),
				Rationale:   extractField(block, "rationale"),
				Status:      "pending",
			})
			if err != nil {
				slog.Error("pipeline: insert seeded proposal", "repo", repo.Path, "error", err)
			}
		}
	}
}

// extractBlocks returns the text between every start/end marker pair, in
// order. Markers are matched by plain substring search, not regex: seed
// agents are instructed to emit these on their own lines, and the exact
// sentinel text is controlled, not adversarial input.
func extractBlocks(text, start, end string) []string {
	var blocks []string
	rest := text
	for {
		si := strings.Index(rest, start)
		if si < 0 {
			break
		}
		rest = rest[si+len(start):]
		ei := strings.Index(rest, end)
		if ei < 0 {
			break
		}
		blocks = append(blocks, strings.TrimSpace(rest[:ei]))
		rest = rest[ei+len(end):]
	}
	return blocks
}

// extractField pulls a "key: value" line out of a block, trimming
// whitespace; it returns the first match and ignores any later
// duplicate key in the same block.
func extractField(block, key string) string {
	prefix := key + ":"
	for _, line := range strings.Split(block, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), strings.ToLower(prefix)) {
			return strings.TrimSpace(trimmed[len(prefix):])
		}
	}
	return ""
}
