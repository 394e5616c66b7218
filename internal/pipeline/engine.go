package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/andywolf/borg/internal/agentevents"
	"github.com/andywolf/borg/internal/audit"
	"github.com/andywolf/borg/internal/ipc"
	"github.com/andywolf/borg/internal/modes"
	"github.com/andywolf/borg/internal/store"
)

// processTask resolves the task's mode and current phase, then dispatches
// to the phase-type-specific executor. Tasks whose mode can't be resolved
// fall back to "sweborg" rather than stalling forever on a typo'd mode
// name picked up from an older config.
func (s *Scheduler) processTask(ctx context.Context, task store.Task) error {
	mode, ok := modesGet(task.Mode)
	if !ok {
		mode, ok = modesGet("sweborg")
		if !ok {
			return fmt.Errorf("no fallback mode registered")
		}
	}

	if task.Status == mode.InitialStatus && mode.UsesGitWorktrees && task.Branch == "" {
		if err := s.setupBranch(ctx, task, mode); err != nil {
			return s.failOrRetry(task, "setup", err.Error())
		}
		return nil
	}

	phase, ok := mode.GetPhase(task.Status)
	if !ok {
		// status isn't a phase name (e.g. "backlog", "proposed", a
		// terminal state already handled upstream by ListActiveTasks).
		return nil
	}

	switch phase.Type {
	case modes.PhaseSetup:
		return s.db.UpdateTaskStatus(task.ID, phase.Next)
	case modes.PhaseAgent:
		return s.runAgentPhase(ctx, task, mode, phase)
	case modes.PhaseRebase:
		return s.runRebasePhase(ctx, task, mode, phase)
	case modes.PhaseLintFix:
		return s.runLintFixPhase(ctx, task, mode, phase)
	default:
		return fmt.Errorf("unknown phase type %q", phase.Type)
	}
}

// setupBranch creates the task's worktree branch from origin/<main> and
// advances status to the first non-setup phase. Modes that don't use git
// worktrees skip straight past this (setupBranch is never called for them).
func (s *Scheduler) setupBranch(ctx context.Context, task store.Task, mode modes.PipelineMode) error {
	g := s.gitForRepo(task.RepoPath)
	if _, err := g.FetchOrigin(ctx); err != nil {
		return fmt.Errorf("fetch origin: %w", err)
	}
	branch := fmt.Sprintf("task-%d", task.ID)
	if res, err := g.CreateWorktree(ctx, branch, "origin/"+s.cfg.MainBranch); err != nil || !res.Success() {
		if err != nil {
			return fmt.Errorf("create worktree: %w", err)
		}
		return fmt.Errorf("create worktree: %s", res.CombinedOutput())
	}
	if err := s.db.UpdateTaskBranch(task.ID, branch); err != nil {
		return err
	}
	next := mode.InitialStatus
	if idx := mode.GetPhaseIndex(mode.InitialStatus); idx >= 0 {
		for i := idx; i < len(mode.Phases); i++ {
			if mode.Phases[i].Type != modes.PhaseSetup {
				next = mode.Phases[i].Name
				break
			}
		}
	}
	return s.db.UpdateTaskStatus(task.ID, next)
}

// runAgentPhase runs an Agent-type phase and applies its post-run gates
// in order: artifact check, commit gate, then (if configured) the test
// gate, which can itself route to a qa_fix phase instead of a plain retry.
func (s *Scheduler) runAgentPhase(ctx context.Context, task store.Task, mode modes.PipelineMode, phase modes.PhaseConfig) error {
	g := s.gitForRepo(s.worktreeDir(task))
	var fileListing []string
	if phase.IncludeFileListing {
		fileListing, _ = g.LsFiles(ctx)
	}

	pending, err := s.db.PendingMessages(task.ID)
	if err != nil {
		return err
	}

	bctx := BackendPhaseContext{
		Task:               task,
		SessionDir:         s.sessionDir(task),
		WorktreePath:       s.worktreeDir(task),
		OAuthToken:         "", // resolved by the concrete Backend from its own token source
		Model:              s.cfg.DefaultModel,
		PendingMessages:    pending,
		SystemPromptSuffix: s.systemPromptSuffix(),
		FileListing:        fileListing,
	}
	bctx.OnLine = func(line string) {
		s.Emit(Event{Kind: "task_output", TaskID: &task.ID, Message: line})
	}

	out, err := s.backend.RunPhase(ctx, phase, bctx)
	if err != nil {
		return s.failOrRetry(task, phase.Name, err.Error())
	}

	if out.NewSessionID != "" {
		_ = s.db.UpdateTaskSession(task.ID, out.NewSessionID)
	}
	s.logToolAudit(task, out.RawStream)
	if len(pending) > 0 {
		ids := make([]int64, len(pending))
		for i, m := range pending {
			ids[i] = m.ID
		}
		_ = s.db.MarkMessagesDelivered(ids)
	}

	result, _ := agentevents.ExtractPhaseResult(out.Output)
	if result == "" {
		result = out.Output
	}
	_ = s.db.InsertTaskOutput(task.ID, phase.Name, result, out.Success)
	s.Emit(Event{Kind: "phase_result", TaskID: &task.ID, ChatID: task.NotifyChat, Message: result})
	s.writeSnapshot(task)

	if !out.Success {
		return s.failOrRetry(task, phase.Name, "agent run timed out")
	}

	if phase.CheckArtifact != "" && !ipc.CheckArtifact(s.worktreeDir(task), phase.CheckArtifact) && result == "" {
		return s.failOrRetry(task, phase.Name, "missing artifact: "+phase.CheckArtifact)
	}

	if phase.Commits {
		env := s.commitAuthorEnv()
		hasChanges, res, err := g.CommitAll(ctx, s.commitMessage(phase), env)
		if err != nil {
			return s.failOrRetry(task, phase.Name, err.Error())
		}
		if !hasChanges && !phase.AllowNoChanges {
			return s.failOrRetry(task, phase.Name, "agent made no changes")
		}
		if hasChanges && !res.Success() {
			return s.failOrRetry(task, phase.Name, "commit failed: "+res.CombinedOutput())
		}
	}

	if phase.RunsTests && mode.UsesTestCmd {
		rc := s.repoConfig(task.RepoPath)
		testOut, exitCode, err := runTestCommand(ctx, rc.TestCmd, s.worktreeDir(task))
		if err != nil {
			return s.failOrRetry(task, phase.Name, err.Error())
		}
		if exitCode != 0 {
			if phase.HasQAFixRouting && errorIsInTestFiles(testOut) {
				return s.db.UpdateTaskStatusWithError(task.ID, "qa_fix", testOut)
			}
			return s.failOrRetry(task, "retry", testOut)
		}
	}

	_ = s.db.ClearLastError(task.ID)
	return s.advancePhase(ctx, task, mode, phase)
}

// runRebasePhase fetches and rebases the task branch onto main. A
// conflicting rebase spawns one fresh-session fix attempt using the
// phase's FixInstruction before giving up and routing to fail_or_retry.
func (s *Scheduler) runRebasePhase(ctx context.Context, task store.Task, mode modes.PipelineMode, phase modes.PhaseConfig) error {
	g := s.gitForRepo(s.worktreeDir(task))
	if _, err := g.FetchOrigin(ctx); err != nil {
		return s.failOrRetry(task, phase.Name, err.Error())
	}
	res, err := g.RebaseOntoMain(ctx, s.cfg.MainBranch)
	if err != nil {
		return s.failOrRetry(task, phase.Name, err.Error())
	}
	if res.Success() {
		return s.advancePhase(ctx, task, mode, phase)
	}

	if phase.FixInstruction != "" {
		fixPhase := phase
		fixPhase.Instruction = phase.FixInstruction
		fixPhase.IncludeTaskContext = false
		fixPhase.FreshSession = true
		fixPhase.Commits = true
		fixPhase.CommitMessage = "Resolve rebase conflicts"
		fixPhase.AllowNoChanges = false

		bctx := BackendPhaseContext{
			Task:         task,
			SessionDir:   s.sessionDir(task),
			WorktreePath: s.worktreeDir(task),
			Model:        s.cfg.DefaultModel,
		}
		out, runErr := s.backend.RunPhase(ctx, fixPhase, bctx)
		if runErr == nil && out.Success {
			if finishRes, _ := g.Exec(ctx, "rebase", "--continue"); finishRes.Success() {
				return s.advancePhase(ctx, task, mode, phase)
			}
		}
	}

	_, _ = g.AbortRebase(ctx)
	return s.failOrRetry(task, phase.Name, "rebase conflicts: "+res.CombinedOutput())
}

// runLintFixPhase runs the repo's lint command once; on failure it spawns
// up to two agent fix attempts, re-verifying after each, before failing.
func (s *Scheduler) runLintFixPhase(ctx context.Context, task store.Task, mode modes.PipelineMode, phase modes.PhaseConfig) error {
	rc := s.repoConfig(task.RepoPath)
	lintCmd := rc.LintCmd
	if lintCmd == "" {
		lintCmd = ".borg/lint.sh"
	}

	const maxFixAttempts = 2
	var lastOutput string
	for attempt := 0; attempt <= maxFixAttempts; attempt++ {
		output, exitCode, err := runTestCommand(ctx, lintCmd, s.worktreeDir(task))
		if err != nil {
			return s.failOrRetry(task, phase.Name, err.Error())
		}
		if exitCode == 0 {
			return s.advancePhase(ctx, task, mode, phase)
		}
		lastOutput = output
		if attempt == maxFixAttempts {
			break
		}

		fixPhase := phase
		fixPhase.Instruction = strings.ReplaceAll(phase.Instruction, "{ERROR}", output)
		fixPhase.ErrorInstruction = ""
		fixPhase.FreshSession = attempt == 0 && task.SessionID == ""

		bctx := BackendPhaseContext{
			Task:         task,
			SessionDir:   s.sessionDir(task),
			WorktreePath: s.worktreeDir(task),
			Model:        s.cfg.DefaultModel,
		}
		out, runErr := s.backend.RunPhase(ctx, fixPhase, bctx)
		if runErr != nil || !out.Success {
			continue
		}
		if phase.Commits {
			g := s.gitForRepo(s.worktreeDir(task))
			_, _, _ = g.CommitAll(ctx, phase.CommitMessage, s.commitAuthorEnv())
		}
	}

	return s.failOrRetry(task, phase.Name, lastOutput)
}

// advancePhase moves the task to phase.Next. "done" either enqueues the
// branch for integration (GitPr mode) or simply marks the task done (no
// worktree, or no integration configured); any other value is just the
// next phase name.
func (s *Scheduler) advancePhase(ctx context.Context, task store.Task, mode modes.PipelineMode, phase modes.PhaseConfig) error {
	if phase.Next != "done" {
		return s.db.UpdateTaskStatus(task.ID, phase.Next)
	}
	if err := s.db.UpdateTaskStatus(task.ID, "done"); err != nil {
		return err
	}
	if mode.Integration == modes.IntegrationGitPR && mode.UsesGitWorktrees {
		g := s.gitForRepo(s.worktreeDir(task))
		if _, err := g.Push(ctx, task.Branch); err != nil {
			return err
		}
		_, err := s.db.EnqueueIntegration(task.ID, task.Branch, task.RepoPath)
		return err
	}
	if mode.UsesGitWorktrees {
		return s.cleanupWorktree(ctx, task)
	}
	return nil
}

func (s *Scheduler) worktreeDir(task store.Task) string {
	if task.Branch == "" {
		return task.RepoPath
	}
	return s.gitForRepo(task.RepoPath).WorktreePath(task.Branch)
}

func (s *Scheduler) sessionDir(task store.Task) string {
	return fmt.Sprintf("%s/.borg/sessions/task-%d", task.RepoPath, task.ID)
}

func (s *Scheduler) cleanupWorktree(ctx context.Context, task store.Task) error {
	return s.gitForRepo(task.RepoPath).RemoveWorktree(ctx, task.Branch)
}

// logToolAudit classifies every tool_use block in a phase's raw NDJSON
// stream (sensitive file writes, outbound fetches, package installs) and
// emits one structured log line per finding for forensic visibility.
func (s *Scheduler) logToolAudit(task store.Task, rawStream string) {
	if rawStream == "" {
		return
	}
	parsed := agentevents.ParseStream([]byte(rawStream))
	if len(parsed.ToolCalls) == 0 {
		return
	}
	calls := make([]interface{}, len(parsed.ToolCalls))
	for i, c := range parsed.ToolCalls {
		calls[i] = c
	}
	taskID := strconv.FormatInt(task.ID, 10)
	for _, evt := range audit.ExtractFromClaudeCode(calls, "claude-code", taskID) {
		slog.Info("pipeline: audit event", "category", evt.Category, "tool", evt.ToolName, "task_id", taskID, "detail", evt.Message)
	}
}

func (s *Scheduler) commitMessage(phase modes.PhaseConfig) string {
	if phase.CommitMessage != "" {
		return phase.CommitMessage
	}
	return "Phase: " + phase.Label
}

// runTestCommand runs cmd (via `sh -c`) in dir and returns its combined
// output and exit code. A non-zero exit is not itself an error value:
// callers branch on exitCode, keeping "the tests failed" distinct from
// "we couldn't even run the test command".
func runTestCommand(ctx context.Context, cmd, dir string) (string, int, error) {
	if cmd == "" {
		return "", 0, nil
	}
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	c.Dir = dir
	out, err := c.CombinedOutput()
	if exitErr, ok := err.(*exec.ExitError); ok {
		return string(out), exitErr.ExitCode(), nil
	}
	if err != nil {
		return string(out), -1, fmt.Errorf("run test command: %w", err)
	}
	return string(out), 0, nil
}

// errorIsInTestFiles heuristically decides whether a test failure's
// output points at the test files themselves (likely a bad/flaky test
// the qa_fix phase should address) rather than at application code.
func errorIsInTestFiles(output string) bool {
	markers := []string{"_test.", "/tests/", "test_", ".test.", "spec."}
	for _, m := range markers {
		if strings.Contains(output, m) {
			return true
		}
	}
	return false
}

// modesGet is a thin indirection over modes.Get, kept as a free function
// (not a Scheduler method) since the mode registry is a process-wide
// singleton, not something a Scheduler instance owns.
func modesGet(name string) (modes.PipelineMode, bool) {
	return modes.Get(name)
}
