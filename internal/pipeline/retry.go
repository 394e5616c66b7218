package pipeline

import (
	"context"
	"log/slog"

	"github.com/andywolf/borg/internal/store"
)

// failOrRetry records err as the task's last error and either bumps its
// attempt counter and re-queues it at the phase it failed on, or marks it
// failed once MaxAttempts is exhausted. It always returns nil: a failed
// agent run is an expected outcome the scheduler records, not a Tick-level
// error worth logging as such.
func (s *Scheduler) failOrRetry(task store.Task, phase, errMsg string) error {
	attempt, err := s.db.IncrementAttempt(task.ID, errMsg)
	if err != nil {
		return err
	}

	if attempt > task.MaxAttempts {
		if uerr := s.db.UpdateTaskStatus(task.ID, "failed"); uerr != nil {
			return uerr
		}
		s.Emit(Event{Kind: "notify", TaskID: &task.ID, ChatID: task.NotifyChat,
			Message: "task " + task.Title + " failed after " + phase + ": " + errMsg})
		if task.Branch != "" {
			if cerr := s.cleanupWorktree(context.Background(), task); cerr != nil {
				slog.Warn("pipeline: cleanup worktree after failure", "task_id", task.ID, "error", cerr)
			}
		}
		return nil
	}

	slog.Warn("pipeline: phase failed, retrying", "task_id", task.ID, "phase", phase, "attempt", attempt, "error", errMsg)
	return s.db.UpdateTaskStatus(task.ID, phase)
}
