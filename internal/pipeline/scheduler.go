package pipeline

import (
	"context"
	"log/slog"

	"github.com/andywolf/borg/internal/store"
)

// Tick lists every active task, dispatches as many as the concurrency cap
// allows onto detached goroutines, and seeds new backlog work if the
// pipeline is otherwise idle. Tick itself never blocks on a phase
// execution: every dispatch is `go s.processTask(...)`, so a slow agent
// run on one task never delays the next tick's scan of the others.
func (s *Scheduler) Tick(ctx context.Context) {
	tasks, err := s.db.ListActiveTasks()
	if err != nil {
		slog.Error("pipeline: list active tasks", "error", err)
		return
	}

	orderTasksForDispatch(tasks)

	dispatched := 0
	for _, t := range tasks {
		if !s.tryClaim(t.ID) {
			continue
		}
		task := t
		ok := s.dispatchGroup.TryGo(func() error {
			defer s.release(task.ID)
			if err := s.processTask(ctx, task); err != nil {
				slog.Error("pipeline: process task", "task_id", task.ID, "error", err)
			}
			return nil
		})
		if !ok {
			s.release(task.ID)
			break
		}
		dispatched++
	}

	if dispatched == 0 {
		s.seedIfIdle(ctx, len(tasks))
	}
}

// orderTasksForDispatch biases dispatch order toward tasks already deep
// in the pipeline (rebase, retry-pending) ahead of fresh or low-priority
// work, so a backlog of new tasks never starves work that's one phase
// from shipping.
func orderTasksForDispatch(tasks []store.Task) {
	weight := func(status string) int {
		switch status {
		case "rebase":
			return 0
		case "impl", "qa_fix", "retry":
			return 1
		case "lint_fix":
			return 2
		case "spec", "qa":
			return 3
		default:
			return 4
		}
	}
	// insertion sort: task lists per tick are small (bounded by
	// pipeline_max_backlog), so O(n^2) is plenty and keeps this
	// allocation-free relative to sort.Slice's interface boxing.
	for i := 1; i < len(tasks); i++ {
		j := i
		for j > 0 && weight(tasks[j].Status) < weight(tasks[j-1].Status) {
			tasks[j], tasks[j-1] = tasks[j-1], tasks[j]
			j--
		}
	}
}

func (s *Scheduler) activeCount() int {
	s.inFlight.mu.Lock()
	defer s.inFlight.mu.Unlock()
	return len(s.inFlight.set)
}

func (s *Scheduler) tryClaim(id int64) bool {
	s.inFlight.mu.Lock()
	defer s.inFlight.mu.Unlock()
	if _, ok := s.inFlight.set[id]; ok {
		return false
	}
	s.inFlight.set[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id int64) {
	s.inFlight.mu.Lock()
	defer s.inFlight.mu.Unlock()
	delete(s.inFlight.set, id)
}
