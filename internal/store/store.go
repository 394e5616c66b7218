package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a thin repository over the pipeline's SQLite database. Every
// method takes and returns plain values (no transactions leak out),
// leaving statement-level concurrency control to SQLite's own locking
// under WAL mode.
type Store struct {
	db *sql.DB
}

// Open creates parent directories, opens the database in WAL mode with a
// busy timeout (so concurrent scheduler/chat/CLI connections block
// briefly rather than failing outright), applies the schema, and runs
// any pending additive migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	if _, err := db.Exec(indexes); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create indexes: %w", err)
	}
	runMigrations(db)
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) {
	for _, stmt := range migrations {
		_, _ = db.Exec(stmt)
	}
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTS(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// InsertTask creates a task and returns its assigned id.
func (s *Store) InsertTask(t Task) (int64, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(
		`INSERT INTO tasks (title, description, repo_path, branch, status, attempt, max_attempts, last_error, created_by, notify_chat, created_at, session_id, mode, backend)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Title, t.Description, t.RepoPath, t.Branch, t.Status, t.Attempt, t.MaxAttempts, t.LastError,
		t.CreatedBy, t.NotifyChat, ts(t.CreatedAt), t.SessionID, t.Mode, t.Backend)
	if err != nil {
		return 0, fmt.Errorf("store: insert task: %w", err)
	}
	return res.LastInsertId()
}

// GetTask fetches a single task by id.
func (s *Store) GetTask(id int64) (Task, error) {
	row := s.db.QueryRow(
		`SELECT id, title, description, repo_path, branch, status, attempt, max_attempts, last_error, created_by, notify_chat, created_at, session_id, mode, backend
		 FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListActiveTasks returns every task not in a terminal status, used by
// the scheduler tick to find work.
func (s *Store) ListActiveTasks() ([]Task, error) {
	rows, err := s.db.Query(
		`SELECT id, title, description, repo_path, branch, status, attempt, max_attempts, last_error, created_by, notify_chat, created_at, session_id, mode, backend
		 FROM tasks WHERE status NOT IN ('done', 'merged', 'failed') ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list active tasks: %w", err)
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountActiveTasksForRepo reports how many non-terminal tasks exist for
// repoPath, used by the backlog-size gate before seeding more work.
func (s *Store) CountActiveTasksForRepo(repoPath string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM tasks WHERE repo_path = ? AND status NOT IN ('done', 'merged', 'failed')`,
		repoPath).Scan(&n)
	return n, err
}

// UpdateTaskStatus advances (or resets) a task's phase/status.
func (s *Store) UpdateTaskStatus(id int64, status string) error {
	_, err := s.db.Exec(`UPDATE tasks SET status = ? WHERE id = ?`, status, id)
	return err
}

// UpdateTaskStatusWithError advances a task's status and records the
// triggering error in the same statement, for routes like qa_fix where the
// next phase's {ERROR} substitution depends on the failure that caused the
// route.
func (s *Store) UpdateTaskStatusWithError(id int64, status, lastError string) error {
	_, err := s.db.Exec(`UPDATE tasks SET status = ?, last_error = ? WHERE id = ?`, status, lastError, id)
	return err
}

// UpdateTaskBranch records the worktree branch assigned to a task.
func (s *Store) UpdateTaskBranch(id int64, branch string) error {
	_, err := s.db.Exec(`UPDATE tasks SET branch = ? WHERE id = ?`, branch, id)
	return err
}

// UpdateTaskSession records the agent session id for resumption.
func (s *Store) UpdateTaskSession(id int64, sessionID string) error {
	_, err := s.db.Exec(`UPDATE tasks SET session_id = ? WHERE id = ?`, sessionID, id)
	return err
}

// IncrementAttempt bumps the attempt counter and records the last error,
// returning the new attempt count so the caller can compare it to
// max_attempts without a second round trip.
func (s *Store) IncrementAttempt(id int64, lastError string) (int, error) {
	if _, err := s.db.Exec(`UPDATE tasks SET attempt = attempt + 1, last_error = ? WHERE id = ?`, lastError, id); err != nil {
		return 0, err
	}
	var attempt int
	err := s.db.QueryRow(`SELECT attempt FROM tasks WHERE id = ?`, id).Scan(&attempt)
	return attempt, err
}

// ClearLastError resets last_error, called after a phase succeeds so a
// stale error from an earlier attempt doesn't leak into later prompts.
func (s *Store) ClearLastError(id int64) error {
	_, err := s.db.Exec(`UPDATE tasks SET last_error = '' WHERE id = ?`, id)
	return err
}

// ResetForRetry zeroes a task's attempt counter, clears its last error,
// and moves it back to the given phase, for an operator re-running a
// task that exhausted its retries.
func (s *Store) ResetForRetry(id int64, phase string) error {
	_, err := s.db.Exec(`UPDATE tasks SET attempt = 0, last_error = '', status = ? WHERE id = ?`, phase, id)
	return err
}

// DeleteTask removes a task row entirely (used for synthetic seed tasks
// that are never meant to be persisted).
func (s *Store) DeleteTask(id int64) error {
	_, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	return err
}

// ListTasksByStatus returns every task with the given status, regardless
// of whether that status is terminal — used by orphan recovery to find
// "done" tasks missing a queue entry, which ListActiveTasks excludes.
func (s *Store) ListTasksByStatus(status string) ([]Task, error) {
	rows, err := s.db.Query(
		`SELECT id, title, description, repo_path, branch, status, attempt, max_attempts, last_error, created_by, notify_chat, created_at, session_id, mode, backend
		 FROM tasks WHERE status = ? ORDER BY id`, status)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks by status: %w", err)
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row *sql.Row) (Task, error) {
	var t Task
	var createdAt string
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.RepoPath, &t.Branch, &t.Status, &t.Attempt, &t.MaxAttempts,
		&t.LastError, &t.CreatedBy, &t.NotifyChat, &createdAt, &t.SessionID, &t.Mode, &t.Backend)
	if err != nil {
		return Task{}, err
	}
	t.CreatedAt = parseTS(createdAt)
	return t, nil
}

func scanTaskRows(rows *sql.Rows) (Task, error) {
	var t Task
	var createdAt string
	err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.RepoPath, &t.Branch, &t.Status, &t.Attempt, &t.MaxAttempts,
		&t.LastError, &t.CreatedBy, &t.NotifyChat, &createdAt, &t.SessionID, &t.Mode, &t.Backend)
	if err != nil {
		return Task{}, err
	}
	t.CreatedAt = parseTS(createdAt)
	return t, nil
}

// InsertProposal records a seed-generated proposal awaiting triage.
func (s *Store) InsertProposal(p Proposal) (int64, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.Status == "" {
		p.Status = "proposed"
	}
	res, err := s.db.Exec(
		`INSERT INTO proposals (repo_path, title, description, rationale, status, created_at, triage_score, triage_impact, triage_feasibility, triage_risk, triage_effort, triage_reasoning)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.RepoPath, p.Title, p.Description, p.Rationale, p.Status, ts(p.CreatedAt),
		p.TriageScore, p.TriageImpact, p.TriageFeasibility, p.TriageRisk, p.TriageEffort, p.TriageReasoning)
	if err != nil {
		return 0, fmt.Errorf("store: insert proposal: %w", err)
	}
	return res.LastInsertId()
}

// ListProposals returns proposals in the given status, newest first.
func (s *Store) ListProposals(status string) ([]Proposal, error) {
	rows, err := s.db.Query(
		`SELECT id, repo_path, title, description, rationale, status, created_at, triage_score, triage_impact, triage_feasibility, triage_risk, triage_effort, triage_reasoning
		 FROM proposals WHERE status = ? ORDER BY id DESC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Proposal
	for rows.Next() {
		var p Proposal
		var createdAt string
		if err := rows.Scan(&p.ID, &p.RepoPath, &p.Title, &p.Description, &p.Rationale, &p.Status, &createdAt,
			&p.TriageScore, &p.TriageImpact, &p.TriageFeasibility, &p.TriageRisk, &p.TriageEffort, &p.TriageReasoning); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTS(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProposalStatus approves or dismisses a proposal.
func (s *Store) UpdateProposalStatus(id int64, status string) error {
	_, err := s.db.Exec(`UPDATE proposals SET status = ? WHERE id = ?`, status, id)
	return err
}

// EnqueueIntegration adds a task's branch to the merge queue.
func (s *Store) EnqueueIntegration(taskID int64, branch, repoPath string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO integration_queue (task_id, branch, repo_path, status, queued_at, pr_number) VALUES (?, ?, ?, 'pending', ?, 0)`,
		taskID, branch, repoPath, ts(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("store: enqueue integration: %w", err)
	}
	return res.LastInsertId()
}

// ListQueueByStatus returns queue entries in the given status.
func (s *Store) ListQueueByStatus(status string) ([]QueueEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, branch, repo_path, status, queued_at, pr_number FROM integration_queue WHERE status = ? ORDER BY id`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []QueueEntry
	for rows.Next() {
		var q QueueEntry
		var queuedAt string
		if err := rows.Scan(&q.ID, &q.TaskID, &q.Branch, &q.RepoPath, &q.Status, &queuedAt, &q.PRNumber); err != nil {
			return nil, err
		}
		q.QueuedAt = parseTS(queuedAt)
		out = append(out, q)
	}
	return out, rows.Err()
}

// QueueEntriesForTask returns every integration-queue entry ever recorded
// for a task, oldest first, used to populate a pipeline-state snapshot's
// PR URL and pending-approval branches.
func (s *Store) QueueEntriesForTask(taskID int64) ([]QueueEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, branch, repo_path, status, queued_at, pr_number FROM integration_queue WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []QueueEntry
	for rows.Next() {
		var q QueueEntry
		var queuedAt string
		if err := rows.Scan(&q.ID, &q.TaskID, &q.Branch, &q.RepoPath, &q.Status, &queuedAt, &q.PRNumber); err != nil {
			return nil, err
		}
		q.QueuedAt = parseTS(queuedAt)
		out = append(out, q)
	}
	return out, rows.Err()
}

// UpdateQueueStatus transitions a queue entry, optionally recording the PR number.
func (s *Store) UpdateQueueStatus(id int64, status string, prNumber int64) error {
	_, err := s.db.Exec(`UPDATE integration_queue SET status = ?, pr_number = ? WHERE id = ?`, status, prNumber, id)
	return err
}

// InsertTaskOutput records a phase's result for the rolling history
// snapshot (only the most recent entries per task are surfaced, but all
// are retained for later audit).
func (s *Store) InsertTaskOutput(taskID int64, phase, output string, success bool) error {
	successInt := 0
	if success {
		successInt = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO task_outputs (task_id, phase, success, output, created_at) VALUES (?, ?, ?, ?, ?)`,
		taskID, phase, successInt, output, ts(time.Now()))
	return err
}

// RecentTaskOutputs returns the most recent n outputs for a task, oldest
// first, matching the order expected in a pipeline-state snapshot.
func (s *Store) RecentTaskOutputs(taskID int64, n int) ([]PhaseHistoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT phase, success, output, created_at FROM task_outputs WHERE task_id = ? ORDER BY id DESC LIMIT ?`,
		taskID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PhaseHistoryEntry
	for rows.Next() {
		var e PhaseHistoryEntry
		var successInt int
		var createdAt string
		if err := rows.Scan(&e.Phase, &successInt, &e.Output, &createdAt); err != nil {
			return nil, err
		}
		e.Success = successInt != 0
		e.Timestamp = parseTS(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse to oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// QueuePendingMessage enqueues a message to be delivered into the task's
// next phase instruction.
func (s *Store) QueuePendingMessage(taskID int64, role, content string) error {
	_, err := s.db.Exec(
		`INSERT INTO task_messages (task_id, role, content, created_at, delivered) VALUES (?, ?, ?, ?, 0)`,
		taskID, role, content, ts(time.Now()))
	return err
}

// PendingMessages returns undelivered messages for a task, oldest first.
func (s *Store) PendingMessages(taskID int64) ([]TaskMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, role, content, created_at, delivered FROM task_messages WHERE task_id = ? AND delivered = 0 ORDER BY id`,
		taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TaskMessage
	for rows.Next() {
		var m TaskMessage
		var createdAt string
		var delivered int
		if err := rows.Scan(&m.ID, &m.TaskID, &m.Role, &m.Content, &createdAt, &delivered); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTS(createdAt)
		m.Delivered = delivered != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkMessagesDelivered flags the given message ids as delivered. Called
// only after the phase output they were injected into has itself been
// durably recorded, so a crash mid-phase redelivers rather than losing
// the message.
func (s *Store) MarkMessagesDelivered(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.Exec(`UPDATE task_messages SET delivered = 1 WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpsertRepoConfig stores (or updates) the runtime override row for a
// watched repository.
func (s *Store) UpsertRepoConfig(r RepoConfigRow) error {
	isSelf, autoMerge := 0, 0
	if r.IsSelf {
		isSelf = 1
	}
	if r.AutoMerge {
		autoMerge = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO repos (path, test_cmd, mode, is_self, auto_merge, lint_cmd, backend) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET test_cmd=excluded.test_cmd, mode=excluded.mode, is_self=excluded.is_self, auto_merge=excluded.auto_merge, lint_cmd=excluded.lint_cmd, backend=excluded.backend`,
		r.Path, r.TestCmd, r.Mode, isSelf, autoMerge, r.LintCmd, r.Backend)
	return err
}

// GetRepoConfig fetches a repo's runtime override, if one was ever saved.
func (s *Store) GetRepoConfig(path string) (RepoConfigRow, bool, error) {
	var r RepoConfigRow
	var isSelf, autoMerge int
	err := s.db.QueryRow(
		`SELECT path, test_cmd, mode, is_self, auto_merge, lint_cmd, backend FROM repos WHERE path = ?`, path,
	).Scan(&r.Path, &r.TestCmd, &r.Mode, &isSelf, &autoMerge, &r.LintCmd, &r.Backend)
	if err == sql.ErrNoRows {
		return RepoConfigRow{}, false, nil
	}
	if err != nil {
		return RepoConfigRow{}, false, err
	}
	r.IsSelf = isSelf != 0
	r.AutoMerge = autoMerge != 0
	return r, true, nil
}

// RecordEvent appends a row to the pipeline event log.
func (s *Store) RecordEvent(kind string, taskID *int64, message string) error {
	_, err := s.db.Exec(
		`INSERT INTO pipeline_events (kind, task_id, message, created_at) VALUES (?, ?, ?, ?)`,
		kind, taskID, message, ts(time.Now()))
	return err
}

// RecordChatMessage persists an inbound chat message for collector
// durability across restarts.
func (s *Store) RecordChatMessage(chatID, transport, content string) error {
	_, err := s.db.Exec(
		`INSERT INTO chat_messages (chat_id, transport, content, received_at) VALUES (?, ?, ?, ?)`,
		chatID, transport, content, ts(time.Now()))
	return err
}

// GetConfigValue reads a single key from the runtime config overrides table.
func (s *Store) GetConfigValue(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM config WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetConfigValue writes (or overwrites) a runtime config override.
func (s *Store) SetConfigValue(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO config (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value)
	return err
}
