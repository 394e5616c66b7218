// Package store persists pipeline, chat, and integration state in a
// single SQLite database shared by every component of the daemon.
package store

import "time"

// Task is a unit of work moving through a pipeline mode's phases.
type Task struct {
	ID          int64
	Title       string
	Description string
	RepoPath    string
	Branch      string
	// Status is the current phase name, or a terminal value (done/merged/failed),
	// or a pre-pipeline value (backlog/proposed).
	Status      string
	Attempt     int
	MaxAttempts int
	LastError   string
	CreatedBy   string
	NotifyChat  string
	CreatedAt   time.Time
	SessionID   string
	Mode        string
	Backend     string
}

// Proposal is a user-facing suggestion a seed scan produced, awaiting
// promotion to a Task.
type Proposal struct {
	ID              int64
	RepoPath        string
	Title           string
	Description     string
	Rationale       string
	Status          string // proposed | approved | dismissed
	CreatedAt       time.Time
	TriageScore     int
	TriageImpact    int
	TriageFeasibility int
	TriageRisk      int
	TriageEffort    int
	TriageReasoning string
}

// QueueEntry is a pending merge-queue item for a task's branch.
type QueueEntry struct {
	ID       int64
	TaskID   int64
	Branch   string
	RepoPath string
	Status   string // pending | merging | merged | failed
	QueuedAt time.Time
	PRNumber int64
}

// PhaseHistoryEntry is one recorded outcome of running a phase, kept for
// the pipeline-state snapshot written before each agent launch.
type PhaseHistoryEntry struct {
	Phase     string
	Success   bool
	Output    string
	Timestamp time.Time
}

// TaskMessage is a pending user/director message queued for injection
// into a task's next phase instruction.
type TaskMessage struct {
	ID        int64
	TaskID    int64
	Role      string
	Content   string
	CreatedAt time.Time
	Delivered bool
}

// RepoConfigRow is the persisted override for a watched repository; it
// mirrors config.RepoConfig but is stored so it can be edited at runtime
// (e.g. toggling auto_merge) without a daemon restart.
type RepoConfigRow struct {
	Path      string
	TestCmd   string
	Mode      string
	IsSelf    bool
	AutoMerge bool
	LintCmd   string
	Backend   string
}

// PipelineEventRow is an append-only log of broadcast pipeline events,
// retained for the status CLI and post-mortem debugging.
type PipelineEventRow struct {
	ID        int64
	Kind      string
	TaskID    *int64
	Message   string
	CreatedAt time.Time
}

// ChatMessageRow is one inbound message seen by the chat collector,
// persisted so a collector restart doesn't lose an in-flight batch.
type ChatMessageRow struct {
	ID        int64
	ChatID    string
	Transport string
	Content   string
	ReceivedAt time.Time
}
