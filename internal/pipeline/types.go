// Package pipeline implements the scheduler that drives tasks through a
// PipelineMode's phases: resolving which phase to run next, dispatching
// agent/rebase/lint-fix work, and handling retry, integration, and
// backlog-seeding policy.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/andywolf/borg/internal/gitutil"
	"github.com/andywolf/borg/internal/modes"
	"github.com/andywolf/borg/internal/observability"
	"github.com/andywolf/borg/internal/sandbox"
	"github.com/andywolf/borg/internal/store"
	"golang.org/x/sync/errgroup"
)

// Backend resolves and runs a single phase for a task; the concrete
// implementation wraps internal/agentexec, kept behind an interface so
// the scheduler's tests can substitute a fake.
type Backend interface {
	RunPhase(ctx context.Context, cfg modes.PhaseConfig, pctx BackendPhaseContext) (BackendPhaseOutput, error)
}

// BackendPhaseContext is the subset of agentexec.PhaseContext the
// scheduler assembles per invocation.
type BackendPhaseContext struct {
	Task               store.Task
	SessionDir         string
	WorktreePath       string
	OAuthToken         string
	Model              string
	PendingMessages    []store.TaskMessage
	SystemPromptSuffix string
	FileListing        []string
	OnLine             func(string)
}

// BackendPhaseOutput mirrors agentexec.PhaseOutput.
type BackendPhaseOutput struct {
	Output       string
	NewSessionID string
	RawStream    string
	Success      bool
}

// RepoConfig is the effective, merged configuration for one watched repo:
// runtime overrides from the store layered onto the config-file default.
type RepoConfig struct {
	Path      string
	TestCmd   string
	Mode      string
	IsSelf    bool
	AutoMerge bool
	LintCmd   string
	Backend   string
}

// Config holds the scheduler's tunables, sourced from the daemon's
// top-level configuration.
type Config struct {
	MaxAgents           int
	SeedCooldown        time.Duration
	MaxBacklogPerRepo   int
	ContinuousMode      bool
	ClaudeCoauthor      string // e.g. "Claude <noreply@anthropic.com>"
	UserCoauthor        string // operator-configured co-author trailer, empty = none
	MainBranch          string
	SandboxMode         sandbox.Mode
	ClaudeBin           string
	DefaultModel        string
	PhaseTimeout        time.Duration
	WatchedRepos        []RepoConfig
}

// Event is broadcast after any significant state change, for the stream
// manager and chat notifier to fan out.
type Event struct {
	Kind    string // "task_phase" | "task_output" | "notify" | "phase_result"
	TaskID  *int64
	ChatID  string
	Message string
}

// Scheduler owns the tick loop that advances every active task by one
// phase per pass, respecting the global concurrency cap.
type Scheduler struct {
	db       *store.Store
	cfg      Config
	backend  Backend
	tracer   observability.Tracer
	events   chan Event
	inFlight struct {
		mu  sync.Mutex
		set map[int64]struct{}
	}
	lastSeed struct {
		mu sync.Mutex
		at map[string]time.Time // repo path -> last seed time
	}
	// dispatchGroup bounds concurrent task dispatch at cfg.MaxAgents.
	// Tick uses TryGo, never Go, so a tick that's already at the limit
	// returns immediately instead of blocking on the next tick.
	dispatchGroup *errgroup.Group
}

// New builds a Scheduler. events may be nil, in which case Emit is a no-op.
func New(db *store.Store, cfg Config, backend Backend, tracer observability.Tracer, events chan Event) *Scheduler {
	s := &Scheduler{db: db, cfg: cfg, backend: backend, tracer: tracer, events: events}
	s.inFlight.set = make(map[int64]struct{})
	s.lastSeed.at = make(map[string]time.Time)
	var g errgroup.Group
	limit := cfg.MaxAgents
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	s.dispatchGroup = &g
	return s
}

// Emit pushes an event to the scheduler's broadcast channel without
// blocking; a full or nil channel simply drops the event, since the
// stream/chat subscribers are a convenience, not load-bearing state.
func (s *Scheduler) Emit(e Event) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- e:
	default:
	}
}

func (s *Scheduler) gitForRepo(path string) *gitutil.Git {
	return gitutil.New(path)
}

func (s *Scheduler) repoConfig(path string) RepoConfig {
	for _, r := range s.cfg.WatchedRepos {
		if r.Path == path {
			return r
		}
	}
	if row, ok, err := s.db.GetRepoConfig(path); err == nil && ok {
		return RepoConfig{
			Path: row.Path, TestCmd: row.TestCmd, Mode: row.Mode,
			IsSelf: row.IsSelf, AutoMerge: row.AutoMerge, LintCmd: row.LintCmd, Backend: row.Backend,
		}
	}
	return RepoConfig{Path: path, Mode: "sweborg"}
}
