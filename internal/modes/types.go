// Package modes defines the phase-as-data / mode-as-data model that
// drives the pipeline: a PipelineMode is an ordered list of phases plus a
// set of seed scans, and the set of available modes is registered once at
// process startup and looked up by name from then on.
package modes

// PhaseType distinguishes the four kinds of phase a mode can contain.
type PhaseType string

const (
	// PhaseSetup is a no-op phase that transitions immediately to Next.
	PhaseSetup PhaseType = "setup"
	// PhaseAgent runs an AI agent, directly or sandboxed.
	PhaseAgent PhaseType = "agent"
	// PhaseRebase runs a git rebase with an optional agent-driven fix loop.
	PhaseRebase PhaseType = "rebase"
	// PhaseLintFix runs a lint command and spawns an agent to fix findings.
	PhaseLintFix PhaseType = "lint_fix"
)

// IntegrationType selects how a mode ships finished work.
type IntegrationType string

const (
	// IntegrationGitPR pushes a branch and opens/manages a GitHub PR.
	IntegrationGitPR IntegrationType = "git_pr"
	// IntegrationNone performs no VCS integration (e.g. document pipelines).
	IntegrationNone IntegrationType = "none"
)

// SeedOutputType distinguishes what a seed scan produces.
type SeedOutputType string

const (
	SeedOutputTask     SeedOutputType = "task"
	SeedOutputProposal SeedOutputType = "proposal"
)

// PhaseConfig configures a single phase within a mode.
type PhaseConfig struct {
	Name string
	Label string
	Type PhaseType

	// Agent behavior.
	SystemPrompt     string
	Instruction      string
	ErrorInstruction string // appended when task.LastError is set; supports {ERROR}
	AllowedTools     string
	UseSandbox       bool

	// Prompt composition.
	IncludeTaskContext bool
	IncludeFileListing bool

	// Post-agent actions.
	RunsTests        bool
	Commits          bool
	CommitMessage    string
	CheckArtifact    string // empty = no artifact gate
	AllowNoChanges   bool

	// Transitions.
	Next            string // "done" terminates the pipeline for this task
	HasQAFixRouting bool
	FreshSession    bool

	// Rebase-only: instruction passed to the fix agent when a rebase conflicts.
	FixInstruction string
}

// DefaultPhaseConfig returns a PhaseConfig with the same baseline values
// the original pipeline used before mode-specific overrides are applied.
func DefaultPhaseConfig() PhaseConfig {
	return PhaseConfig{
		Type:         PhaseAgent,
		AllowedTools: "Read,Glob,Grep,Write",
		Next:         "done",
	}
}

// SeedConfig configures a backlog-generating scan.
type SeedConfig struct {
	Name              string
	Label             string
	Prompt            string
	OutputType        SeedOutputType
	AllowedTools      string // empty = default Read,Glob,Grep,Bash
	TargetPrimaryRepo bool
}

// PipelineMode is a complete named pipeline definition.
type PipelineMode struct {
	Name                string
	Label               string
	Phases              []PhaseConfig
	SeedModes           []SeedConfig
	InitialStatus       string
	UsesGitWorktrees    bool
	UsesSandbox         bool
	UsesTestCmd         bool
	Integration         IntegrationType
	DefaultMaxAttempts  int
}

// GetPhase looks up a phase by name.
func (m PipelineMode) GetPhase(name string) (PhaseConfig, bool) {
	for _, p := range m.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseConfig{}, false
}

// GetPhaseIndex returns the index of the named phase, or -1.
func (m PipelineMode) GetPhaseIndex(name string) int {
	for i, p := range m.Phases {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether status ends the task's journey through this mode.
func (m PipelineMode) IsTerminal(status string) bool {
	switch status {
	case "done", "merged", "failed":
		return true
	default:
		return false
	}
}
