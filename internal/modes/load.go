package modes

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileMode is the on-disk YAML shape for a PipelineMode. Field names
// mirror PipelineMode/PhaseConfig/SeedConfig's Go identifiers in
// snake_case.
type fileMode struct {
	Name               string      `yaml:"name"`
	Label              string      `yaml:"label"`
	InitialStatus      string      `yaml:"initial_status"`
	UsesGitWorktrees   bool        `yaml:"uses_git_worktrees"`
	UsesSandbox        bool        `yaml:"uses_sandbox"`
	UsesTestCmd        bool        `yaml:"uses_test_cmd"`
	Integration        string      `yaml:"integration"`
	DefaultMaxAttempts int         `yaml:"default_max_attempts"`
	Phases             []filePhase `yaml:"phases"`
	SeedModes          []fileSeed  `yaml:"seed_modes"`
}

type filePhase struct {
	Name               string `yaml:"name"`
	Label              string `yaml:"label"`
	Type               string `yaml:"type"`
	SystemPrompt       string `yaml:"system_prompt"`
	Instruction        string `yaml:"instruction"`
	ErrorInstruction   string `yaml:"error_instruction"`
	AllowedTools       string `yaml:"allowed_tools"`
	UseSandbox         bool   `yaml:"use_sandbox"`
	IncludeTaskContext bool   `yaml:"include_task_context"`
	IncludeFileListing bool   `yaml:"include_file_listing"`
	RunsTests          bool   `yaml:"runs_tests"`
	Commits            bool   `yaml:"commits"`
	CommitMessage      string `yaml:"commit_message"`
	CheckArtifact      string `yaml:"check_artifact"`
	AllowNoChanges     bool   `yaml:"allow_no_changes"`
	Next               string `yaml:"next"`
	HasQAFixRouting    bool   `yaml:"has_qa_fix_routing"`
	FreshSession       bool   `yaml:"fresh_session"`
	FixInstruction     string `yaml:"fix_instruction"`
}

type fileSeed struct {
	Name              string `yaml:"name"`
	Label             string `yaml:"label"`
	Prompt            string `yaml:"prompt"`
	OutputType        string `yaml:"output_type"`
	AllowedTools      string `yaml:"allowed_tools"`
	TargetPrimaryRepo bool   `yaml:"target_primary_repo"`
}

// LoadFile parses a single mode definition from a YAML file.
func LoadFile(path string) (PipelineMode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PipelineMode{}, fmt.Errorf("modes: read %s: %w", path, err)
	}

	var fm fileMode
	if err := yaml.Unmarshal(data, &fm); err != nil {
		return PipelineMode{}, fmt.Errorf("modes: parse %s: %w", path, err)
	}
	if fm.Name == "" {
		return PipelineMode{}, fmt.Errorf("modes: %s: missing name", path)
	}
	return fm.toPipelineMode(), nil
}

// LoadDir parses every *.yaml/*.yml file in dir as a mode definition. A
// directory that does not exist yields no modes and no error: operators
// without custom modes need no extra directory on disk.
func LoadDir(dir string) ([]PipelineMode, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("modes: read dir %s: %w", dir, err)
	}

	var out []PipelineMode
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
		default:
			continue
		}
		m, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (fm fileMode) toPipelineMode() PipelineMode {
	m := PipelineMode{
		Name:               fm.Name,
		Label:              fm.Label,
		InitialStatus:      fm.InitialStatus,
		UsesGitWorktrees:   fm.UsesGitWorktrees,
		UsesSandbox:        fm.UsesSandbox,
		UsesTestCmd:        fm.UsesTestCmd,
		Integration:        IntegrationType(fm.Integration),
		DefaultMaxAttempts: fm.DefaultMaxAttempts,
	}

	for _, p := range fm.Phases {
		phase := DefaultPhaseConfig()
		phase.Name = p.Name
		phase.Label = p.Label
		if p.Type != "" {
			phase.Type = PhaseType(p.Type)
		}
		phase.SystemPrompt = p.SystemPrompt
		phase.Instruction = p.Instruction
		phase.ErrorInstruction = p.ErrorInstruction
		if p.AllowedTools != "" {
			phase.AllowedTools = p.AllowedTools
		}
		phase.UseSandbox = p.UseSandbox
		phase.IncludeTaskContext = p.IncludeTaskContext
		phase.IncludeFileListing = p.IncludeFileListing
		phase.RunsTests = p.RunsTests
		phase.Commits = p.Commits
		phase.CommitMessage = p.CommitMessage
		phase.CheckArtifact = p.CheckArtifact
		phase.AllowNoChanges = p.AllowNoChanges
		if p.Next != "" {
			phase.Next = p.Next
		}
		phase.HasQAFixRouting = p.HasQAFixRouting
		phase.FreshSession = p.FreshSession
		phase.FixInstruction = p.FixInstruction
		m.Phases = append(m.Phases, phase)
	}

	for _, sc := range fm.SeedModes {
		m.SeedModes = append(m.SeedModes, SeedConfig{
			Name:              sc.Name,
			Label:             sc.Label,
			Prompt:            sc.Prompt,
			OutputType:        SeedOutputType(sc.OutputType),
			AllowedTools:      sc.AllowedTools,
			TargetPrimaryRepo: sc.TargetPrimaryRepo,
		})
	}

	return m
}
