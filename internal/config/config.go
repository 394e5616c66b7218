// Package config loads and validates the daemon's configuration: YAML
// file plus environment overrides, via Viper/mapstructure exactly as the
// rest of this corpus does it.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the full borgd configuration.
type Config struct {
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Git      GitConfig      `mapstructure:"git"`
	Claude   ClaudeConfig   `mapstructure:"claude"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Cloud    CloudConfig    `mapstructure:"cloud"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Store    StoreConfig    `mapstructure:"store"`
	MCP      MCPConfig      `mapstructure:"mcp"`
	Langfuse LangfuseConfig `mapstructure:"langfuse"`
	Repos    []RepoConfig   `mapstructure:"repos"`
	// ModesPath optionally points at a directory of custom mode YAML
	// files, layered on top of the built-in modes at startup and
	// hot-reloaded on edit.
	ModesPath string `mapstructure:"modes_path"`
}

// MCPConfig controls the per-task MCP server an agent phase is pointed at.
type MCPConfig struct {
	// BinPath is the borg-mcp binary invoked as a stdio MCP server.
	// Empty disables per-task MCP config generation entirely.
	BinPath string `mapstructure:"bin_path"`
}

// PipelineConfig controls the scheduler's tunables.
type PipelineConfig struct {
	MaxAgents         int    `mapstructure:"max_agents"`
	SeedCooldownS     int    `mapstructure:"seed_cooldown_s"`
	MaxBacklogPerRepo int    `mapstructure:"max_backlog"`
	ContinuousMode    bool   `mapstructure:"continuous_mode"`
	MainBranch        string `mapstructure:"main_branch"`
	PhaseTimeoutS     int    `mapstructure:"phase_timeout_s"`
}

// ChatConfig controls the chat collector's batching and concurrency.
type ChatConfig struct {
	WindowMS   int `mapstructure:"window_ms"`
	CooldownMS int `mapstructure:"cooldown_ms"`
	MaxAgents  int `mapstructure:"max_agents"`
}

// GitConfig sets the co-author trailers stamped onto agent commits.
type GitConfig struct {
	ClaudeCoauthor string `mapstructure:"claude_coauthor"`
	UserCoauthor   string `mapstructure:"user_coauthor"`
}

// ClaudeConfig locates the Claude Code CLI and its default model/credentials.
type ClaudeConfig struct {
	Bin            string `mapstructure:"bin"`
	Model          string `mapstructure:"model"`
	OAuthCredsPath string `mapstructure:"oauth_creds_path"`
}

// GitHubConfig authenticates the integration queue's GitHub App.
type GitHubConfig struct {
	AppID            int64  `mapstructure:"app_id"`
	InstallationID   int64  `mapstructure:"installation_id"`
	PrivateKeySecret string `mapstructure:"private_key_secret"`
}

// CloudConfig selects where secrets (GitHub App key, OAuth creds) are
// resolved from when not present on the local filesystem.
type CloudConfig struct {
	Provider string `mapstructure:"provider"` // "" (local files) or "gcp"
	Project  string `mapstructure:"project"`
}

// SandboxConfig selects the agent phase isolation mechanism.
type SandboxConfig struct {
	Mode string `mapstructure:"mode"` // "auto" | "bwrap" | "container" | "direct"
}

// LangfuseConfig enables tracing phase executions to Langfuse. Tracing is
// disabled (the daemon falls back to a no-op tracer) unless both keys are
// set.
type LangfuseConfig struct {
	PublicKey string `mapstructure:"public_key"`
	SecretKey string `mapstructure:"secret_key"`
	BaseURL   string `mapstructure:"base_url"`
}

// Enabled reports whether enough configuration is present to construct a
// real tracer.
func (c LangfuseConfig) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// StoreConfig locates the SQLite task store.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// RepoConfig is one watched repository's pipeline settings.
type RepoConfig struct {
	Path      string `mapstructure:"path"`
	TestCmd   string `mapstructure:"test_cmd"`
	LintCmd   string `mapstructure:"lint_cmd"`
	Mode      string `mapstructure:"mode"`
	IsSelf    bool   `mapstructure:"is_self"`
	AutoMerge bool   `mapstructure:"auto_merge"`
	Backend   string `mapstructure:"backend"`
}

// Load reads configuration from the file and environment Viper has
// already been bound to (see cmd/borgd for the bind/read call), then
// applies defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Pipeline.MaxAgents == 0 {
		cfg.Pipeline.MaxAgents = 4
	}
	if cfg.Pipeline.SeedCooldownS == 0 {
		cfg.Pipeline.SeedCooldownS = 1800
	}
	if cfg.Pipeline.MaxBacklogPerRepo == 0 {
		cfg.Pipeline.MaxBacklogPerRepo = 10
	}
	if cfg.Pipeline.MainBranch == "" {
		cfg.Pipeline.MainBranch = "main"
	}
	if cfg.Pipeline.PhaseTimeoutS == 0 {
		cfg.Pipeline.PhaseTimeoutS = 1800
	}

	if cfg.Chat.MaxAgents == 0 {
		cfg.Chat.MaxAgents = 2
	}

	if cfg.Claude.Bin == "" {
		cfg.Claude.Bin = "claude"
	}
	if cfg.Claude.Model == "" {
		cfg.Claude.Model = "claude-sonnet-4-5"
	}
	if cfg.Claude.OAuthCredsPath == "" {
		cfg.Claude.OAuthCredsPath = "~/.claude/.credentials.json"
	}

	if cfg.Sandbox.Mode == "" {
		cfg.Sandbox.Mode = "auto"
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = ".borg/borg.db"
	}

	if cfg.MCP.BinPath == "" {
		cfg.MCP.BinPath = "borg-mcp"
	}

	for i := range cfg.Repos {
		if cfg.Repos[i].Mode == "" {
			cfg.Repos[i].Mode = "sweborg"
		}
	}
}

// Validate checks the configuration is internally consistent and
// sufficient to start the daemon.
func (c *Config) Validate() error {
	if c.Pipeline.MaxAgents <= 0 {
		return fmt.Errorf("config: pipeline.max_agents must be positive")
	}
	if c.Pipeline.MaxBacklogPerRepo <= 0 {
		return fmt.Errorf("config: pipeline.max_backlog must be positive")
	}

	validSandbox := map[string]bool{"auto": true, "bwrap": true, "container": true, "direct": true}
	if !validSandbox[c.Sandbox.Mode] {
		return fmt.Errorf("config: invalid sandbox.mode %q", c.Sandbox.Mode)
	}

	if c.Store.Path == "" {
		return fmt.Errorf("config: store.path is required")
	}

	for _, r := range c.Repos {
		if r.Path == "" {
			return fmt.Errorf("config: repo entry missing path")
		}
	}

	return nil
}

// ValidateForIntegration additionally requires GitHub App credentials,
// needed only once a repo's mode actually integrates via PR (git_pr).
func (c *Config) ValidateForIntegration() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.GitHub.AppID == 0 {
		return fmt.Errorf("config: github.app_id is required for PR integration")
	}
	if c.GitHub.InstallationID == 0 {
		return fmt.Errorf("config: github.installation_id is required for PR integration")
	}
	if c.GitHub.PrivateKeySecret == "" {
		return fmt.Errorf("config: github.private_key_secret is required for PR integration")
	}
	return nil
}
