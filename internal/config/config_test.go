package config

import (
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid config",
			config: Config{
				Pipeline: PipelineConfig{MaxAgents: 4, MaxBacklogPerRepo: 10},
				Sandbox:  SandboxConfig{Mode: "auto"},
				Store:    StoreConfig{Path: ".borg/borg.db"},
				Repos:    []RepoConfig{{Path: "/repo"}},
			},
		},
		{
			name: "missing max agents",
			config: Config{
				Sandbox: SandboxConfig{Mode: "auto"},
				Store:   StoreConfig{Path: ".borg/borg.db"},
			},
			wantErr: "max_agents must be positive",
		},
		{
			name: "missing max backlog",
			config: Config{
				Pipeline: PipelineConfig{MaxAgents: 4},
				Sandbox:  SandboxConfig{Mode: "auto"},
				Store:    StoreConfig{Path: ".borg/borg.db"},
			},
			wantErr: "max_backlog must be positive",
		},
		{
			name: "invalid sandbox mode",
			config: Config{
				Pipeline: PipelineConfig{MaxAgents: 4, MaxBacklogPerRepo: 10},
				Sandbox:  SandboxConfig{Mode: "chroot"},
				Store:    StoreConfig{Path: ".borg/borg.db"},
			},
			wantErr: "invalid sandbox.mode",
		},
		{
			name: "missing store path",
			config: Config{
				Pipeline: PipelineConfig{MaxAgents: 4, MaxBacklogPerRepo: 10},
				Sandbox:  SandboxConfig{Mode: "auto"},
			},
			wantErr: "store.path is required",
		},
		{
			name: "repo missing path",
			config: Config{
				Pipeline: PipelineConfig{MaxAgents: 4, MaxBacklogPerRepo: 10},
				Sandbox:  SandboxConfig{Mode: "auto"},
				Store:    StoreConfig{Path: ".borg/borg.db"},
				Repos:    []RepoConfig{{}},
			},
			wantErr: "repo entry missing path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfigValidateForIntegration(t *testing.T) {
	base := Config{
		Pipeline: PipelineConfig{MaxAgents: 4, MaxBacklogPerRepo: 10},
		Sandbox:  SandboxConfig{Mode: "auto"},
		Store:    StoreConfig{Path: ".borg/borg.db"},
	}

	t.Run("missing github app id", func(t *testing.T) {
		cfg := base
		err := cfg.ValidateForIntegration()
		if err == nil || !strings.Contains(err.Error(), "app_id is required") {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("fully configured", func(t *testing.T) {
		cfg := base
		cfg.GitHub = GitHubConfig{AppID: 1, InstallationID: 2, PrivateKeySecret: "projects/p/secrets/s"}
		if err := cfg.ValidateForIntegration(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{Repos: []RepoConfig{{Path: "/repo"}}}
	applyDefaults(&cfg)

	if cfg.Pipeline.MaxAgents != 4 {
		t.Errorf("Pipeline.MaxAgents = %d, want 4", cfg.Pipeline.MaxAgents)
	}
	if cfg.Pipeline.SeedCooldownS != 1800 {
		t.Errorf("Pipeline.SeedCooldownS = %d, want 1800", cfg.Pipeline.SeedCooldownS)
	}
	if cfg.Pipeline.MaxBacklogPerRepo != 10 {
		t.Errorf("Pipeline.MaxBacklogPerRepo = %d, want 10", cfg.Pipeline.MaxBacklogPerRepo)
	}
	if cfg.Pipeline.MainBranch != "main" {
		t.Errorf("Pipeline.MainBranch = %q, want main", cfg.Pipeline.MainBranch)
	}
	if cfg.Chat.MaxAgents != 2 {
		t.Errorf("Chat.MaxAgents = %d, want 2", cfg.Chat.MaxAgents)
	}
	if cfg.Claude.Bin != "claude" {
		t.Errorf("Claude.Bin = %q, want claude", cfg.Claude.Bin)
	}
	if cfg.Sandbox.Mode != "auto" {
		t.Errorf("Sandbox.Mode = %q, want auto", cfg.Sandbox.Mode)
	}
	if cfg.Store.Path != ".borg/borg.db" {
		t.Errorf("Store.Path = %q, want .borg/borg.db", cfg.Store.Path)
	}
	if cfg.Repos[0].Mode != "sweborg" {
		t.Errorf("Repos[0].Mode = %q, want sweborg", cfg.Repos[0].Mode)
	}
}

func TestApplyDefaultsDoesNotOverrideExplicitValues(t *testing.T) {
	cfg := Config{
		Pipeline: PipelineConfig{MaxAgents: 8, MainBranch: "trunk"},
		Claude:   ClaudeConfig{Bin: "/opt/claude/bin/claude"},
		Repos:    []RepoConfig{{Path: "/repo", Mode: "lawborg"}},
	}
	applyDefaults(&cfg)

	if cfg.Pipeline.MaxAgents != 8 {
		t.Errorf("Pipeline.MaxAgents = %d, want 8", cfg.Pipeline.MaxAgents)
	}
	if cfg.Pipeline.MainBranch != "trunk" {
		t.Errorf("Pipeline.MainBranch = %q, want trunk", cfg.Pipeline.MainBranch)
	}
	if cfg.Claude.Bin != "/opt/claude/bin/claude" {
		t.Errorf("Claude.Bin = %q, want /opt/claude/bin/claude", cfg.Claude.Bin)
	}
	if cfg.Repos[0].Mode != "lawborg" {
		t.Errorf("Repos[0].Mode = %q, want lawborg", cfg.Repos[0].Mode)
	}
}
