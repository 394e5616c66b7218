package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/andywolf/borg/internal/agentexec"
	"github.com/andywolf/borg/internal/chat"
	"github.com/andywolf/borg/internal/cloud/gcp"
	"github.com/andywolf/borg/internal/config"
	"github.com/andywolf/borg/internal/github"
	"github.com/andywolf/borg/internal/integration"
	"github.com/andywolf/borg/internal/modes"
	"github.com/andywolf/borg/internal/observability"
	"github.com/andywolf/borg/internal/pipeline"
	"github.com/andywolf/borg/internal/sandbox"
	"github.com/andywolf/borg/internal/security"
	"github.com/andywolf/borg/internal/store"
	"github.com/andywolf/borg/internal/version"
	"github.com/spf13/viper"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("borgd %s starting", version.Short())

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()

	if cfg.ModesPath != "" {
		extra, err := modes.LoadDir(cfg.ModesPath)
		if err != nil {
			log.Fatalf("load modes: %v", err)
		}
		modes.RegisterAll(extra)
		slog.Info("modes: loaded custom modes", "dir", cfg.ModesPath, "count", len(extra))
	}

	sandboxMode := sandbox.ParseMode(cfg.Sandbox.Mode)

	tokenSource := &agentexec.ClaudeFileTokenSource{Path: cfg.Claude.OAuthCredsPath}
	oauthCache := agentexec.NewOAuthCache(tokenSource)

	backend := pipeline.NewAgentexecBackend(
		cfg.Claude.Bin,
		sandboxMode,
		time.Duration(cfg.Pipeline.PhaseTimeoutS)*time.Second,
		oauthCache,
		cfg.MCP.BinPath,
		cfg.Store.Path,
	)

	events := make(chan pipeline.Event, 256)

	tracer := newTracer(cfg)
	sched := pipeline.New(db, pipelineConfig(cfg), backend, tracer, events)

	streams := chat.NewStreamManager()
	collector := chat.New(
		time.Duration(cfg.Chat.WindowMS)*time.Millisecond,
		time.Duration(cfg.Chat.CooldownMS)*time.Millisecond,
		cfg.Chat.MaxAgents,
	)
	chatRunner := &chat.AgentexecRunner{ClaudeBin: cfg.Claude.Bin, Model: cfg.Claude.Model, Token: oauthCache}
	router := chat.NewSessionRouter(chatRunner, func(chatKey string) string {
		return cfg.Store.Path + "-chat-" + chatKey
	})
	dispatcher := &chat.Dispatcher{
		Collector:  collector,
		Router:     router,
		Sink:       chat.NewStoreSink(db, streams),
		Transport:  "unspecified",
		FlushEvery: time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal: %v", sig)
		cancel()
	}()

	var processor *integration.Processor
	if hasIntegrationRepo(cfg) {
		if err := cfg.ValidateForIntegration(); err != nil {
			log.Fatalf("invalid config for integration: %v", err)
		}
		tokens, err := newGitHubTokenManager(cfg)
		if err != nil {
			log.Fatalf("github token manager: %v", err)
		}
		processor = integration.New(db, tokens)
		if err := processor.RecoverOrphans(); err != nil {
			slog.Warn("integration orphan recovery failed", "error", err)
		}
		go processor.Run(ctx)
	}

	if cfg.ModesPath != "" {
		go func() {
			if err := modes.Watch(ctx, cfg.ModesPath); err != nil {
				slog.Warn("modes: watch stopped", "error", err)
			}
		}()
	}

	go drainEvents(events)
	go dispatcher.Run(ctx)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("borgd shutting down")
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := tracer.Stop(stopCtx); err != nil {
				slog.Warn("tracer: flush on shutdown failed", "error", err)
			}
			stopCancel()
			return
		case <-ticker.C:
			sched.Tick(ctx)
		}
	}
}

// newTracer returns a LangfuseTracer when langfuse credentials are
// configured, else a NoOpTracer so phase tracing is always optional.
func newTracer(cfg *config.Config) observability.Tracer {
	if !cfg.Langfuse.Enabled() {
		return &observability.NoOpTracer{}
	}
	return observability.NewLangfuseTracer(observability.LangfuseConfig{
		PublicKey: cfg.Langfuse.PublicKey,
		SecretKey: cfg.Langfuse.SecretKey,
		BaseURL:   cfg.Langfuse.BaseURL,
	}, log.Default())
}

func hasIntegrationRepo(cfg *config.Config) bool {
	for _, r := range cfg.Repos {
		if !r.IsSelf {
			return true
		}
	}
	return false
}

func newGitHubTokenManager(cfg *config.Config) (*github.TokenManager, error) {
	key, err := resolvePrivateKey(cfg)
	if err != nil {
		return nil, err
	}
	return github.NewTokenManager(
		strconv.FormatInt(cfg.GitHub.AppID, 10),
		cfg.GitHub.InstallationID,
		key,
	)
}

func resolvePrivateKey(cfg *config.Config) ([]byte, error) {
	if cfg.Cloud.Provider != "gcp" {
		return os.ReadFile(cfg.GitHub.PrivateKeySecret)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := gcp.NewSecretManagerClient(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	secret, err := client.FetchSecret(ctx, cfg.GitHub.PrivateKeySecret)
	if err != nil {
		return nil, err
	}
	return []byte(secret), nil
}

func drainEvents(events <-chan pipeline.Event) {
	paths := security.NewPathSanitizer()
	for evt := range events {
		slog.Info("pipeline event", "kind", evt.Kind, "chat_id", evt.ChatID, "message", paths.Sanitize(evt.Message))
	}
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	repos := make([]pipeline.RepoConfig, len(cfg.Repos))
	for i, r := range cfg.Repos {
		repos[i] = pipeline.RepoConfig{
			Path:      r.Path,
			TestCmd:   r.TestCmd,
			LintCmd:   r.LintCmd,
			Mode:      r.Mode,
			IsSelf:    r.IsSelf,
			AutoMerge: r.AutoMerge,
			Backend:   r.Backend,
		}
	}
	return pipeline.Config{
		MaxAgents:         cfg.Pipeline.MaxAgents,
		SeedCooldown:      time.Duration(cfg.Pipeline.SeedCooldownS) * time.Second,
		MaxBacklogPerRepo: cfg.Pipeline.MaxBacklogPerRepo,
		ContinuousMode:    cfg.Pipeline.ContinuousMode,
		ClaudeCoauthor:    cfg.Git.ClaudeCoauthor,
		UserCoauthor:      cfg.Git.UserCoauthor,
		MainBranch:        cfg.Pipeline.MainBranch,
		SandboxMode:       sandbox.ParseMode(cfg.Sandbox.Mode),
		ClaudeBin:         cfg.Claude.Bin,
		DefaultModel:      cfg.Claude.Model,
		PhaseTimeout:      time.Duration(cfg.Pipeline.PhaseTimeoutS) * time.Second,
		WatchedRepos:      repos,
	}
}

func loadConfig() (*config.Config, error) {
	viper.SetConfigName("borg")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/borg")
	viper.SetEnvPrefix("BORG")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		slog.Warn("no borg.yaml found, using defaults and environment")
	}

	return config.Load()
}
