package pipeline

import (
	"context"
	"time"

	"github.com/andywolf/borg/internal/agentexec"
	"github.com/andywolf/borg/internal/modes"
	"github.com/andywolf/borg/internal/sandbox"
)

// AgentexecBackend adapts internal/agentexec.RunPhase to the Backend
// interface the scheduler depends on, resolving a fresh OAuth token from
// cache on every call.
type AgentexecBackend struct {
	Opts  agentexec.Options
	Token *agentexec.OAuthCache
}

// NewAgentexecBackend builds a Backend backed by the real Claude Code CLI.
// mcpBinPath and storePath are both optional; when either is empty, phases
// run without an MCP config (no behavior change).
func NewAgentexecBackend(claudeBin string, sandboxMode sandbox.Mode, timeout time.Duration, token *agentexec.OAuthCache, mcpBinPath, storePath string) *AgentexecBackend {
	return &AgentexecBackend{
		Opts: agentexec.Options{
			ClaudeBin:   claudeBin,
			SandboxMode: sandboxMode,
			Timeout:     timeout,
			MCPBinPath:  mcpBinPath,
			StorePath:   storePath,
		},
		Token: token,
	}
}

func (b *AgentexecBackend) RunPhase(ctx context.Context, cfg modes.PhaseConfig, pctx BackendPhaseContext) (BackendPhaseOutput, error) {
	token, err := b.Token.Token()
	if err != nil {
		return BackendPhaseOutput{}, err
	}

	out, err := agentexec.RunPhase(ctx, cfg, agentexec.PhaseContext{
		Task:               pctx.Task,
		SessionDir:         pctx.SessionDir,
		WorktreePath:       pctx.WorktreePath,
		OAuthToken:         token,
		Model:              pctx.Model,
		PendingMessages:    pctx.PendingMessages,
		SystemPromptSuffix: pctx.SystemPromptSuffix,
		FileListing:        pctx.FileListing,
		OnLine:             pctx.OnLine,
	}, b.Opts)
	if err != nil {
		return BackendPhaseOutput{}, err
	}

	return BackendPhaseOutput{
		Output:       out.Output,
		NewSessionID: out.NewSessionID,
		RawStream:    out.RawStream,
		Success:      out.Success,
	}, nil
}
