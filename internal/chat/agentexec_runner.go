package chat

import (
	"context"

	"github.com/andywolf/borg/internal/agentexec"
	"github.com/andywolf/borg/internal/modes"
	"github.com/andywolf/borg/internal/sandbox"
	"github.com/andywolf/borg/internal/store"
)

// AgentexecRunner adapts internal/agentexec.RunPhase to the chat Runner
// interface: every chat turn is modeled as a one-phase, no-commit,
// no-test agent invocation whose only job is to produce a reply.
type AgentexecRunner struct {
	ClaudeBin string
	Model     string
	Token     *agentexec.OAuthCache
}

func (r *AgentexecRunner) Run(ctx context.Context, sessionDir, sessionID, prompt string) (string, string, error) {
	token, err := r.Token.Token()
	if err != nil {
		return "", "", err
	}

	cfg := modes.PhaseConfig{
		Name:         "chat_turn",
		Type:         modes.PhaseAgent,
		Instruction:  prompt,
		AllowedTools: "Read,Glob,Grep",
	}
	pctx := agentexec.PhaseContext{
		Task:         store.Task{SessionID: sessionID},
		SessionDir:   sessionDir,
		WorktreePath: sessionDir,
		OAuthToken:   token,
		Model:        r.Model,
	}
	out, err := agentexec.RunPhase(ctx, cfg, pctx, agentexec.Options{
		ClaudeBin:   r.ClaudeBin,
		SandboxMode: sandbox.ModeDirect,
	})
	if err != nil {
		return "", "", err
	}
	return out.RawStream, out.NewSessionID, nil
}
