package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/andywolf/borg/internal/agentevents"
	"github.com/andywolf/borg/internal/security"
)

const (
	// projectContextMaxBytes bounds the total size of the optional
	// project-context block prefixed to a composed prompt.
	projectContextMaxBytes = 120_000
	// projectContextFilePreviewMaxBytes bounds any single file's preview
	// within that block, so one huge file can't crowd out the rest.
	projectContextFilePreviewMaxBytes = 12_000
)

// ProjectFile is one file offered as project context for a chat prompt.
type ProjectFile struct {
	Path    string
	Content string
}

// Runner invokes the agent CLI for a chat turn; concrete implementations
// wrap internal/agentexec the same way pipeline.Backend does for phases.
type Runner interface {
	Run(ctx context.Context, sessionDir, sessionID, prompt string) (output, newSessionID string, err error)
}

// SessionRouter maintains a process-local chat-key -> agent session id
// map and composes the prompt for a batch before invoking Runner.
type SessionRouter struct {
	mu       sync.RWMutex
	sessions map[string]string

	runner     Runner
	sessionDir func(chatKey string) string
	validator  *security.CommandValidator
}

// NewSessionRouter builds a router. sessionDir resolves the per-chat
// session working directory (its HOME for the agent subprocess).
func NewSessionRouter(runner Runner, sessionDir func(string) string) *SessionRouter {
	return &SessionRouter{
		sessions:   make(map[string]string),
		runner:     runner,
		sessionDir: sessionDir,
		validator:  security.NewCommandValidator(),
	}
}

// Dispatch composes the prompt for batch, runs the agent (resuming the
// chat's known session if any), and returns the reply text. On success
// the chat's session id is updated for the next turn.
func (r *SessionRouter) Dispatch(ctx context.Context, batch MessageBatch, sender string, projectFiles []ProjectFile) (string, error) {
	prompt := composePrompt(sender, batch.Messages)
	if ctxBlock := composeProjectContext(projectFiles); ctxBlock != "" {
		prompt = ctxBlock + "\n\n" + prompt
	}

	sessionID := r.sessionID(batch.ChatKey)
	rawOutput, newSessionID, err := r.runner.Run(ctx, r.sessionDir(batch.ChatKey), sessionID, prompt)
	if err != nil {
		return "", fmt.Errorf("chat: run agent for %s: %w", batch.ChatKey, err)
	}

	if newSessionID != "" {
		if err := r.validator.ValidateSessionID(newSessionID); err != nil {
			slog.Warn("chat: discarding malformed session id from agent output", "chat_key", batch.ChatKey, "error", err)
		} else {
			r.setSessionID(batch.ChatKey, newSessionID)
		}
	}

	parsed := agentevents.ParseStream([]byte(rawOutput))
	if parsed.Output != "" {
		return parsed.Output, nil
	}
	return parsed.AssistantText, nil
}

func (r *SessionRouter) sessionID(chatKey string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[chatKey]
}

func (r *SessionRouter) setSessionID(chatKey, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[chatKey] = sessionID
}

// composePrompt renders a single message as "<sender> says: <text>", or
// multiple as a sender header followed by a bulleted list — matching the
// two shapes an operator would recognize from the original chat bridge.
func composePrompt(sender string, messages []string) string {
	if len(messages) == 1 {
		return fmt.Sprintf("%s says: %s", sender, messages[0])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s sent %d messages:\n", sender, len(messages))
	for _, m := range messages {
		fmt.Fprintf(&b, "- %s\n", m)
	}
	return strings.TrimSpace(b.String())
}

// composeProjectContext renders files into a fenced preview block,
// stopping once the total budget is spent; each file's own preview is
// independently capped so one oversized file can't starve the rest.
func composeProjectContext(files []ProjectFile) string {
	if len(files) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Project context\n\n")
	spent := 0
	for _, f := range files {
		if spent >= projectContextMaxBytes {
			break
		}
		preview := f.Content
		if len(preview) > projectContextFilePreviewMaxBytes {
			preview = preview[:projectContextFilePreviewMaxBytes]
		}
		remaining := projectContextMaxBytes - spent
		if len(preview) > remaining {
			preview = preview[:remaining]
		}
		fmt.Fprintf(&b, "### %s\n\n```\n%s\n```\n\n", f.Path, preview)
		spent += len(preview)
	}
	return strings.TrimSpace(b.String())
}
