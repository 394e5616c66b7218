// Package agentexec launches the Claude Code CLI as a (possibly
// sandboxed) subprocess for a single pipeline phase, streams its NDJSON
// output, and hands back the canonical phase result.
package agentexec

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/andywolf/borg/internal/agent"
	_ "github.com/andywolf/borg/internal/agent/aider"
	_ "github.com/andywolf/borg/internal/agent/claudecode"
	"github.com/andywolf/borg/internal/agent/codex"
	"github.com/andywolf/borg/internal/agent/event"
	"github.com/andywolf/borg/internal/agentevents"
	"github.com/andywolf/borg/internal/mcpconfig"
	"github.com/andywolf/borg/internal/modes"
	"github.com/andywolf/borg/internal/sandbox"
	"github.com/andywolf/borg/internal/store"
)

// MaxTurns bounds how many agent turns a single phase invocation may take.
const MaxTurns = "200"

// PhaseContext carries everything RunPhase needs beyond the phase's own
// static config: the task, its worktree, and the agent session to resume
// (if any).
type PhaseContext struct {
	Task               store.Task
	RepoTestCmd        string
	SessionDir         string
	WorktreePath       string
	OAuthToken         string
	Model              string
	PendingMessages    []store.TaskMessage
	SystemPromptSuffix string
	FileListing        []string
	// OnLine, if set, is called with every raw NDJSON line as it arrives,
	// for live stream fan-out to subscribers.
	OnLine func(line string)
}

// PhaseOutput is what a phase invocation produced.
type PhaseOutput struct {
	Output       string
	NewSessionID string
	RawStream    string
	Success      bool
}

// Options configures the executor independent of any one phase.
type Options struct {
	ClaudeBin   string
	SandboxMode sandbox.Mode
	Timeout     time.Duration
	// MCPBinPath, if set alongside StorePath, is passed to the agent CLI
	// via --mcp-config so a phase can query task/backlog state over MCP
	// instead of shelling out to borgctl.
	MCPBinPath string
	StorePath  string
}

// RunPhase builds the instruction and argv for cfg against pctx, launches
// the agent under the resolved sandbox, and parses its output. A timeout
// elapsing is not treated as an error: it yields a PhaseOutput with
// Success=false so the pipeline can route to its normal retry path
// instead of a distinct timeout error path.
func RunPhase(ctx context.Context, cfg modes.PhaseConfig, pctx PhaseContext, opts Options) (PhaseOutput, error) {
	instruction := buildInstruction(cfg, pctx)
	systemPrompt := cfg.SystemPrompt
	if pctx.SystemPromptSuffix != "" {
		systemPrompt = strings.TrimSpace(systemPrompt + "\n\n" + pctx.SystemPromptSuffix)
	}

	backendName := pctx.Task.Backend
	if backendName == "" {
		backendName = "claude-code"
	}

	var argv []string
	env := map[string]string{
		"CLAUDE_CODE_OAUTH_TOKEN": pctx.OAuthToken,
	}
	image := ""
	if adapter, err := agent.Get(backendName); err == nil {
		image = adapter.ContainerImage()
	}

	if backendName == "claude-code" {
		argv = []string{
			opts.ClaudeBin,
			"--model", pctx.Model,
			"--output-format", "stream-json",
			"--verbose",
			"--allowedTools", cfg.AllowedTools,
			"--max-turns", MaxTurns,
		}
		if systemPrompt != "" {
			argv = append(argv, "--append-system-prompt", systemPrompt)
		}
		if pctx.Task.SessionID != "" && !cfg.FreshSession {
			argv = append(argv, "--resume", pctx.Task.SessionID)
		}
		if opts.MCPBinPath != "" && opts.StorePath != "" {
			if path, err := mcpconfig.Write(pctx.SessionDir, opts.MCPBinPath, opts.StorePath, pctx.Task.ID); err != nil {
				return PhaseOutput{}, fmt.Errorf("agentexec: write mcp config: %w", err)
			} else {
				argv = append(argv, "--mcp-config", path)
			}
		}
		argv = append(argv, "--print", instruction)
	} else {
		adapter, err := agent.Get(backendName)
		if err != nil {
			return PhaseOutput{}, fmt.Errorf("agentexec: resolve backend %q: %w", backendName, err)
		}
		session := &agent.Session{
			ID:           pctx.Task.SessionID,
			WorkDir:      pctx.WorktreePath,
			Prompt:       instruction,
			SystemPrompt: systemPrompt,
			ActiveTask:   fmt.Sprintf("%d", pctx.Task.ID),
		}
		argv = append([]string{adapter.Name()}, adapter.BuildCommand(session, 1)...)
		for k, v := range adapter.BuildEnv(session, 1) {
			env[k] = v
		}
	}

	// Sandboxing is a per-phase decision: most phases run directly since
	// the worktree itself is the isolation boundary, and only phases that
	// explicitly opt in (UseSandbox) pay the container/bwrap overhead.
	effectiveMode := sandbox.ModeDirect
	if cfg.UseSandbox {
		effectiveMode = opts.SandboxMode
	}

	spec := sandbox.Spec{
		Command: argv,
		WorkDir: pctx.WorktreePath,
		HomeDir: pctx.SessionDir,
		Image:   image,
		Env:     env,
		Network: true,
	}
	finalArgv, err := sandbox.BuildCommand(ctx, effectiveMode, spec)
	if err != nil {
		return PhaseOutput{}, fmt.Errorf("agentexec: build sandbox command: %w", err)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, finalArgv[0], finalArgv[1:]...)
	cmd.Dir = pctx.WorktreePath
	cmd.Env = append(os.Environ(), "HOME="+pctx.SessionDir, "CLAUDE_CODE_OAUTH_TOKEN="+pctx.OAuthToken)
	if effectiveMode == sandbox.ModeDirect {
		cmd.Env = append(cmd.Env, "PATH="+pctx.SessionDir+"/.local/bin:/usr/local/bin:"+os.Getenv("PATH"))
	}

	raw, errOut, exitCode, err := runAndCollect(cmd, pctx.OnLine)
	if runCtx.Err() == context.DeadlineExceeded {
		return PhaseOutput{Success: false}, nil
	}
	if err != nil {
		return PhaseOutput{}, fmt.Errorf("agentexec: run agent: %w", err)
	}

	if backendName == "claude-code" {
		parsed := agentevents.ParseStream([]byte(raw))
		return PhaseOutput{
			Output:       parsed.Output,
			NewSessionID: parsed.SessionID,
			RawStream:    raw,
			Success:      true,
		}, nil
	}

	adapter, err := agent.Get(backendName)
	if err != nil {
		return PhaseOutput{}, fmt.Errorf("agentexec: resolve backend %q: %w", backendName, err)
	}
	result, err := adapter.ParseOutput(exitCode, raw, errOut)
	if err != nil {
		return PhaseOutput{}, fmt.Errorf("agentexec: parse %s output: %w", backendName, err)
	}
	writeTranscript(backendName, pctx, result)
	return PhaseOutput{
		Output:    result.RawTextContent,
		RawStream: raw,
		Success:   result.Success,
	}, nil
}

// writeTranscript converts a non-claude-code backend's structured events
// to the unified event log and appends them to the session's transcript
// file, mirroring what Claude Code's own NDJSON stream already gives a
// reader for the default backend. Only codex currently surfaces
// structured events on IterationResult; other adapters are silently
// skipped rather than guessed at.
func writeTranscript(backendName string, pctx PhaseContext, result *agent.IterationResult) {
	if backendName != "codex" || len(result.Events) == 0 {
		return
	}

	codexEvents := make([]codex.CodexEvent, 0, len(result.Events))
	for _, e := range result.Events {
		if ce, ok := e.(codex.CodexEvent); ok {
			codexEvents = append(codexEvents, ce)
		}
	}
	if len(codexEvents) == 0 {
		return
	}

	sink, err := event.NewFileSink(pctx.SessionDir + "/transcript.jsonl")
	if err != nil {
		return
	}
	defer sink.Close()

	events := event.FromCodexBatch(codexEvents, pctx.Task.SessionID, pctx.Task.Attempt)
	_ = sink.WriteBatch(events)
}

// runAndCollect starts cmd and concurrently drains stdout and stderr so
// neither pipe's buffer can fill and deadlock the child: stdout lines are
// accumulated (and forwarded to onLine) while stderr is buffered
// separately for backends whose ParseOutput needs it (claude-code's own
// NDJSON parsing ignores it). The exit code is returned alongside so a
// non-zero exit doesn't always mean failure — some backends encode
// partial success in stdout regardless.
func runAndCollect(cmd *exec.Cmd, onLine func(string)) (stdout, stderr string, exitCode int, err error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", -1, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", "", -1, err
	}
	if err := cmd.Start(); err != nil {
		return "", "", -1, err
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var out, errBuf strings.Builder

	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdoutPipe)
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			out.WriteString(line)
			out.WriteByte('\n')
			mu.Unlock()
			if onLine != nil {
				onLine(line)
			}
		}
	}()
	go func() {
		defer wg.Done()
		data, _ := io.ReadAll(stderrPipe)
		mu.Lock()
		errBuf.Write(data)
		mu.Unlock()
	}()

	wg.Wait()
	waitErr := cmd.Wait()
	code := cmd.ProcessState.ExitCode()
	if waitErr != nil {
		if _, ok := waitErr.(*exec.ExitError); ok {
			// A non-zero exit still yields a usable (possibly partial)
			// stream; the caller decides success from the parsed result,
			// not from the process exit code.
			return out.String(), errBuf.String(), code, nil
		}
		return out.String(), errBuf.String(), code, waitErr
	}
	return out.String(), errBuf.String(), code, nil
}

// buildInstruction composes the full --print payload: task context,
// the phase's own instruction, a file listing, any error context from a
// prior failed attempt, and pending messages queued by an operator.
func buildInstruction(cfg modes.PhaseConfig, pctx PhaseContext) string {
	var b strings.Builder

	if cfg.IncludeTaskContext {
		fmt.Fprintf(&b, "## Task\n\n%s\n\n%s\n\n", pctx.Task.Title, pctx.Task.Description)
	}

	if cfg.Instruction != "" {
		b.WriteString(cfg.Instruction)
		b.WriteString("\n\n")
	}

	if cfg.IncludeFileListing && len(pctx.FileListing) > 0 {
		b.WriteString("## Files\n\n")
		for _, f := range pctx.FileListing {
			b.WriteString(f)
			b.WriteByte('\n')
		}
		b.WriteString("\n")
	}

	if pctx.Task.LastError != "" && cfg.ErrorInstruction != "" {
		b.WriteString(strings.ReplaceAll(cfg.ErrorInstruction, "{ERROR}", pctx.Task.LastError))
		b.WriteString("\n\n")
	}

	if len(pctx.PendingMessages) > 0 {
		b.WriteString("## Additional instructions from the operator\n\n")
		for _, m := range pctx.PendingMessages {
			fmt.Fprintf(&b, "- (%s) %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}

	return strings.TrimSpace(b.String())
}
