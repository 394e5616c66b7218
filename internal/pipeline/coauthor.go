package pipeline

import (
	"fmt"
	"strings"
)

// commitAuthorEnv returns GIT_AUTHOR_*/GIT_COMMITTER_* overrides so agent
// commits show up as the configured co-author rather than whatever
// identity happens to be in the worktree's global git config.
func (s *Scheduler) commitAuthorEnv() []string {
	if s.cfg.ClaudeCoauthor == "" {
		return nil
	}
	name, email := splitCoauthor(s.cfg.ClaudeCoauthor)
	return []string{
		"GIT_AUTHOR_NAME=" + name,
		"GIT_AUTHOR_EMAIL=" + email,
		"GIT_COMMITTER_NAME=" + name,
		"GIT_COMMITTER_EMAIL=" + email,
	}
}

// systemPromptSuffix builds the trailer appended to every agent phase's
// system prompt so commits it authors carry a Co-authored-by line for
// both the Claude identity and, if configured, the operator who queued
// the task.
func (s *Scheduler) systemPromptSuffix() string {
	var lines []string
	if s.cfg.ClaudeCoauthor != "" {
		lines = append(lines, fmt.Sprintf("When committing, include a trailer: Co-authored-by: %s", s.cfg.ClaudeCoauthor))
	}
	if s.cfg.UserCoauthor != "" {
		lines = append(lines, fmt.Sprintf("Also include: Co-authored-by: %s", s.cfg.UserCoauthor))
	}
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// splitCoauthor parses a "Name <email>" trailer value into its parts,
// falling back to treating the whole string as the name if it doesn't
// have the expected "<...>" suffix.
func splitCoauthor(trailer string) (name, email string) {
	start := strings.IndexByte(trailer, '<')
	if start < 0 || !strings.HasSuffix(trailer, ">") {
		return trailer, ""
	}
	name = strings.TrimSpace(trailer[:start])
	email = trailer[start+1 : len(trailer)-1]
	return name, email
}
