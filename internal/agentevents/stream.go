// Package agentevents parses the NDJSON stream emitted by an agent CLI
// running with --output-format stream-json, and extracts the sentinel-
// delimited canonical result a phase hands back to the pipeline.
package agentevents

import (
	"encoding/json"
	"strings"
)

// eventType mirrors the top-level "type" discriminator on each NDJSON line.
type eventType string

const (
	eventSystem    eventType = "system"
	eventAssistant eventType = "assistant"
	eventUser      eventType = "user"
	eventResult    eventType = "result"
)

type rawEvent struct {
	Type      eventType       `json:"type"`
	SessionID string          `json:"session_id"`
	Message   json.RawMessage `json:"message"`
	Result    string          `json:"result"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type rawContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolCall is a tool_use content block pulled out of an assistant turn.
// It satisfies internal/audit's ClaudeCodeEvent interface by duck typing,
// so callers can hand a []ToolCall straight to audit.ExtractFromClaudeCode
// without agentevents importing internal/audit.
type ToolCall struct {
	Name  string
	Input json.RawMessage
}

// GetToolName implements internal/audit's ClaudeCodeEvent interface.
func (t ToolCall) GetToolName() string { return t.Name }

// GetToolInput implements internal/audit's ClaudeCodeEvent interface.
func (t ToolCall) GetToolInput() json.RawMessage { return t.Input }

// IsToolUse implements internal/audit's ClaudeCodeEvent interface.
func (t ToolCall) IsToolUse() bool { return true }

// ParseResult is the outcome of scanning a full agent NDJSON stream.
type ParseResult struct {
	// Output is the final text a caller should treat as the phase's answer:
	// the result event's text if present, else the concatenation of every
	// assistant text block seen.
	Output string
	// SessionID is the most recent non-empty session id seen across
	// system and result events (result wins if both are present).
	SessionID string
	// AssistantText is only the assistant-turn text blocks, newline joined,
	// useful for human-readable transcripts independent of the final result.
	AssistantText string
	// ToolCalls is every tool_use block seen across assistant turns, in
	// stream order, for audit logging of what the agent actually did.
	ToolCalls []ToolCall
}

// ParseStream scans a raw NDJSON byte stream line by line and extracts the
// final output text and session id, following Claude Code's stream-json
// event ordering: system carries the initial session id, assistant turns
// accumulate text blocks, and the terminal result event (when its own text
// is non-empty) wins over anything accumulated from assistant turns.
func ParseStream(data []byte) *ParseResult {
	res := &ParseResult{}
	var output string

	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var ev rawEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case eventSystem:
			if ev.SessionID != "" {
				res.SessionID = ev.SessionID
			}
		case eventAssistant:
			if text := extractText(ev.Message); text != "" {
				if res.AssistantText != "" {
					res.AssistantText += "\n"
				}
				res.AssistantText += text
			}
			res.ToolCalls = append(res.ToolCalls, extractToolCalls(ev.Message)...)
		case eventResult:
			if ev.SessionID != "" {
				res.SessionID = ev.SessionID
			}
			if ev.Result != "" {
				output = ev.Result
			}
		}
	}

	if output == "" {
		output = res.AssistantText
	}
	res.Output = output
	return res
}

// extractText concatenates every "text" content block in a system/assistant
// message's content array. Non-text blocks (tool_use, tool_result) are
// ignored for the purposes of building the readable transcript.
func extractText(rawMsg json.RawMessage) string {
	if len(rawMsg) == 0 {
		return ""
	}
	var msg rawMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		return ""
	}
	blocks := extractBlocks(msg.Content)
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type != "text" || b.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(b.Text)
	}
	return sb.String()
}

// extractToolCalls pulls every tool_use content block out of an assistant
// message, ignoring text/tool_result blocks.
func extractToolCalls(rawMsg json.RawMessage) []ToolCall {
	if len(rawMsg) == 0 {
		return nil
	}
	var msg rawMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		return nil
	}
	var calls []ToolCall
	for _, b := range extractBlocks(msg.Content) {
		if b.Type != "tool_use" || b.Name == "" {
			continue
		}
		calls = append(calls, ToolCall{Name: b.Name, Input: b.Input})
	}
	return calls
}

// extractBlocks decodes a message's "content" field, which Claude Code
// emits either as a plain string (treated as a single text block) or as
// an array of typed content blocks.
func extractBlocks(raw json.RawMessage) []rawContentBlock {
	if len(raw) == 0 {
		return nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return nil
		}
		return []rawContentBlock{{Type: "text", Text: asString}}
	}

	var blocks []rawContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return blocks
	}
	return nil
}
