// Package mcpconfig generates the per-task MCP server config file an agent
// CLI is pointed at via --mcp-config, so a running phase can query pipeline
// state (task status, backlog) over MCP instead of shelling out to borgctl.
package mcpconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ServerEntry is one entry under "mcpServers" in the generated config,
// matching the shape Claude Code and compatible CLIs expect for a stdio
// MCP server.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

type fileFormat struct {
	MCPServers map[string]ServerEntry `json:"mcpServers"`
}

// Write renders a single-server "borg" MCP config naming binPath (the
// borg-mcp binary) as a stdio server scoped to storePath and taskID, and
// writes it to <dir>/mcp.json. It returns the path so the caller can pass
// it straight through as --mcp-config.
func Write(dir, binPath, storePath string, taskID int64) (string, error) {
	cfg := fileFormat{
		MCPServers: map[string]ServerEntry{
			"borg": {
				Command: binPath,
				Args:    []string{"-store", storePath},
				Env:     map[string]string{"BORG_MCP_TASK_ID": fmt.Sprintf("%d", taskID)},
			},
		},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("mcpconfig: marshal: %w", err)
	}

	path := filepath.Join(dir, "mcp.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("mcpconfig: write %s: %w", path, err)
	}
	return path, nil
}
