// Command borg-mcp is a stdio MCP server exposing read-only pipeline
// introspection tools (task status, active backlog) to an agent CLI
// running a phase. internal/mcpconfig points --mcp-config at this binary
// per task.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/andywolf/borg/internal/store"
)

func main() {
	storePath := flag.String("store", "", "path to the borg sqlite store")
	flag.Parse()

	if *storePath == "" {
		fmt.Fprintln(os.Stderr, "borg-mcp: -store is required")
		os.Exit(1)
	}

	db, err := store.Open(*storePath)
	if err != nil {
		log.Fatalf("borg-mcp: open store: %v", err)
	}
	defer db.Close()

	s := server.NewMCPServer("borg-mcp", "1.0.0",
		server.WithInstructions("Read-only tools for the current phase's task and the repo's active backlog."),
	)

	registerTools(s, db)

	stdioSrv := server.NewStdioServer(s)
	if err := stdioSrv.Listen(context.Background(), os.Stdin, os.Stdout); err != nil {
		log.Fatalf("borg-mcp: stdio server: %v", err)
	}
}

func registerTools(s *server.MCPServer, db *store.Store) {
	s.AddTool(
		mcp.NewTool("task_status",
			mcp.WithDescription("Get the current status, attempt count, and last error for a task by ID."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
		),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			idStr, _ := req.GetArguments()["task_id"].(string)
			id, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid task_id %q", idStr)), nil
			}
			task, err := db.GetTask(id)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf(
				"status=%s attempt=%d/%d branch=%s last_error=%s",
				task.Status, task.Attempt, task.MaxAttempts, task.Branch, task.LastError,
			)), nil
		},
	)

	s.AddTool(
		mcp.NewTool("list_active_tasks",
			mcp.WithDescription("List tasks currently in flight across every watched repo, for coordinating with parallel work."),
		),
		func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tasks, err := db.ListActiveTasks()
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if len(tasks) == 0 {
				return mcp.NewToolResultText("no active tasks"), nil
			}
			out := ""
			for _, t := range tasks {
				out += fmt.Sprintf("#%d [%s] %s (repo=%s)\n", t.ID, t.Status, t.Title, t.RepoPath)
			}
			return mcp.NewToolResultText(out), nil
		},
	)
}
