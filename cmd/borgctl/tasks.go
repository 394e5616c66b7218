package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List pipeline tasks",
	RunE:  listTasks,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.Flags().String("status", "", "filter by status (e.g. impl, done, failed); default lists active tasks")
}

func listTasks(cmd *cobra.Command, _ []string) error {
	db, _, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	status, _ := cmd.Flags().GetString("status")

	var tasks []taskRow
	if status == "" {
		active, err := db.ListActiveTasks()
		if err != nil {
			return fmt.Errorf("list active tasks: %w", err)
		}
		for _, t := range active {
			tasks = append(tasks, taskRow{t.ID, t.Title, t.Status, t.RepoPath, t.Attempt})
		}
	} else {
		filtered, err := db.ListTasksByStatus(status)
		if err != nil {
			return fmt.Errorf("list tasks with status %q: %w", status, err)
		}
		for _, t := range filtered {
			tasks = append(tasks, taskRow{t.ID, t.Title, t.Status, t.RepoPath, t.Attempt})
		}
	}

	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return nil
	}
	fmt.Printf("%-6s %-8s %-30s %s\n", "ID", "STATUS", "TITLE", "REPO")
	for _, t := range tasks {
		fmt.Printf("%-6d %-8s %-30s %s (attempt %d)\n", t.id, t.status, truncate(t.title, 30), t.repoPath, t.attempt)
	}
	return nil
}

type taskRow struct {
	id       int64
	title    string
	status   string
	repoPath string
	attempt  int
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
