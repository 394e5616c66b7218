package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs <task-id>",
	Short: "Show a task's recent phase output history",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().Int("tail", 5, "number of recent phase outputs to show")
}

func runLogs(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid task id %q: %w", args[0], err)
	}

	db, _, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	task, err := db.GetTask(id)
	if err != nil {
		return fmt.Errorf("get task %d: %w", id, err)
	}

	tail, _ := cmd.Flags().GetInt("tail")
	history, err := db.RecentTaskOutputs(id, tail)
	if err != nil {
		return fmt.Errorf("recent outputs for task %d: %w", id, err)
	}

	fmt.Printf("task %d %q [%s] attempt %d/%d\n", task.ID, task.Title, task.Status, task.Attempt, task.MaxAttempts)
	if task.LastError != "" {
		fmt.Printf("last error: %s\n", task.LastError)
	}
	for _, h := range history {
		outcome := "ok"
		if !h.Success {
			outcome = "FAILED"
		}
		fmt.Printf("--- %s [%s] %s ---\n%s\n", h.Phase, outcome, h.Timestamp.Format("2006-01-02 15:04:05"), h.Output)
	}
	return nil
}
