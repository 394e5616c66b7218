package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry <task-id>",
	Short: "Reset a failed task's attempt count and re-queue it at a phase",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetry,
}

func init() {
	rootCmd.AddCommand(retryCmd)
	retryCmd.Flags().String("phase", "", "phase to re-queue at (default: the task's current phase)")
}

func runRetry(cmd *cobra.Command, args []string) error {
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

	phase, _ := cmd.Flags().GetString("phase")
	if phase == "" {
		phase = task.Status
	}

	if err := db.ResetForRetry(id, phase); err != nil {
		return fmt.Errorf("reset task %d for retry: %w", id, err)
	}

	fmt.Printf("task %d re-queued at phase %q\n", id, phase)
	return nil
}
