package main

import (
	"fmt"
	"strconv"

	"github.com/andywolf/borg/internal/store"
	"github.com/spf13/cobra"
)

var proposalsCmd = &cobra.Command{
	Use:   "proposals",
	Short: "List and triage seeded proposals",
}

var proposalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List proposals awaiting triage",
	RunE:  listProposals,
}

var proposalsApproveCmd = &cobra.Command{
	Use:   "approve <proposal-id>",
	Short: "Approve a proposal, converting it into a task",
	Args:  cobra.ExactArgs(1),
	RunE:  approveProposal,
}

var proposalsDismissCmd = &cobra.Command{
	Use:   "dismiss <proposal-id>",
	Short: "Dismiss a proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  dismissProposal,
}

func init() {
	rootCmd.AddCommand(proposalsCmd)
	proposalsCmd.AddCommand(proposalsListCmd, proposalsApproveCmd, proposalsDismissCmd)
	proposalsListCmd.Flags().String("status", "proposed", "filter by status (proposed, approved, dismissed)")
}

func listProposals(cmd *cobra.Command, _ []string) error {
	db, _, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	status, _ := cmd.Flags().GetString("status")
	proposals, err := db.ListProposals(status)
	if err != nil {
		return fmt.Errorf("list proposals: %w", err)
	}
	if len(proposals) == 0 {
		fmt.Println("no proposals")
		return nil
	}
	for _, p := range proposals {
		fmt.Printf("%-6d %-30s %s\n", p.ID, truncate(p.Title, 30), p.RepoPath)
	}
	return nil
}

func approveProposal(_ *cobra.Command, args []string) error {
	return triageProposal(args[0], "approved", func(db *store.Store, p store.Proposal) error {
		rc, _, _ := db.GetRepoConfig(p.RepoPath)
		_, err := db.InsertTask(store.Task{
			Title:       p.Title,
			Description: p.Description,
			RepoPath:    p.RepoPath,
			Status:      "backlog",
			MaxAttempts: 3,
			CreatedBy:   "proposal",
			Backend:     rc.Backend,
		})
		return err
	})
}

func dismissProposal(_ *cobra.Command, args []string) error {
	return triageProposal(args[0], "dismissed", nil)
}

func triageProposal(idStr, newStatus string, onApprove func(*store.Store, store.Proposal) error) error {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid proposal id %q: %w", idStr, err)
	}

	db, _, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if onApprove != nil {
		proposals, err := db.ListProposals("proposed")
		if err != nil {
			return fmt.Errorf("list proposals: %w", err)
		}
		for _, p := range proposals {
			if p.ID == id {
				if err := onApprove(db, p); err != nil {
					return fmt.Errorf("create task from proposal %d: %w", id, err)
				}
				break
			}
		}
	}

	if err := db.UpdateProposalStatus(id, newStatus); err != nil {
		return fmt.Errorf("update proposal %d: %w", id, err)
	}
	fmt.Printf("proposal %d marked %s\n", id, newStatus)
	return nil
}
