package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/revrally/revrally/internal/config"
	"github.com/revrally/revrally/internal/store"
)

func historyCmd() *cobra.Command {
	var (
		repo string
		pr   int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the review/fix history of a rally",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := store.New(config.DataDir())
			entries, err := st.LoadHistory(repo, pr)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Printf("No history for %s#%d\n", repo, pr)
				return nil
			}
			for _, e := range entries {
				switch e.Kind {
				case store.EntryReview:
					fmt.Printf("%3d  review  %-16s %s\n", e.Iteration, e.Review.Action, clip(e.Review.Summary, 80))
				case store.EntryFix:
					fmt.Printf("%3d  fix     %-16s %s\n", e.Iteration, e.Fix.Status, clip(e.Fix.Summary, 80))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "repository in owner/name form (required)")
	cmd.Flags().IntVar(&pr, "pr", 0, "pull request number (required)")
	cmd.MarkFlagRequired("repo")
	cmd.MarkFlagRequired("pr")
	return cmd
}
