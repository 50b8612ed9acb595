package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/revrally/revrally/internal/config"
	"github.com/revrally/revrally/internal/store"
)

func statusCmd() *cobra.Command {
	var (
		repo string
		pr   int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted session for a rally",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := store.New(config.DataDir())
			sess, err := st.LoadSession(repo, pr)
			if os.IsNotExist(err) {
				return fmt.Errorf("no rally found for %s#%d", repo, pr)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Run:       %s\n", sess.RunID)
			fmt.Printf("Repo:      %s#%d\n", sess.Repo, sess.PRNumber)
			fmt.Printf("State:     %s\n", sess.State)
			fmt.Printf("Iteration: %d\n", sess.Iteration)
			fmt.Printf("Started:   %s\n", sess.StartedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Printf("Updated:   %s\n", sess.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "repository in owner/name form (required)")
	cmd.Flags().IntVar(&pr, "pr", 0, "pull request number (required)")
	cmd.MarkFlagRequired("repo")
	cmd.MarkFlagRequired("pr")
	return cmd
}
