package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/revrally/revrally/internal/config"
	"github.com/revrally/revrally/internal/store"
)

func showCmd() *cobra.Command {
	var (
		repo      string
		pr        int
		iteration int
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Render a stored review",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := store.New(config.DataDir())
			entries, err := st.LoadHistory(repo, pr)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if e.Kind != store.EntryReview || e.Iteration != iteration {
					continue
				}
				return renderReview(e)
			}
			return fmt.Errorf("no review found for %s#%d iteration %d", repo, pr, iteration)
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "repository in owner/name form (required)")
	cmd.Flags().IntVar(&pr, "pr", 0, "pull request number (required)")
	cmd.Flags().IntVar(&iteration, "iteration", 1, "iteration to show")
	cmd.MarkFlagRequired("repo")
	cmd.MarkFlagRequired("pr")
	return cmd
}

func renderReview(e *store.HistoryEntry) error {
	var md strings.Builder
	fmt.Fprintf(&md, "# Review (iteration %d)\n\n**Verdict:** %s\n\n%s\n", e.Iteration, e.Review.Action, e.Review.Summary)
	if len(e.Review.BlockingIssues) > 0 {
		md.WriteString("\n## Blocking Issues\n\n")
		for _, issue := range e.Review.BlockingIssues {
			fmt.Fprintf(&md, "- %s\n", issue)
		}
	}
	if len(e.Review.Comments) > 0 {
		md.WriteString("\n## Comments\n\n")
		for _, c := range e.Review.Comments {
			fmt.Fprintf(&md, "- `%s:%d` **%s**: %s\n", c.Path, c.Line, c.Severity, c.Body)
		}
	}

	if !styled {
		fmt.Println(md.String())
		return nil
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		fmt.Println(md.String())
		return nil
	}
	out, err := r.Render(md.String())
	if err != nil {
		fmt.Println(md.String())
		return nil
	}
	fmt.Print(out)
	return nil
}
