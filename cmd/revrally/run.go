package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/revrally/revrally/internal/agent"
	"github.com/revrally/revrally/internal/config"
	"github.com/revrally/revrally/internal/forge"
	"github.com/revrally/revrally/internal/prompt"
	"github.com/revrally/revrally/internal/rally"
	"github.com/revrally/revrally/internal/store"
)

func runCmd() *cobra.Command {
	var (
		repo          string
		pr            int
		reviewer      string
		reviewee      string
		maxIterations int
		timeoutSecs   int
		workingDir    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a rally on a pull request",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if reviewer != "" {
				cfg.Reviewer = reviewer
			}
			if reviewee != "" {
				cfg.Reviewee = reviewee
			}
			if maxIterations > 0 {
				cfg.MaxIterations = maxIterations
			}
			if timeoutSecs > 0 {
				cfg.TimeoutSecs = timeoutSecs
			}
			return runRally(cmd.Context(), cfg, repo, pr, workingDir)
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "repository in owner/name form (required)")
	cmd.Flags().IntVar(&pr, "pr", 0, "pull request number (required)")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer agent (claude-code, codex)")
	cmd.Flags().StringVar(&reviewee, "reviewee", "", "reviewee agent (claude-code, codex)")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "iteration cap")
	cmd.Flags().IntVar(&timeoutSecs, "timeout", 0, "per-call timeout in seconds")
	cmd.Flags().StringVar(&workingDir, "dir", "", "checkout the reviewee operates on")
	cmd.MarkFlagRequired("repo")
	cmd.MarkFlagRequired("pr")
	return cmd
}

func runRally(ctx context.Context, cfg *config.Config, repo string, pr int, workingDir string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := agent.Options{
		ClaudeCmd:               cfg.ClaudeCmd,
		CodexCmd:                cfg.CodexCmd,
		WorkingDir:              workingDir,
		ReviewerAdditionalTools: cfg.ReviewerAdditionalTools,
		RevieweeAdditionalTools: cfg.RevieweeAdditionalTools,
	}
	reviewerAgent, err := agent.New(cfg.Reviewer, opts)
	if err != nil {
		return err
	}
	revieweeAgent, err := agent.New(cfg.Reviewee, opts)
	if err != nil {
		return err
	}

	host := forge.NewGitHub(cfg.GitHubAPIURL, cfg.ResolveToken())
	botFilter := forge.BotFilter{Suffixes: cfg.BotCommentSuffixes, Exact: cfg.BotCommentAuthors}
	st := store.New(config.DataDir())
	prompts := prompt.NewBuilder(cfg.PromptDir)

	events := make(chan agent.Event, 256)
	// Buffered so a command typed after the rally already ended does not
	// wedge the consumer goroutine.
	commands := make(chan rally.Command, 1)

	orch, err := rally.New(st, reviewerAgent, revieweeAgent, host, prompts, botFilter,
		events, commands, rally.Options{
			MaxIterations: cfg.MaxIterations,
			Timeout:       time.Duration(cfg.TimeoutSecs) * time.Second,
		}, repo, pr)
	if err != nil {
		return err
	}

	fmt.Printf("Fetching %s#%d...\n", repo, pr)
	prData, err := host.FetchPR(ctx, repo, pr)
	if err != nil {
		return fmt.Errorf("fetch PR: %w", err)
	}
	diff, err := host.FetchPRDiff(ctx, repo, pr)
	if err != nil {
		return fmt.Errorf("fetch PR diff: %w", err)
	}
	rctx := &rally.Context{
		Repo:       repo,
		PRNumber:   pr,
		PRTitle:    prData.Title,
		PRBody:     prData.Body,
		Diff:       diff,
		WorkingDir: workingDir,
		HeadSHA:    prData.HeadSHA,
		BaseBranch: prData.BaseBranch,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumeEvents(events, commands)
	}()

	result, runErr := orch.Run(ctx, rctx)
	close(events)
	if runErr != nil {
		// The consumer may be blocked on a stdin read that will never
		// come; do not wait for it on the failure path.
		return runErr
	}
	wg.Wait()
	printResult(result)
	if result.Kind == rally.ResultError {
		return result.Err
	}
	return nil
}

// consumeEvents prints streamed events and answers clarification and
// permission prompts by reading operator input from stdin.
func consumeEvents(events <-chan agent.Event, commands chan<- rally.Command) {
	stdin := bufio.NewReader(os.Stdin)
	for ev := range events {
		printEvent(ev)
		switch ev.Type {
		case agent.EventClarificationAsked:
			fmt.Printf("\n%s\n> ", renderPromptLine("The reviewee needs clarification. Your answer (empty aborts):"))
			answer, err := stdin.ReadString('\n')
			answer = strings.TrimSpace(answer)
			if err != nil || answer == "" {
				commands <- rally.Command{Kind: rally.CommandAbort}
				continue
			}
			commands <- rally.Command{Kind: rally.CommandClarification, Answer: answer}
		case agent.EventPermissionAsked:
			fmt.Printf("\n%s\n[y/N] > ", renderPromptLine(fmt.Sprintf("The reviewee requests permission: %s (%s)", ev.Action, ev.Reason)))
			answer, err := stdin.ReadString('\n')
			allow := err == nil && strings.EqualFold(strings.TrimSpace(answer), "y")
			commands <- rally.Command{Kind: rally.CommandPermission, Allow: allow}
		}
	}
}

func printResult(result rally.Result) {
	switch result.Kind {
	case rally.ResultApproved:
		fmt.Printf("\n%s (iteration %d)\n%s\n", renderOutcome("Approved", true), result.Iteration, result.Summary)
	case rally.ResultMaxIterations:
		fmt.Printf("\n%s after %d iterations without approval\n", renderOutcome("Stopped", false), result.Iteration)
	case rally.ResultAborted:
		fmt.Printf("\n%s (iteration %d): %s\n", renderOutcome("Aborted", false), result.Iteration, result.Reason)
	case rally.ResultError:
		fmt.Printf("\n%s (iteration %d): %v\n", renderOutcome("Error", false), result.Iteration, result.Err)
	}
}
