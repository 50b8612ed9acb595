package rally

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/revrally/revrally/internal/agent"
	"github.com/revrally/revrally/internal/forge"
	"github.com/revrally/revrally/internal/prompt"
	"github.com/revrally/revrally/internal/store"
)

// maxExternalComments caps how many bot comments are merged into the
// fix prompt per iteration.
const maxExternalComments = 20

// Options bounds the rally loop.
type Options struct {
	MaxIterations int
	Timeout       time.Duration // per adapter call
}

// Orchestrator sequences reviewer and reviewee turns for one rally. It
// is the only writer of the session record, and it runs as a single
// logical sequence: at most one adapter call is in flight at a time.
type Orchestrator struct {
	sess      *store.Session
	st        *store.Store
	reviewer  agent.Adapter
	reviewee  agent.Adapter
	host      forge.Client
	prompts   *prompt.Builder
	botFilter forge.BotFilter
	events    chan<- agent.Event
	commands  <-chan Command
	opts      Options

	lastFixSummary string
}

// New creates the orchestrator and its session record (iteration 0,
// initializing), persisting it immediately.
func New(st *store.Store, reviewer, reviewee agent.Adapter, host forge.Client, prompts *prompt.Builder, botFilter forge.BotFilter, events chan<- agent.Event, commands <-chan Command, opts Options, repo string, pr int) (*Orchestrator, error) {
	if opts.MaxIterations <= 0 {
		return nil, fmt.Errorf("max iterations must be positive, got %d", opts.MaxIterations)
	}
	now := time.Now().UTC()
	sess := &store.Session{
		RunID:     uuid.NewString(),
		Repo:      repo,
		PRNumber:  pr,
		Iteration: 0,
		State:     store.StateInitializing,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := st.SaveSession(sess); err != nil {
		return nil, fmt.Errorf("persist initial session: %w", err)
	}
	o := &Orchestrator{
		sess:      sess,
		st:        st,
		reviewer:  reviewer,
		reviewee:  reviewee,
		host:      host,
		prompts:   prompts,
		botFilter: botFilter,
		events:    events,
		commands:  commands,
		opts:      opts,
	}
	reviewer.SetEventSender(events)
	reviewee.SetEventSender(events)
	return o, nil
}

// Session returns the current session record.
func (o *Orchestrator) Session() *store.Session { return o.sess }

// transition mutates the session state, refreshes UpdatedAt, persists
// and emits a state-change event. Persistence failures are fatal: the
// session record is the source of truth for resumption and audit.
func (o *Orchestrator) transition(state store.RallyState) error {
	o.sess.State = state
	o.sess.UpdatedAt = time.Now().UTC()
	if err := o.st.SaveSession(o.sess); err != nil {
		return fmt.Errorf("persist session state %s: %w", state, err)
	}
	agent.Emit(o.events, agent.Event{Type: agent.EventStateChanged, Iteration: o.sess.Iteration, State: string(state)})
	return nil
}

// Run executes the rally loop. It returns a Result for the five
// user-visible outcomes, or a raw error for adapter, timeout, and
// persistence failures.
func (o *Orchestrator) Run(ctx context.Context, rctx *Context) (Result, error) {
	for o.sess.Iteration < o.opts.MaxIterations {
		o.sess.Iteration++
		o.sess.UpdatedAt = time.Now().UTC()
		if err := o.st.SaveSession(o.sess); err != nil {
			return Result{}, fmt.Errorf("persist iteration %d: %w", o.sess.Iteration, err)
		}
		iter := o.sess.Iteration
		agent.Emit(o.events, agent.Event{Type: agent.EventIterationStarted, Iteration: iter})

		if iter > 1 {
			o.refreshHeadSHA(ctx, rctx)
		}

		review, err := o.reviewTurn(ctx, rctx, iter)
		if err != nil {
			return Result{}, err
		}

		if review.Action == agent.ActionApprove {
			if err := o.transition(store.StateCompleted); err != nil {
				return Result{}, err
			}
			agent.Emit(o.events, agent.Event{Type: agent.EventOutcome, Iteration: iter, Text: "approved"})
			return Result{Kind: ResultApproved, Iteration: iter, Summary: review.Summary}, nil
		}

		result, done, err := o.fixTurn(ctx, rctx, iter, review)
		if err != nil {
			return Result{}, err
		}
		if done {
			return result, nil
		}
	}

	// The cap was hit without approval. Deliberately no terminal state
	// write: max-iterations is a stopping condition, not a failure.
	agent.Emit(o.events, agent.Event{Type: agent.EventOutcome, Iteration: o.sess.Iteration, Text: "max iterations reached"})
	return Result{Kind: ResultMaxIterations, Iteration: o.sess.Iteration}, nil
}

// reviewTurn runs the reviewer, persists the history entry and posts
// the review to the host.
func (o *Orchestrator) reviewTurn(ctx context.Context, rctx *Context, iter int) (*agent.ReviewerOutput, error) {
	if err := o.transition(store.StateReviewerReviewing); err != nil {
		return nil, err
	}

	pc := o.prContext(rctx)
	var reviewPrompt string
	if iter == 1 {
		reviewPrompt = o.prompts.BuildReviewerPrompt(pc, iter)
	} else {
		freshDiff := o.fetchFreshDiff(ctx, rctx)
		reviewPrompt = o.prompts.BuildRereviewPrompt(pc, iter, o.lastFixSummary, freshDiff)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	review, err := o.reviewer.RunReviewer(callCtx, reviewPrompt, &agent.RunContext{WorkingDir: rctx.WorkingDir})
	cancel()
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("reviewer timed out after %s: %w", o.opts.Timeout, err)
		}
		return nil, fmt.Errorf("reviewer: %w", err)
	}

	entry := &store.HistoryEntry{Iteration: iter, Kind: store.EntryReview, Timestamp: time.Now().UTC(), Review: review}
	if err := o.st.AppendHistory(o.sess.Repo, o.sess.PRNumber, entry); err != nil {
		return nil, fmt.Errorf("persist review history: %w", err)
	}
	agent.Emit(o.events, agent.Event{Type: agent.EventReviewCompleted, Iteration: iter, Action: string(review.Action), Text: review.Summary})

	o.refreshHeadSHA(ctx, rctx)
	o.postReview(ctx, rctx, review)
	return review, nil
}

// fixTurn runs the reviewee and resolves its status, including the
// human-in-the-loop suspensions. done=true means the rally ended with
// result; done=false continues the loop.
func (o *Orchestrator) fixTurn(ctx context.Context, rctx *Context, iter int, review *agent.ReviewerOutput) (Result, bool, error) {
	if err := o.transition(store.StateRevieweeFix); err != nil {
		return Result{}, false, err
	}

	o.mergeBotComments(ctx, rctx)

	feedback := &prompt.ReviewFeedback{
		Summary:        review.Summary,
		BlockingIssues: review.BlockingIssues,
	}
	for _, c := range review.Comments {
		feedback.Comments = append(feedback.Comments, prompt.ReviewFeedbackComment{
			Path: c.Path, Line: c.Line, Severity: string(c.Severity), Body: c.Body,
		})
	}
	fixPrompt := o.prompts.BuildRevieweePrompt(o.prContext(rctx), feedback, iter)

	fix, err := o.callReviewee(ctx, func(callCtx context.Context) (*agent.RevieweeOutput, error) {
		return o.reviewee.RunReviewee(callCtx, fixPrompt, &agent.RunContext{WorkingDir: rctx.WorkingDir})
	})
	if err != nil {
		return Result{}, false, err
	}
	if err := o.recordFix(iter, fix); err != nil {
		return Result{}, false, err
	}

	for {
		switch fix.Status {
		case agent.StatusCompleted:
			o.lastFixSummary = fix.Summary
			o.postFixSummary(ctx, rctx, fix)
			return Result{}, false, nil

		case agent.StatusNeedsClarification:
			resumed, result, err := o.awaitClarification(ctx, iter, fix)
			if err != nil {
				return Result{}, false, err
			}
			if resumed == nil {
				return result, true, nil
			}
			fix = resumed

		case agent.StatusNeedsPermission:
			resumed, result, err := o.awaitPermission(ctx, iter, fix)
			if err != nil {
				return Result{}, false, err
			}
			if resumed == nil {
				return result, true, nil
			}
			fix = resumed

		case agent.StatusError:
			if err := o.transition(store.StateError); err != nil {
				return Result{}, false, err
			}
			detail := fix.ErrorDetails
			if detail == "" {
				detail = fix.Summary
			}
			agent.Emit(o.events, agent.Event{Type: agent.EventOutcome, Iteration: iter, Error: detail})
			return Result{Kind: ResultError, Iteration: iter, Err: errors.New(detail)}, true, nil

		default:
			// Unreachable: the adapter validates the status enum.
			return Result{}, false, fmt.Errorf("%w: reviewee status %q", agent.ErrUnknownEnumValue, fix.Status)
		}
	}
}

// awaitClarification suspends until the operator answers, then resumes
// both agents. A mismatched command, an abort, or a closed inlet ends
// the rally as Aborted. Returns (resumedFix, _, nil) on resume and
// (nil, abortedResult, nil) on abort.
func (o *Orchestrator) awaitClarification(ctx context.Context, iter int, fix *agent.RevieweeOutput) (*agent.RevieweeOutput, Result, error) {
	if err := o.transition(store.StateWaitingForClarification); err != nil {
		return nil, Result{}, err
	}
	agent.Emit(o.events, agent.Event{Type: agent.EventClarificationAsked, Iteration: iter, Text: fix.Question})

	cmd, ok, err := o.waitForCommand(ctx)
	if err != nil {
		return nil, Result{}, err
	}
	if !ok || cmd.Kind != CommandClarification {
		result, err := o.abort(iter, "rally aborted while waiting for clarification")
		return nil, result, err
	}

	// The reviewer only gets informed; its response is logged, not acted on.
	note := prompt.ReviewerClarificationNote(fix.Question, cmd.Answer)
	if ack, err := o.continueReviewer(ctx, note); err != nil {
		return nil, Result{}, err
	} else {
		log.Printf("[rally] reviewer acknowledged clarification: %s", ack.Summary)
	}

	resumed, err := o.callReviewee(ctx, func(callCtx context.Context) (*agent.RevieweeOutput, error) {
		return o.reviewee.ContinueReviewee(callCtx, prompt.ClarificationFollowup(cmd.Answer))
	})
	if err != nil {
		return nil, Result{}, err
	}
	if err := o.transition(store.StateRevieweeFix); err != nil {
		return nil, Result{}, err
	}
	if err := o.recordFix(iter, resumed); err != nil {
		return nil, Result{}, err
	}
	return resumed, Result{}, nil
}

// awaitPermission suspends until the operator decides. Only an explicit
// grant resumes the reviewee; everything else aborts.
func (o *Orchestrator) awaitPermission(ctx context.Context, iter int, fix *agent.RevieweeOutput) (*agent.RevieweeOutput, Result, error) {
	if err := o.transition(store.StateWaitingForPermission); err != nil {
		return nil, Result{}, err
	}
	action, reason := "", ""
	if fix.PermissionRequest != nil {
		action = fix.PermissionRequest.Action
		reason = fix.PermissionRequest.Reason
	}
	agent.Emit(o.events, agent.Event{Type: agent.EventPermissionAsked, Iteration: iter, Action: action, Reason: reason})

	cmd, ok, err := o.waitForCommand(ctx)
	if err != nil {
		return nil, Result{}, err
	}
	if !ok || cmd.Kind != CommandPermission || !cmd.Allow {
		result, err := o.abort(iter, fmt.Sprintf("permission denied for: %s", action))
		return nil, result, err
	}

	resumed, err := o.callReviewee(ctx, func(callCtx context.Context) (*agent.RevieweeOutput, error) {
		return o.reviewee.ContinueReviewee(callCtx, prompt.PermissionGranted(action))
	})
	if err != nil {
		return nil, Result{}, err
	}
	if err := o.transition(store.StateRevieweeFix); err != nil {
		return nil, Result{}, err
	}
	if err := o.recordFix(iter, resumed); err != nil {
		return nil, Result{}, err
	}
	return resumed, Result{}, nil
}

// waitForCommand blocks on the command inlet with no timeout: human
// pacing is intentionally unbounded. Context cancellation is the only
// other way out.
func (o *Orchestrator) waitForCommand(ctx context.Context) (Command, bool, error) {
	select {
	case <-ctx.Done():
		return Command{}, false, ctx.Err()
	case cmd, ok := <-o.commands:
		return cmd, ok, nil
	}
}

func (o *Orchestrator) abort(iter int, reason string) (Result, error) {
	if err := o.transition(store.StateAborted); err != nil {
		return Result{}, err
	}
	agent.Emit(o.events, agent.Event{Type: agent.EventOutcome, Iteration: iter, Text: "aborted", Reason: reason})
	return Result{Kind: ResultAborted, Iteration: iter, Reason: reason}, nil
}

func (o *Orchestrator) recordFix(iter int, fix *agent.RevieweeOutput) error {
	entry := &store.HistoryEntry{Iteration: iter, Kind: store.EntryFix, Timestamp: time.Now().UTC(), Fix: fix}
	if err := o.st.AppendHistory(o.sess.Repo, o.sess.PRNumber, entry); err != nil {
		return fmt.Errorf("persist fix history: %w", err)
	}
	agent.Emit(o.events, agent.Event{Type: agent.EventFixCompleted, Iteration: iter, Action: string(fix.Status), Text: fix.Summary})
	return nil
}

func (o *Orchestrator) callReviewee(ctx context.Context, call func(context.Context) (*agent.RevieweeOutput, error)) (*agent.RevieweeOutput, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	out, err := call(callCtx)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("reviewee timed out after %s: %w", o.opts.Timeout, err)
		}
		return nil, fmt.Errorf("reviewee: %w", err)
	}
	return out, nil
}

func (o *Orchestrator) continueReviewer(ctx context.Context, message string) (*agent.ReviewerOutput, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	out, err := o.reviewer.ContinueReviewer(callCtx, message)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("reviewer timed out after %s: %w", o.opts.Timeout, err)
		}
		return nil, fmt.Errorf("reviewer: %w", err)
	}
	return out, nil
}

// --- best-effort host operations -------------------------------------

func (o *Orchestrator) refreshHeadSHA(ctx context.Context, rctx *Context) {
	pr, err := o.host.FetchPR(ctx, rctx.Repo, rctx.PRNumber)
	if err != nil {
		log.Printf("[rally] head SHA refresh failed (non-fatal): %v", err)
		return
	}
	if pr.HeadSHA != "" && pr.HeadSHA != rctx.HeadSHA {
		log.Printf("[rally] head moved %s -> %s", shortSHA(rctx.HeadSHA), shortSHA(pr.HeadSHA))
		rctx.HeadSHA = pr.HeadSHA
	}
}

func (o *Orchestrator) fetchFreshDiff(ctx context.Context, rctx *Context) string {
	diff, err := o.host.FetchPRDiff(ctx, rctx.Repo, rctx.PRNumber)
	if err != nil {
		log.Printf("[rally] diff refresh failed (non-fatal): %v", err)
		return ""
	}
	rctx.Diff = diff
	return diff
}

// postReview submits the verdict to the host. A failed Approve
// submission falls back to a plain Comment; both paths are non-fatal.
func (o *Orchestrator) postReview(ctx context.Context, rctx *Context, review *agent.ReviewerOutput) {
	action := forge.ReviewComment
	switch review.Action {
	case agent.ActionApprove:
		action = forge.ReviewApprove
	case agent.ActionRequestChanges:
		action = forge.ReviewRequestChanges
	}

	if err := o.host.SubmitReview(ctx, rctx.Repo, rctx.PRNumber, action, review.Summary); err != nil {
		if action == forge.ReviewApprove {
			log.Printf("[rally] approve submission failed, falling back to comment: %v", err)
			if err := o.host.SubmitReview(ctx, rctx.Repo, rctx.PRNumber, forge.ReviewComment, review.Summary); err != nil {
				log.Printf("[rally] comment fallback failed (non-fatal): %v", err)
			}
		} else {
			log.Printf("[rally] review submission failed (non-fatal): %v", err)
		}
	}

	for _, c := range review.Comments {
		if !forge.ValidateCommentPosition(rctx.Diff, c.Path, int(c.Line)) {
			log.Printf("[rally] skipping inline comment outside diff: %s:%d", c.Path, c.Line)
			continue
		}
		body := fmt.Sprintf("**[%s]** %s", c.Severity, c.Body)
		if err := o.host.CreateReviewComment(ctx, rctx.Repo, rctx.PRNumber, rctx.HeadSHA, c.Path, int(c.Line), body); err != nil {
			log.Printf("[rally] inline comment failed (non-fatal): %s:%d: %v", c.Path, c.Line, err)
		}
	}
}

func (o *Orchestrator) postFixSummary(ctx context.Context, rctx *Context, fix *agent.RevieweeOutput) {
	body := fmt.Sprintf("Applied review feedback (iteration %d): %s", o.sess.Iteration, fix.Summary)
	if len(fix.FilesModified) > 0 {
		body += "\n\nModified files:"
		for _, f := range fix.FilesModified {
			body += "\n- `" + f + "`"
		}
	}
	if err := o.host.SubmitReview(ctx, rctx.Repo, rctx.PRNumber, forge.ReviewComment, body); err != nil {
		log.Printf("[rally] fix summary comment failed (non-fatal): %v", err)
	}
}

// mergeBotComments folds recent automation comments into the context so
// the fix prompt can address external feedback. Capped and best-effort.
func (o *Orchestrator) mergeBotComments(ctx context.Context, rctx *Context) {
	var all []forge.Comment
	review, err := o.host.FetchReviewComments(ctx, rctx.Repo, rctx.PRNumber)
	if err != nil {
		log.Printf("[rally] review comment fetch failed (non-fatal): %v", err)
	} else {
		all = append(all, review...)
	}
	discussion, err := o.host.FetchDiscussionComments(ctx, rctx.Repo, rctx.PRNumber)
	if err != nil {
		log.Printf("[rally] discussion comment fetch failed (non-fatal): %v", err)
	} else {
		all = append(all, discussion...)
	}
	rctx.ExternalComments = o.botFilter.FilterBotComments(all, maxExternalComments)
}

func (o *Orchestrator) prContext(rctx *Context) *prompt.PRContext {
	return &prompt.PRContext{
		Repo:             rctx.Repo,
		PRNumber:         rctx.PRNumber,
		Title:            rctx.PRTitle,
		Body:             rctx.PRBody,
		HeadSHA:          rctx.HeadSHA,
		BaseBranch:       rctx.BaseBranch,
		Diff:             rctx.Diff,
		ExternalComments: rctx.ExternalComments,
	}
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
