// Package rally drives the reviewer/reviewee iteration loop for one
// pull request until approval, the iteration cap, an operator abort, or
// an unrecoverable error.
package rally

import (
	"github.com/revrally/revrally/internal/forge"
)

// CommandKind identifies an operator command sent into the orchestrator.
type CommandKind int

const (
	// CommandClarification answers a reviewee question.
	CommandClarification CommandKind = iota
	// CommandPermission grants or denies a requested action.
	CommandPermission
	// CommandAbort stops the rally gracefully.
	CommandAbort
)

// Command is one operator response on the command inlet.
type Command struct {
	Kind   CommandKind
	Answer string // clarification text
	Allow  bool   // permission decision
}

// Context is the pull-request context handed to the orchestrator by the
// caller. HeadSHA and ExternalComments are refreshed best-effort between
// iterations; everything else is fixed for the run.
type Context struct {
	Repo             string
	PRNumber         int
	PRTitle          string
	PRBody           string
	Diff             string
	WorkingDir       string
	HeadSHA          string
	BaseBranch       string
	ExternalComments []forge.Comment
}

// ResultKind classifies the rally outcome.
type ResultKind string

const (
	ResultApproved      ResultKind = "approved"
	ResultMaxIterations ResultKind = "max_iterations_reached"
	ResultAborted       ResultKind = "aborted"
	ResultError         ResultKind = "error"
)

// Result is the user-visible rally outcome. Setup and timeout failures
// surface as raw errors from Run instead.
type Result struct {
	Kind      ResultKind
	Iteration int
	Summary   string // reviewer summary on approval
	Reason    string // abort reason
	Err       error  // reviewee-reported error
}
