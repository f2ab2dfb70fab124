// Package action is the action algebra and interpreter: the only place in
// the module where Git and host-API effects happen. The pure packages
// (queue) describe what to do, including what to do once an action's
// result is known, as data; this package is what actually does it.
package action

import (
	"context"

	"github.com/hoffbot/hoff/event"
	"github.com/hoffbot/hoff/project"
)

// PushResult is the outcome of a fast-forward push to the target branch.
type PushResult int

const (
	PushOk PushResult = iota
	PushRejected
)

func (r PushResult) String() string {
	if r == PushOk {
		return "ok"
	}
	return "rejected"
}

// Step is one leaf action, tagged by Kind. Exactly one of the four pointer
// fields is non-nil, matching Kind.
//
// This is a tagged-variant-with-continuation rendering: each step that has
// a result carries a pure Then closure describing what state change and
// follow-up Program that result implies. Then never performs I/O itself;
// it is built by the pure queue package and merely encodes a decision
// table, so building a Program is still deterministic and side-effect-free.
// Only Interpreter.Run calling Then with a real result is effectful.
type Step struct {
	Kind         Kind
	TryIntegrate *TryIntegrateStep
	TryPromote   *TryPromoteStep
	LeaveComment *LeaveCommentStep
	IsReviewer   *IsReviewerStep
}

// Kind identifies which of the four leaf actions a Step performs.
type Kind int

const (
	KindTryIntegrate Kind = iota
	KindTryPromote
	KindLeaveComment
	KindIsReviewer
)

// Program is an ordered sequence of steps, folded action-by-action by the
// interpreter.
type Program []Step

// TryIntegrateStep rebases Sha (read at Ref) onto the interpreter's
// configured target branch, writing the result to its configured test
// branch. MergeMessage is passed through to GitDriver.TryIntegrate;
// gitdriver.Driver does not use it, since integration is a plain rebase
// and promotion a fast-forward push, so no merge commit is made. The target and test
// branches are project-level configuration carried by the Interpreter
// (action.Interpreter.Target / .TestBranch), not threaded per step, since
// they never vary across pull requests within one project.
type TryIntegrateStep struct {
	MergeMessage string
	Ref          string
	Sha          event.Sha
	// Then receives the rebased sha, or nil on conflict, and the state as
	// of just before this step ran; it returns the state after applying
	// this result plus any follow-up program.
	Then func(s project.State, result *event.Sha) (project.State, Program)
}

// TryPromoteStep force-pushes Sha to Branch (the pull request's own
// branch, so the host marks it merged) then fast-forwards the configured
// target branch to Sha.
type TryPromoteStep struct {
	Branch event.Branch
	Sha    event.Sha
	Then   func(s project.State, result PushResult) (project.State, Program)
}

// LeaveCommentStep posts a comment. It has no continuation: leaving a
// comment has no result that drives further state.
type LeaveCommentStep struct {
	Id   event.PullRequestId
	Body string
}

// IsReviewerStep queries whether Username has push access.
type IsReviewerStep struct {
	Username event.Username
	Then     func(s project.State, isReviewer bool) (project.State, Program)
}

// TryIntegrate builds a Step of kind KindTryIntegrate.
func TryIntegrate(msg, ref string, sha event.Sha, then func(project.State, *event.Sha) (project.State, Program)) Step {
	return Step{Kind: KindTryIntegrate, TryIntegrate: &TryIntegrateStep{
		MergeMessage: msg, Ref: ref, Sha: sha, Then: then,
	}}
}

// TryPromote builds a Step of kind KindTryPromote.
func TryPromote(branch event.Branch, sha event.Sha, then func(project.State, PushResult) (project.State, Program)) Step {
	return Step{Kind: KindTryPromote, TryPromote: &TryPromoteStep{Branch: branch, Sha: sha, Then: then}}
}

// LeaveComment builds a Step of kind KindLeaveComment.
func LeaveComment(id event.PullRequestId, body string) Step {
	return Step{Kind: KindLeaveComment, LeaveComment: &LeaveCommentStep{Id: id, Body: body}}
}

// IsReviewer builds a Step of kind KindIsReviewer.
func IsReviewer(username event.Username, then func(project.State, bool) (project.State, Program)) Step {
	return Step{Kind: KindIsReviewer, IsReviewer: &IsReviewerStep{Username: username, Then: then}}
}

// GitDriver is the Git half of the interpreter's effect surface.
// Implementations own their working copy; the interpreter never asks for a
// clone. gitdriver.Driver clones once when it is built, returns an error if
// that clone fails, and does not clone again before later calls.
type GitDriver interface {
	// TryIntegrate rebases the pull request head read from ref (expected
	// to be sha) onto target, writing the result to testBranch. A nil sha
	// with a nil error means a conflict.
	TryIntegrate(ctx context.Context, mergeMessage, ref string, sha event.Sha, target, testBranch event.Branch) (*event.Sha, error)
	// Push fast-forwards branch to sha, failing with PushRejected (not an
	// error) if branch has advanced past sha's ancestry.
	Push(ctx context.Context, sha event.Sha, branch event.Branch) (PushResult, error)
	// ForcePush unconditionally updates branch to point at sha.
	ForcePush(ctx context.Context, sha event.Sha, branch event.Branch) error
}

// HostDriver is the host-API half of the interpreter's effect surface.
type HostDriver interface {
	LeaveComment(ctx context.Context, id event.PullRequestId, body string) error
	IsReviewer(ctx context.Context, username event.Username) (bool, error)
}
