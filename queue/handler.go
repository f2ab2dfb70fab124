// Package queue implements the pure event handler and the proceed loop:
// the per-project state machine's two pure transitions. Neither function
// performs I/O; they describe effects as action.Program values for
// action.Interpreter to carry out.
package queue

import (
	"fmt"

	"github.com/hoffbot/hoff/action"
	"github.com/hoffbot/hoff/command"
	"github.com/hoffbot/hoff/event"
	"github.com/hoffbot/hoff/project"
)

// HandleEvent computes, for each event, a new state and an action program.
// It is deterministic: the same (ev, state, parser) always yields the
// same (state', program), and does no I/O of its own. The IsReviewer check
// a merge command triggers is described as a Step for the interpreter to
// run, not performed here.
func HandleEvent(ev event.Event, s project.State, parser command.Parser) (project.State, action.Program) {
	switch e := ev.(type) {
	case event.Opened:
		return handleOpened(e, s)
	case event.CommitChanged:
		return handleCommitChanged(e, s)
	case event.Closed:
		return handleClosed(e, s)
	case event.CommentAdded:
		return handleCommentAdded(e, s, parser)
	case event.BuildStatusChanged:
		return handleBuildStatusChanged(e, s)
	default:
		return s, nil
	}
}

// handleOpened inserts the pull request. It never displaces the current
// candidate and posts no comment.
func handleOpened(e event.Opened, s project.State) (project.State, action.Program) {
	if s.Has(e.Id) {
		// Duplicate "opened" webhook delivery: leave the existing entry
		// untouched rather than resetting its tracked approval/build state.
		return s, nil
	}
	pr := project.PullRequest{
		Branch:            e.Branch,
		Sha:               e.Sha,
		Title:             e.Title,
		Author:            e.Author,
		ApprovedBy:        project.NoApproval(),
		IntegrationStatus: project.NewNotIntegrated(),
		BuildStatus:       event.BuildNotStarted,
	}
	return s.Insert(e.Id, pr), nil
}

// handleCommitChanged applies the "close then reopen" rule: a real commit
// change discards approval and build/integration status, while a
// same-sha delivery (a false positive) is a no-op.
func handleCommitChanged(e event.CommitChanged, s project.State) (project.State, action.Program) {
	pr, ok := s.Get(e.Id)
	if !ok {
		return s, nil
	}
	if pr.Sha == e.NewSha {
		return s, nil
	}
	next := s.Remove(e.Id)
	reopened := project.PullRequest{
		Branch:            pr.Branch,
		Sha:               e.NewSha,
		Title:             pr.Title,
		Author:            pr.Author,
		ApprovedBy:        project.NoApproval(),
		IntegrationStatus: project.NewNotIntegrated(),
		BuildStatus:       event.BuildNotStarted,
	}
	return next.Insert(e.Id, reopened), nil
}

// handleClosed removes the pull request, clearing the candidate if it was
// the one closed (project.State.Remove already enforces this invariant).
func handleClosed(e event.Closed, s project.State) (project.State, action.Program) {
	if !s.Has(e.Id) {
		return s, nil
	}
	return s.Remove(e.Id), nil
}

// handleCommentAdded recognizes merge commands and, for a recognized
// command, defers the approval decision to an IsReviewer step: the
// returned state is unchanged until the interpreter resolves that step's
// result. DESIGN.md records the decision to persist this unchanged state
// before the interpreter runs, same as any other event.
func handleCommentAdded(e event.CommentAdded, s project.State, parser command.Parser) (project.State, action.Program) {
	if !s.Has(e.Id) {
		return s, nil
	}
	if parser == nil || !parser.IsMergeCommand(e.Body) {
		return s, nil
	}
	id := e.Id
	author := e.Author
	then := func(cur project.State, isReviewer bool) (project.State, action.Program) {
		if !isReviewer {
			return cur, nil
		}
		pr, ok := cur.Get(id)
		if !ok {
			return cur, nil
		}
		pr.ApprovedBy = project.ApprovedBy(author)
		next := cur.Insert(id, pr)
		pos := next.QueuePosition(id)
		return next, action.Program{action.LeaveComment(id, queuePositionComment(author, pos))}
	}
	return s, action.Program{action.IsReviewer(author, then)}
}

func queuePositionComment(approver event.Username, pos int) string {
	switch pos {
	case 0:
		return fmt.Sprintf("approved by @%s, rebasing now.", approver)
	case 1:
		return fmt.Sprintf("approved by @%s, waiting for rebase at the front of the queue.", approver)
	default:
		return fmt.Sprintf("approved by @%s, waiting for rebase behind %d pull requests.", approver, pos)
	}
}

// handleBuildStatusChanged updates the candidate's build status only when
// the event's sha matches the candidate's integrated sha; events for any
// other sha (a stale or foreign CI report) are dropped, which is how the
// system tolerates duplicate or out-of-order CI webhooks.
func handleBuildStatusChanged(e event.BuildStatusChanged, s project.State) (project.State, action.Program) {
	id, ok := s.Candidate()
	if !ok {
		return s, nil
	}
	pr, ok := s.Get(id)
	if !ok {
		return s, nil
	}
	sha, integrated := pr.IntegrationStatus.IntegratedSha()
	if !integrated || sha != e.Sha {
		return s, nil
	}
	pr.BuildStatus = e.Status
	return s.Insert(id, pr), nil
}
