package queue

import (
	"context"
	"fmt"

	"github.com/hoffbot/hoff/action"
	"github.com/hoffbot/hoff/event"
	"github.com/hoffbot/hoff/project"
)

// maxProceedIterations defensively bounds the fixed-point loop in case of
// future non-monotonic state transitions. The termination argument for
// ProceedUntilFixedPoint guarantees convergence in at most
// Len(pullRequests)+2 iterations for any real project, so this cap is
// never expected to bind.
const maxProceedIterations = 1000

// ProceedOnce is one application of the proceed step: inspect the
// candidate, or select a new one. It is pure; selecting and "calling"
// TryIntegrate/TryPromote here only builds the action.Program describing
// that call and what each possible result means, nothing runs until
// action.Interpreter.Run executes the returned program.
func ProceedOnce(s project.State) (project.State, action.Program) {
	if id, ok := s.Candidate(); ok {
		return proceedCandidate(s, id)
	}
	if id, ok := s.FirstEligible(); ok {
		return tryIntegratePullRequest(s, id)
	}
	return s, nil
}

func proceedCandidate(s project.State, id event.PullRequestId) (project.State, action.Program) {
	pr, ok := s.Get(id)
	if !ok {
		// Invariant violation (candidate not tracked); surfaced by
		// project.CheckCandidate at the worker boundary rather than here,
		// keeping this function total.
		return s, nil
	}
	switch pr.BuildStatus {
	case event.BuildNotStarted:
		// Invariant violation: a candidate must be at least Pending.
		// Leave state untouched; the worker's invariant check (run once the
		// proceed loop reaches its fixed point) turns this into a fatal error.
		return s, nil
	case event.BuildPending:
		return s, nil
	case event.BuildSucceeded:
		return pushCandidate(s, id, pr)
	case event.BuildFailed:
		next := s.ClearCandidate()
		return next, action.Program{action.LeaveComment(id, "The build failed.")}
	default:
		return s, nil
	}
}

// tryIntegratePullRequest composes the merge message, issues TryIntegrate,
// and records what each outcome means for state.
func tryIntegratePullRequest(s project.State, id event.PullRequestId) (project.State, action.Program) {
	pr, ok := s.Get(id)
	if !ok {
		return s, nil
	}
	approver, _ := pr.ApprovedBy.Username()
	mergeMessage := fmt.Sprintf("Merge %s\n\nApproved-by: %s", id, approver)
	ref := fmt.Sprintf("refs/pull/%d/head", int(id))
	sha := pr.Sha

	then := func(cur project.State, result *event.Sha) (project.State, action.Program) {
		cpr, ok := cur.Get(id)
		if !ok {
			return cur, nil
		}
		if result == nil {
			cpr.IntegrationStatus = project.NewConflicted()
			next := cur.Insert(id, cpr).ClearCandidate()
			return next, action.Program{action.LeaveComment(id, "Failed to rebase, please rebase manually.")}
		}
		cpr.IntegrationStatus = project.NewIntegrated(*result)
		cpr.BuildStatus = event.BuildPending
		next := cur.Insert(id, cpr).WithCandidate(id)
		comment := fmt.Sprintf("Rebased as %s, waiting for CI …", *result)
		return next, action.Program{action.LeaveComment(id, comment)}
	}

	return s, action.Program{action.TryIntegrate(mergeMessage, ref, sha, then)}
}

// pushCandidate is invoked only once the candidate's build has succeeded.
func pushCandidate(s project.State, id event.PullRequestId, pr project.PullRequest) (project.State, action.Program) {
	sha, _ := pr.IntegrationStatus.IntegratedSha()
	branch := pr.Branch

	then := func(cur project.State, result action.PushResult) (project.State, action.Program) {
		if result == action.PushOk {
			return cur.ClearCandidate(), nil
		}
		// Rejected: the target branch advanced past sha. Restart
		// integration for the same pull request immediately.
		// integrationCandidate stays set to id meanwhile; the TryIntegrate
		// continuation sets it again on success or clears it on conflict.
		cpr, ok := cur.Get(id)
		if !ok {
			return cur.ClearCandidate(), nil
		}
		cpr.IntegrationStatus = project.NewNotIntegrated()
		cpr.BuildStatus = event.BuildNotStarted
		next := cur.Insert(id, cpr)
		return tryIntegratePullRequest(next, id)
	}
	return s, action.Program{action.TryPromote(branch, sha, then)}
}

// ProceedUntilFixedPoint repeatedly applies ProceedOnce, running each
// step's resulting program through interp before checking whether another
// application would change anything (structural equality with the
// previous state).
//
// onPureStep, if non-nil, is invoked with the freshly pure-computed state
// before interp runs that step's program: persistence happens after the
// pure transition and before the effects run, at each iteration rather
// than only once per inbound event.
func ProceedUntilFixedPoint(ctx context.Context, interp *action.Interpreter, s project.State, onPureStep func(project.State) error) (project.State, error) {
	for i := 0; i < maxProceedIterations; i++ {
		pure, program := ProceedOnce(s)
		if onPureStep != nil {
			if err := onPureStep(pure); err != nil {
				return s, err
			}
		}
		resolved, err := interp.Run(ctx, pure, program)
		if err != nil {
			return s, err
		}
		if len(program) == 0 && resolved.Equal(s) {
			return resolved, nil
		}
		s = resolved
	}
	return s, fmt.Errorf("queue: proceed did not reach a fixed point within %d iterations", maxProceedIterations)
}
