package action

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hoffbot/hoff/event"
	"github.com/hoffbot/hoff/project"
)

// Interpreter folds a Program action-by-action, calling out to the Git and
// host drivers and resolving each step's continuation with the real
// result. It is single-threaded per project: only worker.LogicWorker calls
// Run.
type Interpreter struct {
	Git    GitDriver
	Host   HostDriver
	Target event.Branch // target branch to fast-forward on promotion
	// TestBranch is the scratch branch TryIntegrate writes its rebased
	// result to.
	TestBranch event.Branch
	// ReadOnly, for the daemon's --read-only CLI flag, skips comments and
	// promotion pushes while still running IsReviewer and TryIntegrate.
	// TryIntegrate is not skipped, and gitdriver.Driver's TryIntegrate
	// force-pushes its result to TestBranch, so that push still happens.
	ReadOnly bool
	Log      *logrus.Entry
}

func (in *Interpreter) log() *logrus.Entry {
	if in.Log != nil {
		return in.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Run executes program against state, following every step's continuation
// to completion, including continuations that themselves append further
// steps (e.g. a rejected promotion re-issuing integration in
// pushCandidate), and returns the fully resolved state.
//
// Run returns an error only for driver failures classified as fatal: they
// propagate and cause the owning worker to terminate. Expected outcomes,
// such as conflicts or rejections, are threaded through each step's Then
// callback and never returned as errors.
func (in *Interpreter) Run(ctx context.Context, state project.State, program Program) (project.State, error) {
	pending := append(Program{}, program...)
	for len(pending) > 0 {
		step := pending[0]
		pending = pending[1:]

		next, more, err := in.runStep(ctx, state, step)
		if err != nil {
			return state, err
		}
		state = next
		// Follow-up steps run before the remainder of the current program,
		// matching the free monad's left-to-right bind order: a
		// continuation's own actions are logically "inside" the step that
		// produced them.
		pending = append(append(Program{}, more...), pending...)
	}
	return state, nil
}

func (in *Interpreter) runStep(ctx context.Context, state project.State, step Step) (project.State, Program, error) {
	switch step.Kind {
	case KindTryIntegrate:
		return in.runTryIntegrate(ctx, state, step.TryIntegrate)
	case KindTryPromote:
		return in.runTryPromote(ctx, state, step.TryPromote)
	case KindLeaveComment:
		return in.runLeaveComment(ctx, state, step.LeaveComment)
	case KindIsReviewer:
		return in.runIsReviewer(ctx, state, step.IsReviewer)
	default:
		return state, nil, errors.Errorf("action: unknown step kind %d", step.Kind)
	}
}

func (in *Interpreter) runTryIntegrate(ctx context.Context, state project.State, s *TryIntegrateStep) (project.State, Program, error) {
	result, err := in.Git.TryIntegrate(ctx, s.MergeMessage, s.Ref, s.Sha, in.Target, in.TestBranch)
	if err != nil {
		return state, nil, errors.Wrap(err, "action: TryIntegrate")
	}
	next, more := s.Then(state, result)
	return next, more, nil
}

func (in *Interpreter) runTryPromote(ctx context.Context, state project.State, s *TryPromoteStep) (project.State, Program, error) {
	if in.ReadOnly {
		in.log().WithFields(logrus.Fields{"branch": s.Branch, "sha": s.Sha}).Info("read-only: skipping promotion")
		next, more := s.Then(state, PushOk)
		return next, more, nil
	}
	if err := in.Git.ForcePush(ctx, s.Sha, s.Branch); err != nil {
		return state, nil, errors.Wrap(err, "action: TryPromote force-push")
	}
	result, err := in.Git.Push(ctx, s.Sha, in.Target)
	if err != nil {
		return state, nil, errors.Wrap(err, "action: TryPromote fast-forward push")
	}
	next, more := s.Then(state, result)
	return next, more, nil
}

func (in *Interpreter) runLeaveComment(ctx context.Context, state project.State, s *LeaveCommentStep) (project.State, Program, error) {
	if in.ReadOnly {
		in.log().WithFields(logrus.Fields{"pr": s.Id, "body": s.Body}).Info("read-only: skipping comment")
		return state, nil, nil
	}
	if err := in.Host.LeaveComment(ctx, s.Id, s.Body); err != nil {
		return state, nil, errors.Wrap(err, "action: LeaveComment")
	}
	return state, nil, nil
}

func (in *Interpreter) runIsReviewer(ctx context.Context, state project.State, s *IsReviewerStep) (project.State, Program, error) {
	ok, err := in.Host.IsReviewer(ctx, s.Username)
	if err != nil {
		return state, nil, errors.Wrap(err, "action: IsReviewer")
	}
	next, more := s.Then(state, ok)
	return next, more, nil
}
