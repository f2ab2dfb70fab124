package queue_test

import (
	"context"

	"github.com/hoffbot/hoff/action"
	"github.com/hoffbot/hoff/event"
)

// fakeGit and fakeHost are deterministic test doubles for action.Interpreter,
// letting the handler+proceed scenarios in this package exercise the real
// Interpreter without any process or network I/O.
type fakeGit struct {
	integrateResult *event.Sha
	integrateErr    error
	pushResult      action.PushResult
	pushErr         error
	forcePushErr    error

	integrateCalls []fakeIntegrateCall
	pushCalls      []fakePushCall
	forcePushCalls []fakePushCall
}

type fakeIntegrateCall struct {
	MergeMessage string
	Ref          string
	Sha          event.Sha
	Target       event.Branch
	TestBranch   event.Branch
}

type fakePushCall struct {
	Sha    event.Sha
	Branch event.Branch
}

func (g *fakeGit) TryIntegrate(ctx context.Context, mergeMessage, ref string, sha event.Sha, target, testBranch event.Branch) (*event.Sha, error) {
	g.integrateCalls = append(g.integrateCalls, fakeIntegrateCall{mergeMessage, ref, sha, target, testBranch})
	return g.integrateResult, g.integrateErr
}

func (g *fakeGit) Push(ctx context.Context, sha event.Sha, branch event.Branch) (action.PushResult, error) {
	g.pushCalls = append(g.pushCalls, fakePushCall{sha, branch})
	return g.pushResult, g.pushErr
}

func (g *fakeGit) ForcePush(ctx context.Context, sha event.Sha, branch event.Branch) error {
	g.forcePushCalls = append(g.forcePushCalls, fakePushCall{sha, branch})
	return g.forcePushErr
}

type fakeHost struct {
	isReviewer map[event.Username]bool

	comments  []fakeComment
	reviewerCalls []event.Username
}

type fakeComment struct {
	Id   event.PullRequestId
	Body string
}

func (h *fakeHost) LeaveComment(ctx context.Context, id event.PullRequestId, body string) error {
	h.comments = append(h.comments, fakeComment{id, body})
	return nil
}

func (h *fakeHost) IsReviewer(ctx context.Context, username event.Username) (bool, error) {
	h.reviewerCalls = append(h.reviewerCalls, username)
	return h.isReviewer[username], nil
}
