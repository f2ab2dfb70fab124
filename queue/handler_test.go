package queue_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hoffbot/hoff/action"
	"github.com/hoffbot/hoff/command"
	"github.com/hoffbot/hoff/event"
	"github.com/hoffbot/hoff/project"
	"github.com/hoffbot/hoff/queue"
)

// advance runs one event fully through HandleEvent, the interpreter, and
// ProceedUntilFixedPoint, mirroring what worker.LogicWorker does for a
// single incoming event, without any of its I/O.
func advance(t *testing.T, interp *action.Interpreter, parser command.Parser, s project.State, ev event.Event) project.State {
	t.Helper()
	ctx := context.Background()
	s1, program := queue.HandleEvent(ev, s, parser)
	s2, err := interp.Run(ctx, s1, program)
	require.NoError(t, err)
	s3, err := queue.ProceedUntilFixedPoint(ctx, interp, s2, nil)
	require.NoError(t, err)
	return s3
}

func newInterpreter(git *fakeGit, host *fakeHost) *action.Interpreter {
	return &action.Interpreter{
		Git:        git,
		Host:       host,
		Target:     "main",
		TestBranch: "test",
	}
}

// Happy path: open, approve, build succeeds, promote.
func TestScenario_HappyPath(t *testing.T) {
	bbb := event.Sha("b222222222222222222222222222222222222222")
	git := &fakeGit{integrateResult: &bbb, pushResult: action.PushOk}
	host := &fakeHost{isReviewer: map[event.Username]bool{"bob": true}}
	interp := newInterpreter(git, host)
	matcher := command.NewMatcher("@bot")

	s := project.New()
	s = advance(t, interp, matcher, s, event.Opened{Id: 7, Branch: "feat", Sha: "aaa", Title: "t", Author: "alice"})
	s = advance(t, interp, matcher, s, event.CommentAdded{Id: 7, Author: "bob", Body: "@bot merge"})
	s = advance(t, interp, matcher, s, event.BuildStatusChanged{Sha: bbb, Status: event.BuildSucceeded})

	require.Equal(t, []event.Username{"bob"}, host.reviewerCalls)
	require.Len(t, host.comments, 2)
	require.Equal(t, "approved by @bob, rebasing now.", host.comments[0].Body)
	require.Contains(t, host.comments[1].Body, "Rebased as")
	require.Len(t, git.integrateCalls, 1)
	require.Equal(t, "Merge #7\n\nApproved-by: bob", git.integrateCalls[0].MergeMessage)
	require.Equal(t, "refs/pull/7/head", git.integrateCalls[0].Ref)
	require.Len(t, git.forcePushCalls, 1)
	require.Equal(t, event.Branch("feat"), git.forcePushCalls[0].Branch)
	require.Len(t, git.pushCalls, 1)
	require.Equal(t, event.Branch("main"), git.pushCalls[0].Branch)

	pr, ok := s.Get(7)
	require.True(t, ok)
	require.Equal(t, event.BuildSucceeded, pr.BuildStatus)
	_, hasCandidate := s.Candidate()
	require.False(t, hasCandidate)
}

// S2: a real commit change discards approval, build status, and
// integration status, and does not launch integration.
func TestScenario_CommitChangeDropsApproval(t *testing.T) {
	git := &fakeGit{}
	host := &fakeHost{isReviewer: map[event.Username]bool{"bob": true}}
	interp := newInterpreter(git, host)
	matcher := command.NewMatcher("@bot")

	s := project.New()
	s = advance(t, interp, matcher, s, event.Opened{Id: 7, Branch: "feat", Sha: "aaa", Title: "t", Author: "alice"})
	s = advance(t, interp, matcher, s, event.CommentAdded{Id: 7, Author: "bob", Body: "@bot merge"})
	integrationsBeforeChange := len(git.integrateCalls)
	s = advance(t, interp, matcher, s, event.CommitChanged{Id: 7, NewSha: "aaa2"})

	pr, ok := s.Get(7)
	require.True(t, ok)
	require.False(t, pr.ApprovedBy.IsSet())
	require.Equal(t, event.BuildNotStarted, pr.BuildStatus)
	require.True(t, pr.IntegrationStatus.IsNotIntegrated())
	require.Len(t, git.integrateCalls, integrationsBeforeChange, "no integration should be launched after approval is dropped")
}

// S6: a BuildStatusChanged for a sha other than the candidate's integrated
// sha is dropped entirely.
func TestScenario_StaleBuildEventIsDropped(t *testing.T) {
	bbb := event.Sha("b222222222222222222222222222222222222222")
	git := &fakeGit{integrateResult: &bbb}
	host := &fakeHost{isReviewer: map[event.Username]bool{"bob": true}}
	interp := newInterpreter(git, host)
	matcher := command.NewMatcher("@bot")

	s := project.New()
	s = advance(t, interp, matcher, s, event.Opened{Id: 7, Branch: "feat", Sha: "aaa", Title: "t", Author: "alice"})
	s = advance(t, interp, matcher, s, event.CommentAdded{Id: 7, Author: "bob", Body: "@bot merge"})
	before := s

	s = advance(t, interp, matcher, s, event.BuildStatusChanged{Sha: "ccccccccccccccccccccccccccccccccccccccc", Status: event.BuildFailed})

	require.True(t, before.Equal(s), "state must be unchanged by a build event for a non-candidate sha")
}

func TestHandleEvent_UnknownPullRequestIsIgnored(t *testing.T) {
	matcher := command.NewMatcher("@bot")
	s := project.New()

	next, program := queue.HandleEvent(event.CommentAdded{Id: 99, Author: "bob", Body: "@bot merge"}, s, matcher)
	require.True(t, s.Equal(next))
	require.Empty(t, program)

	next, program = queue.HandleEvent(event.Closed{Id: 99}, s, matcher)
	require.True(t, s.Equal(next))
	require.Empty(t, program)

	next, program = queue.HandleEvent(event.CommitChanged{Id: 99, NewSha: "aaa"}, s, matcher)
	require.True(t, s.Equal(next))
	require.Empty(t, program)
}

// Property 6: a commit-changed event reporting the already-known sha is a
// complete no-op.
func TestProperty_SameShaCommitChangeIsNoop(t *testing.T) {
	matcher := command.NewMatcher("@bot")
	s := project.New().Insert(7, project.PullRequest{Branch: "feat", Sha: "aaa", Title: "t", Author: "alice"})

	next, program := queue.HandleEvent(event.CommitChanged{Id: 7, NewSha: "aaa"}, s, matcher)

	require.True(t, s.Equal(next))
	require.Empty(t, program)
}

// Property 7: a non-command comment body never changes approval.
func TestProperty_NonCommandCommentLeavesApprovalUnchanged(t *testing.T) {
	matcher := command.NewMatcher("@bot")
	s := project.New().Insert(7, project.PullRequest{Branch: "feat", Sha: "aaa", Title: "t", Author: "alice"})

	next, program := queue.HandleEvent(event.CommentAdded{Id: 7, Author: "bob", Body: "nice PR!"}, s, matcher)

	require.True(t, s.Equal(next))
	require.Empty(t, program)
}

// HandleEvent is deterministic: the same (event, state, parser) yields the
// same program shape and state, run twice independently.
func TestProperty_HandleEventIsDeterministic(t *testing.T) {
	matcher := command.NewMatcher("@bot")
	s := project.New().Insert(7, project.PullRequest{Branch: "feat", Sha: "aaa", Title: "t", Author: "alice"})
	ev := event.CommentAdded{Id: 7, Author: "bob", Body: "@bot merge"}

	s1, p1 := queue.HandleEvent(ev, s, matcher)
	s2, p2 := queue.HandleEvent(ev, s, matcher)

	require.True(t, s1.Equal(s2))
	require.Equal(t, len(p1), len(p2))
	for i := range p1 {
		require.Equal(t, p1[i].Kind, p2[i].Kind)
	}
}
