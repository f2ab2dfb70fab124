package action_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/hoffbot/hoff/action"
	"github.com/hoffbot/hoff/event"
	"github.com/hoffbot/hoff/project"
)

type stubGit struct {
	integrateResult *event.Sha
	integrateErr    error
	pushResult      action.PushResult
	pushErr         error
	forcePushErr    error

	integrateCalls int
	pushCalls      int
	forcePushCalls int
}

func (g *stubGit) TryIntegrate(ctx context.Context, mergeMessage, ref string, sha event.Sha, target, testBranch event.Branch) (*event.Sha, error) {
	g.integrateCalls++
	return g.integrateResult, g.integrateErr
}

func (g *stubGit) Push(ctx context.Context, sha event.Sha, branch event.Branch) (action.PushResult, error) {
	g.pushCalls++
	return g.pushResult, g.pushErr
}

func (g *stubGit) ForcePush(ctx context.Context, sha event.Sha, branch event.Branch) error {
	g.forcePushCalls++
	return g.forcePushErr
}

type stubHost struct {
	isReviewer bool
	commentErr error
	reviewErr  error

	commentCalls int
	reviewCalls  int
}

func (h *stubHost) LeaveComment(ctx context.Context, id event.PullRequestId, body string) error {
	h.commentCalls++
	return h.commentErr
}

func (h *stubHost) IsReviewer(ctx context.Context, username event.Username) (bool, error) {
	h.reviewCalls++
	return h.isReviewer, h.reviewErr
}

func TestInterpreter_TryIntegrateRunsContinuation(t *testing.T) {
	sha := event.Sha("bbb")
	git := &stubGit{integrateResult: &sha}
	interp := &action.Interpreter{Git: git, Host: &stubHost{}, Target: "main", TestBranch: "test"}

	var seen *event.Sha
	program := action.Program{action.TryIntegrate("msg", "refs/pull/1/head", "aaa", func(s project.State, result *event.Sha) (project.State, action.Program) {
		seen = result
		return s, nil
	})}

	_, err := interp.Run(context.Background(), project.New(), program)
	require.NoError(t, err)
	require.Equal(t, 1, git.integrateCalls)
	require.NotNil(t, seen)
	require.Equal(t, sha, *seen)
}

func TestInterpreter_TryIntegrateErrorPropagates(t *testing.T) {
	git := &stubGit{integrateErr: errors.New("boom")}
	interp := &action.Interpreter{Git: git, Host: &stubHost{}, Target: "main", TestBranch: "test"}

	called := false
	program := action.Program{action.TryIntegrate("msg", "ref", "aaa", func(s project.State, result *event.Sha) (project.State, action.Program) {
		called = true
		return s, nil
	})}

	_, err := interp.Run(context.Background(), project.New(), program)
	require.Error(t, err)
	require.False(t, called, "Then must not run when the driver call fails")
}

func TestInterpreter_ContinuationsChainBeforeRemainingProgram(t *testing.T) {
	git := &stubGit{integrateResult: func() *event.Sha { s := event.Sha("bbb"); return &s }()}
	host := &stubHost{isReviewer: true}
	interp := &action.Interpreter{Git: git, Host: host, Target: "main", TestBranch: "test"}

	var order []string
	first := action.TryIntegrate("msg", "ref", "aaa", func(s project.State, result *event.Sha) (project.State, action.Program) {
		order = append(order, "first")
		return s, action.Program{action.LeaveComment(1, "follow-up")}
	})
	second := action.IsReviewer("bob", func(s project.State, isReviewer bool) (project.State, action.Program) {
		order = append(order, "second")
		return s, nil
	})

	_, err := interp.Run(context.Background(), project.New(), action.Program{first, second})
	require.NoError(t, err)
	require.Equal(t, 1, host.commentCalls, "the follow-up LeaveComment must run")
	require.Equal(t, []string{"first", "second"}, order, "the continuation's own follow-up runs before the rest of the outer program, but the outer program is unaffected by it here")
}

func TestInterpreter_ReadOnlySkipsPromoteAndComment(t *testing.T) {
	git := &stubGit{}
	host := &stubHost{}
	interp := &action.Interpreter{Git: git, Host: host, Target: "main", TestBranch: "test", ReadOnly: true}

	var seenResult action.PushResult
	program := action.Program{
		action.TryPromote("feat", "aaa", func(s project.State, result action.PushResult) (project.State, action.Program) {
			seenResult = result
			return s, nil
		}),
		action.LeaveComment(1, "hi"),
	}

	_, err := interp.Run(context.Background(), project.New(), program)
	require.NoError(t, err)
	require.Equal(t, 0, git.forcePushCalls)
	require.Equal(t, 0, git.pushCalls)
	require.Equal(t, 0, host.commentCalls)
	require.Equal(t, action.PushOk, seenResult, "read-only mode reports a successful push to the continuation without touching the driver")
}

func TestInterpreter_TryPromoteForcePushErrorPropagates(t *testing.T) {
	git := &stubGit{forcePushErr: errors.New("network down")}
	interp := &action.Interpreter{Git: git, Host: &stubHost{}, Target: "main", TestBranch: "test"}

	program := action.Program{action.TryPromote("feat", "aaa", func(s project.State, result action.PushResult) (project.State, action.Program) {
		t.Fatal("Then must not run when ForcePush fails")
		return s, nil
	})}

	_, err := interp.Run(context.Background(), project.New(), program)
	require.Error(t, err)
}

func TestInterpreter_IsReviewerError(t *testing.T) {
	host := &stubHost{reviewErr: errors.New("rate limited")}
	interp := &action.Interpreter{Git: &stubGit{}, Host: host, Target: "main", TestBranch: "test"}

	program := action.Program{action.IsReviewer("bob", func(s project.State, isReviewer bool) (project.State, action.Program) {
		t.Fatal("Then must not run when IsReviewer fails")
		return s, nil
	})}

	_, err := interp.Run(context.Background(), project.New(), program)
	require.Error(t, err)
}
