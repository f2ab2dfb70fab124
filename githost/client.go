// Package githost is the host-API half of the interpreter's effect
// surface: leaving comments and checking reviewer/push permission on
// GitHub. It implements action.HostDriver.
package githost

import (
	"context"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/hoffbot/hoff/event"
)

const (
	maxRetries    = 8
	initialDelay  = 2 * time.Second
	defaultRate   = 1 // requests per second, conservative default under GitHub's 5000/hr quota
	defaultBurst  = 5
)

// Client wraps go-github's REST client with the retry/dry-run/logging
// idiom of github/client.go's own github.Client, scoped to a single
// owner/repo since Hoff runs one client per configured project.
type Client struct {
	gh      *github.Client
	limiter *rate.Limiter
	owner   string
	repo    string
	dryRun  bool
	log     *logrus.Entry
}

// NewClient builds a Client authenticated with token, targeting owner/repo.
// dryRun disables LeaveComment while still permitting IsReviewer, so a
// read-only daemon still runs the handler and its Git/host reads.
func NewClient(ctx context.Context, owner, repo, token string, dryRun bool, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, ts)
	return &Client{
		gh:      github.NewClient(httpClient),
		limiter: rate.NewLimiter(defaultRate, defaultBurst),
		owner:   owner,
		repo:    repo,
		dryRun:  dryRun,
		log:     log.WithField("component", "githost"),
	}
}

// LeaveComment posts body as an issue comment on the pull request numbered
// id. A no-op under dry-run.
func (c *Client) LeaveComment(ctx context.Context, id event.PullRequestId, body string) error {
	c.log.WithFields(logrus.Fields{"pr": id}).Debug("LeaveComment")
	if c.dryRun {
		return nil
	}
	return c.retry(ctx, func() error {
		_, _, err := c.gh.Issues.CreateComment(ctx, c.owner, c.repo, int(id), &github.IssueComment{Body: &body})
		return err
	})
}

// IsReviewer reports whether username has at least write (push) access to
// the repository, generalizing github/helpers.go's
// LevelFromPermissions/RepoPermissionLevel logic to the go-github
// permission-level response.
func (c *Client) IsReviewer(ctx context.Context, username event.Username) (bool, error) {
	c.log.WithField("user", username).Debug("IsReviewer")
	var level string
	err := c.retry(ctx, func() error {
		perm, _, err := c.gh.Repositories.GetPermissionLevel(ctx, c.owner, c.repo, string(username))
		if err != nil {
			return err
		}
		if perm != nil && perm.Permission != nil {
			level = *perm.Permission
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return level == "admin" || level == "write", nil
}

// retry retries fn on transport failure only (not HTTP 4xx/5xx, which
// go-github surfaces as *github.ErrorResponse and which retrying would not
// fix), exponential backoff, mirroring github/client.go's request method.
// Every attempt waits on the rate limiter first.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	backoff := initialDelay
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "githost: rate limiter")
		}
		err := fn()
		if err == nil {
			return nil
		}
		if _, ok := err.(*github.ErrorResponse); ok {
			return errors.Wrap(err, "githost: request")
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return errors.Wrap(lastErr, "githost: request exhausted retries")
}
