// Package gitdriver is the Git half of the interpreter's effect surface:
// rebasing a pull request's head onto the target branch and fast-forwarding
// the target. It shells out to the system git binary rather than a Go git
// library, matching how git_test.go drives a local repo only to test
// against the real git CLI.
package gitdriver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hoffbot/hoff/action"
	"github.com/hoffbot/hoff/event"
)

const cloneRetries = 3

// Driver implements action.GitDriver for a single project's repository,
// checked out once at Dir and reused across calls.
type Driver struct {
	// RemoteURL is the clone URL, e.g. "https://github.com/org/repo.git".
	RemoteURL string
	// Dir is the working copy's path on disk.
	Dir string
	log *logrus.Entry
}

// NewDriver ensures Dir exists and contains a clone of remoteURL, trying
// the clone up to cloneRetries times with no backoff. If every attempt
// fails it returns the last error. The working copy is checked only here:
// TryIntegrate, Push and ForcePush do not clone again if it is missing.
func NewDriver(ctx context.Context, remoteURL, dir string, log *logrus.Entry) (*Driver, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	d := &Driver{RemoteURL: remoteURL, Dir: dir, log: log.WithField("component", "gitdriver")}
	if err := d.ensureCloned(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Driver) ensureCloned(ctx context.Context) error {
	if d.DoesGitDirectoryExist() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(d.Dir), 0o755); err != nil {
		return errors.Wrap(err, "gitdriver: creating parent directory")
	}
	var lastErr error
	for attempt := 0; attempt < cloneRetries; attempt++ {
		if _, err := d.run(ctx, filepath.Dir(d.Dir), "clone", d.RemoteURL, d.Dir); err != nil {
			lastErr = err
			d.log.WithError(err).WithField("attempt", attempt+1).Warn("clone failed, retrying")
			continue
		}
		return nil
	}
	return errors.Wrapf(lastErr, "gitdriver: clone failed after %d attempts", cloneRetries)
}

// DoesGitDirectoryExist reports whether Dir already holds a git working
// copy, so ensureCloned can skip a redundant clone.
func (d *Driver) DoesGitDirectoryExist() bool {
	_, err := os.Stat(filepath.Join(d.Dir, ".git"))
	return err == nil
}

// TryIntegrate rebases sha (fetched via ref) onto target, writing the
// result to testBranch. A nil sha with a nil error means a rebase conflict;
// the working copy is reset so the next attempt starts clean.
func (d *Driver) TryIntegrate(ctx context.Context, mergeMessage, ref string, sha event.Sha, target, testBranch event.Branch) (*event.Sha, error) {
	if _, err := d.run(ctx, d.Dir, "fetch", "origin", string(target), fmt.Sprintf("+%s:refs/hoff/candidate", ref)); err != nil {
		return nil, errors.Wrap(err, "gitdriver: fetch")
	}
	if _, err := d.run(ctx, d.Dir, "checkout", "-B", string(testBranch), "refs/hoff/candidate"); err != nil {
		return nil, errors.Wrap(err, "gitdriver: checkout test branch")
	}
	if _, err := d.run(ctx, d.Dir, "rebase", "origin/"+string(target)); err != nil {
		// Conflict: abort the rebase and report it as "no sha", not an error.
		_, _ = d.run(ctx, d.Dir, "rebase", "--abort")
		return nil, nil
	}
	out, err := d.run(ctx, d.Dir, "rev-parse", "HEAD")
	if err != nil {
		return nil, errors.Wrap(err, "gitdriver: rev-parse after rebase")
	}
	result := event.Sha(trimNewline(out))
	if _, err := d.run(ctx, d.Dir, "push", "--force", "origin", fmt.Sprintf("HEAD:%s", testBranch)); err != nil {
		return nil, errors.Wrap(err, "gitdriver: push test branch")
	}
	return &result, nil
}

// ForcePush unconditionally updates branch (the pull request's own branch)
// to point at sha, so the host marks the pull request merged.
func (d *Driver) ForcePush(ctx context.Context, sha event.Sha, branch event.Branch) error {
	_, err := d.run(ctx, d.Dir, "push", "--force", "origin", fmt.Sprintf("%s:%s", string(sha), branch))
	if err != nil {
		return errors.Wrap(err, "gitdriver: force-push")
	}
	return nil
}

// Push fast-forwards branch to sha, reporting PushRejected (not an error)
// if the remote has advanced past sha's ancestry.
func (d *Driver) Push(ctx context.Context, sha event.Sha, branch event.Branch) (action.PushResult, error) {
	_, err := d.run(ctx, d.Dir, "push", "origin", fmt.Sprintf("%s:%s", string(sha), branch))
	if err == nil {
		return action.PushOk, nil
	}
	if isNonFastForward(err) {
		return action.PushRejected, nil
	}
	return action.PushRejected, errors.Wrap(err, "gitdriver: push")
}

func (d *Driver) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	d.log.WithField("args", args).Debug("git")
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%s: %w: %s", args, err, stderr.String())
	}
	return stdout.String(), nil
}

func isNonFastForward(err error) bool {
	if err == nil {
		return false
	}
	msg := []byte(err.Error())
	return bytes.Contains(msg, []byte("non-fast-forward")) || bytes.Contains(msg, []byte("(fetch first)"))
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
