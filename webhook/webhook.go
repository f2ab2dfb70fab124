// Package webhook is the inbound HTTP surface: it validates and decodes
// GitHub webhook deliveries into domain events, and adapts a raw delivery
// queue down to each configured project's own main queue.
// Grounded directly on hook/server.go's ServeHTTP/demuxEvent structure.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"

	"github.com/hoffbot/hoff/event"
	"github.com/hoffbot/hoff/metrics"
	"github.com/hoffbot/hoff/worker"
)

// RawEvent pairs a decoded domain event with the repository it belongs to,
// so a single intake queue can serve every configured project before the
// Adapter demultiplexes by owner/repo.
type RawEvent struct {
	Owner string
	Repo  string
	Event event.Event
}

// Server implements http.Handler for POST /hook/github.
type Server struct {
	Secret  []byte
	Queue   *worker.Queue[RawEvent]
	Metrics *metrics.Metrics
	Log     *logrus.Entry
}

func (s *Server) countWebhook(eventType, result string) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.WebhooksTotal.WithLabelValues(eventType, result).Inc()
}

func (s *Server) log() *logrus.Entry {
	if s.Log != nil {
		return s.Log
	}
	return logrus.NewEntry(logrus.StandardLogger()).WithField("component", "webhook")
}

// ServeHTTP validates the delivery, decodes it, and non-blockingly enqueues
// the resulting event(s), returning 503 when the intake queue is full.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if r.URL.Path != "/hook/github" {
		http.NotFound(w, r)
		return
	}
	if r.Method == http.MethodGet {
		http.Error(w, "400 Bad Request", http.StatusBadRequest)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "405 Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "" {
		http.Error(w, "400 Bad Request: missing X-GitHub-Event header", http.StatusBadRequest)
		return
	}
	sig := r.Header.Get("X-Hub-Signature-256")
	if sig == "" {
		http.Error(w, "403 Forbidden: missing X-Hub-Signature-256 header", http.StatusForbidden)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "500 Internal Server Error", http.StatusInternalServerError)
		return
	}
	if !validSignature(payload, sig, s.Secret) {
		http.Error(w, "403 Forbidden: invalid signature", http.StatusForbidden)
		return
	}

	l := s.log().WithField("event-type", eventType)

	if eventType == "ping" {
		s.countWebhook(eventType, "pong")
		fmt.Fprint(w, "pong")
		return
	}

	raws, err := decode(eventType, payload)
	if err != nil {
		l.WithError(err).Warn("failed to decode webhook payload")
		s.countWebhook(eventType, "decode_error")
		http.Error(w, "400 Bad Request: failed to decode payload", http.StatusBadRequest)
		return
	}
	if len(raws) == 0 {
		s.countWebhook(eventType, "ignored")
		fmt.Fprint(w, "hook ignored")
		return
	}

	for _, raw := range raws {
		if !s.Queue.TryPush(raw) {
			l.Warn("intake queue full, rejecting delivery")
			s.countWebhook(eventType, "queue_full")
			http.Error(w, "503 Service Unavailable: queue full", http.StatusServiceUnavailable)
			return
		}
	}
	s.countWebhook(eventType, "ok")
	fmt.Fprint(w, "ok")
}

// validSignature checks payload against the X-Hub-Signature-256 HMAC,
// generalizing hook/server.go's github.ValidatePayload (HMAC-SHA1) to the
// modern SHA-256 header.
func validSignature(payload []byte, sig string, secret []byte) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(sig, prefix) {
		return false
	}
	want, err := hex.DecodeString(strings.TrimPrefix(sig, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	got := mac.Sum(nil)
	return hmac.Equal(want, got)
}

// decode translates one GitHub delivery into zero or more domain events,
// filtering by action the way the event types care about.
func decode(eventType string, payload []byte) ([]RawEvent, error) {
	switch eventType {
	case "pull_request":
		var pr github.PullRequestEvent
		if err := json.Unmarshal(payload, &pr); err != nil {
			return nil, err
		}
		owner, repo := repoOf(pr.GetRepo())
		id := event.PullRequestId(pr.GetNumber())
		switch pr.GetAction() {
		case "opened", "reopened":
			p := pr.GetPullRequest()
			return []RawEvent{{Owner: owner, Repo: repo, Event: event.Opened{
				Id:     id,
				Branch: event.Branch(p.GetHead().GetRef()),
				Sha:    event.Sha(p.GetHead().GetSHA()),
				Title:  p.GetTitle(),
				Author: event.Username(p.GetUser().GetLogin()),
			}}}, nil
		case "synchronize":
			return []RawEvent{{Owner: owner, Repo: repo, Event: event.CommitChanged{
				Id:     id,
				NewSha: event.Sha(pr.GetPullRequest().GetHead().GetSHA()),
			}}}, nil
		case "closed":
			return []RawEvent{{Owner: owner, Repo: repo, Event: event.Closed{Id: id}}}, nil
		default:
			return nil, nil
		}
	case "issue_comment":
		var ic github.IssueCommentEvent
		if err := json.Unmarshal(payload, &ic); err != nil {
			return nil, err
		}
		if ic.GetAction() != "created" {
			return nil, nil
		}
		if !ic.GetIssue().IsPullRequest() {
			return nil, nil
		}
		owner, repo := repoOf(ic.GetRepo())
		return []RawEvent{{Owner: owner, Repo: repo, Event: event.CommentAdded{
			Id:     event.PullRequestId(ic.GetIssue().GetNumber()),
			Author: event.Username(ic.GetComment().GetUser().GetLogin()),
			Body:   ic.GetComment().GetBody(),
		}}}, nil
	case "status":
		var se github.StatusEvent
		if err := json.Unmarshal(payload, &se); err != nil {
			return nil, err
		}
		return []RawEvent{{Owner: se.GetRepo().GetOwner().GetLogin(), Repo: se.GetRepo().GetName(), Event: event.BuildStatusChanged{
			Sha:    event.Sha(se.GetSHA()),
			Status: buildStatusOf(se.GetState()),
		}}}, nil
	default:
		return nil, nil
	}
}

func repoOf(r *github.Repository) (owner, repo string) {
	if r == nil {
		return "", ""
	}
	return r.GetOwner().GetLogin(), r.GetName()
}

func buildStatusOf(state string) event.BuildStatus {
	switch state {
	case "pending":
		return event.BuildPending
	case "success":
		return event.BuildSucceeded
	case "failure", "error":
		return event.BuildFailed
	default:
		return event.BuildNotStarted
	}
}

// Adapter is the single consumer of the shared intake queue for one
// configured project: it filters by owner/repo (hook/server.go's needDemux
// filters by repo/org the same way) and blocking-enqueues onto that
// project's own main queue.
type Adapter struct {
	Owner string
	Repo  string
	Intake *worker.Queue[RawEvent]
	Main   *worker.Queue[event.Event]
	Log    *logrus.Entry
}

func (a *Adapter) log() *logrus.Entry {
	if a.Log != nil {
		return a.Log
	}
	return logrus.NewEntry(logrus.StandardLogger()).WithField("component", "webhook.adapter")
}

// Run forwards matching deliveries until ctx is done.
func (a *Adapter) Run(ctx context.Context) error {
	for {
		raw, ok := a.Intake.Pop(ctx)
		if !ok {
			return ctx.Err()
		}
		if raw.Owner != a.Owner || raw.Repo != a.Repo {
			continue
		}
		if err := a.Main.Push(ctx, raw.Event); err != nil {
			a.log().WithError(err).Warn("failed to forward event to project queue")
			return err
		}
	}
}
