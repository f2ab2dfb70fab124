package project

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hoffbot/hoff/event"
)

// wirePullRequest and wireState are the JSON-serializable shadow of
// PullRequest/State. State itself keeps its fields unexported so that
// callers cannot bypass Insert/Remove and break the insertion-order
// invariant; (de)serialization goes through this shadow instead.
type wirePullRequest struct {
	Branch            event.Branch    `json:"branch"`
	Sha               event.Sha       `json:"sha"`
	Title             string          `json:"title"`
	Author            event.Username  `json:"author"`
	ApprovedBy        *event.Username `json:"approved_by,omitempty"`
	IntegrationStatus wireIntegration `json:"integration_status"`
	BuildStatus       event.BuildStatus `json:"build_status"`
}

type wireIntegration struct {
	Kind       string    `json:"kind"`
	Integrated event.Sha `json:"integrated_sha,omitempty"`
}

type wireState struct {
	Order        []event.PullRequestId              `json:"order"`
	PullRequests map[event.PullRequestId]wirePullRequest `json:"pull_requests"`
	Candidate    *event.PullRequestId               `json:"candidate,omitempty"`
}

// MarshalJSON encodes state as a stable, human-readable snapshot.
func (s State) MarshalJSON() ([]byte, error) {
	w := wireState{
		Order:        s.order,
		PullRequests: make(map[event.PullRequestId]wirePullRequest, len(s.pullRequests)),
		Candidate:    s.candidate,
	}
	for id, pr := range s.pullRequests {
		wpr := wirePullRequest{
			Branch: pr.Branch,
			Sha:    pr.Sha,
			Title:  pr.Title,
			Author: pr.Author,
			BuildStatus: pr.BuildStatus,
		}
		if u, ok := pr.ApprovedBy.Username(); ok {
			wpr.ApprovedBy = &u
		}
		switch pr.IntegrationStatus.Kind() {
		case NotIntegrated:
			wpr.IntegrationStatus = wireIntegration{Kind: "not_integrated"}
		case Integrated:
			sha, _ := pr.IntegrationStatus.IntegratedSha()
			wpr.IntegrationStatus = wireIntegration{Kind: "integrated", Integrated: sha}
		case Conflicted:
			wpr.IntegrationStatus = wireIntegration{Kind: "conflicted"}
		}
		w.PullRequests[id] = wpr
	}
	return json.Marshal(w)
}

// UnmarshalJSON restores a state, preserving insertion order from the wire
// representation rather than Go map iteration order.
func (s *State) UnmarshalJSON(data []byte) error {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	next := New()
	for _, id := range w.Order {
		wpr, ok := w.PullRequests[id]
		if !ok {
			continue
		}
		pr := PullRequest{
			Branch:      wpr.Branch,
			Sha:         wpr.Sha,
			Title:       wpr.Title,
			Author:      wpr.Author,
			BuildStatus: wpr.BuildStatus,
		}
		if wpr.ApprovedBy != nil {
			pr.ApprovedBy = ApprovedBy(*wpr.ApprovedBy)
		}
		switch wpr.IntegrationStatus.Kind {
		case "integrated":
			pr.IntegrationStatus = NewIntegrated(wpr.IntegrationStatus.Integrated)
		case "conflicted":
			pr.IntegrationStatus = NewConflicted()
		default:
			pr.IntegrationStatus = NewNotIntegrated()
		}
		next = next.Insert(id, pr)
	}
	if w.Candidate != nil {
		next = next.WithCandidate(*w.Candidate)
	}
	*s = next
	return nil
}

// Store persists a single project's State as an atomic JSON snapshot on
// disk, using a write-to-temp-then-rename sequence.
type Store struct {
	path string
	log  *logrus.Entry
}

// NewStore returns a Store that reads/writes <dir>/project.json.
func NewStore(dir string, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{path: filepath.Join(dir, "project.json"), log: log.WithField("component", "project.store")}
}

// Load restores the persisted state, or returns an empty State if the file
// does not exist yet.
func (st *Store) Load() (State, error) {
	b, err := os.ReadFile(st.path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return State{}, errors.Wrapf(err, "reading %s", st.path)
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return State{}, errors.Wrapf(err, "decoding %s", st.path)
	}
	return s, nil
}

// Save writes s to disk atomically: marshal, write to a temp file in the
// same directory, fsync, then rename over the final path. Persistence must
// happen after the pure transition and before any effects run, so that a
// crash mid-event causes effects to be retried against a state that is
// already durable.
func (st *Store) Save(s State) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding project state")
	}
	dir := filepath.Dir(st.path)
	tmp, err := os.CreateTemp(dir, "project-*.json.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temp snapshot file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "writing temp snapshot file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "fsyncing temp snapshot file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "closing temp snapshot file")
	}
	if err := os.Rename(tmpPath, st.path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "renaming temp snapshot file into place")
	}
	st.log.WithField("path", st.path).Debug("persisted project state")
	return nil
}
