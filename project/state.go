// Package project holds the per-project state machine's data model: the
// pull request table, the integration candidate pointer, the invariants
// spec'd for them, and atomic JSON persistence of a project's snapshot.
//
// Nothing in this package performs network or Git I/O; State is a plain
// value type so that the queue package can transform it purely.
package project

import (
	"fmt"

	"github.com/hoffbot/hoff/event"
)

// IntegrationStatus is a closed sum type tracking where a pull request
// stands in the integrate/test/promote pipeline.
type IntegrationStatus struct {
	kind        integrationKind
	integrated  event.Sha
}

type integrationKind int

const (
	NotIntegrated integrationKind = iota
	Integrated
	Conflicted
)

func NewIntegrated(s event.Sha) IntegrationStatus {
	return IntegrationStatus{kind: Integrated, integrated: s}
}

func NewNotIntegrated() IntegrationStatus { return IntegrationStatus{kind: NotIntegrated} }

func NewConflicted() IntegrationStatus { return IntegrationStatus{kind: Conflicted} }

func (s IntegrationStatus) Kind() integrationKind { return s.kind }

func (s IntegrationStatus) IsNotIntegrated() bool { return s.kind == NotIntegrated }

func (s IntegrationStatus) IsConflicted() bool { return s.kind == Conflicted }

// IntegratedSha returns the rebased commit and true when the status is
// Integrated(sha).
func (s IntegrationStatus) IntegratedSha() (event.Sha, bool) {
	if s.kind == Integrated {
		return s.integrated, true
	}
	return "", false
}

func (s IntegrationStatus) String() string {
	switch s.kind {
	case NotIntegrated:
		return "not_integrated"
	case Integrated:
		return fmt.Sprintf("integrated(%s)", s.integrated)
	case Conflicted:
		return "conflicted"
	default:
		return "unknown"
	}
}

func (a IntegrationStatus) Equal(b IntegrationStatus) bool {
	return a.kind == b.kind && a.integrated == b.integrated
}

// Approval is the reviewer who issued a valid merge command, if any.
type Approval struct {
	set  bool
	name event.Username
}

func NoApproval() Approval { return Approval{} }

func ApprovedBy(u event.Username) Approval { return Approval{set: true, name: u} }

func (a Approval) IsSet() bool { return a.set }

func (a Approval) Username() (event.Username, bool) { return a.name, a.set }

func (a Approval) Equal(b Approval) bool { return a.set == b.set && a.name == b.name }

// PullRequest is a single tracked pull request, keyed externally by its
// PullRequestId.
type PullRequest struct {
	Branch            event.Branch
	Sha               event.Sha
	Title             string
	Author            event.Username
	ApprovedBy        Approval
	IntegrationStatus IntegrationStatus
	BuildStatus       event.BuildStatus
}

// eligible reports whether pr is a candidate for selection by the proceed
// loop: approved, never yet integrated, and build never started.
func (pr PullRequest) eligible() bool {
	return pr.ApprovedBy.IsSet() &&
		pr.IntegrationStatus.IsNotIntegrated() &&
		pr.BuildStatus == event.BuildNotStarted
}

func (a PullRequest) Equal(b PullRequest) bool {
	return a.Branch == b.Branch &&
		a.Sha == b.Sha &&
		a.Title == b.Title &&
		a.Author == b.Author &&
		a.ApprovedBy.Equal(b.ApprovedBy) &&
		a.IntegrationStatus.Equal(b.IntegrationStatus) &&
		a.BuildStatus == b.BuildStatus
}

// State is a project's full snapshot: the insertion-ordered pull request
// table plus the single integration candidate pointer.
//
// The zero value is a valid empty project: a freshly created project
// starts with no pull requests and no candidate.
type State struct {
	order        []event.PullRequestId
	pullRequests map[event.PullRequestId]PullRequest
	candidate    *event.PullRequestId
}

// New returns an empty project state.
func New() State {
	return State{pullRequests: map[event.PullRequestId]PullRequest{}}
}

func (s State) ensureInit() State {
	if s.pullRequests == nil {
		s.pullRequests = map[event.PullRequestId]PullRequest{}
	}
	return s
}

// Get returns the pull request for id, if tracked.
func (s State) Get(id event.PullRequestId) (PullRequest, bool) {
	pr, ok := s.pullRequests[id]
	return pr, ok
}

// Has reports whether id is tracked.
func (s State) Has(id event.PullRequestId) bool {
	_, ok := s.pullRequests[id]
	return ok
}

// Candidate returns the current integration candidate, if any.
func (s State) Candidate() (event.PullRequestId, bool) {
	if s.candidate == nil {
		return 0, false
	}
	return *s.candidate, true
}

// Order returns pull request ids in insertion order. Callers must not
// mutate the returned slice.
func (s State) Order() []event.PullRequestId {
	return s.order
}

// Len reports the number of tracked pull requests.
func (s State) Len() int { return len(s.pullRequests) }

// Insert adds or replaces pr under id. If id was not previously tracked it
// is appended to insertion order; if it was already tracked, its position
// is preserved (a plain update, not a move-to-back).
func (s State) Insert(id event.PullRequestId, pr PullRequest) State {
	s = s.ensureInit()
	next := s.pullRequests
	if _, existed := next[id]; !existed {
		order := make([]event.PullRequestId, len(s.order), len(s.order)+1)
		copy(order, s.order)
		s.order = append(order, id)
	}
	newPRs := make(map[event.PullRequestId]PullRequest, len(next))
	for k, v := range next {
		newPRs[k] = v
	}
	newPRs[id] = pr
	s.pullRequests = newPRs
	return s
}

// Remove deletes id from the table and clears the integration candidate
// if id was the candidate.
func (s State) Remove(id event.PullRequestId) State {
	s = s.ensureInit()
	if _, ok := s.pullRequests[id]; !ok {
		return s
	}
	newPRs := make(map[event.PullRequestId]PullRequest, len(s.pullRequests)-1)
	for k, v := range s.pullRequests {
		if k != id {
			newPRs[k] = v
		}
	}
	s.pullRequests = newPRs

	order := make([]event.PullRequestId, 0, len(s.order))
	for _, oid := range s.order {
		if oid != id {
			order = append(order, oid)
		}
	}
	s.order = order

	if s.candidate != nil && *s.candidate == id {
		s.candidate = nil
	}
	return s
}

// WithCandidate returns a copy of s with the integration candidate set to
// id. Callers are responsible for satisfying the invariant that a
// candidate's integration status is Integrated and its build status is not
// NotStarted before this is observed by proceed.
func (s State) WithCandidate(id event.PullRequestId) State {
	c := id
	s.candidate = &c
	return s
}

// ClearCandidate returns a copy of s with no integration candidate.
func (s State) ClearCandidate() State {
	s.candidate = nil
	return s
}

// FirstEligible returns the first pull request in insertion order that is
// eligible for integration (approved, NotIntegrated, BuildNotStarted).
func (s State) FirstEligible() (event.PullRequestId, bool) {
	for _, id := range s.order {
		if pr, ok := s.pullRequests[id]; ok && pr.eligible() {
			return id, true
		}
	}
	return 0, false
}

// Equal is a structural, field-by-field comparison (no reflection), used by
// the proceed loop's fixed-point check and by property tests.
func (a State) Equal(b State) bool {
	ac, aok := a.Candidate()
	bc, bok := b.Candidate()
	if aok != bok || (aok && ac != bc) {
		return false
	}
	if len(a.order) != len(b.order) {
		return false
	}
	for i := range a.order {
		if a.order[i] != b.order[i] {
			return false
		}
	}
	if len(a.pullRequests) != len(b.pullRequests) {
		return false
	}
	for id, apr := range a.pullRequests {
		bpr, ok := b.pullRequests[id]
		if !ok || !apr.Equal(bpr) {
			return false
		}
	}
	return true
}

// QueuePosition returns id's zero-based position among approved, still
// NotIntegrated-or-candidate pull requests in insertion order, used to word
// the "waiting for rebase…" comment. It counts every tracked pull request
// ahead of id in insertion order that is itself approved and not yet
// resolved (Conflicted pull requests, integrated pull requests that are no
// longer the candidate, and pull requests without approval do not occupy a
// queue slot).
func (s State) QueuePosition(id event.PullRequestId) int {
	candidate, hasCandidate := s.Candidate()
	pos := 0
	for _, oid := range s.order {
		if oid == id {
			break
		}
		pr, ok := s.pullRequests[oid]
		if !ok {
			continue
		}
		queued := pr.IntegrationStatus.IsNotIntegrated() || (hasCandidate && oid == candidate)
		if pr.ApprovedBy.IsSet() && queued {
			pos++
		}
	}
	return pos
}
