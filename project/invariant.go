package project

import (
	"fmt"

	"github.com/hoffbot/hoff/event"
)

// InvariantViolation signals that the state machine reached a state that
// should be impossible: a programmer error, not a recoverable runtime
// condition. Carrying the offending id and field values is an
// assert-with-context idiom used in place of a bare panic.
type InvariantViolation struct {
	Project string
	PrId    event.PullRequestId
	Reason  string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation in project %q for %s: %s", e.Project, e.PrId, e.Reason)
}

// CheckCandidate validates the candidate invariants:
//   - integrationCandidate, if Some(id), implies id ∈ pullRequests.
//   - a candidate's integrationStatus is Integrated(s); its buildStatus is
//     Pending, Succeeded, or Failed (never NotStarted).
//
// project is the project name used only for error context.
func CheckCandidate(project string, s State) error {
	id, ok := s.Candidate()
	if !ok {
		return nil
	}
	pr, ok := s.Get(id)
	if !ok {
		return &InvariantViolation{Project: project, PrId: id, Reason: "candidate is not in the pull request table"}
	}
	if _, integrated := pr.IntegrationStatus.IntegratedSha(); !integrated {
		return &InvariantViolation{Project: project, PrId: id, Reason: fmt.Sprintf("candidate integrationStatus is %s, want Integrated", pr.IntegrationStatus)}
	}
	if pr.BuildStatus == event.BuildNotStarted {
		return &InvariantViolation{Project: project, PrId: id, Reason: "candidate buildStatus is NotStarted"}
	}
	return nil
}
