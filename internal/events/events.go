// Package events defines the operations that can be performed on a
// submission. Every change is an immutable event: it validates against the
// current projected state, then applies to produce the next state. Replaying
// a submission's event history in order yields its current state.
package events

import (
	"fmt"
	"sort"
	"time"

	"papertrail/internal/domain"
)

// Wire tags for every event variant. These are the values stored in the
// event log and accepted by the factory.
const (
	TypeCreateSubmission              = "submission.create"
	TypeRemoveSubmission              = "submission.remove"
	TypeFinalizeSubmission            = "submission.finalize"
	TypeUnFinalizeSubmission          = "submission.unfinalize"
	TypeVerifyContactInformation      = "submitter.verify_contact"
	TypeAssertAuthorship              = "submitter.assert_authorship"
	TypeAcceptPolicy                  = "submitter.accept_policy"
	TypeSelectLicense                 = "license.select"
	TypeSetPrimaryClassification      = "classification.set_primary"
	TypeAddSecondaryClassification    = "classification.add_secondary"
	TypeRemoveSecondaryClassification = "classification.remove_secondary"
	TypeUpdateMetadata                = "metadata.update"
	TypeUpdateAuthors                 = "metadata.update_authors"
	TypeCreateComment                 = "comment.create"
	TypeDeleteComment                 = "comment.delete"
	TypeAddDelegate                   = "delegate.add"
	TypeRemoveDelegate                = "delegate.remove"
)

// Payload is the variant-specific part of an event. Implementations are the
// closed set of types in this package; each one knows how to check its
// preconditions and how to project the next submission state.
//
// Validate must be a pure function of (event, submission): no I/O, no
// mutation. Apply may mutate the passed submission and must return it (or a
// fresh one, for creation).
type Payload interface {
	Type() string
	Validate(e *Event, s *domain.Submission) error
	Apply(e *Event, s *domain.Submission) *domain.Submission
}

// Event is one immutable operation on a submission. SubmissionID and
// Committed are stamped by the persistence path; everything else is fixed at
// creation.
type Event struct {
	Creator      domain.Agent
	Proxy        *domain.Agent
	Created      time.Time
	SubmissionID int64
	Committed    bool
	Data         Payload
}

// Type returns the wire tag of the event's variant.
func (e *Event) Type() string {
	if e.Data == nil {
		return ""
	}
	return e.Data.Type()
}

// ID derives the event identifier from the creation time, variant tag and
// creator identity. Two events with identical values are the same logical
// event; the ID is stable across processes.
func (e *Event) ID() string {
	return domain.DeterministicID(
		e.Created.UTC().Format(time.RFC3339Nano),
		e.Type(),
		e.Creator.Identifier(),
	)
}

// Validate checks the event's preconditions against the current state. A nil
// submission is only acceptable for creation events; the fold engine enforces
// that ordering before calling here.
func (e *Event) Validate(s *domain.Submission) error {
	if e.Data == nil {
		return Invalid(e, "event carries no payload")
	}
	return e.Data.Validate(e, s)
}

// Apply projects the next submission state. The submission's Updated stamp
// always advances to the event's creation time; a state that does not yet
// know its ID recovers it from the event, so replays rebuild identity from
// the log alone.
func (e *Event) Apply(s *domain.Submission) *domain.Submission {
	next := e.Data.Apply(e, s)
	next.Updated = e.Created
	if next.ID == 0 {
		next.ID = e.SubmissionID
	}
	return next
}

// InvalidEventError reports an event that failed validation against the
// current submission state. It aborts the save that carried the event.
type InvalidEventError struct {
	Event  *Event
	Reason string
}

func (err *InvalidEventError) Error() string {
	if err.Event == nil {
		return fmt.Sprintf("invalid event: %s", err.Reason)
	}
	return fmt.Sprintf("invalid event: %s (%s): %s", err.Event.Type(), err.Event.ID(), err.Reason)
}

// Invalid builds an InvalidEventError for the given event.
func Invalid(e *Event, format string, args ...any) error {
	return &InvalidEventError{Event: e, Reason: fmt.Sprintf(format, args...)}
}

var payloads = map[string]func() Payload{
	TypeCreateSubmission:              func() Payload { return &CreateSubmission{} },
	TypeRemoveSubmission:              func() Payload { return &RemoveSubmission{} },
	TypeFinalizeSubmission:            func() Payload { return &FinalizeSubmission{} },
	TypeUnFinalizeSubmission:          func() Payload { return &UnFinalizeSubmission{} },
	TypeVerifyContactInformation:      func() Payload { return &VerifyContactInformation{} },
	TypeAssertAuthorship:              func() Payload { return &AssertAuthorship{SubmitterIsAuthor: true} },
	TypeAcceptPolicy:                  func() Payload { return &AcceptPolicy{} },
	TypeSelectLicense:                 func() Payload { return &SelectLicense{} },
	TypeSetPrimaryClassification:      func() Payload { return &SetPrimaryClassification{} },
	TypeAddSecondaryClassification:    func() Payload { return &AddSecondaryClassification{} },
	TypeRemoveSecondaryClassification: func() Payload { return &RemoveSecondaryClassification{} },
	TypeUpdateMetadata:                func() Payload { return &UpdateMetadata{} },
	TypeUpdateAuthors:                 func() Payload { return &UpdateAuthors{} },
	TypeCreateComment:                 func() Payload { return &CreateComment{} },
	TypeDeleteComment:                 func() Payload { return &DeleteComment{} },
	TypeAddDelegate:                   func() Payload { return &AddDelegate{} },
	TypeRemoveDelegate:                func() Payload { return &RemoveDelegate{} },
}

// NewPayload returns a fresh payload for the given wire tag.
func NewPayload(eventType string) (Payload, error) {
	ctor, ok := payloads[eventType]
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	return ctor(), nil
}

// Known reports whether the wire tag names an event variant.
func Known(eventType string) bool {
	_, ok := payloads[eventType]
	return ok
}

// Types returns every wire tag, sorted.
func Types() []string {
	out := make([]string, 0, len(payloads))
	for t := range payloads {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
