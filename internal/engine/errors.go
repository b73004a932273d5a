package engine

import (
	"errors"
	"fmt"
)

// ErrNoEvents is returned by Save and Preflight when the batch is empty.
var ErrNoEvents = errors.New("must pass at least one event")

// ErrEventNotFound is returned by LoadAt when the submission's history does
// not contain the requested event.
var ErrEventNotFound = errors.New("event not found")

// NoSuchSubmissionError reports an operation against a submission that does
// not exist. A zero ID means the batch had no creation event and no target
// submission was given.
type NoSuchSubmissionError struct {
	ID int64
}

func (err *NoSuchSubmissionError) Error() string {
	if err.ID == 0 {
		return "no creation event, and submission not provided"
	}
	return fmt.Sprintf("no submission with id %d", err.ID)
}

// SaveError reports a failure to persist events after they validated and
// applied cleanly. The fold itself succeeded; the store did not.
type SaveError struct {
	Err error
}

func (err *SaveError) Error() string {
	return fmt.Sprintf("failed to store events: %v", err.Err)
}

func (err *SaveError) Unwrap() error { return err.Err }

// RuleLimitError reports a save that applied more uncommitted events than
// the configured bound allows. Rules can trigger on each other's
// consequences, so an unbounded fold may never terminate.
type RuleLimitError struct {
	SubmissionID int64
	Limit        int
}

func (err *RuleLimitError) Error() string {
	return fmt.Sprintf("fold applied more than %d events for submission %d", err.Limit, err.SubmissionID)
}

// InvalidStackError collects every validation failure found while
// preflighting a batch.
type InvalidStackError struct {
	Errors []error
}

func (err *InvalidStackError) Error() string {
	if len(err.Errors) == 1 {
		return fmt.Sprintf("1 event failed validation: %v", err.Errors[0])
	}
	return fmt.Sprintf("%d events failed validation", len(err.Errors))
}

func (err *InvalidStackError) Unwrap() []error { return err.Errors }
