// Package engine folds event histories into submission state. Save is the
// single write path: it validates and applies new events on top of the
// stored history, expands rules, and hands the result to the store in one
// atomic operation. Load and LoadAt replay committed history without
// touching rules.
package engine

import (
	"context"
	"sort"
	"time"

	"papertrail/internal/config"
	"papertrail/internal/domain"
	"papertrail/internal/events"
	"papertrail/internal/rules"
)

// DefaultMaxFoldEvents caps how many uncommitted events one save may apply,
// rule-derived events included. Overridden by engine.max_fold_events.
const DefaultMaxFoldEvents = 100

// Store is the persistence surface the engine consumes. The SQLite
// repository implements it; tests may substitute their own.
type Store interface {
	// Events returns the committed history for a submission in
	// creation order.
	Events(ctx context.Context, submissionID int64) ([]*events.Event, error)

	// Rules returns the active rules that apply to a submission:
	// global rules plus those bound to it.
	Rules(ctx context.Context, submissionID int64) ([]rules.Rule, error)

	// StoreEvents persists the uncommitted events in evs together with
	// the projected state in a single transaction, and returns the
	// stored submission with its assigned ID. Already-committed events
	// must be left untouched.
	StoreEvents(ctx context.Context, evs []*events.Event, s *domain.Submission) (*domain.Submission, error)
}

// Engine coordinates validation, projection and persistence of submission
// events. Now is swappable so tests can fix the clock; rule-derived events
// are stamped with it.
type Engine struct {
	Store  Store
	Config *config.Config
	Now    func() time.Time
}

func New(store Store, cfg *config.Config) Engine {
	return Engine{Store: store, Config: cfg, Now: time.Now}
}

func (eng Engine) now() time.Time {
	if eng.Now != nil {
		return eng.Now()
	}
	return time.Now()
}

func (eng Engine) foldLimit() int {
	if eng.Config != nil && eng.Config.Engine.MaxFoldEvents > 0 {
		return eng.Config.Engine.MaxFoldEvents
	}
	return DefaultMaxFoldEvents
}

// Save commits a batch of new events for a submission. The stored history is
// replayed first, the new events are validated and applied in creation
// order, and rules run against every newly applied event, folding their
// consequences in depth-first. The full event list and the final state are
// persisted atomically; nothing is stored when any event fails.
//
// A zero submissionID is allowed only when the batch opens the submission
// with a creation event; the assigned ID is stamped onto every returned
// event. The returned list may be longer than the input when rules fired.
func (eng Engine) Save(ctx context.Context, submissionID int64, evs ...*events.Event) (*domain.Submission, []*events.Event, error) {
	if len(evs) == 0 {
		return nil, nil, ErrNoEvents
	}
	if err := stampSubmission(submissionID, evs); err != nil {
		return nil, nil, err
	}

	var existing []*events.Event
	if submissionID != 0 {
		var err error
		existing, err = eng.Store.Events(ctx, submissionID)
		if err != nil {
			return nil, nil, err
		}
	}
	ruleSet, err := eng.Store.Rules(ctx, submissionID)
	if err != nil {
		return nil, nil, err
	}

	combined := make([]*events.Event, 0, len(existing)+len(evs))
	combined = append(combined, existing...)
	combined = append(combined, evs...)

	submission, applied, err := eng.fold(nil, combined, ruleSet)
	if err != nil {
		return nil, nil, err
	}
	if submission.ID == 0 {
		submission.ID = submissionID
	}

	stored, err := eng.Store.StoreEvents(ctx, applied, submission)
	if err != nil {
		return nil, nil, &SaveError{Err: err}
	}
	for _, ev := range applied {
		ev.SubmissionID = stored.ID
	}
	return stored, applied, nil
}

// Load replays a submission's committed history from the beginning. Rules
// are not evaluated; their consequences are already part of the log.
func (eng Engine) Load(ctx context.Context, submissionID int64) (*domain.Submission, []*events.Event, error) {
	history, err := eng.Store.Events(ctx, submissionID)
	if err != nil {
		return nil, nil, err
	}
	if len(history) == 0 {
		return nil, nil, &NoSuchSubmissionError{ID: submissionID}
	}
	return eng.fold(nil, history, nil)
}

// LoadAt replays history up to and including the named event, returning the
// state as of that event.
func (eng Engine) LoadAt(ctx context.Context, submissionID int64, eventID string) (*domain.Submission, *events.Event, error) {
	history, err := eng.Store.Events(ctx, submissionID)
	if err != nil {
		return nil, nil, err
	}
	if len(history) == 0 {
		return nil, nil, &NoSuchSubmissionError{ID: submissionID}
	}
	sortEvents(history)
	upto := -1
	for i, ev := range history {
		if ev.ID() == eventID {
			upto = i
			break
		}
	}
	if upto < 0 {
		return nil, nil, ErrEventNotFound
	}
	submission, _, err := eng.fold(nil, history[:upto+1], nil)
	if err != nil {
		return nil, nil, err
	}
	return submission, history[upto], nil
}

// Preflight validates a batch against the current state without persisting
// anything. Events that fail are skipped; later events validate against the
// state the earlier valid ones produced. Rules are not evaluated. All
// failures come back in one InvalidStackError.
func (eng Engine) Preflight(ctx context.Context, submissionID int64, evs ...*events.Event) (*domain.Submission, error) {
	if len(evs) == 0 {
		return nil, ErrNoEvents
	}
	if err := stampSubmission(submissionID, evs); err != nil {
		return nil, err
	}

	var state *domain.Submission
	if submissionID != 0 {
		var err error
		state, _, err = eng.Load(ctx, submissionID)
		if err != nil {
			return nil, err
		}
	}

	batch := make([]*events.Event, len(evs))
	copy(batch, evs)
	sortEvents(batch)
	if state == nil && batch[0].Type() != events.TypeCreateSubmission {
		return nil, &NoSuchSubmissionError{}
	}

	var failures []error
	for _, ev := range batch {
		if err := ev.Validate(state); err != nil {
			failures = append(failures, err)
			continue
		}
		state = ev.Apply(state)
	}
	if len(failures) > 0 {
		return nil, &InvalidStackError{Errors: failures}
	}
	return state, nil
}

// stampSubmission assigns the target submission to unstamped events and
// rejects batches that span submissions.
func stampSubmission(submissionID int64, evs []*events.Event) error {
	if submissionID == 0 {
		return nil
	}
	for _, ev := range evs {
		if ev.SubmissionID == 0 {
			ev.SubmissionID = submissionID
		}
		if ev.SubmissionID != submissionID {
			return events.Invalid(ev, "can't mix events for multiple submissions")
		}
	}
	return nil
}

// fold replays events onto a starting state. Events are applied in creation
// order; rules fire on each newly applied (uncommitted) event and their
// consequences are validated and applied immediately, before any remaining
// events. The returned list holds every applied event sorted by creation
// time.
func (eng Engine) fold(state *domain.Submission, evs []*events.Event, ruleSet []rules.Rule) (*domain.Submission, []*events.Event, error) {
	top := make([]*events.Event, len(evs))
	copy(top, evs)
	sortEvents(top)

	if state == nil && top[0].Type() != events.TypeCreateSubmission {
		return nil, nil, &NoSuchSubmissionError{}
	}

	limit := eng.foldLimit()
	fresh := 0
	var extras []*events.Event

	pending := make([]*events.Event, len(top))
	copy(pending, top)
	for len(pending) > 0 {
		ev := pending[0]
		pending = pending[1:]

		if err := ev.Validate(state); err != nil {
			return nil, nil, err
		}
		state = ev.Apply(state)

		if ev.Committed {
			continue
		}
		fresh++
		if fresh > limit {
			return nil, nil, &RuleLimitError{SubmissionID: ev.SubmissionID, Limit: limit}
		}
		batch, err := eng.consequences(ev, state, ruleSet)
		if err != nil {
			return nil, nil, err
		}
		if len(batch) > 0 {
			extras = append(extras, batch...)
			pending = append(batch, pending...)
		}
	}

	applied := make([]*events.Event, 0, len(top)+len(extras))
	applied = append(applied, top...)
	applied = append(applied, extras...)
	sortEvents(applied)
	return state, applied, nil
}

// consequences runs every rule against one applied event, in rule order, and
// returns the resulting events sorted by creation time.
func (eng Engine) consequences(trigger *events.Event, state *domain.Submission, ruleSet []rules.Rule) ([]*events.Event, error) {
	var out []*events.Event
	for _, r := range ruleSet {
		ev, fired, err := r.Trigger(trigger, state, eng.now())
		if err != nil {
			return nil, err
		}
		if fired {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out, nil
}

func sortEvents(evs []*events.Event) {
	sort.SliceStable(evs, func(i, j int) bool {
		return evs[i].Created.Before(evs[j].Created)
	})
}
