// Package rules expresses conditional business logic as data. A rule watches
// for events of one type and, when its condition matches, synthesizes a
// follow-on event that is folded into the same save as the event that
// triggered it.
package rules

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"papertrail/internal/domain"
	"papertrail/internal/events"
)

// Condition decides whether a rule fires for a given event. A zero
// SubmissionID scopes the rule to every submission; DataEquals, when set,
// requires the named payload fields to carry exactly the given values.
type Condition struct {
	EventType    string         `json:"event_type"`
	SubmissionID int64          `json:"submission_id,omitempty"`
	DataEquals   map[string]any `json:"data_equals,omitempty"`
}

// Matches reports whether the condition holds for the event and the state it
// just produced.
func (c Condition) Matches(e *events.Event, s *domain.Submission) bool {
	if c.EventType != e.Type() {
		return false
	}
	if c.SubmissionID != 0 && (s == nil || c.SubmissionID != s.ID) {
		return false
	}
	if len(c.DataEquals) == 0 {
		return true
	}
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return false
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	for k, want := range c.DataEquals {
		got, ok := fields[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// Consequence describes the event to synthesize when the rule fires. A zero
// Creator means the platform's system agent.
type Consequence struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Creator   domain.Agent    `json:"creator"`
}

// Event builds the consequence event for a triggering event. The new event
// inherits the trigger's submission scope and is stamped with the given
// creation time.
func (q Consequence) Event(trigger *events.Event, s *domain.Submission, created time.Time) (*events.Event, error) {
	creator := q.Creator
	if creator.IsZero() {
		creator = domain.SystemAgent("")
	}
	e, err := events.New(q.EventType, q.Data, creator, nil, created)
	if err != nil {
		return nil, err
	}
	e.SubmissionID = trigger.SubmissionID
	if e.SubmissionID == 0 && s != nil {
		e.SubmissionID = s.ID
	}
	return e, nil
}

// Rule pairs a condition with a consequence. Rules live in the store and are
// evaluated against every uncommitted event during a save.
type Rule struct {
	ID          int64         `json:"rule_id,omitempty"`
	Creator     domain.Agent  `json:"creator"`
	Proxy       *domain.Agent `json:"proxy,omitempty"`
	Created     time.Time     `json:"created" format:"date-time"`
	Active      bool          `json:"active"`
	Condition   Condition     `json:"condition"`
	Consequence Consequence   `json:"consequence"`
}

// Trigger evaluates the rule against an applied event. When the condition
// matches it returns the consequence event, otherwise (nil, false, nil).
func (r Rule) Trigger(e *events.Event, s *domain.Submission, created time.Time) (*events.Event, bool, error) {
	if !r.Condition.Matches(e, s) {
		return nil, false, nil
	}
	out, err := r.Consequence.Event(e, s, created)
	if err != nil {
		return nil, false, fmt.Errorf("rule %d: %w", r.ID, err)
	}
	return out, true, nil
}

// Validate checks that both sides of the rule name known event types and
// that the consequence data decodes into its payload.
func (r Rule) Validate() error {
	if !events.Known(r.Condition.EventType) {
		return fmt.Errorf("condition: unknown event type %q", r.Condition.EventType)
	}
	if !events.Known(r.Consequence.EventType) {
		return fmt.Errorf("consequence: unknown event type %q", r.Consequence.EventType)
	}
	payload, err := events.NewPayload(r.Consequence.EventType)
	if err != nil {
		return fmt.Errorf("consequence: %w", err)
	}
	if len(r.Consequence.Data) > 0 {
		if err := json.Unmarshal(r.Consequence.Data, payload); err != nil {
			return fmt.Errorf("consequence data: %w", err)
		}
	}
	if err := r.Creator.Validate(); err != nil {
		return fmt.Errorf("creator: %w", err)
	}
	return nil
}
