package events

import (
	"encoding/json"
	"fmt"
	"time"

	"papertrail/internal/domain"
)

// Envelope is the wire form of an event: the shared header plus the
// variant payload as raw JSON. It is what the store persists and the API
// returns.
type Envelope struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	Created      time.Time       `json:"created" format:"date-time"`
	Creator      domain.Agent    `json:"creator"`
	Proxy        *domain.Agent   `json:"proxy,omitempty"`
	SubmissionID int64           `json:"submission_id,omitempty"`
	Committed    bool            `json:"committed"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Encode serializes the event to its envelope form.
func Encode(e *Event) ([]byte, error) {
	env, err := ToEnvelope(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// ToEnvelope converts an event to its envelope without serializing the
// header.
func ToEnvelope(e *Event) (Envelope, error) {
	if e.Data == nil {
		return Envelope{}, fmt.Errorf("event carries no payload")
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", e.Type(), err)
	}
	return Envelope{
		EventID:      e.ID(),
		EventType:    e.Type(),
		Created:      e.Created,
		Creator:      e.Creator,
		Proxy:        e.Proxy,
		SubmissionID: e.SubmissionID,
		Committed:    e.Committed,
		Data:         data,
	}, nil
}

// Decode parses an envelope back into an event. The payload type must be
// one of the registered variants.
func Decode(raw []byte) (*Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	return FromEnvelope(env)
}

// FromEnvelope reconstructs an event from its envelope form.
func FromEnvelope(env Envelope) (*Event, error) {
	payload, err := NewPayload(env.EventType)
	if err != nil {
		return nil, err
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, payload); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.EventType, err)
		}
	}
	return &Event{
		Creator:      env.Creator,
		Proxy:        env.Proxy,
		Created:      env.Created,
		SubmissionID: env.SubmissionID,
		Committed:    env.Committed,
		Data:         payload,
	}, nil
}

// New builds an uncommitted event of the given type from a raw JSON payload.
// Fields absent from data keep their variant defaults.
func New(eventType string, data []byte, creator domain.Agent, proxy *domain.Agent, created time.Time) (*Event, error) {
	payload, err := NewPayload(eventType)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, payload); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
		}
	}
	return &Event{
		Creator: creator,
		Proxy:   proxy,
		Created: created,
		Data:    payload,
	}, nil
}
