package server

import (
	"encoding/json"
	"time"

	"papertrail/internal/config"
	"papertrail/internal/domain"
	"papertrail/internal/engine/auth"
	"papertrail/internal/events"
	"papertrail/internal/rules"
)

// Request payloads

type EventRequest struct {
	EventType string         `json:"event_type"`
	Created   *time.Time     `json:"created,omitempty" format:"date-time"`
	Data      map[string]any `json:"data,omitempty"`
}

type CreateSubmissionRequest struct {
	Events []EventRequest `json:"events" minItems:"1"`
}

type AppendEventsRequest struct {
	Events []EventRequest `json:"events" minItems:"1"`
}

type RuleConditionRequest struct {
	EventType    string         `json:"event_type"`
	SubmissionID int64          `json:"submission_id,omitempty"`
	DataEquals   map[string]any `json:"data_equals,omitempty"`
}

type RuleConsequenceRequest struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
}

type CreateRuleRequest struct {
	Condition   RuleConditionRequest   `json:"condition"`
	Consequence RuleConsequenceRequest `json:"consequence"`
}

type DevLoginRequest struct {
	UserID    string   `json:"user_id"`
	AgentType string   `json:"agent_type,omitempty" enum:"user,system,client"`
	Scopes    []string `json:"scopes,omitempty"`
}

// Response payloads

type EventResponse struct {
	EventID      string         `json:"event_id"`
	EventType    string         `json:"event_type"`
	Created      time.Time      `json:"created" format:"date-time"`
	Creator      domain.Agent   `json:"creator"`
	Proxy        *domain.Agent  `json:"proxy,omitempty"`
	SubmissionID int64          `json:"submission_id"`
	Committed    bool           `json:"committed"`
	Data         map[string]any `json:"data"`
}

type SubmissionEventsResponse struct {
	Submission *domain.Submission `json:"submission"`
	Events     []EventResponse    `json:"events"`
}

type PreflightResponse struct {
	Valid  bool               `json:"valid"`
	Errors []string           `json:"errors,omitempty"`
	State  *domain.Submission `json:"state,omitempty"`
}

type StateAtEventResponse struct {
	Event StateAtEventPivot  `json:"event"`
	State *domain.Submission `json:"state"`
}

type StateAtEventPivot struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Created   time.Time `json:"created" format:"date-time"`
}

type LicenseResponse struct {
	URI     string `json:"uri"`
	Name    string `json:"name,omitempty"`
	Active  bool   `json:"active"`
	Default bool   `json:"default,omitempty"`
}

type WhoAmIResponse struct {
	Agent  domain.Agent  `json:"agent"`
	Proxy  *domain.Agent `json:"proxy,omitempty"`
	Scopes []string      `json:"scopes"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedSubmissions struct {
	Items      []*domain.Submission `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type eventList struct {
	Items []EventResponse `json:"items"`
}

type ruleList struct {
	Items []rules.Rule `json:"items"`
}

type categoryList struct {
	Items []taxonomyCategory `json:"items"`
}

type taxonomyCategory struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Archive string `json:"archive"`
	Domain  string `json:"domain"`
}

type licenseList struct {
	Items []LicenseResponse `json:"items"`
}

// Conversion helpers

// buildEvents turns a request batch into domain events credited to the
// caller. Events without an explicit timestamp are stamped with now, offset
// by their index so same-type events in one batch keep distinct identities.
func buildEvents(reqs []EventRequest, p auth.Principal, now time.Time) ([]*events.Event, error) {
	out := make([]*events.Event, 0, len(reqs))
	for i, req := range reqs {
		created := now.Add(time.Duration(i))
		if req.Created != nil {
			created = *req.Created
		}
		data := []byte("{}")
		if req.Data != nil {
			encoded, err := json.Marshal(req.Data)
			if err != nil {
				return nil, err
			}
			data = encoded
		}
		ev, err := events.New(req.EventType, data, p.Agent, p.Proxy, created)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func eventResponse(ev *events.Event) (EventResponse, error) {
	env, err := events.ToEnvelope(ev)
	if err != nil {
		return EventResponse{}, err
	}
	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return EventResponse{}, err
	}
	return EventResponse{
		EventID:      env.EventID,
		EventType:    env.EventType,
		Created:      env.Created,
		Creator:      env.Creator,
		Proxy:        env.Proxy,
		SubmissionID: env.SubmissionID,
		Committed:    env.Committed,
		Data:         data,
	}, nil
}

func eventResponses(evs []*events.Event) ([]EventResponse, error) {
	out := make([]EventResponse, 0, len(evs))
	for _, ev := range evs {
		res, err := eventResponse(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func ruleFromRequest(req CreateRuleRequest, p auth.Principal, created time.Time) (rules.Rule, error) {
	var data json.RawMessage
	if req.Consequence.Data != nil {
		encoded, err := json.Marshal(req.Consequence.Data)
		if err != nil {
			return rules.Rule{}, err
		}
		data = encoded
	}
	return rules.Rule{
		Creator: p.Agent,
		Proxy:   p.Proxy,
		Created: created,
		Active:  true,
		Condition: rules.Condition{
			EventType:    req.Condition.EventType,
			SubmissionID: req.Condition.SubmissionID,
			DataEquals:   req.Condition.DataEquals,
		},
		Consequence: rules.Consequence{
			EventType: req.Consequence.EventType,
			Data:      data,
		},
	}, nil
}

func licenseResponses(cfg *config.Config) []LicenseResponse {
	out := make([]LicenseResponse, 0, len(cfg.Licenses.Catalog))
	for _, uri := range cfg.LicenseURIs() {
		lic := cfg.Licenses.Catalog[uri]
		out = append(out, LicenseResponse{
			URI:     uri,
			Name:    lic.Name,
			Active:  lic.Active,
			Default: uri == cfg.Licenses.Default,
		})
	}
	return out
}
