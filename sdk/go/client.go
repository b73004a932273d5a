package papertrailsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Papertrail HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// OnBehalfOf names the user a client-key integration acts for. It is
	// sent as X-Papertrail-User and ignored on bearer-token calls.
	OnBehalfOf string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Agent identifies who created or owns something.
type Agent struct {
	Type     string `json:"agent_type"`
	NativeID string `json:"native_id"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Submission represents the API submission model (partial).
type Submission struct {
	ID        int64          `json:"submission_id"`
	Creator   Agent          `json:"creator"`
	Owner     Agent          `json:"owner"`
	Proxy     *Agent         `json:"proxy,omitempty"`
	Created   string         `json:"created"`
	Updated   string         `json:"updated"`
	Metadata  map[string]any `json:"metadata"`
	Active    bool           `json:"active"`
	Finalized bool           `json:"finalized"`
}

// Event represents a committed event.
type Event struct {
	EventID      string         `json:"event_id"`
	EventType    string         `json:"event_type"`
	Created      string         `json:"created"`
	Creator      Agent          `json:"creator"`
	Proxy        *Agent         `json:"proxy,omitempty"`
	SubmissionID int64          `json:"submission_id"`
	Committed    bool           `json:"committed"`
	Data         map[string]any `json:"data"`
}

// EventInput describes one event to append. Created defaults to the
// server's clock when empty.
type EventInput struct {
	EventType string         `json:"event_type"`
	Created   string         `json:"created,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// SaveResult is the outcome of a commit: the projected submission and
// every event stored, including any synthesized by rules.
type SaveResult struct {
	Submission Submission `json:"submission"`
	Events     []Event    `json:"events"`
}

// PreflightReport lists everything wrong with a batch without storing it.
type PreflightReport struct {
	Valid  bool        `json:"valid"`
	Errors []string    `json:"errors"`
	State  *Submission `json:"state,omitempty"`
}

// Rule represents a stored rule.
type Rule struct {
	ID          int64           `json:"rule_id"`
	Creator     Agent           `json:"creator"`
	Created     string          `json:"created"`
	Active      bool            `json:"active"`
	Condition   RuleCondition   `json:"condition"`
	Consequence RuleConsequence `json:"consequence"`
}

// RuleCondition selects the events a rule fires on.
type RuleCondition struct {
	EventType    string         `json:"event_type"`
	SubmissionID int64          `json:"submission_id,omitempty"`
	DataEquals   map[string]any `json:"data_equals,omitempty"`
}

// RuleConsequence is the event a rule emits.
type RuleConsequence struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
}

// Identity reports who the server thinks the caller is.
type Identity struct {
	Agent  Agent    `json:"agent"`
	Proxy  *Agent   `json:"proxy,omitempty"`
	Scopes []string `json:"scopes"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SubmissionPage wraps list responses with cursors.
type SubmissionPage struct {
	Items      []Submission `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// ListOptions filter and page submission listings.
type ListOptions struct {
	Active    string
	Finalized string
	Owner     string
	Limit     int
	Cursor    string
}

// CreateSubmission opens a new submission. The batch must start with a
// submission.create event; pass extra events to seed the record in the
// same commit.
func (c *Client) CreateSubmission(ctx context.Context, events ...EventInput) (SaveResult, error) {
	var resp SaveResult
	err := c.do(ctx, http.MethodPost, apiPath("submissions"), eventsBody(events), &resp)
	return resp, err
}

// GetSubmission returns the projected state of one submission.
func (c *Client) GetSubmission(ctx context.Context, id int64) (Submission, error) {
	var resp Submission
	err := c.do(ctx, http.MethodGet, submissionPath(id, ""), nil, &resp)
	return resp, err
}

// ListSubmissions returns a page of submissions the caller may see.
func (c *Client) ListSubmissions(ctx context.Context, opts ListOptions) (SubmissionPage, error) {
	q := url.Values{}
	if opts.Active != "" {
		q.Set("active", opts.Active)
	}
	if opts.Finalized != "" {
		q.Set("finalized", opts.Finalized)
	}
	if opts.Owner != "" {
		q.Set("owner", opts.Owner)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	endpoint := apiPath("submissions")
	if encoded := q.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var resp SubmissionPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AppendEvents commits a batch of events to a submission. The whole batch
// stores atomically or not at all.
func (c *Client) AppendEvents(ctx context.Context, id int64, events ...EventInput) (SaveResult, error) {
	var resp SaveResult
	err := c.do(ctx, http.MethodPost, submissionPath(id, "events"), eventsBody(events), &resp)
	return resp, err
}

// ListEvents returns a submission's full event history.
func (c *Client) ListEvents(ctx context.Context, id int64) ([]Event, error) {
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, submissionPath(id, "events"), nil, &resp)
	return resp.Items, err
}

// GetEvent fetches one committed event.
func (c *Client) GetEvent(ctx context.Context, id int64, eventID string) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodGet, submissionPath(id, "events/"+url.PathEscape(eventID)), nil, &resp)
	return resp, err
}

// StateAt replays the submission up to and including the given event.
func (c *Client) StateAt(ctx context.Context, id int64, eventID string) (Submission, error) {
	var resp struct {
		State Submission `json:"state"`
	}
	endpoint := submissionPath(id, "events/"+url.PathEscape(eventID)+"/state")
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.State, err
}

// Preflight validates a batch without storing it. Pass id 0 to preflight
// a creation batch.
func (c *Client) Preflight(ctx context.Context, id int64, events ...EventInput) (PreflightReport, error) {
	endpoint := apiPath("submissions/preflight")
	if id != 0 {
		endpoint = submissionPath(id, "preflight")
	}
	var resp PreflightReport
	err := c.do(ctx, http.MethodPost, endpoint, eventsBody(events), &resp)
	return resp, err
}

// CreateRule registers a rule. Requires the rules:write scope.
func (c *Client) CreateRule(ctx context.Context, condition RuleCondition, consequence RuleConsequence) (Rule, error) {
	body := map[string]any{
		"condition":   condition,
		"consequence": consequence,
	}
	var resp Rule
	err := c.do(ctx, http.MethodPost, apiPath("rules"), body, &resp)
	return resp, err
}

// ListRules returns every registered rule, active or not.
func (c *Client) ListRules(ctx context.Context) ([]Rule, error) {
	var resp struct {
		Items []Rule `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, apiPath("rules"), nil, &resp)
	return resp.Items, err
}

// GetRule fetches one rule by ID.
func (c *Client) GetRule(ctx context.Context, id int64) (Rule, error) {
	var resp Rule
	err := c.do(ctx, http.MethodGet, apiPath("rules/"+strconv.FormatInt(id, 10)), nil, &resp)
	return resp, err
}

// DeactivateRule turns a rule off. Rules are never deleted.
func (c *Client) DeactivateRule(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, apiPath("rules/"+strconv.FormatInt(id, 10)), nil, nil)
}

// EventTypes lists every event type the server accepts.
func (c *Client) EventTypes(ctx context.Context) ([]string, error) {
	var resp struct {
		Items []string `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, apiPath("events/types"), nil, &resp)
	return resp.Items, err
}

// WhoAmI reports the identity the server resolved from the credentials.
func (c *Client) WhoAmI(ctx context.Context) (Identity, error) {
	var resp Identity
	err := c.do(ctx, http.MethodGet, apiPath("me"), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
		if c.OnBehalfOf != "" {
			req.Header.Set("X-Papertrail-User", c.OnBehalfOf)
		}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func eventsBody(events []EventInput) map[string]any {
	return map[string]any{"events": events}
}

func submissionPath(id int64, rest string) string {
	p := "submissions/" + strconv.FormatInt(id, 10)
	if rest != "" {
		p += "/" + strings.TrimLeft(rest, "/")
	}
	return apiPath(p)
}

func apiPath(p string) string {
	return "v0/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
