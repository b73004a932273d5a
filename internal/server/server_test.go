package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"papertrail/internal/app"
	"papertrail/internal/config"
	"papertrail/internal/domain"
	"papertrail/internal/engine/auth"
	"papertrail/internal/repo"
)

type testServer struct {
	URL    string
	repo   repo.Repo
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	return newTestServerWith(t, nil)
}

// newTestServerWith lets a test adjust the workspace, config included,
// before the handler is built.
func newTestServerWith(t *testing.T, prep func(*app.Context)) (*testServer, func()) {
	t.Helper()
	appCtx, err := app.OpenWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	if prep != nil {
		prep(appCtx)
	}
	handler, err := New(Config{
		Engine:   appCtx.Engine,
		Repo:     appCtx.Repo,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:       "test-secret",
			TrustUserHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		repo:   appCtx.Repo,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			appCtx.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asUser(id string) map[string]string {
	return map[string]string{"X-Papertrail-User": id}
}

func eventBatch(evs ...map[string]any) map[string]any {
	return map[string]any{"events": evs}
}

func createSubmission(t *testing.T, srv *testServer, user string) int64 {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/submissions", eventBatch(
		map[string]any{"event_type": "submission.create"},
	), asUser(user))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create submission status %d: %s", res.StatusCode, string(data))
	}
	var created SubmissionEventsResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal create response: %v", err)
	}
	if created.Submission == nil || created.Submission.ID == 0 {
		t.Fatalf("expected a submission with an id, got %s", string(data))
	}
	return created.Submission.ID
}

func TestHealthOpenEverythingElseGated(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if who.Agent.NativeID != "alice" || who.Agent.Type != domain.AgentUser {
		t.Fatalf("unexpected principal: %+v", who.Agent)
	}
}

func TestSubmissionLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	id := createSubmission(t, srv, "alice")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions/"+itoa(id)+"/events", eventBatch(
		map[string]any{"event_type": "submitter.verify_contact"},
		map[string]any{"event_type": "submitter.assert_authorship"},
		map[string]any{"event_type": "submitter.accept_policy"},
		map[string]any{"event_type": "license.select", "data": map[string]any{
			"license_uri": "http://creativecommons.org/licenses/by/4.0/",
		}},
		map[string]any{"event_type": "classification.set_primary", "data": map[string]any{
			"category": "cond-mat.dis-nn",
		}},
		map[string]any{"event_type": "metadata.update", "data": map[string]any{
			"updates": []map[string]any{
				{"field": "title", "value": "Disordered Systems in Practice"},
				{"field": "abstract", "value": "We study disordered systems."},
			},
		}},
		map[string]any{"event_type": "metadata.update_authors", "data": map[string]any{
			"authors": []map[string]any{
				{"order": 1, "forename": "Jane", "surname": "Doe", "affiliation": "MIT"},
			},
		}},
	), asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("append status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions/"+itoa(id)+"/events", eventBatch(
		map[string]any{"event_type": "submission.finalize"},
	), asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("finalize status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/submissions/"+itoa(id), nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	var sub domain.Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		t.Fatalf("unmarshal submission: %v", err)
	}
	if !sub.Finalized {
		t.Fatalf("expected finalized submission, got %s", string(data))
	}
	if sub.Metadata.Title != "Disordered Systems in Practice" {
		t.Fatalf("unexpected title %q", sub.Metadata.Title)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions/"+itoa(id)+"/events", eventBatch(
		map[string]any{"event_type": "metadata.update", "data": map[string]any{
			"updates": []map[string]any{{"field": "title", "value": "Too late"}},
		}},
	), asUser("alice"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 appending to finalized submission, got %d: %s", res.StatusCode, string(data))
	}
}

func TestStrangerMayNotAppend(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	id := createSubmission(t, srv, "alice")

	update := eventBatch(map[string]any{"event_type": "metadata.update", "data": map[string]any{
		"updates": []map[string]any{{"field": "title", "value": "Hijacked"}},
	}})
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions/"+itoa(id)+"/events", update, asUser("bob"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions/"+itoa(id)+"/events", eventBatch(
		map[string]any{"event_type": "delegate.add", "data": map[string]any{
			"delegate": map[string]any{"agent_type": "user", "native_id": "bob"},
		}},
	), asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("add delegate status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions/"+itoa(id)+"/events", update, asUser("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delegate append status %d: %s", res.StatusCode, string(data))
	}
}

func TestPreflightReportsEveryFailure(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	id := createSubmission(t, srv, "alice")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions/"+itoa(id)+"/preflight", eventBatch(
		map[string]any{"event_type": "license.select", "data": map[string]any{
			"license_uri": "http://example.com/not-a-license",
		}},
		map[string]any{"event_type": "submitter.verify_contact"},
		map[string]any{"event_type": "classification.set_primary", "data": map[string]any{
			"category": "nonsense.wat",
		}},
	), asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("preflight status %d: %s", res.StatusCode, string(data))
	}
	var report PreflightResponse
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal preflight: %v", err)
	}
	if report.Valid {
		t.Fatalf("expected invalid batch, got %s", string(data))
	}
	if len(report.Errors) != 2 {
		t.Fatalf("expected 2 failures, got %d: %v", len(report.Errors), report.Errors)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/submissions/"+itoa(id)+"/events", nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list events status %d: %s", res.StatusCode, string(data))
	}
	var history eventList
	if err := json.Unmarshal(data, &history); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(history.Items) != 1 {
		t.Fatalf("preflight must not persist, expected 1 event, got %d", len(history.Items))
	}
}

func TestRuleCreatesCommentOnPolicyAccept(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"user_id": "root",
		"scopes":  []string{"submission:read", "submission:write", "rules:write"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	adminHeaders := map[string]string{"Authorization": "Bearer " + login.Token}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/rules", map[string]any{
		"condition":   map[string]any{"event_type": "submitter.accept_policy"},
		"consequence": map[string]any{"event_type": "comment.create", "data": map[string]any{"body": "policy accepted on record"}},
	}, adminHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create rule status %d: %s", res.StatusCode, string(data))
	}

	// plain users may not manage rules
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/rules", map[string]any{
		"condition":   map[string]any{"event_type": "submitter.accept_policy"},
		"consequence": map[string]any{"event_type": "comment.create", "data": map[string]any{"body": "sneaky"}},
	}, asUser("mallory"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for plain user, got %d: %s", res.StatusCode, string(data))
	}

	id := createSubmission(t, srv, "alice")
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions/"+itoa(id)+"/events", eventBatch(
		map[string]any{"event_type": "submitter.accept_policy"},
	), asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept policy status %d: %s", res.StatusCode, string(data))
	}
	var applied SubmissionEventsResponse
	if err := json.Unmarshal(data, &applied); err != nil {
		t.Fatalf("unmarshal append: %v", err)
	}
	var comment *EventResponse
	for i := range applied.Events {
		if applied.Events[i].EventType == "comment.create" {
			comment = &applied.Events[i]
		}
	}
	if comment == nil {
		t.Fatalf("expected rule to add a comment event, got %s", string(data))
	}
	if comment.Creator.Type != domain.AgentSystem {
		t.Fatalf("expected system creator on rule consequence, got %+v", comment.Creator)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/rules", nil, adminHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list rules status %d: %s", res.StatusCode, string(data))
	}
	var listing ruleList
	if err := json.Unmarshal(data, &listing); err != nil {
		t.Fatalf("unmarshal rules: %v", err)
	}
	if len(listing.Items) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(listing.Items))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/rules/"+itoa(listing.Items[0].ID), nil, adminHeaders)
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNoContent {
		t.Fatalf("deactivate rule status %d: %s", res.StatusCode, string(data))
	}

	second := createSubmission(t, srv, "carol")
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions/"+itoa(second)+"/events", eventBatch(
		map[string]any{"event_type": "submitter.accept_policy"},
	), asUser("carol"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept policy status %d: %s", res.StatusCode, string(data))
	}
	var afterOff SubmissionEventsResponse
	if err := json.Unmarshal(data, &afterOff); err != nil {
		t.Fatalf("unmarshal append: %v", err)
	}
	for _, ev := range afterOff.Events {
		if ev.EventType == "comment.create" {
			t.Fatalf("deactivated rule still fired: %s", string(data))
		}
	}
}

func TestStateAtEvent(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	id := createSubmission(t, srv, "alice")

	for _, title := range []string{"First title", "Second title"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions/"+itoa(id)+"/events", eventBatch(
			map[string]any{"event_type": "metadata.update", "data": map[string]any{
				"updates": []map[string]any{{"field": "title", "value": title}},
			}},
		), asUser("alice"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("append %q status %d: %s", title, res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/submissions/"+itoa(id)+"/events", nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list events status %d: %s", res.StatusCode, string(data))
	}
	var history eventList
	if err := json.Unmarshal(data, &history); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	var pivot string
	for _, ev := range history.Items {
		if ev.EventType == "metadata.update" {
			pivot = ev.EventID
			break
		}
	}
	if pivot == "" {
		t.Fatalf("no metadata.update event in history: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/submissions/"+itoa(id)+"/events/"+pivot+"/state", nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("state at event status %d: %s", res.StatusCode, string(data))
	}
	var at StateAtEventResponse
	if err := json.Unmarshal(data, &at); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if at.State == nil || at.State.Metadata.Title != "First title" {
		t.Fatalf("expected state as of first update, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/submissions/"+itoa(id)+"/events/"+pivot, nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get event status %d: %s", res.StatusCode, string(data))
	}
	var single EventResponse
	if err := json.Unmarshal(data, &single); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if single.EventID != pivot || !single.Committed {
		t.Fatalf("unexpected event %s", string(data))
	}
}

func TestListSubmissionsScopedAndPaged(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	var aliceIDs []int64
	for i := 0; i < 3; i++ {
		aliceIDs = append(aliceIDs, createSubmission(t, srv, "alice"))
		time.Sleep(2 * time.Millisecond)
	}
	bobID := createSubmission(t, srv, "bob")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/submissions?limit=2", nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var page1 paginatedSubmissions
	if err := json.Unmarshal(data, &page1); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page1.Items) != 2 || page1.NextCursor == "" {
		t.Fatalf("expected 2 items and a cursor, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/submissions?limit=2&cursor="+page1.NextCursor, nil, asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second page status %d: %s", res.StatusCode, string(data))
	}
	var page2 paginatedSubmissions
	if err := json.Unmarshal(data, &page2); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page2.Items) != 1 || page2.NextCursor != "" {
		t.Fatalf("expected final page with 1 item, got %s", string(data))
	}

	seen := map[int64]bool{}
	for _, s := range append(page1.Items, page2.Items...) {
		if s.ID == bobID {
			t.Fatalf("alice's listing leaked bob's submission %d", bobID)
		}
		seen[s.ID] = true
	}
	for _, id := range aliceIDs {
		if !seen[id] {
			t.Fatalf("submission %d missing from alice's pages", id)
		}
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/submissions", nil, asUser("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bob list status %d: %s", res.StatusCode, string(data))
	}
	var bobPage paginatedSubmissions
	if err := json.Unmarshal(data, &bobPage); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(bobPage.Items) != 1 || bobPage.Items[0].ID != bobID {
		t.Fatalf("expected exactly bob's submission, got %s", string(data))
	}
}

func TestClientKeyProxySubmission(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	rawKey := "pk_test_4f1c2d"
	_, err := srv.repo.InsertClientKey(context.Background(), repo.ClientKey{
		Name:     "Conference importer",
		ClientID: "conf-bot",
		Scopes:   []string{auth.ScopeSubmissionRead, auth.ScopeSubmissionWrite},
		KeyHash:  repo.HashClientKey(rawKey),
		Active:   true,
	})
	if err != nil {
		t.Fatalf("insert client key: %v", err)
	}

	headers := map[string]string{
		"X-Api-Key":         rawKey,
		"X-Papertrail-User": "dana",
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/submissions", eventBatch(
		map[string]any{"event_type": "submission.create"},
	), headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("proxy create status %d: %s", res.StatusCode, string(data))
	}
	var created SubmissionEventsResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal create: %v", err)
	}
	sub := created.Submission
	if sub.Owner.NativeID != "dana" || sub.Owner.Type != domain.AgentUser {
		t.Fatalf("expected the user to own the submission, got %+v", sub.Owner)
	}
	if sub.Proxy == nil || sub.Proxy.NativeID != "conf-bot" || sub.Proxy.Type != domain.AgentClient {
		t.Fatalf("expected the client as proxy, got %+v", sub.Proxy)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d: %s", res.StatusCode, string(data))
	}
}

func TestWebhookDelivery(t *testing.T) {
	received := make(chan webhookEvent, 8)
	hookLn, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	hookSrv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Papertrail-Secret") != "hook-secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- evt
		w.WriteHeader(http.StatusNoContent)
	})}
	go hookSrv.Serve(hookLn)
	defer func() {
		hookSrv.Shutdown(context.Background())
		hookLn.Close()
	}()

	enabled := true
	srv, cleanup := newTestServerWith(t, func(appCtx *app.Context) {
		appCtx.Config.Webhooks = []config.WebhookConfig{{
			URL:     "http://" + hookLn.Addr().String(),
			Secret:  "hook-secret",
			Events:  []string{"submission.create"},
			Enabled: &enabled,
		}}
	})
	defer cleanup()

	first := createSubmission(t, srv, "alice")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/submissions/"+itoa(first)+"/events", eventBatch(
		map[string]any{"event_type": "submitter.accept_policy"},
	), asUser("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("append status %d: %s", res.StatusCode, string(data))
	}
	second := createSubmission(t, srv, "alice")

	// the dispatcher polls every couple of seconds; both creation events
	// should come through, the filtered accept_policy never
	var got []webhookEvent
	deadline := time.After(15 * time.Second)
	for len(got) < 2 {
		select {
		case evt := <-received:
			got = append(got, evt)
		case <-deadline:
			t.Fatalf("expected 2 deliveries, got %d: %+v", len(got), got)
		}
	}
	if got[0].EventType != "submission.create" || got[1].EventType != "submission.create" {
		t.Fatalf("event filter leaked: %+v", got)
	}
	if got[0].SubmissionID != first || got[1].SubmissionID != second {
		t.Fatalf("wrong submissions delivered: %+v", got)
	}
	if got[0].ID >= got[1].ID {
		t.Fatalf("deliveries out of log order: %+v", got)
	}
}

func TestReferenceEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/taxonomy/categories", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("categories status %d: %s", res.StatusCode, string(data))
	}
	var cats categoryList
	if err := json.Unmarshal(data, &cats); err != nil {
		t.Fatalf("unmarshal categories: %v", err)
	}
	if len(cats.Items) == 0 {
		t.Fatalf("expected a non-empty category table")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/licenses", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("licenses status %d: %s", res.StatusCode, string(data))
	}
	var lics licenseList
	if err := json.Unmarshal(data, &lics); err != nil {
		t.Fatalf("unmarshal licenses: %v", err)
	}
	var defaults int
	for _, l := range lics.Items {
		if l.Default {
			defaults++
		}
	}
	if len(lics.Items) == 0 || defaults != 1 {
		t.Fatalf("expected a catalog with one default license, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events/types", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("event types status %d: %s", res.StatusCode, string(data))
	}
	var types struct {
		Items []string `json:"items"`
	}
	if err := json.Unmarshal(data, &types); err != nil {
		t.Fatalf("unmarshal types: %v", err)
	}
	if len(types.Items) != 17 {
		t.Fatalf("expected 17 event types, got %d", len(types.Items))
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
