package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"papertrail/internal/config"
	"papertrail/internal/db"
	"papertrail/internal/domain"
	"papertrail/internal/engine"
	"papertrail/internal/events"
	"papertrail/internal/migrate"
	"papertrail/internal/repo"
	"papertrail/internal/rules"
)

var testClock = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Repo   repo.Repo
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.New(conn)
	eng := engine.New(r, config.Default())
	eng.Now = func() time.Time { return testClock.Add(time.Hour) }
	return testEnv{Engine: eng, Repo: r, Ctx: context.Background()}
}

func user(id string) domain.Agent {
	return domain.Agent{Type: domain.AgentUser, NativeID: id}
}

func at(min int) time.Time {
	return testClock.Add(time.Duration(min) * time.Minute)
}

func ev(created time.Time, creator domain.Agent, payload events.Payload) *events.Event {
	return &events.Event{Creator: creator, Created: created, Data: payload}
}

// newSubmission opens a fresh submission owned by the given agent. Creation
// times must differ between submissions by the same owner, since the event
// identifier is derived from (created, type, creator).
func newSubmission(t *testing.T, env testEnv, owner domain.Agent, created time.Time) *domain.Submission {
	t.Helper()
	sub, _, err := env.Engine.Save(env.Ctx, 0, ev(created, owner, &events.CreateSubmission{}))
	if err != nil {
		t.Fatalf("create submission: %v", err)
	}
	return sub
}

func countEvents(t *testing.T, env testEnv, submissionID int64) int {
	t.Helper()
	history, err := env.Repo.Events(env.Ctx, submissionID)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	return len(history)
}

func TestSaveCreateAndLoad(t *testing.T) {
	env := newTestEnv(t)
	owner := user("u:100")

	sub, applied, err := env.Engine.Save(env.Ctx, 0, ev(at(0), owner, &events.CreateSubmission{}))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if sub.ID == 0 {
		t.Fatalf("expected assigned submission id")
	}
	if len(applied) != 1 {
		t.Fatalf("expected 1 applied event, got %d", len(applied))
	}
	if !applied[0].Committed || applied[0].SubmissionID != sub.ID {
		t.Fatalf("expected committed event stamped with submission id")
	}
	if !sub.Active || sub.Finalized {
		t.Fatalf("unexpected initial state: %+v", sub)
	}
	if !sub.OwnedBy(owner) {
		t.Fatalf("expected owner %s", owner.Identifier())
	}

	loaded, history, err := env.Engine.Load(env.Ctx, sub.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(history) != 1 || history[0].ID() != applied[0].ID() {
		t.Fatalf("history mismatch")
	}
	if !loaded.Created.Equal(at(0)) || !loaded.Updated.Equal(at(0)) {
		t.Fatalf("unexpected stamps: created=%v updated=%v", loaded.Created, loaded.Updated)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	owner := user("u:12")

	saved, applied, err := env.Engine.Save(env.Ctx, 0,
		ev(at(0), owner, &events.CreateSubmission{}),
		ev(at(1), owner, &events.AcceptPolicy{}),
		ev(at(2), owner, &events.UpdateMetadata{Updates: []events.MetadataUpdate{
			{Field: "title", Value: "Foo"},
		}}),
	)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Metadata.Title != "Foo" {
		t.Fatalf("title = %q, want Foo", saved.Metadata.Title)
	}

	loaded, history, err := env.Engine.Load(env.Ctx, saved.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(saved, loaded) {
		t.Fatalf("replayed state differs from saved state:\nsaved:  %+v\nloaded: %+v", saved, loaded)
	}
	if len(history) != len(applied) {
		t.Fatalf("history length %d, want %d", len(history), len(applied))
	}
	for i := range history {
		if history[i].ID() != applied[i].ID() {
			t.Fatalf("event %d differs: %s vs %s", i, history[i].ID(), applied[i].ID())
		}
	}
}

func TestIndependentEventsOrderInvariant(t *testing.T) {
	env := newTestEnv(t)
	owner := user("u:13")

	first, _, err := env.Engine.Save(env.Ctx, 0,
		ev(at(0), owner, &events.CreateSubmission{}),
		ev(at(1), owner, &events.AcceptPolicy{}),
		ev(at(2), owner, &events.AddSecondaryClassification{Category: "math.CO"}),
	)
	if err != nil {
		t.Fatalf("save first: %v", err)
	}
	second, _, err := env.Engine.Save(env.Ctx, 0,
		ev(at(10), owner, &events.CreateSubmission{}),
		ev(at(11), owner, &events.AddSecondaryClassification{Category: "math.CO"}),
		ev(at(12), owner, &events.AcceptPolicy{}),
	)
	if err != nil {
		t.Fatalf("save second: %v", err)
	}

	if first.SubmitterAcceptsPolicy != second.SubmitterAcceptsPolicy {
		t.Fatalf("policy flags diverge")
	}
	if !reflect.DeepEqual(first.SecondaryClassification, second.SecondaryClassification) {
		t.Fatalf("classifications diverge: %+v vs %+v",
			first.SecondaryClassification, second.SecondaryClassification)
	}
}

func TestSaveRequiresEvents(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.Engine.Save(env.Ctx, 0); !errors.Is(err, engine.ErrNoEvents) {
		t.Fatalf("expected ErrNoEvents, got %v", err)
	}
}

func TestSaveRequiresCreationFirst(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Engine.Save(env.Ctx, 0, ev(at(0), user("u:1"), &events.VerifyContactInformation{}))
	var nse *engine.NoSuchSubmissionError
	if !errors.As(err, &nse) {
		t.Fatalf("expected NoSuchSubmissionError, got %v", err)
	}
	if !strings.Contains(nse.Error(), "no creation event") {
		t.Fatalf("unexpected message: %v", nse)
	}
}

func TestSaveSortsBatchByCreation(t *testing.T) {
	env := newTestEnv(t)
	owner := user("u:2")
	// creation passed last; the fold must order by creation time.
	sub, _, err := env.Engine.Save(env.Ctx, 0,
		ev(at(1), owner, &events.VerifyContactInformation{}),
		ev(at(0), owner, &events.CreateSubmission{}),
	)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !sub.SubmitterContactVerified {
		t.Fatalf("expected contact verified")
	}
	if !sub.Updated.Equal(at(1)) {
		t.Fatalf("expected updated at later event, got %v", sub.Updated)
	}
}

func TestSaveFullWorkflow(t *testing.T) {
	env := newTestEnv(t)
	owner := user("u:3")
	sub := newSubmission(t, env, owner, at(0))

	_, applied, err := env.Engine.Save(env.Ctx, sub.ID,
		ev(at(1), owner, &events.VerifyContactInformation{}),
		ev(at(2), owner, &events.AssertAuthorship{SubmitterIsAuthor: true}),
		ev(at(3), owner, &events.AcceptPolicy{}),
		ev(at(4), owner, &events.SelectLicense{LicenseURI: "http://creativecommons.org/licenses/by/4.0/"}),
		ev(at(5), owner, &events.SetPrimaryClassification{Category: "cond-mat.dis-nn"}),
		ev(at(6), owner, &events.UpdateMetadata{Updates: []events.MetadataUpdate{
			{Field: "title", Value: "Localization in random lattices"},
			{Field: "abstract", Value: "We study disorder-driven localization."},
		}}),
		ev(at(7), owner, &events.UpdateAuthors{Authors: []domain.Author{
			{Order: 0, Forename: "Jane", Surname: "Doe", Affiliation: "MIT"},
		}}),
	)
	if err != nil {
		t.Fatalf("save workflow: %v", err)
	}
	// the returned list is the whole sorted history, creation included
	if len(applied) != 8 {
		t.Fatalf("expected 8 events back, got %d", len(applied))
	}
	if applied[0].Type() != events.TypeCreateSubmission {
		t.Fatalf("expected creation first, got %s", applied[0].Type())
	}

	sub2, _, err := env.Engine.Save(env.Ctx, sub.ID, ev(at(8), owner, &events.FinalizeSubmission{}))
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !sub2.Finalized {
		t.Fatalf("expected finalized submission")
	}

	// finalized submissions refuse further metadata changes
	_, _, err = env.Engine.Save(env.Ctx, sub.ID,
		ev(at(9), owner, &events.UpdateMetadata{Updates: []events.MetadataUpdate{{Field: "title", Value: "x"}}}))
	var inv *events.InvalidEventError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvalidEventError, got %v", err)
	}
	if countEvents(t, env, sub.ID) != 9 {
		t.Fatalf("rejected event must not be stored")
	}
}

func TestSaveRejectionStoresNothing(t *testing.T) {
	env := newTestEnv(t)
	owner := user("u:4")
	sub := newSubmission(t, env, owner, at(0))

	// the second event fails validation, so the whole batch must be dropped
	_, _, err := env.Engine.Save(env.Ctx, sub.ID,
		ev(at(1), owner, &events.VerifyContactInformation{}),
		ev(at(2), owner, &events.SelectLicense{}),
	)
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	loaded, _, err := env.Engine.Load(env.Ctx, sub.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.SubmitterContactVerified {
		t.Fatalf("partial batch must not be applied")
	}
	if countEvents(t, env, sub.ID) != 1 {
		t.Fatalf("expected only the creation event")
	}
}

func TestSaveRejectsMixedSubmissions(t *testing.T) {
	env := newTestEnv(t)
	owner := user("u:5")
	subA := newSubmission(t, env, owner, at(0))
	subB := newSubmission(t, env, owner, at(1))

	stray := ev(at(1), owner, &events.VerifyContactInformation{})
	stray.SubmissionID = subB.ID
	_, _, err := env.Engine.Save(env.Ctx, subA.ID, stray)
	if err == nil || !strings.Contains(err.Error(), "can't mix events for multiple submissions") {
		t.Fatalf("expected mixing error, got %v", err)
	}
}

func TestRuleExpansion(t *testing.T) {
	env := newTestEnv(t)
	owner := user("u:6")
	sub := newSubmission(t, env, owner, at(0))

	_, err := env.Repo.InsertRule(env.Ctx, rules.Rule{
		Creator: user("admin"),
		Created: at(0),
		Active:  true,
		Condition: rules.Condition{
			EventType: events.TypeAcceptPolicy,
		},
		Consequence: rules.Consequence{
			EventType: events.TypeCreateComment,
			Data:      json.RawMessage(`{"body":"policy accepted on record"}`),
		},
	})
	if err != nil {
		t.Fatalf("insert rule: %v", err)
	}

	_, applied, err := env.Engine.Save(env.Ctx, sub.ID, ev(at(1), owner, &events.AcceptPolicy{}))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	// creation + accept + derived comment
	if len(applied) != 3 {
		t.Fatalf("expected rule consequence in result, got %d events", len(applied))
	}

	loaded, _, err := env.Engine.Load(env.Ctx, sub.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Comments) != 1 {
		t.Fatalf("expected 1 derived comment, got %d", len(loaded.Comments))
	}
	for _, c := range loaded.Comments {
		if c.Creator.Type != domain.AgentSystem {
			t.Fatalf("expected system creator, got %s", c.Creator.Type)
		}
		if c.Body != "policy accepted on record" {
			t.Fatalf("unexpected comment body %q", c.Body)
		}
	}

	// replay of the committed trigger must not fire the rule again
	_, _, err = env.Engine.Save(env.Ctx, sub.ID, ev(at(2), owner, &events.VerifyContactInformation{}))
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	loaded, _, _ = env.Engine.Load(env.Ctx, sub.ID)
	if len(loaded.Comments) != 1 {
		t.Fatalf("rule must not re-fire on committed history, got %d comments", len(loaded.Comments))
	}
	if countEvents(t, env, sub.ID) != 4 {
		t.Fatalf("expected 4 stored events, got %d", countEvents(t, env, sub.ID))
	}
}

func TestRuleScopedToSubmission(t *testing.T) {
	env := newTestEnv(t)
	owner := user("u:7")
	subA := newSubmission(t, env, owner, at(0))
	subB := newSubmission(t, env, owner, at(1))

	_, err := env.Repo.InsertRule(env.Ctx, rules.Rule{
		Creator: user("admin"),
		Created: at(0),
		Active:  true,
		Condition: rules.Condition{
			EventType:    events.TypeAcceptPolicy,
			SubmissionID: subA.ID,
		},
		Consequence: rules.Consequence{
			EventType: events.TypeCreateComment,
			Data:      json.RawMessage(`{"body":"scoped"}`),
		},
	})
	if err != nil {
		t.Fatalf("insert rule: %v", err)
	}

	if _, _, err := env.Engine.Save(env.Ctx, subB.ID, ev(at(1), owner, &events.AcceptPolicy{})); err != nil {
		t.Fatalf("save B: %v", err)
	}
	loadedB, _, _ := env.Engine.Load(env.Ctx, subB.ID)
	if len(loadedB.Comments) != 0 {
		t.Fatalf("rule bound to %d must not fire for %d", subA.ID, subB.ID)
	}

	if _, _, err := env.Engine.Save(env.Ctx, subA.ID, ev(at(2), owner, &events.AcceptPolicy{})); err != nil {
		t.Fatalf("save A: %v", err)
	}
	loadedA, _, _ := env.Engine.Load(env.Ctx, subA.ID)
	if len(loadedA.Comments) != 1 {
		t.Fatalf("expected scoped rule to fire for %d", subA.ID)
	}
}

func TestRuleCap(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Engine.MaxFoldEvents = 5
	owner := user("u:8")
	sub := newSubmission(t, env, owner, at(0))

	// a comment that triggers another comment never converges
	_, err := env.Repo.InsertRule(env.Ctx, rules.Rule{
		Creator: user("admin"),
		Created: at(0),
		Active:  true,
		Condition: rules.Condition{
			EventType: events.TypeCreateComment,
		},
		Consequence: rules.Consequence{
			EventType: events.TypeCreateComment,
			Data:      json.RawMessage(`{"body":"echo"}`),
		},
	})
	if err != nil {
		t.Fatalf("insert rule: %v", err)
	}

	_, _, err = env.Engine.Save(env.Ctx, sub.ID, ev(at(1), owner, &events.CreateComment{Body: "start"}))
	var limitErr *engine.RuleLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected RuleLimitError, got %v", err)
	}
	if limitErr.Limit != 5 {
		t.Fatalf("expected configured limit 5, got %d", limitErr.Limit)
	}
	if countEvents(t, env, sub.ID) != 1 {
		t.Fatalf("aborted fold must not persist anything")
	}
}

func TestLoadUnknownSubmission(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Engine.Load(env.Ctx, 999)
	var nse *engine.NoSuchSubmissionError
	if !errors.As(err, &nse) || nse.ID != 999 {
		t.Fatalf("expected NoSuchSubmissionError for 999, got %v", err)
	}
}

func TestLoadAt(t *testing.T) {
	env := newTestEnv(t)
	owner := user("u:9")
	sub := newSubmission(t, env, owner, at(0))

	titled := ev(at(1), owner, &events.UpdateMetadata{Updates: []events.MetadataUpdate{
		{Field: "title", Value: "First title"},
	}})
	_, _, err := env.Engine.Save(env.Ctx, sub.ID,
		titled,
		ev(at(2), owner, &events.UpdateMetadata{Updates: []events.MetadataUpdate{
			{Field: "title", Value: "Second title"},
		}}),
	)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	state, pivot, err := env.Engine.LoadAt(env.Ctx, sub.ID, titled.ID())
	if err != nil {
		t.Fatalf("load at: %v", err)
	}
	if pivot.ID() != titled.ID() {
		t.Fatalf("expected pivot event %s", titled.ID())
	}
	if state.Metadata.Title != "First title" {
		t.Fatalf("expected state as of first update, got %q", state.Metadata.Title)
	}

	if _, _, err := env.Engine.LoadAt(env.Ctx, sub.ID, "no-such-event"); !errors.Is(err, engine.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestPreflightCollectsFailures(t *testing.T) {
	env := newTestEnv(t)
	owner := user("u:10")
	sub := newSubmission(t, env, owner, at(0))

	_, err := env.Engine.Preflight(env.Ctx, sub.ID,
		ev(at(1), owner, &events.SelectLicense{}),
		ev(at(2), owner, &events.VerifyContactInformation{}),
		ev(at(3), owner, &events.SetPrimaryClassification{Category: "not.a-category"}),
	)
	var stack *engine.InvalidStackError
	if !errors.As(err, &stack) {
		t.Fatalf("expected InvalidStackError, got %v", err)
	}
	if len(stack.Errors) != 2 {
		t.Fatalf("expected 2 collected failures, got %d", len(stack.Errors))
	}

	// preflight never persists
	loaded, _, err := env.Engine.Load(env.Ctx, sub.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.SubmitterContactVerified {
		t.Fatalf("preflight must not change stored state")
	}
	if countEvents(t, env, sub.ID) != 1 {
		t.Fatalf("preflight must not store events")
	}
}

func TestPreflightValidBatch(t *testing.T) {
	env := newTestEnv(t)
	owner := user("u:11")
	sub := newSubmission(t, env, owner, at(0))

	state, err := env.Engine.Preflight(env.Ctx, sub.ID,
		ev(at(1), owner, &events.VerifyContactInformation{}),
		ev(at(2), owner, &events.AcceptPolicy{}),
	)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if !state.SubmitterContactVerified || !state.SubmitterAcceptsPolicy {
		t.Fatalf("expected projected state from preflight")
	}
	if countEvents(t, env, sub.ID) != 1 {
		t.Fatalf("preflight must not store events")
	}
}
