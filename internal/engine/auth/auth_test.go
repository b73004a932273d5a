package auth_test

import (
	"testing"
	"time"

	"papertrail/internal/domain"
	"papertrail/internal/engine/auth"
)

func submission(owner domain.Agent, delegates ...domain.Agent) *domain.Submission {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := domain.NewSubmission(owner, nil, created)
	s.ID = 7
	for _, d := range delegates {
		del := domain.Delegation{
			ID:       domain.DelegationID(d, owner, created),
			Delegate: d,
			Creator:  owner,
			Created:  created,
		}
		s.Delegations[del.ID] = del
	}
	return s
}

func TestOwnerMayWrite(t *testing.T) {
	owner := domain.Agent{Type: domain.AgentUser, NativeID: "u:1"}
	p := auth.Principal{Agent: owner, Scopes: auth.DefaultUserScopes}
	if err := auth.CheckWrite(p, submission(owner)); err != nil {
		t.Fatalf("owner write: %v", err)
	}
	if err := auth.CheckRead(p, submission(owner)); err != nil {
		t.Fatalf("owner read: %v", err)
	}
}

func TestStrangerMayNotWrite(t *testing.T) {
	owner := domain.Agent{Type: domain.AgentUser, NativeID: "u:1"}
	stranger := domain.Agent{Type: domain.AgentUser, NativeID: "u:2"}
	p := auth.Principal{Agent: stranger, Scopes: auth.DefaultUserScopes}
	err := auth.CheckWrite(p, submission(owner))
	if _, ok := err.(auth.ForbiddenError); !ok {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
}

func TestDelegateMayWrite(t *testing.T) {
	owner := domain.Agent{Type: domain.AgentUser, NativeID: "u:1"}
	delegate := domain.Agent{Type: domain.AgentUser, NativeID: "u:2"}
	p := auth.Principal{Agent: delegate, Scopes: auth.DefaultUserScopes}
	if err := auth.CheckWrite(p, submission(owner, delegate)); err != nil {
		t.Fatalf("delegate write: %v", err)
	}
}

func TestCreationNeedsOnlyScope(t *testing.T) {
	p := auth.Principal{Agent: domain.Agent{Type: domain.AgentUser, NativeID: "u:9"}, Scopes: auth.DefaultUserScopes}
	if err := auth.CheckWrite(p, nil); err != nil {
		t.Fatalf("creation write: %v", err)
	}
	bare := auth.Principal{Agent: p.Agent}
	if err := auth.CheckWrite(bare, nil); err == nil {
		t.Fatalf("expected scope failure")
	}
}

func TestAdminAndSystemBypassOwnership(t *testing.T) {
	owner := domain.Agent{Type: domain.AgentUser, NativeID: "u:1"}
	sys := auth.Principal{
		Agent:  domain.SystemAgent(""),
		Scopes: []string{auth.ScopeSubmissionWrite},
	}
	if err := auth.CheckWrite(sys, submission(owner)); err != nil {
		t.Fatalf("system write: %v", err)
	}
	admin := auth.Principal{
		Agent:  domain.Agent{Type: domain.AgentClient, NativeID: "ops"},
		Scopes: []string{auth.ScopeAdmin},
	}
	if err := auth.CheckWrite(admin, submission(owner)); err != nil {
		t.Fatalf("admin write: %v", err)
	}
	if err := auth.CheckRules(admin); err != nil {
		t.Fatalf("admin rules: %v", err)
	}
}

func TestRulesNeedRulesScope(t *testing.T) {
	p := auth.Principal{
		Agent:  domain.Agent{Type: domain.AgentUser, NativeID: "u:1"},
		Scopes: auth.DefaultUserScopes,
	}
	if err := auth.CheckRules(p); err == nil {
		t.Fatalf("expected rules scope failure")
	}
	p.Scopes = append(p.Scopes, auth.ScopeRulesWrite)
	if err := auth.CheckRules(p); err != nil {
		t.Fatalf("rules write: %v", err)
	}
}
