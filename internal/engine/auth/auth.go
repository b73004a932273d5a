// Package auth decides who may read or change a submission. Identity
// resolution (tokens, client keys) lives in the server layer; the checks
// here operate on the projected submission state alone.
package auth

import (
	"fmt"

	"papertrail/internal/domain"
)

// Scopes carried by bearer tokens and client keys.
const (
	ScopeSubmissionRead  = "submission:read"
	ScopeSubmissionWrite = "submission:write"
	ScopeRulesWrite      = "rules:write"
	ScopeAdmin           = "admin"
)

// DefaultUserScopes are granted to agents authenticated by the trusted
// user header, which carries no scope claims of its own.
var DefaultUserScopes = []string{ScopeSubmissionRead, ScopeSubmissionWrite}

// Principal is an authenticated caller: the agent it acts as plus the
// scopes its credential grants.
type Principal struct {
	Agent  domain.Agent
	Proxy  *domain.Agent
	Scopes []string
}

func (p Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope || s == ScopeAdmin {
			return true
		}
	}
	return false
}

// ForbiddenError indicates the principal may not perform the action.
type ForbiddenError struct {
	Agent  domain.Agent
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("agent %s may not %s", e.Agent.Identifier(), e.Action)
}

// CheckRead permits reading a submission to its owner, a delegate, any
// system agent, or a caller holding the admin scope.
func CheckRead(p Principal, s *domain.Submission) error {
	if !p.HasScope(ScopeSubmissionRead) {
		return ForbiddenError{Agent: p.Agent, Action: "read submissions"}
	}
	if s == nil || canAct(p, s) {
		return nil
	}
	return ForbiddenError{Agent: p.Agent, Action: fmt.Sprintf("read submission %d", s.ID)}
}

// CheckWrite permits appending events to a submission. A nil submission
// means creation, which any caller with the write scope may do; an
// existing submission additionally requires the caller to be its owner,
// one of its delegates, a system agent, or an admin.
func CheckWrite(p Principal, s *domain.Submission) error {
	if !p.HasScope(ScopeSubmissionWrite) {
		return ForbiddenError{Agent: p.Agent, Action: "write submissions"}
	}
	if s == nil || canAct(p, s) {
		return nil
	}
	return ForbiddenError{Agent: p.Agent, Action: fmt.Sprintf("write submission %d", s.ID)}
}

// CheckRules permits managing the rule repository.
func CheckRules(p Principal) error {
	if p.HasScope(ScopeRulesWrite) || p.Agent.Type == domain.AgentSystem {
		return nil
	}
	return ForbiddenError{Agent: p.Agent, Action: "manage rules"}
}

func canAct(p Principal, s *domain.Submission) bool {
	if p.Agent.Type == domain.AgentSystem || p.HasScope(ScopeAdmin) {
		return true
	}
	return s.OwnedBy(p.Agent) || s.DelegatedTo(p.Agent)
}
