package events

import "papertrail/internal/domain"

// AddDelegate grants another agent authority to edit the submission. Only
// the owner may delegate.
type AddDelegate struct {
	Delegate domain.Agent `json:"delegate"`
}

func (*AddDelegate) Type() string { return TypeAddDelegate }

func (p *AddDelegate) Validate(e *Event, s *domain.Submission) error {
	if err := p.Delegate.Validate(); err != nil {
		return Invalid(e, "delegate: %v", err)
	}
	if !s.OwnedBy(e.Creator) {
		return Invalid(e, "event creator must be submission owner")
	}
	return nil
}

func (p *AddDelegate) Apply(e *Event, s *domain.Submission) *domain.Submission {
	d := domain.Delegation{
		ID:       domain.DelegationID(p.Delegate, e.Creator, e.Created),
		Delegate: p.Delegate,
		Creator:  e.Creator,
		Created:  e.Created,
	}
	if s.Delegations == nil {
		s.Delegations = map[string]domain.Delegation{}
	}
	s.Delegations[d.ID] = d
	return s
}

// RemoveDelegate revokes a delegation by its identifier. Only the owner may
// revoke.
type RemoveDelegate struct {
	DelegationID string `json:"delegation_id"`
}

func (*RemoveDelegate) Type() string { return TypeRemoveDelegate }

func (p *RemoveDelegate) Validate(e *Event, s *domain.Submission) error {
	if p.DelegationID == "" {
		return Invalid(e, "delegation_id is required")
	}
	if !s.OwnedBy(e.Creator) {
		return Invalid(e, "event creator must be submission owner")
	}
	return nil
}

func (p *RemoveDelegate) Apply(e *Event, s *domain.Submission) *domain.Submission {
	delete(s.Delegations, p.DelegationID)
	return s
}
