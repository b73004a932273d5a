package events

import (
	"papertrail/internal/domain"
	"papertrail/internal/taxonomy"
)

// SetPrimaryClassification replaces the primary classification of a
// submission.
type SetPrimaryClassification struct {
	Category string `json:"category"`
}

func (*SetPrimaryClassification) Type() string { return TypeSetPrimaryClassification }

func (p *SetPrimaryClassification) Validate(e *Event, s *domain.Submission) error {
	if p.Category == "" || !taxonomy.Valid(p.Category) {
		return Invalid(e, "not a valid category")
	}
	if s.HasSecondary(p.Category) {
		return Invalid(e, "the same category cannot be used as both the primary and a secondary category")
	}
	return notFinalized(e, s)
}

func (p *SetPrimaryClassification) Apply(e *Event, s *domain.Submission) *domain.Submission {
	clsn, _ := taxonomy.Classification(p.Category)
	s.PrimaryClassification = &clsn
	return s
}

// AddSecondaryClassification appends a secondary classification. Insertion
// order is preserved across replays.
type AddSecondaryClassification struct {
	Category string `json:"category"`
}

func (*AddSecondaryClassification) Type() string { return TypeAddSecondaryClassification }

func (p *AddSecondaryClassification) Validate(e *Event, s *domain.Submission) error {
	if p.Category == "" || !taxonomy.Valid(p.Category) {
		return Invalid(e, "not a valid category")
	}
	if s.PrimaryClassification != nil && s.PrimaryClassification.Category == p.Category {
		return Invalid(e, "the same category cannot be used as both the primary and a secondary category")
	}
	if s.HasSecondary(p.Category) {
		return Invalid(e, "secondary %s already set on this submission", p.Category)
	}
	return notFinalized(e, s)
}

func (p *AddSecondaryClassification) Apply(e *Event, s *domain.Submission) *domain.Submission {
	clsn, _ := taxonomy.Classification(p.Category)
	s.SecondaryClassification = append(s.SecondaryClassification, clsn)
	return s
}

// RemoveSecondaryClassification removes a secondary classification that is
// currently set.
type RemoveSecondaryClassification struct {
	Category string `json:"category"`
}

func (*RemoveSecondaryClassification) Type() string { return TypeRemoveSecondaryClassification }

func (p *RemoveSecondaryClassification) Validate(e *Event, s *domain.Submission) error {
	if p.Category == "" || !taxonomy.Valid(p.Category) {
		return Invalid(e, "not a valid category")
	}
	if !s.HasSecondary(p.Category) {
		return Invalid(e, "no such category on submission")
	}
	return notFinalized(e, s)
}

func (p *RemoveSecondaryClassification) Apply(e *Event, s *domain.Submission) *domain.Submission {
	kept := make([]domain.Classification, 0, len(s.SecondaryClassification))
	for _, c := range s.SecondaryClassification {
		if c.Category != p.Category {
			kept = append(kept, c)
		}
	}
	s.SecondaryClassification = kept
	return s
}
