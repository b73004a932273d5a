package events

import (
	"strings"

	"papertrail/internal/domain"
)

// CreateComment attaches a freeform annotation to the submission. Comment
// identifiers derive from (created, creator), so replays are stable.
type CreateComment struct {
	Body  string `json:"body"`
	Scope string `json:"scope,omitempty" enum:"private,public" default:"private"`
}

func (*CreateComment) Type() string { return TypeCreateComment }

func (p *CreateComment) Validate(e *Event, s *domain.Submission) error {
	if strings.TrimSpace(p.Body) == "" {
		return Invalid(e, "comment body is required")
	}
	return nil
}

func (p *CreateComment) Apply(e *Event, s *domain.Submission) *domain.Submission {
	scope := p.Scope
	if scope == "" {
		scope = "private"
	}
	c := domain.Comment{
		ID:      domain.CommentID(e.Created, e.Creator),
		Creator: e.Creator,
		Proxy:   e.Proxy,
		Created: e.Created,
		Scope:   scope,
		Body:    p.Body,
	}
	if s.Comments == nil {
		s.Comments = map[string]domain.Comment{}
	}
	s.Comments[c.ID] = c
	return s
}

// DeleteComment removes an annotation by its identifier.
type DeleteComment struct {
	CommentID string `json:"comment_id"`
}

func (*DeleteComment) Type() string { return TypeDeleteComment }

func (p *DeleteComment) Validate(e *Event, s *domain.Submission) error {
	if p.CommentID == "" {
		return Invalid(e, "comment_id is required")
	}
	if s == nil || s.Comments == nil {
		return Invalid(e, "cannot delete comment that does not exist")
	}
	if _, ok := s.Comments[p.CommentID]; !ok {
		return Invalid(e, "cannot delete comment that does not exist")
	}
	return nil
}

func (p *DeleteComment) Apply(e *Event, s *domain.Submission) *domain.Submission {
	delete(s.Comments, p.CommentID)
	return s
}
