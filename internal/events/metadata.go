package events

import (
	"regexp"
	"strings"

	"papertrail/internal/domain"
)

// MetadataUpdate is one field-value pair in an UpdateMetadata event.
type MetadataUpdate struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// UpdateMetadata sets descriptive metadata fields. Authors are excluded;
// they change only through UpdateAuthors.
type UpdateMetadata struct {
	Updates []MetadataUpdate `json:"updates"`
}

func (*UpdateMetadata) Type() string { return TypeUpdateMetadata }

func (p *UpdateMetadata) Validate(e *Event, s *domain.Submission) error {
	if len(p.Updates) == 0 {
		return Invalid(e, "event data must be a non-empty list of field-value pairs")
	}
	var scratch domain.SubmissionMetadata
	for _, u := range p.Updates {
		if err := scratch.Set(u.Field, u.Value); err != nil {
			return Invalid(e, "%v", err)
		}
	}
	return notFinalized(e, s)
}

func (p *UpdateMetadata) Apply(e *Event, s *domain.Submission) *domain.Submission {
	for _, u := range p.Updates {
		_ = s.Metadata.Set(u.Field, u.Value)
	}
	return s
}

var (
	reSpaces     = regexp.MustCompile(`\s+`)
	reCommas     = regexp.MustCompile(`,(\s*,)+`)
	reOpenParen  = regexp.MustCompile(`(\w)\(`)
	reCloseParen = regexp.MustCompile(`\)(\w)`)
	reAnd        = regexp.MustCompile(`\bA(?i:ND)\b`)
	reEtAl       = regexp.MustCompile(`et al\.?($|\s*\()`)
)

// cleanupAuthors tidies a display string: collapses whitespace and repeated
// commas, spaces out parentheses, and lowercases capitalized "and".
func cleanupAuthors(s string) string {
	s = reSpaces.ReplaceAllString(s, " ")
	s = reCommas.ReplaceAllString(s, ",")
	s = reOpenParen.ReplaceAllString(s, "$1 (")
	s = reCloseParen.ReplaceAllString(s, ") $1")
	s = reAnd.ReplaceAllString(s, "and")
	return strings.TrimSpace(s)
}

// UpdateAuthors replaces the submission's author list. The display string
// may be supplied; when absent it is derived from the listed authors.
type UpdateAuthors struct {
	Authors        []domain.Author `json:"authors"`
	AuthorsDisplay string          `json:"authors_display,omitempty"`
}

func (*UpdateAuthors) Type() string { return TypeUpdateAuthors }

// display returns the cleaned display string, deriving one from the author
// list when none was supplied.
func (p *UpdateAuthors) display() string {
	display := p.AuthorsDisplay
	if display == "" {
		names := make([]string, len(p.Authors))
		for i, au := range p.Authors {
			names[i] = au.DisplayName()
		}
		display = strings.Join(names, ", ")
	}
	return cleanupAuthors(display)
}

func (p *UpdateAuthors) Validate(e *Event, s *domain.Submission) error {
	if err := notFinalized(e, s); err != nil {
		return err
	}
	if d := p.display(); d != "" && reEtAl.MatchString(d) {
		return Invalid(e, "authors should not contain et al.")
	}
	return nil
}

func (p *UpdateAuthors) Apply(e *Event, s *domain.Submission) *domain.Submission {
	authors := make([]domain.Author, len(p.Authors))
	for i, au := range p.Authors {
		au.DeriveIdentifier()
		if au.Display == "" {
			au.Display = au.Canonical()
		}
		authors[i] = au
	}
	s.Metadata.Authors = authors
	s.Metadata.AuthorsDisplay = p.display()
	return s
}
