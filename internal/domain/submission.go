package domain

import (
	"fmt"
	"strings"
	"time"
)

// Classification places a submission in the taxonomy. Two classifications
// are the same when their category IDs match.
type Classification struct {
	Domain   string `json:"domain,omitempty"`
	Archive  string `json:"archive,omitempty"`
	Category string `json:"category"`
}

type License struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

// Author is one entry in a submission's author list.
type Author struct {
	Order       int    `json:"order"`
	Forename    string `json:"forename,omitempty"`
	Surname     string `json:"surname,omitempty"`
	Initials    string `json:"initials,omitempty"`
	Affiliation string `json:"affiliation,omitempty"`
	Email       string `json:"email,omitempty"`
	Identifier  string `json:"identifier,omitempty"`
	Display     string `json:"display,omitempty"`
}

// Canonical renders the author as "Forename Initials Surname (Affiliation)".
func (a Author) Canonical() string {
	name := strings.Join(strings.Fields(a.Forename+" "+a.Initials+" "+a.Surname), " ")
	if a.Affiliation != "" {
		return fmt.Sprintf("%s (%s)", name, a.Affiliation)
	}
	return name
}

// DisplayName prefers the explicit display string, falling back to the
// canonical form.
func (a Author) DisplayName() string {
	if a.Display != "" {
		return a.Display
	}
	return a.Canonical()
}

// DeriveIdentifier fills the identifier from the author's name fields when
// one was not supplied.
func (a *Author) DeriveIdentifier() {
	if a.Identifier == "" {
		a.Identifier = DeterministicID(a.Forename, a.Surname, a.Initials, a.Affiliation, a.Email)
	}
}

// MetadataFields lists the descriptive fields settable through the generic
// metadata update path.
var MetadataFields = []string{
	"title", "abstract", "doi", "msc_class", "acm_class", "report_num", "journal_ref",
}

type SubmissionMetadata struct {
	Title          string   `json:"title,omitempty"`
	Abstract       string   `json:"abstract,omitempty"`
	Authors        []Author `json:"authors,omitempty"`
	AuthorsDisplay string   `json:"authors_display,omitempty"`
	DOI            string   `json:"doi,omitempty"`
	MSCClass       string   `json:"msc_class,omitempty"`
	ACMClass       string   `json:"acm_class,omitempty"`
	ReportNum      string   `json:"report_num,omitempty"`
	JournalRef     string   `json:"journal_ref,omitempty"`
}

// Set assigns one named metadata field. Unknown fields are rejected.
func (m *SubmissionMetadata) Set(field, value string) error {
	switch field {
	case "title":
		m.Title = value
	case "abstract":
		m.Abstract = value
	case "doi":
		m.DOI = value
	case "msc_class":
		m.MSCClass = value
	case "acm_class":
		m.ACMClass = value
	case "report_num":
		m.ReportNum = value
	case "journal_ref":
		m.JournalRef = value
	default:
		return fmt.Errorf("unknown metadata field %q", field)
	}
	return nil
}

// Comment is a freeform annotation attached to a submission. Its ID is a
// pure function of (created, creator), like an event ID.
type Comment struct {
	ID      string    `json:"id"`
	Creator Agent     `json:"creator"`
	Proxy   *Agent    `json:"proxy,omitempty"`
	Created time.Time `json:"created" format:"date-time"`
	Scope   string    `json:"scope,omitempty" enum:"private,public"`
	Body    string    `json:"body"`
}

// Delegation grants editing authority to an agent other than the owner.
type Delegation struct {
	ID       string    `json:"id"`
	Delegate Agent     `json:"delegate"`
	Creator  Agent     `json:"creator"`
	Created  time.Time `json:"created" format:"date-time"`
}

// Submission is the aggregate projected from an event history. Callers never
// mutate it directly; state changes only through event application.
type Submission struct {
	ID                       int64                 `json:"submission_id,omitempty"`
	Creator                  Agent                 `json:"creator"`
	Owner                    Agent                 `json:"owner"`
	Proxy                    *Agent                `json:"proxy,omitempty"`
	Created                  time.Time             `json:"created" format:"date-time"`
	Updated                  time.Time             `json:"updated" format:"date-time"`
	Metadata                 SubmissionMetadata    `json:"metadata"`
	PrimaryClassification    *Classification       `json:"primary_classification,omitempty"`
	SecondaryClassification  []Classification      `json:"secondary_classification,omitempty"`
	License                  *License              `json:"license,omitempty"`
	SubmitterIsAuthor        bool                  `json:"submitter_is_author"`
	SubmitterAcceptsPolicy   bool                  `json:"submitter_accepts_policy"`
	SubmitterContactVerified bool                  `json:"submitter_contact_verified"`
	Delegations              map[string]Delegation `json:"delegations,omitempty"`
	Comments                 map[string]Comment    `json:"comments,omitempty"`
	Active                   bool                  `json:"active"`
	Finalized                bool                  `json:"finalized"`
	Published                bool                  `json:"published"`
}

// NewSubmission builds the initial aggregate state for a creation event.
// The creator starts as owner.
func NewSubmission(creator Agent, proxy *Agent, created time.Time) *Submission {
	return &Submission{
		Creator:           creator,
		Owner:             creator,
		Proxy:             proxy,
		Created:           created,
		SubmitterIsAuthor: true,
		Delegations:       map[string]Delegation{},
		Comments:          map[string]Comment{},
		Active:            true,
	}
}

// HasSecondary reports whether the category is in the secondary set.
func (s *Submission) HasSecondary(category string) bool {
	for _, c := range s.SecondaryClassification {
		if c.Category == category {
			return true
		}
	}
	return false
}

// OwnedBy reports whether the agent is the submission owner.
func (s *Submission) OwnedBy(a Agent) bool {
	return s.Owner.Equals(a)
}

// DelegatedTo reports whether the agent currently holds a delegation.
func (s *Submission) DelegatedTo(a Agent) bool {
	for _, d := range s.Delegations {
		if d.Delegate.Equals(a) {
			return true
		}
	}
	return false
}
