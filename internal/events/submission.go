package events

import (
	"papertrail/internal/domain"
)

// notFinalized rejects events that cannot apply once a submission has been
// finalized for announcement.
func notFinalized(e *Event, s *domain.Submission) error {
	if s != nil && s.Finalized {
		return Invalid(e, "cannot apply to a finalized submission")
	}
	return nil
}

// CreateSubmission opens a new submission. The event's creator becomes both
// creator and owner of the aggregate.
type CreateSubmission struct{}

func (*CreateSubmission) Type() string { return TypeCreateSubmission }

func (*CreateSubmission) Validate(e *Event, s *domain.Submission) error { return nil }

func (*CreateSubmission) Apply(e *Event, s *domain.Submission) *domain.Submission {
	return domain.NewSubmission(e.Creator, e.Proxy, e.Created)
}

// RemoveSubmission deactivates a submission. Submissions are never deleted,
// only marked inactive.
type RemoveSubmission struct{}

func (*RemoveSubmission) Type() string { return TypeRemoveSubmission }

func (*RemoveSubmission) Validate(e *Event, s *domain.Submission) error { return nil }

func (*RemoveSubmission) Apply(e *Event, s *domain.Submission) *domain.Submission {
	s.Active = false
	return s
}

// VerifyContactInformation records that the submitter confirmed their
// contact details.
type VerifyContactInformation struct{}

func (*VerifyContactInformation) Type() string { return TypeVerifyContactInformation }

func (*VerifyContactInformation) Validate(e *Event, s *domain.Submission) error {
	return notFinalized(e, s)
}

func (*VerifyContactInformation) Apply(e *Event, s *domain.Submission) *domain.Submission {
	s.SubmitterContactVerified = true
	return s
}

// AssertAuthorship records whether the submitting user claims authorship of
// the paper.
type AssertAuthorship struct {
	SubmitterIsAuthor bool `json:"submitter_is_author"`
}

func (*AssertAuthorship) Type() string { return TypeAssertAuthorship }

func (*AssertAuthorship) Validate(e *Event, s *domain.Submission) error {
	return notFinalized(e, s)
}

func (p *AssertAuthorship) Apply(e *Event, s *domain.Submission) *domain.Submission {
	s.SubmitterIsAuthor = p.SubmitterIsAuthor
	return s
}

// AcceptPolicy records acceptance of the platform's submission policy.
type AcceptPolicy struct{}

func (*AcceptPolicy) Type() string { return TypeAcceptPolicy }

func (*AcceptPolicy) Validate(e *Event, s *domain.Submission) error {
	return notFinalized(e, s)
}

func (*AcceptPolicy) Apply(e *Event, s *domain.Submission) *domain.Submission {
	s.SubmitterAcceptsPolicy = true
	return s
}

// SelectLicense sets the distribution license for the submission.
type SelectLicense struct {
	LicenseName string `json:"license_name,omitempty"`
	LicenseURI  string `json:"license_uri"`
}

func (*SelectLicense) Type() string { return TypeSelectLicense }

func (p *SelectLicense) Validate(e *Event, s *domain.Submission) error {
	if err := notFinalized(e, s); err != nil {
		return err
	}
	if p.LicenseURI == "" {
		return Invalid(e, "license URI required")
	}
	return nil
}

func (p *SelectLicense) Apply(e *Event, s *domain.Submission) *domain.Submission {
	s.License = &domain.License{URI: p.LicenseURI, Name: p.LicenseName}
	return s
}

// FinalizeSubmission sends the submission to the announcement queue. All
// required steps must be complete.
type FinalizeSubmission struct{}

func (*FinalizeSubmission) Type() string { return TypeFinalizeSubmission }

func (p *FinalizeSubmission) Validate(e *Event, s *domain.Submission) error {
	if s.Finalized {
		return Invalid(e, "submission already finalized")
	}
	if !s.Active {
		return Invalid(e, "submission must be active")
	}
	switch {
	case s.PrimaryClassification == nil:
		return Invalid(e, "missing primary classification")
	case !s.SubmitterContactVerified:
		return Invalid(e, "submitter contact information not verified")
	case !s.SubmitterAcceptsPolicy:
		return Invalid(e, "submission policy not accepted")
	case s.License == nil:
		return Invalid(e, "missing license")
	case s.Metadata.Title == "":
		return Invalid(e, "missing title")
	case s.Metadata.Abstract == "":
		return Invalid(e, "missing abstract")
	case len(s.Metadata.Authors) == 0:
		return Invalid(e, "missing authors")
	}
	return nil
}

func (*FinalizeSubmission) Apply(e *Event, s *domain.Submission) *domain.Submission {
	s.Finalized = true
	return s
}

// UnFinalizeSubmission withdraws the submission from the announcement queue.
type UnFinalizeSubmission struct{}

func (*UnFinalizeSubmission) Type() string { return TypeUnFinalizeSubmission }

func (p *UnFinalizeSubmission) Validate(e *Event, s *domain.Submission) error {
	if !s.Finalized {
		return Invalid(e, "submission is not finalized")
	}
	return nil
}

func (*UnFinalizeSubmission) Apply(e *Event, s *domain.Submission) *domain.Submission {
	s.Finalized = false
	return s
}
