package models

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"

	"hustings/pkg/domain"
	dErrors "hustings/pkg/domain-errors"
	"hustings/pkg/email"
)

const (
	NominationSelf       = "self"
	NominationThirdParty = "third-party"
)

// NominationRequest is the intake form and the bulk upload row. Decoding is
// strict: unknown fields are rejected rather than stored.
type NominationRequest struct {
	NominatorFirstName        string `json:"nominatorFirstName"`
	NominatorSurname          string `json:"nominatorSurname"`
	NominatorEmail            string `json:"nominatorEmail"`
	NominatorPhone            string `json:"nominatorPhone"`
	NominatorMembershipNumber string `json:"nominatorMembershipNumber"`
	SelfNomination            string `json:"selfNomination"`

	PositionNominated string          `json:"positionNominated"`
	FirstName         string          `json:"firstName"`
	Surname           string          `json:"surname"`
	Email             string          `json:"email"`
	Phone             string          `json:"phone"`
	JobTitle          string          `json:"jobTitle"`
	MembershipNumber  string          `json:"membershipNumber"`
	CVBioText         string          `json:"cvBioText,omitempty"`
	CVBioLink         string          `json:"cvBioLink,omitempty"`
	Qualifications    []Qualification `json:"qualifications,omitempty"`
	ProfileImage      string          `json:"profileImage,omitempty"`
	Attachments       []Attachment    `json:"attachments,omitempty"`
}

// Normalize trims every free-text field in place.
func (r *NominationRequest) Normalize() {
	for _, f := range []*string{
		&r.NominatorFirstName, &r.NominatorSurname, &r.NominatorEmail, &r.NominatorPhone,
		&r.NominatorMembershipNumber, &r.SelfNomination, &r.PositionNominated,
		&r.FirstName, &r.Surname, &r.Email, &r.Phone, &r.JobTitle, &r.MembershipNumber,
		&r.CVBioText, &r.CVBioLink, &r.ProfileImage,
	} {
		*f = strings.TrimSpace(*f)
	}
	r.SelfNomination = strings.ToLower(r.SelfNomination)
}

// Validate reports every missing or malformed field at once.
func (r *NominationRequest) Validate() error {
	var fields []dErrors.FieldError
	required := func(name, value string) {
		if value == "" {
			fields = append(fields, dErrors.FieldError{Field: name, Message: "required"})
		}
	}
	required("nominatorFirstName", r.NominatorFirstName)
	required("nominatorSurname", r.NominatorSurname)
	required("nominatorEmail", r.NominatorEmail)
	required("nominatorPhone", r.NominatorPhone)
	required("nominatorMembershipNumber", r.NominatorMembershipNumber)
	required("selfNomination", r.SelfNomination)
	required("positionNominated", r.PositionNominated)
	required("firstName", r.FirstName)
	required("surname", r.Surname)
	required("email", r.Email)
	required("phone", r.Phone)
	required("jobTitle", r.JobTitle)
	required("membershipNumber", r.MembershipNumber)

	if r.SelfNomination != "" && r.SelfNomination != NominationSelf && r.SelfNomination != NominationThirdParty {
		fields = append(fields, dErrors.FieldError{Field: "selfNomination", Message: "must be self or third-party"})
	}
	if r.PositionNominated != "" {
		if _, err := domain.ParsePosition(r.PositionNominated); err != nil {
			fields = append(fields, dErrors.FieldError{Field: "positionNominated", Message: "unknown position"})
		}
	}
	if r.Email != "" && !email.Valid(r.Email) {
		fields = append(fields, dErrors.FieldError{Field: "email", Message: "invalid email"})
	}
	if r.NominatorEmail != "" && !email.Valid(r.NominatorEmail) {
		fields = append(fields, dErrors.FieldError{Field: "nominatorEmail", Message: "invalid email"})
	}
	if r.CVBioText == "" && r.CVBioLink == "" {
		fields = append(fields, dErrors.FieldError{Field: "cvBioText", Message: "biography text or link required"})
	}
	if r.CVBioLink != "" && !absoluteURL(r.CVBioLink) {
		fields = append(fields, dErrors.FieldError{Field: "cvBioLink", Message: "must be an absolute URL"})
	}
	for _, a := range r.Attachments {
		if strings.TrimSpace(a.Name) == "" || !absoluteURL(a.URL) {
			fields = append(fields, dErrors.FieldError{Field: "attachments", Message: "each attachment needs a name and an absolute URL"})
			break
		}
	}
	if len(fields) > 0 {
		return dErrors.NewValidation(fields...)
	}
	return nil
}

// Parts splits a validated request into nominee and nominator.
func (r *NominationRequest) Parts() (Nominee, Nominator) {
	position, _ := domain.ParsePosition(r.PositionNominated)
	nominee := Nominee{
		FirstName:      r.FirstName,
		Surname:        r.Surname,
		Email:          r.Email,
		Phone:          r.Phone,
		JobTitle:       r.JobTitle,
		Organization:   r.MembershipNumber,
		Position:       position,
		Qualifications: r.Qualifications,
		Biography:      r.CVBioText,
		BiographyLink:  r.CVBioLink,
		ProfileImage:   r.ProfileImage,
		Attachments:    r.Attachments,
	}
	nominator := Nominator{
		FirstName:     r.NominatorFirstName,
		Surname:       r.NominatorSurname,
		Email:         r.NominatorEmail,
		Phone:         r.NominatorPhone,
		Membership:    r.NominatorMembershipNumber,
		SelfNominated: r.SelfNomination == NominationSelf,
	}
	return nominee, nominator
}

func absoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// StatusRequest is the admin review body.
type StatusRequest struct {
	Status string `json:"status"`
}

// AcceptanceRequest is the nominee's answer.
type AcceptanceRequest struct {
	Decision string `json:"decision"`
}

// BulkResult reports one bulk upload row. Rows are numbered from 1.
type BulkResult struct {
	Row            int                  `json:"row"`
	ID             string               `json:"id,omitempty"`
	AcceptanceLink string               `json:"acceptanceLink,omitempty"`
	Error          string               `json:"error,omitempty"`
	Fields         []dErrors.FieldError `json:"fields,omitempty"`
}

// BulkReport is the outcome of a bulk upload; valid rows are created even
// when others fail.
type BulkReport struct {
	Created int          `json:"created"`
	Failed  int          `json:"failed"`
	Rows    []BulkResult `json:"rows"`
}

// DecodeNominationRequest strictly decodes one bulk upload row.
func DecodeNominationRequest(raw []byte) (*NominationRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var req NominationRequest
	if err := dec.Decode(&req); err != nil {
		if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
			return nil, dErrors.NewValidation(dErrors.FieldError{Field: strings.Trim(field, `"`), Message: "unknown field"})
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed row")
	}
	return &req, nil
}
