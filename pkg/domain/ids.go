package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "hustings/pkg/domain-errors"
)

// NominationID identifies one nominee-position pairing.
type NominationID uuid.UUID

// BallotID identifies one recorded ballot.
type BallotID uuid.UUID

// NewNominationID returns a random nomination ID.
func NewNominationID() NominationID { return NominationID(uuid.New()) }

// NewBallotID returns a random ballot ID.
func NewBallotID() BallotID { return BallotID(uuid.New()) }

// ParseNominationID validates s as a non-nil UUID.
func ParseNominationID(s string) (NominationID, error) {
	u, err := parseUUID(s, "nomination id")
	return NominationID(u), err
}

// ParseBallotID validates s as a non-nil UUID.
func ParseBallotID(s string) (BallotID, error) {
	u, err := parseUUID(s, "ballot id")
	return BallotID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	// uuid.Parse accepts urn and braced forms; only the canonical form is allowed.
	if len(s) != 36 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" must not be nil")
	}
	return u, nil
}

func (id NominationID) String() string { return uuid.UUID(id).String() }
func (id NominationID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id NominationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *NominationID) UnmarshalText(b []byte) error {
	parsed, err := ParseNominationID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id BallotID) String() string { return uuid.UUID(id).String() }
func (id BallotID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id BallotID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *BallotID) UnmarshalText(b []byte) error {
	parsed, err := ParseBallotID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
