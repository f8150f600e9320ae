package domain

import (
	"strings"

	dErrors "hustings/pkg/domain-errors"
)

// Position is one of the six contested offices.
// This is a domain primitive that enforces validity at parse time.
type Position string

const (
	PositionPresident              Position = "president"
	PositionDeputyPresident        Position = "deputy-president"
	PositionGeneralSecretary       Position = "general-secretary"
	PositionDeputyGeneralSecretary Position = "deputy-general-secretary"
	PositionTreasurer              Position = "treasurer"
	PositionDeputyTreasurer        Position = "deputy-treasurer"
)

var allPositions = []Position{
	PositionPresident,
	PositionDeputyPresident,
	PositionGeneralSecretary,
	PositionDeputyGeneralSecretary,
	PositionTreasurer,
	PositionDeputyTreasurer,
}

var displayNames = map[Position]string{
	PositionPresident:              "President",
	PositionDeputyPresident:        "Deputy President",
	PositionGeneralSecretary:       "General Secretary",
	PositionDeputyGeneralSecretary: "Deputy General Secretary",
	PositionTreasurer:              "Treasurer",
	PositionDeputyTreasurer:        "Deputy Treasurer",
}

// AllPositions returns the positions in ballot order. The slice is a copy.
func AllPositions() []Position {
	out := make([]Position, len(allPositions))
	copy(out, allPositions)
	return out
}

// ParsePosition accepts a slug ("deputy-president") or a display name
// ("Deputy President"), case-insensitively.
func ParsePosition(s string) (Position, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, " ", "-")
	p := Position(norm)
	if _, ok := displayNames[p]; !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown position: "+s)
	}
	return p, nil
}

// IsValid reports whether p is one of the six positions.
func (p Position) IsValid() bool {
	_, ok := displayNames[p]
	return ok
}

func (p Position) String() string { return string(p) }

// DisplayName returns the human label, or the raw value for unknown positions.
func (p Position) DisplayName() string {
	if name, ok := displayNames[p]; ok {
		return name
	}
	return string(p)
}
