package models

import (
	"maps"

	"hustings/pkg/domain"
)

// OpenPositions is the voting window: which positions accept ballots now.
// Positions absent from the map are closed.
type OpenPositions map[domain.Position]bool

// IsOpen reports whether ballots may select p.
func (o OpenPositions) IsOpen(p domain.Position) bool {
	return o[p]
}

// Open lists the open positions in ballot order.
func (o OpenPositions) Open() []domain.Position {
	var out []domain.Position
	for _, p := range domain.AllPositions() {
		if o[p] {
			out = append(out, p)
		}
	}
	return out
}

// Complete returns a copy with every position present.
func (o OpenPositions) Complete() OpenPositions {
	out := make(OpenPositions, len(domain.AllPositions()))
	for _, p := range domain.AllPositions() {
		out[p] = o[p]
	}
	return out
}

// Merge returns a copy of o with changes applied.
func (o OpenPositions) Merge(changes OpenPositions) OpenPositions {
	out := o.Complete()
	maps.Copy(out, changes)
	return out
}

// Equal compares the open sets.
func (o OpenPositions) Equal(other OpenPositions) bool {
	for _, p := range domain.AllPositions() {
		if o[p] != other[p] {
			return false
		}
	}
	return true
}
