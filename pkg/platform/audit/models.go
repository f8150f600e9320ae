package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// apply different retention.
type EventCategory string

const (
	// CategoryCompliance covers events that change the election record:
	// ballots, nomination decisions, voting windows.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers refused access and tally integrity alarms.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity.
	CategoryOperations EventCategory = "operations"
)

// EventType names what happened.
type EventType string

const (
	EventNominationCreated           EventType = "nomination_created"
	EventNominationStatusChanged     EventType = "nomination_status_changed"
	EventNominationAcceptanceDecided EventType = "nomination_acceptance_decided"
	EventBallotRecorded              EventType = "ballot_recorded"
	EventBallotRejected              EventType = "ballot_rejected"
	EventBallotPartialCommit         EventType = "ballot_partial_commit"
	EventTallyDriftDetected          EventType = "tally_drift_detected"
	EventTallyRepaired               EventType = "tally_repaired"
	EventVotingSettingsChanged       EventType = "voting_settings_changed"
)

var eventCategories = map[EventType]EventCategory{
	EventBallotRecorded:              CategoryCompliance,
	EventNominationStatusChanged:     CategoryCompliance,
	EventNominationAcceptanceDecided: CategoryCompliance,
	EventVotingSettingsChanged:       CategoryCompliance,
	EventTallyRepaired:               CategoryCompliance,

	EventBallotRejected:      CategorySecurity,
	EventBallotPartialCommit: CategorySecurity,
	EventTallyDriftDetected:  CategorySecurity,

	EventNominationCreated: CategoryOperations,
}

// Category returns the EventCategory for this event type.
// Unknown types default to CategoryOperations.
func (t EventType) Category() EventCategory {
	if cat, ok := eventCategories[t]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
//
// Events never carry voter choices: a ballot_recorded event names the ballot
// and the voter, not the selected candidates.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Subject   string            `json:"subject"`
	Actor     string            `json:"actor,omitempty"`
	Position  string            `json:"position,omitempty"`
	Decision  string            `json:"decision,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Category is shorthand for e.Type.Category().
func (e Event) Category() EventCategory {
	return e.Type.Category()
}

// Publisher accepts events from services.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// Store persists events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Multi fans an event out to every publisher and returns the first error.
// Every publisher is attempted even when an earlier one fails.
type Multi []Publisher

func (m Multi) Emit(ctx context.Context, event Event) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Emit(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Without drops events of the given types before they reach p. Used where a
// store already records those events in its own transaction.
func Without(p Publisher, types ...EventType) Publisher {
	skip := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		skip[t] = struct{}{}
	}
	return without{next: p, skip: skip}
}

type without struct {
	next Publisher
	skip map[EventType]struct{}
}

func (w without) Emit(ctx context.Context, event Event) error {
	if _, ok := w.skip[event.Type]; ok {
		return nil
	}
	return w.next.Emit(ctx, event)
}
