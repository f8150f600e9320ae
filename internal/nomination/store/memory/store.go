package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"hustings/internal/nomination/models"
	"hustings/pkg/domain"
	"hustings/pkg/platform/sentinel"
)

// InMemory keeps nominations in a map. Reads return copies so callers never
// observe later writes.
type InMemory struct {
	mu    sync.RWMutex
	items map[domain.NominationID]*models.Nomination
}

func NewInMemory() *InMemory {
	return &InMemory{items: make(map[domain.NominationID]*models.Nomination)}
}

func (s *InMemory) Create(_ context.Context, n *models.Nomination) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[n.ID]; exists {
		return fmt.Errorf("nomination %s: %w", n.ID, sentinel.ErrAlreadyUsed)
	}
	s.items[n.ID] = clone(n)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.NominationID) (*models.Nomination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.items[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(n), nil
}

// List returns matches newest first, ties broken by id.
func (s *InMemory) List(_ context.Context, filter models.Filter) ([]*models.Nomination, error) {
	s.mu.RLock()
	out := make([]*models.Nomination, 0, len(s.items))
	for _, n := range s.items {
		if filter.Matches(n) {
			out = append(out, clone(n))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// UpdateStatus sets status only while the stored value still equals from.
func (s *InMemory) UpdateStatus(_ context.Context, id domain.NominationID, from, to models.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if n.Status != from {
		return sentinel.ErrConflict
	}
	n.Status = to
	n.UpdatedAt = at
	return nil
}

// UpdateAcceptance sets the acceptance only while it still equals from.
func (s *InMemory) UpdateAcceptance(_ context.Context, id domain.NominationID, from, to models.Acceptance, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if n.AcceptanceStatus != from {
		return sentinel.ErrConflict
	}
	n.AcceptanceStatus = to
	n.UpdatedAt = at
	return nil
}

// SetAcceptanceTokenIfAbsent stores token unless one exists and returns the
// token that is stored afterwards.
func (s *InMemory) SetAcceptanceTokenIfAbsent(_ context.Context, id domain.NominationID, token string, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	if n.AcceptanceToken == "" {
		n.AcceptanceToken = token
		n.UpdatedAt = at
	}
	return n.AcceptanceToken, nil
}

// IncrementVotes adds one vote to each id, or to none when any id is unknown.
func (s *InMemory) IncrementVotes(_ context.Context, ids []domain.NominationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.items[id]; !ok {
			return fmt.Errorf("nomination %s: %w", id, sentinel.ErrNotFound)
		}
	}
	for _, id := range ids {
		s.items[id].Votes++
	}
	return nil
}

// Counters returns the vote counter of every nomination.
func (s *InMemory) Counters(_ context.Context) (map[domain.NominationID]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.NominationID]int64, len(s.items))
	for id, n := range s.items {
		out[id] = n.Votes
	}
	return out, nil
}

// SetVotes overwrites counters; used by tally repair.
func (s *InMemory) SetVotes(_ context.Context, votes map[domain.NominationID]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range votes {
		if n, ok := s.items[id]; ok {
			n.Votes = v
		}
	}
	return nil
}

func clone(n *models.Nomination) *models.Nomination {
	c := *n
	c.Nominee.Qualifications = append([]models.Qualification(nil), n.Nominee.Qualifications...)
	c.Nominee.Attachments = append([]models.Attachment(nil), n.Nominee.Attachments...)
	return &c
}
