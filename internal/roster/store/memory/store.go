package memory

import (
	"context"
	"sort"
	"sync"

	"hustings/internal/roster/models"
)

// InMemoryStore keeps roster organizations keyed by name.
type InMemoryStore struct {
	mu   sync.RWMutex
	orgs map[string]models.Organization
}

func New() *InMemoryStore {
	return &InMemoryStore{orgs: make(map[string]models.Organization)}
}

// Upsert replaces the organization and its voters.
func (s *InMemoryStore) Upsert(_ context.Context, org models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	org.Voters = append([]models.Voter(nil), org.Voters...)
	s.orgs[org.Name] = org
	return nil
}

// ListApproved returns voters of approved organizations ordered by
// organization name, then roster order.
func (s *InMemoryStore) ListApproved(_ context.Context) ([]models.Voter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.orgs))
	for name := range s.orgs {
		names = append(names, name)
	}
	sort.Strings(names)
	orgs := make([]models.Organization, 0, len(names))
	for _, name := range names {
		orgs = append(orgs, s.orgs[name])
	}
	return models.Flatten(orgs), nil
}
