package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"hustings/internal/ballot/models"
	"hustings/pkg/domain"
	"hustings/pkg/platform/sentinel"
)

// Counters is the vote counter primitive of the nomination store.
type Counters interface {
	IncrementVotes(ctx context.Context, ids []domain.NominationID) error
	Counters(ctx context.Context) (map[domain.NominationID]int64, error)
	SetVotes(ctx context.Context, votes map[domain.NominationID]int64) error
}

// InMemory is a ledger for development and tests. One mutex serialises
// commits, so a ballot and its increments land together.
type InMemory struct {
	mu       sync.Mutex
	counters Counters
	byID     map[domain.BallotID]*models.Ballot
	byEmail  map[string]domain.BallotID
	byKey    map[string]domain.BallotID
}

func New(counters Counters) *InMemory {
	return &InMemory{
		counters: counters,
		byID:     make(map[domain.BallotID]*models.Ballot),
		byEmail:  make(map[string]domain.BallotID),
		byKey:    make(map[string]domain.BallotID),
	}
}

func (l *InMemory) Commit(ctx context.Context, b *models.Ballot) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byID[b.ID]; ok {
		return nil
	}
	if _, ok := l.byEmail[b.EmailKey()]; ok {
		return fmt.Errorf("voter email: %w", sentinel.ErrAlreadyUsed)
	}
	if _, ok := l.byKey[b.IdempotencyKey]; ok {
		return fmt.Errorf("idempotency key: %w", sentinel.ErrAlreadyUsed)
	}
	if err := l.counters.IncrementVotes(ctx, b.NominationIDs()); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return fmt.Errorf("increment votes: %w: %w", sentinel.ErrInvalidState, err)
		}
		return fmt.Errorf("increment votes: %w", err)
	}
	l.byID[b.ID] = clone(b)
	l.byEmail[b.EmailKey()] = b.ID
	l.byKey[b.IdempotencyKey] = b.ID
	return nil
}

func (l *InMemory) FindByIdempotencyKey(_ context.Context, key string) (*models.Ballot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byKey[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(l.byID[id]), nil
}

func (l *InMemory) FindByEmail(_ context.Context, email string) (*models.Ballot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byEmail[models.NormalizeEmail(email)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(l.byID[id]), nil
}

func (l *InMemory) List(_ context.Context) ([]*models.Ballot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot(), nil
}

func (l *InMemory) Turnout(_ context.Context) (models.Turnout, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return models.CountTurnout(l.snapshot()), nil
}

func (l *InMemory) BallotIDs(_ context.Context) ([]domain.BallotID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]domain.BallotID, 0, len(l.byID))
	for id := range l.byID {
		ids = append(ids, id)
	}
	return ids, nil
}

// Tally reads the recount and the counters under the commit lock, so the
// two agree unless a counter was changed outside the ledger.
func (l *InMemory) Tally(ctx context.Context) (models.TallySnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	counters, err := l.counters.Counters(ctx)
	if err != nil {
		return models.TallySnapshot{}, err
	}
	return models.TallySnapshot{Recount: models.Recount(l.snapshot()), Counters: counters}, nil
}

// Repair sets every counter to its recount and returns how many changed.
func (l *InMemory) Repair(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	counters, err := l.counters.Counters(ctx)
	if err != nil {
		return 0, err
	}
	recount := models.Recount(l.snapshot())
	fix := make(map[domain.NominationID]int64)
	for id, have := range counters {
		if want := recount[id]; want != have {
			fix[id] = want
		}
	}
	if len(fix) == 0 {
		return 0, nil
	}
	if err := l.counters.SetVotes(ctx, fix); err != nil {
		return 0, err
	}
	return len(fix), nil
}

func (l *InMemory) snapshot() []*models.Ballot {
	out := make([]*models.Ballot, 0, len(l.byID))
	for _, b := range l.byID {
		out = append(out, clone(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func clone(b *models.Ballot) *models.Ballot {
	c := *b
	c.Selections = make(map[domain.Position]domain.NominationID, len(b.Selections))
	for p, id := range b.Selections {
		c.Selections[p] = id
	}
	return &c
}
