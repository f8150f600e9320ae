package memory

import (
	"context"
	"sync"

	"hustings/internal/settings/models"
)

// InMemory holds the voting window and fans changes out to subscribers.
type InMemory struct {
	mu      sync.RWMutex
	current models.OpenPositions
	subs    map[chan models.OpenPositions]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{
		current: models.OpenPositions{}.Complete(),
		subs:    make(map[chan models.OpenPositions]struct{}),
	}
}

func (s *InMemory) Get(_ context.Context) (models.OpenPositions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Complete(), nil
}

func (s *InMemory) Set(_ context.Context, open models.OpenPositions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = open.Complete()
	for ch := range s.subs {
		offerLatest(ch, s.current.Complete())
	}
	return nil
}

// Subscribe delivers the current window, then every change, until ctx ends.
// Slow readers only ever see the latest window.
func (s *InMemory) Subscribe(ctx context.Context) (<-chan models.OpenPositions, error) {
	ch := make(chan models.OpenPositions, 1)
	s.mu.Lock()
	ch <- s.current.Complete()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

// offerLatest replaces any undelivered value with v. Callers hold the lock
// that guards ch, so no other sender races the drain.
func offerLatest(ch chan models.OpenPositions, v models.OpenPositions) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
