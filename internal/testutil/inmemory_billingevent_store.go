package testutil

import (
	"context"
	"sort"
	"sync"

	"billing-service/internal/domain/billingevent"
	xerrors "billing-service/internal/pkg/errors"
)

// InMemoryProcessedEventStore implements billingevent.ProcessedEventRepository
type InMemoryProcessedEventStore struct {
	mu     sync.Mutex
	events map[string]billingevent.ProcessedEvent

	// InsertErr, when set, is returned by Insert. If InsertLands is true the
	// row is stored anyway, as when a commit succeeds but the reply is lost.
	InsertErr   error
	InsertLands bool
	// ExistsErr, when set, is returned by Exists.
	ExistsErr error
}

func NewInMemoryProcessedEventStore() *InMemoryProcessedEventStore {
	return &InMemoryProcessedEventStore{events: make(map[string]billingevent.ProcessedEvent)}
}

func (s *InMemoryProcessedEventStore) Insert(ctx context.Context, ev *billingevent.ProcessedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.InsertErr != nil {
		if s.InsertLands {
			s.events[ev.ID] = *ev
		}
		return s.InsertErr
	}
	if _, ok := s.events[ev.ID]; ok {
		return xerrors.ErrDuplicateEntry
	}
	s.events[ev.ID] = *ev
	return nil
}

func (s *InMemoryProcessedEventStore) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ExistsErr != nil {
		return false, s.ExistsErr
	}
	_, ok := s.events[id]
	return ok, nil
}

// Count returns the number of admitted events.
func (s *InMemoryProcessedEventStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// InMemoryDeadLetterStore implements billingevent.DeadLetterRepository
type InMemoryDeadLetterStore struct {
	mu      sync.Mutex
	letters map[string]billingevent.DeadLetter
}

func NewInMemoryDeadLetterStore() *InMemoryDeadLetterStore {
	return &InMemoryDeadLetterStore{letters: make(map[string]billingevent.DeadLetter)}
}

func (s *InMemoryDeadLetterStore) Save(ctx context.Context, dl *billingevent.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters[dl.Event.ID] = *dl
	return nil
}

func (s *InMemoryDeadLetterStore) Get(ctx context.Context, eventID string) (*billingevent.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dl, ok := s.letters[eventID]
	if !ok {
		return nil, xerrors.ErrDeadLetterNotFound
	}
	return &dl, nil
}

func (s *InMemoryDeadLetterStore) List(ctx context.Context, limit int64) ([]billingevent.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]billingevent.DeadLetter, 0, len(s.letters))
	for _, dl := range s.letters {
		out = append(out, dl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FailedAt.After(out[j].FailedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryDeadLetterStore) Delete(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.letters, eventID)
	return nil
}
