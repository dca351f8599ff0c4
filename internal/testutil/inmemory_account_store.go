package testutil

import (
	"context"
	"sync"

	"billing-service/internal/domain/account"
	xerrors "billing-service/internal/pkg/errors"
)

// InMemoryAccountStore implements account.Repository
type InMemoryAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*account.Account

	// UpdateErr, when set, is returned by ApplyBillingUpdate.
	UpdateErr error
	// Writes counts applied billing updates.
	Writes int
}

// NewInMemoryAccountStore creates a new in-memory account store
func NewInMemoryAccountStore(seed ...*account.Account) *InMemoryAccountStore {
	s := &InMemoryAccountStore{accounts: make(map[string]*account.Account)}
	for _, a := range seed {
		s.accounts[a.AccountID] = copyAccount(a)
	}
	return s
}

func copyAccount(a *account.Account) *account.Account {
	if a == nil {
		return nil
	}
	copied := *a
	return &copied
}

func (s *InMemoryAccountStore) FindByID(ctx context.Context, accountID string) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return copyAccount(a), nil
}

func (s *InMemoryAccountStore) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.BillingSubscriptionID != nil && *a.BillingSubscriptionID == subscriptionID {
			return copyAccount(a), nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (s *InMemoryAccountStore) Create(ctx context.Context, acc *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acc.AccountID]; ok {
		return xerrors.ErrDuplicateEntry
	}
	s.accounts[acc.AccountID] = copyAccount(acc)
	return nil
}

func (s *InMemoryAccountStore) ApplyBillingUpdate(ctx context.Context, accountID string, upd *account.BillingUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.UpdateErr != nil {
		return false, s.UpdateErr
	}
	a, ok := s.accounts[accountID]
	if !ok {
		return false, xerrors.ErrNotFound
	}
	if !a.Accepts(upd.EventAt) {
		s.accounts[accountID] = upd.MergeStickyInto(a)
		return false, nil
	}
	s.accounts[accountID] = upd.ApplyTo(a)
	s.Writes++
	return true, nil
}

// Get returns a copy of the stored account or nil.
func (s *InMemoryAccountStore) Get(accountID string) *account.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyAccount(s.accounts[accountID])
}

// Count returns the number of stored accounts.
func (s *InMemoryAccountStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}
