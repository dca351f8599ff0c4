package testutil

import (
	"context"
	"sync"

	"billing-service/internal/domain/billingevent"
	xerrors "billing-service/internal/pkg/errors"
)

// FakeProvider is an in-memory billing provider.
type FakeProvider struct {
	mu            sync.Mutex
	subscriptions map[string]*billingevent.SubscriptionSnapshot
	emails        map[string]string

	SubscriptionErr error
	EmailErr        error
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		subscriptions: make(map[string]*billingevent.SubscriptionSnapshot),
		emails:        make(map[string]string),
	}
}

func (p *FakeProvider) PutSubscription(snap *billingevent.SubscriptionSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := *snap
	p.subscriptions[snap.ID] = &copied
}

func (p *FakeProvider) PutCustomerEmail(customerID, email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emails[customerID] = email
}

func (p *FakeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*billingevent.SubscriptionSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.SubscriptionErr != nil {
		return nil, p.SubscriptionErr
	}
	snap, ok := p.subscriptions[subscriptionID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	copied := *snap
	return &copied, nil
}

func (p *FakeProvider) GetCustomerEmail(ctx context.Context, customerID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.EmailErr != nil {
		return "", p.EmailErr
	}
	email, ok := p.emails[customerID]
	if !ok {
		return "", xerrors.ErrNotFound
	}
	return email, nil
}
