package reconcile

import (
	"time"

	"billing-service/internal/domain/account"
	"billing-service/internal/testutil"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	accounts    *testutil.InMemoryAccountStore
	events      *testutil.InMemoryProcessedEventStore
	deadLetters *testutil.InMemoryDeadLetterStore
	provider    *testutil.FakeProvider
	resolver    *AccountResolver
	dispatcher  *Dispatcher
}

func newFixture(seed ...*account.Account) *fixture {
	f := &fixture{
		accounts:    testutil.NewInMemoryAccountStore(seed...),
		events:      testutil.NewInMemoryProcessedEventStore(),
		deadLetters: testutil.NewInMemoryDeadLetterStore(),
		provider:    testutil.NewFakeProvider(),
	}
	logger := zap.NewNop()

	f.resolver = NewAccountResolver(f.accounts, f.provider, ProvisionConfig{
		TrialPeriod:      30 * 24 * time.Hour,
		PlaceholderEmail: "pending@example.invalid",
	}, logger)
	for _, chain := range f.resolver.chains {
		for _, s := range chain {
			if p, ok := s.(*provisionStrategy); ok {
				p.now = func() time.Time { return testNow }
			}
		}
	}

	guard := NewEventGuard(f.events, logger)
	guard.now = func() time.Time { return testNow }

	f.dispatcher = NewDispatcher(guard, f.resolver, f.accounts, f.provider, f.deadLetters, logger)
	f.dispatcher.now = func() time.Time { return testNow }
	return f
}

func existingAccount(id string, subscriptionID string) *account.Account {
	return &account.Account{
		AccountID:             id,
		Email:                 id + "@example.com",
		BillingSubscriptionID: lo.EmptyableToPtr(subscriptionID),
		SubscriptionStatus:    account.StatusTrialing,
		CreatedAt:             testNow.Add(-48 * time.Hour),
		UpdatedAt:             testNow.Add(-48 * time.Hour),
	}
}
