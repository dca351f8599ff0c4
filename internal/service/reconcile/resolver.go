// internal/service/reconcile/resolver.go
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"billing-service/internal/domain/account"
	"billing-service/internal/domain/billingevent"
	xerrors "billing-service/internal/pkg/errors"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	StrategyMetadata       = "metadata"
	StrategySubscriptionID = "subscription_id"
	StrategyProvision      = "auto_provision"
)

// Provider is the billing provider surface the engine reads from.
type Provider interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*billingevent.SubscriptionSnapshot, error)
	GetCustomerEmail(ctx context.Context, customerID string) (string, error)
}

// Strategy is one lookup in a resolution chain. A miss is xerrors.ErrNotFound.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, ev *billingevent.Event) (*account.Account, error)
}

// Resolution is the account an event applies to and how it was found.
type Resolution struct {
	Account     *account.Account
	Strategy    string
	Provisioned bool
}

type ProvisionConfig struct {
	TrialPeriod      time.Duration
	PlaceholderEmail string
}

// AccountResolver maps an inbound event to an account by trying an ordered
// chain of strategies chosen by event type. The first match wins.
type AccountResolver struct {
	chains map[billingevent.EventType][]Strategy
	logger *zap.Logger
}

func NewAccountResolver(repo account.Repository, provider Provider, cfg ProvisionConfig, logger *zap.Logger) *AccountResolver {
	byMetadata := &metadataStrategy{repo: repo}
	bySubscription := &subscriptionStrategy{repo: repo}
	provision := &provisionStrategy{
		repo:     repo,
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}

	return &AccountResolver{
		chains: map[billingevent.EventType][]Strategy{
			billingevent.EventCheckoutCompleted:   {byMetadata, bySubscription, provision},
			billingevent.EventSubscriptionCreated: {byMetadata},
			billingevent.EventSubscriptionUpdated: {byMetadata, bySubscription},
			billingevent.EventSubscriptionDeleted: {byMetadata, bySubscription},
		},
		logger: logger,
	}
}

// Resolve returns xerrors.ErrNotFound when no strategy in the chain matches.
func (r *AccountResolver) Resolve(ctx context.Context, ev *billingevent.Event) (*Resolution, error) {
	chain, ok := r.chains[ev.Type]
	if !ok {
		return nil, fmt.Errorf("no resolution chain for %s: %w", ev.Type, xerrors.ErrNotFound)
	}

	for _, s := range chain {
		acc, err := s.Resolve(ctx, ev)
		if err == nil {
			return &Resolution{
				Account:     acc,
				Strategy:    s.Name(),
				Provisioned: s.Name() == StrategyProvision,
			}, nil
		}
		if !xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.Wrap(err, "resolve by "+s.Name())
		}
		r.logger.Debug("resolution strategy missed",
			zap.String("event_id", ev.ID),
			zap.String("strategy", s.Name()),
		)
	}

	return nil, xerrors.ErrNotFound
}

type metadataStrategy struct {
	repo account.Repository
}

func (s *metadataStrategy) Name() string { return StrategyMetadata }

func (s *metadataStrategy) Resolve(ctx context.Context, ev *billingevent.Event) (*account.Account, error) {
	id := ev.AccountID()
	if id == "" {
		return nil, xerrors.ErrNotFound
	}
	return s.repo.FindByID(ctx, id)
}

type subscriptionStrategy struct {
	repo account.Repository
}

func (s *subscriptionStrategy) Name() string { return StrategySubscriptionID }

func (s *subscriptionStrategy) Resolve(ctx context.Context, ev *billingevent.Event) (*account.Account, error) {
	subID := strings.TrimSpace(ev.SubscriptionID())
	if subID == "" {
		return nil, xerrors.ErrNotFound
	}
	return s.repo.FindBySubscriptionID(ctx, subID)
}

// provisionStrategy creates a minimal trialing account keyed by the metadata
// identifier for a first-time checkout.
type provisionStrategy struct {
	repo     account.Repository
	provider Provider
	cfg      ProvisionConfig
	now      func() time.Time
	logger   *zap.Logger
}

func (s *provisionStrategy) Name() string { return StrategyProvision }

func (s *provisionStrategy) Resolve(ctx context.Context, ev *billingevent.Event) (*account.Account, error) {
	id := ev.AccountID()
	if id == "" {
		return nil, xerrors.ErrNotFound
	}

	now := s.now().UTC()
	acc := &account.Account{
		AccountID:          id,
		Email:              s.customerEmail(ctx, ev.CustomerID()),
		BillingCustomerID:  lo.EmptyableToPtr(strings.TrimSpace(ev.CustomerID())),
		SubscriptionStatus: account.StatusTrialing,
		TrialEndsAt:        lo.ToPtr(now.Add(s.cfg.TrialPeriod)),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err := s.repo.Create(ctx, acc)
	if xerrors.Is(err, xerrors.ErrDuplicateEntry) {
		// Provisioned by a concurrent delivery.
		return s.repo.FindByID(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("provision account %s: %w", id, err)
	}

	s.logger.Info("auto-provisioned account from checkout",
		zap.String("event_id", ev.ID),
		zap.String("account_id", id),
		zap.String("email", acc.Email),
	)
	return acc, nil
}

func (s *provisionStrategy) customerEmail(ctx context.Context, customerID string) string {
	if customerID == "" || s.provider == nil {
		return s.cfg.PlaceholderEmail
	}
	email, err := s.provider.GetCustomerEmail(ctx, customerID)
	if err != nil {
		s.logger.Warn("customer email lookup failed, using placeholder",
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
		return s.cfg.PlaceholderEmail
	}
	if strings.TrimSpace(email) == "" {
		return s.cfg.PlaceholderEmail
	}
	return strings.TrimSpace(email)
}
