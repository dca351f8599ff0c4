// internal/domain/account/repository.go
package account

import "context"

// Repository is the account store used by reconciliation.
//
// Implementations run with elevated privilege: callers are unauthenticated
// external systems, so no row-level policy applies.
type Repository interface {
	// FindByID returns xerrors.ErrNotFound when no row matches.
	FindByID(ctx context.Context, accountID string) (*Account, error)
	// FindBySubscriptionID returns xerrors.ErrNotFound when no row matches.
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*Account, error)
	// Create returns xerrors.ErrDuplicateEntry when the account id already exists.
	Create(ctx context.Context, acc *Account) error
	// ApplyBillingUpdate returns false when the row exists but holds a newer event;
	// the order independent fields are merged in that case.
	// It returns xerrors.ErrNotFound when no row matches.
	ApplyBillingUpdate(ctx context.Context, accountID string, upd *BillingUpdate) (bool, error)
}
