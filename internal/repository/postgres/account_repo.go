// internal/repository/postgres/account_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"billing-service/internal/domain/account"
	xerrors "billing-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
)

const accountColumns = `
	account_id, email, billing_customer_id, billing_subscription_id, subscription_status,
	trial_ends_at, current_period_end, cancel_at, is_early_adopter, last_event_at,
	created_at, updated_at`

type AccountRepository struct {
	db Querier
}

func NewAccountRepository(db Querier) *AccountRepository {
	return &AccountRepository{db: db}
}

// FindByID retrieves an account by its primary key
func (r *AccountRepository) FindByID(ctx context.Context, accountID string) (*account.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE account_id = $1`

	acc, err := scanAccount(r.db.QueryRow(ctx, query, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return acc, nil
}

// FindBySubscriptionID retrieves the account holding a provider subscription id
func (r *AccountRepository) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*account.Account, error) {
	query := `SELECT` + accountColumns + `
		FROM accounts
		WHERE billing_subscription_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`

	acc, err := scanAccount(r.db.QueryRow(ctx, query, subscriptionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by subscription: %w", err)
	}
	return acc, nil
}

// Create inserts a new account row
func (r *AccountRepository) Create(ctx context.Context, acc *account.Account) error {
	query := `
		INSERT INTO accounts (
			account_id, email, billing_customer_id, billing_subscription_id, subscription_status,
			trial_ends_at, current_period_end, cancel_at, is_early_adopter,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Exec(
		ctx, query,
		acc.AccountID, acc.Email, acc.BillingCustomerID, acc.BillingSubscriptionID, acc.SubscriptionStatus,
		acc.TrialEndsAt, acc.CurrentPeriodEnd, acc.CancelAt, acc.IsEarlyAdopter,
		acc.CreatedAt, acc.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return xerrors.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// ApplyBillingUpdate writes a reconciliation update if the row holds no newer event
func (r *AccountRepository) ApplyBillingUpdate(ctx context.Context, accountID string, upd *account.BillingUpdate) (bool, error) {
	query, args := buildBillingUpdate(accountID, upd)

	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to apply billing update: %w", err)
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}

	// Refused by the ordering check or missing. The merge doubles as the existence check.
	var found bool
	mergeQuery, mergeArgs := buildStickyMerge(accountID, upd)
	err = r.db.QueryRow(ctx, mergeQuery, mergeArgs...).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, xerrors.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to merge stale billing update: %w", err)
	}
	return false, nil
}

// buildBillingUpdate renders the conditional UPDATE for a billing update.
// The sticky flag and the event ordering check are enforced in SQL.
func buildBillingUpdate(accountID string, upd *account.BillingUpdate) (string, []interface{}) {
	setClauses := []string{
		"subscription_status = $1",
		"is_early_adopter = is_early_adopter OR $2",
		"last_event_at = $3",
		"updated_at = $4",
	}
	args := []interface{}{upd.Status, upd.MarkEarlyAdopter, upd.EventAt, upd.UpdatedAt}
	argPos := 5

	addString := func(column string, f account.StringField) {
		switch f.Op {
		case account.FieldSet:
			setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argPos))
			args = append(args, f.Value)
			argPos++
		case account.FieldClear:
			setClauses = append(setClauses, column+" = NULL")
		}
	}
	addTime := func(column string, f account.TimeField) {
		switch f.Op {
		case account.FieldSet:
			setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argPos))
			args = append(args, f.Value)
			argPos++
		case account.FieldClear:
			setClauses = append(setClauses, column+" = NULL")
		}
	}

	addString("billing_customer_id", upd.BillingCustomerID)
	addString("billing_subscription_id", upd.BillingSubscriptionID)
	addTime("trial_ends_at", upd.TrialEndsAt)
	addTime("current_period_end", upd.CurrentPeriodEnd)
	addTime("cancel_at", upd.CancelAt)

	query := fmt.Sprintf(
		"UPDATE accounts SET %s WHERE account_id = $%d AND (last_event_at IS NULL OR last_event_at <= $3)",
		strings.Join(setClauses, ", "), argPos,
	)
	args = append(args, accountID)

	return query, args
}

// buildStickyMerge renders the unconditional UPDATE applied when the ordering
// check refuses a write. Only the early adopter flag and an empty customer id
// are touched; updated_at moves only when one of them changes.
func buildStickyMerge(accountID string, upd *account.BillingUpdate) (string, []interface{}) {
	query := `
		UPDATE accounts SET
			is_early_adopter = is_early_adopter OR $1,
			billing_customer_id = COALESCE(billing_customer_id, $2::text),
			updated_at = CASE
				WHEN (NOT is_early_adopter AND $1) OR (billing_customer_id IS NULL AND $2::text IS NOT NULL) THEN $3
				ELSE updated_at
			END
		WHERE account_id = $4
		RETURNING true`

	return query, []interface{}{upd.MarkEarlyAdopter, upd.CustomerIDArg(), upd.UpdatedAt, accountID}
}

func scanAccount(row pgx.Row) (*account.Account, error) {
	var acc account.Account
	err := row.Scan(
		&acc.AccountID, &acc.Email, &acc.BillingCustomerID, &acc.BillingSubscriptionID, &acc.SubscriptionStatus,
		&acc.TrialEndsAt, &acc.CurrentPeriodEnd, &acc.CancelAt, &acc.IsEarlyAdopter, &acc.LastEventAt,
		&acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}
