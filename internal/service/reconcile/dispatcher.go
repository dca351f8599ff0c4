// internal/service/reconcile/dispatcher.go
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"billing-service/internal/domain/account"
	"billing-service/internal/domain/billingevent"
	xerrors "billing-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// Dispatcher reconciles verified provider events into account state.
//
// An event admitted by the guard stays admitted even when its branch fails;
// the failure is returned to the caller and recorded as a dead letter.
type Dispatcher struct {
	guard       *EventGuard
	resolver    *AccountResolver
	accounts    account.Repository
	provider    Provider
	deadLetters billingevent.DeadLetterRepository
	now         func() time.Time
	logger      *zap.Logger
}

// NewDispatcher builds a dispatcher. deadLetters may be nil.
func NewDispatcher(
	guard *EventGuard,
	resolver *AccountResolver,
	accounts account.Repository,
	provider Provider,
	deadLetters billingevent.DeadLetterRepository,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		guard:       guard,
		resolver:    resolver,
		accounts:    accounts,
		provider:    provider,
		deadLetters: deadLetters,
		now:         time.Now,
		logger:      logger,
	}
}

// Handle admits ev and routes it to the branch for its type.
func (d *Dispatcher) Handle(ctx context.Context, ev *billingevent.Event) (billingevent.Acknowledgment, error) {
	ack := billingevent.Acknowledgment{EventID: ev.ID}

	admission, err := d.guard.Admit(ctx, ev.ID, ev.Type)
	if err != nil {
		return ack, err
	}
	if admission == AlreadyProcessed {
		d.logger.Info("duplicate billing event skipped",
			zap.String("event_id", ev.ID),
			zap.String("event_type", string(ev.Type)),
		)
		ack.Outcome = billingevent.OutcomeDuplicate
		return ack, nil
	}

	ack, err = d.apply(ctx, ev)
	if err != nil {
		d.logger.Error("billing event processing failed after admission",
			zap.String("event_id", ev.ID),
			zap.String("event_type", string(ev.Type)),
			zap.Error(err),
		)
		d.recordDeadLetter(ctx, ev, err)
		return ack, err
	}

	d.logger.Info("billing event processed",
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.String("account_id", ack.AccountID),
		zap.String("outcome", string(ack.Outcome)),
	)
	return ack, nil
}

// Replay re-runs branch logic for a dead-lettered event. The guard is not
// consulted since the event was admitted when it first arrived.
func (d *Dispatcher) Replay(ctx context.Context, eventID string) (billingevent.Acknowledgment, error) {
	if d.deadLetters == nil {
		return billingevent.Acknowledgment{EventID: eventID}, xerrors.ErrDeadLetterNotFound
	}

	dl, err := d.deadLetters.Get(ctx, eventID)
	if err != nil {
		return billingevent.Acknowledgment{EventID: eventID}, err
	}

	ack, err := d.apply(ctx, &dl.Event)
	if err != nil {
		dl.Attempts++
		dl.Error = err.Error()
		dl.UpdatedAt = d.now().UTC()
		if saveErr := d.deadLetters.Save(ctx, dl); saveErr != nil {
			d.logger.Error("failed to update dead letter after replay failure",
				zap.String("event_id", eventID),
				zap.Error(saveErr),
			)
		}
		return ack, xerrors.Wrap(err, "replay "+eventID)
	}

	if err := d.deadLetters.Delete(ctx, eventID); err != nil {
		d.logger.Warn("replayed event but failed to delete dead letter",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
	}

	d.logger.Info("dead-lettered billing event replayed",
		zap.String("event_id", eventID),
		zap.String("account_id", ack.AccountID),
		zap.String("outcome", string(ack.Outcome)),
	)
	return ack, nil
}

// ListDeadLetters returns stored dead letters, newest first.
func (d *Dispatcher) ListDeadLetters(ctx context.Context, limit int64) ([]billingevent.DeadLetter, error) {
	if d.deadLetters == nil {
		return []billingevent.DeadLetter{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	return d.deadLetters.List(ctx, limit)
}

func (d *Dispatcher) apply(ctx context.Context, ev *billingevent.Event) (billingevent.Acknowledgment, error) {
	switch ev.Type {
	case billingevent.EventCheckoutCompleted:
		return d.handleCheckoutCompleted(ctx, ev)
	case billingevent.EventSubscriptionCreated, billingevent.EventSubscriptionUpdated:
		return d.handleSubscriptionChanged(ctx, ev)
	case billingevent.EventSubscriptionDeleted:
		return d.handleSubscriptionDeleted(ctx, ev)
	default:
		d.logger.Info("unhandled billing event type acknowledged",
			zap.String("event_id", ev.ID),
			zap.String("event_type", string(ev.Type)),
		)
		return billingevent.Acknowledgment{EventID: ev.ID, Outcome: billingevent.OutcomeIgnored}, nil
	}
}

func (d *Dispatcher) handleCheckoutCompleted(ctx context.Context, ev *billingevent.Event) (billingevent.Acknowledgment, error) {
	ack := billingevent.Acknowledgment{EventID: ev.ID}
	session := ev.Checkout
	if session == nil {
		return ack, fmt.Errorf("checkout event without session: %w", xerrors.ErrInvalidPayload)
	}

	if session.Mode != billingevent.CheckoutModeSubscription {
		d.logger.Info("non-subscription checkout ignored",
			zap.String("event_id", ev.ID),
			zap.String("mode", session.Mode),
		)
		ack.Outcome = billingevent.OutcomeIgnored
		return ack, nil
	}

	subID := strings.TrimSpace(session.SubscriptionID)
	if subID == "" {
		return ack, fmt.Errorf("subscription checkout %s without subscription id: %w", session.ID, xerrors.ErrInvalidPayload)
	}

	res, ok, err := d.resolve(ctx, ev)
	if err != nil || !ok {
		ack.Outcome = billingevent.OutcomeUnresolved
		return ack, err
	}
	ack.AccountID = res.Account.AccountID

	snap, err := d.provider.GetSubscription(ctx, subID)
	if err != nil {
		return ack, fmt.Errorf("fetch subscription %s: %w", subID, err)
	}

	upd := d.subscriptionUpdate(ev, snap)
	upd.BillingSubscriptionID = account.SetString(subID)
	if customerID := strings.TrimSpace(session.CustomerID); customerID != "" {
		upd.BillingCustomerID = account.SetString(customerID)
	}

	outcome, err := d.write(ctx, ev, res.Account.AccountID, upd)
	if err != nil {
		return ack, err
	}
	if outcome == billingevent.OutcomeApplied && res.Provisioned {
		outcome = billingevent.OutcomeProvisioned
	}
	ack.Outcome = outcome
	return ack, nil
}

func (d *Dispatcher) handleSubscriptionChanged(ctx context.Context, ev *billingevent.Event) (billingevent.Acknowledgment, error) {
	ack := billingevent.Acknowledgment{EventID: ev.ID}
	snap := ev.Subscription
	if snap == nil {
		return ack, fmt.Errorf("%s without subscription: %w", ev.Type, xerrors.ErrInvalidPayload)
	}

	res, ok, err := d.resolve(ctx, ev)
	if err != nil || !ok {
		ack.Outcome = billingevent.OutcomeUnresolved
		return ack, err
	}
	ack.AccountID = res.Account.AccountID

	upd := d.subscriptionUpdate(ev, snap)
	if subID := strings.TrimSpace(snap.ID); subID != "" {
		upd.BillingSubscriptionID = account.SetString(subID)
	}

	ack.Outcome, err = d.write(ctx, ev, res.Account.AccountID, upd)
	return ack, err
}

func (d *Dispatcher) handleSubscriptionDeleted(ctx context.Context, ev *billingevent.Event) (billingevent.Acknowledgment, error) {
	ack := billingevent.Acknowledgment{EventID: ev.ID}
	if ev.Subscription == nil {
		return ack, fmt.Errorf("%s without subscription: %w", ev.Type, xerrors.ErrInvalidPayload)
	}

	res, ok, err := d.resolve(ctx, ev)
	if err != nil || !ok {
		ack.Outcome = billingevent.OutcomeUnresolved
		return ack, err
	}
	ack.AccountID = res.Account.AccountID

	upd := &account.BillingUpdate{
		Status:                account.StatusCancelled,
		BillingSubscriptionID: account.ClearString(),
		EventAt:               ev.CreatedAt,
		UpdatedAt:             d.now().UTC(),
	}

	ack.Outcome, err = d.write(ctx, ev, res.Account.AccountID, upd)
	return ack, err
}

// resolve reports ok=false for a resolution miss, which is not an error.
func (d *Dispatcher) resolve(ctx context.Context, ev *billingevent.Event) (*Resolution, bool, error) {
	res, err := d.resolver.Resolve(ctx, ev)
	if xerrors.Is(err, xerrors.ErrNotFound) {
		d.logger.Warn("no account matches billing event, acknowledging without changes",
			zap.String("event_id", ev.ID),
			zap.String("event_type", string(ev.Type)),
			zap.String("metadata_account_id", ev.AccountID()),
			zap.String("subscription_id", ev.SubscriptionID()),
		)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

func (d *Dispatcher) subscriptionUpdate(ev *billingevent.Event, snap *billingevent.SubscriptionSnapshot) *account.BillingUpdate {
	derived := Derive(snap)
	return &account.BillingUpdate{
		Status:           derived.Status,
		TrialEndsAt:      derived.TrialEndsAt,
		CurrentPeriodEnd: derived.CurrentPeriodEnd,
		CancelAt:         derived.CancelAt,
		MarkEarlyAdopter: ev.Metadata().EarlyAdopter() || snap.Metadata.EarlyAdopter(),
		EventAt:          ev.CreatedAt,
		UpdatedAt:        d.now().UTC(),
	}
}

func (d *Dispatcher) write(ctx context.Context, ev *billingevent.Event, accountID string, upd *account.BillingUpdate) (billingevent.Outcome, error) {
	applied, err := d.accounts.ApplyBillingUpdate(ctx, accountID, upd)
	if xerrors.Is(err, xerrors.ErrNotFound) {
		d.logger.Warn("resolved account disappeared before write",
			zap.String("event_id", ev.ID),
			zap.String("account_id", accountID),
		)
		return billingevent.OutcomeUnresolved, nil
	}
	if err != nil {
		return "", fmt.Errorf("update account %s: %w", accountID, err)
	}
	if !applied {
		d.logger.Warn("stale billing event not applied, account holds a newer event",
			zap.String("event_id", ev.ID),
			zap.String("event_type", string(ev.Type)),
			zap.String("account_id", accountID),
			zap.Time("event_created_at", ev.CreatedAt),
		)
		return billingevent.OutcomeStale, nil
	}
	return billingevent.OutcomeApplied, nil
}

func (d *Dispatcher) recordDeadLetter(ctx context.Context, ev *billingevent.Event, cause error) {
	if d.deadLetters == nil {
		return
	}
	now := d.now().UTC()
	dl := &billingevent.DeadLetter{
		Event:     *ev,
		Error:     xerrors.MessageOrDefault(cause, "unknown failure"),
		Attempts:  1,
		FailedAt:  now,
		UpdatedAt: now,
	}
	// Detached from the request so a cancelled delivery still leaves a record.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.deadLetters.Save(saveCtx, dl); err != nil {
		d.logger.Error("failed to record dead letter",
			zap.String("event_id", ev.ID),
			zap.Error(err),
		)
	}
}
