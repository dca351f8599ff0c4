package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"billing-service/internal/domain/account"
	"billing-service/internal/domain/billingevent"
	xerrors "billing-service/internal/pkg/errors"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_DuplicateConcurrentDelivery(t *testing.T) {
	f := newFixture(existingAccount("acc_a", "sub_a"))
	periodEnd := testNow.Add(20 * 24 * time.Hour).Truncate(time.Second)

	ev := &billingevent.Event{
		ID:        "evt_1",
		Type:      billingevent.EventSubscriptionUpdated,
		CreatedAt: testNow,
		Subscription: &billingevent.SubscriptionSnapshot{
			ID:                "sub_a",
			Status:            "active",
			CancelAtPeriodEnd: true,
			CurrentPeriodEnd:  lo.ToPtr(periodEnd.Unix()),
			Metadata:          billingevent.Metadata{billingevent.MetadataAccountID: "acc_a"},
		},
	}

	var skipped atomic.Int32
	var wg conc.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Go(func() {
			ack, err := f.dispatcher.Handle(context.Background(), ev)
			assert.NoError(t, err)
			if ack.Skipped() {
				skipped.Add(1)
			}
		})
	}
	wg.Wait()

	assert.EqualValues(t, 1, skipped.Load())
	assert.Equal(t, 1, f.accounts.Writes)

	stored := f.accounts.Get("acc_a")
	assert.Equal(t, account.StatusCancelled, stored.SubscriptionStatus)
	require.NotNil(t, stored.CancelAt)
	assert.True(t, periodEnd.Equal(*stored.CancelAt))
	assert.Equal(t, testNow, stored.UpdatedAt)
}

func TestDispatcher_CheckoutProvisionsUnknownAccount(t *testing.T) {
	f := newFixture()
	trialEnd := testNow.Add(30 * 24 * time.Hour).Truncate(time.Second)
	f.provider.PutSubscription(&billingevent.SubscriptionSnapshot{
		ID:       "sub_new",
		Status:   "trialing",
		TrialEnd: lo.ToPtr(trialEnd.Unix()),
	})
	f.provider.PutCustomerEmail("cus_new", "coach@example.com")

	ack, err := f.dispatcher.Handle(context.Background(), checkoutEvent("acc_new", "cus_new", "sub_new"))
	require.NoError(t, err)
	assert.Equal(t, billingevent.OutcomeProvisioned, ack.Outcome)
	assert.Equal(t, "acc_new", ack.AccountID)

	assert.Equal(t, 1, f.accounts.Count())
	stored := f.accounts.Get("acc_new")
	assert.Equal(t, account.StatusTrialing, stored.SubscriptionStatus)
	require.NotNil(t, stored.TrialEndsAt)
	assert.True(t, trialEnd.Equal(*stored.TrialEndsAt))
	require.NotNil(t, stored.BillingSubscriptionID)
	assert.Equal(t, "sub_new", *stored.BillingSubscriptionID)
	require.NotNil(t, stored.BillingCustomerID)
	assert.Equal(t, "cus_new", *stored.BillingCustomerID)
}

func TestDispatcher_DeletedFallsBackToSubscriptionID(t *testing.T) {
	acc := existingAccount("acc_b", "sub_b")
	acc.SubscriptionStatus = account.StatusActive
	acc.CurrentPeriodEnd = lo.ToPtr(testNow.Add(10 * 24 * time.Hour))
	f := newFixture(acc)

	ack, err := f.dispatcher.Handle(context.Background(), &billingevent.Event{
		ID:        "evt_3",
		Type:      billingevent.EventSubscriptionDeleted,
		CreatedAt: testNow,
		Subscription: &billingevent.SubscriptionSnapshot{
			ID:       "sub_b",
			Status:   "canceled",
			Metadata: billingevent.Metadata{billingevent.MetadataAccountID: "acc_unknown"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, billingevent.OutcomeApplied, ack.Outcome)

	stored := f.accounts.Get("acc_b")
	assert.Equal(t, account.StatusCancelled, stored.SubscriptionStatus)
	assert.Nil(t, stored.BillingSubscriptionID)
	assert.Equal(t, acc.CurrentPeriodEnd, stored.CurrentPeriodEnd)
}

func TestDispatcher_UpdatedTrialing(t *testing.T) {
	f := newFixture(existingAccount("acc_t", "sub_t"))
	trialEnd := testNow.Add(5 * 24 * time.Hour).Truncate(time.Second)

	_, err := f.dispatcher.Handle(context.Background(), &billingevent.Event{
		ID:        "evt_4",
		Type:      billingevent.EventSubscriptionUpdated,
		CreatedAt: testNow,
		Subscription: &billingevent.SubscriptionSnapshot{
			ID:       "sub_t",
			Status:   "trialing",
			TrialEnd: lo.ToPtr(trialEnd.Unix()),
		},
	})
	require.NoError(t, err)

	stored := f.accounts.Get("acc_t")
	assert.Equal(t, account.StatusTrialing, stored.SubscriptionStatus)
	require.NotNil(t, stored.TrialEndsAt)
	assert.True(t, trialEnd.Equal(*stored.TrialEndsAt))
}

func TestDispatcher_ActiveClearsTrial(t *testing.T) {
	acc := existingAccount("acc_t", "sub_t")
	acc.TrialEndsAt = lo.ToPtr(testNow.Add(24 * time.Hour))
	f := newFixture(acc)

	ev := subscriptionEvent(billingevent.EventSubscriptionUpdated, "acc_t", "sub_t")
	ev.Subscription.TrialEnd = lo.ToPtr(testNow.Add(24 * time.Hour).Unix())
	_, err := f.dispatcher.Handle(context.Background(), ev)
	require.NoError(t, err)

	stored := f.accounts.Get("acc_t")
	assert.Equal(t, account.StatusActive, stored.SubscriptionStatus)
	assert.Nil(t, stored.TrialEndsAt)
}

func TestDispatcher_EarlyAdopterIsSticky(t *testing.T) {
	f := newFixture(existingAccount("acc_e", "sub_e"))
	ctx := context.Background()

	first := subscriptionEvent(billingevent.EventSubscriptionCreated, "acc_e", "sub_e")
	first.ID = "evt_e1"
	first.Subscription.Metadata[billingevent.MetadataEarlyAdopter] = "true"
	_, err := f.dispatcher.Handle(ctx, first)
	require.NoError(t, err)
	assert.True(t, f.accounts.Get("acc_e").IsEarlyAdopter)

	for i, typ := range []billingevent.EventType{billingevent.EventSubscriptionUpdated, billingevent.EventSubscriptionDeleted} {
		ev := subscriptionEvent(typ, "acc_e", "sub_e")
		ev.ID = "evt_e_next_" + string(rune('a'+i))
		ev.CreatedAt = testNow.Add(time.Duration(i+1) * time.Minute)
		ev.Subscription.Metadata[billingevent.MetadataEarlyAdopter] = "false"
		_, err := f.dispatcher.Handle(ctx, ev)
		require.NoError(t, err)
		assert.True(t, f.accounts.Get("acc_e").IsEarlyAdopter, "after %s", typ)
	}
}

func TestDispatcher_StaleEventNotApplied(t *testing.T) {
	f := newFixture(existingAccount("acc_s", "sub_s"))
	ctx := context.Background()

	newer := subscriptionEvent(billingevent.EventSubscriptionUpdated, "acc_s", "sub_s")
	newer.ID = "evt_newer"
	newer.CreatedAt = testNow.Add(time.Minute)
	newer.Subscription.Status = "past_due"
	_, err := f.dispatcher.Handle(ctx, newer)
	require.NoError(t, err)

	older := subscriptionEvent(billingevent.EventSubscriptionCreated, "acc_s", "sub_s")
	older.ID = "evt_older"
	older.CreatedAt = testNow
	ack, err := f.dispatcher.Handle(ctx, older)
	require.NoError(t, err)
	assert.Equal(t, billingevent.OutcomeStale, ack.Outcome)
	assert.Equal(t, account.StatusPastDue, f.accounts.Get("acc_s").SubscriptionStatus)
}

func TestDispatcher_LateCheckoutKeepsOrderIndependentFields(t *testing.T) {
	f := newFixture(existingAccount("acc_e", "sub_e"))
	f.provider.PutSubscription(&billingevent.SubscriptionSnapshot{ID: "sub_e", Status: "trialing"})
	ctx := context.Background()

	updated := subscriptionEvent(billingevent.EventSubscriptionUpdated, "acc_e", "sub_e")
	updated.ID = "evt_updated"
	updated.CreatedAt = testNow.Add(2 * time.Second)
	_, err := f.dispatcher.Handle(ctx, updated)
	require.NoError(t, err)

	checkout := checkoutEvent("acc_e", "cus_e", "sub_e")
	checkout.Checkout.Metadata[billingevent.MetadataEarlyAdopter] = "true"
	ack, err := f.dispatcher.Handle(ctx, checkout)
	require.NoError(t, err)
	assert.Equal(t, billingevent.OutcomeStale, ack.Outcome)

	stored := f.accounts.Get("acc_e")
	assert.True(t, stored.IsEarlyAdopter)
	require.NotNil(t, stored.BillingCustomerID)
	assert.Equal(t, "cus_e", *stored.BillingCustomerID)
	assert.Equal(t, account.StatusActive, stored.SubscriptionStatus)
	require.NotNil(t, stored.LastEventAt)
	assert.True(t, updated.CreatedAt.Equal(*stored.LastEventAt))
}

func TestDispatcher_StaleCheckoutKeepsExistingCustomer(t *testing.T) {
	acc := existingAccount("acc_k", "sub_k")
	acc.BillingCustomerID = lo.ToPtr("cus_original")
	acc.LastEventAt = lo.ToPtr(testNow.Add(time.Minute))
	f := newFixture(acc)
	f.provider.PutSubscription(&billingevent.SubscriptionSnapshot{ID: "sub_k", Status: "active"})

	ack, err := f.dispatcher.Handle(context.Background(), checkoutEvent("acc_k", "cus_other", "sub_k"))
	require.NoError(t, err)
	assert.Equal(t, billingevent.OutcomeStale, ack.Outcome)

	stored := f.accounts.Get("acc_k")
	assert.Equal(t, "cus_original", *stored.BillingCustomerID)
	assert.False(t, stored.IsEarlyAdopter)
	assert.Equal(t, acc.UpdatedAt, stored.UpdatedAt)
}

func TestDispatcher_SnapshotWithoutIDKeepsSubscription(t *testing.T) {
	f := newFixture(existingAccount("acc_n", "sub_n"))

	ev := subscriptionEvent(billingevent.EventSubscriptionUpdated, "acc_n", "")
	ev.ID = "evt_no_sub_id"
	ack, err := f.dispatcher.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, billingevent.OutcomeApplied, ack.Outcome)

	stored := f.accounts.Get("acc_n")
	require.NotNil(t, stored.BillingSubscriptionID)
	assert.Equal(t, "sub_n", *stored.BillingSubscriptionID)
	assert.Equal(t, account.StatusActive, stored.SubscriptionStatus)
}

func TestDispatcher_UnresolvedIsAcknowledged(t *testing.T) {
	f := newFixture(existingAccount("acc_x", "sub_x"))

	ack, err := f.dispatcher.Handle(context.Background(), subscriptionEvent(billingevent.EventSubscriptionUpdated, "acc_missing", "sub_missing"))
	require.NoError(t, err)
	assert.Equal(t, billingevent.OutcomeUnresolved, ack.Outcome)
	assert.Equal(t, 0, f.accounts.Writes)
}

func TestDispatcher_IgnoredEvents(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ack, err := f.dispatcher.Handle(ctx, &billingevent.Event{ID: "evt_inv", Type: "invoice.paid", CreatedAt: testNow})
	require.NoError(t, err)
	assert.Equal(t, billingevent.OutcomeIgnored, ack.Outcome)

	payment := checkoutEvent("acc_p", "cus_p", "")
	payment.Checkout.Mode = "payment"
	ack, err = f.dispatcher.Handle(ctx, payment)
	require.NoError(t, err)
	assert.Equal(t, billingevent.OutcomeIgnored, ack.Outcome)
	assert.Equal(t, 0, f.accounts.Count())
	assert.Equal(t, 2, f.events.Count())
}

func TestDispatcher_WriteFailureStaysAdmittedAndDeadLetters(t *testing.T) {
	f := newFixture(existingAccount("acc_f", "sub_f"))
	f.accounts.UpdateErr = errors.New("statement timeout")
	ctx := context.Background()
	ev := subscriptionEvent(billingevent.EventSubscriptionUpdated, "acc_f", "sub_f")

	_, err := f.dispatcher.Handle(ctx, ev)
	require.Error(t, err)

	dl, err := f.deadLetters.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, dl.Attempts)
	assert.Contains(t, dl.Error, "statement timeout")

	// Provider redelivery is swallowed as a duplicate.
	f.accounts.UpdateErr = nil
	ack, err := f.dispatcher.Handle(ctx, ev)
	require.NoError(t, err)
	assert.True(t, ack.Skipped())
	assert.Equal(t, account.StatusTrialing, f.accounts.Get("acc_f").SubscriptionStatus)

	ack, err = f.dispatcher.Replay(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, billingevent.OutcomeApplied, ack.Outcome)
	assert.Equal(t, account.StatusActive, f.accounts.Get("acc_f").SubscriptionStatus)

	_, err = f.deadLetters.Get(ctx, ev.ID)
	assert.ErrorIs(t, err, xerrors.ErrDeadLetterNotFound)
}

func TestDispatcher_ReplayFailureIncrementsAttempts(t *testing.T) {
	f := newFixture(existingAccount("acc_f", "sub_f"))
	f.accounts.UpdateErr = errors.New("statement timeout")
	ctx := context.Background()
	ev := subscriptionEvent(billingevent.EventSubscriptionUpdated, "acc_f", "sub_f")

	_, err := f.dispatcher.Handle(ctx, ev)
	require.Error(t, err)

	_, err = f.dispatcher.Replay(ctx, ev.ID)
	require.Error(t, err)

	dl, err := f.deadLetters.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, dl.Attempts)

	list, err := f.dispatcher.ListDeadLetters(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDispatcher_CheckoutProviderFailure(t *testing.T) {
	f := newFixture(existingAccount("acc_c", ""))
	f.provider.SubscriptionErr = xerrors.ErrProviderUnavailable

	_, err := f.dispatcher.Handle(context.Background(), checkoutEvent("acc_c", "cus_c", "sub_c"))
	assert.ErrorIs(t, err, xerrors.ErrProviderUnavailable)
	assert.Equal(t, 1, f.events.Count())
}
