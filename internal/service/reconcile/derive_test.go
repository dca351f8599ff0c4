package reconcile

import (
	"testing"
	"time"

	"billing-service/internal/domain/account"
	"billing-service/internal/domain/billingevent"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		raw               string
		cancelAtPeriodEnd bool
		want              account.SubscriptionStatus
	}{
		{raw: "active", want: account.StatusActive},
		{raw: "trialing", want: account.StatusTrialing},
		{raw: "past_due", want: account.StatusPastDue},
		{raw: "incomplete", want: account.StatusCancelled},
		{raw: "unpaid", want: account.StatusCancelled},
		{raw: "incomplete_expired", want: account.StatusCancelled},
		{raw: "canceled", want: account.StatusCancelled},
		{raw: "", want: account.StatusCancelled},
		{raw: "active", cancelAtPeriodEnd: true, want: account.StatusCancelled},
		{raw: "trialing", cancelAtPeriodEnd: true, want: account.StatusCancelled},
		{raw: "past_due", cancelAtPeriodEnd: true, want: account.StatusCancelled},
	}

	for _, tt := range tests {
		got := DeriveStatus(tt.raw, tt.cancelAtPeriodEnd)
		assert.Equal(t, tt.want, got, "DeriveStatus(%q, %v)", tt.raw, tt.cancelAtPeriodEnd)
	}
}

func TestDeriveStatusTotality(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	raw := gen.OneGenOf(
		gen.OneConstOf("active", "trialing", "past_due", "incomplete", "unpaid", "incomplete_expired", "canceled", "paused"),
		gen.AnyString(),
	)

	properties.Property("derived status is always canonical", prop.ForAll(
		func(rawStatus string, cancelAtPeriodEnd bool) bool {
			return DeriveStatus(rawStatus, cancelAtPeriodEnd).Valid()
		},
		raw,
		gen.Bool(),
	))

	properties.Property("cancel at period end always derives cancelled", prop.ForAll(
		func(rawStatus string) bool {
			return DeriveStatus(rawStatus, true) == account.StatusCancelled
		},
		raw,
	))

	properties.Property("active derivation always clears the trial", prop.ForAll(
		func(trialEnd int64, periodEnd int64) bool {
			d := Derive(&billingevent.SubscriptionSnapshot{
				Status:           "active",
				TrialEnd:         lo.ToPtr(trialEnd),
				CurrentPeriodEnd: lo.ToPtr(periodEnd),
			})
			return d.Status == account.StatusActive && d.TrialEndsAt.Op == account.FieldClear
		},
		gen.Int64Range(0, 4102444800),
		gen.Int64Range(0, 4102444800),
	))

	properties.TestingRun(t)
}

func TestDerive(t *testing.T) {
	periodEnd := int64(1767225600)
	trialEnd := int64(1764547200)
	cancelAt := int64(1765000000)

	t.Run("scheduled cancellation defaults cancel_at to period end", func(t *testing.T) {
		d := Derive(&billingevent.SubscriptionSnapshot{
			Status:            "active",
			CancelAtPeriodEnd: true,
			CurrentPeriodEnd:  &periodEnd,
		})
		assert.Equal(t, account.StatusCancelled, d.Status)
		assert.Equal(t, account.SetTime(time.Unix(periodEnd, 0).UTC()), d.CancelAt)
		assert.Equal(t, account.SetTime(time.Unix(periodEnd, 0).UTC()), d.CurrentPeriodEnd)
		assert.Equal(t, account.FieldKeep, d.TrialEndsAt.Op)
	})

	t.Run("explicit cancel_at wins over period end", func(t *testing.T) {
		d := Derive(&billingevent.SubscriptionSnapshot{
			Status:            "active",
			CancelAtPeriodEnd: true,
			CurrentPeriodEnd:  &periodEnd,
			CancelAt:          &cancelAt,
		})
		assert.Equal(t, account.SetTime(time.Unix(cancelAt, 0).UTC()), d.CancelAt)
	})

	t.Run("trialing sets trial end", func(t *testing.T) {
		d := Derive(&billingevent.SubscriptionSnapshot{
			Status:   "trialing",
			TrialEnd: &trialEnd,
		})
		assert.Equal(t, account.StatusTrialing, d.Status)
		assert.Equal(t, account.SetTime(time.Unix(trialEnd, 0).UTC()), d.TrialEndsAt)
		assert.Equal(t, account.FieldKeep, d.CurrentPeriodEnd.Op)
		assert.Equal(t, account.FieldClear, d.CancelAt.Op)
	})

	t.Run("active clears trial end", func(t *testing.T) {
		d := Derive(&billingevent.SubscriptionSnapshot{
			Status:           "active",
			TrialEnd:         &trialEnd,
			CurrentPeriodEnd: &periodEnd,
		})
		assert.Equal(t, account.StatusActive, d.Status)
		assert.Equal(t, account.FieldClear, d.TrialEndsAt.Op)
		assert.Equal(t, account.FieldClear, d.CancelAt.Op)
	})

	t.Run("past due keeps trial end", func(t *testing.T) {
		d := Derive(&billingevent.SubscriptionSnapshot{Status: "past_due", TrialEnd: &trialEnd})
		assert.Equal(t, account.StatusPastDue, d.Status)
		assert.Equal(t, account.FieldKeep, d.TrialEndsAt.Op)
	})
}
