// internal/service/reconcile/derive.go
package reconcile

import (
	"time"

	"billing-service/internal/domain/account"
	"billing-service/internal/domain/billingevent"
)

// Raw provider statuses the derivation distinguishes.
const (
	rawStatusActive   = "active"
	rawStatusTrialing = "trialing"
	rawStatusPastDue  = "past_due"
)

// DeriveStatus maps a provider subscription status to a canonical status.
// A subscription scheduled to lapse at period end counts as cancelled.
func DeriveStatus(rawStatus string, cancelAtPeriodEnd bool) account.SubscriptionStatus {
	if cancelAtPeriodEnd {
		return account.StatusCancelled
	}
	switch rawStatus {
	case rawStatusActive:
		return account.StatusActive
	case rawStatusTrialing:
		return account.StatusTrialing
	case rawStatusPastDue:
		return account.StatusPastDue
	default:
		return account.StatusCancelled
	}
}

// Derivation is the account state computed from one subscription snapshot.
type Derivation struct {
	Status           account.SubscriptionStatus
	TrialEndsAt      account.TimeField
	CurrentPeriodEnd account.TimeField
	CancelAt         account.TimeField
}

// Derive computes status and billing-cycle fields from a snapshot. Every
// event type that carries a snapshot goes through here.
func Derive(snap *billingevent.SubscriptionSnapshot) Derivation {
	d := Derivation{
		Status:           DeriveStatus(snap.Status, snap.CancelAtPeriodEnd),
		TrialEndsAt:      account.KeepTime(),
		CurrentPeriodEnd: account.KeepTime(),
		CancelAt:         account.ClearTime(),
	}

	switch {
	case snap.Status == rawStatusTrialing && snap.TrialEnd != nil:
		d.TrialEndsAt = account.SetTime(epoch(*snap.TrialEnd))
	case d.Status == account.StatusActive:
		d.TrialEndsAt = account.ClearTime()
	}

	if snap.CurrentPeriodEnd != nil {
		d.CurrentPeriodEnd = account.SetTime(epoch(*snap.CurrentPeriodEnd))
	}

	switch {
	case snap.CancelAt != nil:
		d.CancelAt = account.SetTime(epoch(*snap.CancelAt))
	case snap.CancelAtPeriodEnd && snap.CurrentPeriodEnd != nil:
		d.CancelAt = account.SetTime(epoch(*snap.CurrentPeriodEnd))
	}

	return d
}

func epoch(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
