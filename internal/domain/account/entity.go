// internal/domain/account/entity.go
package account

import (
	"time"
)

type SubscriptionStatus string

const (
	StatusTrialing  SubscriptionStatus = "trialing"
	StatusActive    SubscriptionStatus = "active"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// Valid reports whether s is one of the four canonical statuses.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCancelled:
		return true
	}
	return false
}

// Account is the billing projection of a tenant.
type Account struct {
	AccountID             string             `json:"account_id" db:"account_id"`
	Email                 string             `json:"email" db:"email"`
	BillingCustomerID     *string            `json:"billing_customer_id,omitempty" db:"billing_customer_id"`
	BillingSubscriptionID *string            `json:"billing_subscription_id,omitempty" db:"billing_subscription_id"`
	SubscriptionStatus    SubscriptionStatus `json:"subscription_status" db:"subscription_status"`

	// Billing cycle
	TrialEndsAt      *time.Time `json:"trial_ends_at,omitempty" db:"trial_ends_at"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty" db:"current_period_end"`
	CancelAt         *time.Time `json:"cancel_at,omitempty" db:"cancel_at"`

	IsEarlyAdopter bool `json:"is_early_adopter" db:"is_early_adopter"`

	// LastEventAt is the provider creation time of the newest event applied.
	LastEventAt *time.Time `json:"last_event_at,omitempty" db:"last_event_at"`

	// Timestamps
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FieldOp says what a write does to a nullable column.
type FieldOp int

const (
	FieldKeep FieldOp = iota
	FieldSet
	FieldClear
)

// TimeField is a nullable timestamp column change.
type TimeField struct {
	Op    FieldOp
	Value time.Time
}

func KeepTime() TimeField { return TimeField{Op: FieldKeep} }
func ClearTime() TimeField { return TimeField{Op: FieldClear} }
func SetTime(t time.Time) TimeField { return TimeField{Op: FieldSet, Value: t} }

// Apply returns the column value after the change.
func (f TimeField) Apply(current *time.Time) *time.Time {
	switch f.Op {
	case FieldSet:
		v := f.Value
		return &v
	case FieldClear:
		return nil
	}
	return current
}

// StringField is a nullable text column change.
type StringField struct {
	Op    FieldOp
	Value string
}

func KeepString() StringField { return StringField{Op: FieldKeep} }
func ClearString() StringField { return StringField{Op: FieldClear} }
func SetString(s string) StringField { return StringField{Op: FieldSet, Value: s} }

// Apply returns the column value after the change.
func (f StringField) Apply(current *string) *string {
	switch f.Op {
	case FieldSet:
		v := f.Value
		return &v
	case FieldClear:
		return nil
	}
	return current
}

// BillingUpdate is one reconciliation write against an account row.
//
// The write is applied only when the stored LastEventAt is null or not newer
// than EventAt. MarkEarlyAdopter can only raise the flag. A refused write
// still raises the flag and fills an empty BillingCustomerID.
type BillingUpdate struct {
	Status                SubscriptionStatus
	BillingCustomerID     StringField
	BillingSubscriptionID StringField
	TrialEndsAt           TimeField
	CurrentPeriodEnd      TimeField
	CancelAt              TimeField
	MarkEarlyAdopter      bool

	EventAt   time.Time
	UpdatedAt time.Time
}

// ApplyTo returns a copy of a with the update applied, ignoring the ordering check.
func (u *BillingUpdate) ApplyTo(a *Account) *Account {
	out := *a
	out.SubscriptionStatus = u.Status
	out.BillingCustomerID = u.BillingCustomerID.Apply(a.BillingCustomerID)
	out.BillingSubscriptionID = u.BillingSubscriptionID.Apply(a.BillingSubscriptionID)
	out.TrialEndsAt = u.TrialEndsAt.Apply(a.TrialEndsAt)
	out.CurrentPeriodEnd = u.CurrentPeriodEnd.Apply(a.CurrentPeriodEnd)
	out.CancelAt = u.CancelAt.Apply(a.CancelAt)
	out.IsEarlyAdopter = a.IsEarlyAdopter || u.MarkEarlyAdopter
	eventAt := u.EventAt
	out.LastEventAt = &eventAt
	out.UpdatedAt = u.UpdatedAt
	return &out
}

// MergeStickyInto returns a copy of a with only the order independent fields
// applied: the early adopter flag and a customer id the row does not hold yet.
func (u *BillingUpdate) MergeStickyInto(a *Account) *Account {
	out := *a
	out.IsEarlyAdopter = a.IsEarlyAdopter || u.MarkEarlyAdopter
	if a.BillingCustomerID == nil && u.BillingCustomerID.Op == FieldSet {
		out.BillingCustomerID = u.BillingCustomerID.Apply(nil)
	}
	if out.IsEarlyAdopter != a.IsEarlyAdopter || out.BillingCustomerID != a.BillingCustomerID {
		out.UpdatedAt = u.UpdatedAt
	}
	return &out
}

// CustomerIDArg returns the customer id to fill when the stored one is null.
func (u *BillingUpdate) CustomerIDArg() *string {
	if u.BillingCustomerID.Op != FieldSet {
		return nil
	}
	v := u.BillingCustomerID.Value
	return &v
}

// Accepts reports whether an update for an event created at eventAt may be applied.
func (a *Account) Accepts(eventAt time.Time) bool {
	return a.LastEventAt == nil || !a.LastEventAt.After(eventAt)
}
