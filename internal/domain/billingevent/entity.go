// internal/domain/billingevent/entity.go
package billingevent

import (
	"encoding/json"
	"strings"
	"time"
)

type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout.session.completed"
	EventSubscriptionCreated EventType = "customer.subscription.created"
	EventSubscriptionUpdated EventType = "customer.subscription.updated"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
)

const (
	MetadataAccountID       = "account_id"
	MetadataLegacyAccountID = "user_id"
	MetadataEarlyAdopter    = "is_early_adopter"
)

const CheckoutModeSubscription = "subscription"

// ProcessedEvent is one provider event already admitted. Rows are append-only.
type ProcessedEvent struct {
	ID          string    `json:"id" db:"id"`
	EventType   string    `json:"event_type" db:"event_type"`
	ProcessedAt time.Time `json:"processed_at" db:"processed_at"`
}

// Metadata is the out-of-band key/value map set when checkout was initiated.
type Metadata map[string]string

// AccountID returns the account identifier carried in metadata, if any.
func (m Metadata) AccountID() string {
	if m == nil {
		return ""
	}
	if id := strings.TrimSpace(m[MetadataAccountID]); id != "" {
		return id
	}
	return strings.TrimSpace(m[MetadataLegacyAccountID])
}

// EarlyAdopter reports whether metadata flags the account as an early adopter.
func (m Metadata) EarlyAdopter() bool {
	if m == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(m[MetadataEarlyAdopter]), "true")
}

// SubscriptionSnapshot is the provider's view of a subscription when an event fired.
// Epoch fields are seconds and nil when the provider sent none.
type SubscriptionSnapshot struct {
	ID                string   `json:"id"`
	CustomerID        string   `json:"customer_id,omitempty"`
	Status            string   `json:"status"`
	CancelAtPeriodEnd bool     `json:"cancel_at_period_end"`
	TrialEnd          *int64   `json:"trial_end,omitempty"`
	CurrentPeriodEnd  *int64   `json:"current_period_end,omitempty"`
	CancelAt          *int64   `json:"cancel_at,omitempty"`
	Metadata          Metadata `json:"metadata,omitempty"`
}

// CheckoutSession is the subset of a completed checkout the engine reads.
type CheckoutSession struct {
	ID                string   `json:"id"`
	Mode              string   `json:"mode"`
	CustomerID        string   `json:"customer_id,omitempty"`
	SubscriptionID    string   `json:"subscription_id,omitempty"`
	ClientReferenceID string   `json:"client_reference_id,omitempty"`
	Metadata          Metadata `json:"metadata,omitempty"`
}

// Event is a verified, provider-neutral billing notification.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	CreatedAt time.Time `json:"created_at"`

	Checkout     *CheckoutSession      `json:"checkout,omitempty"`
	Subscription *SubscriptionSnapshot `json:"subscription,omitempty"`

	Raw json.RawMessage `json:"raw,omitempty"`
}

// Metadata returns the metadata map of whichever object the event carries.
func (e *Event) Metadata() Metadata {
	switch {
	case e.Checkout != nil:
		return e.Checkout.Metadata
	case e.Subscription != nil:
		return e.Subscription.Metadata
	}
	return nil
}

// AccountID returns the account identifier linked to the event by metadata.
// Checkout sessions fall back to the client reference id.
func (e *Event) AccountID() string {
	if id := e.Metadata().AccountID(); id != "" {
		return id
	}
	if e.Checkout != nil {
		return strings.TrimSpace(e.Checkout.ClientReferenceID)
	}
	return ""
}

// SubscriptionID returns the provider subscription id the event refers to.
func (e *Event) SubscriptionID() string {
	switch {
	case e.Subscription != nil:
		return e.Subscription.ID
	case e.Checkout != nil:
		return e.Checkout.SubscriptionID
	}
	return ""
}

// CustomerID returns the provider customer id the event refers to.
func (e *Event) CustomerID() string {
	switch {
	case e.Checkout != nil:
		return e.Checkout.CustomerID
	case e.Subscription != nil:
		return e.Subscription.CustomerID
	}
	return ""
}

// DeadLetter is an admitted event whose branch logic failed.
type DeadLetter struct {
	Event     Event     `json:"event"`
	Error     string    `json:"error"`
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failed_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
