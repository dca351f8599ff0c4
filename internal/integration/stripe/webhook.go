// internal/integration/stripe/webhook.go
package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"billing-service/internal/domain/billingevent"
	xerrors "billing-service/internal/pkg/errors"

	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	// SignatureHeader carries the provider's HMAC signature.
	SignatureHeader = "Stripe-Signature"

	// MaxBodyBytes bounds the webhook payload read.
	MaxBodyBytes int64 = 1 << 20
)

// ParseEvent verifies payload against sigHeader and decodes it into a
// provider-neutral event. Signature failures wrap xerrors.ErrSignatureInvalid;
// a verified but undecodable body wraps xerrors.ErrInvalidPayload.
func ParseEvent(payload []byte, sigHeader, secret string) (*billingevent.Event, error) {
	if secret == "" {
		return nil, xerrors.ErrSecretNotConfigured
	}
	if strings.TrimSpace(sigHeader) == "" {
		return nil, xerrors.ErrSignatureMissing
	}

	raw, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, fmt.Errorf("%w: %v", xerrors.ErrSignatureInvalid, err)
		}
		return nil, fmt.Errorf("%w: %v", xerrors.ErrInvalidPayload, err)
	}
	if raw.ID == "" || raw.Data == nil {
		return nil, fmt.Errorf("%w: event id or data missing", xerrors.ErrInvalidPayload)
	}

	ev := &billingevent.Event{
		ID:        raw.ID,
		Type:      billingevent.EventType(raw.Type),
		CreatedAt: time.Unix(raw.Created, 0).UTC(),
		Raw:       raw.Data.Raw,
	}

	switch ev.Type {
	case billingevent.EventCheckoutCompleted:
		var session wireCheckoutSession
		if err := json.Unmarshal(raw.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: decode checkout session: %v", xerrors.ErrInvalidPayload, err)
		}
		ev.Checkout = session.toDomain()
	case billingevent.EventSubscriptionCreated,
		billingevent.EventSubscriptionUpdated,
		billingevent.EventSubscriptionDeleted:
		var sub wireSubscription
		if err := json.Unmarshal(raw.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: decode subscription: %v", xerrors.ErrInvalidPayload, err)
		}
		ev.Subscription = sub.toDomain()
	}

	return ev, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
