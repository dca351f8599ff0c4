// internal/integration/stripe/client.go
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"billing-service/internal/domain/billingevent"
	xerrors "billing-service/internal/pkg/errors"
	"billing-service/internal/pkg/logger"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/samber/lo"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.uber.org/zap"
)

type Config struct {
	SecretKey  string
	MaxRetries int
	Timeout    time.Duration
}

// Client reads subscriptions and customers from the Stripe API.
type Client struct {
	api    *client.API
	logger *zap.Logger
}

// NewClient builds an API client whose transport retries transient failures.
// Stripe's own retry loop is disabled so attempts are not multiplied.
func NewClient(cfg Config, log *zap.Logger) *Client {
	backendCfg := &stripeapi.BackendConfig{
		HTTPClient:        newHTTPClient(cfg, log),
		LeveledLogger:     log.Sugar(),
		MaxNetworkRetries: stripeapi.Int64(0),
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripeapi.Backends{
		API:     stripeapi.GetBackendWithConfig(stripeapi.APIBackend, backendCfg),
		Connect: stripeapi.GetBackendWithConfig(stripeapi.ConnectBackend, backendCfg),
		Uploads: stripeapi.GetBackendWithConfig(stripeapi.UploadsBackend, backendCfg),
	})

	return &Client{api: api, logger: log}
}

func newHTTPClient(cfg Config, log *zap.Logger) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = logger.RetryableHTTPLogger(log)
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}
	return rc.StandardClient()
}

// GetSubscription fetches the current state of a subscription
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*billingevent.SubscriptionSnapshot, error) {
	params := &stripeapi.SubscriptionParams{}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription %s: %w", subscriptionID, classify(err))
	}
	return snapshotFromAPI(sub), nil
}

// GetCustomerEmail returns the email on file for a customer
func (c *Client) GetCustomerEmail(ctx context.Context, customerID string) (string, error) {
	params := &stripeapi.CustomerParams{}
	params.Context = ctx

	cust, err := c.api.Customers.Get(customerID, params)
	if err != nil {
		return "", fmt.Errorf("failed to get customer %s: %w", customerID, classify(err))
	}
	if cust.Deleted {
		return "", xerrors.ErrNotFound
	}
	return strings.TrimSpace(cust.Email), nil
}

func snapshotFromAPI(sub *stripeapi.Subscription) *billingevent.SubscriptionSnapshot {
	var itemEnds []int64
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			itemEnds = append(itemEnds, item.CurrentPeriodEnd)
		}
	}

	snap := &billingevent.SubscriptionSnapshot{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		TrialEnd:          lo.EmptyableToPtr(sub.TrialEnd),
		CurrentPeriodEnd:  lo.EmptyableToPtr(latestPeriodEnd(itemEnds)),
		CancelAt:          lo.EmptyableToPtr(sub.CancelAt),
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	return snap
}

// classify maps API errors onto the application's sentinels.
func classify(err error) error {
	var apiErr *stripeapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s", xerrors.ErrNotFound, apiErr.Msg)
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: %s", xerrors.ErrProviderUnavailable, apiErr.Msg)
		}
		return err
	}
	return fmt.Errorf("%w: %v", xerrors.ErrProviderUnavailable, err)
}
