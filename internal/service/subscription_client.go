package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"lending-service/internal/errs"
	"lending-service/internal/models"
)

// SubscriptionGate answers whether a user holds an active, paid
// subscription and what its quota is. Consumed, never reimplemented.
type SubscriptionGate interface {
	ActiveSubscription(ctx context.Context, userID int64) (*models.Subscription, error)
}

// SubscriptionClient talks to the subscription service over HTTP.
type SubscriptionClient struct {
	baseURL string
	client  *http.Client
}

// NewSubscriptionClient creates a subscription gate client with a
// bounded request timeout.
func NewSubscriptionClient(baseURL string, timeout time.Duration) *SubscriptionClient {
	return &SubscriptionClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// ActiveSubscription fetches the user's current subscription. A 404
// means the user has none.
func (c *SubscriptionClient) ActiveSubscription(ctx context.Context, userID int64) (*models.Subscription, error) {
	url := fmt.Sprintf("%s/api/v1/users/%d/subscription", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindDependencyUnavailable, err, "subscription service unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errs.New(errs.KindInvalidRequest, "user %d has no active subscription", userID)
	case resp.StatusCode != http.StatusOK:
		return nil, errs.New(errs.KindDependencyUnavailable,
			"subscription service returned status %d", resp.StatusCode)
	}

	var sub models.Subscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, errs.Wrap(errs.KindDependencyUnavailable, err, "bad subscription response")
	}
	return &sub, nil
}
