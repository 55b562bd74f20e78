package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"lending-service/internal/errs"
)

// AddressBook resolves a user's default delivery address.
type AddressBook interface {
	DefaultAddress(ctx context.Context, userID int64) (string, error)
}

// AddressClient talks to the profile service over HTTP.
type AddressClient struct {
	baseURL string
	client  *http.Client
}

// NewAddressClient creates an address client with a bounded timeout.
func NewAddressClient(baseURL string, timeout time.Duration) *AddressClient {
	return &AddressClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// DefaultAddress fetches the user's formatted default address.
func (c *AddressClient) DefaultAddress(ctx context.Context, userID int64) (string, error) {
	url := fmt.Sprintf("%s/api/v1/users/%d/default-address", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.KindDependencyUnavailable, err, "address service unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", errs.New(errs.KindInvalidRequest, "user %d has no default address", userID)
	case resp.StatusCode != http.StatusOK:
		return "", errs.New(errs.KindDependencyUnavailable,
			"address service returned status %d", resp.StatusCode)
	}

	var body struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errs.Wrap(errs.KindDependencyUnavailable, err, "bad address response")
	}
	if body.Address == "" {
		return "", errs.New(errs.KindInvalidRequest, "user %d has no default address", userID)
	}
	return body.Address, nil
}
