// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"time"

	"github.com/heraldhq/herald/lib/service"
	"github.com/heraldhq/herald/metrics"
)

// Vault socket actions, one per Store operation.
const (
	actionDecryptPayload   = "decrypt-payload"
	actionGetAccessToken   = "get-access-token"
	actionStoreToken       = "store-token"
	actionUpdateToken      = "update-token"
	actionDeleteToken      = "delete-token"
	actionListStoredTokens = "list-stored-tokens"
)

// defaultTimeout bounds one vault call when the config leaves the
// timeout unset.
const defaultTimeout = 30 * time.Second

// Client implements Store over the vault's unix socket.
type Client struct {
	rpc     *service.Client
	timeout time.Duration
}

var _ Store = (*Client)(nil)

// NewClient creates a vault client for the socket at socketPath.
// Each call is bounded by timeout (<= 0 selects the default).
func NewClient(socketPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{rpc: service.NewClient(socketPath), timeout: timeout}
}

// call runs one vault action under the client's timeout and records
// the outcome.
func (c *Client) call(ctx context.Context, action string, fields map[string]any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.rpc.Call(ctx, action, fields, result)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.VaultRequestsTotal.WithLabelValues(action, outcome).Inc()

	return err
}

// identityFields adds the optional owner-identity keys to fields,
// omitting the ones the caller left empty. The vault resolves the
// owner from whichever identity the path provides.
func identityFields(fields map[string]any, deviceID, phoneNumber, longLivedToken string) {
	if deviceID != "" {
		fields["device_id"] = deviceID
	}
	if phoneNumber != "" {
		fields["phone_number"] = phoneNumber
	}
	if longLivedToken != "" {
		fields["long_lived_token"] = longLivedToken
	}
}

// DecryptPayload asks the vault to decrypt one message ciphertext.
func (c *Client) DecryptPayload(ctx context.Context, req DecryptRequest) (*DecryptResult, error) {
	fields := map[string]any{
		"payload_ciphertext": req.Ciphertext,
	}
	identityFields(fields, req.DeviceID, req.PhoneNumber, "")

	var result DecryptResult
	if err := c.call(ctx, actionDecryptPayload, fields, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetAccessToken fetches the stored credential blob for one account.
func (c *Client) GetAccessToken(ctx context.Context, query TokenQuery) (string, error) {
	fields := map[string]any{
		"platform":           query.Platform,
		"account_identifier": query.AccountIdentifier,
	}
	identityFields(fields, query.DeviceID, query.PhoneNumber, query.LongLivedToken)

	var result struct {
		Token string `cbor:"token"`
	}
	if err := c.call(ctx, actionGetAccessToken, fields, &result); err != nil {
		return "", err
	}
	return result.Token, nil
}

// StoreToken files a new credential under the owner's long-lived
// token.
func (c *Client) StoreToken(ctx context.Context, req StoreTokenRequest) error {
	return c.call(ctx, actionStoreToken, map[string]any{
		"long_lived_token":   req.LongLivedToken,
		"platform":           req.Platform,
		"account_identifier": req.AccountIdentifier,
		"token":              req.Token,
	}, nil)
}

// UpdateToken rewrites a stored credential in place.
func (c *Client) UpdateToken(ctx context.Context, req UpdateTokenRequest) error {
	fields := map[string]any{
		"platform":           req.Platform,
		"account_identifier": req.AccountIdentifier,
		"token":              req.Token,
	}
	identityFields(fields, req.DeviceID, req.PhoneNumber, "")

	return c.call(ctx, actionUpdateToken, fields, nil)
}

// DeleteToken removes a stored credential.
func (c *Client) DeleteToken(ctx context.Context, req DeleteTokenRequest) error {
	return c.call(ctx, actionDeleteToken, map[string]any{
		"long_lived_token":   req.LongLivedToken,
		"platform":           req.Platform,
		"account_identifier": req.AccountIdentifier,
	}, nil)
}

// ListStoredTokens returns the credential listing for a long-lived
// token. Callers that only need to know the token is valid discard
// the list.
func (c *Client) ListStoredTokens(ctx context.Context, longLivedToken string) ([]StoredToken, error) {
	var result struct {
		StoredTokens []StoredToken `cbor:"stored_tokens"`
	}
	err := c.call(ctx, actionListStoredTokens, map[string]any{
		"long_lived_token": longLivedToken,
	}, &result)
	if err != nil {
		return nil, err
	}
	return result.StoredTokens, nil
}
