// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault is the gateway's client for the credential vault, the
// collaborator that owns message decryption and token custody. The
// gateway never interprets credential material: tokens move through
// it as opaque JSON blobs keyed by (identity, platform, account).
package vault

import "context"

// Store is the vault surface the gateway consumes. Exactly these six
// operations are used; everything else the vault offers is out of
// scope here.
//
// Implementations report vault-side failures as *service.Error so the
// vault's own status code and message reach the gateway's callers
// untouched.
type Store interface {
	DecryptPayload(ctx context.Context, req DecryptRequest) (*DecryptResult, error)
	GetAccessToken(ctx context.Context, query TokenQuery) (string, error)
	StoreToken(ctx context.Context, req StoreTokenRequest) error
	UpdateToken(ctx context.Context, req UpdateTokenRequest) error
	DeleteToken(ctx context.Context, req DeleteTokenRequest) error
	ListStoredTokens(ctx context.Context, longLivedToken string) ([]StoredToken, error)
}

// DecryptRequest identifies the sending device and carries the
// ciphertext lifted from a decoded payload envelope.
type DecryptRequest struct {
	// DeviceID is the envelope's device id in hex. Empty when the
	// envelope carried none; the vault then resolves the identity from
	// the phone number alone.
	DeviceID string

	// PhoneNumber is the sender's number from the request metadata.
	PhoneNumber string

	// Ciphertext is the encrypted message body, standard base64.
	Ciphertext string
}

// DecryptResult is the vault's answer to a decrypt request.
type DecryptResult struct {
	// Plaintext is the decrypted message content, ready for the
	// version-appropriate content extractor.
	Plaintext string `cbor:"payload_plaintext"`

	// CountryCode is the sender's country resolved from their number,
	// carried into publication event details.
	CountryCode string `cbor:"country_code"`
}

// TokenQuery selects one stored credential. The publish path
// identifies the owner by device id and phone number; the
// account-management RPCs identify it by long-lived token. Platform
// and AccountIdentifier are required either way.
type TokenQuery struct {
	DeviceID          string
	PhoneNumber       string
	LongLivedToken    string
	Platform          string
	AccountIdentifier string
}

// StoreTokenRequest files a freshly exchanged credential under the
// owner's long-lived token.
type StoreTokenRequest struct {
	LongLivedToken    string
	Platform          string
	AccountIdentifier string

	// Token is the opaque JSON credential blob.
	Token string
}

// UpdateTokenRequest rewrites a stored credential after an adapter
// reports a refresh, keyed by the publish path's device identity.
type UpdateTokenRequest struct {
	DeviceID          string
	PhoneNumber       string
	Platform          string
	AccountIdentifier string
	Token             string
}

// DeleteTokenRequest removes a stored credential after revocation.
type DeleteTokenRequest struct {
	LongLivedToken    string
	Platform          string
	AccountIdentifier string
}

// StoredToken is one entry in an account's stored-credential listing.
// The listing doubles as the vault's validation of the long-lived
// token itself.
type StoredToken struct {
	Platform          string `cbor:"platform"`
	AccountIdentifier string `cbor:"account_identifier"`
}
