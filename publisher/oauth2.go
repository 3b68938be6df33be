// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package publisher

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/heraldhq/herald/adapter"
	"github.com/heraldhq/herald/lib/service"
	"github.com/heraldhq/herald/vault"
)

type authorizationURLRequest struct {
	Platform                 string `cbor:"platform"`
	State                    string `cbor:"state"`
	CodeVerifier             string `cbor:"code_verifier"`
	AutogenerateCodeVerifier bool   `cbor:"autogenerate_code_verifier"`
	RedirectURL              string `cbor:"redirect_url"`
	RequestIdentifier        string `cbor:"request_identifier"`
}

type authorizationURLResult struct {
	AuthorizationURL string `cbor:"authorization_url"`
	State            string `cbor:"state,omitempty"`
	CodeVerifier     string `cbor:"code_verifier,omitempty"`
	ClientID         string `cbor:"client_id,omitempty"`
	Scope            string `cbor:"scope,omitempty"`
	RedirectURL      string `cbor:"redirect_url,omitempty"`
	Message          string `cbor:"message"`
}

// getOAuth2AuthorizationURL handles the get-oauth2-authorization-url
// action: the adapter builds the provider's consent URL plus the
// client-side handshake material (state, PKCE verifier).
func (p *Publisher) getOAuth2AuthorizationURL(ctx context.Context, raw []byte) (any, error) {
	var req authorizationURLRequest
	if err := decodeRequest(raw, &req); err != nil {
		return nil, err
	}
	if err := requireFields(field{"platform", req.Platform}); err != nil {
		return nil, err
	}

	entry, err := p.resolveAdapter(req.Platform, adapter.ProtocolOAuth2)
	if err != nil {
		return nil, err
	}

	params := map[string]any{
		"autogenerate_code_verifier": req.AutogenerateCodeVerifier,
	}
	if req.State != "" {
		params["state"] = req.State
	}
	if req.CodeVerifier != "" {
		params["code_verifier"] = req.CodeVerifier
	}
	if req.RedirectURL != "" {
		params["redirect_url"] = req.RedirectURL
	}
	if req.RequestIdentifier != "" {
		params["request_identifier"] = req.RequestIdentifier
	}

	res, err := p.invokeAdapter(ctx, entry, methodGetAuthorizationURL, params)
	if err != nil {
		return nil, p.internalFailure(err)
	}
	if res.Error != "" {
		return nil, service.NewError(service.StatusInvalidArgument, res.Error)
	}

	result := res.ResultMap()
	return authorizationURLResult{
		AuthorizationURL: stringField(result, "authorization_url"),
		State:            stringField(result, "state"),
		CodeVerifier:     stringField(result, "code_verifier"),
		ClientID:         stringField(result, "client_id"),
		Scope:            stringField(result, "scope"),
		RedirectURL:      stringField(result, "redirect_uri"),
		Message:          "Successfully generated authorization url",
	}, nil
}

type exchangeOAuth2Request struct {
	LongLivedToken    string `cbor:"long_lived_token"`
	Platform          string `cbor:"platform"`
	AuthorizationCode string `cbor:"authorization_code"`
	CodeVerifier      string `cbor:"code_verifier"`
	RedirectURL       string `cbor:"redirect_url"`
	StoreOnDevice     bool   `cbor:"store_on_device"`
}

type exchangeResult struct {
	Success bool              `cbor:"success"`
	Message string            `cbor:"message"`
	Tokens  map[string]string `cbor:"tokens,omitempty"`
}

// exchangeOAuth2Code handles the exchange-oauth2-code action: trade
// the authorization code for a credential, validate it, and file it
// in the vault under the caller's long-lived token.
func (p *Publisher) exchangeOAuth2Code(ctx context.Context, raw []byte) (any, error) {
	var req exchangeOAuth2Request
	if err := decodeRequest(raw, &req); err != nil {
		return nil, err
	}
	err := requireFields(
		field{"long_lived_token", req.LongLivedToken},
		field{"platform", req.Platform},
		field{"authorization_code", req.AuthorizationCode},
	)
	if err != nil {
		return nil, err
	}

	entry, err := p.resolveAdapter(req.Platform, adapter.ProtocolOAuth2)
	if err != nil {
		return nil, err
	}

	// Listing stored tokens doubles as the vault's validation of the
	// long-lived token; an invalid caller never reaches the provider.
	if _, err := p.vault.ListStoredTokens(ctx, req.LongLivedToken); err != nil {
		return nil, vaultError(err)
	}

	params := map[string]any{"authorization_code": req.AuthorizationCode}
	if req.CodeVerifier != "" {
		params["code_verifier"] = req.CodeVerifier
	}
	if req.RedirectURL != "" {
		params["redirect_url"] = req.RedirectURL
	}

	res, err := p.invokeAdapter(ctx, entry, methodExchangeCode, params)
	if err != nil {
		return nil, p.internalFailure(err)
	}
	if res.Error != "" {
		return nil, service.NewError(service.StatusInvalidArgument, res.Error)
	}

	result := res.ResultMap()
	token, _ := result["token"].(map[string]any)

	if stringField(token, "refresh_token") == "" {
		return nil, service.NewError(service.StatusInvalidArgument,
			"invalid token: No refresh token present.")
	}

	expected := stringSlice(result["scope"])
	granted := strings.Fields(stringField(token, "scope"))
	if !scopesSubset(expected, granted) {
		return nil, service.Errorf(service.StatusInvalidArgument,
			"invalid token: Scopes do not match. Expected: %s, Received: %s",
			joinScopes(expected), joinScopes(granted))
	}

	profile, _ := result["profile"].(map[string]any)
	account := stringField(profile, "account_identifier")

	// With store_on_device the device keeps the secrets and the vault
	// keeps only the remainder of the credential.
	var deviceTokens map[string]string
	if req.StoreOnDevice {
		deviceTokens = map[string]string{
			"access_token":  stringField(token, "access_token"),
			"refresh_token": stringField(token, "refresh_token"),
			"id_token":      stringField(token, "id_token"),
		}
		delete(token, "access_token")
		delete(token, "refresh_token")
		delete(token, "id_token")
	}

	blob, err := json.Marshal(token)
	if err != nil {
		return nil, p.internalFailure(err)
	}
	err = p.vault.StoreToken(ctx, vault.StoreTokenRequest{
		LongLivedToken:    req.LongLivedToken,
		Platform:          req.Platform,
		AccountIdentifier: account,
		Token:             string(blob),
	})
	if err != nil {
		return nil, vaultError(err)
	}

	return exchangeResult{
		Success: true,
		Message: "Successfully fetched and stored token",
		Tokens:  deviceTokens,
	}, nil
}

type revokeTokenRequest struct {
	LongLivedToken    string `cbor:"long_lived_token"`
	Platform          string `cbor:"platform"`
	AccountIdentifier string `cbor:"account_identifier"`
}

type revokeResult struct {
	Success bool   `cbor:"success"`
	Message string `cbor:"message"`
}

func (p *Publisher) revokeOAuth2Token(ctx context.Context, raw []byte) (any, error) {
	return p.revokeAndDeleteToken(ctx, raw, adapter.ProtocolOAuth2)
}

func (p *Publisher) revokePNBAToken(ctx context.Context, raw []byte) (any, error) {
	return p.revokeAndDeleteToken(ctx, raw, adapter.ProtocolPNBA)
}

// revokeAndDeleteToken is the shared revoke flow: tell the provider
// to invalidate the credential, then remove it from the vault. The
// deletion proceeds even when provider-side revocation is refused;
// a credential the vault no longer holds cannot be used either way.
func (p *Publisher) revokeAndDeleteToken(ctx context.Context, raw []byte, protocol string) (any, error) {
	var req revokeTokenRequest
	if err := decodeRequest(raw, &req); err != nil {
		return nil, err
	}
	err := requireFields(
		field{"long_lived_token", req.LongLivedToken},
		field{"platform", req.Platform},
		field{"account_identifier", req.AccountIdentifier},
	)
	if err != nil {
		return nil, err
	}

	entry, err := p.resolveAdapter(req.Platform, protocol)
	if err != nil {
		return nil, err
	}

	stored, err := p.vault.GetAccessToken(ctx, vault.TokenQuery{
		LongLivedToken:    req.LongLivedToken,
		Platform:          req.Platform,
		AccountIdentifier: req.AccountIdentifier,
	})
	if err != nil {
		return nil, vaultError(err)
	}

	var token any
	if err := json.Unmarshal([]byte(stored), &token); err != nil {
		return nil, p.internalFailure(err)
	}

	res, err := p.invokeAdapter(ctx, entry, methodRevokeToken, map[string]any{"token": token})
	if err != nil {
		return nil, p.internalFailure(err)
	}
	if res.Error != "" {
		p.logger.Warn("provider-side revocation refused, deleting anyway",
			"platform", req.Platform,
			"account", req.AccountIdentifier,
			"error", res.Error,
		)
	}

	err = p.vault.DeleteToken(ctx, vault.DeleteTokenRequest{
		LongLivedToken:    req.LongLivedToken,
		Platform:          req.Platform,
		AccountIdentifier: req.AccountIdentifier,
	})
	if err != nil {
		return nil, vaultError(err)
	}

	return revokeResult{Success: true, Message: "Successfully deleted token"}, nil
}

// scopesSubset reports whether every expected scope was granted.
func scopesSubset(expected, granted []string) bool {
	have := make(map[string]bool, len(granted))
	for _, scope := range granted {
		have[scope] = true
	}
	for _, scope := range expected {
		if !have[scope] {
			return false
		}
	}
	return true
}

// joinScopes renders a scope list for the mismatch message, sorted so
// the wording is stable.
func joinScopes(scopes []string) string {
	sorted := append([]string(nil), scopes...)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}
