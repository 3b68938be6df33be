// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package publisher

import (
	"context"
	"encoding/json"

	"github.com/heraldhq/herald/adapter"
	"github.com/heraldhq/herald/lib/service"
	"github.com/heraldhq/herald/vault"
)

type pnbaCodeRequest struct {
	PhoneNumber       string `cbor:"phone_number"`
	Platform          string `cbor:"platform"`
	RequestIdentifier string `cbor:"request_identifier"`
}

type pnbaCodeResult struct {
	Success bool   `cbor:"success"`
	Message string `cbor:"message"`
}

// getPNBACode handles the get-pnba-code action: ask the platform to
// text an authentication code to the given number.
func (p *Publisher) getPNBACode(ctx context.Context, raw []byte) (any, error) {
	var req pnbaCodeRequest
	if err := decodeRequest(raw, &req); err != nil {
		return nil, err
	}
	err := requireFields(
		field{"phone_number", req.PhoneNumber},
		field{"platform", req.Platform},
	)
	if err != nil {
		return nil, err
	}

	entry, err := p.resolveAdapter(req.Platform, adapter.ProtocolPNBA)
	if err != nil {
		return nil, err
	}

	params := map[string]any{"phone_number": req.PhoneNumber}
	if req.RequestIdentifier != "" {
		params["request_identifier"] = req.RequestIdentifier
	}

	res, err := p.invokeAdapter(ctx, entry, methodRequestCode, params)
	if err != nil {
		return nil, p.internalFailure(err)
	}
	if res.Error != "" {
		return nil, service.NewError(service.StatusInvalidArgument, res.Error)
	}

	return pnbaCodeResult{
		Success: true,
		Message: stringField(res.ResultMap(), "message"),
	}, nil
}

type exchangePNBARequest struct {
	LongLivedToken    string `cbor:"long_lived_token"`
	PhoneNumber       string `cbor:"phone_number"`
	Platform          string `cbor:"platform"`
	AuthorizationCode string `cbor:"authorization_code"`
	Password          string `cbor:"password"`
	RequestIdentifier string `cbor:"request_identifier"`
}

type pnbaExchangeResult struct {
	Success                    bool   `cbor:"success"`
	TwoStepVerificationEnabled bool   `cbor:"two_step_verification_enabled,omitempty"`
	Message                    string `cbor:"message"`
}

// exchangePNBACode handles the exchange-pnba-code action. Accounts
// with two-step verification need a second round trip: the first
// exchange reports two_step_verification_enabled and the caller
// retries with the account password.
func (p *Publisher) exchangePNBACode(ctx context.Context, raw []byte) (any, error) {
	var req exchangePNBARequest
	if err := decodeRequest(raw, &req); err != nil {
		return nil, err
	}
	err := requireFields(
		field{"long_lived_token", req.LongLivedToken},
		field{"phone_number", req.PhoneNumber},
		field{"platform", req.Platform},
		field{"authorization_code", req.AuthorizationCode},
	)
	if err != nil {
		return nil, err
	}

	entry, err := p.resolveAdapter(req.Platform, adapter.ProtocolPNBA)
	if err != nil {
		return nil, err
	}

	if _, err := p.vault.ListStoredTokens(ctx, req.LongLivedToken); err != nil {
		return nil, vaultError(err)
	}

	method := methodExchangeCode
	params := map[string]any{"phone_number": req.PhoneNumber}
	if req.Password != "" {
		method = methodValidatePassword
		params["password"] = req.Password
	} else {
		params["authorization_code"] = req.AuthorizationCode
	}
	if req.RequestIdentifier != "" {
		params["request_identifier"] = req.RequestIdentifier
	}

	res, err := p.invokeAdapter(ctx, entry, method, params)
	if err != nil {
		return nil, p.internalFailure(err)
	}

	// The two-step signal outranks the error field: the exchange did
	// its job, the account just needs its password round.
	result := res.ResultMap()
	if boolField(result, "two_step_verification_enabled") {
		return pnbaExchangeResult{
			Success:                    true,
			TwoStepVerificationEnabled: true,
			Message:                    "two-steps verification is enabled and a password is required",
		}, nil
	}
	if res.Error != "" {
		return nil, service.NewError(service.StatusInvalidArgument, res.Error)
	}

	profile, _ := result["profile"].(map[string]any)
	account := stringField(profile, "account_identifier")

	blob, err := json.Marshal(result["token"])
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

	return pnbaExchangeResult{
		Success: true,
		Message: "Successfully fetched and stored token",
	}, nil
}
