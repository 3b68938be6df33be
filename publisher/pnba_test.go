// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package publisher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/heraldhq/herald/ipc"
	"github.com/heraldhq/herald/lib/service"
)

func TestGetPNBACode(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testBundle{"telegram", "T", "pnba", "message"})
	h.invoker.respond = func(method string, params map[string]any) (*ipc.Response, error) {
		return &ipc.Response{Result: map[string]any{
			"message": "code sent to +237650000001",
		}}, nil
	}

	raw := request(t, map[string]any{
		"action":             ActionGetPNBACode,
		"phone_number":       "+237650000001",
		"platform":           "telegram",
		"request_identifier": "req-7",
	})
	result, err := h.publisher.getPNBACode(context.Background(), raw)
	if err != nil {
		t.Fatalf("getPNBACode failed: %v", err)
	}

	call := h.invoker.calls[0]
	if call.method != "request_code" {
		t.Errorf("method = %q", call.method)
	}
	if call.params["phone_number"] != "+237650000001" {
		t.Errorf("phone_number param = %v", call.params["phone_number"])
	}
	if call.params["request_identifier"] != "req-7" {
		t.Errorf("request_identifier param = %v", call.params["request_identifier"])
	}

	res := result.(pnbaCodeResult)
	if !res.Success || res.Message != "code sent to +237650000001" {
		t.Errorf("result = %+v", res)
	}
}

func TestGetPNBACodeMissingPlatform(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	raw := request(t, map[string]any{
		"action":       ActionGetPNBACode,
		"phone_number": "+237650000001",
	})

	_, err := h.publisher.getPNBACode(context.Background(), raw)
	wantServiceError(t, err, service.StatusInvalidArgument, "Missing required field: platform")
}

func TestGetPNBACodeAdapterError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testBundle{"telegram", "T", "pnba", "message"})
	h.invoker.respond = func(method string, params map[string]any) (*ipc.Response, error) {
		return &ipc.Response{Error: "flood wait: retry in 30s"}, nil
	}

	raw := request(t, map[string]any{
		"action":       ActionGetPNBACode,
		"phone_number": "+237650000001",
		"platform":     "telegram",
	})
	_, err := h.publisher.getPNBACode(context.Background(), raw)
	wantServiceError(t, err, service.StatusInvalidArgument, "flood wait: retry in 30s")
}

func TestExchangePNBACodeStores(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testBundle{"telegram", "T", "pnba", "message"})
	h.invoker.respond = func(method string, params map[string]any) (*ipc.Response, error) {
		return &ipc.Response{Result: map[string]any{
			"token":   map[string]any{"session": "tg-session-blob"},
			"profile": map[string]any{"account_identifier": "+237650000001"},
		}}, nil
	}

	raw := request(t, map[string]any{
		"action":             ActionExchangePNBACode,
		"long_lived_token":   "llt-1",
		"phone_number":       "+237650000001",
		"platform":           "telegram",
		"authorization_code": "12345",
	})
	result, err := h.publisher.exchangePNBACode(context.Background(), raw)
	if err != nil {
		t.Fatalf("exchangePNBACode failed: %v", err)
	}

	if len(h.vault.lists) != 1 || h.vault.lists[0] != "llt-1" {
		t.Errorf("long-lived token validation calls = %v", h.vault.lists)
	}

	call := h.invoker.calls[0]
	if call.method != "exchange_code" {
		t.Errorf("method = %q", call.method)
	}
	if call.params["phone_number"] != "+237650000001" || call.params["authorization_code"] != "12345" {
		t.Errorf("params = %v", call.params)
	}

	if len(h.vault.stores) != 1 {
		t.Fatalf("stores = %d, want 1", len(h.vault.stores))
	}
	store := h.vault.stores[0]
	if store.Platform != "telegram" || store.AccountIdentifier != "+237650000001" {
		t.Errorf("store = %+v", store)
	}
	var stored map[string]string
	if err := json.Unmarshal([]byte(store.Token), &stored); err != nil {
		t.Fatalf("stored token is not JSON: %v", err)
	}
	if stored["session"] != "tg-session-blob" {
		t.Errorf("stored token = %v", stored)
	}

	res := result.(pnbaExchangeResult)
	if !res.Success || res.Message != "Successfully fetched and stored token" {
		t.Errorf("result = %+v", res)
	}
	if res.TwoStepVerificationEnabled {
		t.Error("two_step_verification_enabled = true, want false")
	}
}

func TestExchangePNBACodeTwoStep(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testBundle{"telegram", "T", "pnba", "message"})
	h.invoker.respond = func(method string, params map[string]any) (*ipc.Response, error) {
		// Providers report the two-step requirement alongside an
		// error string; the signal wins.
		return &ipc.Response{
			Result: map[string]any{"two_step_verification_enabled": true},
			Error:  "password required",
		}, nil
	}

	raw := request(t, map[string]any{
		"action":             ActionExchangePNBACode,
		"long_lived_token":   "llt-1",
		"phone_number":       "+237650000001",
		"platform":           "telegram",
		"authorization_code": "12345",
	})
	result, err := h.publisher.exchangePNBACode(context.Background(), raw)
	if err != nil {
		t.Fatalf("two-step accounts are a success outcome: %v", err)
	}

	res := result.(pnbaExchangeResult)
	if !res.Success || !res.TwoStepVerificationEnabled {
		t.Errorf("result = %+v", res)
	}
	if res.Message != "two-steps verification is enabled and a password is required" {
		t.Errorf("message = %q", res.Message)
	}
	if len(h.vault.stores) != 0 {
		t.Error("no credential exists yet to store")
	}
}

func TestExchangePNBAPasswordRoute(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testBundle{"telegram", "T", "pnba", "message"})
	h.invoker.respond = func(method string, params map[string]any) (*ipc.Response, error) {
		return &ipc.Response{Result: map[string]any{
			"token":   map[string]any{"session": "tg-session-blob"},
			"profile": map[string]any{"account_identifier": "+237650000001"},
		}}, nil
	}

	raw := request(t, map[string]any{
		"action":             ActionExchangePNBACode,
		"long_lived_token":   "llt-1",
		"phone_number":       "+237650000001",
		"platform":           "telegram",
		"authorization_code": "12345",
		"password":           "hunter2",
	})
	result, err := h.publisher.exchangePNBACode(context.Background(), raw)
	if err != nil {
		t.Fatalf("exchangePNBACode failed: %v", err)
	}

	call := h.invoker.calls[0]
	if call.method != "validate_password" {
		t.Errorf("method = %q, want validate_password", call.method)
	}
	if call.params["password"] != "hunter2" {
		t.Errorf("password param = %v", call.params["password"])
	}
	if _, exists := call.params["authorization_code"]; exists {
		t.Error("the password round does not resend the authorization code")
	}
	if !result.(pnbaExchangeResult).Success {
		t.Error("success = false, want true")
	}
}

func TestExchangePNBACodeAdapterError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testBundle{"telegram", "T", "pnba", "message"})
	h.invoker.respond = func(method string, params map[string]any) (*ipc.Response, error) {
		return &ipc.Response{Error: "invalid authorization code"}, nil
	}

	raw := request(t, map[string]any{
		"action":             ActionExchangePNBACode,
		"long_lived_token":   "llt-1",
		"phone_number":       "+237650000001",
		"platform":           "telegram",
		"authorization_code": "00000",
	})
	_, err := h.publisher.exchangePNBACode(context.Background(), raw)
	wantServiceError(t, err, service.StatusInvalidArgument, "invalid authorization code")
	if len(h.vault.stores) != 0 {
		t.Error("failed exchanges must not store")
	}
}
