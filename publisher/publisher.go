// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

// Package publisher orchestrates message publication. It owns the
// gateway's socket actions: publish-content threads each inbound
// payload through decoding, platform identification, vault
// decryption, content extraction, credential handling, and adapter
// delivery, and the token-lifecycle actions manage OAuth2 and
// phone-number-auth credentials around the same adapter surface.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/heraldhq/herald/adapter"
	"github.com/heraldhq/herald/ipc"
	"github.com/heraldhq/herald/lib/clock"
	"github.com/heraldhq/herald/lib/codec"
	"github.com/heraldhq/herald/lib/service"
	"github.com/heraldhq/herald/metrics"
	"github.com/heraldhq/herald/notify"
	"github.com/heraldhq/herald/vault"
)

// Actions served on the gateway socket.
const (
	ActionPublishContent            = "publish-content"
	ActionGetOAuth2AuthorizationURL = "get-oauth2-authorization-url"
	ActionExchangeOAuth2Code        = "exchange-oauth2-code"
	ActionRevokeOAuth2Token         = "revoke-oauth2-token"
	ActionGetPNBACode               = "get-pnba-code"
	ActionExchangePNBACode          = "exchange-pnba-code"
	ActionRevokePNBAToken           = "revoke-pnba-token"
)

// Adapter methods invoked over the subprocess channel.
const (
	methodGetAuthorizationURL = "get_authorization_url"
	methodExchangeCode        = "exchange_code"
	methodValidatePassword    = "validate_password"
	methodRequestCode         = "request_code"
	methodRevokeToken         = "revoke_token"
	methodSendMessage         = "send_message"
	methodUpdateTest          = "update_test"
)

// genericFailure is the only detail callers see for faults they
// cannot act on. The real cause goes to tracking and the log.
const genericFailure = "Oops! Something went wrong. Please try again later."

// AdapterInvoker runs one adapter method in its bundle's subprocess.
// Satisfied by *ipc.Invoker.
type AdapterInvoker interface {
	Invoke(ctx context.Context, adapterDir, runtimeDir, method string, params map[string]any) (*ipc.Response, error)
}

var _ AdapterInvoker = (*ipc.Invoker)(nil)

// Publisher is the publication orchestrator behind the gateway's
// socket actions.
type Publisher struct {
	registry *adapter.Registry
	vault    vault.Store
	invoker  AdapterInvoker
	notifier *notify.Dispatcher
	tracker  notify.Tracker
	clk      clock.Clock
	logger   *slog.Logger
}

// Config wires a Publisher's collaborators.
type Config struct {
	Registry *adapter.Registry
	Vault    vault.Store
	Invoker  AdapterInvoker
	Notifier *notify.Dispatcher
	Tracker  notify.Tracker
	Clock    clock.Clock
	Logger   *slog.Logger
}

// New creates a Publisher. A nil Clock selects the wall clock.
func New(cfg Config) *Publisher {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Publisher{
		registry: cfg.Registry,
		vault:    cfg.Vault,
		invoker:  cfg.Invoker,
		notifier: cfg.Notifier,
		tracker:  cfg.Tracker,
		clk:      clk,
		logger:   cfg.Logger,
	}
}

// Register wires the publisher's actions onto the socket server.
func (p *Publisher) Register(server *service.SocketServer) {
	server.Handle(ActionPublishContent, p.publishContent)
	server.Handle(ActionGetOAuth2AuthorizationURL, p.getOAuth2AuthorizationURL)
	server.Handle(ActionExchangeOAuth2Code, p.exchangeOAuth2Code)
	server.Handle(ActionRevokeOAuth2Token, p.revokeOAuth2Token)
	server.Handle(ActionGetPNBACode, p.getPNBACode)
	server.Handle(ActionExchangePNBACode, p.exchangePNBACode)
	server.Handle(ActionRevokePNBAToken, p.revokePNBAToken)
}

// decodeRequest unmarshals the raw action payload into req.
func decodeRequest(raw []byte, req any) error {
	if err := codec.Unmarshal(raw, req); err != nil {
		return service.Errorf(service.StatusInvalidArgument, "invalid request: %v", err)
	}
	return nil
}

// field is one required request field for validation.
type field struct {
	name  string
	value string
}

// requireFields reports the first empty required field the way the
// wire contract spells it.
func requireFields(fields ...field) error {
	for _, f := range fields {
		if f.value == "" {
			return service.Errorf(service.StatusInvalidArgument, "Missing required field: %s", f.name)
		}
	}
	return nil
}

// refreshRegistry rescans the adapters root when its content changed,
// so freshly installed bundles are usable without a restart.
// Population errors are logged, not fatal: a broken bundle must not
// take down lookups of the healthy ones already registered.
func (p *Publisher) refreshRegistry() {
	rescanned, err := p.registry.Populate()
	if err != nil {
		p.logger.Error("adapter registry rescan failed", "error", err)
		return
	}
	if rescanned {
		metrics.RegistryRescansTotal.Inc()
	}
}

// resolveAdapter finds the installed adapter for a platform and
// protocol. A missing platform and a protocol mismatch get distinct
// wire messages; both are UNIMPLEMENTED, the caller's cue that no
// retry will help until an operator installs the right adapter.
func (p *Publisher) resolveAdapter(name, protocol string) (adapter.Entry, error) {
	p.refreshRegistry()

	if entry, ok := p.registry.Get(name, protocol); ok {
		return entry, nil
	}

	for _, entry := range p.registry.List() {
		if strings.EqualFold(entry.Manifest.Name, name) {
			return adapter.Entry{}, service.Errorf(service.StatusUnimplemented,
				"The protocol '%s' for platform '%s' is currently not supported. Expected protocol: '%s'.",
				protocol, strings.ToLower(name), entry.Manifest.Protocol)
		}
	}

	return adapter.Entry{}, service.Errorf(service.StatusUnimplemented,
		"The platform '%s' is currently not supported. Please contact the developers "+
			"for more information on when this platform will be implemented.",
		strings.ToLower(name))
}

// invokeAdapter runs one adapter method with metrics around the
// invocation. Adapter-reported logical failures count as errors
// alongside transport failures: either way the platform did not
// accept the work.
func (p *Publisher) invokeAdapter(ctx context.Context, entry adapter.Entry, method string, params map[string]any) (*ipc.Response, error) {
	start := time.Now()
	res, err := p.invoker.Invoke(ctx, entry.Location.Dir, entry.Location.Runtime, method, params)
	metrics.AdapterInvocationDuration.Observe(time.Since(start).Seconds())

	outcome := "ok"
	switch {
	case ipc.IsTimeout(err):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	case res.Error != "":
		outcome = "error"
	}
	metrics.AdapterInvocationsTotal.WithLabelValues(entry.Manifest.Name, method, outcome).Inc()

	return res, err
}

// reportedFailure captures a stage failure for investigation and
// returns the prefixed wire error. The tracker sees the unprefixed
// detail; the prefix is context for the caller, not for triage.
func (p *Publisher) reportedFailure(code service.Status, detail, prefix string) error {
	p.tracker.CaptureMessage("error", detail)
	if prefix != "" {
		detail = prefix + ": " + detail
	}
	return service.NewError(code, detail)
}

// internalFailure logs an unexpected fault and returns the generic
// INTERNAL wire error.
func (p *Publisher) internalFailure(err error) error {
	p.logger.Error("unexpected failure", "error", err)
	return service.NewError(service.StatusInternal, genericFailure)
}

// reportedInternalFailure additionally captures the fault for
// tracking. Publish-path faults warrant investigation: the payload
// was valid enough to route, so a crash past that point is ours.
func (p *Publisher) reportedInternalFailure(err error) error {
	p.tracker.CaptureException(err)
	return p.internalFailure(err)
}

// vaultFailure reports a vault error and rewraps it with the stage
// prefix, keeping the vault's own status code on the wire. A failure
// to reach the vault at all maps to UNAVAILABLE.
func (p *Publisher) vaultFailure(err error, prefix string) error {
	code := service.StatusUnavailable
	detail := err.Error()
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		code = svcErr.Code
		detail = svcErr.Message
	}
	return p.reportedFailure(code, detail, prefix)
}

// vaultError passes a vault failure through untouched: a
// vault-reported status keeps its code and message, while a failure
// to reach the vault maps to UNAVAILABLE.
func vaultError(err error) error {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		return err
	}
	return service.NewError(service.StatusUnavailable, err.Error())
}

// stringField reads a string out of a decoded JSON object, tolerating
// absent keys and non-string values.
func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// boolField reads a bool the same way.
func boolField(m map[string]any, key string) bool {
	v, ok := m[key].(bool)
	return ok && v
}

// stringSlice coerces a decoded JSON array into its string elements.
func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// availableShortcodes describes every registered shortcode for the
// unknown-shortcode error message.
func (p *Publisher) availableShortcodes() string {
	entries := p.registry.List()
	described := make([]string, 0, len(entries))
	for _, entry := range entries {
		described = append(described,
			fmt.Sprintf("'%s' for %s", entry.Manifest.Shortcode, entry.Manifest.Name))
	}
	return strings.Join(described, ", ")
}
