// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/heraldhq/herald/adapter"
	"github.com/heraldhq/herald/ipc"
	"github.com/heraldhq/herald/lib/clock"
	"github.com/heraldhq/herald/lib/codec"
	"github.com/heraldhq/herald/lib/service"
	"github.com/heraldhq/herald/notify"
	"github.com/heraldhq/herald/vault"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixedNow pins the harness clock so delivery timestamps are exact.
var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// testBundle describes one installed adapter for a test registry.
type testBundle struct {
	name      string
	shortcode string
	protocol  string
	service   string
}

// writeBundle installs an adapter bundle under the adapters root.
func writeBundle(t *testing.T, adaptersRoot string, b testBundle) {
	t.Helper()

	dir := filepath.Join(adaptersRoot, strings.ToLower(b.name)+"_"+strings.ToLower(b.protocol))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}

	manifest := fmt.Sprintf("[platform]\nname = %s\nshortcode = %s\nprotocol_type = %s\nservice_type = %s\n",
		b.name, b.shortcode, b.protocol, b.service)
	files := map[string]string{
		"manifest.ini": manifest,
		"config.ini":   "[credentials]\n",
		"main.py":      "print('adapter')\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

type trackedMessage struct {
	level   string
	message string
}

type fakeTracker struct {
	messages   []trackedMessage
	exceptions []error
}

func (f *fakeTracker) CaptureMessage(level, message string) {
	f.messages = append(f.messages, trackedMessage{level, message})
}

func (f *fakeTracker) CaptureException(err error) {
	f.exceptions = append(f.exceptions, err)
}

type fakeEvents struct {
	events []map[string]any
}

func (f *fakeEvents) Event(ctx context.Context, details map[string]any) error {
	f.events = append(f.events, details)
	return nil
}

type sentSMS struct {
	to      string
	message string
}

type fakeSMS struct {
	sent []sentSMS
}

func (f *fakeSMS) SendSMS(ctx context.Context, phoneNumber, message string) error {
	f.sent = append(f.sent, sentSMS{phoneNumber, message})
	return nil
}

// fakeVault scripts the vault collaborator. Unset hooks answer with
// benign defaults; every call is recorded.
type fakeVault struct {
	decrypt   func(vault.DecryptRequest) (*vault.DecryptResult, error)
	getToken  func(vault.TokenQuery) (string, error)
	list      func(string) ([]vault.StoredToken, error)
	storeErr  error
	updateErr error
	deleteErr error

	decrypts []vault.DecryptRequest
	queries  []vault.TokenQuery
	stores   []vault.StoreTokenRequest
	updates  []vault.UpdateTokenRequest
	deletes  []vault.DeleteTokenRequest
	lists    []string
}

func (f *fakeVault) DecryptPayload(ctx context.Context, req vault.DecryptRequest) (*vault.DecryptResult, error) {
	f.decrypts = append(f.decrypts, req)
	if f.decrypt == nil {
		return &vault.DecryptResult{}, nil
	}
	return f.decrypt(req)
}

func (f *fakeVault) GetAccessToken(ctx context.Context, query vault.TokenQuery) (string, error) {
	f.queries = append(f.queries, query)
	if f.getToken == nil {
		return "{}", nil
	}
	return f.getToken(query)
}

func (f *fakeVault) StoreToken(ctx context.Context, req vault.StoreTokenRequest) error {
	f.stores = append(f.stores, req)
	return f.storeErr
}

func (f *fakeVault) UpdateToken(ctx context.Context, req vault.UpdateTokenRequest) error {
	f.updates = append(f.updates, req)
	return f.updateErr
}

func (f *fakeVault) DeleteToken(ctx context.Context, req vault.DeleteTokenRequest) error {
	f.deletes = append(f.deletes, req)
	return f.deleteErr
}

func (f *fakeVault) ListStoredTokens(ctx context.Context, longLivedToken string) ([]vault.StoredToken, error) {
	f.lists = append(f.lists, longLivedToken)
	if f.list == nil {
		return nil, nil
	}
	return f.list(longLivedToken)
}

type invocation struct {
	adapterDir string
	runtimeDir string
	method     string
	params     map[string]any
}

// fakeInvoker scripts adapter subprocess responses.
type fakeInvoker struct {
	respond func(method string, params map[string]any) (*ipc.Response, error)
	calls   []invocation
}

func (f *fakeInvoker) Invoke(ctx context.Context, adapterDir, runtimeDir, method string, params map[string]any) (*ipc.Response, error) {
	f.calls = append(f.calls, invocation{adapterDir, runtimeDir, method, params})
	if f.respond == nil {
		return &ipc.Response{Result: map[string]any{}}, nil
	}
	return f.respond(method, params)
}

type harness struct {
	publisher *Publisher
	registry  *adapter.Registry
	roots     adapter.Roots
	vault     *fakeVault
	invoker   *fakeInvoker
	tracker   *fakeTracker
	events    *fakeEvents
	sms       *fakeSMS
	clk       *clock.FakeClock
}

// newHarness builds a Publisher over a real registry populated with
// the given bundles, with scripted collaborators everywhere else.
func newHarness(t *testing.T, bundles ...testBundle) *harness {
	t.Helper()

	base := t.TempDir()
	roots := adapter.Roots{
		Adapters: filepath.Join(base, "adapters"),
		Runtimes: filepath.Join(base, "runtimes"),
		Assets:   filepath.Join(base, "assets"),
		Staging:  filepath.Join(base, "staging"),
	}
	for _, bundle := range bundles {
		writeBundle(t, roots.Adapters, bundle)
	}

	registry := adapter.NewRegistry(roots, testLogger())
	if _, err := registry.Populate(); err != nil {
		t.Fatalf("Populate failed: %v", err)
	}

	h := &harness{
		registry: registry,
		roots:    roots,
		vault:    &fakeVault{},
		invoker:  &fakeInvoker{},
		tracker:  &fakeTracker{},
		events:   &fakeEvents{},
		sms:      &fakeSMS{},
		clk:      clock.Fake(fixedNow),
	}
	h.publisher = New(Config{
		Registry: registry,
		Vault:    h.vault,
		Invoker:  h.invoker,
		Notifier: notify.NewDispatcher(notify.DispatcherConfig{
			Events:  h.events,
			SMS:     h.sms,
			Tracker: h.tracker,
			Logger:  testLogger(),
		}),
		Tracker: h.tracker,
		Clock:   h.clk,
		Logger:  testLogger(),
	})
	return h
}

// request CBOR-encodes an action request the way the socket server
// hands it to a handler.
func request(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	raw, err := codec.Marshal(fields)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	return raw
}

// wantServiceError asserts err is a *service.Error with the given
// code and message.
func wantServiceError(t *testing.T, err error, code service.Status, message string) {
	t.Helper()
	svcErr := asWireError(t, err)
	if svcErr.Code != code {
		t.Errorf("code = %s, want %s (message %q)", svcErr.Code, code, svcErr.Message)
	}
	if svcErr.Message != message {
		t.Errorf("message = %q, want %q", svcErr.Message, message)
	}
}

// asWireError asserts err carries a wire status.
func asWireError(t *testing.T, err error) *service.Error {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		t.Fatalf("error type = %T (%v), want *service.Error", err, err)
	}
	return svcErr
}
