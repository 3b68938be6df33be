// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heraldhq/herald/lib/codec"
	"github.com/heraldhq/herald/lib/testutil"
)

// sendRequest connects to a Unix socket, sends one CBOR request, and
// returns the decoded response envelope.
func sendRequest(t *testing.T, socketPath string, request any) Response {
	t.Helper()

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to socket: %v", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		t.Fatalf("writing request: %v", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return response
}

func decodeData(t *testing.T, response Response, target any) {
	t.Helper()
	if len(response.Data) == 0 {
		t.Fatal("response has no data to decode")
	}
	if err := codec.Unmarshal(response.Data, target); err != nil {
		t.Fatalf("decoding response data: %v", err)
	}
}

func testSocketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(testutil.SocketDir(t), "test.sock")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// startServer runs server.Serve on a goroutine and returns a stop
// function that cancels it and waits for a clean exit.
func startServer(t *testing.T, server *SocketServer, socketPath string) func() {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	var serveErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		serveErr = server.Serve(ctx)
	}()

	if err := WaitForSocket(socketPath, 5*time.Second); err != nil {
		cancel()
		wg.Wait()
		t.Fatalf("WaitForSocket: %v", err)
	}

	return func() {
		cancel()
		wg.Wait()
		if serveErr != nil {
			t.Errorf("Serve returned error: %v", serveErr)
		}
	}
}

func TestSocketServerSuccess(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, 0, testLogger())

	server.Handle("registry-info", func(ctx context.Context, raw []byte) (any, error) {
		return map[string]any{
			"adapters":  2,
			"shortcode": "g",
		}, nil
	})

	stop := startServer(t, server, socketPath)
	defer stop()

	response := sendRequest(t, socketPath, map[string]string{"action": "registry-info"})

	if !response.OK {
		t.Fatalf("response not ok: %s", response.Error)
	}
	if response.Code != StatusOK {
		t.Errorf("code = %q, want %q", response.Code, StatusOK)
	}

	var data map[string]any
	decodeData(t, response, &data)
	if data["adapters"] != uint64(2) {
		t.Errorf("adapters = %v (%T), want 2", data["adapters"], data["adapters"])
	}
	if data["shortcode"] != "g" {
		t.Errorf("shortcode = %v, want g", data["shortcode"])
	}
}

func TestSocketServerStatusCodes(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, 0, testLogger())

	server.Handle("coded", func(ctx context.Context, raw []byte) (any, error) {
		return nil, NewError(StatusUnimplemented, "platform not yet supported")
	})
	server.Handle("plain", func(ctx context.Context, raw []byte) (any, error) {
		return nil, errors.New("disk on fire")
	})

	stop := startServer(t, server, socketPath)
	defer stop()

	coded := sendRequest(t, socketPath, map[string]string{"action": "coded"})
	if coded.OK {
		t.Fatal("coded action unexpectedly succeeded")
	}
	if coded.Code != StatusUnimplemented {
		t.Errorf("coded code = %q, want %q", coded.Code, StatusUnimplemented)
	}
	if coded.Error != "platform not yet supported" {
		t.Errorf("coded error = %q", coded.Error)
	}

	plain := sendRequest(t, socketPath, map[string]string{"action": "plain"})
	if plain.Code != StatusInternal {
		t.Errorf("plain code = %q, want %q", plain.Code, StatusInternal)
	}
}

func TestSocketServerUnknownAction(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, 0, testLogger())
	server.Handle("known", func(ctx context.Context, raw []byte) (any, error) {
		return nil, nil
	})

	stop := startServer(t, server, socketPath)
	defer stop()

	response := sendRequest(t, socketPath, map[string]string{"action": "nonexistent"})
	if response.OK {
		t.Fatal("unknown action unexpectedly succeeded")
	}
	if response.Code != StatusUnimplemented {
		t.Errorf("code = %q, want %q", response.Code, StatusUnimplemented)
	}
}

func TestSocketServerMissingAction(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, 0, testLogger())

	stop := startServer(t, server, socketPath)
	defer stop()

	response := sendRequest(t, socketPath, map[string]string{"other": "field"})
	if response.OK {
		t.Fatal("request without action unexpectedly succeeded")
	}
	if response.Code != StatusInvalidArgument {
		t.Errorf("code = %q, want %q", response.Code, StatusInvalidArgument)
	}
}

func TestSocketServerOversizedRequest(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, 0, testLogger())
	server.Handle("publish-content", func(ctx context.Context, raw []byte) (any, error) {
		t.Error("handler ran on an oversized request")
		return nil, nil
	})

	stop := startServer(t, server, socketPath)
	defer stop()

	// 4 KiB over the limit: the write completes (the overflow sits in
	// socket buffers) while the server's limited reader sees a
	// truncated CBOR value.
	oversized := map[string]any{
		"action":  "publish-content",
		"content": strings.Repeat("a", maxRequestSize+4096),
	}
	response := sendRequest(t, socketPath, oversized)
	if response.OK {
		t.Fatal("oversized request unexpectedly succeeded")
	}
	if response.Code != StatusInvalidArgument {
		t.Errorf("code = %q, want %q", response.Code, StatusInvalidArgument)
	}
}

func TestSocketServerWorkerCap(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, 1, testLogger())

	var inFlight atomic.Int32
	var peak atomic.Int32
	release := make(chan struct{})

	server.Handle("slow", func(ctx context.Context, raw []byte) (any, error) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			observed := peak.Load()
			if current <= observed || peak.CompareAndSwap(observed, current) {
				break
			}
		}
		<-release
		return nil, nil
	})

	stop := startServer(t, server, socketPath)
	defer stop()

	const calls = 3
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			response := sendRequest(t, socketPath, map[string]string{"action": "slow"})
			if !response.OK {
				t.Errorf("slow call failed: %s", response.Error)
			}
		}()
	}

	// Give the requests time to pile up, then let them through one
	// at a time.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := peak.Load(); got != 1 {
		t.Errorf("peak concurrent handlers = %d, want 1", got)
	}
}

func TestSocketServerDuplicateHandlerPanics(t *testing.T) {
	t.Parallel()

	server := NewSocketServer("unused.sock", 0, testLogger())
	server.Handle("dup", func(ctx context.Context, raw []byte) (any, error) { return nil, nil })

	defer func() {
		if recover() == nil {
			t.Error("duplicate Handle did not panic")
		}
	}()
	server.Handle("dup", func(ctx context.Context, raw []byte) (any, error) { return nil, nil })
}

func TestSocketServerRemovesStaleSocket(t *testing.T) {
	socketPath := testSocketPath(t)
	if err := os.WriteFile(socketPath, []byte("stale"), 0o600); err != nil {
		t.Fatalf("writing stale file: %v", err)
	}

	server := NewSocketServer(socketPath, 0, testLogger())
	server.Handle("ping", func(ctx context.Context, raw []byte) (any, error) {
		return map[string]any{"pong": true}, nil
	})

	stop := startServer(t, server, socketPath)
	defer stop()

	response := sendRequest(t, socketPath, map[string]string{"action": "ping"})
	if !response.OK {
		t.Errorf("ping after stale socket removal failed: %s", response.Error)
	}
}

func TestClientCall(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, 0, testLogger())

	server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Text string `cbor:"text"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		return map[string]any{"echo": request.Text}, nil
	})
	server.Handle("fail", func(ctx context.Context, raw []byte) (any, error) {
		return nil, NewError(StatusNotFound, "no such token")
	})

	stop := startServer(t, server, socketPath)
	defer stop()

	client := NewClient(socketPath)

	var result struct {
		Echo string `cbor:"echo"`
	}
	err := client.Call(context.Background(), "echo", map[string]any{"text": "hello"}, &result)
	if err != nil {
		t.Fatalf("Call(echo) error = %v", err)
	}
	if result.Echo != "hello" {
		t.Errorf("echo = %q, want %q", result.Echo, "hello")
	}

	err = client.Call(context.Background(), "fail", nil, nil)
	var svcErr *Error
	if !errors.As(err, &svcErr) {
		t.Fatalf("Call(fail) error = %v, want *Error", err)
	}
	if svcErr.Code != StatusNotFound {
		t.Errorf("code = %q, want %q", svcErr.Code, StatusNotFound)
	}
	if svcErr.Message != "no such token" {
		t.Errorf("message = %q", svcErr.Message)
	}
	if svcErr.Action != "fail" {
		t.Errorf("action = %q, want %q", svcErr.Action, "fail")
	}
}

func TestClientConnectionError(t *testing.T) {
	t.Parallel()

	client := NewClient(filepath.Join(t.TempDir(), "absent.sock"))
	err := client.Call(context.Background(), "anything", nil, nil)
	if err == nil {
		t.Fatal("Call on absent socket succeeded")
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		t.Errorf("connection failure came back as *Error: %v", err)
	}
}

func TestErrorFormat(t *testing.T) {
	t.Parallel()

	serverSide := NewError(StatusInvalidArgument, "missing required field: content")
	if got := serverSide.Error(); got != "INVALID_ARGUMENT: missing required field: content" {
		t.Errorf("server-side Error() = %q", got)
	}

	clientSide := &Error{Action: "publish-content", Code: StatusInternal, Message: "boom"}
	want := fmt.Sprintf("%s on %q: %s", StatusInternal, "publish-content", "boom")
	if got := clientSide.Error(); got != want {
		t.Errorf("client-side Error() = %q, want %q", got, want)
	}
}
