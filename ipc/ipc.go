// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc is the invocation channel between the gateway and
// adapter subprocesses: one JSON request on the child's stdin, one
// JSON response on its stdout, per invocation.
//
// The channel distinguishes two failure planes. A [TransportError]
// means the channel itself broke: the subprocess could not start,
// exited nonzero, or overran its deadline and was killed. An error the
// adapter reports inside a well-formed response (or an empty or
// non-JSON stdout, which the channel normalizes into one) is carried
// in [Response].Error and is a normal, handleable outcome for the
// caller.
package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// DefaultTimeout bounds an adapter invocation from spawn to exit when
// the invoker is not given an explicit timeout.
const DefaultTimeout = 60 * time.Second

// entrypoint is the file executed inside every adapter bundle.
const entrypoint = "main.py"

// Request is the single JSON document written to an adapter's stdin.
type Request struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// Response is the single JSON document an adapter writes to stdout.
// Error may be populated even in a well-formed response; that is an
// adapter-level logical failure, distinct from transport failure.
type Response struct {
	Result any    `json:"result"`
	Error  string `json:"error"`
}

// ResultMap returns the result as an object. Scalar and null results
// yield an empty map, so callers can always index safely.
func (r *Response) ResultMap() map[string]any {
	if m, ok := r.Result.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// TransportError reports a failure of the invocation channel itself.
type TransportError struct {
	// Timeout is set when the invocation exceeded its deadline and the
	// subprocess group was killed.
	Timeout bool

	// Message describes the failure. For nonzero exits it carries the
	// child's stderr.
	Message string
}

func (e *TransportError) Error() string {
	return e.Message
}

// IsTimeout reports whether err is a timeout-classified transport
// error.
func IsTimeout(err error) bool {
	var transport *TransportError
	return errors.As(err, &transport) && transport.Timeout
}

// Invoker spawns adapter subprocesses. One invoker is shared by all
// requests; it holds no per-invocation state.
type Invoker struct {
	timeout     time.Duration
	interpreter string
	logger      *slog.Logger
}

// NewInvoker creates an invoker. timeout bounds each invocation
// (DefaultTimeout when zero). interpreter is the host interpreter used
// for bundles with no provisioned runtime.
func NewInvoker(timeout time.Duration, interpreter string, logger *slog.Logger) *Invoker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Invoker{
		timeout:     timeout,
		interpreter: interpreter,
		logger:      logger,
	}
}

// Invoke runs one request/response exchange with the bundle at
// adapterDir. The child runs in its own process group and the whole
// group is killed when the deadline passes or ctx is cancelled, so an
// adapter that forks helpers cannot leak them past the invocation.
func (inv *Invoker) Invoke(ctx context.Context, adapterDir, runtimeDir, method string, params map[string]any) (*Response, error) {
	if params == nil {
		params = map[string]any{}
	}
	payload, err := json.Marshal(Request{Method: method, Params: params})
	if err != nil {
		return nil, &TransportError{Message: fmt.Sprintf("encoding request: %v", err)}
	}

	interpreter := filepath.Join(runtimeDir, "bin", "python3")
	if _, statErr := os.Stat(interpreter); statErr != nil {
		if inv.interpreter == "" {
			return nil, &TransportError{Message: fmt.Sprintf("python executable not found at %s", interpreter)}
		}
		interpreter = inv.interpreter
	}

	ctx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, interpreter, filepath.Join(adapterDir, entrypoint))
	cmd.Dir = adapterDir
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Own process group, so cancellation kills the adapter and
	// everything it spawned (negative PID = the whole group).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	start := time.Now()
	runErr := cmd.Run()
	inv.logger.Debug("adapter invoked",
		"dir", adapterDir, "method", method,
		"duration", time.Since(start), "error", runErr)

	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, &TransportError{Timeout: true, Message: "adapter invocation timed out"}
			}
			return nil, &TransportError{Message: "adapter invocation cancelled"}
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, &TransportError{
				Message: fmt.Sprintf("adapter subprocess exited with error:\n%s", strings.TrimSpace(stderr.String())),
			}
		}
		return nil, &TransportError{Message: fmt.Sprintf("invoking adapter: %v", runErr)}
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return &Response{Error: "Empty response from adapter."}, nil
	}

	var response Response
	if err := json.Unmarshal([]byte(out), &response); err != nil {
		return &Response{Error: fmt.Sprintf("Invalid JSON from adapter: %s", out)}, nil
	}
	return &response, nil
}
