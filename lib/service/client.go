// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/heraldhq/herald/lib/codec"
)

// dialTimeout covers only the connect phase; the server's own
// deadlines govern the request once connected.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for a response
// after writing its request. Sized to the server's read and write
// deadlines plus handler execution (adapter subprocess calls can
// legitimately take most of a minute).
const responseReadTimeout = 90 * time.Second

// maxResponseSize matches the server's request cap.
const maxResponseSize = 1024 * 1024

// Client sends CBOR requests to a herald service socket. Each Call
// opens a fresh connection, mirroring the server's one-request-per-
// connection model; there is no connection state to manage or leak.
type Client struct {
	socketPath string
}

// NewClient creates a client for the service socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends a request for action with the given fields and decodes a
// successful response's data into result (when result is non-nil).
//
// The client injects the "action" field; callers must not put an
// "action" key in fields. Pass nil fields for actions with no
// parameters.
//
// A server-reported failure comes back as *Error carrying the wire
// status code, so callers can forward a collaborator's code
// untouched. Connection and encoding problems are plain errors.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		code := response.Code
		if code == "" {
			code = StatusInternal
		}
		return &Error{
			Action:  action,
			Code:    code,
			Message: response.Error,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}

	return nil
}

// send connects, writes the request, and reads one response.
func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close the write side so the server's read sees clean EOF.
	// CBOR self-delimits, so this is a courtesy rather than framing.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	// The caller's context deadline wins when it is sooner than the
	// client's own read timeout.
	readDeadline := time.Now().Add(responseReadTimeout)
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(readDeadline) {
		readDeadline = deadline
	}
	conn.SetReadDeadline(readDeadline)
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &response, nil
}
