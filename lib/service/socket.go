// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/heraldhq/herald/lib/codec"
)

// ActionFunc processes one socket request. The raw parameter is the
// full CBOR request (including the "action" field); the handler
// decodes its own fields from it.
//
// Return a value to include in the success response, or an error for
// a failure response. A *Error sets the wire status code; any other
// error is reported as INTERNAL.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the envelope for every socket protocol response.
type Response struct {
	OK    bool             `cbor:"ok"`
	Code  Status           `cbor:"code,omitempty"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// SocketServer serves a CBOR request-response protocol on a Unix
// socket. Each connection carries exactly one request and one
// response; the client writes a CBOR value, the server answers with a
// Response, and the connection closes.
//
// Concurrency is capped by a worker semaphore: at most maxWorkers
// requests are handled at once, and each request runs to completion
// on its own goroutine. Register actions with Handle before Serve.
type SocketServer struct {
	socketPath string
	handlers   map[string]ActionFunc
	workers    chan struct{}
	logger     *slog.Logger

	// active tracks in-flight handlers so Serve can drain them before
	// returning on shutdown.
	active sync.WaitGroup
}

// defaultMaxWorkers bounds concurrent request handling when the
// caller does not choose a cap.
const defaultMaxWorkers = 10

// NewSocketServer creates a server that will listen on socketPath and
// handle at most maxWorkers requests concurrently (maxWorkers <= 0
// selects the default).
func NewSocketServer(socketPath string, maxWorkers int, logger *slog.Logger) *SocketServer {
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}
	return &SocketServer{
		socketPath: socketPath,
		handlers:   make(map[string]ActionFunc),
		workers:    make(chan struct{}, maxWorkers),
		logger:     logger,
	}
}

// Handle registers a handler for the given action name. Panics on a
// duplicate registration: actions are wired once at startup and a
// collision is a programming error.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Serve accepts connections until ctx is cancelled, then stops
// accepting and waits for in-flight handlers to finish. Any stale
// socket file at the configured path is removed before listening, and
// the socket file is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("socket server listening", "path", s.socketPath, "max_workers", cap(s.workers))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		// Acquire a worker slot before handling. When the pool is
		// saturated the accept loop stalls here, which backpressures
		// clients instead of queueing unbounded work.
		select {
		case s.workers <- struct{}{}:
		case <-ctx.Done():
			conn.Close()
			continue
		}

		s.active.Add(1)
		go func() {
			defer func() {
				<-s.workers
				s.active.Done()
			}()
			s.handleConnection(ctx, conn)
		}()
	}

	s.active.Wait()
	return nil
}

// readTimeout is how long the server waits for the client's request.
// A well-behaved client writes it immediately after connecting.
const readTimeout = 30 * time.Second

// writeTimeout is how long the server waits for the response write.
const writeTimeout = 10 * time.Second

// maxRequestSize caps a single CBOR request. 1 MB leaves ample room
// for the largest publish payloads, which SMS transport keeps small.
const maxRequestSize = 1024 * 1024

// handleConnection processes one request-response cycle.
func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// CBOR is self-delimiting, so one Decode reads exactly one
	// request with no framing protocol. LimitReader keeps a broken
	// client from exhausting memory.
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			// Connected but sent nothing.
			return
		}
		s.writeError(conn, StatusInvalidArgument, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, StatusInvalidArgument, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, StatusInvalidArgument, "missing required field: action")
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(conn, StatusUnimplemented, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		code, message := classify(err)
		s.logger.Debug("action failed",
			"action", header.Action,
			"code", code,
			"error", err,
		)
		s.writeError(conn, code, message)
		return
	}

	s.writeSuccess(conn, result)
}

// classify maps a handler error to its wire status. Status-coded
// errors carry their own code; everything else is INTERNAL.
func classify(err error) (Status, string) {
	var coded *Error
	if errors.As(err, &coded) {
		code := coded.Code
		if code == "" || code == StatusOK {
			code = StatusInternal
		}
		return code, coded.Message
	}
	return StatusInternal, err.Error()
}

func (s *SocketServer) writeError(conn net.Conn, code Status, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{
		OK:    false,
		Code:  code,
		Error: message,
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

func (s *SocketServer) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true, Code: StatusOK}

	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, StatusInternal, fmt.Sprintf("marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
