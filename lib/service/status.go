// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package service

import "fmt"

// Status classifies a request outcome on the wire. The values mirror
// the RPC status taxonomy the gateway exposes to its clients: input
// problems are INVALID_ARGUMENT, platforms we do not integrate are
// UNIMPLEMENTED, missing records are NOT_FOUND, and anything the
// caller cannot fix is INTERNAL.
type Status string

const (
	StatusOK              Status = "OK"
	StatusInvalidArgument Status = "INVALID_ARGUMENT"
	StatusUnimplemented   Status = "UNIMPLEMENTED"
	StatusNotFound        Status = "NOT_FOUND"
	StatusInternal        Status = "INTERNAL"
	StatusUnavailable     Status = "UNAVAILABLE"
)

// Error is a status-coded failure. Servers return it from action
// handlers to control the wire status; clients receive it from Call
// when the server answered ok=false. Collaborator errors keep their
// original code this way when a gateway handler passes them through.
type Error struct {
	// Action is the action that failed. Empty on the server side;
	// filled in by the client.
	Action string

	Code    Status
	Message string
}

func (e *Error) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s on %q: %s", e.Code, e.Action, e.Message)
}

// NewError builds a status-coded error.
func NewError(code Status, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf builds a status-coded error with a formatted message.
func Errorf(code Status, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
