// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryTracker reports diagnostics to Sentry. One per process;
// construction initializes the global Sentry client.
type SentryTracker struct{}

var _ Tracker = SentryTracker{}

// StartSentry initializes Sentry with the given DSN and returns a
// tracker bound to it. Call Flush before process exit so buffered
// events are not lost.
func StartSentry(dsn, environment string) (SentryTracker, error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		ServerName:  "herald-gateway",
	})
	if err != nil {
		return SentryTracker{}, fmt.Errorf("initializing sentry: %w", err)
	}
	return SentryTracker{}, nil
}

// CaptureMessage reports a text diagnostic at the given level.
func (SentryTracker) CaptureMessage(level, message string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentryLevel(level))
		sentry.CaptureMessage(message)
	})
}

// CaptureException reports an error with its chain.
func (SentryTracker) CaptureException(err error) {
	sentry.CaptureException(err)
}

// Flush blocks until buffered events are sent or the timeout elapses.
func (SentryTracker) Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}

func sentryLevel(level string) sentry.Level {
	switch level {
	case "info":
		return sentry.LevelInfo
	case "warning":
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

// LogTracker is the tracker used when no Sentry DSN is configured:
// diagnostics land in the process log and nothing leaves the host.
type LogTracker struct {
	Logger *slog.Logger
}

var _ Tracker = LogTracker{}

func (t LogTracker) CaptureMessage(level, message string) {
	if level == "info" {
		t.Logger.Info("tracker message", "message", message)
		return
	}
	t.Logger.Error("tracker message", "level", level, "message", message)
}

func (t LogTracker) CaptureException(err error) {
	t.Logger.Error("tracker exception", "error", err)
}
