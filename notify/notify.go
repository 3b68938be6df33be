// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify delivers publication outcomes. Every publish, failed
// or successful, produces a structured event for the reporting
// pipeline and a delivery confirmation for the sending user; the
// confirmation goes out as a real SMS through the downstream gateway
// queue or, in mock mode, as an informational tracker message.
//
// Dispatch is strictly best-effort: the message was already published
// (or already failed) by the time notifications fire, so sink
// failures are logged and dropped rather than surfaced.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Type discriminates notification routing.
type Type string

const (
	// TypeEvent is a structured event: a publication record or a
	// tracker diagnostic, selected by Target.
	TypeEvent Type = "event"

	// TypeSMS is a delivery-confirmation text. Target carries the
	// recipient's phone number.
	TypeSMS Type = "sms"
)

// Event targets.
const (
	// TargetPublication routes an event to the publication event sink.
	TargetPublication = "publication"

	// TargetTracker routes an event to error tracking.
	TargetTracker = "tracker"
)

// Notification is one outbound notice.
type Notification struct {
	Type    Type
	Target  string
	Message string
	Details map[string]any
}

// EventSink records publication events. The reporting pipeline that
// stores and serves them is a separate service; the gateway only
// emits.
type EventSink interface {
	Event(ctx context.Context, details map[string]any) error
}

// SMSSink sends one text message.
type SMSSink interface {
	SendSMS(ctx context.Context, phoneNumber, message string) error
}

// Tracker forwards diagnostics to error tracking. Implementations
// must be safe to call from any goroutine and must never block a
// publish on tracking backpressure.
type Tracker interface {
	CaptureMessage(level, message string)
	CaptureException(err error)
}

// DispatcherConfig wires a Dispatcher's sinks.
type DispatcherConfig struct {
	Events  EventSink
	SMS     SMSSink
	Tracker Tracker

	// MockSMS replaces outbound texts with informational tracker
	// messages. Set outside production so test publishes never reach
	// a real phone.
	MockSMS bool

	Logger *slog.Logger
}

// Dispatcher fans notifications out to the configured sinks.
type Dispatcher struct {
	events  EventSink
	sms     SMSSink
	tracker Tracker
	mockSMS bool
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher from cfg.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		events:  cfg.Events,
		sms:     cfg.SMS,
		tracker: cfg.Tracker,
		mockSMS: cfg.MockSMS,
		logger:  cfg.Logger,
	}
}

// Dispatch routes each notification to its sink. Failures are logged,
// never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, notifications ...Notification) {
	for _, notification := range notifications {
		if err := d.dispatchOne(ctx, notification); err != nil {
			d.logger.Error("notification dispatch failed",
				"type", string(notification.Type),
				"target", notification.Target,
				"error", err,
			)
		}
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, notification Notification) error {
	switch notification.Type {
	case TypeEvent:
		if notification.Target == TargetPublication {
			return d.events.Event(ctx, notification.Details)
		}
		d.tracker.CaptureMessage(detailLevel(notification.Details), notification.Message)
		return nil

	case TypeSMS:
		if d.mockSMS {
			d.tracker.CaptureMessage("info", notification.Message)
			return nil
		}
		return d.sms.SendSMS(ctx, notification.Target, notification.Message)

	default:
		return fmt.Errorf("unknown notification type %q", notification.Type)
	}
}

// detailLevel reads the tracker level out of event details.
func detailLevel(details map[string]any) string {
	if level, ok := details["level"].(string); ok && level != "" {
		return level
	}
	return "error"
}

// LogEvents is the default publication event sink: events land in the
// process log for the reporting pipeline to scrape.
type LogEvents struct {
	Logger *slog.Logger
}

// Event logs one publication event with its details as attributes.
func (s LogEvents) Event(ctx context.Context, details map[string]any) error {
	attrs := make([]any, 0, len(details)*2)
	for key, value := range details {
		attrs = append(attrs, key, value)
	}
	s.Logger.Info("publication event", attrs...)
	return nil
}

// Mask hides all but the last three characters of a sensitive value.
// Values of three characters or fewer pass through unchanged; there
// is nothing left to hide once the visible suffix covers the whole
// string.
func Mask(value string) string {
	if len(value) <= 3 {
		return value
	}
	return strings.Repeat("*", len(value)-3) + value[len(value)-3:]
}
