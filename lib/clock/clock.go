// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the wall clock so request handling and
// notification timestamps are deterministic under test.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time. Production code injects Real();
// tests inject a Fake and move it by hand. Herald only reads the
// clock (routing timestamps, notification timestamps, reliability
// windows), so the interface stays at Now.
type Clock interface {
	Now() time.Time
}

// Real returns a Clock backed by time.Now.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// FakeClock is a deterministic Clock. Time stands still until Advance
// or Set moves it. Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// Fake returns a FakeClock pinned to the given time.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the fake's current time.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Advance moves the fake clock forward by d.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

// Set pins the fake clock to t.
func (f *FakeClock) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}
