// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"
	"os"
	"time"
)

// WaitForSocket polls until the socket file at path exists or the
// timeout elapses. Used by tests and by tooling that starts a gateway
// and needs to know when it is accepting connections.
func WaitForSocket(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("socket %s not ready after %v", path, timeout)
		}
		<-ticker.C
	}
}
