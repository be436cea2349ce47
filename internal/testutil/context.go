// Package testutil provides testing utilities shared by the agent packages.
package testutil

import (
	"context"
	"testing"
	"time"
)

// DefaultTestTimeout bounds a single test's context.
const DefaultTestTimeout = 30 * time.Second

// NewTestContext creates a context with a 30-second timeout that is cancelled
// when the test completes.
func NewTestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTestTimeout)
	t.Cleanup(cancel)
	return ctx
}

// Eventually polls cond every tick until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout, tick time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(tick)
	}
}
