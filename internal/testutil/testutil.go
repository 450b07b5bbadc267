// Package testutil provides shared test helpers for formrelay.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/formrelay/internal/domain"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// NewSubmission builds a submission with fixed ids and capture time.
func NewSubmission(formID string, data map[string]any) domain.Submission {
	if data == nil {
		data = map[string]any{}
	}
	return domain.Submission{
		FormID:       formID,
		SubmissionID: "sub_123",
		Timestamp:    time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		Data:         data,
	}
}
