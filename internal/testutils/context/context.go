// Package context derives contexts from running tests.
package context

import (
	"context"
	"testing"
	"time"
)

// margin left before the deadline of the test, to report failures instead of panicking by timeout.
const margin = time.Second

// WithTest returns a context which ends a little before the deadline of t.
//
// It is canceled when t finishes.
func WithTest(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if deadline, ok := t.Deadline(); ok {
		ctx, cancel = context.WithDeadline(ctx, deadline.Add(-margin))
	}
	t.Cleanup(cancel)
	return ctx
}
