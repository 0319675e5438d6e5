package recurring

import (
	"context"

	"github.com/TencentBlueKing/bkpaas/pkg/loop"
)

// Task is a cycle of a recurring loop.
//
// It returns the state for the next cycle, and whether it has processed something.
// An error is passed to the Policy, which decides to stop or not.
type Task[T any] func(context.Context, T) (T, bool, error)

// Applied converts the task into loop.Task, stepping along the policy.
func (rt Task[T]) Applied(p Policy) loop.Task[T] {
	return func(ctx context.Context, t T) (T, loop.Next) {
		next, updated, err := rt(ctx, t)
		return next, p.Next(updated, err)
	}
}
