package recurring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TencentBlueKing/bkpaas/cmd/loops/recurring"
	"github.com/TencentBlueKing/bkpaas/pkg/loop"
)

func TestTask_Applied(t *testing.T) {
	failure := errors.New("fake error")

	type When struct {
		policy  recurring.Policy
		updated bool
		err     error
	}

	theory := func(when When, then loop.Next) func(*testing.T) {
		return func(t *testing.T) {
			task := recurring.Task[string](func(_ context.Context, cursor string) (string, bool, error) {
				return cursor + "+", when.updated, when.err
			})

			value, next := task.Applied(when.policy)(context.Background(), "head")
			if value != "head+" {
				t.Errorf("value: actual=%s, expect=%s", value, "head+")
			}
			if next != then {
				t.Errorf("next: actual=%s, expect=%s", next, then)
			}
		}
	}

	t.Run("forever continues immediately while updated", theory(
		When{policy: recurring.Forever(3 * time.Second), updated: true},
		loop.Continue(0),
	))
	t.Run("forever cools down when nothing is updated", theory(
		When{policy: recurring.Forever(3 * time.Second)},
		loop.Continue(3*time.Second),
	))
	t.Run("backlog breaks when nothing is updated", theory(
		When{policy: recurring.Backlog()},
		loop.Break(nil),
	))
	t.Run("until error breaks with the error", theory(
		When{policy: recurring.UntilError(recurring.Forever(0)), updated: true, err: failure},
		loop.Break(failure),
	))
	t.Run("forever ignores errors without until error", theory(
		When{policy: recurring.Forever(0), err: failure},
		loop.Continue(0),
	))
}
