package recurring

import (
	"fmt"
	"strings"
	"time"

	"github.com/TencentBlueKing/bkpaas/pkg/loop"
)

// Policy decides how a loop goes on after each cycle.
type Policy interface {
	// Next returns the next step.
	//
	// updated is true when the cycle has processed something, so there may be more backlog.
	Next(updated bool, err error) loop.Next
	String() string
}

// ParsePolicy parses "forever[:COOLDOWN]" or "backlog".
func ParsePolicy(s string) (Policy, error) {
	name, param, hasParam := strings.Cut(s, ":")
	switch name {
	case "forever":
		if param == "" {
			return Forever(0), nil
		}
		cooldown, err := time.ParseDuration(param)
		if err != nil {
			return nil, fmt.Errorf(`%s is not "forever:COOLDOWN": %w`, s, err)
		}
		if cooldown < 0 {
			return nil, fmt.Errorf("%s: cooldown should not be negative", s)
		}
		return Forever(cooldown), nil
	case "backlog":
		if hasParam {
			return nil, fmt.Errorf("backlog does not take parameters: %s", s)
		}
		return Backlog(), nil
	}
	return nil, fmt.Errorf("unknown policy: %q (should be one of forever|backlog)", name)
}

type policy struct {
	cooldown time.Duration
	// stop looping when there is no backlog, instead of waiting cooldown.
	drain bool
}

// Forever continues immediately while a cycle processes something.
// Otherwise it waits cooldown before the next cycle.
func Forever(cooldown time.Duration) Policy {
	return policy{cooldown: cooldown}
}

// Backlog continues while a cycle processes something, and stops when backlog is over.
func Backlog() Policy {
	return policy{drain: true}
}

func (p policy) String() string {
	if p.drain {
		return "backlog"
	}
	return "forever:" + p.cooldown.String()
}

func (p policy) Next(updated bool, _ error) loop.Next {
	switch {
	case updated:
		return loop.Continue(0)
	case p.drain:
		return loop.Break(nil)
	default:
		return loop.Continue(p.cooldown)
	}
}

// UntilError makes p stop on the first error.
func UntilError(p Policy) Policy {
	return untilError{base: p}
}

type untilError struct {
	base Policy
}

func (u untilError) String() string {
	return u.base.String() + " (until error)"
}

func (u untilError) Next(updated bool, err error) loop.Next {
	if err != nil {
		return loop.Break(err)
	}
	return u.base.Next(updated, err)
}
