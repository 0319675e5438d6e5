package recurring_test

import (
	"errors"
	"testing"
	"time"

	"github.com/TencentBlueKing/bkpaas/cmd/loops/recurring"
	"github.com/TencentBlueKing/bkpaas/pkg/loop"
)

func TestParsePolicy(t *testing.T) {
	for name, testcase := range map[string]struct {
		when    string
		then    recurring.Policy
		wantErr bool
	}{
		"forever":                  {when: "forever", then: recurring.Forever(0)},
		"forever with empty param": {when: "forever:", then: recurring.Forever(0)},
		"forever with cooldown":    {when: "forever:3s", then: recurring.Forever(3 * time.Second)},
		"malformed cooldown":       {when: "forever:someday", wantErr: true},
		"negative cooldown":        {when: "forever:-1s", wantErr: true},
		"backlog":                  {when: "backlog", then: recurring.Backlog()},
		"backlog with param":       {when: "backlog:1s", wantErr: true},
		"empty":                    {when: "", wantErr: true},
		"unknown":                  {when: "sometimes", wantErr: true},
	} {
		t.Run(name, func(t *testing.T) {
			actual, err := recurring.ParsePolicy(testcase.when)
			if testcase.wantErr {
				if err == nil {
					t.Errorf("expected error does not occur: got %v", actual)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if actual != testcase.then {
				t.Errorf("policy: actual=%v, expect=%v", actual, testcase.then)
			}
		})
	}
}

func TestPolicy_String(t *testing.T) {
	for _, testcase := range []struct {
		policy recurring.Policy
		expect string
	}{
		{policy: recurring.Forever(3 * time.Second), expect: "forever:3s"},
		{policy: recurring.Backlog(), expect: "backlog"},
		{policy: recurring.UntilError(recurring.Backlog()), expect: "backlog (until error)"},
	} {
		if actual := testcase.policy.String(); actual != testcase.expect {
			t.Errorf("String: actual=%s, expect=%s", actual, testcase.expect)
		}
	}
}

func TestPolicy_Next(t *testing.T) {
	fakeErr := errors.New("fake error")

	for name, testcase := range map[string]struct {
		policy  recurring.Policy
		updated bool
		err     error
		expect  loop.Next
	}{
		"forever, updated":          {policy: recurring.Forever(time.Second), updated: true, expect: loop.Continue(0)},
		"forever, idle":             {policy: recurring.Forever(time.Second), expect: loop.Continue(time.Second)},
		"forever ignores errors":    {policy: recurring.Forever(time.Second), err: fakeErr, expect: loop.Continue(time.Second)},
		"backlog, updated":          {policy: recurring.Backlog(), updated: true, expect: loop.Continue(0)},
		"backlog, idle":             {policy: recurring.Backlog(), expect: loop.Break(nil)},
		"until error, no error":     {policy: recurring.UntilError(recurring.Forever(0)), updated: true, expect: loop.Continue(0)},
		"until error, with error":   {policy: recurring.UntilError(recurring.Forever(0)), updated: true, err: fakeErr, expect: loop.Break(fakeErr)},
	} {
		t.Run(name, func(t *testing.T) {
			if actual := testcase.policy.Next(testcase.updated, testcase.err); actual != testcase.expect {
				t.Errorf("Next: actual=%+v, expect=%+v", actual, testcase.expect)
			}
		})
	}
}
