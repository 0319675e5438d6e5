package errors_test

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"testing"

	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

type rootErr struct{}

func (rootErr) Error() string {
	return "root cause"
}

func newFromHelper(message string) error {
	return xe.New(message)
}

func TestNew(t *testing.T) {
	t.Run("it knows where it is created", func(t *testing.T) {
		testee := newFromHelper("boom")
		msg := testee.Error()

		_, thisFile, _, _ := runtime.Caller(0)
		if !strings.Contains(msg, "newFromHelper") {
			t.Errorf("function name is missing: %s", msg)
		}
		if !strings.Contains(msg, thisFile) {
			t.Errorf("file (%s) is missing: %s", thisFile, msg)
		}
	})
}

func TestWrap(t *testing.T) {
	t.Run("it keeps errors.Is through layers", func(t *testing.T) {
		err := xe.Wrap(fmt.Errorf("outer: %w", xe.WrapWithNote("note", rootErr{})))
		if !errors.Is(err, rootErr{}) {
			t.Errorf("errors.Is: actual=false, expect=true")
		}
		if !strings.Contains(err.Error(), "(note)") {
			t.Errorf("note is missing: %s", err.Error())
		}
	})

	t.Run("it passes nil through", func(t *testing.T) {
		if err := xe.Wrap(nil); err != nil {
			t.Errorf("Wrap(nil): actual=%v, expect=nil", err)
		}
		if err := xe.WrapWithNote("n", nil); err != nil {
			t.Errorf("WrapWithNote(nil): actual=%v, expect=nil", err)
		}
	})

	t.Run("Root strips caller annotations", func(t *testing.T) {
		cause := rootErr{}
		err := xe.Wrap(xe.Wrap(cause))
		if got := xe.Root(err); got != cause {
			t.Errorf("Root: actual=%#v, expect=%#v", got, cause)
		}
	})
}
