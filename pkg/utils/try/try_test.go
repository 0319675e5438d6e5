package try_test

import (
	"errors"
	"testing"

	"github.com/TencentBlueKing/bkpaas/pkg/utils/try"
)

type fataler struct {
	fatal   [][]any
	helpers int
}

func (f *fataler) Fatal(v ...any) {
	f.fatal = append(f.fatal, v)
}

func (f *fataler) Helper() {
	f.helpers++
}

func TestResult(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		f := &fataler{}
		if actual := try.To("shop", nil).OrFatal(f); actual != "shop" {
			t.Errorf("OrFatal: actual=%s, expect=%s", actual, "shop")
		}
		if len(f.fatal) != 0 || f.helpers != 0 {
			t.Errorf("fataler is called: %+v", f)
		}
	})

	t.Run("error", func(t *testing.T) {
		expect := errors.New("fake error")
		f := &fataler{}

		if actual := try.To(42, expect).OrFatal(f); actual != 0 {
			t.Errorf("OrFatal: actual=%d, expect=0", actual)
		}
		if len(f.fatal) != 1 || len(f.fatal[0]) != 1 || f.fatal[0][0] != expect {
			t.Errorf("Fatal args: actual=%v, expect=[[%v]]", f.fatal, expect)
		}
		if f.helpers != 1 {
			t.Errorf("Helper: actual=%d, expect=1", f.helpers)
		}

		v, err := try.To(42, expect).Get()
		if v != 42 || !errors.Is(err, expect) {
			t.Errorf("Get: actual=(%d, %v), expect=(42, %v)", v, err, expect)
		}
	})
}
