package filewatch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TencentBlueKing/bkpaas/pkg/utils/filewatch"
)

func setup(t *testing.T) (dir string, config string) {
	t.Helper()
	dir = t.TempDir()
	config = filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(config, []byte("server:\n  port: 8080\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return dir, config
}

func waitDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return true
	case <-time.After(d):
		return false
	}
}

func TestUntilModifyContext(t *testing.T) {
	for name, modify := range map[string]func(t *testing.T, dir, config string){
		"write": func(t *testing.T, _, config string) {
			if err := os.WriteFile(config, []byte("server:\n  port: 9090\n"), 0644); err != nil {
				t.Fatal(err)
			}
		},
		"remove": func(t *testing.T, _, config string) {
			if err := os.Remove(config); err != nil {
				t.Fatal(err)
			}
		},
		"replace by rename": func(t *testing.T, dir, config string) {
			tmp := filepath.Join(dir, "config.yaml.new")
			if err := os.WriteFile(tmp, []byte("server:\n  port: 9090\n"), 0644); err != nil {
				t.Fatal(err)
			}
			if err := os.Rename(tmp, config); err != nil {
				t.Fatal(err)
			}
		},
		"configmap update": func(t *testing.T, dir, _ string) {
			if err := os.Mkdir(filepath.Join(dir, "..2026_10_15"), 0755); err != nil {
				t.Fatal(err)
			}
			if err := os.Symlink("..2026_10_15", filepath.Join(dir, "..data")); err != nil {
				t.Fatal(err)
			}
		},
	} {
		t.Run("it is canceled on "+name, func(t *testing.T) {
			dir, config := setup(t)
			ctx, cancel, err := filewatch.UntilModifyContext(context.Background(), config)
			if err != nil {
				t.Fatal(err)
			}
			defer cancel()

			modify(t, dir, config)

			if !waitDone(ctx, 3*time.Second) {
				t.Fatal("context is not canceled")
			}
			if cause := context.Cause(ctx); cause == nil || !strings.Contains(cause.Error(), "is updated") {
				t.Errorf("cause: actual=%v, expect to tell the update", cause)
			}
		})
	}

	t.Run("it ignores other files in the directory", func(t *testing.T) {
		dir, config := setup(t)
		ctx, cancel, err := filewatch.UntilModifyContext(context.Background(), config)
		if err != nil {
			t.Fatal(err)
		}
		defer cancel()

		if err := os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		if waitDone(ctx, 300*time.Millisecond) {
			t.Errorf("context is canceled: %v", context.Cause(ctx))
		}
	})

	t.Run("it is canceled when the parent context is canceled", func(t *testing.T) {
		_, config := setup(t)
		parent, cancelParent := context.WithCancel(context.Background())
		ctx, cancel, err := filewatch.UntilModifyContext(parent, config)
		if err != nil {
			t.Fatal(err)
		}
		defer cancel()

		cancelParent()
		if !waitDone(ctx, time.Second) {
			t.Fatal("context is not canceled")
		}
		if !errors.Is(ctx.Err(), context.Canceled) {
			t.Errorf("err: actual=%v, expect=%v", ctx.Err(), context.Canceled)
		}
	})

	t.Run("cancel func stops watching", func(t *testing.T) {
		_, config := setup(t)
		ctx, cancel, err := filewatch.UntilModifyContext(context.Background(), config)
		if err != nil {
			t.Fatal(err)
		}
		cancel()
		if !errors.Is(ctx.Err(), context.Canceled) {
			t.Errorf("err: actual=%v, expect=%v", ctx.Err(), context.Canceled)
		}
	})

	t.Run("it fails for missing files", func(t *testing.T) {
		dir, config := setup(t)
		_, _, err := filewatch.UntilModifyContext(context.Background(), config, filepath.Join(dir, "missing.yaml"))
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("err: actual=%v, expect=%v", err, os.ErrNotExist)
		}
	})
}
