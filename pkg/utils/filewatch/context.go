package filewatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// kubelet swaps this symlink when a mounted ConfigMap or Secret is updated.
const configMapData = "..data"

// UntilModifyContext returns a context which is canceled with a cause
// when one of targets is written, created, removed or renamed.
//
// Parent directories of targets are watched, so replacing a file by rename
// and updates of ConfigMap volumes are detected as well.
//
// Targets should exist. The returned func stops watching.
func UntilModifyContext(ctx context.Context, targets ...string) (context.Context, func(), error) {
	files := map[string]struct{}{}
	dirs := map[string]struct{}{}
	for _, t := range targets {
		abs, err := filepath.Abs(t)
		if err != nil {
			return nil, nil, err
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, nil, err
		}
		files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	for d := range dirs {
		if err := w.Add(d); err != nil {
			w.Close()
			return nil, nil, err
		}
	}

	affects := func(name string) bool {
		if _, ok := files[name]; ok {
			return true
		}
		_, ok := dirs[filepath.Dir(name)]
		return ok && filepath.Base(name) == configMapData
	}

	cctx, cancel := context.WithCancelCause(ctx)
	go func() {
		defer w.Close()
		for {
			select {
			case <-cctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op == fsnotify.Chmod || !affects(filepath.Clean(ev.Name)) {
					continue
				}
				cancel(fmt.Errorf("%s is updated (%s)", ev.Name, ev.Op))
				return
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				cancel(fmt.Errorf("watching files: %w", err))
				return
			}
		}
	}()

	return cctx, func() { cancel(nil) }, nil
}
