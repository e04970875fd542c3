package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// WatchFile watches path for writes and calls reload after a debounce
// window once changes settle, supplementing the SIGHUP-triggered reload
// path (spec.md §4.6) with a filesystem trigger. It returns a stop
// function; canceling ctx also stops the watch.
//
// Adapted from the teacher's status-file watcher (fsnotify + a
// debounce timer guarded by a mutex, torn down via stopper), generalized
// from "watch one supervise/status file" to "watch one config file".
func WatchFile(ctx context.Context, path string, debounce time.Duration, reload func()) (stop func() error, err error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() { _ = watcher.Close() })

	var debouncer *time.Timer

	sctx.Go(func(sctx *stopper.Context) error {
		sctx.Defer(func() {
			if debouncer != nil {
				debouncer.Stop()
			}
		})

		for {
			select {
			case <-sctx.Stopping():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debouncer != nil {
					debouncer.Stop()
				}
				debouncer = time.AfterFunc(debounce, reload)

			case _, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
			}
		}
	})

	stop = func() error {
		sctx.Stop(100 * time.Millisecond)
		return sctx.Wait()
	}
	return stop, nil
}
