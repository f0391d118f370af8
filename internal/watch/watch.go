// Package watch wraps fsnotify into a debounced callback, used to drive
// live redraws of the status projection when durable state changes on
// disk.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces bursts of writes (a task freeze touches
// plan.md, slices.json, and the event log in quick succession) into a
// single callback.
const debounceWindow = 150 * time.Millisecond

// meaningfulOps are the fsnotify operations that should trigger a
// refresh. Chmod-only events (permission bit changes, no content change)
// are ignored.
const meaningfulOps = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

// Watcher debounces filesystem events under one or more roots into a
// single callback.
type Watcher struct {
	fsw      *fsnotify.Watcher
	callback func()
}

// New watches every path in paths (non-recursively, since fsnotify itself
// is not recursive, so callers should add every subdirectory they care
// about) and calls callback, debounced, on any meaningful change in them.
func New(paths []string, callback func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	for _, p := range paths {
		if err := fsw.Add(p); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", p, err)
		}
	}
	return &Watcher{fsw: fsw, callback: callback}, nil
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run consumes events until ctx is cancelled or the watcher is closed,
// invoking the callback at most once per debounceWindow. errFn, if
// non-nil, is called with every fsnotify error encountered.
func (w *Watcher) Run(ctx context.Context, errFn func(error)) {
	var timer *time.Timer
	var timerC <-chan time.Time

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&meaningfulOps == 0 {
				continue
			}
			stopTimer()
			timer = time.NewTimer(debounceWindow)
			timerC = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if errFn != nil {
				errFn(err)
			}
		case <-timerC:
			timerC = nil
			w.callback()
		}
	}
}
