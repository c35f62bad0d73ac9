package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/syssam/bulkmerge/internal/capture"
)

// Suffixes appended to a watched file once it has been replayed.
const (
	doneSuffix   = ".done"
	failedSuffix = ".failed"
)

// watch replays capture files as they appear in dir, until ctx is done.
// Producers should write a file under another name and rename it into
// place when complete. Files already in dir are replayed first.
func (r *replayer) watch(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			r.spool(ctx, filepath.Join(dir, e.Name()))
		}
	}

	r.log.InfoContext(ctx, "watching", "dir", dir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				r.spool(ctx, ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.ErrorContext(ctx, "watch error", "error", err)
		}
	}
}

// spool replays a capture file and marks it done or failed. Files of an
// unknown format are ignored.
func (r *replayer) spool(ctx context.Context, path string) {
	if _, err := capture.FormatOf(path); err != nil {
		return
	}
	if _, err := os.Stat(path); err != nil {
		// Renamed away.
		return
	}
	suffix := doneSuffix
	if err := r.replayFile(ctx, path); err != nil {
		r.log.ErrorContext(ctx, "replay failed", "file", path, "error", err)
		suffix = failedSuffix
	}
	if err := os.Rename(path, path+suffix); err != nil {
		r.log.ErrorContext(ctx, "mark replayed file", "file", path, "error", err)
	}
}
