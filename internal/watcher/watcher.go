// Package watcher turns filesystem notifications for a single file into a
// de-duplicated stream of content snapshots.
//
// The watch is scoped to the file's parent directory so that editors which
// save by replace-via-rename keep being observed. Notification callbacks and
// the actual file reads run in separate goroutines connected by a signal
// channel: the fsnotify loop only filters events and pokes the read loop,
// which re-reads the file and publishes a new State when the content really
// changed. A successful read that is byte-identical to the previous
// successful read is suppressed; read errors always propagate.
package watcher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/SabrinaJewson/ghmd/internal/logging"
)

// FileWatcher owns the filesystem watch for one file and the Feed its
// subscribers read from.
type FileWatcher struct {
	path      string
	feed      *Feed
	fsw       *fsnotify.Watcher
	logger    logging.Logger
	closeOnce sync.Once
}

// Watch starts watching path and returns a FileWatcher whose Feed holds the
// file's current content. It fails if the path cannot be canonicalized, the
// initial read fails, or the parent directory cannot be watched. The watch
// stops when ctx is cancelled or Close is called.
func Watch(ctx context.Context, logger logging.Logger, path string) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing %s: %w", path, err)
	}

	initial, err := os.ReadFile(canonical)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", canonical, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}

	dir := filepath.Dir(canonical)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	w := &FileWatcher{
		path:   canonical,
		feed:   NewFeed(State{Content: string(initial)}),
		fsw:    fsw,
		logger: logger.WithComponent("watcher"),
	}

	// Capacity 1: a burst of events while a read is in flight collapses
	// into one pending signal.
	modified := make(chan struct{}, 1)
	go w.filterEvents(ctx, modified)
	go w.readLoop(ctx, initial, modified)

	return w, nil
}

// Path returns the canonicalized path of the watched file.
func (w *FileWatcher) Path() string { return w.path }

// Feed returns the feed of content snapshots for the watched file.
func (w *FileWatcher) Feed() *Feed { return w.feed }

// Close releases the underlying filesystem watch and closes the feed,
// waking all subscribers. Close is idempotent.
func (w *FileWatcher) Close() {
	w.closeOnce.Do(func() {
		w.fsw.Close()
		w.feed.Close()
	})
}

// filterEvents consumes raw fsnotify events, drops the ones that cannot have
// changed the watched file's content, and signals the read loop.
func (w *FileWatcher) filterEvents(ctx context.Context, modified chan<- struct{}) {
	defer close(modified)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			// Permission and timestamp changes do not affect content.
			if event.Op&^fsnotify.Chmod == 0 {
				continue
			}
			select {
			case modified <- struct{}{}:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, err, "filesystem watch error")
		}
	}
}

// readLoop waits for change signals, re-reads the file, and publishes a new
// State on actual transitions. previous tracks the last successfully read
// content; a nil previous means the last read failed, so the next successful
// read is always published.
func (w *FileWatcher) readLoop(ctx context.Context, initial []byte, modified <-chan struct{}) {
	previous := initial
	for {
		select {
		case <-ctx.Done():
			w.Close()
			return
		case _, ok := <-modified:
			if !ok {
				return
			}
		}

		content, err := os.ReadFile(w.path)
		if err != nil {
			previous = nil
			w.logger.Warn(ctx, err, "failed to read watched file", "path", w.path)
			w.feed.Publish(State{Err: fmt.Errorf("reading %s: %w", w.path, err)})
			continue
		}
		if previous != nil && bytes.Equal(content, previous) {
			continue
		}
		previous = content
		w.logger.Debug(ctx, "file changed", "path", w.path, "bytes", len(content))
		w.feed.Publish(State{Content: string(content)})
	}
}
