// Package watcher reports files added to a directory.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettleDelay is how long a file must stay untouched before it is reported.
const DefaultSettleDelay = 500 * time.Millisecond

// Watcher watches a directory for new files.
type Watcher struct {
	dir         string
	settleDelay time.Duration
	initialScan bool

	log *slog.Logger
}

type options struct {
	settleDelay time.Duration
	initialScan bool
	logger      *slog.Logger
}

// Options represents an optional function to override Watcher default values.
type Options func(*options)

// WithSettleDelay sets how long a file must stay untouched before it is reported.
func WithSettleDelay(d time.Duration) Options {
	return func(o *options) {
		o.settleDelay = d
	}
}

// WithInitialScan sets whether files already in the directory are reported when watching starts.
func WithInitialScan(scan bool) Options {
	return func(o *options) {
		o.initialScan = scan
	}
}

// WithLogger sets the logger of the watcher.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.logger = l
	}
}

// New creates a watcher for dir.
func New(dir string, args ...Options) (*Watcher, error) {
	opts := options{
		settleDelay: DefaultSettleDelay,
		initialScan: true,
		logger:      slog.Default(),
	}

	for _, opt := range args {
		opt(&opts)
	}

	if dir == "" {
		return nil, errors.New("directory to watch must be set")
	}
	if opts.settleDelay < 0 {
		return nil, errors.New("settle delay must not be negative")
	}

	return &Watcher{
		dir:         dir,
		settleDelay: opts.settleDelay,
		initialScan: opts.initialScan,
		log:         opts.logger,
	}, nil
}

// Dir returns the watched directory.
func (w Watcher) Dir() string {
	return w.dir
}

// Watch starts watching the directory.
//
// It returns two channels: one receiving the path of every regular file created in, moved into or
// rewritten in the directory, once it stayed untouched for the settle delay, and another for
// unrecoverable watcher errors. A file may be reported more than once.
// Both channels are closed when ctx is done or after an unrecoverable error.
func (w *Watcher) Watch(ctx context.Context) (added <-chan string, errs <-chan error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %v", err)
	}

	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("failed to add directory %s to watcher: %v", w.dir, err)
	}

	var existing []string
	if w.initialScan {
		entries, err := os.ReadDir(w.dir)
		if err != nil {
			watcher.Close()
			return nil, nil, fmt.Errorf("failed to list directory %s: %v", w.dir, err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() {
				existing = append(existing, filepath.Join(w.dir, e.Name()))
			}
		}
		w.log.Debug("Found existing files", "dir", w.dir, "count", len(existing))
	}

	addedCh := make(chan string)
	errorsCh := make(chan error, 1)

	go func() {
		defer close(addedCh)
		defer close(errorsCh)
		defer watcher.Close()

		settle := newDebouncer(w.settleDelay)
		defer settle.stop()

		for _, path := range existing {
			settle.schedule(path)
		}

		for {
			select {
			case <-ctx.Done():
				w.log.Debug("Directory watcher stopped", "dir", w.dir)
				return

			case event, ok := <-watcher.Events:
				if !ok {
					errorsCh <- fmt.Errorf("watcher events channel closed unexpectedly")
					return
				}

				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					settle.cancel(event.Name)
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				settle.schedule(event.Name)

			case s := <-settle.ready:
				if !settle.settled(s) {
					continue
				}
				path := s.path

				info, err := os.Stat(path)
				if err != nil || !info.Mode().IsRegular() {
					continue
				}

				select {
				case addedCh <- path:
				case <-ctx.Done():
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					errorsCh <- fmt.Errorf("watcher errors channel closed unexpectedly")
					return
				}
				w.log.Warn("Watcher error", "err", err)
			}
		}
	}()

	return addedCh, errorsCh, nil
}
