package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/fsnotify/fsnotify"
)

// ReloadFunc is invoked with the freshly loaded and built configuration
// every time the watched file changes, or with a non-nil err if the new
// revision failed to load or validate -- in which case the caller should
// keep running with whatever configuration it already has, matching
// spec.md section 6's requirement that a bad reconfiguration not take
// down a running server.
type ReloadFunc func(b *Built, err error)

// Watcher reloads a configuration file whenever it's written to,
// grounded on the teacher's directory-watching [fsnotify] pattern
// (internal/aghos/fswatcher.go's osWatcher): fsnotify's own
// recommendation is to watch a file's containing directory rather than
// the file itself, since editors commonly replace a file rather than
// write it in place.
type Watcher struct {
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	path    string
	onLoad  ReloadFunc
}

// NewWatcher opens a Watcher for the config file at path. onLoad must
// not be nil.
func NewWatcher(logger *slog.Logger, path string, onLoad ReloadFunc) (w *Watcher, err error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err = fw.Add(dir); err != nil {
		_ = fw.Close()

		return nil, fmt.Errorf("config: watching %q: %w", dir, err)
	}

	return &Watcher{
		logger:  logger.With(slogutil.KeyPrefix, "config"),
		watcher: fw,
		path:    filepath.Clean(path),
		onLoad:  onLoad,
	}, nil
}

// Start runs the event loop in the background until ctx is canceled or
// [Watcher.Close] is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

// Close stops the watcher.
func (w *Watcher) Close() (err error) {
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, w.logger)

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.ErrorContext(ctx, "watching config", slogutil.KeyError, err)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	if filepath.Clean(ev.Name) != w.path {
		return
	}

	w.drainDuplicates()

	w.logger.InfoContext(ctx, "reloading config", "path", w.path)

	b, err := LoadAndBuild(w.path)
	if err != nil {
		err = errors.Annotate(err, "reloading %q: %w", w.path)
	}

	w.onLoad(b, err)
}

// drainDuplicates discards any further buffered events for this
// revision, since a single logical save commonly produces several
// filesystem events in quick succession.
func (w *Watcher) drainDuplicates() {
	for {
		select {
		case <-w.watcher.Events:
		default:
			return
		}
	}
}
