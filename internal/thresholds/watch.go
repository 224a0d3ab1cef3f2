package thresholds

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"tagrouter/internal/config"
	"tagrouter/internal/escalation"
	"tagrouter/internal/logging"
)

// Watcher follows the configuration file and republishes its [thresholds]
// section as the default thresholds. Invalid edits keep the previous values.
type Watcher struct {
	path    string
	logger  *slog.Logger
	fs      *fsnotify.Watcher
	current atomic.Pointer[escalation.Thresholds]
	reloads atomic.Int64
}

// NewWatcher starts watching the directory holding path. The directory is
// watched instead of the file so editors that replace the file on save are
// still observed.
func NewWatcher(path string, initial escalation.Thresholds, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	cleaned := filepath.Clean(path)
	if err := fsw.Add(filepath.Dir(cleaned)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}
	w := &Watcher{
		path:   cleaned,
		logger: logging.NewComponentLogger(logger, "config-watcher"),
		fs:     fsw,
	}
	w.current.Store(&initial)
	return w, nil
}

// Defaults returns the most recently loaded default thresholds. It has the
// shape NewProvider expects for its defaults func.
func (w *Watcher) Defaults() escalation.Thresholds {
	return *w.current.Load()
}

// Reloads reports how many successful reloads have happened.
func (w *Watcher) Reloads() int64 {
	return w.reloads.Load()
}

// Run processes file events until ctx ends.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fs.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(w.logger, "config watcher error", "config_watch_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "restart the server after editing thresholds"),
				logging.String(logging.FieldImpact, "threshold defaults will not follow file edits"),
			)
		}
	}
}

func (w *Watcher) reload() {
	// Truncate-then-write saves emit an event for the empty file first.
	if info, err := os.Stat(w.path); err != nil || info.Size() == 0 {
		return
	}
	loaded, err := config.LoadThresholds(w.path)
	if err != nil {
		logging.WarnWithContext(w.logger, "config reload rejected", "config_reload_rejected",
			logging.String("path", w.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the configuration file; previous thresholds remain active"),
			logging.String(logging.FieldImpact, "threshold defaults unchanged"),
		)
		return
	}
	next := escalation.Thresholds{Primary: loaded.Primary, Secondary: loaded.Secondary, Tertiary: loaded.Tertiary}
	previous := w.Defaults()
	w.current.Store(&next)
	w.reloads.Add(1)
	if previous != next {
		w.logger.Info("threshold defaults reloaded",
			logging.Float64("primary", next.Primary),
			logging.Float64("secondary", next.Secondary),
			logging.Float64("tertiary", next.Tertiary),
		)
	}
}
