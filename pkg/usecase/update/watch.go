package update

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jrodrigosm/llm-user-memory/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// DefaultDebounce coalesces the burst of writes the assistant makes per response
const DefaultDebounce = 500 * time.Millisecond

// Watcher triggers an update cycle shortly after the log database changes,
// so new entries do not wait for the next poll.
type Watcher struct {
	path     string
	debounce time.Duration
	trigger  func()
}

// WatchOption is a functional option for Watcher
type WatchOption func(*Watcher)

// WithDebounce sets the quiet period before triggering
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher watches the database file at path (and its -wal and -journal
// companions) and calls trigger after changes settle.
func NewWatcher(path string, trigger func(), opts ...WatchOption) *Watcher {
	w := &Watcher{
		path:     path,
		debounce: DefaultDebounce,
		trigger:  trigger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Watcher) relevant(name string) bool {
	base := filepath.Base(w.path)
	got := filepath.Base(name)
	return got == base || strings.HasPrefix(got, base+"-")
}

// Run blocks until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	logger := logging.From(ctx)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return goerr.Wrap(err, "failed to create file watcher")
	}
	defer fw.Close()

	// watch the directory: SQLite replaces and truncates its side files
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return goerr.Wrap(err, "failed to watch log directory", goerr.V("dir", dir))
	}
	logger.Debug("watching interaction log", "path", w.path)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event.Name) || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("file watcher error", "error", err)

		case <-timer.C:
			w.trigger()
		}
	}
}
