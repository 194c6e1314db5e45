package transcript

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a file must be quiet before it is reported.
const DefaultSettle = 500 * time.Millisecond

// Watcher reports transcripts that were created or written. Rapid writes to
// the same file are coalesced until the file has been quiet for the settle
// window.
type Watcher struct {
	source   *Source
	settle   time.Duration
	onChange func(path string)
	logger   *slog.Logger

	fsw     *fsnotify.Watcher
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	done    chan struct{}
}

// NewWatcher creates a watcher over the source's roots. onChange runs on
// its own goroutine once per settled file.
func NewWatcher(source *Source, settle time.Duration, onChange func(path string), logger *slog.Logger) (*Watcher, error) {
	if settle <= 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		source:   source,
		settle:   settle,
		onChange: onChange,
		logger:   logger.With("component", "transcript_watcher"),
		fsw:      fsw,
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}, nil
}

// Run watches until ctx is cancelled. Roots that do not exist yet are skipped.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()

	watched := 0
	for _, root := range w.source.Roots() {
		n, err := w.addRecursive(root)
		if err != nil {
			return err
		}
		watched += n
	}
	w.logger.Info("watcher_started", slog.Int("directories", watched))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) addRecursive(root string) (int, error) {
	n := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && os.IsNotExist(err) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		n++
		return nil
	})
	return n, err
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if _, err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("watcher_add_failed", slog.String("path", event.Name), slog.String("error", err.Error()))
			}
			return
		}
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if !w.source.Matches(event.Name) {
		return
	}
	w.debounce(event.Name)
}

func (w *Watcher) debounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		stopped := w.stopped
		w.mu.Unlock()
		if stopped {
			return
		}
		w.onChange(path)
	})
}

func (w *Watcher) stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	for _, t := range w.timers {
		t.Stop()
	}
	clear(w.timers)
	w.mu.Unlock()

	if err := w.fsw.Close(); err != nil {
		w.logger.Warn("watcher_close_failed", slog.String("error", err.Error()))
	}
	close(w.done)
}

// Done is closed once Run has returned and resources are released.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}
