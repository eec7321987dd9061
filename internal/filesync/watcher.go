package filesync

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceWindow coalesces the event bursts editors emit on save.
const debounceWindow = 250 * time.Millisecond

// Watcher surfaces changed work-item file paths under a root directory.
// It reads no file content; the host feeds paths back through the engine
// with the bytes it chooses to read.
type Watcher struct {
	root    string
	logger  *zap.Logger
	onEvent func(path string)

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher builds a Watcher over root. onEvent fires once per settled
// change, debounced per path.
func NewWatcher(root string, logger *zap.Logger, onEvent func(path string)) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		root:    root,
		logger:  logger.Named("watcher"),
		onEvent: onEvent,
		pending: make(map[string]*time.Timer),
	}
}

// Run watches until ctx is cancelled. Subdirectories present at start and
// created afterwards are both covered.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	w.logger.Info("watching tasks root", zap.String("root", w.root))

	for {
		select {
		case <-ctx.Done():
			w.drainTimers()
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(fw, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(fw *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	// New type directories appear as items are exported.
	if event.Op&fsnotify.Create != 0 && filepath.Ext(event.Name) == "" {
		if err := fw.Add(event.Name); err == nil {
			w.logger.Debug("watching new directory", zap.String("dir", event.Name))
		}
		return
	}
	if !isWorkItemFile(event.Name) {
		return
	}
	w.debounce(event.Name)
}

// debounce schedules the callback once the path stops changing.
func (w *Watcher) debounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Reset(debounceWindow)
		return
	}
	w.pending[path] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.onEvent(path)
	})
}

func (w *Watcher) drainTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	if err := fw.Add(root); err != nil {
		return err
	}
	matches, err := filepath.Glob(filepath.Join(root, "*"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if filepath.Ext(m) == "" {
			if err := fw.Add(m); err != nil {
				w.logger.Warn("cannot watch directory", zap.String("dir", m), zap.Error(err))
			}
		}
	}
	return nil
}

func isWorkItemFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
