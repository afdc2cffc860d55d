package workspace

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher reports source and build file changes under the workspace root. Bursts of
// events within the debounce window produce a single callback.
type Watcher struct {
	root     string
	fsw      *fsnotify.Watcher
	onChange func()
	debounce time.Duration
	logger   *slog.Logger

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewWatcher(ws *Workspace, onChange func(), debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:     ws.Root(),
		fsw:      fsw,
		onChange: onChange,
		debounce: debounce,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Start watches the root recursively until ctx ends or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("workspace watcher error", "error", err)
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			timer.Reset(w.debounce)
		case <-timer.C:
			w.logger.Debug("workspace changed")
			w.onChange()
		}
	}
}

// relevant also starts watching directories created after Start.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	name := filepath.Base(ev.Name)
	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if SkipDir(name) {
				return false
			}
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.Warn("watch new directory", "dir", ev.Name, "error", err)
			}
			return true
		}
	}
	if (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) && filepath.Ext(name) == "" {
		// possibly a directory, maybe a whole project
		return !SkipDir(name)
	}
	if _, ok := LanguageOf(name); ok {
		return true
	}
	return name == "pom.xml" || name == "go.mod"
}
