package cutover

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Gate when its config file changes. The parent directory
// is watched so editors that replace the file by rename are picked up.
type Watcher struct {
	path     string
	gate     *Gate
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	done    chan struct{}
}

func NewWatcher(path string, gate *Gate) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		gate:     gate,
		debounce: 250 * time.Millisecond,
	}
}

func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create cutover watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch cutover config dir: %w", err)
	}

	w.watcher = fw
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop(ctx, fw, w.stopCh, w.done)

	slog.Info("cutover_watcher_started", "path", w.path)
	return nil
}

// Stop ends the watch loop and waits for it to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	fw, stopCh, done := w.watcher, w.stopCh, w.done
	w.watcher = nil
	w.mu.Unlock()
	if fw == nil {
		return nil
	}

	close(stopCh)
	err := fw.Close()
	<-done
	slog.Info("cutover_watcher_stopped", "path", w.path)
	if err != nil {
		return fmt.Errorf("close cutover watcher: %w", err)
	}
	return nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || event.Op == fsnotify.Chmod {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			slog.Error("cutover_watcher_error", "error", err)
		case <-timer.C:
			_ = w.gate.Reload(w.path)
		}
	}
}
