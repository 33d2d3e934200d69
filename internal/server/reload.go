package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Reloader watches configuration files and calls reload after changes
// settle.
type Reloader struct {
	watcher  *fsnotify.Watcher
	files    map[string]bool
	reload   func() error
	debounce time.Duration
	logger   *zap.Logger
}

// NewReloader watches the directories holding paths so that editors that
// replace files on save are still seen. Missing paths are skipped.
func NewReloader(paths []string, reload func() error, logger *zap.Logger) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		p = filepath.Clean(p)
		files[p] = true
		dir := filepath.Dir(p)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
		}
		dirs[dir] = true
	}

	return &Reloader{
		watcher:  watcher,
		files:    files,
		reload:   reload,
		debounce: 500 * time.Millisecond,
		logger:   logger.Named("reload"),
	}, nil
}

// Watching reports how many files are watched.
func (r *Reloader) Watching() int { return len(r.files) }

// Run watches for changes until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var (
		mu       sync.Mutex
		debounce *time.Timer
		wg       sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		if debounce != nil && debounce.Stop() {
			wg.Done()
		}
		mu.Unlock()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if !r.files[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			mu.Lock()
			if debounce != nil && debounce.Stop() {
				wg.Done()
			}
			wg.Add(1)
			debounce = time.AfterFunc(r.debounce, func() {
				defer wg.Done()
				if err := r.reload(); err != nil {
					r.logger.Warn("hot-reload failed", zap.Error(err))
				} else {
					r.logger.Info("hot-reload: configuration reloaded")
				}
			})
			mu.Unlock()

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}
