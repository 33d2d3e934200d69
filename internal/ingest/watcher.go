package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Config is the inbox section of the guard config.
type Config struct {
	Enabled  bool          `yaml:"enabled"`
	Dir      string        `yaml:"dir"`
	Workers  int           `yaml:"workers"`
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultConfig disables the inbox; when enabled it uses ~/.roomguard/inbox.
func DefaultConfig() Config {
	return Config{Workers: 4, Debounce: 200 * time.Millisecond}
}

// DefaultDir returns ~/.roomguard/inbox.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".roomguard", "inbox")
	}
	return filepath.Join(home, ".roomguard", "inbox")
}

// maxQueueSize bounds paths waiting for a worker.
const maxQueueSize = 200

// Watcher watches a directory for new .json files using fsnotify and hands
// them to a fixed pool of workers.
type Watcher struct {
	inbox    string
	handler  func(path string)
	debounce time.Duration
	workers  int
	logger   *zap.Logger
}

// NewWatcher creates a watcher for the inbox directory.
func NewWatcher(cfg Config, handler func(path string), logger *zap.Logger) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 200 * time.Millisecond
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		inbox:    cfg.Dir,
		handler:  handler,
		debounce: cfg.Debounce,
		workers:  cfg.Workers,
		logger:   logger.Named("inbox"),
	}
}

// Run processes files already in the inbox, then watches for new ones.
// Blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := os.MkdirAll(w.inbox, 0700); err != nil {
		return err
	}
	if err := watcher.Add(w.inbox); err != nil {
		return err
	}

	queue := make(chan string, maxQueueSize)
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range queue {
				w.handle(path)
			}
		}()
	}

	// ready collects paths until the debounce timer fires.
	ready := make(map[string]bool)
	if existing, err := pending(w.inbox); err == nil {
		for _, p := range existing {
			ready[p] = true
		}
	}
	flush := func() {
		for p := range ready {
			select {
			case queue <- p:
			case <-ctx.Done():
				return
			}
			delete(ready, p)
		}
	}
	flush()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer func() {
		timer.Stop()
		close(queue)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-timer.C:
			flush()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !isInboxFile(event.Name) {
				continue
			}
			ready[event.Name] = true
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(path string) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("inbox handler panicked", zap.String("file", path), zap.Any("panic", r))
		}
	}()
	w.handler(path)
}

// pending lists inbox files present before watching began.
func pending(inbox string) ([]string, error) {
	entries, err := os.ReadDir(inbox)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if path := filepath.Join(inbox, e.Name()); isInboxFile(path) {
			out = append(out, path)
		}
	}
	return out, nil
}

// isInboxFile returns true for .json files (not .tmp partial writes).
func isInboxFile(path string) bool {
	name := filepath.Base(path)
	return strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".tmp")
}
