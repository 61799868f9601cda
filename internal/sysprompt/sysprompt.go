package sysprompt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"finreport/internal/logger"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Source holds the current system prompt. When backed by a file, Watch
// reloads it on every write.
type Source struct {
	path    string
	current atomic.Value // string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// New prefers the file at path and falls back to the inline text.
func New(inline, path string) (*Source, error) {
	s := &Source{path: path}
	s.current.Store(strings.TrimSpace(inline))
	if path == "" {
		return s, nil
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the prompt text, possibly empty.
func (s *Source) Get() string {
	if s == nil {
		return ""
	}
	v, _ := s.current.Load().(string)
	return v
}

func (s *Source) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read system prompt file: %w", err)
	}
	s.current.Store(strings.TrimSpace(string(data)))
	return nil
}

// Watch follows the prompt file until ctx is done. The parent directory is
// watched so editors that replace the file are picked up too.
func (s *Source) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()

	target := filepath.Clean(s.path)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := s.reload(); err != nil {
					logger.Warn("system prompt reload failed", zap.Error(err))
					continue
				}
				logger.Info("system prompt reloaded", zap.String("file", filepath.Base(s.path)), zap.Int("chars", len(s.Get())))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("system prompt watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil
	return err
}
