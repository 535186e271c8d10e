package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// File keeps values in a JSON file shared by every process of the user.
// Writes re-read the file first, so concurrent writers only race per key and
// the last write wins. Changes made by other processes are picked up through
// fsnotify.
type File struct {
	mu      sync.RWMutex
	path    string
	values  map[string]string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewFile(path string, logger *zap.Logger) (*File, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	f := &File{
		path:   path,
		logger: logger.With(zap.String("store", path)),
		done:   make(chan struct{}),
	}

	values, err := f.read()
	if err != nil {
		return nil, err
	}
	f.values = values

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create store watcher: %w", err)
	}
	// The directory is watched, not the file: writes replace the file by rename.
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch store directory: %w", err)
	}
	f.watcher = watcher

	go f.watch()

	return f, nil
}

func (f *File) Get(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[key]
	return v, ok
}

func (f *File) Set(key, value string) error {
	return f.update(func(values map[string]string) {
		values[key] = value
	})
}

func (f *File) Delete(key string) error {
	return f.update(func(values map[string]string) {
		delete(values, key)
	})
}

func (f *File) Clear() error {
	return f.update(func(values map[string]string) {
		clear(values)
	})
}

func (f *File) Close() error {
	if f.watcher == nil {
		return nil
	}
	err := f.watcher.Close()
	<-f.done
	return err
}

func (f *File) update(apply func(values map[string]string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return err
	}
	apply(values)

	if err := f.write(values); err != nil {
		return err
	}
	f.values = values
	return nil
}

func (f *File) watch() {
	defer close(f.done)

	target := filepath.Clean(f.path)
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			f.reload()
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("store watcher error", zap.Error(err))
		}
	}
}

func (f *File) reload() {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		f.logger.Debug("skipping store reload", zap.Error(err))
		return
	}
	f.values = values
	f.logger.Debug("store reloaded after external change", zap.Int("keys", len(values)))
}

func (f *File) read() (map[string]string, error) {
	values := make(map[string]string)

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	if len(data) == 0 {
		return values, nil
	}

	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse store %s: %w", f.path, err)
	}
	return values, nil
}

func (f *File) write(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".store-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}
