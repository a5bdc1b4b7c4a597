package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const fileExt = ".json"

// FileBackend stores each key as a JSON file inside a directory, the on-disk analogue
// of a browser profile's local storage.
type FileBackend struct {
	mu       sync.Mutex
	dir      string
	maxBytes int
}

func NewFileBackend(dir string, maxBytes int) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileBackend{dir: dir, maxBytes: maxBytes}, nil
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.dir, key+fileExt)
}

func (b *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := os.ReadFile(b.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *FileBackend) Set(_ context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxBytes > 0 {
		used, err := b.usageLocked()
		if err != nil {
			return err
		}
		oldSize := 0
		if info, err := os.Stat(b.path(key)); err == nil {
			oldSize = int(info.Size())
		}
		if !fits(b.maxBytes, used, oldSize, len(value)) {
			return ErrQuotaExceeded
		}
	}

	tmp, err := os.CreateTemp(b.dir, "."+key+"-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), b.path(key))
}

func (b *FileBackend) Remove(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	err := os.Remove(b.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (b *FileBackend) usageLocked() (int, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return 0, err
		}
		total += int(info.Size())
	}
	return total, nil
}
