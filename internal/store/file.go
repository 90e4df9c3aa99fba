package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"syscall"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the data directory.
var ErrLocked = errors.New("data directory is locked by another process")

var validKey = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// FileBackend stores each key as a JSON file in one directory. The
// directory is held under an exclusive lock for the backend's lifetime.
type FileBackend struct {
	dir  string
	lock *flock.Flock
}

// OpenFileBackend creates dir if needed and takes its lock.
func OpenFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock data dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}

	return &FileBackend{dir: dir, lock: lock}, nil
}

// Close releases the directory lock.
func (b *FileBackend) Close() error {
	return b.lock.Unlock()
}

func (b *FileBackend) Ping(_ context.Context) error {
	_, err := os.Stat(b.dir)
	return err
}

// Save writes value to a temp file and renames it over the key's file, so a
// crash mid-write leaves the previous value intact.
func (b *FileBackend) Save(_ context.Context, key string, value []byte) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.dir, key+".*.tmp")
	if err != nil {
		return classifyFileError(fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return classifyFileError(fmt.Errorf("write %s: %w", key, err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return classifyFileError(fmt.Errorf("sync %s: %w", key, err))
	}
	if err := tmp.Close(); err != nil {
		return classifyFileError(fmt.Errorf("close %s: %w", key, err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

func (b *FileBackend) Load(_ context.Context, key string) ([]byte, bool, error) {
	path, err := b.path(key)
	if err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	return data, true, nil
}

func (b *FileBackend) path(key string) (string, error) {
	if !validKey.MatchString(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(b.dir, key+".json"), nil
}

// classifyFileError maps a full disk to ErrQuotaExceeded.
func classifyFileError(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}

var _ Persistence = (*FileBackend)(nil)
