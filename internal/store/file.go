package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/palmkit/throttle/pkg/logger"
)

const (
	recordExt = ".json"
	tmpPrefix = ".tmp-"
)

// FileBackend stores one JSON file per key in a directory.
//
// Writes go to a uniquely named temp file in the same directory, are
// fsynced, and are renamed over the target, so a reader sees either the old
// or the new record. No lock is held across a caller's read-modify-write:
// concurrent writers to one key can lose updates, but never corrupt a file.
type FileBackend struct {
	dir string
	log *logger.Logger
}

// NewFileBackend creates the directory if needed and returns a backend
// rooted at it.
func NewFileBackend(dir string, log *logger.Logger) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.New("store directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &FileBackend{dir: dir, log: log}, nil
}

// Dir returns the directory records are written to.
func (b *FileBackend) Dir() string {
	return b.dir
}

// Path returns the file path used for key.
func (b *FileBackend) Path(key string) string {
	return filepath.Join(b.dir, SanitizeKey(key)+recordExt)
}

// Get reads the record file for key.
func (b *FileBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read record: %w", err)
	}
	return data, nil
}

// Set atomically replaces the record file for key.
func (b *FileBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.CreateTemp(b.dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := f.Name()

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(value); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, b.Path(key)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to record: %w", err)
	}
	return nil
}

// Delete removes the record file for key.
func (b *FileBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(b.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove record: %w", err)
	}
	return nil
}

// Cleanup removes record files whose modification time is older than
// maxAge. Temp files abandoned by crashed writers are removed as well but
// are not counted.
func (b *FileBackend) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0, fmt.Errorf("read store directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		isRecord := strings.HasSuffix(name, recordExt) && !strings.HasPrefix(name, tmpPrefix)
		isTemp := strings.HasPrefix(name, tmpPrefix)
		if !isRecord && !isTemp {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Removed by a concurrent writer or sweep.
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(b.dir, name)); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				b.log.Warn("failed to remove stale record", "file", name, "error", err)
			}
			continue
		}
		if isRecord {
			removed++
		}
	}

	return removed, nil
}

// Ping checks that the directory still exists.
func (b *FileBackend) Ping(ctx context.Context) error {
	info, err := os.Stat(b.dir)
	if err != nil {
		return fmt.Errorf("stat store directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store path %s is not a directory", b.dir)
	}
	return nil
}

// Close is a no-op; the backend holds no open handles between calls.
func (b *FileBackend) Close() error {
	return nil
}

var _ Backend = (*FileBackend)(nil)
