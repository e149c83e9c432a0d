package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileBackend persists all entries of a namespace as one JSON document. Every
// mutation rewrites the document atomically, so a crash leaves either the old
// or the new state on disk. Mutations hold an advisory lock on a sibling lock
// file and start from the document currently on disk, so several processes
// can share one store file without losing each other's writes. Reads pick up
// the document again whenever the file has been replaced.
type FileBackend struct {
	mu       sync.Mutex
	path     string
	lockPath string
	logger   *zap.Logger
	entries  map[string]json.RawMessage
	loaded   os.FileInfo
	closed   bool
}

// NewFileBackend opens (or creates) the store file for namespace under dir.
// A file that cannot be parsed is moved aside and the store starts empty.
func NewFileBackend(dir, namespace string, logger *zap.Logger) (*FileBackend, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	path := filepath.Join(dir, namespace+".store.json")
	b := &FileBackend{
		path:     path,
		lockPath: path + ".lock",
		logger:   logger,
		entries:  make(map[string]json.RawMessage),
	}

	lock, err := lockFile(b.lockPath)
	if err != nil {
		return nil, err
	}
	defer unlockFile(lock) //nolint:errcheck

	if err := b.load(true); err != nil {
		return nil, err
	}
	return b, nil
}

// Path returns the backing file location.
func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) Read(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.refresh(); err != nil {
		return nil, false, err
	}
	data, ok := b.entries[key]
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(data), true, nil
}

func (b *FileBackend) ReadMany(_ context.Context, keys []string) (map[string][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.refresh(); err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if data, ok := b.entries[key]; ok {
			out[key] = cloneBytes(data)
		}
	}
	return out, nil
}

func (b *FileBackend) Write(ctx context.Context, key string, data []byte) error {
	return b.WriteMany(ctx, map[string][]byte{key: data})
}

func (b *FileBackend) WriteMany(_ context.Context, entries map[string][]byte) error {
	for key, data := range entries {
		if !json.Valid(data) {
			return fmt.Errorf("entry %q is not valid JSON", key)
		}
	}
	return b.mutate(func(next map[string]json.RawMessage) bool {
		for key, data := range entries {
			next[key] = json.RawMessage(cloneBytes(data))
		}
		return len(entries) > 0
	})
}

func (b *FileBackend) Delete(_ context.Context, keys ...string) error {
	return b.mutate(func(next map[string]json.RawMessage) bool {
		changed := false
		for _, key := range keys {
			if _, ok := next[key]; ok {
				delete(next, key)
				changed = true
			}
		}
		return changed
	})
}

func (b *FileBackend) DeleteIfUnchanged(_ context.Context, snapshot map[string][]byte) (int, error) {
	deleted := 0
	err := b.mutate(func(next map[string]json.RawMessage) bool {
		deleted = 0
		for key, data := range snapshot {
			if current, ok := next[key]; ok && bytes.Equal(current, data) {
				delete(next, key)
				deleted++
			}
		}
		return deleted > 0
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (b *FileBackend) Keys(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.refresh(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(b.entries))
	for key := range b.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *FileBackend) Clear(_ context.Context) error {
	return b.mutate(func(next map[string]json.RawMessage) bool {
		changed := len(next) > 0
		for key := range next {
			delete(next, key)
		}
		return changed
	})
}

func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// mutate reloads the document under the file lock, applies fn to a copy of
// it, and persists the copy when fn reports a change. Memory is only swapped
// after the write succeeds, so a failed write leaves memory and disk in
// agreement.
func (b *FileBackend) mutate(fn func(next map[string]json.RawMessage) bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}

	lock, err := lockFile(b.lockPath)
	if err != nil {
		return err
	}
	defer unlockFile(lock) //nolint:errcheck

	if err := b.load(true); err != nil {
		return err
	}

	next := make(map[string]json.RawMessage, len(b.entries))
	for k, v := range b.entries {
		next[k] = v
	}
	if !fn(next) {
		return nil
	}

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}
	if err := atomicWriteFile(b.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	info, err := os.Stat(b.path)
	if err != nil {
		return fmt.Errorf("failed to stat store file: %w", err)
	}
	b.entries = next
	b.loaded = info
	return nil
}

// refresh reloads the document when the file on disk is not the one last
// loaded. Callers hold b.mu. A document replaced by another process is always
// complete because writers rename it into place.
func (b *FileBackend) refresh() error {
	if b.closed {
		return ErrBackendClosed
	}
	info, err := os.Stat(b.path)
	switch {
	case os.IsNotExist(err):
		if b.loaded != nil {
			b.entries = make(map[string]json.RawMessage)
			b.loaded = nil
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to stat store file: %w", err)
	}
	if sameFile(b.loaded, info) {
		return nil
	}
	return b.load(false)
}

// load replaces the in-memory entries with the document on disk. A corrupt
// document is moved aside when quarantine is set (the caller holds the file
// lock); otherwise the current entries are kept and the problem is logged.
func (b *FileBackend) load(quarantine bool) error {
	f, err := os.Open(b.path)
	switch {
	case os.IsNotExist(err):
		b.entries = make(map[string]json.RawMessage)
		b.loaded = nil
		return nil
	case err != nil:
		return fmt.Errorf("failed to open store file: %w", err)
	}
	// Stat the open handle so the info describes exactly the bytes read.
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat store file: %w", err)
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("failed to read store file: %w", err)
	}

	entries := make(map[string]json.RawMessage)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			if !quarantine {
				b.logger.Warn("store file unreadable; keeping last good copy",
					zap.String("path", b.path),
					zap.Error(err))
				return nil
			}
			moved := fmt.Sprintf("%s.corrupt-%d", b.path, time.Now().UnixNano())
			if renameErr := os.Rename(b.path, moved); renameErr != nil {
				return fmt.Errorf("store file is corrupt and could not be moved aside: %w", renameErr)
			}
			b.logger.Warn("store file corrupt; starting empty",
				zap.String("path", b.path),
				zap.String("quarantine", moved),
				zap.Error(err))
			b.entries = make(map[string]json.RawMessage)
			b.loaded = nil
			return nil
		}
	}
	b.entries = entries
	b.loaded = info
	return nil
}

func sameFile(a, b os.FileInfo) bool {
	if a == nil || b == nil {
		return false
	}
	return os.SameFile(a, b) && a.ModTime().Equal(b.ModTime()) && a.Size() == b.Size()
}

// atomicWriteFile writes data to a temp file in the target directory, syncs
// it, and renames it over path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

var _ Backend = (*FileBackend)(nil)
