package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// fileExt is the extension of cache entry files.
const fileExt = ".cache"

// envelope is the msgpack encoded content of an entry file.
type envelope struct {
	Key     string    `msgpack:"k"`
	Value   []byte    `msgpack:"v"`
	Expires time.Time `msgpack:"e,omitempty"`
}

// Filesystem stores one file per entry in a directory. File names are the
// hex encoded keys, so prefixes can be matched without reading files.
type Filesystem struct {
	dir string
	now func() time.Time
}

// NewFilesystem returns a cache storing entries under dir, creating it
// when missing.
func NewFilesystem(dir string) (*Filesystem, error) {
	return newFilesystem(dir, time.Now)
}

func newFilesystem(dir string, now func() time.Time) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &Filesystem{dir: dir, now: now}, nil
}

// Dir returns the cache directory.
func (f *Filesystem) Dir() string { return f.dir }

func (f *Filesystem) path(key string) string {
	return filepath.Join(f.dir, hex.EncodeToString([]byte(key))+fileExt)
}

// Get implements Cache.
func (f *Filesystem) Get(_ context.Context, key string) ([]byte, error) {
	b, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	var e envelope
	if err := msgpack.Unmarshal(b, &e); err != nil || e.Key != key {
		// Corrupt or colliding entries are misses.
		return nil, nil
	}
	if !e.Expires.IsZero() && !f.now().Before(e.Expires) {
		_ = os.Remove(f.path(key))
		return nil, nil
	}
	return e.Value, nil
}

// Set implements Cache. Entries are written to a temporary file first and
// renamed into place.
func (f *Filesystem) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := envelope{Key: key, Value: value}
	if ttl > 0 {
		e.Expires = f.now().Add(ttl)
	}
	b, err := msgpack.Marshal(&e)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}

// Delete implements Cache.
func (f *Filesystem) Delete(_ context.Context, key string) error {
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}

// DeletePrefix implements Cache.
func (f *Filesystem) DeletePrefix(_ context.Context, prefix string) error {
	return f.remove(hex.EncodeToString([]byte(prefix)))
}

// Clear implements Cache.
func (f *Filesystem) Clear(context.Context) error {
	return f.remove("")
}

func (f *Filesystem) remove(namePrefix string) error {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	var errs []error
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, fileExt) || !strings.HasPrefix(name, namePrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(f.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}

var _ Cache = (*Filesystem)(nil)
