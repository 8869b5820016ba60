// Package cache provides the metadata and query caches of the entity
// manager.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cache stores opaque values by key.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// Key identifies a generated query.
type Key struct {
	Table      string
	Operation  string
	Predicates string
	OrderBy    string
	Limit      int
	Offset     int
}

// String returns the string representation of the cache key.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString("query:")
	b.WriteString(k.Table)
	b.WriteByte(':')
	b.WriteString(k.Operation)
	b.WriteByte(':')
	b.WriteString(k.Predicates)
	b.WriteByte(':')
	b.WriteString(k.OrderBy)
	if k.Limit > 0 || k.Offset > 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(k.Limit))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(k.Offset))
	}
	return b.String()
}

// Kind enumerates the cache backends.
type Kind string

// Cache kinds.
const (
	KindArray      Kind = "array"
	KindFilesystem Kind = "filesystem"
	KindNone       Kind = "none"
)

// legacy class names accepted by ParseKind.
var legacyKinds = map[string]Kind{
	`Doctrine\Common\Cache\ArrayCache`:      KindArray,
	`Doctrine\Common\Cache\FilesystemCache`: KindFilesystem,
	`Doctrine\Common\Cache\PhpFileCache`:    KindFilesystem,
	`Doctrine\Common\Cache\VoidCache`:       KindNone,
}

// ParseKind parses a cache kind. The empty string selects KindArray.
func ParseKind(s string) (Kind, error) {
	if k, ok := legacyKinds[strings.TrimPrefix(s, `\`)]; ok {
		return k, nil
	}
	switch k := Kind(strings.ToLower(s)); k {
	case "":
		return KindArray, nil
	case KindArray, KindFilesystem, KindNone:
		return k, nil
	}
	return "", fmt.Errorf("cache: unknown kind %q", s)
}

type options struct {
	dir string
	now func() time.Time
}

// Option configures a cache created by New.
type Option func(*options)

// WithDir sets the directory of a filesystem cache.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithClock sets the clock used for expiration.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New returns a cache of the given kind.
func New(kind Kind, opts ...Option) (Cache, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	switch kind {
	case KindArray, "":
		return newMemory(o.now), nil
	case KindFilesystem:
		if o.dir == "" {
			return nil, fmt.Errorf("cache: filesystem cache requires a directory")
		}
		return newFilesystem(o.dir, o.now)
	case KindNone:
		return Noop{}, nil
	}
	return nil, fmt.Errorf("cache: unknown kind %q", kind)
}
