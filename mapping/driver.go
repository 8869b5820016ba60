package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/easybib/ormresource/cache"
)

// Driver reads class metadata from a mapping source.
type Driver interface {
	// ClassNames returns the names of all classes known to the driver.
	ClassNames(ctx context.Context) ([]string, error)
	// Load returns the raw metadata of a class. Names the driver does not
	// know yield an error wrapping ErrUnknownClass.
	Load(ctx context.Context, class string) (*ClassMetadata, error)
}

// Resetter is implemented by drivers holding state that must be dropped
// when mapping sources change.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ChainDriver asks its drivers in order; the first driver knowing a class
// wins.
type ChainDriver []Driver

// ClassNames implements Driver.
func (c ChainDriver) ClassNames(ctx context.Context) ([]string, error) {
	var names []string
	for _, d := range c {
		ns, err := d.ClassNames(ctx)
		if err != nil {
			return nil, err
		}
		for _, n := range ns {
			if !slices.Contains(names, n) {
				names = append(names, n)
			}
		}
	}
	return names, nil
}

// Load implements Driver.
func (c ChainDriver) Load(ctx context.Context, class string) (*ClassMetadata, error) {
	for _, d := range c {
		m, err := d.Load(ctx, class)
		switch {
		case err == nil:
			return m, nil
		case !errors.Is(err, ErrUnknownClass):
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownClass, class)
}

// Reset implements Resetter.
func (c ChainDriver) Reset(ctx context.Context) error {
	var errs []error
	for _, d := range c {
		if r, ok := d.(Resetter); ok {
			errs = append(errs, r.Reset(ctx))
		}
	}
	return errors.Join(errs...)
}

// StaticDriver serves metadata declared in code, keyed by class name.
type StaticDriver map[string]*ClassMetadata

// NewStaticDriver returns a driver serving the given classes.
func NewStaticDriver(ms ...*ClassMetadata) StaticDriver {
	d := make(StaticDriver, len(ms))
	for _, m := range ms {
		d[m.Name] = m
	}
	return d
}

// ClassNames implements Driver.
func (d StaticDriver) ClassNames(context.Context) ([]string, error) {
	return slices.Sorted(maps.Keys(d)), nil
}

// Load implements Driver. The returned metadata is a copy.
func (d StaticDriver) Load(_ context.Context, class string) (*ClassMetadata, error) {
	m, ok := d[class]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownClass, class)
	}
	return m.Clone(), nil
}

// cache keys of the cached driver.
const (
	cachePrefix   = "mapping:"
	classNamesKey = cachePrefix + "$classes"
)

// CachedDriver wraps a Driver with a cache. Metadata is stored msgpack
// encoded; cache failures fall back to the wrapped driver.
type CachedDriver struct {
	Driver
	cache  cache.Cache
	logger *slog.Logger
}

// NewCachedDriver returns a driver caching the results of d in c. Cache
// write failures are logged at debug level to l, or to the default logger
// when l is nil.
func NewCachedDriver(d Driver, c cache.Cache, l *slog.Logger) *CachedDriver {
	if l == nil {
		l = slog.Default()
	}
	return &CachedDriver{Driver: d, cache: c, logger: l}
}

func (d *CachedDriver) store(ctx context.Context, key string, v any) {
	b, err := msgpack.Marshal(v)
	if err == nil {
		err = d.cache.Set(ctx, key, b, 0)
	}
	if err != nil {
		d.logger.DebugContext(ctx, "caching mapping", "key", key, "error", err)
	}
}

// ClassNames implements Driver.
func (d *CachedDriver) ClassNames(ctx context.Context) ([]string, error) {
	if b, err := d.cache.Get(ctx, classNamesKey); err == nil && b != nil {
		var names []string
		if err := msgpack.Unmarshal(b, &names); err == nil {
			return names, nil
		}
	}
	names, err := d.Driver.ClassNames(ctx)
	if err != nil {
		return nil, err
	}
	d.store(ctx, classNamesKey, names)
	return names, nil
}

// Load implements Driver.
func (d *CachedDriver) Load(ctx context.Context, class string) (*ClassMetadata, error) {
	key := cachePrefix + class
	if b, err := d.cache.Get(ctx, key); err == nil && b != nil {
		m := &ClassMetadata{}
		if err := msgpack.Unmarshal(b, m); err == nil {
			return m, nil
		}
	}
	m, err := d.Driver.Load(ctx, class)
	if err != nil {
		return nil, err
	}
	d.store(ctx, key, m)
	return m, nil
}

// Reset drops cached mappings and resets the wrapped driver.
func (d *CachedDriver) Reset(ctx context.Context) error {
	err := d.cache.DeletePrefix(ctx, cachePrefix)
	if r, ok := d.Driver.(Resetter); ok {
		err = errors.Join(err, r.Reset(ctx))
	}
	return err
}

var (
	_ Driver   = ChainDriver(nil)
	_ Resetter = ChainDriver(nil)
	_ Driver   = (*CachedDriver)(nil)
	_ Resetter = (*CachedDriver)(nil)
)
