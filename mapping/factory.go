package mapping

import (
	"context"
	"log/slog"
	"sync"
)

// LoadHook is called with every class metadata the factory loads, after
// naming completion and validation. Hooks may amend the metadata.
type LoadHook func(ctx context.Context, m *ClassMetadata) error

// Factory loads class metadata from a driver and memoizes it.
type Factory struct {
	driver Driver
	naming NamingStrategy
	hooks  []LoadHook
	logger *slog.Logger

	mu     sync.Mutex
	loaded map[string]*ClassMetadata
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithNamingStrategy sets the strategy used for names a mapping omits.
func WithNamingStrategy(ns NamingStrategy) FactoryOption {
	return func(f *Factory) {
		if ns != nil {
			f.naming = ns
		}
	}
}

// WithLoadHook appends a hook run on every loaded class.
func WithLoadHook(h LoadHook) FactoryOption {
	return func(f *Factory) {
		f.hooks = append(f.hooks, h)
	}
}

// WithLogger sets the logger of the factory.
func WithLogger(l *slog.Logger) FactoryOption {
	return func(f *Factory) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFactory returns a metadata factory reading from d.
func NewFactory(d Driver, opts ...FactoryOption) *Factory {
	f := &Factory{
		driver: d,
		naming: DefaultNamingStrategy{},
		logger: slog.Default(),
		loaded: make(map[string]*ClassMetadata),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Driver returns the mapping driver of the factory.
func (f *Factory) Driver() Driver { return f.driver }

// NamingStrategy returns the naming strategy of the factory.
func (f *Factory) NamingStrategy() NamingStrategy { return f.naming }

// MetadataFor returns the metadata of a class, addressed by its short or
// qualified name. The returned value is shared and must not be modified.
func (f *Factory) MetadataFor(ctx context.Context, class string) (*ClassMetadata, error) {
	f.mu.Lock()
	m, ok := f.loaded[class]
	f.mu.Unlock()
	if ok {
		return m, nil
	}
	m, err := f.driver.Load(ctx, class)
	if err != nil {
		return nil, err
	}
	complete(m, f.naming)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	for _, h := range f.hooks {
		if err := h(ctx, m); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	// A concurrent load may have won.
	if prev, ok := f.loaded[m.QualifiedName()]; ok {
		f.loaded[class] = prev
		return prev, nil
	}
	f.loaded[class] = m
	f.loaded[m.Name] = m
	f.loaded[m.QualifiedName()] = m
	f.logger.Debug("class metadata loaded", "class", m.QualifiedName(), "table", m.Table, "source", m.Source)
	return m, nil
}

// AllMetadata loads the metadata of every class the driver knows.
func (f *Factory) AllMetadata(ctx context.Context) ([]*ClassMetadata, error) {
	names, err := f.driver.ClassNames(ctx)
	if err != nil {
		return nil, err
	}
	all := make([]*ClassMetadata, 0, len(names))
	for _, n := range names {
		m, err := f.MetadataFor(ctx, n)
		if err != nil {
			return nil, err
		}
		all = append(all, m)
	}
	return all, nil
}

// Evict drops the memoized metadata of the given classes.
func (f *Factory) Evict(classes ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range classes {
		m, ok := f.loaded[c]
		if !ok {
			continue
		}
		for k, v := range f.loaded {
			if v == m {
				delete(f.loaded, k)
			}
		}
	}
}

// Reset drops all memoized metadata and resets the driver.
func (f *Factory) Reset(ctx context.Context) error {
	f.mu.Lock()
	clear(f.loaded)
	f.mu.Unlock()
	if r, ok := f.driver.(Resetter); ok {
		return r.Reset(ctx)
	}
	return nil
}
