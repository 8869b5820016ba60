package ormresource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/easybib/ormresource/cache"
	"github.com/easybib/ormresource/config"
	"github.com/easybib/ormresource/contrib/sluggable"
	"github.com/easybib/ormresource/contrib/timestampable"
	"github.com/easybib/ormresource/contrib/tree"
	"github.com/easybib/ormresource/dialect"
	"github.com/easybib/ormresource/dialect/sql"
	"github.com/easybib/ormresource/mapping"
	"github.com/easybib/ormresource/orm"
)

// Application directories accepted by SetAppDir.
var appDirs = []string{"app", "application"}

// ignoredNames are mapping directives found in legacy entity sources
// that carry no mapping information.
var ignoredNames = []string{"package_version"}

// Resource builds the entity manager of an application module.
type Resource struct {
	config   *config.Config
	rootPath string
	module   string

	logger        *slog.Logger
	cacheManager  bool
	consumers     []orm.ManagerAware
	profileWriter io.Writer

	mu         sync.RWMutex
	appDir     string
	modulePath string
	options    Options
	em         *orm.EntityManager

	sf singleflight.Group
}

// Option configures a Resource.
type Option func(*Resource)

// WithLogger sets the logger of the resource and of the entity managers
// it builds.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resource) { r.logger = l }
}

// WithManagerCache controls whether EntityManager returns the manager it
// built first. When disabled, every call builds an independent manager
// owned by the caller.
func WithManagerCache(enabled bool) Option {
	return func(r *Resource) { r.cacheManager = enabled }
}

// WithConsumers registers components receiving every manager built by
// the resource.
func WithConsumers(cs ...orm.ManagerAware) Option {
	return func(r *Resource) { r.consumers = append(r.consumers, cs...) }
}

// WithProfileWriter sets the writer SQL statements are echoed to when the
// profile option is enabled. The default is os.Stdout.
func WithProfileWriter(w io.Writer) Option {
	return func(r *Resource) { r.profileWriter = w }
}

// New returns a resource for the module of an application rooted at
// rootPath. Options are given by key as accepted by ParseOptions.
func New(cfg *config.Config, rootPath, module string, options map[string]any, opts ...Option) (*Resource, error) {
	if cfg == nil {
		return nil, invalidArgument("config", "configuration must be given", nil)
	}
	if rootPath == "" {
		return nil, invalidArgument("rootPath", "root path needs to be given", nil)
	}
	if module == "" {
		return nil, invalidArgument("module", "module name needs to be given", nil)
	}
	r := &Resource{
		config:        cfg,
		rootPath:      rootPath,
		module:        module,
		appDir:        appDirs[0],
		logger:        slog.Default(),
		cacheManager:  true,
		profileWriter: os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.SetOptions(options); err != nil {
		return nil, err
	}
	return r, nil
}

// Config returns the configuration of the resource.
func (r *Resource) Config() *config.Config { return r.config }

// SetOptions replaces the options of the resource. Keys left out are
// false. On error, the previous options are kept.
func (r *Resource) SetOptions(options map[string]any) error {
	o, err := ParseOptions(options)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.options = o
	r.mu.Unlock()
	return nil
}

// Options returns the five options by key.
func (r *Resource) Options() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.options.Map()
}

// SetAppDir sets the application directory, "app" or "application".
// It has no effect on a module path already computed.
func (r *Resource) SetAppDir(dir string) error {
	if dir == "" {
		return invalidArgument("appDir", "directory cannot be empty", nil)
	}
	if !slices.Contains(appDirs, dir) {
		return invalidArgument("appDir", "directory must be one of these two values: "+strings.Join(appDirs, ", "), nil)
	}
	r.mu.Lock()
	r.appDir = dir
	r.mu.Unlock()
	return nil
}

// AppDir returns the application directory.
func (r *Resource) AppDir() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.appDir
}

// ModulePath returns "{rootPath}/{appDir}/modules/{module}/". The path is
// computed on the first call and kept afterwards.
func (r *Resource) ModulePath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.modulePath == "" {
		r.modulePath = fmt.Sprintf("%s/%s/modules/%s/", r.rootPath, r.appDir, r.module)
	}
	return r.modulePath
}

// EntityFolders returns the existing entity folders among the shared
// model folder, the model folder of the root and the model folder of the
// module, in this order.
func (r *Resource) EntityFolders() []string {
	candidates := []string{
		r.rootPath + "/library/Doctrine/Model",
		r.rootPath + "/" + r.config.ModelFolder,
		r.ModulePath() + r.config.ModelFolder,
	}
	var folders []string
	for _, dir := range candidates {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			r.logger.Debug("entity folder skipped", "path", dir)
			continue
		}
		folders = append(folders, dir)
	}
	return folders
}

// ProxyFolder returns the directory proxies are generated into.
func (r *Resource) ProxyFolder() string {
	return r.rootPath + "/library/Doctrine/Proxy"
}

// EntityManager returns the entity manager of the resource, building it
// on the first call.
func (r *Resource) EntityManager(ctx context.Context) (*orm.EntityManager, error) {
	if !r.cacheManager {
		return r.build(ctx)
	}
	r.mu.RLock()
	em := r.em
	r.mu.RUnlock()
	if em != nil {
		return em, nil
	}
	v, err, _ := r.sf.Do("entityManager", func() (any, error) {
		r.mu.RLock()
		em := r.em
		r.mu.RUnlock()
		if em != nil {
			return em, nil
		}
		// The flight is shared by callers with unrelated contexts.
		em, err := r.build(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.em = em
		r.mu.Unlock()
		return em, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*orm.EntityManager), nil
}

// Rebuild builds a new entity manager and closes the cached one. On
// error, the cached manager is kept.
func (r *Resource) Rebuild(ctx context.Context) (*orm.EntityManager, error) {
	em, err := r.build(ctx)
	if err != nil {
		return nil, err
	}
	if !r.cacheManager {
		return em, nil
	}
	r.mu.Lock()
	old := r.em
	r.em = em
	r.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			r.logger.WarnContext(ctx, "closing replaced entity manager", "error", err)
		}
	}
	return em, nil
}

// Close closes the cached entity manager. Managers built with the
// manager cache disabled are closed by their owners.
func (r *Resource) Close() error {
	r.mu.Lock()
	em := r.em
	r.em = nil
	r.mu.Unlock()
	if em == nil {
		return nil
	}
	return em.Close()
}

// WatchMetadata watches the entity folders and evicts the metadata of the
// cached manager when a mapping file changes. It blocks until ctx is done.
// Evictions run on the watching goroutine while the cached manager is
// locked against replacement; callers must not use the manager
// concurrently.
func (r *Resource) WatchMetadata(ctx context.Context) error {
	folders := r.EntityFolders()
	if len(folders) == 0 {
		return errors.New("ormresource: no entity folder to watch")
	}
	r.logger.InfoContext(ctx, "watching entity folders", "paths", folders)
	return mapping.Watch(ctx, folders, func(changed []string) {
		if err := r.evict(ctx); err != nil {
			r.logger.ErrorContext(ctx, "evicting metadata", "files", changed, "error", err)
			return
		}
		r.logger.InfoContext(ctx, "metadata evicted", "files", changed)
	})
}

// evict drops the metadata of the cached manager, or clears a persistent
// metadata cache when no manager is cached.
func (r *Resource) evict(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.em != nil {
		return r.em.EvictMetadata(ctx)
	}
	if kind, _ := r.config.CacheKind(); kind != cache.KindFilesystem {
		return nil
	}
	c, err := r.cache()
	if err != nil {
		return err
	}
	return c.Clear(ctx)
}

// build creates an entity manager from the configuration and options.
// The configuration is validated on every build.
func (r *Resource) build(ctx context.Context) (*orm.EntityManager, error) {
	r.mu.RLock()
	opts := r.options
	r.mu.RUnlock()

	if err := r.config.Validate(); err != nil {
		return nil, invalidArgument("config", "invalid configuration", err)
	}
	if opts.BibPlatform {
		if d, _ := r.config.Connection.Params().Dialect(); d != dialect.MySQL {
			return nil, invalidArgument("options", fmt.Sprintf("%q requires a mysql connection, got driver %q", OptionBibPlatform, r.config.Connection.Driver), nil)
		}
	}

	evm := orm.NewEventManager()
	if opts.Timestampable {
		evm.AddEventSubscriber(timestampable.New())
	}
	if opts.Sluggable {
		evm.AddEventSubscriber(sluggable.New())
	}
	if opts.Tree {
		evm.AddEventSubscriber(tree.New())
	}

	folders := r.EntityFolders()
	c, err := r.cache()
	if err != nil {
		return nil, err
	}
	naming, err := mapping.NamingStrategyFor(r.config.NamingStrategy)
	if err != nil {
		return nil, invalidArgument("config", "invalid configuration", err)
	}
	cfg := &orm.Configuration{
		MetadataDriver: mapping.ChainDriver{
			mapping.NewAnnotationDriver(folders, ignoredNames...),
			mapping.NewYAMLDriver(folders...),
		},
		MetadataCache:            c,
		QueryCache:               c,
		ProxyDir:                 r.ProxyFolder(),
		ProxyNamespace:           proxyPackage(r.config.Proxy.Namespace),
		AutoGenerateProxyClasses: r.config.AutoGenerateProxyClasses,
		NamingStrategy:           naming,
		Logger:                   r.logger,
	}
	if opts.Profile {
		cfg.SQLLogger = sql.EchoLogger(r.profileWriter)
		cfg.CollectStats = true
	}

	params := r.config.Connection.Params()
	if opts.BibPlatform {
		params.Platform = dialect.BibPlatform{}
	}
	em, err := orm.Create(ctx, params, cfg, evm)
	if err != nil {
		return nil, fmt.Errorf("ormresource: create entity manager: %w", err)
	}
	for _, consumer := range r.consumers {
		consumer.SetEntityManager(em)
	}
	r.logger.DebugContext(ctx, "entity manager built",
		"module", r.module,
		"entity_folders", folders,
		"proxy_folder", cfg.ProxyDir,
		"options", opts.Map(),
	)
	return em, nil
}

// cache opens the metadata and query cache of the configuration.
func (r *Resource) cache() (cache.Cache, error) {
	kind, err := r.config.CacheKind()
	if err != nil {
		return nil, invalidArgument("config", "invalid configuration", err)
	}
	var opts []cache.Option
	if dir := r.config.CacheDir; dir != "" {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(r.rootPath, dir)
		}
		opts = append(opts, cache.WithDir(dir))
	}
	c, err := cache.New(kind, opts...)
	if err != nil {
		return nil, fmt.Errorf("ormresource: open cache: %w", err)
	}
	return c, nil
}

// proxyPackage derives a package name from a proxy namespace such as
// "Proxy" or `Application\Proxy`.
func proxyPackage(namespace string) string {
	if i := strings.LastIndexAny(namespace, `\/.`); i >= 0 {
		namespace = namespace[i+1:]
	}
	return strings.ToLower(namespace)
}
