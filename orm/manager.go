// Package orm is a compact entity manager: entity records described by
// class metadata, an identity map, a unit of work flushed in a single
// transaction, repositories and lifecycle events.
package orm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/easybib/ormresource/dialect"
	"github.com/easybib/ormresource/dialect/sql"
	"github.com/easybib/ormresource/dialect/sql/schema"
	"github.com/easybib/ormresource/mapping"
	"github.com/easybib/ormresource/proxy"
)

// EntityManager tracks entities and writes their changes to the
// database. It is not safe for concurrent use.
type EntityManager struct {
	drv      dialect.Driver
	platform dialect.Platform
	config   *Configuration
	events   *EventManager
	factory  *mapping.Factory
	logger   *slog.Logger

	// tx is set while a Transactional callback runs.
	tx dialect.Tx
	// entities are the tracked entities in registration order.
	entities []*Entity
	identity map[string]map[string]*Entity
	repos    map[string]*Repository
	proxied  sync.Map
	closed   bool
}

// Create opens a connection for params and returns an entity manager
// using it. The connection is wrapped with the SQL logger and statistics
// of the configuration. A nil event manager is replaced by an empty one.
func Create(ctx context.Context, params sql.ConnectionParams, cfg *Configuration, evm *EventManager) (*EntityManager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	conn, err := sql.OpenConnection(params)
	if err != nil {
		return nil, err
	}
	var drv dialect.Driver = conn
	if cfg.CollectStats {
		drv = sql.NewStatsDriver(drv, sql.WithSlowQueryLog(cfg.logger()))
	}
	if cfg.SQLLogger != nil {
		drv = sql.NewDebugDriver(drv, sql.DebugWithLog(cfg.SQLLogger))
	}
	em, err := NewEntityManager(drv, cfg, evm)
	if err != nil {
		return nil, errors.Join(err, conn.Close())
	}
	cfg.logger().DebugContext(ctx, "entity manager created",
		"dialect", drv.Dialect(),
		"platform", fmt.Sprintf("%T", em.platform),
		"foreign_keys", em.platform.SupportsForeignKeyConstraints(),
	)
	return em, nil
}

// NewEntityManager returns an entity manager on an open driver.
func NewEntityManager(drv dialect.Driver, cfg *Configuration, evm *EventManager) (*EntityManager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	platform, err := sql.PlatformOf(drv)
	if err != nil {
		return nil, err
	}
	if evm == nil {
		evm = NewEventManager()
	}
	em := &EntityManager{
		drv:      drv,
		platform: platform,
		config:   cfg,
		events:   evm,
		logger:   cfg.logger(),
		identity: make(map[string]map[string]*Entity),
		repos:    make(map[string]*Repository),
	}
	driver := cfg.MetadataDriver
	if cfg.MetadataCache != nil {
		driver = mapping.NewCachedDriver(driver, cfg.MetadataCache, em.logger)
	}
	em.factory = mapping.NewFactory(driver,
		mapping.WithNamingStrategy(cfg.NamingStrategy),
		mapping.WithLogger(em.logger),
		mapping.WithLoadHook(func(ctx context.Context, m *mapping.ClassMetadata) error {
			return em.events.Dispatch(ctx, LoadClassMetadata, &EventArgs{Metadata: m, Conn: em.conn(), Manager: em})
		}),
	)
	return em, nil
}

// Connection returns the driver of the manager.
func (em *EntityManager) Connection() dialect.Driver { return em.drv }

// Platform returns the database platform of the connection.
func (em *EntityManager) Platform() dialect.Platform { return em.platform }

// EventManager returns the event manager dispatching lifecycle events.
func (em *EntityManager) EventManager() *EventManager { return em.events }

// Configuration returns the configuration of the manager.
func (em *EntityManager) Configuration() *Configuration { return em.config }

// QueryStats returns the query statistics of the connection, or nil when
// the configuration does not collect them.
func (em *EntityManager) QueryStats() *sql.QueryStats {
	s, _ := sql.StatsOf(em.drv)
	return s
}

// conn returns the running transaction or the driver.
func (em *EntityManager) conn() dialect.ExecQuerier {
	if em.tx != nil {
		return em.tx
	}
	return em.drv
}

// Metadata returns the metadata of a class.
func (em *EntityManager) Metadata(ctx context.Context, class string) (*mapping.ClassMetadata, error) {
	if em.closed {
		return nil, ErrClosed
	}
	m, err := em.factory.MetadataFor(ctx, class)
	if err != nil {
		return nil, &MappingError{Class: class, Err: err}
	}
	return m, nil
}

// AllMetadata returns the metadata of every mapped class.
func (em *EntityManager) AllMetadata(ctx context.Context) ([]*mapping.ClassMetadata, error) {
	if em.closed {
		return nil, ErrClosed
	}
	ms, err := em.factory.AllMetadata(ctx)
	if err != nil {
		return nil, &MappingError{Class: "*", Err: err}
	}
	return ms, nil
}

// EvictMetadata drops all loaded metadata and the caches of the mapping
// driver. Tracked entities keep the metadata they were created with.
func (em *EntityManager) EvictMetadata(ctx context.Context) error {
	clear(em.repos)
	em.proxied.Clear()
	if err := em.factory.Reset(ctx); err != nil {
		return err
	}
	if c := em.config.QueryCache; c != nil {
		return c.Clear(ctx)
	}
	return nil
}

// Repository returns the repository of a class.
func (em *EntityManager) Repository(ctx context.Context, class string) (*Repository, error) {
	if r, ok := em.repos[class]; ok {
		return r, nil
	}
	m, err := em.Metadata(ctx, class)
	if err != nil {
		return nil, err
	}
	r := &Repository{em: em, meta: m}
	em.repos[class] = r
	return r, nil
}

// New returns a new entity of a class. The entity is not tracked until
// it is persisted.
func (em *EntityManager) New(ctx context.Context, class string) (*Entity, error) {
	m, err := em.Metadata(ctx, class)
	if err != nil {
		return nil, err
	}
	return newEntity(m), nil
}

// Persist schedules a new entity for insertion, or cancels the removal
// of a removed one. Managed entities are left alone.
func (em *EntityManager) Persist(ctx context.Context, e *Entity) error {
	if em.closed {
		return ErrClosed
	}
	switch e.state {
	case stateManaged, stateScheduled:
		return nil
	case stateRemoved:
		e.state = stateManaged
		return nil
	case stateDetached:
		return fmt.Errorf("orm: persist %s: entity is detached", e.meta.Name)
	}
	if e.meta.IDGenerator == mapping.GeneratorUUID && e.ID() == nil {
		e.values[e.meta.ID] = uuid.NewString()
	}
	if err := em.events.Dispatch(ctx, PrePersist, em.args(e, em.conn())); err != nil {
		return err
	}
	if id := e.ID(); id != nil {
		if other, ok := em.lookup(e.meta, id); ok && other != e {
			return fmt.Errorf("orm: persist %s: identifier %v is already managed", e.meta.Name, id)
		}
	}
	e.state = stateScheduled
	em.entities = append(em.entities, e)
	return nil
}

// Remove schedules a managed entity for deletion. A scheduled insertion
// is cancelled instead.
func (em *EntityManager) Remove(ctx context.Context, e *Entity) error {
	if em.closed {
		return ErrClosed
	}
	switch e.state {
	case stateScheduled:
		e.state = stateNew
		em.untrack(e)
		return nil
	case stateManaged:
	case stateRemoved:
		return nil
	default:
		return fmt.Errorf("orm: remove %s: entity is not managed", e.meta.Name)
	}
	if err := em.events.Dispatch(ctx, PreRemove, em.args(e, em.conn())); err != nil {
		return err
	}
	e.state = stateRemoved
	return nil
}

// Contains reports if the entity is managed by em and not removed.
func (em *EntityManager) Contains(e *Entity) bool {
	return (e.state == stateManaged || e.state == stateScheduled) && slices.Contains(em.entities, e)
}

// Detach stops tracking an entity. Pending changes are not flushed.
func (em *EntityManager) Detach(e *Entity) {
	if !slices.Contains(em.entities, e) {
		return
	}
	em.untrack(e)
	e.state = stateDetached
}

// Clear detaches all entities.
func (em *EntityManager) Clear() {
	for _, e := range em.entities {
		e.state = stateDetached
	}
	em.entities = nil
	clear(em.identity)
}

// Tracked returns the tracked entities of a class, in registration
// order. Entities scheduled for insertion or removal are included.
func (em *EntityManager) Tracked(class string) []*Entity {
	var out []*Entity
	for _, e := range em.entities {
		if e.meta.Name == class || e.meta.QualifiedName() == class {
			out = append(out, e)
		}
	}
	return out
}

// Find returns the entity of a class with the given identifier.
func (em *EntityManager) Find(ctx context.Context, class string, id any) (*Entity, error) {
	m, err := em.Metadata(ctx, class)
	if err != nil {
		return nil, err
	}
	return em.find(ctx, m, id)
}

func (em *EntityManager) find(ctx context.Context, m *mapping.ClassMetadata, id any) (*Entity, error) {
	nid, err := normalizeID(m, id)
	if err != nil || nid == nil {
		return nil, NewNotFoundErrorWithID(m.Name, id)
	}
	if e, ok := em.lookup(m, nid); ok {
		if e.state == stateRemoved {
			return nil, NewNotFoundErrorWithID(m.Name, id)
		}
		if e.proxy {
			if err := em.Load(ctx, e); err != nil {
				return nil, err
			}
		}
		return e, nil
	}
	es, err := em.query(ctx, m, "find", Criteria{m.ID: nid}, nil, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(es) == 0 {
		return nil, NewNotFoundErrorWithID(m.Name, id)
	}
	return es[0], nil
}

// Reference returns the entity with the given identifier without reading
// it: an untracked identifier yields a proxy whose values are read by
// Load. With AutoGenerateProxyClasses, the typed proxy of the class is
// generated on first use.
func (em *EntityManager) Reference(ctx context.Context, class string, id any) (*Entity, error) {
	m, err := em.Metadata(ctx, class)
	if err != nil {
		return nil, err
	}
	nid, err := normalizeID(m, id)
	if err != nil {
		return nil, fmt.Errorf("orm: reference %s: %w", m.Name, err)
	}
	if nid == nil {
		return nil, fmt.Errorf("orm: reference %s: nil identifier", m.Name)
	}
	if e, ok := em.lookup(m, nid); ok {
		return e, nil
	}
	if em.config.AutoGenerateProxyClasses {
		if err := em.generateProxy(ctx, m); err != nil {
			return nil, err
		}
	}
	e := newEntity(m)
	e.values[m.ID] = nid
	e.proxy = true
	e.snapshot()
	em.track(e)
	return e, nil
}

// Load reads the values of a proxy. Loaded entities are left alone.
func (em *EntityManager) Load(ctx context.Context, e *Entity) error {
	if !e.proxy {
		return nil
	}
	m := e.meta
	rows, err := em.selectRows(ctx, m, "load", Criteria{m.ID: e.ID()}, nil, 1, 0)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return NewNotFoundErrorWithID(m.Name, e.ID())
	}
	if err := em.hydrate(e, rows[0]); err != nil {
		return err
	}
	return em.events.Dispatch(ctx, PostLoad, em.args(e, em.conn()))
}

// Transactional runs fn in a transaction and flushes the changes it made
// before committing. The transaction is rolled back when fn or the flush
// fails.
func (em *EntityManager) Transactional(ctx context.Context, fn func(context.Context, *EntityManager) error) error {
	if em.closed {
		return ErrClosed
	}
	if em.tx != nil {
		return ErrTxStarted
	}
	tx, err := em.drv.Tx(ctx)
	if err != nil {
		return err
	}
	em.tx = tx
	defer func() { em.tx = nil }()
	if err := fn(ctx, em); err != nil {
		return rollback(tx, err)
	}
	if err := em.Flush(ctx); err != nil {
		return rollback(tx, err)
	}
	return tx.Commit()
}

func rollback(tx dialect.Tx, err error) error {
	if rerr := tx.Rollback(); rerr != nil {
		return errors.Join(err, &RollbackError{Err: rerr})
	}
	return err
}

// SchemaTool returns a schema tool for the connection and platform of the
// manager.
func (em *EntityManager) SchemaTool() (*schema.Tool, error) {
	return schema.NewTool(em.drv, em.platform, schema.WithLogger(em.logger))
}

// ProxyGenerator returns the generator of typed proxies, writing into the
// proxy directory.
func (em *EntityManager) ProxyGenerator() *proxy.Generator {
	return proxy.New(em.config.ProxyDir, em.config.ProxyNamespace)
}

// GenerateProxies writes the typed proxy of every mapped class into the
// proxy directory and returns the written files.
func (em *EntityManager) GenerateProxies(ctx context.Context) ([]string, error) {
	if em.config.ProxyDir == "" {
		return nil, errors.New("orm: no proxy directory configured")
	}
	ms, err := em.AllMetadata(ctx)
	if err != nil {
		return nil, err
	}
	paths, err := em.ProxyGenerator().Generate(ctx, ms)
	if err != nil {
		return nil, err
	}
	for _, m := range ms {
		em.proxied.Store(m.QualifiedName(), true)
	}
	return paths, nil
}

func (em *EntityManager) generateProxy(ctx context.Context, m *mapping.ClassMetadata) error {
	if _, done := em.proxied.Load(m.QualifiedName()); done {
		return nil
	}
	paths, err := em.ProxyGenerator().Generate(ctx, []*mapping.ClassMetadata{m})
	if err != nil {
		return err
	}
	em.proxied.Store(m.QualifiedName(), true)
	em.logger.DebugContext(ctx, "proxy generated", "class", m.Name, "path", paths[0])
	return nil
}

// Close detaches all entities and closes the connection.
func (em *EntityManager) Close() error {
	if em.closed {
		return nil
	}
	em.closed = true
	em.Clear()
	return em.drv.Close()
}

func (em *EntityManager) args(e *Entity, conn dialect.ExecQuerier) *EventArgs {
	return &EventArgs{Entity: e, Metadata: e.meta, Conn: conn, Manager: em}
}

func (em *EntityManager) lookup(m *mapping.ClassMetadata, id any) (*Entity, bool) {
	e, ok := em.identity[m.QualifiedName()][idKey(id)]
	return e, ok
}

// track registers a managed entity in the identity map.
func (em *EntityManager) track(e *Entity) {
	class := e.meta.QualifiedName()
	if em.identity[class] == nil {
		em.identity[class] = make(map[string]*Entity)
	}
	em.identity[class][idKey(e.ID())] = e
	if !slices.Contains(em.entities, e) {
		em.entities = append(em.entities, e)
	}
}

func (em *EntityManager) untrack(e *Entity) {
	em.entities = slices.DeleteFunc(em.entities, func(o *Entity) bool { return o == e })
	if id := e.ID(); id != nil {
		ids := em.identity[e.meta.QualifiedName()]
		if ids[idKey(id)] == e {
			delete(ids, idKey(id))
		}
	}
}
