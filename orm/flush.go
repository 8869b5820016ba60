package orm

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/easybib/ormresource/dialect"
	"github.com/easybib/ormresource/dialect/sql"
	"github.com/easybib/ormresource/mapping"
)

// Flush writes all pending changes in one transaction: insertions in
// persist order, then updates of changed managed entities, then
// deletions. Inside Transactional the running transaction is used.
// After a failed flush, generated identifiers are reset and scheduled
// entities stay scheduled.
func (em *EntityManager) Flush(ctx context.Context) error {
	if em.closed {
		return ErrClosed
	}
	var inserts, removals []*Entity
	for _, e := range em.entities {
		switch e.state {
		case stateScheduled:
			inserts = append(inserts, e)
		case stateRemoved:
			removals = append(removals, e)
		}
	}
	if len(inserts) == 0 && len(removals) == 0 && !em.dirty() {
		return nil
	}
	var generated []*Entity
	for _, e := range inserts {
		if e.meta.IDGenerator == mapping.GeneratorAuto && e.ID() == nil {
			generated = append(generated, e)
		}
	}
	own := em.tx == nil
	if own {
		tx, err := em.drv.Tx(ctx)
		if err != nil {
			return err
		}
		em.tx = tx
	}
	tx := em.tx
	updated, err := em.flush(ctx, tx, inserts, removals)
	if own {
		em.tx = nil
	}
	if err != nil {
		for _, e := range generated {
			delete(e.values, e.meta.ID)
		}
		if own {
			return rollback(tx, err)
		}
		return err
	}
	if own {
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	for _, e := range inserts {
		e.snapshot()
		em.track(e)
	}
	for _, e := range updated {
		e.snapshot()
	}
	for _, e := range removals {
		if e.state == stateRemoved {
			em.untrack(e)
			e.original = nil
			e.state = stateNew
		}
	}
	em.logger.DebugContext(ctx, "flushed", "inserts", len(inserts), "updates", len(updated), "deletes", len(removals))
	return em.events.Dispatch(ctx, PostFlush, &EventArgs{Conn: em.conn(), Manager: em})
}

// dirty reports if a managed entity has changes.
func (em *EntityManager) dirty() bool {
	return slices.ContainsFunc(em.entities, func(e *Entity) bool {
		return e.state == stateManaged && !e.proxy && len(e.Changes()) > 0
	})
}

func (em *EntityManager) flush(ctx context.Context, tx dialect.Tx, inserts, removals []*Entity) ([]*Entity, error) {
	for _, e := range inserts {
		if err := em.insert(ctx, tx, e); err != nil {
			return nil, err
		}
	}
	var updated []*Entity
	for _, e := range slices.Clone(em.entities) {
		if e.state != stateManaged || e.proxy {
			continue
		}
		ok, err := em.update(ctx, tx, e)
		if err != nil {
			return nil, err
		}
		if ok {
			updated = append(updated, e)
		}
	}
	for _, e := range removals {
		// Listeners may detach entities removed along with another one.
		if e.state != stateRemoved {
			continue
		}
		if err := em.delete(ctx, tx, e); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

func (em *EntityManager) insert(ctx context.Context, tx dialect.Tx, e *Entity) error {
	m := e.meta
	if err := em.events.Dispatch(ctx, PreInsert, em.args(e, tx)); err != nil {
		return err
	}
	if err := em.resolveRefs(e); err != nil {
		return NewMutationError(m.Name, "insert", err)
	}
	var (
		ins  = sql.Insert(em.platform, m.Table)
		auto = m.IDGenerator == mapping.GeneratorAuto && e.ID() == nil
	)
	for _, f := range m.Fields {
		v := e.values[f.Name]
		if f.ID && v == nil {
			if auto {
				continue
			}
			return NewMutationError(m.Name, "insert", fmt.Errorf("identifier %q is not set", f.Name))
		}
		ins.Set(f.Column, v)
	}
	for _, a := range m.Associations {
		ins.Set(a.JoinColumn, e.values[a.Field])
	}
	idf := m.IDField()
	if auto && em.platform.SupportsReturning() {
		query, args := ins.Returning(idf.Column).Query()
		rows := &sql.Rows{}
		if err := tx.Query(ctx, query, args, rows); err != nil {
			return NewMutationError(m.Name, "insert", err)
		}
		id, err := sql.ScanInt64(rows)
		if err != nil {
			return NewMutationError(m.Name, "insert", err)
		}
		e.values[m.ID] = id
	} else {
		query, args := ins.Query()
		var res sql.Result
		if err := tx.Exec(ctx, query, args, &res); err != nil {
			return NewMutationError(m.Name, "insert", err)
		}
		if auto {
			id, err := res.LastInsertId()
			if err != nil {
				return NewMutationError(m.Name, "insert", err)
			}
			e.values[m.ID] = id
		}
	}
	return em.events.Dispatch(ctx, PostInsert, em.args(e, tx))
}

// update writes the changes of a managed entity and reports if there
// were any.
func (em *EntityManager) update(ctx context.Context, tx dialect.Tx, e *Entity) (bool, error) {
	m := e.meta
	if err := em.resolveRefs(e); err != nil {
		return false, NewMutationError(m.Name, "update", err)
	}
	changes := e.Changes()
	if len(changes) == 0 {
		return false, nil
	}
	args := em.args(e, tx)
	args.Changes = changes
	if err := em.events.Dispatch(ctx, PreUpdate, args); err != nil {
		return false, err
	}
	if err := em.resolveRefs(e); err != nil {
		return false, NewMutationError(m.Name, "update", err)
	}
	// Listeners may have set further values.
	changes = e.Changes()
	if _, ok := changes[m.ID]; ok {
		return false, NewMutationError(m.Name, "update", fmt.Errorf("identifier %q cannot change", m.ID))
	}
	if len(changes) == 0 {
		return false, nil
	}
	up := sql.Update(em.platform, m.Table)
	for _, name := range slices.Sorted(maps.Keys(changes)) {
		col, _ := m.Column(name)
		up.Set(col, changes[name].New)
	}
	query, qargs := up.Where(sql.EQ(m.IDField().Column, e.original[m.ID])).Query()
	if err := tx.Exec(ctx, query, qargs, nil); err != nil {
		return false, NewMutationError(m.Name, "update", err)
	}
	args.Changes = changes
	if err := em.events.Dispatch(ctx, PostUpdate, args); err != nil {
		return false, err
	}
	return true, nil
}

func (em *EntityManager) delete(ctx context.Context, tx dialect.Tx, e *Entity) error {
	m := e.meta
	if err := em.events.Dispatch(ctx, PreDelete, em.args(e, tx)); err != nil {
		return err
	}
	query, args := sql.Delete(em.platform, m.Table).Where(sql.EQ(m.IDField().Column, e.ID())).Query()
	if err := tx.Exec(ctx, query, args, nil); err != nil {
		return NewMutationError(m.Name, "delete", err)
	}
	return em.events.Dispatch(ctx, PostDelete, em.args(e, tx))
}

// resolveRefs replaces referenced entities by their identifiers.
func (em *EntityManager) resolveRefs(e *Entity) error {
	for _, a := range e.meta.Associations {
		ref, ok := e.values[a.Field].(*Entity)
		if !ok {
			continue
		}
		id := ref.ID()
		if id == nil {
			return fmt.Errorf("%s references a %s that is not inserted", a.Field, ref.meta.Name)
		}
		e.values[a.Field] = id
	}
	return nil
}

// Related returns the entity referenced by an association of e, or nil
// when the association is empty.
func (em *EntityManager) Related(ctx context.Context, e *Entity, assoc string) (*Entity, error) {
	a, ok := e.meta.Association(assoc)
	if !ok {
		return nil, fmt.Errorf("orm: %s has no association %q", e.meta.Name, assoc)
	}
	switch v := e.values[assoc].(type) {
	case nil:
		return nil, nil
	case *Entity:
		return v, nil
	default:
		return em.Find(ctx, a.Target, v)
	}
}
