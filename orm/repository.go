package orm

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/easybib/ormresource/cache"
	"github.com/easybib/ormresource/dialect/sql"
	"github.com/easybib/ormresource/mapping"
)

// Criteria filters entities by field or association name. A nil value
// matches NULL, a slice matches any of its elements.
type Criteria map[string]any

// Repository reads the entities of one class.
type Repository struct {
	em   *EntityManager
	meta *mapping.ClassMetadata
}

// Metadata returns the metadata of the repository class.
func (r *Repository) Metadata() *mapping.ClassMetadata { return r.meta }

// Find returns the entity with the given identifier.
func (r *Repository) Find(ctx context.Context, id any) (*Entity, error) {
	return r.em.find(ctx, r.meta, id)
}

// FindAll returns all entities of the class.
func (r *Repository) FindAll(ctx context.Context) ([]*Entity, error) {
	return r.FindBy(ctx, nil, nil, 0, 0)
}

// FindBy returns the entities matching the criteria. orderBy lists field
// names, a leading "-" sorts descending. Zero limit and offset are
// ignored.
func (r *Repository) FindBy(ctx context.Context, c Criteria, orderBy []string, limit, offset int) ([]*Entity, error) {
	return r.em.query(ctx, r.meta, "findBy", c, orderBy, limit, offset)
}

// FindOneBy returns the single entity matching the criteria.
func (r *Repository) FindOneBy(ctx context.Context, c Criteria) (*Entity, error) {
	es, err := r.em.query(ctx, r.meta, "findOneBy", c, nil, 2, 0)
	if err != nil {
		return nil, err
	}
	switch len(es) {
	case 0:
		return nil, NewNotFoundError(r.meta.Name)
	case 1:
		return es[0], nil
	default:
		n, err := r.Count(ctx, c)
		if err != nil {
			n = -1
		}
		return nil, NewNotSingularError(r.meta.Name, int(n))
	}
}

// Count returns the number of entities matching the criteria.
func (r *Repository) Count(ctx context.Context, c Criteria) (int64, error) {
	query, args, err := r.em.compile(ctx, r.meta, "count", c, nil, 0, 0)
	if err != nil {
		return 0, NewQueryError(r.meta.Name, "count", err)
	}
	rows := &sql.Rows{}
	if err := r.em.conn().Query(ctx, query, args, rows); err != nil {
		return 0, NewQueryError(r.meta.Name, "count", err)
	}
	n, err := sql.ScanInt64(rows)
	if err != nil {
		return 0, NewQueryError(r.meta.Name, "count", err)
	}
	return n, nil
}

// query reads the entities matching c. Tracked entities are returned as
// they are; proxies among them are loaded.
func (em *EntityManager) query(ctx context.Context, m *mapping.ClassMetadata, op string, c Criteria, orderBy []string, limit, offset int) ([]*Entity, error) {
	rows, err := em.selectRows(ctx, m, op, c, orderBy, limit, offset)
	if err != nil {
		return nil, err
	}
	idf := m.IDField()
	es := make([]*Entity, 0, len(rows))
	for _, row := range rows {
		id, err := convert(idf.Type, row[idf.Column])
		if err != nil {
			return nil, NewQueryError(m.Name, op, err)
		}
		e, ok := em.lookup(m, id)
		switch {
		case ok && !e.proxy:
			es = append(es, e)
			continue
		case !ok:
			e = newEntity(m)
		}
		if err := em.hydrate(e, row); err != nil {
			return nil, NewQueryError(m.Name, op, err)
		}
		em.track(e)
		if err := em.events.Dispatch(ctx, PostLoad, em.args(e, em.conn())); err != nil {
			return nil, err
		}
		es = append(es, e)
	}
	return es, nil
}

func (em *EntityManager) selectRows(ctx context.Context, m *mapping.ClassMetadata, op string, c Criteria, orderBy []string, limit, offset int) ([]map[string]any, error) {
	if em.closed {
		return nil, ErrClosed
	}
	query, args, err := em.compile(ctx, m, "select", c, orderBy, limit, offset)
	if err != nil {
		return nil, NewQueryError(m.Name, op, err)
	}
	rows := &sql.Rows{}
	if err := em.conn().Query(ctx, query, args, rows); err != nil {
		return nil, NewQueryError(m.Name, op, err)
	}
	out, err := sql.ScanMaps(rows)
	if err != nil {
		return nil, NewQueryError(m.Name, op, err)
	}
	return out, nil
}

// hydrate sets the values of e from a row keyed by column.
func (em *EntityManager) hydrate(e *Entity, row map[string]any) error {
	m := e.meta
	for _, f := range m.Fields {
		v, err := convert(f.Type, row[f.Column])
		if err != nil {
			return fmt.Errorf("%s.%s: %w", m.Name, f.Name, err)
		}
		e.values[f.Name] = v
	}
	for _, a := range m.Associations {
		v, err := e.normalize(a.Field, row[a.JoinColumn])
		if err != nil {
			return err
		}
		e.values[a.Field] = v
	}
	e.proxy = false
	e.snapshot()
	return nil
}

// compile returns the SELECT or COUNT statement of a criteria query. The
// statement text is kept in the query cache; the arguments are always
// derived from c, in the same order the statement was built with.
func (em *EntityManager) compile(ctx context.Context, m *mapping.ClassMetadata, op string, c Criteria, orderBy []string, limit, offset int) (string, []any, error) {
	var (
		preds []*sql.Predicate
		args  []any
		sig   = make([]string, 0, len(c))
	)
	for _, name := range slices.Sorted(maps.Keys(c)) {
		col, ok := m.Column(name)
		if !ok {
			return "", nil, fmt.Errorf("unknown field %q", name)
		}
		v, err := em.criteriaValue(m, name, c[name])
		if err != nil {
			return "", nil, err
		}
		switch v := v.(type) {
		case nil:
			preds = append(preds, sql.IsNull(col))
			sig = append(sig, col+" IS NULL")
		case []any:
			preds = append(preds, sql.In(col, v...))
			args = append(args, v...)
			sig = append(sig, fmt.Sprintf("%s IN %d", col, len(v)))
		default:
			preds = append(preds, sql.EQ(col, v))
			args = append(args, v)
			sig = append(sig, col+" =")
		}
	}
	order := make([]string, 0, len(orderBy))
	for _, o := range orderBy {
		name, desc := strings.CutPrefix(o, "-")
		col, ok := m.Column(name)
		if !ok {
			return "", nil, fmt.Errorf("unknown order field %q", name)
		}
		if desc {
			col = "-" + col
		}
		order = append(order, col)
	}
	key := cache.Key{
		Table:      m.Table,
		Operation:  em.platform.Name() + "." + op,
		Predicates: strings.Join(sig, ","),
		OrderBy:    strings.Join(order, ","),
		Limit:      limit,
		Offset:     offset,
	}.String()
	qc := em.config.QueryCache
	if qc != nil {
		if b, err := qc.Get(ctx, key); err == nil && b != nil {
			return string(b), args, nil
		}
	}
	var sel *sql.Selector
	if op == "count" {
		sel = sql.Count(em.platform)
	} else {
		sel = sql.Select(em.platform, columns(m)...)
	}
	query, args := sel.From(m.Table).Where(preds...).OrderBy(order...).Limit(limit).Offset(offset).Query()
	if qc != nil {
		if err := qc.Set(ctx, key, []byte(query), 0); err != nil {
			em.logger.WarnContext(ctx, "query cache write failed", "key", key, "error", err)
		}
	}
	return query, args, nil
}

// columns returns the selected columns of a class.
func columns(m *mapping.ClassMetadata) []string {
	cols := make([]string, 0, len(m.Fields)+len(m.Associations))
	for _, f := range m.Fields {
		cols = append(cols, f.Column)
	}
	for _, a := range m.Associations {
		cols = append(cols, a.JoinColumn)
	}
	return cols
}

// criteriaValue normalizes a criteria value. Slices other than []byte
// become []any.
func (em *EntityManager) criteriaValue(m *mapping.ClassMetadata, name string, v any) (any, error) {
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		vs := make([]any, rv.Len())
		for i := range vs {
			nv, err := em.criteriaValue(m, name, rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			vs[i] = nv
		}
		return vs, nil
	}
	if e, ok := v.(*Entity); ok {
		if e.ID() == nil {
			return nil, fmt.Errorf("field %q: entity has no identifier", name)
		}
		return e.ID(), nil
	}
	if f, ok := m.Field(name); ok {
		return convert(f.Type, v)
	}
	return (&Entity{meta: m}).normalize(name, v)
}
