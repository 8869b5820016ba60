// Package tree maintains nested set trees.
//
// A nested set class maps integer left, right and level fields and a
// parent association to its own class:
//
//	//orm:entity
//	//orm:tree nested
//	type Category struct {
//		ID     int64  `orm:"id;generated:auto"`
//		Title  string `orm:"length:64"`
//		Left   int64  `orm:"column:lft;tree:left"`
//		Right  int64  `orm:"column:rgt;tree:right"`
//		Level  int64  `orm:"column:lvl;tree:level"`
//		Parent *int64 `orm:"manyToOne:Category;joinColumn:parent_id;tree:parent"`
//	}
//
// Inserted nodes become the last child of their parent, or the last
// root. Removing a node removes its subtree. Moving a node to another
// parent is not supported.
package tree

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/easybib/ormresource/dialect/sql"
	"github.com/easybib/ormresource/mapping"
	"github.com/easybib/ormresource/orm"
)

// Nested is the only supported tree strategy.
const Nested = "nested"

// ErrMove is returned when the parent or the position of a node changes.
var ErrMove = errors.New("tree: moving nodes is not supported")

// Listener maintains nested sets. It implements orm.EventSubscriber.
type Listener struct{}

// New returns a tree listener.
func New() *Listener { return &Listener{} }

// SubscribedEvents implements orm.EventSubscriber.
func (*Listener) SubscribedEvents() []string {
	return []string{orm.LoadClassMetadata, orm.PreInsert, orm.PreUpdate, orm.PreDelete}
}

// HandleEvent implements orm.EventHandler.
func (l *Listener) HandleEvent(ctx context.Context, name string, args *orm.EventArgs) error {
	if args.Metadata.Tree == nil {
		return nil
	}
	switch name {
	case orm.LoadClassMetadata:
		return Validate(args.Metadata)
	case orm.PreInsert:
		return l.insert(ctx, newNodes(args))
	case orm.PreUpdate:
		tc := args.Metadata.Tree
		for _, f := range []string{tc.Parent, tc.Left, tc.Right, tc.Level} {
			if _, ok := args.Changes[f]; ok {
				return fmt.Errorf("%w: %s %v changes %s", ErrMove, args.Metadata.Name, args.Entity.ID(), f)
			}
		}
	case orm.PreDelete:
		return l.delete(ctx, newNodes(args))
	}
	return nil
}

// Validate checks the tree mapping of a class.
func Validate(m *mapping.ClassMetadata) error {
	tc := m.Tree
	if tc.Strategy != Nested {
		return &mapping.Error{Class: m.Name, Msg: fmt.Sprintf("unsupported tree strategy %q", tc.Strategy)}
	}
	for role, name := range map[string]string{
		mapping.TreeLeft:  tc.Left,
		mapping.TreeRight: tc.Right,
		mapping.TreeLevel: tc.Level,
	} {
		if name == "" {
			return &mapping.Error{Class: m.Name, Msg: fmt.Sprintf("tree %s field is not mapped", role)}
		}
		f, ok := m.Field(name)
		if !ok {
			return &mapping.Error{Class: m.Name, Msg: fmt.Sprintf("tree %s field %q does not exist", role, name)}
		}
		if !slices.Contains([]string{mapping.TypeInteger, mapping.TypeBigInt, mapping.TypeSmallInt}, f.Type) {
			return &mapping.Error{Class: m.Name, Msg: fmt.Sprintf("tree %s field %q must be an integer", role, name)}
		}
	}
	if tc.Parent == "" {
		return &mapping.Error{Class: m.Name, Msg: "tree parent association is not mapped"}
	}
	a, ok := m.Association(tc.Parent)
	if !ok {
		return &mapping.Error{Class: m.Name, Msg: fmt.Sprintf("tree parent association %q does not exist", tc.Parent)}
	}
	if a.Target != m.Name && a.Target != m.QualifiedName() {
		return &mapping.Error{Class: m.Name, Msg: fmt.Sprintf("tree parent %q must reference %s, not %s", tc.Parent, m.Name, a.Target)}
	}
	if !a.Nullable {
		return &mapping.Error{Class: m.Name, Msg: fmt.Sprintf("tree parent %q must be nullable", tc.Parent)}
	}
	return nil
}

// nodes are the columns of a nested set table.
type nodes struct {
	*orm.EventArgs
	tc                   *mapping.TreeConfig
	id, left, right, lvl string
}

func newNodes(args *orm.EventArgs) *nodes {
	m := args.Metadata
	n := &nodes{EventArgs: args, tc: m.Tree}
	n.id = m.IDField().Column
	n.left, _ = m.Column(n.tc.Left)
	n.right, _ = m.Column(n.tc.Right)
	n.lvl, _ = m.Column(n.tc.Level)
	return n
}

// insert places the entity as the last child of its parent.
func (l *Listener) insert(ctx context.Context, n *nodes) error {
	e := n.Entity
	parent := e.Get(n.tc.Parent)
	if pe, ok := parent.(*orm.Entity); ok {
		if parent = pe.ID(); parent == nil {
			return fmt.Errorf("tree: %s parent is not inserted", n.Metadata.Name)
		}
	}
	if parent == nil {
		last, err := n.lastRight(ctx)
		if err != nil {
			return err
		}
		return n.place(e, last+1, 0)
	}
	row, err := n.row(ctx, parent)
	if err != nil {
		return err
	}
	at := row[n.right]
	if err := n.shift(ctx, at, 2); err != nil {
		return err
	}
	return n.place(e, at, row[n.lvl]+1)
}

// delete removes the descendants of the entity and closes the gap its
// subtree leaves.
func (l *Listener) delete(ctx context.Context, n *nodes) error {
	row, err := n.row(ctx, n.Entity.ID())
	if err != nil {
		return err
	}
	left, right := row[n.left], row[n.right]
	query, args := sql.Select(n.Manager.Platform(), n.id).
		From(n.Metadata.Table).
		Where(sql.GT(n.left, left), sql.LT(n.right, right)).
		OrderBy("-" + n.left).
		Query()
	rows := &sql.Rows{}
	if err := n.Conn.Query(ctx, query, args, rows); err != nil {
		return err
	}
	descendants, err := sql.ScanMaps(rows)
	if err != nil {
		return err
	}
	// Children go before their parents.
	for _, d := range descendants {
		query, args := sql.Delete(n.Manager.Platform(), n.Metadata.Table).Where(sql.EQ(n.id, d[n.id])).Query()
		if err := n.Conn.Exec(ctx, query, args, nil); err != nil {
			return err
		}
	}
	for _, te := range n.Manager.Tracked(n.Metadata.Name) {
		if te == n.Entity {
			continue
		}
		if tl, ok := te.Get(n.tc.Left).(int64); ok && tl > left && tl < right {
			n.Manager.Detach(te)
		}
	}
	return n.shift(ctx, right+1, -(right - left + 1))
}

// shift moves every bound at or after from by delta, in the table and in
// the tracked entities.
func (n *nodes) shift(ctx context.Context, from, delta int64) error {
	p := n.Manager.Platform()
	for _, col := range []string{n.left, n.right} {
		query, args := sql.Update(p, n.Metadata.Table).Add(col, delta).Where(sql.GTE(col, from)).Query()
		if err := n.Conn.Exec(ctx, query, args, nil); err != nil {
			return err
		}
	}
	for _, te := range n.Manager.Tracked(n.Metadata.Name) {
		if te.IsProxy() {
			continue
		}
		for _, f := range []string{n.tc.Left, n.tc.Right} {
			if v, ok := te.Get(f).(int64); ok && v >= from {
				if err := te.SetPersisted(f, v+delta); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (n *nodes) place(e *orm.Entity, left, level int64) error {
	return errors.Join(
		e.Set(n.tc.Left, left),
		e.Set(n.tc.Right, left+1),
		e.Set(n.tc.Level, level),
	)
}

// lastRight returns the greatest right bound of the table, 0 when it is
// empty.
func (n *nodes) lastRight(ctx context.Context) (int64, error) {
	query, args := sql.Select(n.Manager.Platform(), n.right).
		From(n.Metadata.Table).
		OrderBy("-" + n.right).
		Limit(1).
		Query()
	rows := &sql.Rows{}
	if err := n.Conn.Query(ctx, query, args, rows); err != nil {
		return 0, err
	}
	found, err := sql.ScanMaps(rows)
	if err != nil || len(found) == 0 {
		return 0, err
	}
	return toInt64(found[0][n.right])
}

// row reads the bounds and the level of a node.
func (n *nodes) row(ctx context.Context, id any) (map[string]int64, error) {
	query, args := sql.Select(n.Manager.Platform(), n.left, n.right, n.lvl).
		From(n.Metadata.Table).
		Where(sql.EQ(n.id, id)).
		Query()
	rows := &sql.Rows{}
	if err := n.Conn.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	found, err := sql.ScanMaps(rows)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("tree: %w", orm.NewNotFoundErrorWithID(n.Metadata.Name, id))
	}
	out := make(map[string]int64, 3)
	for _, col := range []string{n.left, n.right, n.lvl} {
		if out[col], err = toInt64(found[0][col]); err != nil {
			return nil, fmt.Errorf("tree: %s.%s: %w", n.Metadata.Name, col, err)
		}
	}
	return out, nil
}

func toInt64(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case []byte:
		var n int64
		_, err := fmt.Sscan(string(v), &n)
		return n, err
	case nil:
		return 0, errors.New("NULL bound")
	}
	return 0, fmt.Errorf("unexpected %T bound", v)
}
