package sql

import (
	"strconv"
	"strings"

	"github.com/easybib/ormresource/dialect"
)

// Builder is the low-level statement writer. It quotes identifiers and
// numbers placeholders according to the platform.
type Builder struct {
	sb       strings.Builder
	args     []any
	platform dialect.Platform
}

// Querier wraps the Query method implemented by all statement builders.
type Querier interface {
	Query() (string, []any)
}

func (b *Builder) init(p dialect.Platform) {
	if p == nil {
		p = dialect.MySQLPlatform{}
	}
	b.platform = p
}

// Ident writes a quoted identifier.
func (b *Builder) Ident(s string) *Builder {
	b.sb.WriteString(b.platform.QuoteIdentifier(s))
	return b
}

// WriteString writes raw SQL.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Arg writes a placeholder and records its argument.
func (b *Builder) Arg(v any) *Builder {
	b.args = append(b.args, v)
	b.sb.WriteString(b.platform.Placeholder(len(b.args)))
	return b
}

// Args writes a comma separated list of placeholders.
func (b *Builder) Args(vs ...any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Arg(v)
	}
	return b
}

func (b *Builder) idents(cols []string) *Builder {
	for i, c := range cols {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Ident(c)
	}
	return b
}

func (b *Builder) where(ps []*Predicate) {
	if len(ps) == 0 {
		return
	}
	b.sb.WriteString(" WHERE ")
	And(ps...).fn(b)
}

// Predicate is a WHERE clause fragment.
type Predicate struct {
	fn func(*Builder)
}

// P creates a predicate from a writer function.
func P(fn func(*Builder)) *Predicate {
	return &Predicate{fn: fn}
}

func compare(col, op string, v any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(col).WriteString(" " + op + " ").Arg(v)
	})
}

// EQ returns a "col = v" predicate. A nil value yields "col IS NULL".
func EQ(col string, v any) *Predicate {
	if v == nil {
		return IsNull(col)
	}
	return compare(col, "=", v)
}

// NEQ returns a "col <> v" predicate.
func NEQ(col string, v any) *Predicate { return compare(col, "<>", v) }

// GT returns a "col > v" predicate.
func GT(col string, v any) *Predicate { return compare(col, ">", v) }

// GTE returns a "col >= v" predicate.
func GTE(col string, v any) *Predicate { return compare(col, ">=", v) }

// LT returns a "col < v" predicate.
func LT(col string, v any) *Predicate { return compare(col, "<", v) }

// LTE returns a "col <= v" predicate.
func LTE(col string, v any) *Predicate { return compare(col, "<=", v) }

// HasPrefix returns a "col LIKE 'v%'" predicate.
func HasPrefix(col, prefix string) *Predicate {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return P(func(b *Builder) {
		b.Ident(col).WriteString(" LIKE ").Arg(r.Replace(prefix) + "%")
		if b.platform.Name() == dialect.SQLite {
			b.WriteString(` ESCAPE '\'`)
		}
	})
}

// IsNull returns a "col IS NULL" predicate.
func IsNull(col string) *Predicate {
	return P(func(b *Builder) { b.Ident(col).WriteString(" IS NULL") })
}

// In returns a "col IN (...)" predicate. An empty list never matches.
func In(col string, vs ...any) *Predicate {
	return P(func(b *Builder) {
		if len(vs) == 0 {
			b.WriteString("1 = 0")
			return
		}
		b.Ident(col).WriteString(" IN (").Args(vs...).WriteString(")")
	})
}

// And joins predicates with AND.
func And(ps ...*Predicate) *Predicate {
	return join(" AND ", ps)
}

// Or joins predicates with OR.
func Or(ps ...*Predicate) *Predicate {
	return join(" OR ", ps)
}

func join(op string, ps []*Predicate) *Predicate {
	return P(func(b *Builder) {
		if len(ps) == 1 {
			ps[0].fn(b)
			return
		}
		b.WriteString("(")
		for i, p := range ps {
			if i > 0 {
				b.WriteString(op)
			}
			p.fn(b)
		}
		b.WriteString(")")
	})
}

// Selector is a SELECT statement builder.
type Selector struct {
	platform dialect.Platform
	columns  []string
	count    bool
	table    string
	where    []*Predicate
	order    []string
	limit    int
	offset   int
}

// Select starts a SELECT of the given columns.
func Select(p dialect.Platform, columns ...string) *Selector {
	return &Selector{platform: p, columns: columns}
}

// Count starts a SELECT COUNT(*).
func Count(p dialect.Platform) *Selector {
	return &Selector{platform: p, count: true}
}

// From sets the table.
func (s *Selector) From(table string) *Selector {
	s.table = table
	return s
}

// Where appends predicates joined with AND.
func (s *Selector) Where(ps ...*Predicate) *Selector {
	s.where = append(s.where, ps...)
	return s
}

// OrderBy appends an ordering column. A leading "-" sorts descending.
func (s *Selector) OrderBy(cols ...string) *Selector {
	s.order = append(s.order, cols...)
	return s
}

// Limit sets the LIMIT clause. Zero means no limit.
func (s *Selector) Limit(n int) *Selector {
	s.limit = n
	return s
}

// Offset sets the OFFSET clause.
func (s *Selector) Offset(n int) *Selector {
	s.offset = n
	return s
}

// Query returns the statement and its arguments.
func (s *Selector) Query() (string, []any) {
	b := &Builder{}
	b.init(s.platform)
	b.WriteString("SELECT ")
	switch {
	case s.count:
		b.WriteString("COUNT(*)")
	case len(s.columns) == 0:
		b.WriteString("*")
	default:
		b.idents(s.columns)
	}
	b.WriteString(" FROM ").Ident(s.table)
	b.where(s.where)
	for i, o := range s.order {
		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}
		if desc := strings.HasPrefix(o, "-"); desc {
			b.Ident(o[1:]).WriteString(" DESC")
		} else {
			b.Ident(o)
		}
	}
	if s.limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(s.limit))
	}
	if s.offset > 0 {
		if s.limit == 0 && s.platform != nil && s.platform.Name() != dialect.Postgres {
			// MySQL and SQLite require a LIMIT before OFFSET.
			b.WriteString(" LIMIT " + strconv.FormatInt(1<<62, 10))
		}
		b.WriteString(" OFFSET " + strconv.Itoa(s.offset))
	}
	return b.sb.String(), b.args
}

// InsertBuilder is an INSERT statement builder.
type InsertBuilder struct {
	platform  dialect.Platform
	table     string
	columns   []string
	values    []any
	returning string
}

// Insert starts an INSERT into table.
func Insert(p dialect.Platform, table string) *InsertBuilder {
	return &InsertBuilder{platform: p, table: table}
}

// Set adds a column value.
func (i *InsertBuilder) Set(col string, v any) *InsertBuilder {
	i.columns = append(i.columns, col)
	i.values = append(i.values, v)
	return i
}

// Returning sets the RETURNING column on platforms supporting it.
func (i *InsertBuilder) Returning(col string) *InsertBuilder {
	i.returning = col
	return i
}

// Query returns the statement and its arguments.
func (i *InsertBuilder) Query() (string, []any) {
	b := &Builder{}
	b.init(i.platform)
	b.WriteString("INSERT INTO ").Ident(i.table)
	if len(i.columns) == 0 {
		if b.platform.Name() == dialect.MySQL {
			b.WriteString(" () VALUES ()")
		} else {
			b.WriteString(" DEFAULT VALUES")
		}
	} else {
		b.WriteString(" (").idents(i.columns).WriteString(") VALUES (").Args(i.values...).WriteString(")")
	}
	if i.returning != "" && b.platform.SupportsReturning() {
		b.WriteString(" RETURNING ").Ident(i.returning)
	}
	return b.sb.String(), b.args
}

// UpdateBuilder is an UPDATE statement builder.
type UpdateBuilder struct {
	platform dialect.Platform
	table    string
	sets     []func(*Builder)
	where    []*Predicate
}

// Update starts an UPDATE of table.
func Update(p dialect.Platform, table string) *UpdateBuilder {
	return &UpdateBuilder{platform: p, table: table}
}

// Set assigns a value to a column.
func (u *UpdateBuilder) Set(col string, v any) *UpdateBuilder {
	u.sets = append(u.sets, func(b *Builder) {
		b.Ident(col).WriteString(" = ").Arg(v)
	})
	return u
}

// Add increments a numeric column by n.
func (u *UpdateBuilder) Add(col string, n int64) *UpdateBuilder {
	u.sets = append(u.sets, func(b *Builder) {
		b.Ident(col).WriteString(" = ").Ident(col).WriteString(" + ").Arg(n)
	})
	return u
}

// Where appends predicates joined with AND.
func (u *UpdateBuilder) Where(ps ...*Predicate) *UpdateBuilder {
	u.where = append(u.where, ps...)
	return u
}

// Empty reports if no column is assigned.
func (u *UpdateBuilder) Empty() bool { return len(u.sets) == 0 }

// Query returns the statement and its arguments.
func (u *UpdateBuilder) Query() (string, []any) {
	b := &Builder{}
	b.init(u.platform)
	b.WriteString("UPDATE ").Ident(u.table).WriteString(" SET ")
	for i, set := range u.sets {
		if i > 0 {
			b.WriteString(", ")
		}
		set(b)
	}
	b.where(u.where)
	return b.sb.String(), b.args
}

// DeleteBuilder is a DELETE statement builder.
type DeleteBuilder struct {
	platform dialect.Platform
	table    string
	where    []*Predicate
}

// Delete starts a DELETE from table.
func Delete(p dialect.Platform, table string) *DeleteBuilder {
	return &DeleteBuilder{platform: p, table: table}
}

// Where appends predicates joined with AND.
func (d *DeleteBuilder) Where(ps ...*Predicate) *DeleteBuilder {
	d.where = append(d.where, ps...)
	return d
}

// Query returns the statement and its arguments.
func (d *DeleteBuilder) Query() (string, []any) {
	b := &Builder{}
	b.init(d.platform)
	b.WriteString("DELETE FROM ").Ident(d.table)
	b.where(d.where)
	return b.sb.String(), b.args
}

var (
	_ Querier = (*Selector)(nil)
	_ Querier = (*InsertBuilder)(nil)
	_ Querier = (*UpdateBuilder)(nil)
	_ Querier = (*DeleteBuilder)(nil)
)
