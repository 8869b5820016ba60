package schema

import (
	"fmt"
	"slices"

	"github.com/easybib/ormresource/mapping"
)

// Table describes a table derived from class metadata.
type Table struct {
	Name        string
	Class       string
	Columns     []*Column
	PrimaryKey  []*Column
	Indexes     []*Index
	ForeignKeys []*ForeignKey
}

// Column describes a table column. Type is a mapping field type.
type Column struct {
	Name      string
	Type      string
	Size      int
	Precision int
	Scale     int
	Nullable  bool
	Unique    bool
	Increment bool
	Default   any
}

// Index describes a table index.
type Index struct {
	Name    string
	Unique  bool
	Columns []*Column
}

// ForeignKey describes a many-to-one reference.
type ForeignKey struct {
	Symbol     string
	Columns    []*Column
	RefTable   *Table
	RefColumns []*Column
	OnDelete   string
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Tables builds the tables of the given classes. Tables come in creation
// order: referenced tables precede the tables referencing them.
func Tables(ms []*mapping.ClassMetadata) ([]*Table, error) {
	var (
		tables  = make([]*Table, len(ms))
		byClass = make(map[string]int, 2*len(ms))
	)
	for i, m := range ms {
		t := &Table{Name: m.Table, Class: m.QualifiedName()}
		for _, f := range m.Fields {
			c := &Column{
				Name:      f.Column,
				Type:      f.Type,
				Size:      f.Length,
				Precision: f.Precision,
				Scale:     f.Scale,
				Nullable:  f.Nullable,
				Unique:    f.Unique && !f.ID,
			}
			if f.ID {
				c.Increment = m.IDGenerator == mapping.GeneratorAuto
				t.PrimaryKey = []*Column{c}
			}
			t.Columns = append(t.Columns, c)
			if c.Unique {
				t.Indexes = append(t.Indexes, &Index{
					Name:    t.Name + "_" + c.Name + "_key",
					Unique:  true,
					Columns: []*Column{c},
				})
			}
		}
		tables[i] = t
		byClass[m.Name] = i
		byClass[m.QualifiedName()] = i
	}
	for i, m := range ms {
		t := tables[i]
		for _, a := range m.Associations {
			j, ok := byClass[a.Target]
			if !ok {
				return nil, fmt.Errorf("schema: %s.%s references unknown class %q", m.Name, a.Field, a.Target)
			}
			ref := tables[j]
			if len(ref.PrimaryKey) != 1 {
				return nil, fmt.Errorf("schema: %s has no single column primary key", ref.Name)
			}
			pk := ref.PrimaryKey[0]
			c := &Column{
				Name:     a.JoinColumn,
				Type:     pk.Type,
				Size:     pk.Size,
				Nullable: a.Nullable,
			}
			t.Columns = append(t.Columns, c)
			t.ForeignKeys = append(t.ForeignKeys, &ForeignKey{
				Symbol:     t.Name + "_" + c.Name + "_fk",
				Columns:    []*Column{c},
				RefTable:   ref,
				RefColumns: []*Column{pk},
				OnDelete:   a.OnDelete,
			})
		}
	}
	return sortTables(tables), nil
}

// sortTables orders tables so that referenced tables come first. Cycles
// keep the input order.
func sortTables(tables []*Table) []*Table {
	var (
		sorted  = make([]*Table, 0, len(tables))
		visited = make(map[*Table]bool, len(tables))
		visit   func(*Table, []*Table)
	)
	visit = func(t *Table, path []*Table) {
		if visited[t] || slices.Contains(path, t) {
			return
		}
		path = append(path, t)
		for _, fk := range t.ForeignKeys {
			if fk.RefTable != t && slices.Contains(tables, fk.RefTable) {
				visit(fk.RefTable, path)
			}
		}
		visited[t] = true
		sorted = append(sorted, t)
	}
	for _, t := range tables {
		visit(t, nil)
	}
	return sorted
}
