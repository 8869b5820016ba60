package schema

import (
	"ariga.io/atlas/sql/schema"
)

// Differ computes the changes turning the current schema into the
// desired one.
type Differ interface {
	Diff(current, desired *schema.Schema) ([]schema.Change, error)
}

// DiffFunc allows using a function as a Differ.
type DiffFunc func(current, desired *schema.Schema) ([]schema.Change, error)

// Diff calls f(current, desired).
func (f DiffFunc) Diff(current, desired *schema.Schema) ([]schema.Change, error) {
	return f(current, desired)
}

// createDiff adds every desired table missing from current.
func createDiff(current, desired *schema.Schema) ([]schema.Change, error) {
	var changes []schema.Change
	for _, t := range desired.Tables {
		if current != nil {
			if _, ok := current.Table(t.Name); ok {
				continue
			}
		}
		changes = append(changes, &schema.AddTable{T: t})
	}
	return changes, nil
}

// dropDiff drops every current table in reverse order. Missing tables
// are ignored.
func dropDiff(current, _ *schema.Schema) ([]schema.Change, error) {
	changes := make([]schema.Change, 0, len(current.Tables))
	for i := len(current.Tables) - 1; i >= 0; i-- {
		changes = append(changes, &schema.DropTable{
			T:     current.Tables[i],
			Extra: []schema.Clause{&schema.IfExists{}},
		})
	}
	return changes, nil
}

// withoutForeignKeys strips foreign key changes for platforms that do
// not support them.
func withoutForeignKeys(next Differ) Differ {
	return DiffFunc(func(current, desired *schema.Schema) ([]schema.Change, error) {
		changes, err := next.Diff(current, desired)
		if err != nil {
			return nil, err
		}
		for _, c := range changes {
			switch c := c.(type) {
			case *schema.AddTable:
				c.T.ForeignKeys = nil
			case *schema.DropTable:
				c.T.ForeignKeys = nil
			case *schema.ModifyTable:
				c.T.ForeignKeys = nil
				filtered := make([]schema.Change, 0, len(c.Changes))
				for _, change := range c.Changes {
					switch change.(type) {
					case *schema.AddForeignKey, *schema.DropForeignKey, *schema.ModifyForeignKey:
						continue
					default:
						filtered = append(filtered, change)
					}
				}
				c.Changes = filtered
			}
		}
		return changes, nil
	})
}
