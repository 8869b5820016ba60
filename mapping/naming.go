package mapping

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-openapi/inflect"
)

// NamingStrategy derives table and column names that are not given
// explicitly by a mapping.
type NamingStrategy interface {
	TableName(class string) string
	ColumnName(field string) string
	JoinColumnName(field string) string
}

// Naming strategy names accepted by NamingStrategyFor.
const (
	NamingDefault    = "default"
	NamingUnderscore = "underscore"
)

// NamingStrategyFor returns the strategy registered under name. The empty
// name selects the default strategy.
func NamingStrategyFor(name string) (NamingStrategy, error) {
	switch name {
	case "", NamingDefault:
		return DefaultNamingStrategy{}, nil
	case NamingUnderscore:
		return UnderscoreNamingStrategy{}, nil
	default:
		return nil, fmt.Errorf("mapping: unknown naming strategy %q", name)
	}
}

// DefaultNamingStrategy uses class and field names as they are.
type DefaultNamingStrategy struct{}

// TableName implements NamingStrategy.
func (DefaultNamingStrategy) TableName(class string) string { return class }

// ColumnName implements NamingStrategy.
func (DefaultNamingStrategy) ColumnName(field string) string { return field }

// JoinColumnName implements NamingStrategy.
func (DefaultNamingStrategy) JoinColumnName(field string) string { return field + "_id" }

// UnderscoreNamingStrategy converts names to snake case,
// e.g. PackageVersion becomes package_version.
type UnderscoreNamingStrategy struct{}

// TableName implements NamingStrategy.
func (UnderscoreNamingStrategy) TableName(class string) string { return inflect.Underscore(class) }

// ColumnName implements NamingStrategy.
func (UnderscoreNamingStrategy) ColumnName(field string) string { return inflect.Underscore(field) }

// JoinColumnName implements NamingStrategy.
func (UnderscoreNamingStrategy) JoinColumnName(field string) string {
	return inflect.Underscore(field) + "_id"
}

// fieldName converts an exported Go identifier to a mapping field name by
// lowering its leading upper-case run: ID becomes id, URLPath becomes urlPath.
func fieldName(goName string) string {
	r := []rune(goName)
	n := 0
	for n < len(r) && unicode.IsUpper(r[n]) {
		n++
	}
	switch {
	case n == 0:
		return goName
	case n == len(r):
		return strings.ToLower(goName)
	case n > 1:
		n--
	}
	for i := 0; i < n; i++ {
		r[i] = unicode.ToLower(r[i])
	}
	return string(r)
}

// complete fills the names a mapping driver left empty.
func complete(m *ClassMetadata, ns NamingStrategy) {
	if m.Table == "" {
		m.Table = ns.TableName(m.Name)
	}
	for _, f := range m.Fields {
		if f.Column == "" {
			f.Column = ns.ColumnName(f.Name)
		}
		if f.Type == TypeString && f.Length == 0 {
			f.Length = 255
		}
	}
	for _, a := range m.Associations {
		if a.JoinColumn == "" {
			a.JoinColumn = ns.JoinColumnName(a.Field)
		}
	}
	for _, s := range m.Sluggable {
		if s.Separator == "" {
			s.Separator = "-"
		}
	}
	if m.Tree != nil && m.Tree.Strategy == "" {
		m.Tree.Strategy = "nested"
	}
}
