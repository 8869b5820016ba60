package mapping

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Field types understood by the entity manager and the schema tool.
const (
	TypeInteger  = "integer"
	TypeBigInt   = "bigint"
	TypeSmallInt = "smallint"
	TypeString   = "string"
	TypeText     = "text"
	TypeBoolean  = "boolean"
	TypeDateTime = "datetime"
	TypeDate     = "date"
	TypeFloat    = "float"
	TypeDecimal  = "decimal"
	TypeGUID     = "guid"
)

var knownTypes = []string{
	TypeInteger, TypeBigInt, TypeSmallInt, TypeString, TypeText, TypeBoolean,
	TypeDateTime, TypeDate, TypeFloat, TypeDecimal, TypeGUID,
}

// KnownType reports if t is a supported field type.
func KnownType(t string) bool {
	return slices.Contains(knownTypes, t)
}

// Identifier generation strategies.
const (
	GeneratorNone = ""
	GeneratorAuto = "auto"
	GeneratorUUID = "uuid"
)

// Timestampable triggers.
const (
	OnCreate = "create"
	OnUpdate = "update"
)

// Tree node roles of the nested set strategy.
const (
	TreeLeft   = "left"
	TreeRight  = "right"
	TreeLevel  = "level"
	TreeParent = "parent"
)

// ClassMetadata describes how an entity class maps to a table.
type ClassMetadata struct {
	Name    string `msgpack:"name"`
	Package string `msgpack:"package,omitempty"`
	Table   string `msgpack:"table"`
	// ID is the name of the identifier field.
	ID           string          `msgpack:"id"`
	IDGenerator  string          `msgpack:"id_generator,omitempty"`
	Fields       []*FieldMapping `msgpack:"fields"`
	Associations []*Association  `msgpack:"associations,omitempty"`
	// Timestampable maps field names to OnCreate or OnUpdate.
	Timestampable map[string]string `msgpack:"timestampable,omitempty"`
	Sluggable     []*SlugConfig     `msgpack:"sluggable,omitempty"`
	Tree          *TreeConfig       `msgpack:"tree,omitempty"`
	// Source is the file the mapping was read from.
	Source string `msgpack:"source,omitempty"`
}

// FieldMapping describes a mapped column.
type FieldMapping struct {
	Name      string `msgpack:"name"`
	Column    string `msgpack:"column"`
	Type      string `msgpack:"type"`
	Length    int    `msgpack:"length,omitempty"`
	Precision int    `msgpack:"precision,omitempty"`
	Scale     int    `msgpack:"scale,omitempty"`
	Nullable  bool   `msgpack:"nullable,omitempty"`
	Unique    bool   `msgpack:"unique,omitempty"`
	ID        bool   `msgpack:"id,omitempty"`
}

// Association is a many-to-one reference to another entity, stored in a
// join column holding the target identifier.
type Association struct {
	Field      string `msgpack:"field"`
	Target     string `msgpack:"target"`
	JoinColumn string `msgpack:"join_column"`
	Nullable   bool   `msgpack:"nullable,omitempty"`
	OnDelete   string `msgpack:"on_delete,omitempty"`
}

// SlugConfig configures a slug field generated from other fields.
type SlugConfig struct {
	Field     string   `msgpack:"field"`
	Fields    []string `msgpack:"fields"`
	Separator string   `msgpack:"separator"`
	Unique    bool     `msgpack:"unique"`
	Updatable bool     `msgpack:"updatable"`
}

// TreeConfig configures a nested set tree.
type TreeConfig struct {
	Strategy string `msgpack:"strategy"`
	Left     string `msgpack:"left"`
	Right    string `msgpack:"right"`
	Level    string `msgpack:"level"`
	// Parent is the name of the many-to-one association to the parent node.
	Parent string `msgpack:"parent"`
}

// Field returns the mapping of the named field.
func (m *ClassMetadata) Field(name string) (*FieldMapping, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Association returns the named association.
func (m *ClassMetadata) Association(name string) (*Association, bool) {
	for _, a := range m.Associations {
		if a.Field == name {
			return a, true
		}
	}
	return nil, false
}

// IDField returns the identifier field mapping.
func (m *ClassMetadata) IDField() *FieldMapping {
	f, _ := m.Field(m.ID)
	return f
}

// HasField reports if name is a field or an association.
func (m *ClassMetadata) HasField(name string) bool {
	if _, ok := m.Field(name); ok {
		return true
	}
	_, ok := m.Association(name)
	return ok
}

// Column returns the column of a field or association.
func (m *ClassMetadata) Column(name string) (string, bool) {
	if f, ok := m.Field(name); ok {
		return f.Column, true
	}
	if a, ok := m.Association(name); ok {
		return a.JoinColumn, true
	}
	return "", false
}

// Names returns all field and association names in mapping order.
func (m *ClassMetadata) Names() []string {
	names := make([]string, 0, len(m.Fields)+len(m.Associations))
	for _, f := range m.Fields {
		names = append(names, f.Name)
	}
	for _, a := range m.Associations {
		names = append(names, a.Field)
	}
	return names
}

// QualifiedName returns "package.Name", or Name when the package is unknown.
func (m *ClassMetadata) QualifiedName() string {
	if m.Package == "" {
		return m.Name
	}
	return m.Package + "." + m.Name
}

// Validate checks the structural invariants of the mapping.
func (m *ClassMetadata) Validate() error {
	if m.Name == "" {
		return &Error{Class: "?", Msg: "missing class name"}
	}
	if m.ID == "" {
		return &Error{Class: m.Name, Msg: "missing identifier field"}
	}
	if _, ok := m.Field(m.ID); !ok {
		return &Error{Class: m.Name, Msg: fmt.Sprintf("identifier %q is not a mapped field", m.ID)}
	}
	switch m.IDGenerator {
	case GeneratorNone, GeneratorAuto, GeneratorUUID:
	default:
		return &Error{Class: m.Name, Msg: fmt.Sprintf("unknown identifier generator %q", m.IDGenerator)}
	}
	seen := make(map[string]string)
	for _, f := range m.Fields {
		if !KnownType(f.Type) {
			return &Error{Class: m.Name, Msg: fmt.Sprintf("field %q has unknown type %q", f.Name, f.Type)}
		}
		if prev, ok := seen[f.Column]; ok {
			return &Error{Class: m.Name, Msg: fmt.Sprintf("fields %q and %q share column %q", prev, f.Name, f.Column)}
		}
		seen[f.Column] = f.Name
	}
	for _, a := range m.Associations {
		if a.Target == "" {
			return &Error{Class: m.Name, Msg: fmt.Sprintf("association %q has no target", a.Field)}
		}
		if prev, ok := seen[a.JoinColumn]; ok {
			return &Error{Class: m.Name, Msg: fmt.Sprintf("fields %q and %q share column %q", prev, a.Field, a.JoinColumn)}
		}
		seen[a.JoinColumn] = a.Field
	}
	return nil
}

// Error reports an invalid or missing mapping.
type Error struct {
	Class string
	Msg   string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("mapping: %s: %s", e.Class, e.Msg)
}

// ErrUnknownClass is wrapped by errors of drivers that do not know a class.
var ErrUnknownClass = errors.New("mapping: unknown class")

// Clone returns a deep copy of the metadata.
func (m *ClassMetadata) Clone() *ClassMetadata {
	c := *m
	c.Fields = cloneEach(m.Fields)
	c.Associations = cloneEach(m.Associations)
	c.Sluggable = cloneEach(m.Sluggable)
	for _, s := range c.Sluggable {
		s.Fields = slices.Clone(s.Fields)
	}
	c.Timestampable = maps.Clone(m.Timestampable)
	if m.Tree != nil {
		tc := *m.Tree
		c.Tree = &tc
	}
	return &c
}

// cloneEach copies the pointed-to values of a slice, keeping nil as nil.
func cloneEach[T any](s []*T) []*T {
	if s == nil {
		return nil
	}
	out := make([]*T, len(s))
	for i, v := range s {
		vc := *v
		out[i] = &vc
	}
	return out
}
