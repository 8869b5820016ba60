package orm

import (
	"database/sql"
	"fmt"
	"maps"
	"reflect"

	"github.com/easybib/ormresource/mapping"
)

type entityState int

const (
	// stateNew entities are known to no manager.
	stateNew entityState = iota
	// stateScheduled entities are persisted but not yet inserted.
	stateScheduled
	stateManaged
	stateRemoved
	stateDetached
)

// Change is the old and new value of a field.
type Change struct {
	Old, New any
}

// Entity is a record of a mapped class. Values are keyed by field name.
// Field values are normalized to int64, string, bool, float64 or
// time.Time. Association values hold the identifier of the referenced
// entity, or the *Entity itself until it is flushed.
type Entity struct {
	meta     *mapping.ClassMetadata
	values   map[string]any
	original map[string]any
	state    entityState
	proxy    bool
}

func newEntity(m *mapping.ClassMetadata) *Entity {
	return &Entity{meta: m, values: make(map[string]any)}
}

// Class returns the class name of the entity.
func (e *Entity) Class() string { return e.meta.Name }

// Metadata returns the class metadata of the entity.
func (e *Entity) Metadata() *mapping.ClassMetadata { return e.meta }

// Get returns the value of a field or association. Fields of a proxy
// read nil until it is loaded, except the identifier.
func (e *Entity) Get(name string) any {
	return e.values[name]
}

// Set assigns a field or association. Field values are normalized to the
// field type.
func (e *Entity) Set(name string, v any) error {
	nv, err := e.normalize(name, v)
	if err != nil {
		return err
	}
	e.values[name] = nv
	return nil
}

// SetPersisted assigns a value the caller already wrote to the database.
// The value is not reported as a change.
func (e *Entity) SetPersisted(name string, v any) error {
	nv, err := e.normalize(name, v)
	if err != nil {
		return err
	}
	e.values[name] = nv
	if e.original != nil {
		e.original[name] = nv
	}
	return nil
}

func (e *Entity) normalize(name string, v any) (any, error) {
	if f, ok := e.meta.Field(name); ok {
		nv, err := convert(f.Type, v)
		if err != nil {
			return nil, fmt.Errorf("orm: %s.%s: %w", e.meta.Name, name, err)
		}
		return nv, nil
	}
	if _, ok := e.meta.Association(name); ok {
		switch v := v.(type) {
		case nil, *Entity:
			return v, nil
		default:
			if n, err := toInt64(v); err == nil {
				return n, nil
			}
			if b, ok := v.([]byte); ok {
				return string(b), nil
			}
			return v, nil
		}
	}
	return nil, fmt.Errorf("orm: %s has no field %q", e.meta.Name, name)
}

// ID returns the identifier value, nil for entities not yet inserted
// with a generated identifier.
func (e *Entity) ID() any {
	return e.values[e.meta.ID]
}

// Values returns a copy of all values.
func (e *Entity) Values() map[string]any {
	return maps.Clone(e.values)
}

// Changes returns the values that differ from the last loaded or flushed
// state. All set values of an entity that was never flushed are changes.
func (e *Entity) Changes() map[string]Change {
	changes := make(map[string]Change)
	for k, v := range e.values {
		old, ok := e.original[k]
		if !ok && v == nil {
			continue
		}
		if !sameValue(old, v) {
			changes[k] = Change{Old: old, New: v}
		}
	}
	for k, old := range e.original {
		if _, ok := e.values[k]; !ok && old != nil {
			changes[k] = Change{Old: old}
		}
	}
	return changes
}

// IsProxy reports if the entity is a reference whose values were not
// loaded yet.
func (e *Entity) IsProxy() bool { return e.proxy }

// snapshot records the current values as the persisted state.
func (e *Entity) snapshot() {
	e.original = maps.Clone(e.values)
	e.state = stateManaged
}

// Decode copies the values into the fields of the struct pointed to by v.
// Struct fields are matched by their orm tags the same way the annotation
// driver maps them; association fields are left alone.
func (e *Entity) Decode(v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("orm: decode %s: expect a non-nil struct pointer, got %T", e.meta.Name, v)
	}
	rv = rv.Elem()
	for name, i := range mapping.StructFields(rv.Type()) {
		if _, ok := e.meta.Field(name); !ok {
			continue
		}
		if err := assign(rv.Field(i), e.values[name]); err != nil {
			return fmt.Errorf("orm: decode %s.%s: %w", e.meta.Name, name, err)
		}
	}
	return nil
}

// Assign sets the values of the entity from the fields of a struct or a
// struct pointer. Zero identifiers are skipped.
func (e *Entity) Assign(v any) error {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return fmt.Errorf("orm: assign %s: nil %T", e.meta.Name, v)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("orm: assign %s: expect a struct, got %T", e.meta.Name, v)
	}
	for name, i := range mapping.StructFields(rv.Type()) {
		if _, ok := e.meta.Field(name); !ok {
			continue
		}
		fv := rv.Field(i)
		if name == e.meta.ID && fv.IsZero() {
			continue
		}
		var value any
		switch {
		case fv.Kind() == reflect.Pointer && fv.IsNil():
		case fv.Kind() == reflect.Pointer:
			value = fv.Elem().Interface()
		default:
			value = fv.Interface()
		}
		if err := e.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

var scannerType = reflect.TypeFor[sql.Scanner]()

// assign stores a normalized value in a struct field.
func assign(field reflect.Value, v any) error {
	if v == nil {
		field.SetZero()
		return nil
	}
	target := field
	if field.Kind() == reflect.Pointer {
		target = reflect.New(field.Type().Elem()).Elem()
	}
	rv := reflect.ValueOf(v)
	switch {
	case reflect.PointerTo(target.Type()).Implements(scannerType):
		if err := target.Addr().Interface().(sql.Scanner).Scan(v); err != nil {
			return err
		}
	case rv.Type().AssignableTo(target.Type()):
		target.Set(rv)
	case rv.Kind() == reflect.String || target.Kind() == reflect.String:
		if rv.Kind() != target.Kind() {
			return fmt.Errorf("cannot assign %T to %s", v, target.Type())
		}
		target.SetString(rv.String())
	case rv.Type().ConvertibleTo(target.Type()):
		target.Set(rv.Convert(target.Type()))
	default:
		return fmt.Errorf("cannot assign %T to %s", v, target.Type())
	}
	if field.Kind() == reflect.Pointer {
		field.Set(target.Addr())
	}
	return nil
}
