package mapping

import (
	"reflect"
)

// StructFields returns the index of every mapped field of a struct type,
// keyed by field name. Names follow the rules of the annotation driver:
// the name tag option, or the Go field name with its leading capitals
// lowered. Pointer types are dereferenced.
func StructFields(t reflect.Type) map[string]int {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	fields := make(map[string]int)
	if t.Kind() != reflect.Struct {
		return fields
	}
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		value, ok := sf.Tag.Lookup("orm")
		if !ok || value == "-" {
			continue
		}
		name := fieldName(sf.Name)
		if opts, err := parseTag(value); err == nil {
			for _, o := range opts {
				if o.key == "name" && o.value != "" {
					name = o.value
				}
			}
		}
		fields[name] = i
	}
	return fields
}
