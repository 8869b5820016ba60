package orm

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/easybib/ormresource/mapping"
)

// datetime layouts accepted when a driver returns dates as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// convert normalizes v to the Go type of a field type:
// int64 for integers, string for text, decimals and guids, bool, float64
// and time.Time. nil stays nil.
func convert(typ string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if dv, ok := v.(driver.Valuer); ok {
		var err error
		if v, err = dv.Value(); err != nil || v == nil {
			return nil, err
		}
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		v = rv.Elem().Interface()
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch typ {
	case mapping.TypeInteger, mapping.TypeBigInt, mapping.TypeSmallInt:
		return toInt64(v)
	case mapping.TypeString, mapping.TypeText, mapping.TypeDecimal:
		switch v := v.(type) {
		case string:
			return v, nil
		case fmt.Stringer:
			return v.String(), nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		}
	case mapping.TypeGUID:
		switch v := v.(type) {
		case string:
			id, err := uuid.Parse(v)
			if err != nil {
				return nil, err
			}
			return id.String(), nil
		case uuid.UUID:
			return v.String(), nil
		}
	case mapping.TypeBoolean:
		switch v := v.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(v)
		default:
			n, err := toInt64(v)
			if err != nil {
				return nil, err
			}
			return n != 0, nil
		}
	case mapping.TypeFloat:
		switch v := v.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case string:
			return strconv.ParseFloat(v, 64)
		default:
			n, err := toInt64(v)
			if err != nil {
				return nil, err
			}
			return float64(n), nil
		}
	case mapping.TypeDateTime, mapping.TypeDate:
		switch v := v.(type) {
		case time.Time:
			return v, nil
		case string:
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, v); err == nil {
					return t, nil
				}
			}
			return nil, fmt.Errorf("cannot parse %q as %s", v, typ)
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, typ)
}

func toInt64(v any) (int64, error) {
	switch v := v.(type) {
	case string:
		return strconv.ParseInt(v, 10, 64)
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return rv.Int(), nil
	case rv.CanUint():
		return int64(rv.Uint()), nil
	case rv.CanFloat() && rv.Float() == float64(int64(rv.Float())):
		return int64(rv.Float()), nil
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

// normalizeID converts identifier values to their canonical form so that
// 1, int32(1) and "1" address the same entity of an integer class.
func normalizeID(m *mapping.ClassMetadata, v any) (any, error) {
	f := m.IDField()
	if f == nil {
		return v, nil
	}
	return convert(f.Type, v)
}

// idKey returns the identity map key of a normalized identifier.
func idKey(id any) string {
	return fmt.Sprint(id)
}

// sameValue reports if two normalized values are equal.
func sameValue(a, b any) bool {
	switch a := a.(type) {
	case time.Time:
		bt, ok := b.(time.Time)
		return ok && a.Equal(bt)
	case []byte:
		bb, ok := b.([]byte)
		return ok && bytes.Equal(a, bb)
	case *Entity:
		be, ok := b.(*Entity)
		return ok && a == be
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
