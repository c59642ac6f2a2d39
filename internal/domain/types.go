package domain

import (
	"fmt"
	"maps"
	"reflect"
	"strconv"
	"strings"
)

// Record is a single JSON object exchanged with the server.
type Record = map[string]any

// Params are query parameters sent with a read.
type Params = map[string]string

// RecordID returns the string form of record[field] and whether it is
// present. A value is present when it is non-nil and its string form is
// non-empty.
func RecordID(record Record, field string) (string, bool) {
	if record == nil {
		return "", false
	}
	id := FormatID(record[field])
	return id, id != ""
}

// FormatID renders an id value the way it appears in a URL path. JSON
// numbers decode as float64, so integral values are printed without a
// fractional part. Every integer and float kind is accepted, including named
// types; only nil, empty strings and unsupported kinds render as "".
func FormatID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(id)
	case fmt.Stringer:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return ""
		}
		return strings.TrimSpace(id.String())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return strings.TrimSpace(rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64)
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return ""
		}
		return FormatID(rv.Elem().Interface())
	default:
		return ""
	}
}

// MergeParams returns a new map holding base overlaid with extra.
func MergeParams(base, extra Params) Params {
	out := make(Params, len(base)+len(extra))
	maps.Copy(out, base)
	maps.Copy(out, extra)
	return out
}

// CloneParams copies p; a nil map stays nil.
func CloneParams(p Params) Params {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}
