package checkpoint

import (
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"chartrec/internal/logging"
)

// Encoder converts arbitrary phase state into a JSON-encodable shape before
// marshaling. Values that cannot round-trip through JSON (channels, funcs,
// unsafe pointers) degrade to their string form instead of aborting the save;
// every degradation is logged and counted so the run summary can surface it.
type Encoder struct {
	fallbacks atomic.Int64
}

// NewEncoder returns a fresh encoder with a zero fallback count.
func NewEncoder() *Encoder { return &Encoder{} }

// FallbackCount reports how many values were stringified instead of encoded
// structurally since the encoder was created.
func (e *Encoder) FallbackCount() int64 { return e.fallbacks.Load() }

// Encode walks v recursively and returns a JSON-safe representation.
func (e *Encoder) Encode(v interface{}) interface{} {
	return e.encodeValue(reflect.ValueOf(v), 0)
}

// maxDepth guards against cyclic structures; state deeper than this is not
// phase state, it is a bug, and stringifying it keeps the save alive.
const maxDepth = 32

func (e *Encoder) encodeValue(rv reflect.Value, depth int) interface{} {
	if !rv.IsValid() {
		return nil
	}
	if depth > maxDepth {
		return e.stringify(rv, "max depth exceeded")
	}

	// time.Time marshals itself; do not take it apart field by field.
	if rv.Type() == reflect.TypeOf(time.Time{}) {
		return rv.Interface()
	}

	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return e.encodeValue(rv.Elem(), depth+1)

	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = e.encodeValue(rv.Index(i), depth+1)
		}
		return out

	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprintf("%v", iter.Key().Interface())] = e.encodeValue(iter.Value(), depth+1)
		}
		return out

	case reflect.Struct:
		out := make(map[string]interface{})
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			name, omitEmpty := jsonFieldName(f)
			if name == "-" {
				continue
			}
			fv := rv.Field(i)
			encoded := e.encodeValue(fv, depth+1)
			if omitEmpty && isEmpty(encoded) {
				continue
			}
			out[name] = encoded
		}
		return out

	default:
		// chan, func, unsafe pointer, complex
		return e.stringify(rv, "unencodable kind "+rv.Kind().String())
	}
}

func (e *Encoder) stringify(rv reflect.Value, reason string) string {
	e.fallbacks.Add(1)
	s := fmt.Sprintf("%v", rv)
	logging.Get(logging.CategoryCheckpoint).Warn(
		"encoder fallback (%s): %s value stringified to %q", reason, rv.Type(), s)
	return s
}

// jsonFieldName resolves a struct field's JSON name and omitempty flag.
func jsonFieldName(f reflect.StructField) (name string, omitEmpty bool) {
	name = f.Name
	tag := f.Tag.Get("json")
	if tag == "" {
		return name, false
	}
	parts := splitTag(tag)
	if parts[0] != "" {
		name = parts[0]
	}
	for _, p := range parts[1:] {
		if p == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty
}

func splitTag(tag string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(tag); i++ {
		if i == len(tag) || tag[i] == ',' {
			parts = append(parts, tag[start:i])
			start = i + 1
		}
	}
	return parts
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case int64:
		return t == 0
	case uint64:
		return t == 0
	case float64:
		return t == 0
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}
