package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
)

// Record is an ordered string-keyed mapping flowing between stages. Keys keep
// the position of their first Set. No field is guaranteed to exist: read with
// Get/GetOr/Require or the typed Field/FieldOr helpers.
//
// A Record is owned by whichever stage currently holds it and is handed to the
// next stage on yield; it is not safe for concurrent use.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord builds a record from alternating key/value arguments. It panics
// if kv has odd length or a key is not a string.
func NewRecord(kv ...any) *Record {
	if len(kv)%2 != 0 {
		panic("pipeline.NewRecord: odd number of arguments")
	}
	r := &Record{values: make(map[string]any, len(kv)/2)}
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("pipeline.NewRecord: key %d is %T, not string", i/2, kv[i]))
		}
		r.Set(key, kv[i+1])
	}
	return r
}

// RecordFromMap copies m into a new record with keys in sorted order.
func RecordFromMap(m map[string]any) *Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r := &Record{keys: keys, values: make(map[string]any, len(m))}
	for _, k := range keys {
		r.values[k] = m[k]
	}
	return r
}

// Set stores value under key. Re-setting an existing key keeps its position.
func (r *Record) Set(key string, value any) {
	if r.values == nil {
		r.values = map[string]any{}
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value under key and whether it was present.
func (r *Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// GetOr returns the value under key, or def when the key is absent.
func (r *Record) GetOr(key string, def any) any {
	if v, ok := r.values[key]; ok {
		return v
	}
	return def
}

// Require returns the value under key or a *MissingFieldError.
func (r *Record) Require(key string) (any, error) {
	v, ok := r.values[key]
	if !ok {
		return nil, &MissingFieldError{Key: key}
	}
	return v, nil
}

// Has reports whether key is present.
func (r *Record) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

// Delete removes key. Deleting an absent key is a no-op.
func (r *Record) Delete(key string) {
	if _, ok := r.values[key]; !ok {
		return
	}
	delete(r.values, key)
	r.keys = slices.DeleteFunc(r.keys, func(k string) bool { return k == key })
}

// Keys returns the keys in order. The slice is a copy.
func (r *Record) Keys() []string { return slices.Clone(r.keys) }

// Len returns the number of fields.
func (r *Record) Len() int { return len(r.keys) }

// Clone returns a shallow copy: values are shared, the key set is not.
func (r *Record) Clone() *Record {
	c := &Record{keys: slices.Clone(r.keys), values: make(map[string]any, len(r.values))}
	for k, v := range r.values {
		c.values[k] = v
	}
	return c
}

// Map returns the fields as a plain map (order is lost).
func (r *Record) Map() map[string]any {
	m := make(map[string]any, len(r.values))
	for k, v := range r.values {
		m[k] = v
	}
	return m
}

// MarshalJSON encodes the record as a JSON object in key order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("record field %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Field returns the value under key as T. A missing key yields
// *MissingFieldError; a value of another type yields a type error.
func Field[T any](r *Record, key string) (T, error) {
	var zero T
	v, err := r.Require(key)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("field %q: expected %T, got %T", key, zero, v)
	}
	return t, nil
}

// FieldOr returns the value under key as T, or def when the key is absent or
// holds another type.
func FieldOr[T any](r *Record, key string, def T) T {
	v, ok := r.values[key]
	if !ok {
		return def
	}
	if t, ok := v.(T); ok {
		return t
	}
	return def
}

// MissingFieldError is returned when a required record field is absent.
type MissingFieldError struct {
	Key string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("record has no field %q", e.Key)
}
