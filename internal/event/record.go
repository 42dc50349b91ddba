// Package event defines the mutable record that flows through a normalization pipeline.
//
// Fields are addressed by dot-separated paths (for example "gcp.audit.status.code").
// Lookups report absence with a boolean instead of an error: a missing field is a normal
// outcome for every stage that reads the record.
package event

import (
	"encoding/json"
	"strings"
	"time"
)

// MessageField holds the raw message string delivered by the host.
const MessageField = "message"

// Fields is a nested key/value document. Nested objects are map[string]interface{}.
type Fields map[string]interface{}

// Record is a single event owned by one pipeline invocation.
type Record struct {
	Timestamp time.Time
	Fields    Fields
}

// New creates a record carrying the raw message and the time it was received.
func New(message string, receivedAt time.Time) *Record {
	return &Record{
		Timestamp: receivedAt.UTC(),
		Fields:    Fields{MessageField: message},
	}
}

// GetValue returns the value at path and whether it was present.
func (r *Record) GetValue(path string) (interface{}, bool) {
	return r.Fields.GetValue(path)
}

// Put writes value at path, creating intermediate objects as needed.
func (r *Record) Put(path string, value interface{}) {
	if r.Fields == nil {
		r.Fields = Fields{}
	}
	r.Fields.Put(path, value)
}

// Delete removes path. Missing paths are ignored.
func (r *Record) Delete(path string) {
	r.Fields.Delete(path)
}

// Has reports whether path is present.
func (r *Record) Has(path string) bool {
	return r.Fields.Has(path)
}

// GetValue walks path through nested objects.
func (f Fields) GetValue(path string) (interface{}, bool) {
	if f == nil || path == "" {
		return nil, false
	}
	current := map[string]interface{}(f)
	parts := splitPath(path)
	for i, part := range parts {
		v, ok := current[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		next, ok := asMap(v)
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}

// Has reports whether path is present.
func (f Fields) Has(path string) bool {
	_, ok := f.GetValue(path)
	return ok
}

// GetString returns the string at path. Non-string values report false.
func (f Fields) GetString(path string) (string, bool) {
	v, ok := f.GetValue(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetMap returns the object at path. Non-object values report false.
func (f Fields) GetMap(path string) (map[string]interface{}, bool) {
	v, ok := f.GetValue(path)
	if !ok {
		return nil, false
	}
	return asMap(v)
}

// GetSlice returns the array at path. Non-array values report false.
func (f Fields) GetSlice(path string) ([]interface{}, bool) {
	v, ok := f.GetValue(path)
	if !ok {
		return nil, false
	}
	s, ok := v.([]interface{})
	return s, ok
}

// Put writes value at path. Any non-object value found on the way is replaced by an object.
func (f Fields) Put(path string, value interface{}) {
	if f == nil || path == "" {
		return
	}
	if nested, ok := value.(Fields); ok {
		value = map[string]interface{}(nested)
	}
	current := map[string]interface{}(f)
	parts := splitPath(path)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(current[part])
		if !ok {
			next = make(map[string]interface{})
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// Delete removes the value at path.
func (f Fields) Delete(path string) {
	if f == nil || path == "" {
		return
	}
	current := map[string]interface{}(f)
	parts := splitPath(path)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(current[part])
		if !ok {
			return
		}
		current = next
	}
	delete(current, parts[len(parts)-1])
}

// MarshalJSON renders the record with its timestamp at "@timestamp".
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

// Map returns the record as a plain document suitable for indexing.
func (r *Record) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["@timestamp"] = r.Timestamp.UTC().Format(time.RFC3339Nano)
	return out
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Fields:
		return map[string]interface{}(m), true
	default:
		return nil, false
	}
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}
