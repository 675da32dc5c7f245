package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Kind is the JSON kind a value or field is expected to have
type Kind string

const (
	KindAny     Kind = "any"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
)

// KindOf reports the JSON kind of a decoded value
func KindOf(v any) Kind {
	switch v.(type) {
	case map[string]any:
		return KindObject
	case []any:
		return KindArray
	case string:
		return KindString
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return KindNumber
	case bool:
		return KindBoolean
	default:
		return ""
	}
}

func (k Kind) matches(v any) bool {
	if k == KindAny || k == "" {
		return true
	}
	return KindOf(v) == k
}

// FieldRule describes one top-level field of an object record
type FieldRule struct {
	Name     string
	Kind     Kind
	Required bool
}

// RecordDefinition describes the expected shape of the value stored under Key
type RecordDefinition struct {
	Key    string
	Kind   Kind
	Fields []FieldRule
}

// ValidationError explains why a value does not match its record definition
type ValidationError struct {
	Key    string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema validation failed for %q field %q: %s", e.Key, e.Field, e.Reason)
	}
	return fmt.Sprintf("schema validation failed for %q: %s", e.Key, e.Reason)
}

// Validate checks value against the definition. The value must already be in
// decoded JSON form (map[string]any, []any, float64, string, bool or nil).
func (d RecordDefinition) Validate(value any) error {
	if value == nil {
		return &ValidationError{Key: d.Key, Reason: "value is null"}
	}
	if !d.Kind.matches(value) {
		return &ValidationError{
			Key:    d.Key,
			Reason: fmt.Sprintf("expected %s, got %s", d.Kind, describe(value)),
		}
	}
	if len(d.Fields) == 0 {
		return nil
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return &ValidationError{Key: d.Key, Reason: fmt.Sprintf("expected object with fields, got %s", describe(value))}
	}
	for _, f := range d.Fields {
		fv, present := obj[f.Name]
		if !present || fv == nil {
			if f.Required {
				return &ValidationError{Key: d.Key, Field: f.Name, Reason: "required field missing"}
			}
			continue
		}
		if !f.Kind.matches(fv) {
			return &ValidationError{
				Key:    d.Key,
				Field:  f.Name,
				Reason: fmt.Sprintf("expected %s, got %s", f.Kind, describe(fv)),
			}
		}
	}
	return nil
}

func describe(v any) string {
	if v == nil {
		return "null"
	}
	if k := KindOf(v); k != "" {
		return string(k)
	}
	return fmt.Sprintf("%T", v)
}

// Registry is a concurrency-safe set of record definitions keyed by logical key
type Registry struct {
	mu   sync.RWMutex
	defs map[string]RecordDefinition
}

// NewRegistry creates a registry holding defs
func NewRegistry(defs ...RecordDefinition) *Registry {
	r := &Registry{defs: make(map[string]RecordDefinition, len(defs))}
	for _, d := range defs {
		r.defs[d.Key] = d
	}
	return r
}

// Register adds or replaces a definition
func (r *Registry) Register(def RecordDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Key] = def
}

// Lookup returns the definition for key, if any
func (r *Registry) Lookup(key string) (RecordDefinition, bool) {
	if r == nil {
		return RecordDefinition{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[key]
	return d, ok
}

// Validate validates value against the definition registered for key.
// Keys without a definition always pass.
func (r *Registry) Validate(key string, value any) error {
	def, ok := r.Lookup(key)
	if !ok {
		return nil
	}
	return def.Validate(value)
}

// ValidateJSON decodes raw and validates it against the definition for key
func (r *Registry) ValidateJSON(key string, raw []byte) error {
	def, ok := r.Lookup(key)
	if !ok {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return &ValidationError{Key: key, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return def.Validate(v)
}

// Keys returns the registered keys in sorted order
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.defs))
	for k := range r.defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
