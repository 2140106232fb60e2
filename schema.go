package permafrost

import (
	"fmt"

	perrors "github.com/permafrost-db/permafrost/errors"
)

// SchemaKind identifies the record shape of a registered type.
type SchemaKind uint8

const (
	// SchemaObject types hold flat field tuples.
	SchemaObject SchemaKind = 0

	// SchemaMap types hold multisets of (key ordinal, value ordinal) pairs
	// referencing records in sibling types.
	SchemaMap SchemaKind = 1
)

// String returns the kind name.
func (k SchemaKind) String() string {
	switch k {
	case SchemaObject:
		return "object"
	case SchemaMap:
		return "map"
	default:
		return "unknown"
	}
}

// FieldType identifies the value type of an object field.
type FieldType uint8

const (
	// FieldInt is a signed 64-bit integer field.
	FieldInt FieldType = 0

	// FieldString is a UTF-8 string field.
	FieldString FieldType = 1
)

// String returns the field type name.
func (t FieldType) String() string {
	switch t {
	case FieldInt:
		return "int"
	case FieldString:
		return "string"
	default:
		return "unknown"
	}
}

// Schema describes a registered type.
type Schema interface {
	SchemaName() string
	Kind() SchemaKind
}

// ObjectField declares one field of an object type.
type ObjectField struct {
	Name string
	Type FieldType
}

// ObjectSchema declares an object type: an ordered tuple of typed fields.
type ObjectSchema struct {
	Name   string
	Fields []ObjectField
}

// SchemaName returns the type name.
func (s *ObjectSchema) SchemaName() string { return s.Name }

// Kind returns SchemaObject.
func (s *ObjectSchema) Kind() SchemaKind { return SchemaObject }

// fieldIndex returns the position of the named field, or -1.
func (s *ObjectSchema) fieldIndex(name string) int {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return i
		}
	}
	return -1
}

func (s *ObjectSchema) validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: object schema has no name", perrors.ErrInvalidSchema)
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: type %q declares an unnamed field", perrors.ErrInvalidSchema, s.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: type %q declares field %q twice", perrors.ErrInvalidSchema, s.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// PrimaryKey declares the hash key of a map type: the key-record field paths
// whose values derive the bucket hash. Binding happens late, per encode;
// see the hash-key handling on MapTypeWriteState.
type PrimaryKey struct {
	FieldPaths []string
}

// MapSchema declares a map type. KeyType and ValueType name the sibling types
// whose ordinals the entries reference. HashKey is optional.
type MapSchema struct {
	Name      string
	KeyType   string
	ValueType string
	HashKey   *PrimaryKey
}

// SchemaName returns the type name.
func (s *MapSchema) SchemaName() string { return s.Name }

// Kind returns SchemaMap.
func (s *MapSchema) Kind() SchemaKind { return SchemaMap }

func (s *MapSchema) validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: map schema has no name", perrors.ErrInvalidSchema)
	}
	if s.KeyType == "" || s.ValueType == "" {
		return fmt.Errorf("%w: map type %q must name a key type and a value type", perrors.ErrInvalidSchema, s.Name)
	}
	if s.HashKey != nil && len(s.HashKey.FieldPaths) == 0 {
		return fmt.Errorf("%w: map type %q declares an empty hash key", perrors.ErrInvalidHashKey, s.Name)
	}
	return nil
}
