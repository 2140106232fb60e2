package permafrost

import (
	"fmt"
	"strings"

	perrors "github.com/permafrost-db/permafrost/errors"
)

// boundField is a hash-key field path resolved against the live state: the
// field's position and type within the key type's schema.
type boundField struct {
	fieldIndex int
	fieldType  FieldType
}

// bindFieldPaths resolves each hash-key field path against the key type's
// registered schema. Binding is attempted fresh per encode; the caller treats
// ErrNotBindable as recoverable (fall back to staged bucket hints) and
// everything else as fatal.
//
// A path binds when it names a single field of the key object type. A missing
// type or field is ErrNotBindable: the schema may legitimately reference a
// type this producer has not registered yet. A key type that is not an object
// type can never supply field values, which is a schema error, not a state
// condition.
func bindFieldPaths(engine *WriteStateEngine, keyTypeName string, paths []string) ([]boundField, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no field paths", perrors.ErrInvalidHashKey)
	}

	keyWriter, ok := engine.types[keyTypeName]
	if !ok {
		return nil, fmt.Errorf("%w: key type %q", perrors.ErrNotBindable, keyTypeName)
	}
	keySchema, ok := keyWriter.schema().(*ObjectSchema)
	if !ok {
		return nil, fmt.Errorf("%w: key type %q is a %s type", perrors.ErrHashKeyTypeMismatch, keyTypeName, keyWriter.schema().Kind())
	}

	bound := make([]boundField, len(paths))
	for i, path := range paths {
		if path == "" {
			return nil, fmt.Errorf("%w: empty field path", perrors.ErrInvalidHashKey)
		}
		if strings.Contains(path, ".") {
			// Reference traversal would need the referenced type's records,
			// which this state does not bind.
			return nil, fmt.Errorf("%w: path %q traverses a reference", perrors.ErrNotBindable, path)
		}
		idx := keySchema.fieldIndex(path)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q has no field %q", perrors.ErrNotBindable, keyTypeName, path)
		}
		bound[i] = boundField{fieldIndex: idx, fieldType: keySchema.Fields[idx].Type}
	}
	return bound, nil
}
