package registry

import (
	"fmt"

	"gcpwire/internal/wire"
)

// Compatible checks whether a new coercion schema can replace an old one
// under the given level. Adding fields is always allowed: undeclared
// fields pass through coercion untouched, so an older descriptor simply
// leaves a newer payload's extra fields in wire form. Removing a field
// breaks the side that still declares it, and changing a field's kind or
// cardinality flips the wire interpretation of every stored payload, so
// both are incompatible.
func Compatible(old, new *wire.Schema, level Level) (bool, error) {
	var err error
	switch level {
	case Backward, BackwardTransitive:
		err = covers(new, old, "", nil)
	case Forward, ForwardTransitive:
		err = covers(old, new, "", nil)
	case Full, FullTransitive:
		if err = covers(new, old, "", nil); err == nil {
			err = covers(old, new, "", nil)
		}
	default:
		return true, nil
	}

	if err != nil {
		return false, err
	}
	return true, nil
}

type schemaPair struct {
	a, b *wire.Schema
}

// covers reports whether every field declared by base is declared by s
// with the same kind and cardinality, recursing into nested messages.
// The seen set breaks recursion on self-referential schemas.
func covers(s, base *wire.Schema, path string, seen map[schemaPair]bool) error {
	pair := schemaPair{s, base}
	if seen[pair] {
		return nil
	}
	if seen == nil {
		seen = make(map[schemaPair]bool)
	}
	seen[pair] = true

	for name, want := range base.Fields {
		fieldPath := name
		if path != "" {
			fieldPath = path + "." + name
		}

		got, ok := s.Fields[name]
		if !ok {
			return fmt.Errorf("field %s removed", fieldPath)
		}
		if got.Kind != want.Kind {
			return fmt.Errorf("field %s changed kind from %s to %s", fieldPath, want.Kind, got.Kind)
		}
		if got.Repeated != want.Repeated {
			return fmt.Errorf("field %s changed cardinality", fieldPath)
		}
		if want.Kind == wire.Message {
			if err := covers(got.Schema, want.Schema, fieldPath, seen); err != nil {
				return err
			}
		}
	}
	return nil
}
