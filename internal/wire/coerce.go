package wire

import (
	"fmt"
	"time"
)

// ToWire converts a native payload object to its wire form: []byte
// fields become base64 strings, int64 fields become decimal strings,
// time.Time fields become RFC 3339 strings. Nested messages and repeated
// fields are converted recursively through their own schemas.
//
// Absent fields stay absent and fields not declared in the schema pass
// through untouched. The first field that cannot be converted aborts the
// whole coercion with an *EncodeError naming its path; no partially
// converted result is returned.
func ToWire(s *Schema, obj Object) (Object, error) {
	return coerceObject(s, obj, "", true)
}

// ToNative is the inverse of ToWire, converting a decoded JSON payload
// to its native form. Malformed wire data fails with a *DecodeError
// naming the offending field path and raw value.
func ToNative(s *Schema, obj Object) (Object, error) {
	return coerceObject(s, obj, "", false)
}

func coerceObject(s *Schema, obj Object, path string, toWire bool) (Object, error) {
	if obj == nil {
		return nil, nil
	}

	out := make(Object, len(obj))
	for name, v := range obj {
		f, declared := s.Fields[name]
		if !declared {
			out[name] = v
			continue
		}

		fieldPath := name
		if path != "" {
			fieldPath = path + "." + name
		}

		cv, err := coerceField(f, v, fieldPath, toWire)
		if err != nil {
			return nil, err
		}
		out[name] = cv
	}
	return out, nil
}

func coerceField(f Field, v any, path string, toWire bool) (any, error) {
	if v == nil {
		return nil, nil
	}

	if f.Repeated {
		items, ok := v.([]any)
		if !ok {
			return nil, mismatch(path, v, "array", toWire)
		}
		out := make([]any, len(items))
		for i, item := range items {
			if item == nil {
				continue
			}
			cv, err := coerceValue(f, item, fmt.Sprintf("%s[%d]", path, i), toWire)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	}

	return coerceValue(f, v, path, toWire)
}

func coerceValue(f Field, v any, path string, toWire bool) (any, error) {
	switch f.Kind {
	case Message:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, mismatch(path, v, "object", toWire)
		}
		return coerceObject(f.Schema, obj, path, toWire)

	case Bytes:
		if toWire {
			b, ok := v.([]byte)
			if !ok {
				return nil, mismatch(path, v, "[]byte", true)
			}
			return Encode(b), nil
		}
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(path, v, "base64 string", false)
		}
		b, err := Decode(s)
		if err != nil {
			return nil, err.(*DecodeError).at(path)
		}
		return b, nil

	case Int64:
		if toWire {
			switch n := v.(type) {
			case int64:
				return FormatInt64(n), nil
			case int:
				return FormatInt64(int64(n)), nil
			}
			return nil, mismatch(path, v, "int64", true)
		}
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(path, v, "decimal string", false)
		}
		n, err := ParseInt64(s)
		if err != nil {
			return nil, err.(*DecodeError).at(path)
		}
		return n, nil

	case Timestamp:
		if toWire {
			t, ok := v.(time.Time)
			if !ok {
				return nil, mismatch(path, v, "time.Time", true)
			}
			s, err := FormatTime(t)
			if err != nil {
				return nil, err.(*EncodeError).at(path)
			}
			return s, nil
		}
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(path, v, "timestamp string", false)
		}
		t, err := ParseTime(s)
		if err != nil {
			return nil, err.(*DecodeError).at(path)
		}
		return t, nil

	default:
		// String, Bool, Double, Duration, FieldMask, Any: identity.
		return v, nil
	}
}

func mismatch(path string, v any, want string, toWire bool) error {
	reason := fmt.Sprintf("got %T, want %s", v, want)
	if toWire {
		return &EncodeError{Path: path, Reason: reason}
	}
	return &DecodeError{Path: path, Value: fmt.Sprintf("%v", v), Reason: reason}
}
