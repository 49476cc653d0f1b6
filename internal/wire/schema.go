package wire

// Kind classifies how a field converts between its wire form (the JSON
// value transmitted over HTTP) and its native form (the in-memory Go
// value handed to application code).
type Kind int

const (
	// String is a plain JSON string, passed through unchanged.
	String Kind = iota
	// Bool is a JSON boolean, passed through unchanged.
	Bool
	// Double is a JSON number, passed through unchanged.
	Double
	// Int64 is a decimal-digit string on the wire, int64 natively.
	// 64-bit values travel as strings to survive JSON number parsing.
	Int64
	// Bytes is a standard base64 string on the wire, []byte natively.
	Bytes
	// Timestamp is an RFC 3339 UTC string on the wire, time.Time natively.
	Timestamp
	// Duration is a protobuf duration string ("3.5s"), opaque at this layer.
	Duration
	// FieldMask is a comma-separated path string, opaque at this layer.
	FieldMask
	// Message is a nested object coerced through its own Schema.
	Message
	// Any is wire-opaque freeform content (extensions, metadata maps)
	// that the upstream schema intentionally leaves untyped. Never coerced.
	Any
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Bool:
		return "bool"
	case Double:
		return "double"
	case Int64:
		return "int64"
	case Bytes:
		return "bytes"
	case Timestamp:
		return "timestamp"
	case Duration:
		return "duration"
	case FieldMask:
		return "fieldMask"
	case Message:
		return "message"
	case Any:
		return "any"
	default:
		return "unknown"
	}
}

// Field describes the coercion applied to a single declared field.
// Repeated fields hold arrays whose elements are coerced individually.
// Message fields carry the Schema of the nested object.
type Field struct {
	Kind     Kind
	Repeated bool
	Schema   *Schema
}

// Schema is the coercion table for one message type: field name to
// coercion kind. It is immutable once built and safe for unsynchronized
// concurrent reads. Fields absent from the table pass through coercion
// unchanged, which is what keeps payloads with newer fields than the
// schema round-trippable.
type Schema struct {
	Name   string
	Fields map[string]Field
}

// Object is a JSON payload object, in either wire or native form.
type Object = map[string]any
