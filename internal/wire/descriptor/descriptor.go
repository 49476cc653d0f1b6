// Package descriptor defines the JSON document form of a coercion
// schema, so message descriptors can be registered, stored, and fetched
// at runtime instead of compiled in.
//
// A descriptor document names a message, lists its fields with their
// coercion kinds, and carries the definitions of any nested messages it
// references:
//
//	{
//	  "name": "Deployment",
//	  "fields": {
//	    "id":          {"kind": "int64"},
//	    "fingerprint": {"kind": "bytes"},
//	    "labels":      {"kind": "message", "repeated": true, "message": "LabelEntry"}
//	  },
//	  "messages": {
//	    "LabelEntry": {"fields": {"key": {"kind": "string"}, "value": {"kind": "string"}}}
//	  }
//	}
package descriptor

import (
	"encoding/json"
	"fmt"

	"gcpwire/internal/wire"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const metaSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["name", "fields"],
	"additionalProperties": false,
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"fields": {"$ref": "#/$defs/fields"},
		"messages": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"required": ["fields"],
				"additionalProperties": false,
				"properties": {"fields": {"$ref": "#/$defs/fields"}}
			}
		}
	},
	"$defs": {
		"fields": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"required": ["kind"],
				"additionalProperties": false,
				"properties": {
					"kind": {"enum": ["string", "bool", "double", "int64", "bytes", "timestamp", "duration", "fieldMask", "message", "any"]},
					"repeated": {"type": "boolean"},
					"message": {"type": "string", "minLength": 1}
				}
			}
		}
	}
}`

var meta = jsonschema.MustCompileString("descriptor.json", metaSchema)

var kinds = map[string]wire.Kind{
	"string":    wire.String,
	"bool":      wire.Bool,
	"double":    wire.Double,
	"int64":     wire.Int64,
	"bytes":     wire.Bytes,
	"timestamp": wire.Timestamp,
	"duration":  wire.Duration,
	"fieldMask": wire.FieldMask,
	"message":   wire.Message,
	"any":       wire.Any,
}

type fieldDoc struct {
	Kind     string `json:"kind"`
	Repeated bool   `json:"repeated,omitempty"`
	Message  string `json:"message,omitempty"`
}

type messageDoc struct {
	Fields map[string]fieldDoc `json:"fields"`
}

type doc struct {
	Name     string                `json:"name"`
	Fields   map[string]fieldDoc   `json:"fields"`
	Messages map[string]messageDoc `json:"messages,omitempty"`
}

// Parse validates a descriptor document against the meta-schema and
// builds the coercion schema it describes. Message references are
// resolved within the document, so mutually recursive messages are fine.
func Parse(data []byte) (*wire.Schema, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal descriptor: %w", err)
	}
	if err := meta.Validate(raw); err != nil {
		return nil, fmt.Errorf("validate descriptor: %w", err)
	}

	var d doc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal descriptor: %w", err)
	}

	// Shells first so fields can reference any message in the document,
	// including the root.
	schemas := map[string]*wire.Schema{
		d.Name: {Name: d.Name, Fields: make(map[string]wire.Field, len(d.Fields))},
	}
	for name := range d.Messages {
		schemas[name] = &wire.Schema{Name: name, Fields: make(map[string]wire.Field, len(d.Messages[name].Fields))}
	}

	if err := fillFields(schemas[d.Name], d.Fields, schemas); err != nil {
		return nil, err
	}
	for name, m := range d.Messages {
		if err := fillFields(schemas[name], m.Fields, schemas); err != nil {
			return nil, err
		}
	}

	return schemas[d.Name], nil
}

func fillFields(s *wire.Schema, fields map[string]fieldDoc, schemas map[string]*wire.Schema) error {
	for name, fd := range fields {
		kind := kinds[fd.Kind]
		f := wire.Field{Kind: kind, Repeated: fd.Repeated}

		if kind == wire.Message {
			if fd.Message == "" {
				return fmt.Errorf("message %s: field %s: message kind without message name", s.Name, name)
			}
			sub, ok := schemas[fd.Message]
			if !ok {
				return fmt.Errorf("message %s: field %s: unknown message %q", s.Name, name, fd.Message)
			}
			f.Schema = sub
		} else if fd.Message != "" {
			return fmt.Errorf("message %s: field %s: message name on %s field", s.Name, name, fd.Kind)
		}

		s.Fields[name] = f
	}
	return nil
}

// Marshal renders a coercion schema as a descriptor document, hoisting
// every nested message it reaches into the messages section.
func Marshal(s *wire.Schema) ([]byte, error) {
	d := doc{Name: s.Name, Fields: make(map[string]fieldDoc, len(s.Fields))}

	nested := make(map[string]*wire.Schema)
	if err := collect(s, s, &d, nested); err != nil {
		return nil, err
	}

	if len(nested) > 0 {
		d.Messages = make(map[string]messageDoc, len(nested))
		for name, sub := range nested {
			m := messageDoc{Fields: make(map[string]fieldDoc, len(sub.Fields))}
			for fname, f := range sub.Fields {
				fd, err := fieldToDoc(sub, fname, f)
				if err != nil {
					return nil, err
				}
				m.Fields[fname] = fd
			}
			d.Messages[name] = m
		}
	}

	return json.Marshal(d)
}

// collect fills the root field docs and gathers nested schemas by name.
func collect(root, s *wire.Schema, d *doc, nested map[string]*wire.Schema) error {
	for name, f := range s.Fields {
		if s == root {
			fd, err := fieldToDoc(s, name, f)
			if err != nil {
				return err
			}
			d.Fields[name] = fd
		}

		if f.Kind != wire.Message || f.Schema == nil {
			continue
		}
		sub := f.Schema
		if sub == root {
			continue
		}
		if prev, seen := nested[sub.Name]; seen {
			if prev != sub {
				return fmt.Errorf("duplicate message name %q", sub.Name)
			}
			continue
		}
		nested[sub.Name] = sub
		if err := collect(root, sub, d, nested); err != nil {
			return err
		}
	}
	return nil
}

func fieldToDoc(s *wire.Schema, name string, f wire.Field) (fieldDoc, error) {
	fd := fieldDoc{Kind: f.Kind.String(), Repeated: f.Repeated}
	if f.Kind == wire.Message {
		if f.Schema == nil {
			return fd, fmt.Errorf("message %s: field %s: message field without schema", s.Name, name)
		}
		if f.Schema.Name == "" {
			return fd, fmt.Errorf("message %s: field %s: nested message without a name", s.Name, name)
		}
		fd.Message = f.Schema.Name
	}
	return fd, nil
}
