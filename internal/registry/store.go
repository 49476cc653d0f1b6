package registry

import (
	"fmt"

	"github.com/hamba/avro/v2"
)

// Entry is one registered descriptor version as stored in the KV bucket.
// Descriptor holds the raw descriptor document JSON.
type Entry struct {
	Name       string `avro:"name"`
	Version    int    `avro:"version"`
	ID         int    `avro:"id"`
	Descriptor []byte `avro:"descriptor"`
}

// Entries travel through JetStream as Avro records rather than JSON:
// descriptor documents are JSON already, and double-encoding them as a
// JSON string field roughly doubles the stored size.
var entrySchema = avro.MustParse(`{
	"type": "record",
	"name": "DescriptorEntry",
	"fields": [
		{"name": "name", "type": "string"},
		{"name": "version", "type": "int"},
		{"name": "id", "type": "int"},
		{"name": "descriptor", "type": "bytes"}
	]
}`)

func encodeEntry(e *Entry) ([]byte, error) {
	data, err := avro.Marshal(entrySchema, e)
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := avro.Unmarshal(entrySchema, data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &e, nil
}
