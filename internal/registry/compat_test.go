package registry

import (
	"testing"

	"gcpwire/internal/wire"

	"github.com/stretchr/testify/assert"
)

func rowSchema(fields map[string]wire.Field) *wire.Schema {
	return &wire.Schema{Name: "Row", Fields: fields}
}

func TestCompatible(t *testing.T) {
	base := rowSchema(map[string]wire.Field{
		"name":       {Kind: wire.String},
		"createTime": {Kind: wire.Timestamp},
	})

	tests := []struct {
		name  string
		old   *wire.Schema
		new   *wire.Schema
		level Level
		want  bool
	}{
		{
			name: "Added Field Is Backward Compatible",
			old:  base,
			new: rowSchema(map[string]wire.Field{
				"name":       {Kind: wire.String},
				"createTime": {Kind: wire.Timestamp},
				"updateTime": {Kind: wire.Timestamp},
			}),
			level: Backward,
			want:  true,
		},
		{
			name: "Removed Field Is Backward Incompatible",
			old:  base,
			new: rowSchema(map[string]wire.Field{
				"name": {Kind: wire.String},
			}),
			level: Backward,
			want:  false,
		},
		{
			name: "Kind Change Is Backward Incompatible",
			old:  base,
			new: rowSchema(map[string]wire.Field{
				"name":       {Kind: wire.Bytes},
				"createTime": {Kind: wire.Timestamp},
			}),
			level: Backward,
			want:  false,
		},
		{
			name: "Added Field Is Forward Incompatible",
			old:  base,
			new: rowSchema(map[string]wire.Field{
				"name":       {Kind: wire.String},
				"createTime": {Kind: wire.Timestamp},
				"updateTime": {Kind: wire.Timestamp},
			}),
			level: Forward,
			want:  false,
		},
		{
			name: "Removed Field Is Forward Compatible",
			old:  base,
			new: rowSchema(map[string]wire.Field{
				"name": {Kind: wire.String},
			}),
			level: Forward,
			want:  true,
		},
		{
			name:  "Identical Is Fully Compatible",
			old:   base,
			new:   base,
			level: Full,
			want:  true,
		},
		{
			name: "Added Field Is Not Fully Compatible",
			old:  base,
			new: rowSchema(map[string]wire.Field{
				"name":       {Kind: wire.String},
				"createTime": {Kind: wire.Timestamp},
				"updateTime": {Kind: wire.Timestamp},
			}),
			level: Full,
			want:  false,
		},
		{
			name: "None Skips Checking",
			old:  base,
			new: rowSchema(map[string]wire.Field{
				"name": {Kind: wire.Int64},
			}),
			level: None,
			want:  true,
		},
		{
			name: "Cardinality Change Is Incompatible",
			old: rowSchema(map[string]wire.Field{
				"values": {Kind: wire.String, Repeated: true},
			}),
			new: rowSchema(map[string]wire.Field{
				"values": {Kind: wire.String},
			}),
			level: Backward,
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compatible(tt.old, tt.new, tt.level)
			assert.Equal(t, tt.want, got)
			if tt.want {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCompatible_NestedKindChange(t *testing.T) {
	old := &wire.Schema{Name: "Deployment", Fields: map[string]wire.Field{
		"operation": {Kind: wire.Message, Schema: &wire.Schema{
			Name:   "Operation",
			Fields: map[string]wire.Field{"id": {Kind: wire.Int64}},
		}},
	}}
	new := &wire.Schema{Name: "Deployment", Fields: map[string]wire.Field{
		"operation": {Kind: wire.Message, Schema: &wire.Schema{
			Name:   "Operation",
			Fields: map[string]wire.Field{"id": {Kind: wire.String}},
		}},
	}}

	got, err := Compatible(old, new, Backward)
	assert.False(t, got)
	assert.ErrorContains(t, err, "operation.id")
}

func TestCompatible_SelfReferential(t *testing.T) {
	status := &wire.Schema{Name: "Status", Fields: map[string]wire.Field{
		"message": {Kind: wire.String},
	}}
	status.Fields["causes"] = wire.Field{Kind: wire.Message, Repeated: true, Schema: status}

	got, err := Compatible(status, status, Full)
	assert.True(t, got)
	assert.NoError(t, err)
}
