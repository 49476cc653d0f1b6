package registry

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(h))
	os.Exit(m.Run())
}

func setupTestNATS(t *testing.T) (*server.Server, *nats.Conn, nats.KeyValue, nats.KeyValue) {
	// Create a new NATS server with custom port and JetStream enabled
	opts := &server.Options{
		Port:      19998,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)
	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("NATS server failed to start")
	}

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)

	js, err := nc.JetStream()
	require.NoError(t, err)

	// Wait for JetStream to be ready
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			t.Fatal("JetStream not ready in time")
		default:
			_, err := js.AccountInfo()
			if err == nil {
				kvEntries, err := js.CreateKeyValue(&nats.KeyValueConfig{
					Bucket: "descriptors",
				})
				require.NoError(t, err)

				kvConfig, err := js.CreateKeyValue(&nats.KeyValueConfig{
					Bucket: "config",
				})
				require.NoError(t, err)

				return ns, nc, kvEntries, kvConfig
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func setupRegistry(t *testing.T) (*Registry, func()) {
	ns, nc, kvEntries, kvConfig := setupTestNATS(t)
	registry := New(kvEntries, kvConfig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := registry.WaitReady(ctx)
	require.NoError(t, err)

	cleanup := func() {
		close(registry.stopWatch)
		ns.Shutdown()
		nc.Close()
	}

	return registry, cleanup
}

const rowDescriptor = `{
	"name": "Row",
	"fields": {
		"name":       {"kind": "string"},
		"createTime": {"kind": "timestamp"},
		"values":     {"kind": "any"}
	}
}`

const rowDescriptorV2 = `{
	"name": "Row",
	"fields": {
		"name":       {"kind": "string"},
		"createTime": {"kind": "timestamp"},
		"updateTime": {"kind": "timestamp"},
		"values":     {"kind": "any"}
	}
}`

func TestRegistry_Register(t *testing.T) {
	registry, cleanup := setupRegistry(t)
	defer cleanup()

	tests := []struct {
		name    string
		message string
		doc     string
		wantErr bool
	}{
		{
			name:    "Valid Descriptor",
			message: "Row",
			doc:     rowDescriptor,
			wantErr: false,
		},
		{
			name:    "Compatible Evolution",
			message: "Row",
			doc:     rowDescriptorV2,
			wantErr: false,
		},
		{
			name:    "Invalid Descriptor",
			message: "Row",
			doc:     `{"fields": {}}`,
			wantErr: true,
		},
		{
			name:    "Incompatible Kind Change",
			message: "Row",
			doc:     `{"name": "Row", "fields": {"name": {"kind": "bytes"}, "createTime": {"kind": "timestamp"}, "updateTime": {"kind": "timestamp"}, "values": {"kind": "any"}}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := registry.Register(tt.message, []byte(tt.doc))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Greater(t, id, 0)

			// Verify the descriptor was stored
			entry, err := registry.GetByID(id)
			assert.NoError(t, err)
			assert.Equal(t, tt.doc, string(entry.Descriptor))
			assert.Equal(t, tt.message, entry.Name)
		})
	}
}

func TestRegistry_GetByNameVersion(t *testing.T) {
	registry, cleanup := setupRegistry(t)
	defer cleanup()

	id, err := registry.Register("Row", []byte(rowDescriptor))
	require.NoError(t, err)

	tests := []struct {
		name    string
		message string
		version string
		wantErr bool
	}{
		{
			name:    "Valid Version",
			message: "Row",
			version: "1",
			wantErr: false,
		},
		{
			name:    "Latest Version",
			message: "Row",
			version: "latest",
			wantErr: false,
		},
		{
			name:    "Non-existent Message",
			message: "NoSuchMessage",
			version: "1",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := registry.GetByNameVersion(tt.message, tt.version)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, id, entry.ID)
			assert.Equal(t, "Row", entry.Name)
		})
	}
}

func TestRegistry_Schema(t *testing.T) {
	registry, cleanup := setupRegistry(t)
	defer cleanup()

	_, err := registry.Register("Row", []byte(rowDescriptor))
	require.NoError(t, err)

	schema, err := registry.Schema("Row", "latest")
	require.NoError(t, err)
	assert.Equal(t, "Row", schema.Name)
	assert.Len(t, schema.Fields, 3)
}

func TestRegistry_Compatibility(t *testing.T) {
	registry, cleanup := setupRegistry(t)
	defer cleanup()

	_, err := registry.Register("Row", []byte(rowDescriptor))
	require.NoError(t, err)

	tests := []struct {
		name       string
		doc        string
		level      Level
		wantCompat bool
	}{
		{
			name:       "Added Field - Backward",
			doc:        rowDescriptorV2,
			level:      Backward,
			wantCompat: true,
		},
		{
			name:       "Kind Change - Backward",
			doc:        `{"name": "Row", "fields": {"name": {"kind": "int64"}, "createTime": {"kind": "timestamp"}, "values": {"kind": "any"}}}`,
			level:      Backward,
			wantCompat: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compat, err := registry.CheckCompatibility("Row", []byte(tt.doc), tt.level)
			assert.Equal(t, tt.wantCompat, compat)
			if tt.wantCompat {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistry_CompatibilityLevel(t *testing.T) {
	registry, cleanup := setupRegistry(t)
	defer cleanup()

	// Default applies before any config is set
	level, err := registry.GetCompatibilityLevel("Row")
	require.NoError(t, err)
	assert.Equal(t, Backward, level)

	require.NoError(t, registry.SetCompatibilityLevel("Row", Full))
	level, err = registry.GetCompatibilityLevel("Row")
	require.NoError(t, err)
	assert.Equal(t, Full, level)

	assert.Error(t, registry.SetCompatibilityLevel("Row", Level("SIDEWAYS")))
}

func TestRegistry_Lookup(t *testing.T) {
	registry, cleanup := setupRegistry(t)
	defer cleanup()

	id, err := registry.Register("Row", []byte(rowDescriptor))
	require.NoError(t, err)

	entry, err := registry.Lookup("Row", []byte(rowDescriptor))
	require.NoError(t, err)
	assert.Equal(t, id, entry.ID)
	assert.Equal(t, 1, entry.Version)

	_, err = registry.Lookup("Row", []byte(rowDescriptorV2))
	assert.Error(t, err)
}

func TestRegistry_DeleteOperations(t *testing.T) {
	registry, cleanup := setupRegistry(t)
	defer cleanup()

	_, err := registry.Register("Row", []byte(rowDescriptor))
	require.NoError(t, err)
	id2, err := registry.Register("Row", []byte(rowDescriptorV2))
	require.NoError(t, err)

	t.Run("Delete Version", func(t *testing.T) {
		err := registry.DeleteVersion("Row", "1")
		assert.NoError(t, err)

		_, err = registry.GetByNameVersion("Row", "1")
		assert.Error(t, err)
	})

	t.Run("Delete Name", func(t *testing.T) {
		deletedIDs, err := registry.DeleteName("Row")
		assert.NoError(t, err)
		assert.Equal(t, []int{id2}, deletedIDs)

		versions, err := registry.Versions("Row")
		assert.Error(t, err)
		assert.Nil(t, versions)
	})
}

// kvUpdate is a minimal nats.KeyValueEntry for driving the watch handler
// directly in tests.
type kvUpdate struct {
	key   string
	value []byte
	op    nats.KeyValueOp
}

func (u *kvUpdate) Bucket() string             { return "descriptors" }
func (u *kvUpdate) Key() string                { return u.key }
func (u *kvUpdate) Value() []byte              { return u.value }
func (u *kvUpdate) Revision() uint64           { return 1 }
func (u *kvUpdate) Created() time.Time         { return time.Time{} }
func (u *kvUpdate) Delta() uint64              { return 0 }
func (u *kvUpdate) Operation() nats.KeyValueOp { return u.op }

func TestRegistry_ConcurrentCacheAccess(t *testing.T) {
	registry, cleanup := setupRegistry(t)
	defer cleanup()

	_, err := registry.Register("Row", []byte(rowDescriptor))
	require.NoError(t, err)

	data, err := encodeEntry(&Entry{
		Name:       "Row",
		Version:    1,
		ID:         1,
		Descriptor: []byte(rowDescriptor),
	})
	require.NoError(t, err)

	done := make(chan struct{})
	writerDone := make(chan struct{})

	// Cache writes arrive through the watch handler while readers run.
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-done:
				return
			default:
			}
			registry.handleEntryUpdate(&kvUpdate{key: keyPrefixDescriptors + "1", value: data})
			registry.handleEntryUpdate(&kvUpdate{key: keyPrefixMessages + "Row/versions/1", value: data})
		}
	}()

	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for j := 0; j < 500; j++ {
				entry, err := registry.GetByID(1)
				if assert.NoError(t, err) {
					assert.Equal(t, "Row", entry.Name)
				}

				versions, err := registry.Versions("Row")
				if assert.NoError(t, err) {
					assert.Contains(t, versions, 1)
				}

				_, err = registry.GetCompatibilityLevel("Row")
				assert.NoError(t, err)
			}
		}()
	}

	readers.Wait()
	close(done)
	<-writerDone
}
