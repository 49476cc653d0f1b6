package rest

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// MemoryKeyValue is an in-memory nats.KeyValue used when no NATS server
// is reachable. It tracks no revisions or history and does not support
// watching, so registries backed by it serve reads and writes but never
// receive update notifications.
type MemoryKeyValue struct {
	name  string
	data  map[string][]byte
	mutex sync.RWMutex
}

// NewMemoryKeyValue creates a new in-memory KeyValue store
func NewMemoryKeyValue(name string) *MemoryKeyValue {
	return &MemoryKeyValue{
		name: name,
		data: make(map[string][]byte),
	}
}

func (m *MemoryKeyValue) Get(key string) (nats.KeyValueEntry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if val, ok := m.data[key]; ok {
		return &memoryEntry{key: key, value: val}, nil
	}
	return nil, nats.ErrKeyNotFound
}

func (m *MemoryKeyValue) GetRevision(key string, revision uint64) (nats.KeyValueEntry, error) {
	// Revisions are not tracked, return the current value
	return m.Get(key)
}

func (m *MemoryKeyValue) Put(key string, value []byte) (uint64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.data[key] = value
	return 1, nil
}

func (m *MemoryKeyValue) PutString(key string, value string) (uint64, error) {
	return m.Put(key, []byte(value))
}

func (m *MemoryKeyValue) Keys(opts ...nats.WatchOpt) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *MemoryKeyValue) ListKeys(opts ...nats.WatchOpt) (nats.KeyLister, error) {
	return nil, fmt.Errorf("list keys not implemented for in-memory store")
}

func (m *MemoryKeyValue) Create(key string, value []byte) (uint64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.data[key]; ok {
		return 0, nats.ErrKeyExists
	}

	m.data[key] = value
	return 1, nil
}

func (m *MemoryKeyValue) Update(key string, value []byte, last uint64) (uint64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.data[key]; !ok {
		return 0, nats.ErrKeyNotFound
	}

	m.data[key] = value
	return last + 1, nil
}

func (m *MemoryKeyValue) Delete(key string, opts ...nats.DeleteOpt) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.data[key]; !ok {
		return nats.ErrKeyNotFound
	}

	delete(m.data, key)
	return nil
}

func (m *MemoryKeyValue) Purge(key string, opts ...nats.DeleteOpt) error {
	return m.Delete(key, opts...)
}

func (m *MemoryKeyValue) Watch(keys string, opts ...nats.WatchOpt) (nats.KeyWatcher, error) {
	return nil, fmt.Errorf("watch not implemented for in-memory store")
}

func (m *MemoryKeyValue) WatchAll(opts ...nats.WatchOpt) (nats.KeyWatcher, error) {
	return nil, fmt.Errorf("watch all not implemented for in-memory store")
}

func (m *MemoryKeyValue) WatchFiltered(keys []string, opts ...nats.WatchOpt) (nats.KeyWatcher, error) {
	return nil, fmt.Errorf("watch filtered not implemented for in-memory store")
}

func (m *MemoryKeyValue) History(key string, opts ...nats.WatchOpt) ([]nats.KeyValueEntry, error) {
	return nil, fmt.Errorf("history not implemented for in-memory store")
}

func (m *MemoryKeyValue) Bucket() string {
	return m.name
}

func (m *MemoryKeyValue) PurgeDeletes(opts ...nats.PurgeOpt) error {
	return nil
}

func (m *MemoryKeyValue) Status() (nats.KeyValueStatus, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return &memoryStatus{bucket: m.name, values: uint64(len(m.data))}, nil
}

// memoryEntry implements nats.KeyValueEntry for the in-memory store
type memoryEntry struct {
	key   string
	value []byte
}

func (e *memoryEntry) Bucket() string { return "" }
func (e *memoryEntry) Key() string { return e.key }
func (e *memoryEntry) Value() []byte { return e.value }
func (e *memoryEntry) Revision() uint64 { return 1 }
func (e *memoryEntry) Created() time.Time { return time.Now() }
func (e *memoryEntry) Delta() uint64 { return 0 }
func (e *memoryEntry) Operation() nats.KeyValueOp { return nats.KeyValuePut }

// memoryStatus implements nats.KeyValueStatus for the in-memory store
type memoryStatus struct {
	bucket string
	values uint64
}

func (s *memoryStatus) Bucket() string { return s.bucket }
func (s *memoryStatus) Values() uint64 { return s.values }
func (s *memoryStatus) History() int64 { return 1 }
func (s *memoryStatus) TTL() time.Duration { return 0 }
func (s *memoryStatus) BackingStore() string { return "Memory" }
func (s *memoryStatus) Bytes() uint64 { return 0 }
func (s *memoryStatus) IsCompressed() bool { return false }
