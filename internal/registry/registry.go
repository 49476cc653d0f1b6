// Package registry stores versioned message descriptors in NATS
// JetStream KV, so clients of evolving REST surfaces can fetch coercion
// tables at runtime instead of recompiling.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gcpwire/internal/wire"
	"gcpwire/internal/wire/descriptor"

	"github.com/nats-io/nats.go"
)

const (
	// Key prefixes for NATS KeyValue store
	keyPrefixMessages      = "messages/"        // messages/{name}/versions/{version}
	keyPrefixDescriptors   = "descriptors/"     // descriptors/{id}
	keyPrefixGlobalConfig  = "config/global"    // global config
	keyPrefixMessageConfig = "config/messages/" // config/messages/{name}

	// Default compatibility level
	defaultLevel = Backward
)

// cacheEntry represents a cached descriptor entry
type cacheEntry struct {
	entry *Entry
	mu    sync.RWMutex
}

// Registry manages descriptor registration and compatibility checking
type Registry struct {
	kvEntries nats.KeyValue
	kvConfig  nats.KeyValue
	mu        sync.RWMutex

	// Cache layer
	entryCache   map[int]*cacheEntry    // descriptor ID -> entry
	nameCache    map[string][]int       // message name -> version list
	versionCache map[string]map[int]int // message name -> version -> descriptor ID
	configCache  map[string][]byte      // message name -> compatibility level
	stopWatch    chan struct{}          // Channel to stop watching
	ready        chan struct{}          // Channel to signal when ready
}

// New creates a new descriptor registry
func New(kvEntries, kvConfig nats.KeyValue) *Registry {
	r := &Registry{
		kvEntries:    kvEntries,
		kvConfig:     kvConfig,
		entryCache:   make(map[int]*cacheEntry),
		nameCache:    make(map[string][]int),
		versionCache: make(map[string]map[int]int),
		configCache:  make(map[string][]byte),
		stopWatch:    make(chan struct{}),
		ready:        make(chan struct{}),
	}

	// Start watching for updates
	go r.watchUpdates()

	return r
}

// WaitReady waits for the registry to be ready
func (r *Registry) WaitReady(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watchUpdates watches for changes in the NATS KeyValue store
func (r *Registry) watchUpdates() {
	entryWatcher, err := r.kvEntries.WatchAll()
	if err != nil {
		slog.Error("Failed to watch descriptor updates", "error", err)
		return
	}
	defer entryWatcher.Stop()

	configWatcher, err := r.kvConfig.WatchAll()
	if err != nil {
		slog.Error("Failed to watch config updates", "error", err)
		return
	}
	defer configWatcher.Stop()

	// Signal that we're ready to process updates
	close(r.ready)

	for {
		select {
		case <-r.stopWatch:
			return
		case update := <-entryWatcher.Updates():
			if update == nil {
				continue
			}
			r.handleEntryUpdate(update)
		case update := <-configWatcher.Updates():
			if update == nil {
				continue
			}
			r.handleConfigUpdate(update)
		}
	}
}

// handleEntryUpdate processes descriptor updates from NATS
func (r *Registry) handleEntryUpdate(update nats.KeyValueEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := update.Key()
	value := update.Value()

	// Handle deletion
	if update.Operation() == nats.KeyValueDelete {
		if strings.HasPrefix(key, keyPrefixDescriptors) {
			idStr := strings.TrimPrefix(key, keyPrefixDescriptors)
			id, err := strconv.Atoi(idStr)
			if err == nil {
				delete(r.entryCache, id)
			}
		} else if strings.HasPrefix(key, keyPrefixMessages) {
			parts := strings.Split(key, "/")
			if len(parts) >= 4 {
				name := parts[1]
				version, err := strconv.Atoi(parts[3])
				if err == nil {
					if versions, ok := r.versionCache[name]; ok {
						delete(versions, version)
					}
					if versions, ok := r.nameCache[name]; ok {
						for i, v := range versions {
							if v == version {
								r.nameCache[name] = append(versions[:i], versions[i+1:]...)
								break
							}
						}
					}
				}
			}
		}
		return
	}

	if strings.HasPrefix(key, keyPrefixDescriptors) {
		entry, err := decodeEntry(value)
		if err != nil {
			slog.Error("Failed to decode descriptor update", "error", err)
			return
		}
		r.entryCache[entry.ID] = &cacheEntry{entry: entry}
	} else if strings.HasPrefix(key, keyPrefixMessages) {
		entry, err := decodeEntry(value)
		if err != nil {
			slog.Error("Failed to decode message update", "error", err)
			return
		}
		if _, ok := r.versionCache[entry.Name]; !ok {
			r.versionCache[entry.Name] = make(map[int]int)
		}
		r.versionCache[entry.Name][entry.Version] = entry.ID
		versions := r.nameCache[entry.Name]
		found := false
		for _, v := range versions {
			if v == entry.Version {
				found = true
				break
			}
		}
		if !found {
			r.nameCache[entry.Name] = append(versions, entry.Version)
			sort.Ints(r.nameCache[entry.Name])
		}
	}
}

// handleConfigUpdate processes config updates from NATS
func (r *Registry) handleConfigUpdate(update nats.KeyValueEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := update.Key()
	value := update.Value()

	if update.Operation() == nats.KeyValueDelete {
		if key == keyPrefixGlobalConfig {
			delete(r.configCache, "global")
		} else if strings.HasPrefix(key, keyPrefixMessageConfig) {
			name := strings.TrimPrefix(key, keyPrefixMessageConfig)
			delete(r.configCache, name)
		}
		return
	}

	if key == keyPrefixGlobalConfig {
		r.configCache["global"] = value
	} else if strings.HasPrefix(key, keyPrefixMessageConfig) {
		name := strings.TrimPrefix(key, keyPrefixMessageConfig)
		r.configCache[name] = value
	}
}

// Register registers a new descriptor version for a message name and
// returns its ID. The document is validated against the descriptor
// meta-schema and checked for coercion-compatibility with the latest
// registered version under the name's compatibility level.
func (r *Registry) Register(name string, doc []byte) (int, error) {
	schema, err := descriptor.Parse(doc)
	if err != nil {
		return 0, fmt.Errorf("parse descriptor: %w", err)
	}

	latestVersion, err := r.getLatestVersion(name)
	if err != nil && err.Error() != "no versions found" {
		return 0, fmt.Errorf("get latest version: %w", err)
	}

	if latestVersion > 0 {
		slog.Debug("Checking compatibility for descriptor", "name", name, "latestVersion", latestVersion)

		level, err := r.GetCompatibilityLevel(name)
		if err != nil {
			return 0, fmt.Errorf("get compatibility level: %w", err)
		}

		latest, err := r.getByVersion(name, latestVersion)
		if err != nil {
			return 0, fmt.Errorf("get latest descriptor: %w", err)
		}

		// Identical document, reuse the existing registration
		if string(latest.Descriptor) == string(doc) {
			return latest.ID, nil
		}

		latestSchema, err := descriptor.Parse(latest.Descriptor)
		if err != nil {
			return 0, fmt.Errorf("parse stored descriptor: %w", err)
		}

		compatible, err := Compatible(latestSchema, schema, level)
		if err != nil || !compatible {
			return 0, fmt.Errorf("incompatible descriptor: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Check if an identical descriptor already exists globally
	keys, err := r.kvEntries.Keys()
	if err != nil && err != nats.ErrNoKeysFound {
		return 0, fmt.Errorf("get descriptor keys: %w", err)
	}

	var existingID int
	for _, key := range keys {
		if !strings.HasPrefix(key, keyPrefixDescriptors) {
			continue
		}

		kvEntry, err := r.kvEntries.Get(key)
		if err != nil {
			continue
		}

		entry, err := decodeEntry(kvEntry.Value())
		if err != nil {
			continue
		}

		if entry.Name == name && string(entry.Descriptor) == string(doc) {
			existingID = entry.ID
			break
		}
	}

	// If the descriptor exists, reuse its ID under a new version
	if existingID > 0 {
		entry := &Entry{
			Name:       name,
			Version:    latestVersion + 1,
			ID:         existingID,
			Descriptor: doc,
		}
		data, err := encodeEntry(entry)
		if err != nil {
			return 0, err
		}

		if _, err := r.kvEntries.Put(
			fmt.Sprintf("%s%s/versions/%d", keyPrefixMessages, name, entry.Version),
			data,
		); err != nil {
			return 0, fmt.Errorf("store descriptor by name/version: %w", err)
		}

		return existingID, nil
	}

	nextID, err := r.getNextID()
	if err != nil {
		return 0, fmt.Errorf("get next descriptor ID: %w", err)
	}

	entry := &Entry{
		Name:       name,
		Version:    latestVersion + 1,
		ID:         nextID,
		Descriptor: doc,
	}
	data, err := encodeEntry(entry)
	if err != nil {
		return 0, err
	}

	if _, err := r.kvEntries.Put(keyPrefixDescriptors+strconv.Itoa(nextID), data); err != nil {
		return 0, fmt.Errorf("store descriptor by ID: %w", err)
	}

	if _, err := r.kvEntries.Put(
		fmt.Sprintf("%s%s/versions/%d", keyPrefixMessages, name, entry.Version),
		data,
	); err != nil {
		return 0, fmt.Errorf("store descriptor by name/version: %w", err)
	}

	return nextID, nil
}

// getNextID gets the next available descriptor ID
func (r *Registry) getNextID() (int, error) {
	keys, err := r.kvEntries.Keys()
	if err != nil && err != nats.ErrNoKeysFound {
		return 0, err
	}

	highestID := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, keyPrefixDescriptors) {
			continue
		}

		id, err := strconv.Atoi(strings.TrimPrefix(key, keyPrefixDescriptors))
		if err != nil {
			continue
		}

		if id > highestID {
			highestID = id
		}
	}

	return highestID + 1, nil
}

// getLatestVersion gets the latest version for a message name
func (r *Registry) getLatestVersion(name string) (int, error) {
	prefix := fmt.Sprintf("%s%s/versions/", keyPrefixMessages, name)
	keys, err := r.kvEntries.Keys()
	if err != nil && err != nats.ErrNoKeysFound {
		return 0, err
	}

	highestVersion := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		version, err := strconv.Atoi(strings.TrimPrefix(key, prefix))
		if err != nil {
			continue
		}

		if version > highestVersion {
			highestVersion = version
		}
	}

	return highestVersion, nil
}

// getByVersion gets a descriptor entry by message name and version
func (r *Registry) getByVersion(name string, version int) (*Entry, error) {
	key := fmt.Sprintf("%s%s/versions/%d", keyPrefixMessages, name, version)
	kvEntry, err := r.kvEntries.Get(key)
	if err != nil {
		return nil, err
	}

	return decodeEntry(kvEntry.Value())
}

// GetByID retrieves a descriptor entry by ID
func (r *Registry) GetByID(id int) (*Entry, error) {
	// Try cache first
	r.mu.RLock()
	cached, ok := r.entryCache[id]
	r.mu.RUnlock()
	if ok {
		cached.mu.RLock()
		entry := cached.entry
		cached.mu.RUnlock()
		return entry, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := keyPrefixDescriptors + strconv.Itoa(id)
	kvEntry, err := r.kvEntries.Get(key)
	if err != nil {
		return nil, fmt.Errorf("descriptor not found: %d", id)
	}

	entry, err := decodeEntry(kvEntry.Value())
	if err != nil {
		return nil, err
	}

	r.entryCache[id] = &cacheEntry{entry: entry}

	return entry, nil
}

// GetByNameVersion retrieves a descriptor entry by message name and
// version, where version is a number or "latest".
func (r *Registry) GetByNameVersion(name string, version string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var versionNum int
	var err error

	if version == "latest" {
		versionNum, err = r.getLatestVersion(name)
		if err != nil {
			return nil, err
		}
		if versionNum == 0 {
			return nil, fmt.Errorf("no versions found")
		}
	} else {
		versionNum, err = strconv.Atoi(version)
		if err != nil {
			return nil, fmt.Errorf("invalid version: %s", version)
		}
	}

	return r.getByVersion(name, versionNum)
}

// Schema parses the descriptor registered under a message name and
// version into its coercion schema.
func (r *Registry) Schema(name string, version string) (*wire.Schema, error) {
	entry, err := r.GetByNameVersion(name, version)
	if err != nil {
		return nil, err
	}
	return descriptor.Parse(entry.Descriptor)
}

// Versions returns all versions for a message name
func (r *Registry) Versions(name string) ([]int, error) {
	// Try cache first
	r.mu.RLock()
	cached, ok := r.nameCache[name]
	versions := make([]int, len(cached))
	copy(versions, cached)
	r.mu.RUnlock()
	if ok {
		return versions, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.versionsLocked(name)
}

// versionsLocked lists versions from the store and refreshes the name
// cache. Callers hold r.mu.
func (r *Registry) versionsLocked(name string) ([]int, error) {
	prefix := fmt.Sprintf("%s%s/versions/", keyPrefixMessages, name)
	keys, err := r.kvEntries.Keys()
	if err != nil && err != nats.ErrNoKeysFound {
		return nil, err
	}

	var versions []int
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		version, err := strconv.Atoi(strings.TrimPrefix(key, prefix))
		if err != nil {
			continue
		}

		versions = append(versions, version)
	}

	if len(versions) == 0 {
		return nil, fmt.Errorf("no versions found")
	}

	sort.Ints(versions)
	r.nameCache[name] = versions

	return versions, nil
}

// GetCompatibilityLevel gets the compatibility level for a message name,
// falling back to the global level and then the default.
func (r *Registry) GetCompatibilityLevel(name string) (Level, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Try cache first
	if level, ok := r.configCache[name]; ok {
		return Level(level), nil
	}

	// First try message-specific config
	if name != "global" {
		entry, err := r.kvConfig.Get(keyPrefixMessageConfig + name)
		if err == nil {
			level := entry.Value()
			r.configCache[name] = level
			return Level(level), nil
		}
	}

	// Fallback to global config
	if level, ok := r.configCache["global"]; ok {
		return Level(level), nil
	}
	entry, err := r.kvConfig.Get(keyPrefixGlobalConfig)
	if err != nil {
		return defaultLevel, nil
	}

	level := entry.Value()
	r.configCache["global"] = level
	return Level(level), nil
}

// SetCompatibilityLevel sets the compatibility level for a message name
func (r *Registry) SetCompatibilityLevel(name string, level Level) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch level {
	case Backward, Forward, Full, None, BackwardTransitive, ForwardTransitive, FullTransitive:
		// Valid
	default:
		return fmt.Errorf("invalid compatibility level: %s", level)
	}

	var key string
	if name == "global" {
		key = keyPrefixGlobalConfig
	} else {
		key = keyPrefixMessageConfig + name
	}

	if _, err := r.kvConfig.Put(key, []byte(level)); err != nil {
		return err
	}

	r.configCache[name] = []byte(level)
	return nil
}

// CheckCompatibility checks a candidate descriptor against the versions
// registered under a message name.
func (r *Registry) CheckCompatibility(name string, doc []byte, level Level) (bool, error) {
	schema, err := descriptor.Parse(doc)
	if err != nil {
		return false, fmt.Errorf("parse descriptor: %w", err)
	}

	versions, err := r.Versions(name)
	if err != nil {
		if err.Error() == "no versions found" {
			// No existing descriptor, so any descriptor is compatible
			return true, nil
		}
		return false, err
	}

	sort.Ints(versions)

	// Transitive levels check against all previous versions
	if level == BackwardTransitive || level == ForwardTransitive || level == FullTransitive {
		for _, version := range versions {
			entry, err := r.getByVersion(name, version)
			if err != nil {
				return false, err
			}

			old, err := descriptor.Parse(entry.Descriptor)
			if err != nil {
				return false, err
			}

			if compatible, reason := Compatible(old, schema, level); !compatible {
				slog.Debug("Descriptor incompatible", "name", name, "version", version, "reason", reason)
				return false, nil
			}
		}
		return true, nil
	}

	// Non-transitive levels only check against the latest version
	entry, err := r.getByVersion(name, versions[len(versions)-1])
	if err != nil {
		return false, err
	}

	old, err := descriptor.Parse(entry.Descriptor)
	if err != nil {
		return false, err
	}

	compatible, reason := Compatible(old, schema, level)
	if !compatible {
		slog.Debug("Descriptor incompatible", "name", name, "reason", reason)
	}
	return compatible, nil
}

// DeleteVersion deletes a specific version of a message descriptor
func (r *Registry) DeleteVersion(name string, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var versionNum int
	var err error

	if version == "latest" {
		versionNum, err = r.getLatestVersion(name)
		if err != nil {
			return err
		}
	} else {
		versionNum, err = strconv.Atoi(version)
		if err != nil {
			return fmt.Errorf("invalid version: %s", version)
		}
	}

	key := fmt.Sprintf("%s%s/versions/%d", keyPrefixMessages, name, versionNum)
	if _, err := r.kvEntries.Get(key); err != nil {
		return fmt.Errorf("version not found")
	}

	if err := r.kvEntries.Delete(key); err != nil {
		return fmt.Errorf("delete version: %w", err)
	}

	return nil
}

// DeleteName deletes all versions registered under a message name
func (r *Registry) DeleteName(name string) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.nameCache[name]
	if !ok {
		var err error
		versions, err = r.versionsLocked(name)
		if err != nil {
			return nil, err
		}
	}

	if len(versions) == 0 {
		return nil, fmt.Errorf("message not found")
	}

	deletedIDs := make([]int, 0, len(versions))
	for _, version := range versions {
		key := fmt.Sprintf("%s%s/versions/%d", keyPrefixMessages, name, version)
		// Look up the ID before deleting
		kvEntry, err := r.kvEntries.Get(key)
		if err == nil {
			if entry, err := decodeEntry(kvEntry.Value()); err == nil {
				deletedIDs = append(deletedIDs, entry.ID)
				idKey := keyPrefixDescriptors + strconv.Itoa(entry.ID)
				if err := r.kvEntries.Delete(idKey); err != nil {
					slog.Debug("DeleteName: failed to delete descriptor by ID", "id", entry.ID, "err", err)
				}
				delete(r.entryCache, entry.ID)
			}
		}
		if err := r.kvEntries.Delete(key); err != nil {
			return nil, fmt.Errorf("delete version %d: %w", version, err)
		}
	}

	delete(r.nameCache, name)
	delete(r.versionCache, name)

	return deletedIDs, nil
}

// Lookup checks whether an identical descriptor is already registered
// under a message name.
func (r *Registry) Lookup(name string, doc []byte) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := descriptor.Parse(doc); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}

	versions, ok := r.nameCache[name]
	if !ok {
		var err error
		versions, err = r.versionsLocked(name)
		if err != nil {
			return nil, err
		}
	}

	for _, version := range versions {
		entry, err := r.getByVersion(name, version)
		if err != nil {
			continue
		}

		if string(entry.Descriptor) == string(doc) {
			return entry, nil
		}
	}

	return nil, fmt.Errorf("descriptor not found")
}
