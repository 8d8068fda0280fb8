package galdrdb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rthomasv3/galdrdb/mvcc"
)

// CollectionEntry is the small per-collection metadata region described by
// spec §6: "(root_page, next_id, document_count, highest_csn)". RootPage is
// carried for wire fidelity with the spec's data model even though
// docstore's page-per-document layout has no single collection root to
// record; it is reserved for a future primary-index collaborator.
type CollectionEntry struct {
	Name          string    `json:"name"`
	RootPage      uint64    `json:"root_page"`
	NextID        uint64    `json:"next_id"`
	DocumentCount uint64    `json:"document_count"`
	HighestCSN    mvcc.CSN  `json:"highest_csn"`
	Schema        string    `json:"schema,omitempty"`
}

// metadataStore is a small JSON-file-backed registry of collection
// metadata (spec §6 EXPANDED), adapted from the teacher's MetadataManager:
// kept as a sidecar file next to the base data file rather than pages
// inside it, since the base file's page format is the out-of-scope
// B-tree/document-store concern, not the transactional core's.
type metadataStore struct {
	path string
	mu   sync.Mutex
	data map[string]*CollectionEntry
}

func newMetadataStore(path string) (*metadataStore, error) {
	m := &metadataStore{path: path, data: make(map[string]*CollectionEntry)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metadata: read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m.data); err != nil {
		return nil, fmt.Errorf("metadata: parse %s: %w", path, err)
	}
	return m, nil
}

func (m *metadataStore) saveLocked() error {
	raw, err := json.MarshalIndent(m.data, "", "  ")
	if err != nil {
		return fmt.Errorf("metadata: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("metadata: mkdir: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("metadata: write %s: %w", tmp, err)
	}
	return os.Rename(tmp, m.path)
}

func (m *metadataStore) list() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.data))
	for name := range m.data {
		names = append(names, name)
	}
	return names
}

func (m *metadataStore) get(name string) (*CollectionEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[name]
	return e, ok
}

func (m *metadataStore) create(name string) (*CollectionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[name]; exists {
		return nil, fmt.Errorf("metadata: collection %q already exists", name)
	}
	entry := &CollectionEntry{Name: name}
	m.data[name] = entry
	if err := m.saveLocked(); err != nil {
		delete(m.data, name)
		return nil, err
	}
	return entry, nil
}

func (m *metadataStore) drop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, name)
	return m.saveLocked()
}

// allocateNextID returns the next document id for name and persists the
// advanced counter, seeding Transaction.Insert's per-transaction id
// counter (spec §4.3).
func (m *metadataStore) allocateNextID(name string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.data[name]
	if !ok {
		return 0, fmt.Errorf("metadata: unknown collection %q", name)
	}
	entry.NextID++
	id := entry.NextID
	if err := m.saveLocked(); err != nil {
		entry.NextID--
		return 0, err
	}
	return id, nil
}

func (m *metadataStore) setHighestCSN(name string, csn mvcc.CSN) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.data[name]
	if !ok || csn <= entry.HighestCSN {
		return
	}
	entry.HighestCSN = csn
	_ = m.saveLocked()
}

func (m *metadataStore) setSchema(name, schemaJSON string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.data[name]
	if !ok {
		return fmt.Errorf("metadata: unknown collection %q", name)
	}
	entry.Schema = schemaJSON
	return m.saveLocked()
}
