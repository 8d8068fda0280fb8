package mvcc

import "sync"

// docKey is the Version Index's map key: a document is scoped by
// collection name and document id.
type docKey struct {
	collection string
	docID      string
}

// chain is a document's versions, kept sorted by CreatedByCSN descending
// (newest first) so get_visible_version's scan terminates at the first
// match.
type chain struct {
	versions []*Version
}

// VersionIndex is the in-memory authoritative index of visible document
// versions, keyed by collection and document id (spec §4.2). The internal
// lock guards the per-collection map; critical sections are kept short —
// callers that need to scan a large result set copy version handles out
// before releasing the lock.
type VersionIndex struct {
	mu     sync.RWMutex
	chains map[docKey]*chain
}

// NewVersionIndex constructs an empty Version Index.
func NewVersionIndex() *VersionIndex {
	return &VersionIndex{chains: make(map[docKey]*chain)}
}

// AddVersion records a new live version (Insert or Update) at csn.
// Predecessor versions are retained unmodified per §4.2's documented
// simplification: visibility is decided purely by picking the newest
// version with CreatedByCSN <= snapshot at read time.
func (vi *VersionIndex) AddVersion(collection, docID string, csn CSN, loc Location, createdBy TxID) {
	vi.mu.Lock()
	defer vi.mu.Unlock()

	key := docKey{collection, docID}
	c, ok := vi.chains[key]
	if !ok {
		c = &chain{}
		vi.chains[key] = c
	}
	v := &Version{
		DocID:        docID,
		CreatedByCSN: csn,
		Location:     loc,
		CreatedByTx:  createdBy,
	}
	c.versions = prependDescending(c.versions, v)
}

// MarkDeleted appends a tombstone version at csn.
func (vi *VersionIndex) MarkDeleted(collection, docID string, csn CSN, createdBy TxID) {
	vi.mu.Lock()
	defer vi.mu.Unlock()

	key := docKey{collection, docID}
	c, ok := vi.chains[key]
	if !ok {
		c = &chain{}
		vi.chains[key] = c
	}
	v := &Version{
		DocID:        docID,
		CreatedByCSN: csn,
		IsDeleted:    true,
		CreatedByTx:  createdBy,
	}
	c.versions = prependDescending(c.versions, v)
}

// prependDescending inserts v into versions (sorted by CreatedByCSN
// descending) at the position that keeps the sort order. Commits are
// serialized, so in practice v.CreatedByCSN is always the new maximum and
// this reduces to an append-at-front; the general insert guards against
// out-of-order replay during recovery.
func prependDescending(versions []*Version, v *Version) []*Version {
	i := 0
	for i < len(versions) && versions[i].CreatedByCSN > v.CreatedByCSN {
		i++
	}
	versions = append(versions, nil)
	copy(versions[i+1:], versions[i:])
	versions[i] = v
	return versions
}

// GetVisibleVersion returns the version with the largest CreatedByCSN <=
// snapshotCSN, or nil if none exists or that version is a tombstone.
func (vi *VersionIndex) GetVisibleVersion(collection, docID string, snapshotCSN CSN) *Version {
	vi.mu.RLock()
	defer vi.mu.RUnlock()

	c, ok := vi.chains[docKey{collection, docID}]
	if !ok {
		return nil
	}
	for _, v := range c.versions {
		if v.CreatedByCSN <= snapshotCSN {
			if v.IsDeleted {
				return nil
			}
			return v
		}
	}
	return nil
}

// GetLatestVersion ignores snapshots entirely; used for conflict
// detection at commit time (spec §4.3 step 2).
func (vi *VersionIndex) GetLatestVersion(collection, docID string) *Version {
	vi.mu.RLock()
	defer vi.mu.RUnlock()

	c, ok := vi.chains[docKey{collection, docID}]
	if !ok || len(c.versions) == 0 {
		return nil
	}
	return c.versions[0]
}

// GetAllVisible scans every document in collection and returns the version
// visible at snapshotCSN for each, skipping documents with no visible
// version. Version handles are copied out before the lock is released.
func (vi *VersionIndex) GetAllVisible(collection string, snapshotCSN CSN) []*Version {
	vi.mu.RLock()
	type hit struct {
		docID    string
		versions []*Version
	}
	var hits []hit
	for key, c := range vi.chains {
		if key.collection == collection {
			hits = append(hits, hit{key.docID, append([]*Version(nil), c.versions...)})
		}
	}
	vi.mu.RUnlock()

	var out []*Version
	for _, h := range hits {
		for _, v := range h.versions {
			if v.CreatedByCSN <= snapshotCSN {
				if !v.IsDeleted {
					out = append(out, v)
				}
				break
			}
		}
	}
	return out
}

// GarbageCollect drops versions that cannot be visible to any snapshot at
// or above oldestActiveCSN, per spec §4.2: for each doc, keep the newest
// version with CreatedByCSN < oldestActiveCSN (the floor a snapshot at
// exactly oldestActiveCSN needs) plus everything at or above it; a
// tombstone that is both the live tip and older than the floor drops the
// whole doc entry.
func (vi *VersionIndex) GarbageCollect(oldestActiveCSN CSN) {
	vi.mu.Lock()
	defer vi.mu.Unlock()

	for key, c := range vi.chains {
		keepFloorFound := false
		var kept []*Version
		for _, v := range c.versions {
			if v.CreatedByCSN >= oldestActiveCSN {
				kept = append(kept, v)
				continue
			}
			if !keepFloorFound {
				kept = append(kept, v)
				keepFloorFound = true
			}
			// else: strictly older than the floor version, drop.
		}
		if len(kept) == 1 && kept[0].IsDeleted && kept[0].CreatedByCSN < oldestActiveCSN {
			delete(vi.chains, key)
			continue
		}
		c.versions = kept
	}
}
