// Package docstore implements a minimal reference Index Collaborator (spec
// §6): a hash-indexed, slotted-page primary store that gives transactions
// somewhere to commit document bytes and locations. It is explicitly NOT a
// B-tree — B-tree page formats for primary and secondary indexes are out of
// scope per spec §1 — and exists only to exercise the transactional core
// end to end.
//
// Each document occupies exactly one page (spec §3's Location is
// (page_id, slot_index); this store always uses slot_index 0). A write
// never mutates an existing page in place: insert and update both allocate
// a fresh page, so a Version whose Location still points at an older page
// keeps reading the bytes that were visible at that version's commit,
// which is what MVCC read stability requires. Deletes do not touch page
// storage at all — visibility is entirely the Version Index's concern;
// the tombstone exists only in mvcc.Version.IsDeleted.
package docstore

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/rthomasv3/galdrdb/mvcc"
	"github.com/rthomasv3/galdrdb/storage"
	"github.com/rthomasv3/galdrdb/walio"
)

// PageType marks a page as docstore-owned so ensureRebuilt can distinguish it
// from other page types sharing the same base file.
const PageType byte = storage.PageTypeLeaf

type docKey struct {
	collection string
	docID      string
}

// Store is the reference IndexCollaborator.
type Store struct {
	pager  *storage.Pager
	pageIO *walio.PageIO

	mu        sync.RWMutex
	rebuilt   bool
	primary   map[docKey]mvcc.Location
	secondary map[string]map[string]map[string]map[string]struct{} // collection -> field -> value -> docID set
}

// NewStore constructs a Store over an already-open base pager and WAL page
// I/O. ensureRebuilt (run lazily by the first write, delete, search,
// Collections or BaselineDocs call) must run after any WAL recovery has
// applied its frames, so the page scan observes post-recovery state.
func NewStore(pager *storage.Pager, pageIO *walio.PageIO) *Store {
	return &Store{
		pager:     pager,
		pageIO:    pageIO,
		primary:   make(map[docKey]mvcc.Location),
		secondary: make(map[string]map[string]map[string]map[string]struct{}),
	}
}

// ensureRebuilt scans every allocated page once, reconstructing the
// primary doc_id -> Location directory from whatever documents are
// currently live on disk. The secondary field indexes are in memory only
// and are not rebuilt. Safe to call repeatedly; the scan only happens once.
func (s *Store) ensureRebuilt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rebuilt {
		return
	}
	s.rebuilt = true

	next := s.pager.GetNextPageID()
	for id := storage.PageID(0); id < next; id++ {
		data, err := s.pageIO.ReadPage(nil, id)
		if err != nil {
			continue
		}
		rec, ok := decodePage(data)
		if !ok {
			continue
		}
		key := docKey{rec.collection, rec.docID}
		s.primary[key] = mvcc.Location{PageID: uint64(id)}
	}
}

// CommitInsert materializes a new document page and records its location.
func (s *Store) CommitInsert(ctx *walio.TxContext, collection, docID string, data []byte, indexFields map[string]any) (mvcc.Location, error) {
	return s.write(ctx, collection, docID, data, nil, indexFields)
}

// CommitUpdate materializes a replacement document page (never overwriting
// the predecessor's page) and records the new location.
func (s *Store) CommitUpdate(ctx *walio.TxContext, collection, docID string, data []byte, oldIndexFields, newIndexFields map[string]any) (mvcc.Location, error) {
	s.ensureRebuilt()
	s.mu.Lock()
	for _, byValue := range s.secondary[collection] {
		for _, set := range byValue {
			delete(set, docID)
		}
	}
	s.mu.Unlock()
	return s.write(ctx, collection, docID, data, oldIndexFields, newIndexFields)
}

func (s *Store) write(ctx *walio.TxContext, collection, docID string, data []byte, oldFields, newFields map[string]any) (mvcc.Location, error) {
	s.ensureRebuilt()

	buf, err := encodePage(collection, docID, data)
	if err != nil {
		return mvcc.Location{}, err
	}

	pageID, err := s.pager.AllocatePage()
	if err != nil {
		return mvcc.Location{}, err
	}
	s.pageIO.WritePage(ctx, pageID, PageType, buf)

	loc := mvcc.Location{PageID: uint64(pageID)}

	s.mu.Lock()
	s.primary[docKey{collection, docID}] = loc
	s.updateSecondaryLocked(collection, docID, oldFields, newFields)
	s.mu.Unlock()

	return loc, nil
}

// DropCollection removes every document this store currently tracks for
// collection from its in-memory directories. Pages already written for
// those documents are not reclaimed (spec §1 leaves free-page reclamation
// out of scope), only the lookup entries that make them reachable.
func (s *Store) DropCollection(collection string) {
	s.ensureRebuilt()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.primary {
		if key.collection == collection {
			delete(s.primary, key)
		}
	}
	delete(s.secondary, collection)
}

// CommitDelete removes the document from the primary/secondary directories.
// No page write is needed: visibility of the deletion is entirely the
// Version Index's responsibility (spec §4.2's tombstone), so an empty
// write-set mutation here still produces a valid (page-less) commit frame
// via walio.PageIO.CommitTxn's zero-batch fallback.
func (s *Store) CommitDelete(ctx *walio.TxContext, collection, docID string) error {
	s.ensureRebuilt()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.primary, docKey{collection, docID})
	for _, byValue := range s.secondary[collection] {
		for _, set := range byValue {
			delete(set, docID)
		}
	}
	return nil
}

func (s *Store) updateSecondaryLocked(collection, docID string, oldFields, newFields map[string]any) {
	for field, v := range oldFields {
		s.removeSecondaryLocked(collection, field, v, docID)
	}
	for field, v := range newFields {
		s.addSecondaryLocked(collection, field, v, docID)
	}
}

func (s *Store) addSecondaryLocked(collection, field string, value any, docID string) {
	byField, ok := s.secondary[collection]
	if !ok {
		byField = make(map[string]map[string]map[string]struct{})
		s.secondary[collection] = byField
	}
	byValue, ok := byField[field]
	if !ok {
		byValue = make(map[string]map[string]struct{})
		byField[field] = byValue
	}
	key := fmt.Sprintf("%v", value)
	set, ok := byValue[key]
	if !ok {
		set = make(map[string]struct{})
		byValue[key] = set
	}
	set[docID] = struct{}{}
}

func (s *Store) removeSecondaryLocked(collection, field string, value any, docID string) {
	byField, ok := s.secondary[collection]
	if !ok {
		return
	}
	byValue, ok := byField[field]
	if !ok {
		return
	}
	key := fmt.Sprintf("%v", value)
	if set, ok := byValue[key]; ok {
		delete(set, docID)
	}
}

// ReadDocument resolves a Version's Location to document bytes. Only
// called outside of any transaction's write path (spec §6), so it always
// reads through the committed-or-base path.
func (s *Store) ReadDocument(loc mvcc.Location) ([]byte, error) {
	data, err := s.pageIO.ReadPage(nil, storage.PageID(loc.PageID))
	if err != nil {
		return nil, err
	}
	rec, ok := decodePage(data)
	if !ok {
		return nil, fmt.Errorf("docstore: page %d does not contain a valid document record", loc.PageID)
	}
	return rec.data, nil
}

// SearchDocIDRange returns every known doc id in collection within
// [start, end], honoring the inclusivity flags.
func (s *Store) SearchDocIDRange(collection string, start, end string, includeStart, includeEnd bool) ([]string, error) {
	s.ensureRebuilt()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for key := range s.primary {
		if key.collection != collection {
			continue
		}
		if start != "" {
			if includeStart {
				if key.docID < start {
					continue
				}
			} else if key.docID <= start {
				continue
			}
		}
		if end != "" {
			if includeEnd {
				if key.docID > end {
					continue
				}
			} else if key.docID >= end {
				continue
			}
		}
		ids = append(ids, key.docID)
	}
	sort.Strings(ids)
	return ids, nil
}

// SearchSecondary returns every doc id in collection whose field equals
// value, per this reference store's in-memory (non-persisted) secondary
// index.
func (s *Store) SearchSecondary(collection, field string, value any) ([]string, error) {
	s.ensureRebuilt()
	s.mu.RLock()
	defer s.mu.RUnlock()

	byField, ok := s.secondary[collection]
	if !ok {
		return nil, nil
	}
	byValue, ok := byField[field]
	if !ok {
		return nil, nil
	}
	set, ok := byValue[fmt.Sprintf("%v", value)]
	if !ok {
		return nil, nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Collections returns every collection name this store currently holds at
// least one document for, used by the Recovery Driver's CollectionSource.
func (s *Store) Collections() []string {
	s.ensureRebuilt()
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for key := range s.primary {
		seen[key.collection] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BaselineDocs returns one (doc_id, location) pair per live document in
// collection, used to seed the Version Index with CSN-0 baseline versions
// when no versioned edit log exists (spec §4.6 step 6).
func (s *Store) BaselineDocs(collection string) ([]docKeyedLocation, error) {
	s.ensureRebuilt()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []docKeyedLocation
	for key, loc := range s.primary {
		if key.collection == collection {
			out = append(out, docKeyedLocation{DocID: key.docID, Location: loc})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}

// docKeyedLocation mirrors recovery.BaselineDoc's shape without importing
// the recovery package, so callers adapt the two one-for-one (kept
// separate so docstore has no dependency on recovery).
type docKeyedLocation struct {
	DocID    string
	Location mvcc.Location
}

type pageRecord struct {
	collection string
	docID      string
	data       []byte
}

// encodePage lays out one document record in a page, following the same
// header-then-directory-entry texture as storage/page.go's fixed header
// (here the "directory" collapses to a single entry since every page holds
// exactly one document):
//
//	collection_len(2) | collection | doc_id_len(2) | doc_id | data_len(4) | data
//
// starting right after storage.PageHeaderSize.
func encodePage(collection, docID string, data []byte) ([]byte, error) {
	need := storage.PageHeaderSize + 2 + len(collection) + 2 + len(docID) + 4 + len(data)
	if need > storage.PageSize {
		return nil, fmt.Errorf("docstore: document %s/%s (%d bytes) does not fit in a %d-byte page", collection, docID, len(data), storage.PageSize)
	}

	page := storage.NewPage(0, PageType)
	buf := page.Data[:]
	off := storage.PageHeaderSize

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(collection)))
	off += 2
	copy(buf[off:], collection)
	off += len(collection)

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(docID)))
	off += 2
	copy(buf[off:], docID)
	off += len(docID)

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(data)))
	off += 4
	copy(buf[off:], data)

	return buf, nil
}

func decodePage(buf []byte) (pageRecord, bool) {
	if len(buf) < storage.PageHeaderSize+2 {
		return pageRecord{}, false
	}
	if buf[0] != PageType {
		return pageRecord{}, false
	}
	off := storage.PageHeaderSize

	if off+2 > len(buf) {
		return pageRecord{}, false
	}
	collLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if off+collLen+2 > len(buf) {
		return pageRecord{}, false
	}
	collection := string(buf[off : off+collLen])
	off += collLen

	docLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if off+docLen+4 > len(buf) {
		return pageRecord{}, false
	}
	docID := string(buf[off : off+docLen])
	off += docLen

	dataLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if off+dataLen > len(buf) {
		return pageRecord{}, false
	}
	data := make([]byte, dataLen)
	copy(data, buf[off:off+dataLen])

	return pageRecord{collection: collection, docID: docID, data: data}, true
}
