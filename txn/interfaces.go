package txn

import (
	"github.com/rthomasv3/galdrdb/mvcc"
	"github.com/rthomasv3/galdrdb/walio"
)

// IndexCollaborator is the external collaborator described in spec §6: it
// owns the on-page document format and primary/secondary indexing, and is
// the only thing that ever calls wal_page_io.write_page. The transactional
// core never looks inside a page.
type IndexCollaborator interface {
	CommitInsert(ctx *walio.TxContext, collection, docID string, data []byte, indexFields map[string]any) (mvcc.Location, error)
	CommitUpdate(ctx *walio.TxContext, collection, docID string, data []byte, oldIndexFields, newIndexFields map[string]any) (mvcc.Location, error)
	CommitDelete(ctx *walio.TxContext, collection, docID string) error

	// ReadDocument resolves a Version's Location to document bytes. Called
	// outside of any transaction's write path (ordinary reads only touch
	// committed locations, which never require wal_page_io write access).
	ReadDocument(loc mvcc.Location) ([]byte, error)

	SearchDocIDRange(collection string, start, end string, includeStart, includeEnd bool) ([]string, error)
	SearchSecondary(collection, field string, value any) ([]string, error)
}

// NextIDSource allocates document ids for a collection when Insert is
// called without one, seeded from the collection's persisted next_id
// counter (spec §4.3: "assign next id using a per-transaction ID counter
// seeded from collection's next_id").
type NextIDSource interface {
	NextDocID(collection string) string
}

// Predicate filters documents during Query; it is the "external predicate
// interface" spec §4.3 overlays the Version Index's visible set with.
type Predicate func(docID string, data []byte) bool
