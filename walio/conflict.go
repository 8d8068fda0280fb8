package walio

import (
	"fmt"

	"github.com/rthomasv3/galdrdb/storage"
)

// PageConflict is raised during commit when a transaction's base_frame for
// a page no longer matches page_latest_frame: another transaction wrote
// and committed a structural change to the same page (e.g. colliding index
// page splits) between this transaction's first write and its commit.
type PageConflict struct {
	PageID  storage.PageID
	Base    uint64
	Current uint64
}

func (e *PageConflict) Error() string {
	return fmt.Sprintf("page conflict on page %d: base frame %d, current frame %d", e.PageID, e.Base, e.Current)
}
