// Package recovery implements the Recovery Driver (spec §4.6): at open, it
// scans the WAL, discards frames trailing the last commit-flagged frame,
// replays the survivors into WAL Page I/O, and rebuilds the Version Index
// from authoritative collection metadata plus the replayed pages.
package recovery

import (
	"github.com/rthomasv3/galdrdb/mvcc"
	"github.com/rthomasv3/galdrdb/wal"
	"github.com/rthomasv3/galdrdb/walio"
)

// BaselineDoc is one document's location as known from the collection's
// external primary-key index, used to seed the Version Index with a single
// CSN-0 baseline version per document when no versioned edit log exists
// (spec §4.6 step 6: "otherwise the system operates with a single baseline
// version per doc until new transactions commit").
type BaselineDoc struct {
	DocID    string
	Location mvcc.Location
}

// CollectionSource is the external collaborator recovery consults to
// rebuild the Version Index and restore the Transaction Manager's commit
// sequence counter.
type CollectionSource interface {
	Collections() []string
	HighestCSN(collection string) mvcc.CSN
	BaselineDocs(collection string) ([]BaselineDoc, error)
}

// Summary reports what recovery did, for logging.
type Summary struct {
	FramesRead      int
	FramesDiscarded int
	LastCommitFrame uint64
	BaselineDocs    int
}

// Run performs the full recovery sequence against an already-open WAL file.
func Run(walFile *wal.File, pageIO *walio.PageIO, txMgr *mvcc.TxManager, versions *mvcc.VersionIndex, collections CollectionSource) (*Summary, error) {
	frames, err := walFile.ReadAllFrames()
	if err != nil {
		return nil, err
	}

	lastCommit := -1
	for i, f := range frames {
		if f.IsCommit() {
			lastCommit = i
		}
	}

	summary := &Summary{FramesRead: len(frames)}
	var surviving []wal.Frame
	if lastCommit >= 0 {
		surviving = frames[:lastCommit+1]
	}
	summary.FramesDiscarded = len(frames) - len(surviving)
	if len(surviving) > 0 {
		summary.LastCommitFrame = surviving[len(surviving)-1].FrameNumber
	}

	pageIO.ApplyWALFrames(surviving)

	var maxTxID mvcc.TxID
	for _, f := range surviving {
		if mvcc.TxID(f.TxID) > maxTxID {
			maxTxID = mvcc.TxID(f.TxID)
		}
	}
	txMgr.SetLastCommitted(maxTxID)

	var highestCSN mvcc.CSN
	if collections != nil {
		for _, name := range collections.Collections() {
			if csn := collections.HighestCSN(name); csn > highestCSN {
				highestCSN = csn
			}
			docs, err := collections.BaselineDocs(name)
			if err != nil {
				return nil, err
			}
			for _, d := range docs {
				versions.AddVersion(name, d.DocID, 0, d.Location, 0)
				summary.BaselineDocs++
			}
		}
	}
	txMgr.SetCommitSequence(highestCSN)

	return summary, nil
}
