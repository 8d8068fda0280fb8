// Package walio implements WAL Page I/O: the decorator over Base Page I/O
// (storage.Pager) described in spec §4.5. It buffers per-transaction
// uncommitted page writes, commits them as a single batched, commit-flagged
// frame group, serves reads from (tx buffer -> committed WAL frame -> base
// file), and checkpoints committed frames back into the base store.
package walio

import (
	"sync"

	"github.com/rthomasv3/galdrdb/storage"
	"github.com/rthomasv3/galdrdb/wal"
)

// TxContext is the explicit per-transaction state threaded through calls,
// replacing the source's thread-local "current transaction id" (Design
// Notes: "ambient per-task state -> explicit context"). It carries the
// observed base_frame for each page this transaction has written, used for
// optimistic page-level conflict detection at commit.
type TxContext struct {
	TxID       uint64
	pageWrites map[storage.PageID]*pageWrite
}

type pageWrite struct {
	frameNum  uint64 // this transaction's buffered frame number for the page
	baseFrame uint64 // page_latest_frame observed at first write to this page
	pageType  byte
}

type bufferedFrame struct {
	pageID   storage.PageID
	pageType byte
	buf      []byte
}

// PageIO is the WAL-backed page store.
type PageIO struct {
	base      *storage.Pager
	walFile   *wal.File
	committer *wal.GroupCommitter
	commitLk  *sync.Mutex // shared commit serialization lock (§5, lock #2)
	bufPool   *bufferPool

	checkpointMu sync.Mutex // try-acquire only (§5, lock #3)

	cacheMu         sync.Mutex // guards the fields below (§5, lock #4)
	walFrames       map[uint64]*bufferedFrame
	pageLatestFrame map[storage.PageID]uint64
	mxFrame         uint64
	nBackfill       uint64
	writeFrameNum   uint64

	baseRW sync.RWMutex // shared readers, exclusive checkpointer (§5, lock #5)
}

// New constructs a WAL Page I/O instance over an already-open base pager
// and WAL file, sharing commitLock with the Transaction Manager / txn
// package so the ordering in spec §5 (tx_manager.lock -> commit_lock ->
// checkpoint_mutex -> cache_lock -> base_rw_lock) holds across packages.
func New(base *storage.Pager, walFile *wal.File, commitLock *sync.Mutex) *PageIO {
	return &PageIO{
		base:            base,
		walFile:         walFile,
		committer:       wal.NewGroupCommitter(walFile),
		commitLk:        commitLock,
		bufPool:         newBufferPool(storage.PageSize),
		walFrames:       make(map[uint64]*bufferedFrame),
		pageLatestFrame: make(map[storage.PageID]uint64),
		writeFrameNum:   walFile.NextFrameNumber(),
	}
}

// BeginTxn opens a new transaction context for page writes.
func (p *PageIO) BeginTxn(txID uint64) *TxContext {
	return &TxContext{TxID: txID, pageWrites: make(map[storage.PageID]*pageWrite)}
}

// ReadPage implements the read path of spec §4.5: read-your-own-writes,
// then the most recent committed-but-not-yet-checkpointed WAL frame, then
// the base file.
func (p *PageIO) ReadPage(ctx *TxContext, pageID storage.PageID) ([]byte, error) {
	if ctx != nil {
		if pw, ok := ctx.pageWrites[pageID]; ok {
			p.cacheMu.Lock()
			bf := p.walFrames[pw.frameNum]
			p.cacheMu.Unlock()
			if bf != nil {
				out := make([]byte, len(bf.buf))
				copy(out, bf.buf)
				return out, nil
			}
		}
	}

	p.cacheMu.Lock()
	frameNum, committed := p.pageLatestFrame[pageID]
	backfill := p.nBackfill
	p.cacheMu.Unlock()

	if committed && frameNum > backfill {
		dst := make([]byte, storage.PageSize)
		if p.walFile.ReadFrameData(frameNum, dst) {
			return dst, nil
		}
	}

	p.baseRW.RLock()
	defer p.baseRW.RUnlock()
	page, err := p.base.ReadPage(pageID)
	if err != nil {
		return nil, err
	}
	return page.Data[:], nil
}

// WritePage buffers a page mutation inside an active transaction. If this
// transaction has already written this page, the previous buffer is
// released back to the pool and the originally observed base_frame is
// preserved.
func (p *PageIO) WritePage(ctx *TxContext, pageID storage.PageID, pageType byte, data []byte) {
	buf := p.bufPool.get()
	copy(buf, data)

	p.cacheMu.Lock()
	p.writeFrameNum++
	newFrameNum := p.writeFrameNum
	p.cacheMu.Unlock()

	p.walFrames_store(newFrameNum, &bufferedFrame{pageID: pageID, pageType: pageType, buf: buf})

	if existing, ok := ctx.pageWrites[pageID]; ok {
		p.cacheMu.Lock()
		old := p.walFrames[existing.frameNum]
		delete(p.walFrames, existing.frameNum)
		p.cacheMu.Unlock()
		if old != nil {
			p.bufPool.put(old.buf)
		}
		existing.frameNum = newFrameNum
		existing.pageType = pageType
		return
	}

	p.cacheMu.Lock()
	baseFrame := p.pageLatestFrame[pageID]
	p.cacheMu.Unlock()

	ctx.pageWrites[pageID] = &pageWrite{frameNum: newFrameNum, baseFrame: baseFrame, pageType: pageType}
}

func (p *PageIO) walFrames_store(frameNum uint64, bf *bufferedFrame) {
	p.cacheMu.Lock()
	p.walFrames[frameNum] = bf
	p.cacheMu.Unlock()
}

// WritePageAutocommit writes a single page outside of any transaction: it
// acquires the commit
// lock, appends one commit-flagged frame, and updates the committed-frame
// index atomically.
func (p *PageIO) WritePageAutocommit(txID uint64, pageID storage.PageID, pageType byte, data []byte) error {
	p.commitLk.Lock()
	defer p.commitLk.Unlock()

	frameNum, err := p.walFile.WriteFrame(txID, wal.PageID(pageID), pageType, data, wal.FlagCommit)
	if err != nil {
		return err
	}
	if err := p.committer.Commit(); err != nil {
		return err
	}

	p.cacheMu.Lock()
	p.pageLatestFrame[pageID] = frameNum
	if frameNum > p.mxFrame {
		p.mxFrame = frameNum
	}
	p.cacheMu.Unlock()
	return nil
}

// CommitTxn implements spec §4.5's commit protocol. The caller must
// already hold the shared commit lock (acquired once for the whole
// Transaction.Commit sequence, per §4.3 step 1).
func (p *PageIO) CommitTxn(ctx *TxContext) error {
	p.cacheMu.Lock()
	for pageID, pw := range ctx.pageWrites {
		if cur := p.pageLatestFrame[pageID]; cur != pw.baseFrame {
			p.cacheMu.Unlock()
			return &PageConflict{PageID: pageID, Base: pw.baseFrame, Current: p.pageLatestFrame[pageID]}
		}
	}
	p.cacheMu.Unlock()

	type ordered struct {
		pageID storage.PageID
		pw     *pageWrite
		buf    []byte
	}
	var batch []ordered
	p.cacheMu.Lock()
	for pageID, pw := range ctx.pageWrites {
		bf := p.walFrames[pw.frameNum]
		batch = append(batch, ordered{pageID: pageID, pw: pw, buf: bf.buf})
	}
	p.cacheMu.Unlock()

	entries := make([]wal.BatchEntry, 0, len(batch))
	if len(batch) == 0 {
		entries = append(entries, wal.BatchEntry{TxID: ctx.TxID, PageID: wal.NoPage, Commit: true})
	} else {
		for i, b := range batch {
			entries = append(entries, wal.BatchEntry{
				TxID:     ctx.TxID,
				PageID:   wal.PageID(b.pageID),
				PageType: b.pw.pageType,
				Payload:  b.buf,
				Commit:   i == len(batch)-1,
			})
		}
	}

	walStart, err := p.walFile.WriteFrameBatch(entries)
	if err != nil {
		return err
	}
	if err := p.committer.Commit(); err != nil {
		return err
	}

	p.cacheMu.Lock()
	for i, b := range batch {
		frameNum := walStart + uint64(i)
		p.pageLatestFrame[b.pageID] = frameNum
		if frameNum > p.mxFrame {
			p.mxFrame = frameNum
		}
		delete(p.walFrames, b.pw.frameNum)
	}
	p.cacheMu.Unlock()

	for _, b := range batch {
		p.bufPool.put(b.buf)
	}
	ctx.pageWrites = make(map[storage.PageID]*pageWrite)
	return nil
}

// AbortTxn discards a transaction's buffered frames and returns their
// buffers to the pool, leaving the shared counters untouched.
func (p *PageIO) AbortTxn(ctx *TxContext) {
	p.cacheMu.Lock()
	var released []*bufferedFrame
	for _, pw := range ctx.pageWrites {
		if bf, ok := p.walFrames[pw.frameNum]; ok {
			released = append(released, bf)
			delete(p.walFrames, pw.frameNum)
		}
	}
	p.cacheMu.Unlock()

	for _, bf := range released {
		p.bufPool.put(bf.buf)
	}
	ctx.pageWrites = make(map[storage.PageID]*pageWrite)
}

// Checkpoint try-acquires the checkpoint mutex (failing fast rather than
// blocking readers or writers) and backfills committed-but-not-yet-written
// frames into the base store, per spec §4.5.
func (p *PageIO) Checkpoint() error {
	if !p.checkpointMu.TryLock() {
		return nil
	}
	defer p.checkpointMu.Unlock()

	p.cacheMu.Lock()
	mx, backfill := p.mxFrame, p.nBackfill
	if mx <= backfill {
		p.cacheMu.Unlock()
		return nil
	}
	type pair struct {
		pageID storage.PageID
		frame  uint64
	}
	var pairs []pair
	for pageID, frame := range p.pageLatestFrame {
		if frame > backfill && frame <= mx {
			pairs = append(pairs, pair{pageID, frame})
		}
	}
	p.cacheMu.Unlock()

	p.baseRW.Lock()
	for _, pr := range pairs {
		dst := make([]byte, storage.PageSize)
		if !p.walFile.ReadFrameData(pr.frame, dst) {
			continue
		}
		if pr.pageID >= p.base.GetNextPageID() {
			if err := p.base.SetLength(pr.pageID + 1); err != nil {
				p.baseRW.Unlock()
				return err
			}
		}
		page := &storage.Page{ID: pr.pageID}
		copy(page.Data[:], dst)
		if err := p.base.WritePage(page); err != nil {
			p.baseRW.Unlock()
			return err
		}
	}
	if err := p.base.Sync(); err != nil {
		p.baseRW.Unlock()
		return err
	}
	p.baseRW.Unlock()

	p.cacheMu.Lock()
	p.nBackfill = mx
	for _, pr := range pairs {
		if p.pageLatestFrame[pr.pageID] == pr.frame {
			delete(p.pageLatestFrame, pr.pageID)
		}
	}
	p.cacheMu.Unlock()
	return nil
}

// NeedsTruncate reports whether the WAL has been fully checkpointed with no
// uncommitted frames outstanding. BeginTxn does not truncate the WAL;
// Engine.Checkpoint calls TruncateWAL when this reports true.
func (p *PageIO) NeedsTruncate() bool {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	return p.mxFrame == p.nBackfill && len(p.walFrames) == 0 && p.mxFrame > 0
}

// TruncateWAL resets the WAL and the committed-frame index together.
func (p *PageIO) TruncateWAL() error {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	if err := p.walFile.Truncate(); err != nil {
		return err
	}
	p.mxFrame = 0
	p.nBackfill = 0
	p.writeFrameNum = p.walFile.NextFrameNumber()
	p.pageLatestFrame = make(map[storage.PageID]uint64)
	return nil
}

// ApplyWALFrames is the recovery hook (spec §4.5): given the frames
// returned by WAL File.ReadAllFrames, rebuild page_latest_frame and the
// frame-number counters, implicitly discarding any frames after the last
// commit-flagged frame (they belong to a transaction that never finished
// committing before the crash).
func (p *PageIO) ApplyWALFrames(frames []wal.Frame) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()

	var lastCommitFrame uint64
	for _, f := range frames {
		if f.IsCommit() {
			lastCommitFrame = f.FrameNumber
		}
	}
	for _, f := range frames {
		if f.PageID != wal.NoPage && f.FrameNumber <= lastCommitFrame {
			p.pageLatestFrame[storage.PageID(f.PageID)] = f.FrameNumber
		}
	}
	p.mxFrame = lastCommitFrame
	p.writeFrameNum = lastCommitFrame
	p.nBackfill = 0
}

// BufferedFrameCount reports the number of currently buffered
// (uncommitted) frames — used by tests asserting the buffer-accounting
// invariant (spec §8): at quiescence this must be zero.
func (p *PageIO) BufferedFrameCount() int {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	return len(p.walFrames)
}

// Close stops the background group committer.
func (p *PageIO) Close() {
	p.committer.Stop()
}
