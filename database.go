// Package galdrdb implements an embedded document database built around
// MVCC snapshot isolation and a page-granular write-ahead log: Engine wires
// together the Base Page I/O (storage.Pager), the WAL (wal.File), WAL Page
// I/O (walio.PageIO), the Version Index and Transaction Manager (mvcc), the
// reference Index Collaborator (docstore.Store), and the Recovery Driver
// (recovery.Run), and is the single entry point embedders use to open
// collections and begin transactions.
package galdrdb

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/rthomasv3/galdrdb/codec"
	"github.com/rthomasv3/galdrdb/docstore"
	"github.com/rthomasv3/galdrdb/internal/logging"
	"github.com/rthomasv3/galdrdb/mvcc"
	"github.com/rthomasv3/galdrdb/recovery"
	"github.com/rthomasv3/galdrdb/storage"
	"github.com/rthomasv3/galdrdb/txn"
	"github.com/rthomasv3/galdrdb/wal"
	"github.com/rthomasv3/galdrdb/walio"
)

const (
	dataFileName = "data.db"
	walFileName  = "wal.log"
	metaFileName = "collections.json"
)

// Engine is an open database instance.
type Engine struct {
	id   string
	path string
	log  *logging.Logger

	pager    *storage.Pager
	walFile  *wal.File
	pageIO   *walio.PageIO
	versions *mvcc.VersionIndex
	txMgr    *mvcc.TxManager
	store    *docstore.Store
	meta     *metadataStore
	txns     *txn.Manager

	scheduler *checkpointScheduler

	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if necessary) a database at opts.Path, running
// recovery before returning. opts must be non-nil with Path set; Open
// returns an error otherwise.
func Open(opts *Options) (*Engine, error) {
	if opts == nil {
		return nil, fmt.Errorf("galdrdb: options cannot be nil")
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("galdrdb: options.Path cannot be empty")
	}

	if err := os.MkdirAll(opts.Path, 0755); err != nil {
		return nil, fmt.Errorf("galdrdb: create database directory: %w", err)
	}

	log := logging.New(logging.Config{Level: opts.LogLevel, Format: opts.LogFormat})
	instanceID := uuid.NewString()

	dataPath := filepath.Join(opts.Path, dataFileName)
	pager, err := storage.NewPager(dataPath)
	if err != nil {
		return nil, fmt.Errorf("galdrdb: open pager: %w", err)
	}

	walPath := filepath.Join(opts.Path, walFileName)
	walFile, err := openOrCreateWAL(walPath)
	if err != nil {
		pager.Close()
		return nil, fmt.Errorf("galdrdb: open wal: %w", err)
	}

	var commitLock sync.Mutex
	pageIO := walio.New(pager, walFile, &commitLock)

	versions := mvcc.NewVersionIndex()
	txMgr := mvcc.NewTxManager()
	store := docstore.NewStore(pager, pageIO)

	metaPath := filepath.Join(opts.Path, metaFileName)
	meta, err := newMetadataStore(metaPath)
	if err != nil {
		pageIO.Close()
		walFile.Close()
		pager.Close()
		return nil, fmt.Errorf("galdrdb: load collection metadata: %w", err)
	}

	source := &engineCollectionSource{meta: meta, store: store}
	summary, err := recovery.Run(walFile, pageIO, txMgr, versions, source)
	if err != nil {
		pageIO.Close()
		walFile.Close()
		pager.Close()
		return nil, fmt.Errorf("galdrdb: recovery: %w", err)
	}
	log.Info("recovery complete",
		"instance", instanceID,
		"frames_read", summary.FramesRead,
		"frames_discarded", summary.FramesDiscarded,
		"baseline_docs", summary.BaselineDocs,
	)

	ids := &idAllocator{meta: meta}
	txns := txn.NewManager(txMgr, versions, pageIO, store, ids, &commitLock)

	e := &Engine{
		id:         instanceID,
		path:       opts.Path,
		log:        log,
		pager:      pager,
		walFile:    walFile,
		pageIO:     pageIO,
		versions:   versions,
		txMgr:      txMgr,
		store:      store,
		meta:       meta,
		txns:       txns,
	}

	if opts.CheckpointInterval > 0 {
		sched, err := newCheckpointScheduler(e, opts.CheckpointInterval)
		if err != nil {
			log.Warn("background checkpoint scheduler disabled", "error", err)
		} else {
			e.scheduler = sched
			sched.start()
		}
	}

	return e, nil
}

func openOrCreateWAL(path string) (*wal.File, error) {
	if _, err := os.Stat(path); err == nil {
		return wal.Open(path, storage.PageSize)
	}
	return wal.Create(path, storage.PageSize)
}

// ID returns this open instance's unique identifier, useful for log
// correlation when more than one Engine runs in the same process.
func (e *Engine) ID() string { return e.id }

// CreateCollection registers a new, empty collection named name. schemaJSON
// may be empty to leave the collection schemaless.
func (e *Engine) CreateCollection(name string, schemaJSON string) (*Collection, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("galdrdb: engine closed")
	}

	if _, err := e.meta.create(name); err != nil {
		return nil, err
	}

	var validator *codec.SchemaValidator
	if schemaJSON != "" {
		var err error
		validator, err = codec.NewSchemaValidator(schemaJSON)
		if err != nil {
			_ = e.meta.drop(name)
			return nil, err
		}
		if err := e.meta.setSchema(name, schemaJSON); err != nil {
			_ = e.meta.drop(name)
			return nil, err
		}
	}

	return e.newCollection(name, validator), nil
}

// GetCollection returns a handle to an already-registered collection.
func (e *Engine) GetCollection(name string) (*Collection, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("galdrdb: engine closed")
	}

	entry, ok := e.meta.get(name)
	if !ok {
		return nil, fmt.Errorf("galdrdb: unknown collection %q", name)
	}

	var validator *codec.SchemaValidator
	if entry.Schema != "" {
		var err error
		validator, err = codec.NewSchemaValidator(entry.Schema)
		if err != nil {
			return nil, err
		}
	}
	return e.newCollection(name, validator), nil
}

// DropCollection removes name from the metadata registry. Pages already
// written for its documents are left in place; they become unreachable
// once the Version Index is rebuilt on the next Open and are reclaimed the
// way any other orphaned page would be, which this engine does not yet
// implement (spec §1's primary-index page format is explicitly out of
// scope, and with it, free-page reclamation).
func (e *Engine) DropCollection(name string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("galdrdb: engine closed")
	}
	if _, ok := e.meta.get(name); !ok {
		return fmt.Errorf("galdrdb: unknown collection %q", name)
	}
	if err := e.meta.drop(name); err != nil {
		return err
	}
	e.store.DropCollection(name)
	return nil
}

// ListCollections returns every registered collection name.
func (e *Engine) ListCollections() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.meta.list()
}

// BeginTxn starts a new transaction against the Transaction Manager's
// current commit sequence. Callers driving multi-collection transactions directly
// (rather than through Collection's single-operation convenience methods)
// should call RecordCommit after a successful Commit so each touched
// collection's persisted highest-CSN watermark stays current.
func (e *Engine) BeginTxn(readOnly bool) *txn.Transaction {
	return e.txns.Begin(readOnly)
}

// RecordCommit persists tx's commit CSN as the highest-CSN watermark for
// every collection tx's write set touched. Safe to call on an already-
// committed, read-only, or aborted transaction: it is a no-op unless
// CommitCSN is nonzero.
func (e *Engine) RecordCommit(tx *txn.Transaction) {
	if tx.CommitCSN() == 0 {
		return
	}
	for _, name := range tx.Collections() {
		e.meta.setHighestCSN(name, tx.CommitCSN())
	}
}

// Checkpoint runs one checkpoint/GC pass immediately, outside of the
// background scheduler's cadence. Exposed for callers that want to flush
// before a controlled shutdown.
func (e *Engine) Checkpoint() error {
	if err := e.pageIO.Checkpoint(); err != nil {
		return err
	}
	e.versions.GarbageCollect(e.txMgr.OldestActiveSnapshotCSN())
	if e.pageIO.NeedsTruncate() {
		if err := e.pageIO.TruncateWAL(); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the background scheduler, flushes the base store, and
// releases the pager and WAL file.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	if e.scheduler != nil {
		e.scheduler.stop()
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(e.Checkpoint())
	e.pageIO.Close()
	record(e.walFile.Sync())
	record(e.walFile.Close())
	record(e.pager.Close())

	return firstErr
}

// engineCollectionSource adapts metadataStore and docstore.Store to
// recovery.CollectionSource.
type engineCollectionSource struct {
	meta  *metadataStore
	store *docstore.Store
}

func (s *engineCollectionSource) Collections() []string {
	names := s.meta.list()
	if len(names) > 0 {
		return names
	}
	// Metadata may not have been persisted yet on a brand-new database
	// directory that still somehow has documents on disk (e.g. the
	// metadata file was lost); fall back to whatever docstore observes.
	return s.store.Collections()
}

func (s *engineCollectionSource) HighestCSN(collection string) mvcc.CSN {
	entry, ok := s.meta.get(collection)
	if !ok {
		return 0
	}
	return entry.HighestCSN
}

func (s *engineCollectionSource) BaselineDocs(collection string) ([]recovery.BaselineDoc, error) {
	docs, err := s.store.BaselineDocs(collection)
	if err != nil {
		return nil, err
	}
	out := make([]recovery.BaselineDoc, len(docs))
	for i, d := range docs {
		out[i] = recovery.BaselineDoc{DocID: d.DocID, Location: d.Location}
	}
	return out, nil
}

// idAllocator adapts metadataStore to txn.NextIDSource.
type idAllocator struct {
	meta *metadataStore
}

func (a *idAllocator) NextDocID(collection string) string {
	id, err := a.meta.allocateNextID(collection)
	if err != nil {
		// NextIDSource has no error return (spec §4.3 treats id allocation
		// as total); an unknown collection here means a Transaction was
		// handed a collection name that was never registered, which is a
		// caller bug, not a runtime condition worth a partial id.
		return ""
	}
	return strconv.FormatUint(id, 10)
}

// checkpointScheduler runs Engine.Checkpoint on a fixed cadence in the
// background (spec §5.1), adapted from the teacher pack's ants-backed
// scheduler pattern: one task submitted to a one-worker ants pool loops on
// a ticker instead of running as a raw goroutine, so the pool's panic
// handler and lifecycle accounting cover it like any other submitted task.
type checkpointScheduler struct {
	engine   *Engine
	interval time.Duration
	pool     *ants.Pool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newCheckpointScheduler(e *Engine, interval time.Duration) (*checkpointScheduler, error) {
	pool, err := ants.NewPool(1, ants.WithPanicHandler(func(v any) {
		e.log.Error("checkpoint scheduler worker panic", "panic", fmt.Sprintf("%v", v))
	}))
	if err != nil {
		return nil, err
	}
	return &checkpointScheduler{
		engine:   e,
		interval: interval,
		pool:     pool,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

func (s *checkpointScheduler) start() {
	_ = s.pool.Submit(s.run)
}

func (s *checkpointScheduler) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.engine.Checkpoint(); err != nil {
				s.engine.log.Warn("background checkpoint failed", "error", err)
			}
		}
	}
}

func (s *checkpointScheduler) stop() {
	close(s.stopCh)
	<-s.doneCh
	s.pool.Release()
}
