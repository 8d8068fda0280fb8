package wal

import (
	"sync"
	"sync/atomic"
	"time"
)

// GroupCommitter batches concurrent fsync requests against a single *File
// into one Sync call, the way internal/wal/group_commit.go batches
// SharedFlusher requests across connections. It is scoped to a single
// *File (one per open Engine) rather than a package-level singleton: an
// embeddable library may have several engines open in one process, each
// with its own WAL that must not be fsynced on another engine's schedule.
type GroupCommitter struct {
	file         *File
	requests     chan *commitRequest
	batchSize    int
	batchTimeout time.Duration
	stopped      atomic.Bool
	stopChan     chan struct{}
	wg           sync.WaitGroup
}

type commitRequest struct {
	response chan error
}

// NewGroupCommitter starts the batching goroutine for file.
func NewGroupCommitter(file *File) *GroupCommitter {
	gc := &GroupCommitter{
		file:         file,
		requests:     make(chan *commitRequest, 1000),
		batchSize:    100,
		batchTimeout: 10 * time.Millisecond,
		stopChan:     make(chan struct{}),
	}
	gc.wg.Add(1)
	go gc.run()
	return gc
}

// Commit submits an fsync request and blocks until some batch containing it
// has been flushed.
func (gc *GroupCommitter) Commit() error {
	if gc.stopped.Load() {
		return &IoError{Cause: errCommitterStopped}
	}
	req := &commitRequest{response: make(chan error, 1)}
	select {
	case gc.requests <- req:
	case <-gc.stopChan:
		return &IoError{Cause: errCommitterStopped}
	}
	return <-req.response
}

func (gc *GroupCommitter) run() {
	defer gc.wg.Done()

	var batch []*commitRequest
	timer := time.NewTimer(gc.batchTimeout)
	defer timer.Stop()

	flush := func() {
		err := gc.file.Sync()
		for _, req := range batch {
			req.response <- err
		}
		batch = nil
	}

	for {
		select {
		case req := <-gc.requests:
			batch = append(batch, req)
			if len(batch) >= gc.batchSize || len(gc.requests) == 0 {
				flush()
				timer.Reset(gc.batchTimeout)
			}
		case <-timer.C:
			if len(batch) > 0 {
				flush()
			}
			timer.Reset(gc.batchTimeout)
		case <-gc.stopChan:
			if len(batch) > 0 {
				flush()
			}
			return
		}
	}
}

// Stop drains any in-flight batch and halts the background goroutine.
func (gc *GroupCommitter) Stop() {
	if gc.stopped.Swap(true) {
		return
	}
	close(gc.stopChan)
	gc.wg.Wait()
}

type committerStoppedError struct{}

func (committerStoppedError) Error() string { return "group committer stopped" }

var errCommitterStopped = committerStoppedError{}
