package walio

import "sync"

// bufferPool rents page-sized byte buffers, the way storage/pool.go rents
// bytes.Buffers for document (de)serialization — generalized here to fixed
// page-sized slices so WAL Page I/O's buffered writes never allocate on
// the hot path. Ownership transfers into wal_frames on a buffered write and
// returns to the pool on abort or commit-drain (spec §5's resource policy);
// a buffer must be released exactly once.
type bufferPool struct {
	pageSize int
	pool     sync.Pool
}

func newBufferPool(pageSize int) *bufferPool {
	bp := &bufferPool{pageSize: pageSize}
	bp.pool.New = func() any {
		return make([]byte, pageSize)
	}
	return bp
}

func (bp *bufferPool) get() []byte {
	return bp.pool.Get().([]byte)
}

func (bp *bufferPool) put(buf []byte) {
	if len(buf) != bp.pageSize {
		return
	}
	bp.pool.Put(buf) //nolint:staticcheck // fixed-size slice reuse, not a pointer-likeness issue
}
