// Package storage implements the Base Page I/O component: fixed-size page
// read/write against an underlying data file, with no awareness of
// transactions, the WAL, or MVCC.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rthomasv3/galdrdb/internal/util"
)

// Pager manages disk I/O for fixed-size pages against a single data file.
type Pager struct {
	file       *os.File
	mu         sync.RWMutex
	nextPageID PageID
}

// NewPager opens (creating if necessary) the data file at filename.
func NewPager(filename string) (*Pager, error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", util.ErrDiskReadFailed, err)
	}

	nextPageID := PageID(info.Size() / PageSize)

	return &Pager{
		file:       file,
		nextPageID: nextPageID,
	}, nil
}

// AllocatePage reserves a new PageID and extends the file size.
func (p *Pager) AllocatePage() (PageID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pageID := p.nextPageID
	p.nextPageID++

	newSize := int64(p.nextPageID) * PageSize
	if err := p.file.Truncate(newSize); err != nil {
		return 0, fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}

	return pageID, nil
}

// ReadPage reads the page data from disk into memory.
func (p *Pager) ReadPage(pageID PageID) (*Page, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if pageID >= p.nextPageID {
		return nil, util.ErrInvalidPageID
	}

	page := &Page{ID: pageID}
	offset := int64(pageID) * PageSize

	n, err := p.file.ReadAt(page.Data[:], offset)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("%w: %v", util.ErrDiskReadFailed, err)
	}

	return page, nil
}

// WritePage writes a page to disk.
func (p *Pager) WritePage(page *Page) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if page.ID >= p.nextPageID {
		return util.ErrInvalidPageID
	}

	offset := int64(page.ID) * PageSize
	if _, err := p.file.WriteAt(page.Data[:], offset); err != nil {
		return fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}

	page.mu.Lock()
	page.IsDirty = false
	page.mu.Unlock()

	return nil
}

// SetLength truncates or extends the data file to exactly n pages.
func (p *Pager) SetLength(n PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.file.Truncate(int64(n) * PageSize); err != nil {
		return fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}
	p.nextPageID = n
	return nil
}

// Sync flushes all pending writes to disk.
func (p *Pager) Sync() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}
	return nil
}

// Close closes the pager.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file != nil {
		if err := p.file.Sync(); err != nil {
			return fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
		}
		return p.file.Close()
	}
	return nil
}

// GetNextPageID returns the next available page ID.
func (p *Pager) GetNextPageID() PageID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nextPageID
}
