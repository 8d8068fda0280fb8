// Package util holds small sentinel errors shared by the base storage
// layer. Structured, field-carrying error kinds (WriteConflict,
// PageConflict, StateViolation, NotFound, CorruptWal, IoError) live next to
// the packages that raise them (txn, walio, wal) instead of here.
package util

import "errors"

var (
	ErrPageNotFound  = errors.New("page not found")
	ErrPageFull      = errors.New("page is full")
	ErrInvalidPageID = errors.New("invalid page ID")

	ErrDiskReadFailed  = errors.New("disk read failed")
	ErrDiskWriteFailed = errors.New("disk write failed")

	ErrCollectionNotFound = errors.New("collection not found")
	ErrCollectionExists   = errors.New("collection already exists")
)
