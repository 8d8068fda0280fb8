package wal

import (
	"os"
	"path/filepath"
	"testing"
)

func openRaw(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR, 0644)
}

const testPageSize = 256

func mustCreate(t *testing.T) (*File, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wal")
	f, err := Create(path, testPageSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return f, path
}

func TestWriteFrameReadBack(t *testing.T) {
	f, _ := mustCreate(t)
	defer f.Close()

	payload := make([]byte, testPageSize)
	copy(payload, []byte("hello page"))

	n, err := f.WriteFrame(1, 7, 1, payload, FlagCommit)
	if err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected frame number 1, got %d", n)
	}

	dst := make([]byte, testPageSize)
	if !f.ReadFrameData(1, dst) {
		t.Fatal("ReadFrameData returned false for a freshly written frame")
	}
	if string(dst[:len("hello page")]) != "hello page" {
		t.Fatalf("payload mismatch: %q", dst[:len("hello page")])
	}
}

func TestWriteFrameBatchCommitFlagOnlyOnLast(t *testing.T) {
	f, _ := mustCreate(t)
	defer f.Close()

	entries := []BatchEntry{
		{TxID: 5, PageID: 1, Payload: []byte("a")},
		{TxID: 5, PageID: 2, Payload: []byte("b")},
		{TxID: 5, PageID: 3, Payload: []byte("c"), Commit: true},
	}
	first, err := f.WriteFrameBatch(entries)
	if err != nil {
		t.Fatalf("WriteFrameBatch: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected first frame number 1, got %d", first)
	}

	for i := uint64(0); i < 3; i++ {
		fr, ok := f.ReadFrame(first + i)
		if !ok {
			t.Fatalf("frame %d missing", first+i)
		}
		wantCommit := i == 2
		if fr.IsCommit() != wantCommit {
			t.Errorf("frame %d commit flag = %v, want %v", first+i, fr.IsCommit(), wantCommit)
		}
	}
}

func TestFrameNumberMonotonic(t *testing.T) {
	f, _ := mustCreate(t)
	defer f.Close()

	var last uint64
	for i := 0; i < 20; i++ {
		n, err := f.WriteFrame(1, PageID(i), 1, []byte("x"), 0)
		if err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		if n <= last {
			t.Fatalf("frame numbers not strictly increasing: %d then %d", last, n)
		}
		last = n
	}
}

func TestTruncateAdvancesSalt(t *testing.T) {
	f, _ := mustCreate(t)
	defer f.Close()

	s1Before, s2Before := f.Salts()
	if _, err := f.WriteFrame(1, 1, 1, []byte("x"), FlagCommit); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	if err := f.Truncate(); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	s1After, s2After := f.Salts()
	if s1After <= s1Before {
		t.Errorf("salt1 did not advance: before=%d after=%d", s1Before, s1After)
	}
	_ = s2Before
	_ = s2After

	if f.NextFrameNumber() != 1 {
		t.Errorf("expected next frame number to reset to 1, got %d", f.NextFrameNumber())
	}

	dst := make([]byte, testPageSize)
	if f.ReadFrameData(1, dst) {
		t.Error("expected pre-truncate frame to be unreadable (foreign salt)")
	}
}

// TestTornTail hand-crafts a WAL with 3 committed single-frame "transactions"
// followed by one frame with a corrupted CRC, then asserts ReadAllFrames
// stops exactly at the corruption (spec §8 scenario 6).
func TestTornTail(t *testing.T) {
	f, path := mustCreate(t)

	for i := 0; i < 3; i++ {
		if _, err := f.WriteFrame(uint64(i+1), PageID(i), 1, []byte("ok"), FlagCommit); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	// Write a 4th frame, then corrupt its on-disk CRC byte directly.
	if _, err := f.WriteFrame(4, 9, 1, []byte("bad"), FlagCommit); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	corruptFrameCRC(t, path, 4)

	reopened, err := Open(path, testPageSize)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	frames, err := reopened.ReadAllFrames()
	if err != nil {
		t.Fatalf("ReadAllFrames: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 surviving frames, got %d", len(frames))
	}
	for i, fr := range frames {
		if fr.FrameNumber != uint64(i+1) {
			t.Errorf("frame %d has unexpected frame number %d", i, fr.FrameNumber)
		}
	}
}

func corruptFrameCRC(t *testing.T, path string, frameNumber uint64) {
	t.Helper()
	f, err := openRaw(path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	defer f.Close()

	offset := int64(HeaderSize) + int64(frameNumber-1)*frameSize(testPageSize) + int64(FrameHeaderSize-1)
	var b [1]byte
	if _, err := f.ReadAt(b[:], offset); err != nil {
		t.Fatalf("read crc byte: %v", err)
	}
	b[0] ^= 0xFF
	if _, err := f.WriteAt(b[:], offset); err != nil {
		t.Fatalf("write crc byte: %v", err)
	}
}
