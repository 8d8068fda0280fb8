package mvcc

import "testing"

func TestBeginCapturesSnapshotAtomically(t *testing.T) {
	tm := NewTxManager()

	tx1, snap1 := tm.Begin()
	if tx1 == 0 {
		t.Fatal("expected non-zero tx id")
	}
	if snap1 != 0 {
		t.Fatalf("expected first snapshot to be csn 0, got %d", snap1)
	}

	csn := tm.NextCommitCSN()
	tm.MarkCommitted(tx1)
	if csn != 1 {
		t.Fatalf("expected first commit csn to be 1, got %d", csn)
	}

	_, snap2 := tm.Begin()
	if snap2 != 1 {
		t.Fatalf("expected second snapshot to observe the first commit, got %d", snap2)
	}
}

func TestCSNMonotonicity(t *testing.T) {
	tm := NewTxManager()
	var last CSN
	for i := 0; i < 50; i++ {
		csn := tm.NextCommitCSN()
		if csn <= last {
			t.Fatalf("CSN not strictly increasing: %d then %d", last, csn)
		}
		last = csn
	}
}

func TestOldestActiveSnapshotCSN(t *testing.T) {
	tm := NewTxManager()
	if tm.OldestActiveSnapshotCSN() != MaxCSN {
		t.Fatal("expected MaxCSN with no active transactions")
	}

	tx1, _ := tm.Begin()
	tm.NextCommitCSN()
	tm.MarkCommitted(tx1)

	tx2, snap2 := tm.Begin()
	tm.NextCommitCSN()
	tm.MarkCommitted(tx2)

	tx3, snap3 := tm.Begin()

	if got := tm.OldestActiveSnapshotCSN(); got != snap3 {
		t.Fatalf("expected oldest active snapshot %d, got %d", snap3, got)
	}
	_ = snap2
	tm.MarkAborted(tx3)
	if tm.OldestActiveSnapshotCSN() != MaxCSN {
		t.Fatal("expected MaxCSN once the only active tx aborts")
	}
}
