package seqnum

import (
	"testing"

	"github.com/fosonet/fosonet/pkg/ferrors"
)

func TestBitfieldInsertAndContains(t *testing.T) {
	bf := NewBitfield(32)

	seqs := []SeqNum{10, 11, 13, 14}
	for _, s := range seqs {
		if err := bf.Insert(s); err != nil {
			t.Fatalf("Insert(%d) unexpected error: %v", s, err)
		}
	}

	for _, s := range seqs {
		if !bf.Contains(s) {
			t.Errorf("Contains(%d) = false, want true", s)
		}
	}
	if bf.Contains(12) {
		t.Error("Contains(12) = true, want false (never inserted)")
	}
}

func TestBitfieldDuplicate(t *testing.T) {
	bf := NewBitfield(32)
	if err := bf.Insert(5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := bf.Insert(5); !ferrors.IsDuplicate(err) {
		t.Errorf("expected duplicate error, got %v", err)
	}
}

func TestBitfieldOlderWithinWindow(t *testing.T) {
	bf := NewBitfield(32)
	bf.Insert(100)
	if err := bf.Insert(95); err != nil {
		t.Fatalf("unexpected error inserting older-but-in-window seq: %v", err)
	}
	if !bf.Contains(95) {
		t.Error("expected 95 to be recorded")
	}
}

func TestBitfieldTooOld(t *testing.T) {
	bf := NewBitfield(32)
	bf.Insert(1000)
	if err := bf.Insert(900); err != ferrors.ErrTooOld {
		t.Errorf("expected ErrTooOld, got %v", err)
	}
}

func TestBitfieldAdvanceShiftsWindow(t *testing.T) {
	bf := NewBitfield(64)
	bf.Insert(1)
	bf.Insert(2)
	bf.Insert(3)

	// advance far enough that seq 1 falls outside the 64-bit window
	bf.Insert(SeqNum(3 + 70))

	if bf.Contains(1) {
		t.Error("seq 1 should have fallen out of the window")
	}
	if !bf.Contains(SeqNum(3 + 70)) {
		t.Error("the newly inserted head should be recorded")
	}
}

func TestMessageBitfieldWidth256(t *testing.T) {
	bf := NewBitfield(256)
	for i := 0; i < 300; i++ {
		if err := bf.Insert(SeqNum(i + 1)); err != nil {
			t.Fatalf("unexpected error at i=%d: %v", i, err)
		}
	}
	if err := bf.Insert(SeqNum(300)); !ferrors.IsDuplicate(err) {
		t.Errorf("expected duplicate for re-insert of most recent seq, got %v", err)
	}
}

func TestAckedWalksWindow(t *testing.T) {
	var got []SeqNum
	Acked(SeqNum(100), 0b101, func(s SeqNum) { got = append(got, s) })
	want := []SeqNum{100, 99, 97}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], want[i])
		}
	}
}
