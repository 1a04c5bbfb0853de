package seqnum

import "testing"

func TestAddSkipsZero(t *testing.T) {
	s := Add(65535, 1)
	if s == 0 {
		t.Errorf("Add wrapped onto reserved zero value")
	}
	if s != 1 {
		t.Errorf("Expected wrap to 1, got %d", s)
	}
}

func TestAddRoundTrip(t *testing.T) {
	a := SeqNum(1000)
	b := Add(a, 500)
	if Diff(b, a) != 500 {
		t.Errorf("Expected diff 500, got %d", Diff(b, a))
	}
}

func TestDiffSignCorrection(t *testing.T) {
	a := SeqNum(10)
	b := SeqNum(65530)
	d := Diff(a, b)
	// 65530 -> 65531..65535 is 5 steps, then the ring skips the
	// reserved 0 and continues 1..10, ten more steps: 15 total.
	if d != 15 {
		t.Errorf("Expected wrap-corrected diff 15, got %d", d)
	}
	if !NewerThan(a, b) {
		t.Errorf("Expected %d to be newer_than %d", a, b)
	}
}

func TestNewerOlderThan(t *testing.T) {
	if !NewerThan(SeqNum(200), SeqNum(100)) {
		t.Error("200 should be newer than 100")
	}
	if !OlderThan(SeqNum(100), SeqNum(200)) {
		t.Error("100 should be older than 200")
	}
}

func TestNext(t *testing.T) {
	if Next(SeqNum(5)) != 6 {
		t.Errorf("Expected 6, got %d", Next(SeqNum(5)))
	}
	if Next(SeqNum(65535)) == 0 {
		t.Error("Next should never produce the reserved zero value")
	}
}
