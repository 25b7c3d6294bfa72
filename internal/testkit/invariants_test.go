package testkit

import "testing"

func TestCheckConserved(t *testing.T) {
	if err := CheckConserved("q", 10, 7, 2, 1); err != nil {
		t.Fatalf("balanced counters: %v", err)
	}
	if err := CheckConserved("q", 10, 7, 2, 0); err == nil {
		t.Fatalf("want error for a lost item")
	}
	if err := CheckConserved("q", 1, -1, 2, 0); err == nil {
		t.Fatalf("want error for a negative counter")
	}
}

func TestCheckLen(t *testing.T) {
	if err := CheckLen("q", 3, 3); err != nil {
		t.Fatalf("full is within bounds: %v", err)
	}
	if err := CheckLen("q", 4, 3); err == nil {
		t.Fatalf("want error above capacity")
	}
}

func TestSeqTracker(t *testing.T) {
	var tr SeqTracker
	for _, seq := range []int64{1, 2, 5} {
		if err := tr.Observe("p0", seq); err != nil {
			t.Fatalf("increasing sequence: %v", err)
		}
	}
	if err := tr.Observe("p1", 1); err != nil {
		t.Fatalf("sources are independent: %v", err)
	}
	if err := tr.Observe("p0", 5); err == nil {
		t.Fatalf("want error for repeated sequence")
	}
}
