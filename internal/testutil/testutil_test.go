package testutil

import "testing"

func TestDiffEmptyForEqualValues(t *testing.T) {
	a := PageTableDump{Virt: 1, Phys: 2, Mapped: true}
	b := PageTableDump{Virt: 1, Phys: 2, Mapped: true}
	if diff := Diff(a, b); diff != "" {
		t.Fatalf("Diff() = %q, want empty", diff)
	}
}

func TestDiffNonEmptyForUnequalValues(t *testing.T) {
	a := RingSnapshot{Enqueue: 1, Cycle: true}
	b := RingSnapshot{Enqueue: 2, Cycle: true}
	if diff := Diff(a, b); diff == "" {
		t.Fatal("Diff() = empty, want a reported mismatch")
	}
}
