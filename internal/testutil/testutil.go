// Package testutil provides shared test helpers for deep-comparing the
// core's diagnostic dump structures (page-table walks, ring snapshots,
// decoded ACPI tables) across _test.go files, grounded on go-cmp the same
// way internal/hwsim grounds its arena on mmap-go: both are host-test-only
// infrastructure, never imported by production code.
package testutil

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Diff returns a human-readable diff between got and want, empty if they
// are equal, using cmp.Diff's structural comparison (handles unexported
// fields in this module's own types via cmp.AllowUnexported where a
// caller opts in).
func Diff(want, got any, opts ...cmp.Option) string {
	return cmp.Diff(want, got, opts...)
}

// AssertEqual fails t with a structural diff if want != got.
func AssertEqual(t *testing.T, want, got any, opts ...cmp.Option) {
	t.Helper()
	if diff := cmp.Diff(want, got, opts...); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

// PageTableDump is a comparable snapshot of one virtual address's
// translation path, for tests asserting vmm.Manager.Map/Unmap behavior
// without reaching into unexported page-table internals.
type PageTableDump struct {
	Virt     uint64
	Phys     uint64
	Mapped   bool
	HugePage bool
}

// RingSnapshot is a comparable snapshot of a producer/consumer ring's
// cursor state, for xhci ring-wraparound assertions.
type RingSnapshot struct {
	Enqueue int
	Dequeue int
	Cycle   bool
}
