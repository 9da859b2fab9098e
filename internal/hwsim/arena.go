// Package hwsim provides a software simulation of physical memory and
// memory-mapped device registers so the core packages (pfa, vmm, heap,
// xhci) can be exercised by "go test" without real hardware — the
// host-test mock called out by Design Notes. Nothing under
// internal/hwsim is reachable from the production hardware path; the real
// bindings live in internal/archx86.
package hwsim

import (
	"fmt"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/astra-os/xkernel/internal/addr"
)

// Arena is a flat simulated physical address space. Physical address 0 in
// the simulation corresponds to byte 0 of the backing store; callers choose
// how much of it to describe as "usable" via memmap.Map entries.
type Arena struct {
	backing mmap.MMap
	raw     []byte // used when mmap-go is unavailable (size 0 requests)
}

// NewArena allocates a simulated physical address space of the given size,
// backed by an anonymous mmap so the host harness sees real page faults on
// out-of-range access instead of a Go slice panic that might be optimized
// away. size is rounded up to a page multiple.
func NewArena(size uint64) (*Arena, error) {
	size = (size + addr.PageSize - 1) &^ (addr.PageSize - 1)
	if size == 0 {
		size = addr.PageSize
	}
	m, err := mmap.MapRegion(nil, int(size), mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, fmt.Errorf("hwsim: mmap arena of %d bytes: %w", size, err)
	}
	return &Arena{backing: m}, nil
}

// Len reports the arena's simulated physical size in bytes.
func (a *Arena) Len() uint64 {
	return uint64(len(a.backing))
}

// Bytes returns a mutable view of n bytes starting at physical address p.
// It panics on an out-of-range request: in production this condition can't
// arise because the PFA only ever hands out frames it owns.
func (a *Arena) Bytes(p addr.Phys, n int) []byte {
	start := uint64(p)
	end := start + uint64(n)
	if n < 0 || end > a.Len() {
		panic(fmt.Sprintf("hwsim: arena access [%d,%d) out of range (len=%d)", start, end, a.Len()))
	}
	return a.backing[start:end]
}

// Zero clears n bytes starting at physical address p.
func (a *Arena) Zero(p addr.Phys, n int) {
	b := a.Bytes(p, n)
	for i := range b {
		b[i] = 0
	}
}

// Close releases the backing mmap.
func (a *Arena) Close() error {
	if a.backing == nil {
		return nil
	}
	return a.backing.Unmap()
}
