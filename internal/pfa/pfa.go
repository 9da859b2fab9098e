// Package pfa implements the physical frame allocator: it
// owns the set of 4 KiB physical frames derived from the firmware memory
// map and serves page-granular and DMA-aware contiguous allocations.
//
// The allocator's own bookkeeping (the per-region bitmap) lives inside the
// region it describes — each region's own bitmap pages are self-marked
// allocated before any external allocation is served — modeled after a
// design that threads its free lists through the very pages it tracks.
package pfa

import (
	"fmt"
	"sort"
	"sync"

	"github.com/astra-os/xkernel/internal/addr"
	"github.com/astra-os/xkernel/internal/klog"
	"github.com/astra-os/xkernel/internal/memmap"
)

// Memory is the byte-level backing store the allocator marks bits and
// reads/writes bitmaps against. hwsim.Arena implements this in tests and
// the host harness.
type Memory interface {
	Bytes(p addr.Phys, n int) []byte
	Zero(p addr.Phys, n int)
}

// Frame is the result of a successful page allocation: the physical frame
// plus its HHDM-resident virtual address. All allocator return values
// use HHDM-resident virtual addresses.
type Frame struct {
	Phys addr.Phys
	Virt addr.Virt
}

// region is one physical range tracked by a bitmap stored at its own
// start.
type region struct {
	physStart addr.Phys
	physEnd   addr.Phys
	pageCount uint64
	bitmap    []byte // 1 bit per page, 1 == allocated
	bitmapPgs uint64 // number of pages the bitmap itself occupies
}

func (r *region) bitSet(i uint64) bool {
	return r.bitmap[i/8]&(1<<(i%8)) != 0
}

func (r *region) setBit(i uint64) {
	r.bitmap[i/8] |= 1 << (i % 8)
}

func (r *region) clearBit(i uint64) {
	r.bitmap[i/8] &^= 1 << (i % 8)
}

func (r *region) contains(p addr.Phys) bool {
	return p >= r.physStart && p < r.physEnd
}

// Allocator owns all physical regions derived from the firmware memory map.
// It is a single-init, many-mutation, process-wide structure — callers
// initialize it once and then call its methods from a single critical
// section (the caller is expected to disable interrupts; Allocator itself
// only guards against concurrent Go goroutines in the host test harness).
type Allocator struct {
	mu               sync.Mutex
	mem              Memory
	hhdm             addr.HHDM
	regions          []*region
	totalUsablePages uint64
	maxPhysAddr      addr.Phys
}

// New constructs an allocator bound to the given backing memory and HHDM
// offset. Call Init with the firmware memory map before using it.
func New(mem Memory, hhdm addr.HHDM) *Allocator {
	return &Allocator{mem: mem, hhdm: hhdm}
}

// Init builds one region per USABLE memmap entry, allocates each region's
// bitmap inside the region itself, and marks the bitmap's own pages
// allocated before publishing capacity figures.
func (a *Allocator) Init(mm memmap.Map) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.maxPhysAddr = mm.MaxPhysAddr()

	var regions []*region
	for _, e := range mm.Usable() {
		pageCount := e.Pages()
		if pageCount == 0 {
			continue
		}
		bitmapBytes := (pageCount + 7) / 8
		bitmapPgs := (bitmapBytes + addr.PageSize - 1) / addr.PageSize
		if bitmapPgs > pageCount {
			// Region too small to host its own bitmap; skip it rather than
			// underflow the free-page accounting.
			klog.Warnf("pfa: region at %#x (%d pages) too small to host its own bitmap, skipping", e.Base, pageCount)
			continue
		}

		r := &region{
			physStart: e.Base,
			physEnd:   e.End(),
			pageCount: pageCount,
			bitmapPgs: bitmapPgs,
		}
		r.bitmap = a.mem.Bytes(e.Base, int(bitmapPgs*addr.PageSize))[:bitmapBytes]
		for i := range r.bitmap {
			r.bitmap[i] = 0
		}
		for i := uint64(0); i < bitmapPgs; i++ {
			r.setBit(i)
		}
		regions = append(regions, r)
	}

	sort.Slice(regions, func(i, j int) bool { return regions[i].physStart < regions[j].physStart })
	a.regions = regions

	var total uint64
	for _, r := range regions {
		total += r.pageCount - r.bitmapPgs
	}
	a.totalUsablePages = total
	return nil
}

// TotalUsablePages reports the number of pages available for allocation
// after self-hosting costs (bitmaps) are subtracted.
func (a *Allocator) TotalUsablePages() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalUsablePages
}

// MaxPhysAddr reports the highest physical address described by the
// firmware memory map, usable or not.
func (a *Allocator) MaxPhysAddr() addr.Phys {
	return a.maxPhysAddr
}

// AllocPage performs a linear first-fit scan across regions for a single
// free frame. It returns ok=false on exhaustion.
func (a *Allocator) AllocPage() (Frame, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.regions {
		for i := uint64(0); i < r.pageCount; i++ {
			if !r.bitSet(i) {
				r.setBit(i)
				p := addr.Phys(uint64(r.physStart) + i*addr.PageSize)
				a.mem.Zero(p, addr.PageSize)
				return Frame{Phys: p, Virt: a.hhdm.ToVirt(p)}, true
			}
		}
	}
	return Frame{}, false
}

// FreePage clears the allocation bit for the frame at the given physical
// address. A zero address is a no-op; clearing an already-free bit is
// tolerated and logged, never fatal.
func (a *Allocator) FreePage(p addr.Phys) {
	if p == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.regionFor(p)
	if r == nil {
		klog.Warnf("pfa: free of %#x outside any tracked region", p)
		return
	}
	i := (uint64(p) - uint64(r.physStart)) / addr.PageSize
	if !r.bitSet(i) {
		klog.Warnf("pfa: double free of frame %#x", p)
		return
	}
	r.clearBit(i)
}

func (a *Allocator) regionFor(p addr.Phys) *region {
	for _, r := range a.regions {
		if r.contains(p) {
			return r
		}
	}
	return nil
}

// AllocContiguous scans regions for a run of `pages` free bits whose base
// satisfies alignment (in bytes) and whose end lies at or below maxPhys.
// Bits are set atomically with respect to other allocator calls, as used
// by the DMA heap for physically-contiguous sub-4GiB allocations.
func (a *Allocator) AllocContiguous(pages uint64, align uint64, maxPhys addr.Phys) (Frame, bool) {
	if pages == 0 {
		return Frame{}, false
	}
	if align == 0 {
		align = addr.PageSize
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, r := range a.regions {
		for base := uint64(0); base+pages <= r.pageCount; base++ {
			startPhys := addr.Phys(uint64(r.physStart) + base*addr.PageSize)
			if uint64(startPhys)%align != 0 {
				continue
			}
			endPhys := addr.Phys(uint64(startPhys) + pages*addr.PageSize)
			if maxPhys != 0 && endPhys > maxPhys {
				break
			}
			if !a.runFree(r, base, pages) {
				continue
			}
			for i := base; i < base+pages; i++ {
				r.setBit(i)
			}
			a.mem.Zero(startPhys, int(pages*addr.PageSize))
			return Frame{Phys: startPhys, Virt: a.hhdm.ToVirt(startPhys)}, true
		}
	}
	return Frame{}, false
}

func (a *Allocator) runFree(r *region, base, pages uint64) bool {
	for i := base; i < base+pages; i++ {
		if r.bitSet(i) {
			return false
		}
	}
	return true
}

// FreeContiguous clears `pages` bits starting at phys. Used to release a
// block obtained from AllocContiguous.
func (a *Allocator) FreeContiguous(p addr.Phys, pages uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.regionFor(p)
	if r == nil {
		klog.Warnf("pfa: free contiguous %#x outside any tracked region", p)
		return
	}
	base := (uint64(p) - uint64(r.physStart)) / addr.PageSize
	for i := base; i < base+pages && i < r.pageCount; i++ {
		r.clearBit(i)
	}
}

// Stats is a diagnostic snapshot suitable for klog reporting.
type Stats struct {
	Regions          int
	TotalUsablePages uint64
	FreePages        uint64
}

// Stat computes a point-in-time snapshot of allocator occupancy. It scans
// every bitmap, so it is intended for diagnostics, not the hot path.
func (a *Allocator) Stat() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	var free uint64
	for _, r := range a.regions {
		for i := uint64(0); i < r.pageCount; i++ {
			if !r.bitSet(i) {
				free++
			}
		}
	}
	return Stats{Regions: len(a.regions), TotalUsablePages: a.totalUsablePages, FreePages: free}
}

func (s Stats) String() string {
	free := s.FreePages * addr.PageSize
	total := s.TotalUsablePages * addr.PageSize
	return fmt.Sprintf("pfa: %d regions, %d/%d pages free (%s/%s)",
		s.Regions, s.FreePages, s.TotalUsablePages, klog.Bytes(free), klog.Bytes(total))
}
