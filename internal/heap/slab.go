package heap

import (
	"encoding/binary"

	"github.com/astra-os/xkernel/internal/addr"
	"github.com/astra-os/xkernel/internal/pfa"
)

// slabClasses are the small-object size classes names.
var slabClasses = [...]uint32{16, 32, 64, 128, 256, 512, 1024, 2048}

const (
	slabPageMagic     = 0x5Ab_9000
	slabFreelistMagic = 0xF433_1157
	slabPageHeaderLen = 40
	slabFreeEnd       = 0xFFFF_FFFF
)

// slabPageHeader precedes every slab page's slots,
type slabPageHeader struct {
	magic         uint32
	freelistMagic uint32
	next          addr.Virt
	freeCount     uint32
	classSize     uint32
	physBase      addr.Phys
	freelistHead  uint32
}

func readSlabPageHeader(b []byte) slabPageHeader {
	return slabPageHeader{
		magic:         binary.LittleEndian.Uint32(b[0:4]),
		freelistMagic: binary.LittleEndian.Uint32(b[4:8]),
		next:          addr.Virt(binary.LittleEndian.Uint64(b[8:16])),
		freeCount:     binary.LittleEndian.Uint32(b[16:20]),
		classSize:     binary.LittleEndian.Uint32(b[20:24]),
		physBase:      addr.Phys(binary.LittleEndian.Uint64(b[24:32])),
		freelistHead:  binary.LittleEndian.Uint32(b[32:36]),
	}
}

func writeSlabPageHeader(b []byte, h slabPageHeader) {
	binary.LittleEndian.PutUint32(b[0:4], h.magic)
	binary.LittleEndian.PutUint32(b[4:8], h.freelistMagic)
	binary.LittleEndian.PutUint64(b[8:16], uint64(h.next))
	binary.LittleEndian.PutUint32(b[16:20], h.freeCount)
	binary.LittleEndian.PutUint32(b[20:24], h.classSize)
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.physBase))
	binary.LittleEndian.PutUint32(b[32:36], h.freelistHead)
}

type slabAllocator struct {
	mem  Memory
	hhdm addr.HHDM
	fa   *pfa.Allocator

	// heads[i] is the first page of the free list for slabClasses[i].
	heads [len(slabClasses)]addr.Virt
}

func newSlabAllocator(mem Memory, hhdm addr.HHDM, fa *pfa.Allocator) *slabAllocator {
	return &slabAllocator{mem: mem, hhdm: hhdm, fa: fa}
}

func classIndexFor(total uint32) (int, bool) {
	for i, c := range slabClasses {
		if total <= c {
			return i, true
		}
	}
	return 0, false
}

func (s *slabAllocator) slotsPerPage(classSize uint32) uint32 {
	return (addr.PageSize - slabPageHeaderLen) / classSize
}

// newPage carves a fresh slab page out of the PFA for the given class and
// links its slots into a freelist threaded through the unused slots
// themselves,'s Slab page data model.
func (s *slabAllocator) newPage(classSize uint32) (addr.Virt, bool) {
	f, ok := s.fa.AllocPage()
	if !ok {
		return 0, false
	}
	b := s.mem.Bytes(f.Phys, addr.PageSize)

	nslots := s.slotsPerPage(classSize)
	for i := uint32(0); i < nslots; i++ {
		off := slabPageHeaderLen + i*classSize
		var next uint32
		if i+1 == nslots {
			next = slabFreeEnd
		} else {
			next = slabPageHeaderLen + (i+1)*classSize
		}
		binary.LittleEndian.PutUint32(b[off:off+4], next)
	}

	hdr := slabPageHeader{
		magic:         slabPageMagic,
		freelistMagic: slabFreelistMagic,
		next:          0,
		freeCount:     nslots,
		classSize:     classSize,
		physBase:      f.Phys,
		freelistHead:  slabPageHeaderLen,
	}
	writeSlabPageHeader(b, hdr)
	return f.Virt, true
}

func (s *slabAllocator) pageHeader(page addr.Virt) (slabPageHeader, []byte) {
	b := s.mem.Bytes(s.hhdm.ToPhys(page), addr.PageSize)
	return readSlabPageHeader(b), b
}

// allocate finds the first class-appropriate page with a free slot,
// allocating a new page from the PFA if none qualifies.
func (s *slabAllocator) allocate(total uint32) (addr.Virt, bool) {
	idx, ok := classIndexFor(total)
	if !ok {
		return 0, false
	}
	classSize := slabClasses[idx]

	page := s.heads[idx]
	for page != 0 {
		hdr, b := s.pageHeader(page)
		if hdr.magic != slabPageMagic || hdr.freelistMagic != slabFreelistMagic {
			panic("heap: slab page header corruption")
		}
		if hdr.freeCount > 0 {
			slotOff := hdr.freelistHead
			nextOff := binary.LittleEndian.Uint32(b[slotOff : slotOff+4])
			hdr.freelistHead = nextOff
			hdr.freeCount--
			writeSlabPageHeader(b, hdr)
			return addr.Virt(uint64(page) + uint64(slotOff)), true
		}
		page = hdr.next
	}

	page, ok = s.newPage(classSize)
	if !ok {
		return 0, false
	}
	hdr, b := s.pageHeader(page)
	hdr.next = s.heads[idx]
	s.heads[idx] = page

	slotOff := hdr.freelistHead
	nextOff := binary.LittleEndian.Uint32(b[slotOff : slotOff+4])
	hdr.freelistHead = nextOff
	hdr.freeCount--
	writeSlabPageHeader(b, hdr)
	return addr.Virt(uint64(page) + uint64(slotOff)), true
}

// free validates that v is a legitimate slot in its containing page (per
// slab invariants) and pushes it back onto that page's
// freelist.
func (s *slabAllocator) free(v addr.Virt, total uint32) {
	pageBase := addr.Virt(uint64(v) &^ (addr.PageSize - 1))
	hdr, b := s.pageHeader(pageBase)
	if hdr.magic != slabPageMagic || hdr.freelistMagic != slabFreelistMagic {
		panic("heap: free of invalid slab pointer (bad page magic)")
	}
	off := uint32(uint64(v) - uint64(pageBase))
	if off < slabPageHeaderLen || off >= addr.PageSize {
		panic("heap: free of invalid slab pointer (out of slot range)")
	}
	if (off-slabPageHeaderLen)%hdr.classSize != 0 {
		panic("heap: free of invalid slab pointer (misaligned to class size)")
	}

	binary.LittleEndian.PutUint32(b[off:off+4], hdr.freelistHead)
	hdr.freelistHead = off
	hdr.freeCount++
	writeSlabPageHeader(b, hdr)
}
