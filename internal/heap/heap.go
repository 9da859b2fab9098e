// Package heap implements the tagged kernel heap: a single
// alloc/free/realloc contract dispatching to one of three sub-allocators —
// a small-object slab allocator, a buddy allocator for large allocations,
// and a physically-contiguous sub-4GiB DMA allocator — selected by a tag
// carried in a per-block header and guarded by redzones.
//
// This package's shape is grounded on the Go runtime's own allocator
// internals: size-classed free lists of pages for small objects, with a
// separate path for allocations that don't fit a class. The per-block
// guarded header and explicit tag dispatch are this package's own
// contribution on top of that shape.
package heap

import (
	"encoding/binary"
	"fmt"

	"github.com/astra-os/xkernel/internal/addr"
	"github.com/astra-os/xkernel/internal/pfa"
)

// Tag selects which sub-allocator owns a block.
type Tag uint8

const (
	TagSlab Tag = iota
	TagBuddy
	TagDMA
	// TagSafe requests whichever sub-allocator is safe for the given size:
	// slab for small requests, buddy otherwise. It is resolved to a
	// concrete tag at alloc time and the concrete tag is what's stored in
	// the header, so Free never needs to re-derive it.
	TagSafe
)

func (t Tag) String() string {
	switch t {
	case TagSlab:
		return "slab"
	case TagBuddy:
		return "buddy"
	case TagDMA:
		return "dma"
	case TagSafe:
		return "safe"
	default:
		return "unknown"
	}
}

// guard is the fixed sentinel written on both sides of a block's metadata
//; Free panics if either has
// changed since Alloc.
const guard uint64 = 0xDEAD_C0DE_FEED_FACE

// headerSize is fixed regardless of tag. It carries the literal fields
// names (guard_front, size, align, tag, guard_back) plus two
// bookkeeping fields (blockOffset, total) needed to recover the
// sub-allocator's original block pointer and size on Free/Realloc, since
// the payload returned to the caller is forward-aligned from that block
// and therefore not always identical to it.
const headerSize = 32

// Memory is the byte-level store the heap reads/writes headers and
// sub-allocator metadata through, addressed physically; the heap's public
// API deals in addr.Virt (HHDM-resident) and converts via hhdm.
type Memory interface {
	Bytes(p addr.Phys, n int) []byte
	Zero(p addr.Phys, n int)
}

// Heap is the tagged allocator described by
type Heap struct {
	mem  Memory
	hhdm addr.HHDM
	slab *slabAllocator
	bud  *buddyAllocator
	dma  *dmaAllocator
}

// Config bundles the resources each sub-allocator needs at construction.
type Config struct {
	Mem  Memory
	HHDM addr.HHDM
	FA   *pfa.Allocator

	// BuddyBase/BuddyLength describe the contiguous sub-heap the buddy
	// allocator manages, typically obtained via FA.AllocContiguous.
	BuddyBase   addr.Phys
	BuddyLength uint64

	// DMABase/DMALength describe the pre-allocated, page-aligned,
	// sub-4GiB DMA sub-region.
	DMABase   addr.Phys
	DMALength uint64
}

// New constructs a Heap with all three sub-allocators initialized.
func New(cfg Config) (*Heap, error) {
	h := &Heap{mem: cfg.Mem, hhdm: cfg.HHDM}
	h.slab = newSlabAllocator(cfg.Mem, cfg.HHDM, cfg.FA)
	bud, err := newBuddyAllocator(cfg.Mem, cfg.HHDM, cfg.BuddyBase, cfg.BuddyLength)
	if err != nil {
		return nil, fmt.Errorf("heap: buddy init: %w", err)
	}
	h.bud = bud
	h.dma = newDMAAllocator(cfg.Mem, cfg.HHDM, cfg.DMABase, cfg.DMALength)
	return h, nil
}

type header struct {
	guardFront  uint64
	size        uint32
	align       uint16
	tag         Tag
	_pad        uint8
	guardBack   uint64
	blockOffset uint32
	total       uint32
}

func (h *Heap) readHeader(p addr.Phys) header {
	b := h.mem.Bytes(p, headerSize)
	return header{
		guardFront:  binary.LittleEndian.Uint64(b[0:8]),
		size:        binary.LittleEndian.Uint32(b[8:12]),
		align:       binary.LittleEndian.Uint16(b[12:14]),
		tag:         Tag(b[14]),
		guardBack:   binary.LittleEndian.Uint64(b[16:24]),
		blockOffset: binary.LittleEndian.Uint32(b[24:28]),
		total:       binary.LittleEndian.Uint32(b[28:32]),
	}
}

func (h *Heap) writeHeader(p addr.Phys, hd header) {
	b := h.mem.Bytes(p, headerSize)
	binary.LittleEndian.PutUint64(b[0:8], hd.guardFront)
	binary.LittleEndian.PutUint32(b[8:12], hd.size)
	binary.LittleEndian.PutUint16(b[12:14], hd.align)
	b[14] = byte(hd.tag)
	b[15] = 0
	binary.LittleEndian.PutUint64(b[16:24], hd.guardBack)
	binary.LittleEndian.PutUint32(b[24:28], hd.blockOffset)
	binary.LittleEndian.PutUint32(b[28:32], hd.total)
}

func roundUpPow2(v uint16) uint16 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v++
	return v
}

func alignUp64(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

const smallObjectCeiling = 2048 // largest slab size class, see slab.go

// Alloc allocates size bytes at the given alignment (rounded up to a power
// of two, minimum 16) from the sub-allocator selected by tag. It returns
// the zero address and false on exhaustion.
func (h *Heap) Alloc(size uint32, align uint16, tag Tag) (addr.Virt, bool) {
	if align < 16 {
		align = 16
	}
	align = roundUpPow2(align)

	resolvedTag := tag
	if tag == TagSafe {
		if alignUp64(uint64(size)+headerSize+uint64(align)-1, uint64(align)) <= smallObjectCeiling {
			resolvedTag = TagSlab
		} else {
			resolvedTag = TagBuddy
		}
	}

	slack := uint64(align) - 1
	total := alignUp64(uint64(size)+headerSize+slack, uint64(align))
	if total > 1<<32-1 {
		return 0, false
	}

	var blockVirt addr.Virt
	var ok bool
	switch resolvedTag {
	case TagSlab:
		blockVirt, ok = h.slab.allocate(uint32(total))
	case TagBuddy:
		blockVirt, ok = h.bud.allocate(total)
	case TagDMA:
		blockVirt, ok = h.dma.allocate(total)
	default:
		return 0, false
	}
	if !ok {
		return 0, false
	}

	payload := addr.Virt(alignUp64(uint64(blockVirt)+headerSize, uint64(align)))
	headerAt := addr.Virt(uint64(payload) - headerSize)
	blockOffset := uint64(headerAt) - uint64(blockVirt)

	hd := header{
		guardFront:  guard,
		size:        size,
		align:       align,
		tag:         resolvedTag,
		guardBack:   guard,
		blockOffset: uint32(blockOffset),
		total:       uint32(total),
	}
	h.writeHeader(h.hhdm.ToPhys(headerAt), hd)
	return payload, true
}

// Free validates both guards and dispatches to the owning sub-allocator.
// Guard corruption is fatal: Failure semantics, a
// corrupted heap halts rather than silently continuing.
func (h *Heap) Free(ptr addr.Virt) {
	if ptr == 0 {
		return
	}
	headerAt := addr.Virt(uint64(ptr) - headerSize)
	hd := h.readHeader(h.hhdm.ToPhys(headerAt))
	if hd.guardFront != guard || hd.guardBack != guard {
		panic(fmt.Sprintf("heap: guard corruption freeing %#x (front=%#x back=%#x)", ptr, hd.guardFront, hd.guardBack))
	}
	blockVirt := addr.Virt(uint64(headerAt) - uint64(hd.blockOffset))

	switch hd.tag {
	case TagSlab:
		h.slab.free(blockVirt, hd.total)
	case TagBuddy:
		h.bud.free(blockVirt, uint64(hd.total))
	case TagDMA:
		h.dma.free(blockVirt, uint64(hd.total))
	default:
		panic(fmt.Sprintf("heap: free of %#x: unknown tag %d", ptr, hd.tag))
	}
}

// Realloc implements realloc contract.
func (h *Heap) Realloc(ptr addr.Virt, n uint32) (addr.Virt, bool) {
	if ptr == 0 {
		return h.Alloc(n, 16, TagSafe)
	}
	if n == 0 {
		h.Free(ptr)
		return 0, true
	}

	headerAt := addr.Virt(uint64(ptr) - headerSize)
	hd := h.readHeader(h.hhdm.ToPhys(headerAt))
	if hd.guardFront != guard || hd.guardBack != guard {
		panic(fmt.Sprintf("heap: guard corruption in realloc of %#x", ptr))
	}
	if n <= hd.size {
		return ptr, true
	}

	newPtr, ok := h.Alloc(n, hd.align, hd.tag)
	if !ok {
		return 0, false
	}
	oldBytes := h.mem.Bytes(h.hhdm.ToPhys(ptr), int(hd.size))
	newBytes := h.mem.Bytes(h.hhdm.ToPhys(newPtr), int(hd.size))
	copy(newBytes, oldBytes)
	h.Free(ptr)
	return newPtr, true
}

// Bytes returns a mutable view of an allocation's payload, for tests and
// drivers that need to read/write the block directly (e.g. DMA buffers).
func (h *Heap) Bytes(ptr addr.Virt, n int) []byte {
	return h.mem.Bytes(h.hhdm.ToPhys(ptr), n)
}
