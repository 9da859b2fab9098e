package heap

import (
	"fmt"

	"github.com/astra-os/xkernel/internal/addr"
)

// maxOrder bounds buddy block sizes at 2^maxOrder * PageSize (here, 4 KiB
// .. 4 GiB), comfortably above any allocation this kernel's heap serves.
const maxOrder = 20

// buddyAllocator manages a contiguous sub-heap of length 2^n*4096 with
// free lists indexed by order, coalescing buddies on free via an
// address-XOR-with-order lookup.
type buddyAllocator struct {
	base   addr.Virt
	length uint64

	// free[o] holds the set of free block offsets (relative to base) at
	// order o, used both as a stack (pop arbitrary element) and as a
	// membership test for coalescing.
	free [maxOrder + 1]map[uint64]struct{}
}

func order4K(size uint64) int {
	o := 0
	blk := uint64(addr.PageSize)
	for blk < size {
		blk <<= 1
		o++
	}
	return o
}

func newBuddyAllocator(mem Memory, hhdm addr.HHDM, base addr.Phys, length uint64) (*buddyAllocator, error) {
	b := &buddyAllocator{base: hhdm.ToVirt(base), length: length}
	for i := range b.free {
		b.free[i] = make(map[uint64]struct{})
	}
	if length == 0 {
		return b, nil
	}
	if length&(length-1) != 0 {
		return nil, fmt.Errorf("heap: buddy length %d is not a power of two", length)
	}
	ord := order4K(length)
	if uint64(addr.PageSize)<<uint(ord) != length {
		return nil, fmt.Errorf("heap: buddy length %d is not a whole number of orders", length)
	}
	if ord > maxOrder {
		return nil, fmt.Errorf("heap: buddy length %d exceeds max order %d", length, maxOrder)
	}
	b.free[ord][0] = struct{}{}
	return b, nil
}

func blockBytes(order int) uint64 {
	return uint64(addr.PageSize) << uint(order)
}

// allocate returns a block of at least `size` bytes, splitting a larger
// free block if no exact-order block is available.
func (b *buddyAllocator) allocate(size uint64) (addr.Virt, bool) {
	if size == 0 {
		size = 1
	}
	want := order4K(size)
	if want > maxOrder {
		return 0, false
	}

	found := -1
	for o := want; o <= maxOrder; o++ {
		if len(b.free[o]) > 0 {
			found = o
			break
		}
	}
	if found == -1 {
		return 0, false
	}

	var off uint64
	for k := range b.free[found] {
		off = k
		break
	}
	delete(b.free[found], off)

	for o := found; o > want; o-- {
		buddyOff := off + blockBytes(o-1)
		b.free[o-1][buddyOff] = struct{}{}
	}

	return addr.Virt(uint64(b.base) + off), true
}

// free returns a block to its order's free list and, if its buddy is also
// free, coalesces repeatedly up to maxOrder.
func (b *buddyAllocator) free(v addr.Virt, size uint64) {
	off := uint64(v) - uint64(b.base)
	ord := order4K(size)

	for ord < maxOrder {
		buddyOff := off ^ blockBytes(ord)
		if _, free := b.free[ord][buddyOff]; !free {
			break
		}
		delete(b.free[ord], buddyOff)
		if buddyOff < off {
			off = buddyOff
		}
		ord++
	}
	b.free[ord][off] = struct{}{}
}
