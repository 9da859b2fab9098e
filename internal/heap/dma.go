package heap

import (
	"encoding/binary"

	"github.com/astra-os/xkernel/internal/addr"
)

// dmaFreeBlockHeader is the {size, next} free-block structure
// names for the DMA sub-allocator.
const dmaFreeBlockHeader = 16 // size(8) + next(8)

// dmaMinSplitResidue: a residue of this many bytes or fewer is handed out
// with the whole block rather than split off.
const dmaMinSplitResidue = 128

type dmaAllocator struct {
	mem  Memory
	hhdm addr.HHDM
	head addr.Virt // 0 == empty list
}

// newDMAAllocator seeds the free list with a single block spanning the
// entire pre-allocated, page-aligned, sub-4GiB region.
func newDMAAllocator(mem Memory, hhdm addr.HHDM, base addr.Phys, length uint64) *dmaAllocator {
	d := &dmaAllocator{mem: mem, hhdm: hhdm}
	if length < dmaFreeBlockHeader {
		return d
	}
	virt := hhdm.ToVirt(base)
	d.writeBlock(virt, length, 0)
	d.head = virt
	return d
}

func (d *dmaAllocator) readBlock(v addr.Virt) (size uint64, next addr.Virt) {
	b := d.mem.Bytes(d.hhdm.ToPhys(v), dmaFreeBlockHeader)
	return binary.LittleEndian.Uint64(b[0:8]), addr.Virt(binary.LittleEndian.Uint64(b[8:16]))
}

func (d *dmaAllocator) writeBlock(v addr.Virt, size uint64, next addr.Virt) {
	b := d.mem.Bytes(d.hhdm.ToPhys(v), dmaFreeBlockHeader)
	binary.LittleEndian.PutUint64(b[0:8], size)
	binary.LittleEndian.PutUint64(b[8:16], uint64(next))
}

// allocate performs first-fit search over the free list and returns the
// start of the first block of at least total bytes. Only the region's base
// is page-aligned; a block split off later starts wherever the previous
// allocation ended, and no alignment search is done here. Heap.Alloc's
// alignment slack and forward-aligned payload provide the alignment.
func (d *dmaAllocator) allocate(total uint64) (addr.Virt, bool) {
	var prev addr.Virt
	cur := d.head
	for cur != 0 {
		size, next := d.readBlock(cur)
		if size >= total {
			residue := size - total
			if residue > dmaMinSplitResidue {
				newBlock := addr.Virt(uint64(cur) + total)
				d.writeBlock(newBlock, residue, next)
				d.unlink(prev, cur, newBlock)
			} else {
				d.unlink(prev, cur, next)
			}
			return cur, true
		}
		prev = cur
		cur = next
	}
	return 0, false
}

func (d *dmaAllocator) unlink(prev, cur, next addr.Virt) {
	if prev == 0 {
		d.head = next
		return
	}
	size, _ := d.readBlock(prev)
	d.writeBlock(prev, size, next)
}

// free pushes the block back onto the head of the list; notes
// DMA freeing never merges adjacent blocks.
func (d *dmaAllocator) free(v addr.Virt, size uint64) {
	d.writeBlock(v, size, d.head)
	d.head = v
}
