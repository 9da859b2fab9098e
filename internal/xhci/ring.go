package xhci

import (
	"github.com/astra-os/xkernel/internal/addr"
)

// ringCapacityTRBs is the fixed TRB count sizes both the
// command ring and the event ring at: 64 TRBs, the last slot occupied by a
// link TRB for the command ring (leaving 63 usable slots before wraparound)
// and by a plain TRB for the event ring (which has no link TRB — the
// consumer ERDP wraps the hardware-maintained dequeue pointer itself).
const ringCapacityTRBs = 64

// Memory is the byte-addressable read/write surface ring buffers are
// written through, addressed physically; a ring is constructed with its
// buffer's physical base and derives slot addresses through its HHDM.
type Memory interface {
	Bytes(p addr.Phys, n int) []byte
}

// ProducerRing is the shared discipline for the command ring and each
// transfer ring: advance enqueue after writing a TRB's cycle bit; on
// reaching the terminal link TRB, write its cycle, flip local cycle, and
// wrap to slot 0.
type ProducerRing struct {
	mem     Memory
	hhdm    addr.HHDM
	phys    addr.Phys // base of the ring's backing memory
	enqueue int
	cycle   bool
}

// NewProducerRing installs the terminating link TRB (pointing back to
// phys, toggle_cycle=1) at the last slot and returns a ring ready to
// accept TRBs starting at slot 0 with cycle=true (the ring's initial
// producer cycle state, matching RCS=1 written to CRCR).
func NewProducerRing(mem Memory, hhdm addr.HHDM, phys addr.Phys) *ProducerRing {
	r := &ProducerRing{mem: mem, hhdm: hhdm, phys: phys, cycle: true}
	link := LinkTRB(uint64(phys), false) // cycle bit for the link slot starts 0; flipped to 1 on first wrap
	r.writeSlot(ringCapacityTRBs-1, link)
	return r
}

func (r *ProducerRing) slotVirt(i int) addr.Virt {
	return r.hhdm.ToVirt(r.phys) + addr.Virt(i*16)
}

func (r *ProducerRing) writeSlot(i int, t TRB) {
	b := r.mem.Bytes(r.hhdm.ToPhys(r.slotVirt(i)), 16)
	enc := encodeTRB(t)
	copy(b, enc[:])
}

// Enqueue writes t (with its cycle bit overwritten to the ring's current
// local cycle) into the next slot, handling the link-TRB wraparound rule.
// Returns the physical address of the slot the TRB was written to, needed
// by callers that must report a command/transfer's TRB pointer.
func (r *ProducerRing) Enqueue(t TRB) addr.Phys {
	if r.cycle {
		t.Control |= trbCycle
	} else {
		t.Control &^= trbCycle
	}
	slot := r.enqueue
	r.writeSlot(slot, t)
	slotPhys := r.hhdm.ToPhys(r.slotVirt(slot))

	r.enqueue++
	if r.enqueue == ringCapacityTRBs-1 {
		link := LinkTRB(uint64(r.phys), r.cycle)
		r.writeSlot(ringCapacityTRBs-1, link)
		r.cycle = !r.cycle
		r.enqueue = 0
	}
	return slotPhys
}

// Phys returns the ring's base physical address, the value written to
// CRCR/TR-dequeue-pointer fields.
func (r *ProducerRing) Phys() addr.Phys { return r.phys }

// Cycle reports the ring's current producer cycle bit, needed to compute
// CRCR's RCS bit at ring installation time.
func (r *ProducerRing) Cycle() bool { return r.cycle }

// EventRing is the consumer side of the event ring: no link TRB, a single
// ERST segment spanning the whole buffer plus a 1-entry ERST table.
type EventRing struct {
	mem     Memory
	hhdm    addr.HHDM
	phys    addr.Phys
	dequeue int
	cycle   bool
}

// NewEventRing returns a consumer for a pre-zeroed event-ring buffer at
// phys; cycle starts true to match a freshly zeroed (all-cycle-0)
// consumer's expectation that the producer's first write carries cycle=1.
func NewEventRing(mem Memory, hhdm addr.HHDM, phys addr.Phys) *EventRing {
	return &EventRing{mem: mem, hhdm: hhdm, phys: phys, cycle: true}
}

func (e *EventRing) slotVirt(i int) addr.Virt {
	return e.hhdm.ToVirt(e.phys) + addr.Virt(i*16)
}

func (e *EventRing) readSlot(i int) TRB {
	b := e.mem.Bytes(e.hhdm.ToPhys(e.slotVirt(i)), 16)
	return decodeTRB(b)
}

// Pop consumes and returns the next TRB whose cycle bit matches the
// ring's local cycle, wrapping (and flipping local cycle) as needed.
// Returns ok=false when the slot at dequeue has not yet been produced.
func (e *EventRing) Pop() (TRB, bool) {
	t := e.readSlot(e.dequeue)
	if t.Cycle() != e.cycle {
		return TRB{}, false
	}
	e.dequeue++
	if e.dequeue == ringCapacityTRBs {
		e.dequeue = 0
		e.cycle = !e.cycle
	}
	return t, true
}

// DequeuePhys returns the physical address of the slot Pop() will read
// next, the value ERDP must be written with (with EHB set) after a
// consumed batch.
func (e *EventRing) DequeuePhys() addr.Phys {
	return e.hhdm.ToPhys(e.slotVirt(e.dequeue))
}
