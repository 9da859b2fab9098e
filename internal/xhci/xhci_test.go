package xhci

import (
	"testing"
	"time"

	"github.com/astra-os/xkernel/internal/addr"
	"github.com/astra-os/xkernel/internal/hwsim"
)

// fakeMMIO backs an entire capability+operational+runtime+doorbell
// register file with a flat map, enough to drive the controller through
// its reset/init sequence in a test without real hardware.
type fakeMMIO struct {
	regs map[uint32]uint64

	// hchCleared and hcrstReads are not read by the fake: HCRST clears on
	// the same write that sets it, and CNR is never set.
	hchCleared bool
	hcrstReads int
}

func newFakeMMIO(capLength uint8, maxSlots uint8, dbOff, rtsOff uint32) *fakeMMIO {
	f := &fakeMMIO{regs: map[uint32]uint64{}}
	f.regs[capCAPLENGTH] = uint64(capLength)
	f.regs[capHCSPARAMS1] = uint64(maxSlots) | uint64(1)<<24 // 1 port
	f.regs[capDBOFF] = uint64(dbOff)
	f.regs[capRTSOFF] = uint64(rtsOff)
	f.regs[uint32(capLength)+opUSBSTS] = stsHCH // starts halted
	return f
}

func (f *fakeMMIO) Read32(offset uint32) uint32 { return uint32(f.regs[offset]) }

func (f *fakeMMIO) Write32(offset uint32, v uint32) {
	capLen := uint32(f.regs[capCAPLENGTH])
	switch offset {
	case capLen + opUSBCMD:
		cur := uint32(f.regs[offset])
		if v&cmdRun != 0 {
			f.regs[capLen+opUSBSTS] = uint64(uint32(f.regs[capLen+opUSBSTS]) &^ stsHCH)
		} else {
			f.regs[capLen+opUSBSTS] = uint64(uint32(f.regs[capLen+opUSBSTS]) | stsHCH)
		}
		if v&cmdHCRST != 0 {
			// self-clears immediately in this fake
			v &^= cmdHCRST
		}
		_ = cur
		f.regs[offset] = uint64(v)
	default:
		f.regs[offset] = uint64(v)
	}
}

func (f *fakeMMIO) Read64(offset uint32) uint64  { return f.regs[offset] }
func (f *fakeMMIO) Write64(offset uint32, v uint64) { f.regs[offset] = v }

// fakeDMA is a trivial bump allocator over a hwsim arena, enough to give
// the controller distinct, alignment-respecting physical addresses.
type fakeDMA struct {
	arena *hwsim.Arena
	base  addr.Phys
	next  uint64
}

func newFakeDMA(arena *hwsim.Arena, base addr.Phys) *fakeDMA {
	return &fakeDMA{arena: arena, base: base}
}

func (d *fakeDMA) Alloc(size uint32, align uint16) (addr.Virt, bool) {
	d.next = (d.next + uint64(align) - 1) &^ (uint64(align) - 1)
	phys := d.base + addr.Phys(d.next)
	d.next += uint64(size)
	return addr.Virt(uint64(phys)), true // identity-mapped for this test
}
func (d *fakeDMA) Free(addr.Virt)            {}
func (d *fakeDMA) ToPhys(v addr.Virt) addr.Phys { return addr.Phys(uint64(v)) }

func newTestController(t *testing.T) (*Controller, *fakeMMIO) {
	t.Helper()
	arena, err := hwsim.NewArena(4 << 20)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	t.Cleanup(func() { arena.Close() })

	mmio := newFakeMMIO(0x20, 8, 0x2000, 0x1000)
	dma := newFakeDMA(arena, 0x10000) // nonzero base: a zero DCBAAP would look "unprogrammed"
	hhdm := addr.HHDM{Offset: 0}       // identity map for this test's fakeDMA
	c := New(mmio, dma, arena, hhdm, func(time.Duration) {})
	return c, mmio
}

func TestReadCapabilitiesDecodesCapLengthAndMaxSlots(t *testing.T) {
	mmio := newFakeMMIO(0x20, 16, 0x2000, 0x1000)
	cap := ReadCapabilities(mmio)
	if cap.CapLength != 0x20 {
		t.Fatalf("CapLength = %#x", cap.CapLength)
	}
	if cap.MaxSlots != 16 {
		t.Fatalf("MaxSlots = %d", cap.MaxSlots)
	}
}

func TestResetHaltsAndClearsHCRST(t *testing.T) {
	c, mmio := newTestController(t)
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	capLen := uint32(mmio.regs[capCAPLENGTH])
	if mmio.regs[capLen+opUSBCMD]&cmdHCRST != 0 {
		t.Fatal("HCRST did not self-clear in fake")
	}
}

func TestInitInstallsDCBAAPAndStartsController(t *testing.T) {
	c, mmio := newTestController(t)
	if err := c.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	capLen := uint32(mmio.regs[capCAPLENGTH])
	sts := uint32(mmio.regs[capLen+opUSBSTS])
	if sts&stsHCH != 0 {
		t.Fatal("controller still halted after Init")
	}
	if mmio.regs[capLen+opDCBAAP] == 0 {
		t.Fatal("DCBAAP was not programmed")
	}
	if c.cmdRing == nil || c.evtRing == nil {
		t.Fatal("rings not installed")
	}
}

func TestProducerRingWrapsAndTogglesCycle(t *testing.T) {
	arena, err := hwsim.NewArena(1 << 20)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer arena.Close()
	hhdm := addr.HHDM{Offset: 0}
	r := NewProducerRing(arena, hhdm, 0)

	for i := 0; i < ringCapacityTRBs; i++ { // one full lap, including the link
		r.Enqueue(TRB{Parameter: uint64(i)})
	}
	// After ringCapacityTRBs-1 real enqueues the ring must have wrapped
	// through the link TRB and flipped its producer cycle.
	if r.Cycle() != false {
		t.Fatal("expected producer cycle to flip after one full wrap")
	}
	if r.enqueue != 1 {
		t.Fatalf("expected enqueue to sit at slot 1 after wrap-then-one-more-write, got %d", r.enqueue)
	}
}

func TestEventRingPopRequiresMatchingCycle(t *testing.T) {
	arena, err := hwsim.NewArena(1 << 20)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer arena.Close()
	hhdm := addr.HHDM{Offset: 0}

	e := NewEventRing(arena, hhdm, 0)
	if _, ok := e.Pop(); ok {
		t.Fatal("Pop should fail on an all-zero (cycle=0) buffer when consumer expects cycle=1")
	}

	// Producer writes slot 0 with cycle=1, matching the consumer's initial
	// expectation.
	enc := encodeTRB(TRB{Parameter: 0xAA, Control: trbCycle})
	copy(arena.Bytes(0, 16), enc[:])

	got, ok := e.Pop()
	if !ok || got.Parameter != 0xAA {
		t.Fatalf("Pop() = %+v, %v", got, ok)
	}
}

func TestResetPortPollsPRUntilClear(t *testing.T) {
	c, mmio := newTestController(t)
	capLen := uint32(mmio.regs[capCAPLENGTH])

	reads := 0
	// Drive PR to clear after a few polls; the sleeper hook stands in for
	// hardware eventually clearing the reset bit on its own.
	c.sleep = func(time.Duration) {
		reads++
		if reads == 3 {
			cur := uint32(mmio.regs[capLen+opPortBase])
			mmio.regs[capLen+opPortBase] = uint64(cur &^ portscPR)
		}
	}
	mmio.regs[capLen+opPortBase] = uint64(portscPR)

	final, err := c.ResetPort(0)
	if err != nil {
		t.Fatalf("ResetPort: %v", err)
	}
	if final&portscPR != 0 {
		t.Fatal("expected PR cleared in final PORTSC")
	}
}
