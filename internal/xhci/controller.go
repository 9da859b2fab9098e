package xhci

import (
	"fmt"
	"time"

	"github.com/astra-os/xkernel/internal/addr"
	"github.com/astra-os/xkernel/internal/xerr"
)

// DMA is the heap surface the controller uses for every DMA-visible
// allocation it owns: DCBAAP, rings, device/input contexts.
type DMA interface {
	Alloc(size uint32, align uint16) (addr.Virt, bool)
	Free(addr.Virt)
	ToPhys(addr.Virt) addr.Phys
}

// resetPollIterations bounds every spin loop in this package.
const resetPollIterations = 10_000

// Sleeper is invoked between poll iterations; production code should pass
// a short real sleep, tests an instant no-op paired with a fake register
// that flips state after N reads.
type Sleeper func(d time.Duration)

// Controller owns one xHCI host controller's register windows, rings, and
// per-slot device state.
type Controller struct {
	mmio MMIO
	cap  Capabilities
	op   *Operational
	rt   *Runtime
	db   *Doorbells
	dma  DMA
	mem  Memory
	hhdm addr.HHDM
	sleep Sleeper

	cmdRing   *ProducerRing
	evtRing   *EventRing
	dcbaapV   addr.Virt
	slots     []*Slot

	// completedCommands records command-completion events by the TRB
	// pointer they report on, consumed and cleared by submitCommand's
	// poll loop.
	completedCommands map[addr.Phys]TRB

	// transferCompletions records the last completion code observed per
	// reporting TRB pointer.
	transferCompletions map[addr.Phys]TRB

	events chan Event
}

// Slot tracks one device's command-state-machine progress.
type Slot struct {
	ID       uint8
	State    SlotState
	Port     uint8
	deviceCtxV addr.Virt
	ep0Ring    *ProducerRing
}

// SlotState enumerates the per-device command state machine.
type SlotState int

const (
	StateDefault SlotState = iota
	StateEnabled
	StateAddressed
	StateConfigured
)

// New wires a Controller to its MMIO window and DMA-capable heap. Reset
// and ring/DCBAAP setup happen in Init, kept separate so tests can inspect
// capability discovery alone.
func New(mmio MMIO, dma DMA, mem Memory, hhdm addr.HHDM, sleep Sleeper) *Controller {
	if sleep == nil {
		sleep = time.Sleep
	}
	c := &Controller{mmio: mmio, dma: dma, mem: mem, hhdm: hhdm, sleep: sleep}
	c.cap = ReadCapabilities(mmio)
	c.op = newOperational(mmio, c.cap.CapLength)
	c.rt = newRuntime(mmio, c.cap.RTSOff)
	c.db = newDoorbells(mmio, c.cap.DBOff)
	c.completedCommands = map[addr.Phys]TRB{}
	c.events = make(chan Event, 64)
	return c
}

// Reset performs the three-step halt/reset/ready sequence.
func (c *Controller) Reset() error {
	cmd := c.op.USBCMD()
	c.op.SetUSBCMD(cmd &^ cmdRun)
	if err := c.pollUntil(func() bool { return c.op.USBSTS()&stsHCH != 0 }); err != nil {
		return fmt.Errorf("xhci: halt: %w", err)
	}

	c.op.SetUSBCMD(c.op.USBCMD() | cmdHCRST)
	if err := c.pollUntil(func() bool { return c.op.USBCMD()&cmdHCRST == 0 }); err != nil {
		return fmt.Errorf("xhci: reset self-clear: %w", err)
	}

	if err := c.pollUntil(func() bool { return c.op.USBSTS()&stsCNR == 0 }); err != nil {
		return fmt.Errorf("xhci: controller-not-ready: %w", err)
	}
	return nil
}

func (c *Controller) pollUntil(done func() bool) error {
	for i := 0; i < resetPollIterations; i++ {
		if done() {
			return nil
		}
		c.sleep(0)
	}
	return xerr.ErrMmioTimeout
}

const (
	dcbaapEntrySize = 8
	dmaAlign64      = 64
)

// Init enables all slots, allocates and installs the DCBAAP, the command
// ring, and the event ring plus its 1-entry ERST, then starts the
// controller.
func (c *Controller) Init() error {
	if err := c.Reset(); err != nil {
		return err
	}

	c.op.SetCONFIG(c.cap.MaxSlots)

	dcbaapSize := uint32(c.cap.MaxSlots+1) * dcbaapEntrySize
	dcbaapV, ok := c.dma.Alloc(dcbaapSize, dmaAlign64)
	if !ok {
		return xerr.ErrOutOfMemory
	}
	c.dcbaapV = dcbaapV
	c.op.SetDCBAAP(c.dma.ToPhys(dcbaapV))
	c.slots = make([]*Slot, c.cap.MaxSlots+1)

	cmdRingV, ok := c.dma.Alloc(ringCapacityTRBs*16, dmaAlign64)
	if !ok {
		return xerr.ErrOutOfMemory
	}
	c.cmdRing = NewProducerRing(c.mem, c.hhdm, c.dma.ToPhys(cmdRingV))
	c.op.SetCRCR(c.cmdRing.Phys(), true)

	evtRingV, ok := c.dma.Alloc(ringCapacityTRBs*16, dmaAlign64)
	if !ok {
		return xerr.ErrOutOfMemory
	}
	evtPhys := c.dma.ToPhys(evtRingV)
	c.evtRing = NewEventRing(c.mem, c.hhdm, evtPhys)

	erstV, ok := c.dma.Alloc(16, dmaAlign64) // one ERST entry: {base u64, size u32, rsvd u32}
	if !ok {
		return xerr.ErrOutOfMemory
	}
	erstB := c.mem.Bytes(c.dma.ToPhys(erstV), 16)
	putERSTEntry(erstB, evtPhys, ringCapacityTRBs)

	c.rt.SetERSTSZ(1)
	c.rt.SetERSTBA(c.dma.ToPhys(erstV))
	c.rt.SetERDP(evtPhys, false)
	c.rt.SetIMAN(imanIE)
	c.rt.SetIMOD(0)

	c.op.SetUSBCMD(c.op.USBCMD() | cmdRun | cmdINTE)
	return c.pollUntil(func() bool {
		s := c.op.USBSTS()
		return s&stsHCH == 0 && s&stsCNR == 0
	})
}

func putERSTEntry(b []byte, base addr.Phys, size uint32) {
	putU64(b[0:8], uint64(base))
	putU32(b[8:12], size)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func putU32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Capabilities returns the decoded capability register block.
func (c *Controller) Capabilities() Capabilities { return c.cap }
