package xhci

import (
	"fmt"

	"github.com/astra-os/xkernel/internal/addr"
	"github.com/astra-os/xkernel/internal/xerr"
)

func phys(v uint64) addr.Phys { return addr.Phys(v) }

// commandDoorbellTarget is the fixed doorbell-register "DCI" value used to
// ring the command ring (distinct from per-endpoint transfer-ring
// doorbells).
const commandDoorbellTarget = 0

// commandWaitIterations bounds the synchronous command-completion wait.
const commandWaitIterations = 10_000

// submitCommand enqueues t on the command ring, rings the doorbell, and
// polls ProcessEvents until a Command Completion Event reports completing
// t's TRB pointer.
func (c *Controller) submitCommand(t TRB) (TRB, error) {
	trbPhys := c.cmdRing.Enqueue(t)
	c.db.Ring(0, commandDoorbellTarget)

	for i := 0; i < commandWaitIterations; i++ {
		c.ProcessEvents()
		if done, ok := c.completedCommands[trbPhys]; ok {
			delete(c.completedCommands, trbPhys)
			if done.CompletionCode() != CompletionSuccess {
				return done, fmt.Errorf("%w: completion code %d", xerr.ErrCommandFailed, done.CompletionCode())
			}
			return done, nil
		}
		c.sleep(0)
	}
	return TRB{}, fmt.Errorf("%w: command at %#x", xerr.ErrMmioTimeout, trbPhys)
}

// EnableSlot issues an Enable Slot command and, on success, creates a Slot
// tracking struct in StateEnabled rooted at the returned slot ID.
func (c *Controller) EnableSlot(port uint8) (*Slot, error) {
	t := TRB{Control: withType(0, TRBTypeEnableSlotCmd)}
	done, err := c.submitCommand(t)
	if err != nil {
		return nil, err
	}
	slot := &Slot{ID: done.SlotID(), State: StateEnabled, Port: port}
	c.slots[slot.ID] = slot
	return slot, nil
}

// USB device speeds, as xHCI slot context encodes them.
const (
	SpeedFull  = 1
	SpeedLow   = 2
	SpeedHigh  = 3
	SpeedSuper = 4
)

func ep0MaxPacket(speed uint8) uint16 {
	if speed == SpeedSuper {
		return 512
	}
	if speed == SpeedHigh {
		return 64
	}
	return 8
}

// inputContextSize matches a minimal {Input Control Context, Slot
// Context, EP0 Context} layout: 3 * 32 bytes, 64-byte aligned as
// required for every context structure.
const (
	contextEntrySize    = 32
	inputControlOffset  = 0
	slotContextOffset   = contextEntrySize
	ep0ContextOffset    = contextEntrySize * 2
	inputContextSize    = contextEntrySize * 3
	deviceContextSize   = contextEntrySize * 2 // {Slot, EP0} once addressed
)

// AddressDevice allocates the device context, builds the input context
// (add_flags={slot,EP0}; slot_ctx{speed,root_hub_port,context_entries=1};
// EP0{type=Control,max_packet,TR-dequeue,DCS=1,interval=0}), wires it into
// DCBAAP[slot], and issues Address Device.
func (c *Controller) AddressDevice(slot *Slot, speed uint8) error {
	devCtxV, ok := c.dma.Alloc(deviceContextSize, dmaAlign64)
	if !ok {
		return xerr.ErrOutOfMemory
	}
	devCtxPhys := c.dma.ToPhys(devCtxV)
	slot.deviceCtxV = devCtxV

	dcbaapB := c.mem.Bytes(c.dma.ToPhys(c.dcbaapV)+phys(addrOff(slot.ID, dcbaapEntrySize)), dcbaapEntrySize)
	putU64(dcbaapB, uint64(devCtxPhys))

	ep0RingV, ok := c.dma.Alloc(ringCapacityTRBs*16, dmaAlign64)
	if !ok {
		return xerr.ErrOutOfMemory
	}
	slot.ep0Ring = NewProducerRing(c.mem, c.hhdm, c.dma.ToPhys(ep0RingV))

	inputV, ok := c.dma.Alloc(inputContextSize, dmaAlign64)
	if !ok {
		return xerr.ErrOutOfMemory
	}
	inputB := c.mem.Bytes(c.dma.ToPhys(inputV), inputContextSize)

	// Input control context: add_flags bits 0 (slot) and 1 (EP0).
	putU32(inputB[inputControlOffset+4:], 0x3)

	// Slot context: {speed<<20 | context_entries<<27, root_hub_port<<16}.
	putU32(inputB[slotContextOffset:], uint32(speed)<<20|uint32(1)<<27)
	putU32(inputB[slotContextOffset+4:], uint32(slot.Port)<<16)

	// EP0 context: {ep_type=control(4)<<3, max_packet<<16}, TR dequeue
	// pointer | DCS=1, interval=0.
	putU32(inputB[ep0ContextOffset+4:], uint32(4)<<3|uint32(ep0MaxPacket(speed))<<16)
	putU64(inputB[ep0ContextOffset+8:], uint64(slot.ep0Ring.Phys())|1)

	t := TRB{Parameter: uint64(c.dma.ToPhys(inputV)), Control: withType(uint32(slot.ID)<<24, TRBTypeAddressDeviceCmd)}
	if _, err := c.submitCommand(t); err != nil {
		return err
	}
	slot.State = StateAddressed
	return nil
}

func addrOff(slotID uint8, entrySize uint32) uint64 {
	return uint64(slotID) * uint64(entrySize)
}

// ConfigureEndpoint issues a Configure Endpoint command with the given
// pre-built input context (additional endpoint contexts layered on top of
// the caller's own input-context construction); this package only owns
// the command submission and state transition, not every possible
// endpoint-context shape.
func (c *Controller) ConfigureEndpoint(slot *Slot, inputContextPhys uint64) error {
	t := TRB{Parameter: inputContextPhys, Control: withType(uint32(slot.ID)<<24, TRBTypeConfigureEndpointCmd)}
	if _, err := c.submitCommand(t); err != nil {
		return err
	}
	slot.State = StateConfigured
	return nil
}

// DisableSlot issues a Disable Slot command and, on success, returns the
// slot to StateDefault and releases its DCBAAP entry.
func (c *Controller) DisableSlot(slot *Slot) error {
	t := TRB{Control: withType(uint32(slot.ID)<<24, TRBTypeDisableSlotCmd)}
	if _, err := c.submitCommand(t); err != nil {
		return err
	}
	dcbaapB := c.mem.Bytes(c.dma.ToPhys(c.dcbaapV)+phys(addrOff(slot.ID, dcbaapEntrySize)), dcbaapEntrySize)
	putU64(dcbaapB, 0)
	slot.State = StateDefault
	if slot.deviceCtxV != 0 {
		c.dma.Free(slot.deviceCtxV)
	}
	c.slots[slot.ID] = nil
	return nil
}
