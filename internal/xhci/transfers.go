package xhci

import (
	"fmt"

	"github.com/astra-os/xkernel/internal/addr"
	"github.com/astra-os/xkernel/internal/xerr"
)

// Setup is the 8-byte USB control-transfer setup packet.
type Setup struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

func (s Setup) isIn() bool { return s.RequestType&0x80 != 0 }

// transferWaitIterations bounds the synchronous control-transfer
// completion wait, same rationale as commandWaitIterations.
const transferWaitIterations = 10_000

// controlEPDCI is the device-context-index of EP0, fixed for every
// control transfer.
const controlEPDCI = 1

// ControlTransfer submits a three-stage control transfer (Setup, optional
// Data, Status) on slot's EP0 ring and waits for the Status stage's
// transfer event. data must already
// be DMA-heap-resident (e.g. allocated via the same DMA allocator the
// controller itself uses) when setup.Length > 0; callers staging
// host-side buffers are responsible for copying into such a buffer first.
func (c *Controller) ControlTransfer(slot *Slot, setup Setup, data addr.Virt) error {
	if slot.ep0Ring == nil {
		return fmt.Errorf("xhci: slot %d has no EP0 ring", slot.ID)
	}

	setupParam := uint64(setup.RequestType) | uint64(setup.Request)<<8 |
		uint64(setup.Value)<<16 | uint64(setup.Index)<<32 | uint64(setup.Length)<<48
	trt := uint32(0)
	if setup.Length > 0 {
		if setup.isIn() {
			trt = 3 // IN data stage
		} else {
			trt = 2 // OUT data stage
		}
	}
	setupTRB := TRB{
		Parameter: setupParam,
		Status:    uint32(8), // TRB transfer length = 8 (setup packet size)
		Control:   withType(trbIDT|trt<<16, TRBTypeSetupStage),
	}
	slot.ep0Ring.Enqueue(setupTRB)

	if setup.Length > 0 && data != 0 {
		dataPhys := c.dma.ToPhys(data)
		dirBit := uint32(0)
		if setup.isIn() {
			dirBit = 1 << 16
		}
		dataTRB := TRB{
			Parameter: uint64(dataPhys),
			Status:    uint32(setup.Length),
			Control:   withType(dirBit, TRBTypeDataStage),
		}
		slot.ep0Ring.Enqueue(dataTRB)
	}

	statusDir := uint32(1 << 16) // status stage direction opposite of data
	if setup.Length > 0 && setup.isIn() {
		statusDir = 0
	}
	statusTRB := TRB{Control: withType(statusDir|trbIOC, TRBTypeStatusStage)}
	statusPhys := slot.ep0Ring.Enqueue(statusTRB)

	c.db.Ring(slot.ID, controlEPDCI)

	for i := 0; i < transferWaitIterations; i++ {
		c.ProcessEvents()
		if ev, ok := c.transferCompletions[statusPhys]; ok {
			delete(c.transferCompletions, statusPhys)
			if ev.CompletionCode() != CompletionSuccess && ev.CompletionCode() != CompletionShortPacket {
				return fmt.Errorf("%w: completion code %d", xerr.ErrTransferFailed, ev.CompletionCode())
			}
			return nil
		}
		c.sleep(0)
	}
	return fmt.Errorf("%w: control transfer on slot %d", xerr.ErrMmioTimeout, slot.ID)
}
