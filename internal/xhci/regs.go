// Package xhci implements the xHCI host-controller core: capability and
// operational register discovery, reset, command/event rings with
// cycle-bit discipline, the slot/endpoint state machine, and control
// transfer submission. Modeled on a small-interface style (Page_i,
// Unpin_i) for the MMIO/DMA-memory seams, and on a simple mutex-guarded
// vector-set pattern for the IRQ vector request path.
package xhci

import (
	"encoding/binary"

	"github.com/astra-os/xkernel/internal/addr"
)

// MMIO is a 32/64-bit memory-mapped register window, read and written
// with full fences bracketing each access. Implementations must fence internally; callers never fence
// directly so every access path gets the same barrier discipline.
type MMIO interface {
	Read32(offset uint32) uint32
	Write32(offset uint32, v uint32)
	Read64(offset uint32) uint64
	Write64(offset uint32, v uint64)
}

// Capability register offsets (relative to the capability base).
const (
	capCAPLENGTH  = 0x00 // u8
	capHCIVERSION = 0x02 // u16
	capHCSPARAMS1 = 0x04
	capHCSPARAMS2 = 0x08
	capHCSPARAMS3 = 0x0C
	capHCCPARAMS1 = 0x10
	capDBOFF      = 0x14
	capRTSOFF     = 0x18
	capHCCPARAMS2 = 0x1C
)

// Operational register offsets (relative to cap + CAPLENGTH).
const (
	opUSBCMD  = 0x00
	opUSBSTS  = 0x04
	opPAGESIZE = 0x08
	opDNCTRL  = 0x14
	opCRCR    = 0x18
	opDCBAAP  = 0x30
	opCONFIG  = 0x38
	opPortBase = 0x400
	opPortStride = 0x10
)

// USBCMD bits.
const (
	cmdRun   = 1 << 0
	cmdHCRST = 1 << 1
	cmdINTE  = 1 << 2
)

// USBSTS bits.
const (
	stsHCH = 1 << 0 // HCHalted
	stsCNR = 1 << 11 // Controller Not Ready
)

// Runtime register offsets (relative to cap + RTSOFF); interrupter 0's
// registers follow at +0x20.
const (
	rtIR0Base  = 0x20
	irIMAN     = 0x00
	irIMOD     = 0x04
	irERSTSZ   = 0x08
	irERSTBA   = 0x10
	irERDP     = 0x18
)

const (
	imanIE = 1 << 1
)

// Capabilities is the decoded capability register block.
type Capabilities struct {
	CapLength  uint8
	HCIVersion uint16
	MaxSlots   uint8
	MaxPorts   uint8
	MaxIntrs   uint16
	DBOff      uint32
	RTSOff     uint32
}

// ReadCapabilities decodes the fixed capability register block at the base
// of mmio.
func ReadCapabilities(mmio MMIO) Capabilities {
	caplenVer := mmio.Read32(capCAPLENGTH)
	hcs1 := mmio.Read32(capHCSPARAMS1)
	return Capabilities{
		CapLength:  uint8(caplenVer),
		HCIVersion: uint16(caplenVer >> 16),
		MaxSlots:   uint8(hcs1),
		MaxIntrs:   uint16(hcs1>>8) & 0x7FF,
		MaxPorts:   uint8(hcs1 >> 24),
		DBOff:      mmio.Read32(capDBOFF) &^ 0x3,
		RTSOff:     mmio.Read32(capRTSOFF) &^ 0x1F,
	}
}

// Operational provides accessors over the operational register block,
// offset from mmio by the capability's CapLength.
type Operational struct {
	mmio MMIO
	base uint32
}

func newOperational(mmio MMIO, capLength uint8) *Operational {
	return &Operational{mmio: mmio, base: uint32(capLength)}
}

func (o *Operational) read(off uint32) uint32  { return o.mmio.Read32(o.base + off) }
func (o *Operational) write(off uint32, v uint32) { o.mmio.Write32(o.base+off, v) }

func (o *Operational) USBCMD() uint32        { return o.read(opUSBCMD) }
func (o *Operational) SetUSBCMD(v uint32)    { o.write(opUSBCMD, v) }
func (o *Operational) USBSTS() uint32        { return o.read(opUSBSTS) }
func (o *Operational) SetCONFIG(maxSlots uint8) { o.write(opCONFIG, uint32(maxSlots)) }
func (o *Operational) SetDCBAAP(phys addr.Phys) {
	o.mmio.Write64(o.base+opDCBAAP, uint64(phys))
}
func (o *Operational) SetCRCR(phys addr.Phys, ringCycle bool) {
	v := uint64(phys) &^ 0x3F
	if ringCycle {
		v |= 1
	}
	o.mmio.Write64(o.base+opCRCR, v)
}

// PortSC reads port n's (0-based) PORTSC register.
func (o *Operational) PortSC(n int) uint32 {
	return o.read(uint32(opPortBase + n*opPortStride))
}

// SetPortSC writes port n's PORTSC register. xHCI PORTSC has
// write-1-to-clear bits (connect/enable/reset change) interleaved with
// normal RW bits; callers are expected to have read-modify-written
// correctly against the writable-bits mask — this package does not
// second-guess caller-supplied values.
func (o *Operational) SetPortSC(n int, v uint32) {
	o.write(uint32(opPortBase+n*opPortStride), v)
}

// Runtime provides accessors over interrupter 0's registers.
type Runtime struct {
	mmio MMIO
	base uint32
}

func newRuntime(mmio MMIO, rtsOff uint32) *Runtime {
	return &Runtime{mmio: mmio, base: rtsOff + rtIR0Base}
}

func (r *Runtime) SetIMAN(v uint32)  { r.mmio.Write32(r.base+irIMAN, v) }
func (r *Runtime) SetIMOD(v uint32)  { r.mmio.Write32(r.base+irIMOD, v) }
func (r *Runtime) SetERSTSZ(n uint32) { r.mmio.Write32(r.base+irERSTSZ, n) }
func (r *Runtime) SetERSTBA(p addr.Phys) { r.mmio.Write64(r.base+irERSTBA, uint64(p)) }
func (r *Runtime) SetERDP(p addr.Phys, eventHandlerBusy bool) {
	v := uint64(p) &^ 0x7
	if eventHandlerBusy {
		v |= 1 << 3
	}
	r.mmio.Write64(r.base+irERDP, v)
}
func (r *Runtime) ERDP() uint64 { return r.mmio.Read64(r.base + irERDP) }

// Doorbells rings doorbell registers, one 32-bit dword per slot.
type Doorbells struct {
	mmio MMIO
	base uint32
}

func newDoorbells(mmio MMIO, dbOff uint32) *Doorbells {
	return &Doorbells{mmio: mmio, base: dbOff}
}

// Ring writes the doorbell for slot, targeting device context index dci.
func (d *Doorbells) Ring(slot uint8, dci uint8) {
	d.mmio.Write32(d.base+uint32(slot)*4, uint32(dci))
}

// encodeTRB/decodeTRB implement the 16-byte Transfer Request Block
// encoding shared by command, transfer, and event rings.
func encodeTRB(t TRB) [16]byte {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], t.Parameter)
	binary.LittleEndian.PutUint32(b[8:12], t.Status)
	binary.LittleEndian.PutUint32(b[12:16], t.Control)
	return b
}

func decodeTRB(b []byte) TRB {
	return TRB{
		Parameter: binary.LittleEndian.Uint64(b[0:8]),
		Status:    binary.LittleEndian.Uint32(b[8:12]),
		Control:   binary.LittleEndian.Uint32(b[12:16]),
	}
}
