package cpu

import "encoding/binary"

// Gate types.
const (
	gateInterrupt = 0xE
	gateTrap      = 0xF
)

// Vector ranges assigns.
const (
	VecExceptionBase = 0
	VecExceptionLast = 31
	VecIRQBase       = 32
	VecIRQLast       = 47
	VecMSIBase       = 48
)

// idtEntry is a packed 16-byte IDT gate descriptor (long mode).
type idtEntry struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	_          uint32
}

// IDT holds 256 gate descriptors.
type IDT struct {
	gates [256]idtEntry
}

// NewIDT builds an IDT with every gate pointed at handler, a stub dispatch
// address resolved by the caller's linker/assembler stage; this package
// only owns the descriptor table layout, not the assembly trampolines —
// the same separation of bit-layout from runtime trap hooks used for
// page tables elsewhere in this codebase.
func NewIDT(handlers [256]uint64, codeSel uint16) *IDT {
	t := &IDT{}
	for v := 0; v < 256; v++ {
		typ := gateInterrupt
		if v <= VecExceptionLast {
			typ = gateTrap
		}
		t.gates[v] = encodeGate(handlers[v], codeSel, uint8(typ))
	}
	return t
}

func encodeGate(offset uint64, selector uint16, gateType uint8) idtEntry {
	return idtEntry{
		offsetLow:  uint16(offset),
		selector:   selector,
		ist:        0,
		typeAttr:   accPresent | gateType,
		offsetMid:  uint16(offset >> 16),
		offsetHigh: uint32(offset >> 32),
	}
}

// Encode serializes the IDT into its wire (IDTR-pointed) byte form.
func (t *IDT) Encode() []byte {
	buf := make([]byte, len(t.gates)*16)
	for i, g := range t.gates {
		off := i * 16
		binary.LittleEndian.PutUint16(buf[off:], g.offsetLow)
		binary.LittleEndian.PutUint16(buf[off+2:], g.selector)
		buf[off+4] = g.ist
		buf[off+5] = g.typeAttr
		binary.LittleEndian.PutUint16(buf[off+6:], g.offsetMid)
		binary.LittleEndian.PutUint32(buf[off+8:], g.offsetHigh)
	}
	return buf
}

// Frame is the register state delivered to every handler:
// {rip, cs, rflags, rsp, ss}, plus an error code for exceptions that push
// one (8, 10-14, 17, 21, 29, 30).
type Frame struct {
	Vector    uint8
	ErrorCode uint64
	RIP       uint64
	CS        uint64
	RFlags    uint64
	RSP       uint64
	SS        uint64
}

func hasErrorCode(vector uint8) bool {
	switch vector {
	case 8, 10, 11, 12, 13, 14, 17, 21, 29, 30:
		return true
	default:
		return false
	}
}

// Handler processes a trapped frame.
type Handler func(Frame)

// Dispatcher routes vectors to registered handlers, the software half of
// the hardware gate table above.
type Dispatcher struct {
	handlers [256]Handler
}

// NewDispatcher returns a Dispatcher with no handlers registered; unhandled
// vectors are no-ops (callers are expected to register a default exception
// handler at minimum before enabling interrupts).
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register installs h for vector v, overwriting any previous handler.
func (d *Dispatcher) Register(v uint8, h Handler) {
	d.handlers[v] = h
}

// Dispatch invokes the handler registered for f.Vector, if any.
func (d *Dispatcher) Dispatch(f Frame) {
	if h := d.handlers[f.Vector]; h != nil {
		h(f)
	}
}

// HasErrorCode reports whether vector v's trapped frame carries a
// hardware-pushed error code.
func HasErrorCode(vector uint8) bool { return hasErrorCode(vector) }
