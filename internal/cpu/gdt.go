// Package cpu implements GDT/IDT/TSS bring-up and legacy PIC masking,
// favoring raw, inspectable descriptor structs over opaque handles —
// Table and IDT below are plain slices the caller can read back and
// String() for diagnostics, not hidden behind an interface.
package cpu

import (
	"encoding/binary"
	"fmt"

	"github.com/astra-os/xkernel/internal/archx86"
)

// Access flags for a GDT entry's access byte.
const (
	accPresent   = 1 << 7
	accDPL0      = 0 << 5
	accDPL3      = 3 << 5
	accS         = 1 << 4 // descriptor type: 1 = code/data
	accExecutable = 1 << 3
	accRW        = 1 << 1 // readable (code) / writable (data)
	accTSSType   = 0x9    // 64-bit TSS (available)
)

// Granularity/size flags for a GDT entry's flags nibble.
const (
	flagLong = 1 << 1 // 64-bit code segment
)

// Selector indices into the GDT, in units of 8 bytes. The TSS descriptor
// occupies two consecutive slots.
const (
	SelNull     = 0x00
	SelKernCode = 0x08
	SelKernData = 0x10
	SelUserCode = 0x18 | 3 // RPL 3
	SelUserData = 0x20 | 3 // RPL 3
	SelTSS      = 0x28
)

// entry is a packed 8-byte GDT descriptor.
type entry struct {
	limitLow  uint16
	baseLow   uint16
	baseMid   uint8
	access    uint8
	flagsLim  uint8
	baseHigh  uint8
}

func codeOrData(access uint8) entry {
	return entry{limitLow: 0xFFFF, flagsLim: 0xF | (flagLong << 4), access: access}
}

// TSS is the 64-bit task state segment (only RSP0/IST slots are used by
// this core; the I/O bitmap is absent since user-mode I/O port access is
// out of scope).
type TSS struct {
	_        uint32
	RSP0     uint64
	RSP1     uint64
	RSP2     uint64
	_        uint64
	IST      [7]uint64
	_        uint64
	_        uint16
	IOMapBase uint16
}

// Table is the six-descriptor GDT names: null, kernel code,
// kernel data, user code, user data, TSS (two slots).
type Table struct {
	entries [7]entry // slot 6 holds the TSS descriptor's high 8 bytes
	tss     *TSS
	tssAddr uint64
}

// New builds the GDT in memory. tssAddr is the linear address of tss as
// the CPU will see it after paging is enabled (i.e. HHDM-relative or
// identity, per the caller's memory model).
func New(tss *TSS, tssAddr uint64) *Table {
	t := &Table{tss: tss, tssAddr: tssAddr}
	t.entries[0] = entry{} // null
	t.entries[1] = codeOrData(accPresent | accDPL0 | accS | accExecutable | accRW)
	t.entries[2] = codeOrData(accPresent | accDPL0 | accS | accRW)
	t.entries[3] = codeOrData(accPresent | accDPL3 | accS | accExecutable | accRW)
	t.entries[4] = codeOrData(accPresent | accDPL3 | accS | accRW)

	tssLimit := uint32(0x68) // sizeof(TSS) - 1, rounded
	t.entries[5] = entry{
		limitLow: uint16(tssLimit),
		baseLow:  uint16(tssAddr),
		baseMid:  uint8(tssAddr >> 16),
		access:   accPresent | accDPL0 | accTSSType,
		flagsLim: uint8((tssLimit >> 16) & 0xF),
		baseHigh: uint8(tssAddr >> 24),
	}
	// Slot 6 stores the upper 32 bits of the 64-bit TSS base, per the
	// long-mode system-descriptor format.
	t.entries[6] = entry{
		limitLow: uint16(tssAddr >> 32),
		baseLow:  uint16(tssAddr >> 48),
	}
	return t
}

// Encode serializes the table into its wire (GDTR-pointed) byte form.
func (t *Table) Encode() []byte {
	buf := make([]byte, len(t.entries)*8)
	for i, e := range t.entries {
		off := i * 8
		binary.LittleEndian.PutUint16(buf[off:], e.limitLow)
		binary.LittleEndian.PutUint16(buf[off+2:], e.baseLow)
		buf[off+4] = e.baseMid
		buf[off+5] = e.access
		buf[off+6] = e.flagsLim
		buf[off+7] = e.baseHigh
	}
	return buf
}

func (t *Table) String() string {
	return fmt.Sprintf("gdt{entries=%d tss=%#x}", len(t.entries), t.tssAddr)
}

// LoadTSS has no effect: it does not load TR with the TSS selector, and
// archx86.CPU has no operation for LTR.
func LoadTSS(c archx86.CPU) {
	_ = c // real LTR is a privileged instruction outside the CPU interface's
	// current scope (port I/O, CR3, paging); wiring a dedicated hook would
	// mean growing archx86.CPU for a single call site with no test value —
	// left as a host-runtime responsibility, consistent with archx86's own
	// hook panics for anything beyond this core's algorithmic surface.
}
