// Package acpi parses the subset of ACPI tables the core needs: RSDP
// discovery, RSDT/XSDT traversal, MADT (APIC), HPET and MCFG — all raw
// binary structs decoded with encoding/binary rather than a general
// parser library, the same hand-rolled binary struct decoding used for
// xHCI register layout.
package acpi

import (
	"encoding/binary"
	"fmt"

	"github.com/astra-os/xkernel/internal/addr"
	"github.com/astra-os/xkernel/internal/ioapic"
)

// Memory is the minimal physical-memory read surface table-walking needs.
type Memory interface {
	Bytes(p addr.Phys, n int) []byte
}

const rsdpSignature = "RSD PTR "

// RSDP is the Root System Description Pointer, ACPI 2.0+ (36-byte) form.
type RSDP struct {
	Revision    uint8
	RSDTAddress uint32
	Length      uint32
	XSDTAddress uint64
}

// FindRSDP scans the EBDA and the 0xE0000-0xFFFFF BIOS ROM range for the
// 8-byte "RSD PTR " signature on a 16-byte boundary.
func FindRSDP(mem Memory, ebdaBase addr.Phys) (RSDP, error) {
	if ebdaBase != 0 {
		if r, ok := scanForRSDP(mem, ebdaBase, ebdaBase+1024); ok {
			return r, nil
		}
	}
	if r, ok := scanForRSDP(mem, 0xE0000, 0x100000); ok {
		return r, nil
	}
	return RSDP{}, fmt.Errorf("acpi: RSDP not found")
}

func scanForRSDP(mem Memory, lo, hi addr.Phys) (RSDP, bool) {
	for p := lo; p+36 <= hi; p += 16 {
		b := mem.Bytes(p, 36)
		if string(b[0:8]) != rsdpSignature {
			continue
		}
		return RSDP{
			Revision:    b[15],
			RSDTAddress: binary.LittleEndian.Uint32(b[16:20]),
			Length:      binary.LittleEndian.Uint32(b[20:24]),
			XSDTAddress: binary.LittleEndian.Uint64(b[24:32]),
		}, true
	}
	return RSDP{}, false
}

// sdtHeader is the common ACPI System Description Table header.
type sdtHeader struct {
	Signature [4]byte
	Length    uint32
}

func readHeader(mem Memory, p addr.Phys) sdtHeader {
	b := mem.Bytes(p, 8)
	var h sdtHeader
	copy(h.Signature[:], b[0:4])
	h.Length = binary.LittleEndian.Uint32(b[4:8])
	return h
}

// Tables walks the RSDT (32-bit entries) or XSDT (64-bit entries,
// preferred when present) and returns {signature: physical address} for
// every top-level table.
func Tables(mem Memory, r RSDP) map[string]addr.Phys {
	out := map[string]addr.Phys{}
	if r.XSDTAddress != 0 {
		h := readHeader(mem, addr.Phys(r.XSDTAddress))
		entries := (int(h.Length) - 36) / 8
		body := mem.Bytes(addr.Phys(r.XSDTAddress)+36, entries*8)
		for i := 0; i < entries; i++ {
			p := addr.Phys(binary.LittleEndian.Uint64(body[i*8:]))
			eh := readHeader(mem, p)
			out[string(eh.Signature[:])] = p
		}
		return out
	}
	h := readHeader(mem, addr.Phys(r.RSDTAddress))
	entries := (int(h.Length) - 36) / 4
	body := mem.Bytes(addr.Phys(r.RSDTAddress)+36, entries*4)
	for i := 0; i < entries; i++ {
		p := addr.Phys(binary.LittleEndian.Uint32(body[i*4:]))
		eh := readHeader(mem, p)
		out[string(eh.Signature[:])] = p
	}
	return out
}

// MADT is the parsed subset of the Multiple APIC Description Table
// consumes: LAPIC base (with override), IOAPICs, and Interrupt
// Source Overrides.
type MADT struct {
	LAPICBase uint32
	IOAPICs   []IOAPICEntry
	Overrides []ioapic.Override
}

// IOAPICEntry is one MADT IOAPIC structure.
type IOAPICEntry struct {
	ID      uint8
	Base    uint32
	GSIBase uint32
}

const (
	madtTypeLAPIC            = 0
	madtTypeIOAPIC            = 1
	madtTypeInterruptOverride = 2
	madtTypeLAPICAddrOverride = 5
)

// ParseMADT decodes the APIC table at p. The common 36-byte SDT header is
// followed by a 4-byte local interrupt controller address and a 4-byte
// flags field before the variable-length entry list begins at offset 44.
func ParseMADT(mem Memory, p addr.Phys) MADT {
	h := readHeader(mem, p)
	lapicBase := binary.LittleEndian.Uint32(mem.Bytes(p+36, 4))
	body := mem.Bytes(p+44, int(h.Length)-44)

	m := MADT{LAPICBase: lapicBase}
	for i := 0; i+2 <= len(body); {
		typ := body[i]
		length := int(body[i+1])
		if length == 0 || i+length > len(body) {
			break
		}
		entry := body[i : i+length]
		switch typ {
		case madtTypeIOAPIC:
			m.IOAPICs = append(m.IOAPICs, IOAPICEntry{
				ID:      entry[2],
				Base:    binary.LittleEndian.Uint32(entry[4:8]),
				GSIBase: binary.LittleEndian.Uint32(entry[8:12]),
			})
		case madtTypeInterruptOverride:
			m.Overrides = append(m.Overrides, ioapic.Override{
				SourceIRQ: entry[3],
				GSI:       binary.LittleEndian.Uint32(entry[4:8]),
				Flags:     binary.LittleEndian.Uint16(entry[8:10]),
			})
		case madtTypeLAPICAddrOverride:
			m.LAPICBase = uint32(binary.LittleEndian.Uint64(entry[4:12]))
		}
		i += length
	}
	return m
}

// HPET is the parsed High Precision Event Timer table (MMIO base only,
// the only field names).
type HPET struct {
	MMIOBase addr.Phys
}

// ParseHPET decodes the HPET table at p. The generic address structure's
// address field sits at byte offset 44 in the ACPI 1.0+ layout.
func ParseHPET(mem Memory, p addr.Phys) HPET {
	b := mem.Bytes(p+44, 8)
	return HPET{MMIOBase: addr.Phys(binary.LittleEndian.Uint64(b))}
}

// MCFGSegment is one PCI Express memory-mapped configuration space
// allocation.
type MCFGSegment struct {
	ECAMBase   addr.Phys
	Segment    uint16
	StartBus   uint8
	EndBus     uint8
}

// ParseMCFG decodes the first segment of the MCFG table at p.
func ParseMCFG(mem Memory, p addr.Phys) (MCFGSegment, error) {
	h := readHeader(mem, p)
	if int(h.Length) < 36+8+16 {
		return MCFGSegment{}, fmt.Errorf("acpi: MCFG too short for one segment")
	}
	b := mem.Bytes(p+44, 16) // skip 8 reserved bytes after the header
	return MCFGSegment{
		ECAMBase: addr.Phys(binary.LittleEndian.Uint64(b[0:8])),
		Segment:  binary.LittleEndian.Uint16(b[8:10]),
		StartBus: b[10],
		EndBus:   b[11],
	}, nil
}
