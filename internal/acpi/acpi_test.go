package acpi

import (
	"encoding/binary"
	"testing"

	"github.com/astra-os/xkernel/internal/addr"
)

// flatMemory is a simulated physical address space backed by a single
// byte slice, sufficient for table-walk tests that never need paging.
type flatMemory struct {
	buf []byte
}

func newFlatMemory(size int) *flatMemory { return &flatMemory{buf: make([]byte, size)} }

func (f *flatMemory) Bytes(p addr.Phys, n int) []byte {
	return f.buf[p : int(p)+n]
}

func putHeader(b []byte, off int, sig string, length uint32) {
	copy(b[off:], sig)
	binary.LittleEndian.PutUint32(b[off+4:], length)
}

func TestFindRSDPScansBIOSROMRange(t *testing.T) {
	mem := newFlatMemory(0x100000)
	off := 0xE0020
	copy(mem.buf[off:], rsdpSignature)
	mem.buf[off+15] = 2 // revision 2 => ACPI 2.0+
	binary.LittleEndian.PutUint64(mem.buf[off+24:], 0x9000)

	r, err := FindRSDP(mem, 0)
	if err != nil {
		t.Fatalf("FindRSDP: %v", err)
	}
	if r.XSDTAddress != 0x9000 {
		t.Fatalf("XSDTAddress = %#x, want 0x9000", r.XSDTAddress)
	}
}

func TestFindRSDPNotFoundIsError(t *testing.T) {
	mem := newFlatMemory(0x100000)
	if _, err := FindRSDP(mem, 0); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestTablesWalksXSDTEntries(t *testing.T) {
	mem := newFlatMemory(0x10000)
	const xsdtOff = 0x1000
	const madtOff = 0x2000

	putHeader(mem.buf, madtOff, "APIC", 44)
	putHeader(mem.buf, xsdtOff, "XSDT", 36+8)
	binary.LittleEndian.PutUint64(mem.buf[xsdtOff+36:], madtOff)

	tabs := Tables(mem, RSDP{XSDTAddress: xsdtOff})
	if tabs["APIC"] != madtOff {
		t.Fatalf("APIC entry = %#x, want %#x", tabs["APIC"], madtOff)
	}
}

func TestParseMADTExtractsIOAPICAndOverride(t *testing.T) {
	mem := newFlatMemory(0x10000)
	const madtOff = 0x1000

	body := []byte{}
	// IOAPIC entry: type=1 len=12 id=0 _ base gsibase
	ioapicEntry := make([]byte, 12)
	ioapicEntry[0] = 1
	ioapicEntry[1] = 12
	ioapicEntry[2] = 0
	binary.LittleEndian.PutUint32(ioapicEntry[4:], 0xFEC00000)
	binary.LittleEndian.PutUint32(ioapicEntry[8:], 0)
	body = append(body, ioapicEntry...)

	// Interrupt Source Override: type=2 len=10 bus=0 source=0 gsi=2 flags
	overrideEntry := make([]byte, 10)
	overrideEntry[0] = 2
	overrideEntry[1] = 10
	overrideEntry[3] = 0 // source IRQ 0
	binary.LittleEndian.PutUint32(overrideEntry[4:], 2)
	binary.LittleEndian.PutUint16(overrideEntry[8:], 0xA)
	body = append(body, overrideEntry...)

	putHeader(mem.buf, madtOff, "APIC", uint32(44+len(body)))
	binary.LittleEndian.PutUint32(mem.buf[madtOff+36:], 0xFEE00000) // lapic base
	copy(mem.buf[madtOff+44:], body)

	m := ParseMADT(mem, madtOff)
	if m.LAPICBase != 0xFEE00000 {
		t.Fatalf("LAPICBase = %#x", m.LAPICBase)
	}
	if len(m.IOAPICs) != 1 || m.IOAPICs[0].Base != 0xFEC00000 {
		t.Fatalf("IOAPICs = %+v", m.IOAPICs)
	}
	if len(m.Overrides) != 1 || m.Overrides[0].GSI != 2 || m.Overrides[0].Flags != 0xA {
		t.Fatalf("Overrides = %+v", m.Overrides)
	}
}

func TestParseMCFGReadsFirstSegment(t *testing.T) {
	mem := newFlatMemory(0x10000)
	const mcfgOff = 0x1000
	putHeader(mem.buf, mcfgOff, "MCFG", 36+8+16)
	binary.LittleEndian.PutUint64(mem.buf[mcfgOff+44:], 0xB0000000)
	binary.LittleEndian.PutUint16(mem.buf[mcfgOff+52:], 0)
	mem.buf[mcfgOff+54] = 0
	mem.buf[mcfgOff+55] = 255

	seg, err := ParseMCFG(mem, mcfgOff)
	if err != nil {
		t.Fatalf("ParseMCFG: %v", err)
	}
	if seg.ECAMBase != 0xB0000000 || seg.EndBus != 255 {
		t.Fatalf("seg = %+v", seg)
	}
}

func TestParseHPETReadsMMIOBase(t *testing.T) {
	mem := newFlatMemory(0x10000)
	const hpetOff = 0x1000
	putHeader(mem.buf, hpetOff, "HPET", 56)
	binary.LittleEndian.PutUint64(mem.buf[hpetOff+44:], 0xFED00000)

	h := ParseHPET(mem, hpetOff)
	if h.MMIOBase != 0xFED00000 {
		t.Fatalf("MMIOBase = %#x", h.MMIOBase)
	}
}
