package vmm

import (
	"testing"

	"github.com/astra-os/xkernel/internal/addr"
	"github.com/astra-os/xkernel/internal/archx86"
	"github.com/astra-os/xkernel/internal/hwsim"
	"github.com/astra-os/xkernel/internal/memmap"
	"github.com/astra-os/xkernel/internal/pfa"
)

const hhdmOffset = addr.Virt(0xffff_8000_0000_0000)

func newTestManager(t *testing.T, ramBytes uint64) (*Manager, *pfa.Allocator, *archx86.Sim) {
	t.Helper()
	arena, err := hwsim.NewArena(ramBytes)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	t.Cleanup(func() { arena.Close() })

	mm := memmap.Map{{Base: 0, Length: ramBytes, Type: memmap.Usable}}
	fa := pfa.New(arena, addr.HHDM{Offset: hhdmOffset})
	if err := fa.Init(mm); err != nil {
		t.Fatalf("pfa.Init: %v", err)
	}

	sim := archx86.NewSim()
	m := New(arena, fa, sim, addr.HHDM{Offset: hhdmOffset})
	// Init is not called here: the PML4 is allocated directly and individual
	// tests install their own mappings via Map so region boundary math stays
	// simple.
	root, ok := fa.AllocPage()
	if !ok {
		t.Fatal("alloc PML4")
	}
	m.root = root.Phys
	return m, fa, sim
}

func TestMapTranslateUnmap4K(t *testing.T) {
	m, _, sim := newTestManager(t, 8<<20)

	virt := addr.Virt(0x4000_0000)
	phys := addr.Phys(0x10_0000)
	if err := m.Map(virt, phys, Present|Writable, Size4K); err != nil {
		t.Fatalf("Map: %v", err)
	}
	got, ok := m.Translate(virt)
	if !ok || got != phys {
		t.Fatalf("Translate(%#x) = %#x, %v; want %#x, true", virt, got, ok, phys)
	}
	got, ok = m.Translate(virt + 4095)
	if !ok || got != phys+4095 {
		t.Fatalf("Translate(%#x+4095) = %#x, %v; want %#x, true", virt, got, ok, phys+4095)
	}
	if len(sim.InvlpgLog) == 0 {
		t.Fatal("expected Map to invalidate the TLB")
	}

	m.Unmap(virt)
	if _, ok := m.Translate(virt); ok {
		t.Fatal("expected translate to fail after unmap")
	}
}

// S2 from: mapping a 2 MiB huge page and then a 4 KiB mapping
// inside it must split the huge entry.
func TestMapSplitsHugePage(t *testing.T) {
	m, _, _ := newTestManager(t, 16<<20)

	virt := addr.Virt(0xffff_8000_0020_0000)
	phys := addr.Phys(0x20_0000)
	if err := m.Map(virt, phys, Huge|Writable|Present, Size2M); err != nil {
		t.Fatalf("Map 2M: %v", err)
	}
	got, ok := m.Translate(virt)
	if !ok || got != phys {
		t.Fatalf("Translate before split = %#x, %v; want %#x", got, ok, phys)
	}

	if err := m.Map(virt, phys, Writable|Present, Size4K); err != nil {
		t.Fatalf("Map 4K over huge: %v", err)
	}

	got, ok = m.Translate(virt + 4096)
	if !ok || got != phys+4096 {
		t.Fatalf("Translate(virt+4096) = %#x, %v; want %#x", got, ok, phys+4096)
	}
	got, ok = m.Translate(virt)
	if !ok || got != phys {
		t.Fatalf("Translate(virt) after split = %#x, %v; want %#x", got, ok, phys)
	}
}

func TestUnmapUnmappedIsNoop(t *testing.T) {
	m, _, _ := newTestManager(t, 8<<20)
	m.Unmap(0x1234_5000) // must not panic
}

func TestMapMMIOIsMonotonicAndTranslates(t *testing.T) {
	m, _, _ := newTestManager(t, 8<<20)

	v1, err := m.MapMMIO(0xfed0_0000, addr.PageSize)
	if err != nil {
		t.Fatalf("MapMMIO: %v", err)
	}
	v2, err := m.MapMMIO(0xfed0_1000, addr.PageSize)
	if err != nil {
		t.Fatalf("MapMMIO: %v", err)
	}
	if v2 <= v1 {
		t.Fatalf("expected monotonically increasing MMIO virtuals, got %#x then %#x", v1, v2)
	}

	got, ok := m.Translate(v1)
	if !ok || got != 0xfed0_0000 {
		t.Fatalf("Translate(mmio) = %#x, %v; want 0xfed00000", got, ok)
	}
}

func TestMapRejectsMisalignedRequest(t *testing.T) {
	m, _, _ := newTestManager(t, 8<<20)
	if err := m.Map(0x1001, 0x2000, Present|Writable, Size4K); err == nil {
		t.Fatal("expected alignment error")
	}
}
