package pfa

import (
	"testing"

	"github.com/astra-os/xkernel/internal/addr"
	"github.com/astra-os/xkernel/internal/hwsim"
	"github.com/astra-os/xkernel/internal/memmap"
)

const hhdmOffset = addr.Virt(0xffff_8000_0000_0000)

func newTestAllocator(t *testing.T, mm memmap.Map) (*Allocator, *hwsim.Arena) {
	t.Helper()
	arena, err := hwsim.NewArena(mm.MaxPhysAddr().AlignUp(addr.PageSize).AlignUp(1 << 20).AlignDown(1 << 20) + 4<<20)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	t.Cleanup(func() { arena.Close() })
	a := New(arena, addr.HHDM{Offset: hhdmOffset})
	if err := a.Init(mm); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return a, arena
}

// S1: PFA boundary scenario from
func TestPFABoundaryScenario(t *testing.T) {
	mm := memmap.Map{
		{Base: 0x100000, Length: 16 * addr.PageSize, Type: memmap.Usable},
	}
	a, _ := newTestAllocator(t, mm)

	var got []Frame
	for i := 0; i < 16; i++ {
		f, ok := a.AllocPage()
		if !ok {
			t.Fatalf("alloc %d: expected success", i)
		}
		if f.Phys < 0x100000 || f.Phys >= 0x110000 {
			t.Fatalf("alloc %d: phys %#x out of expected region", i, f.Phys)
		}
		if f.Virt != a.hhdm.ToVirt(f.Phys) {
			t.Fatalf("alloc %d: virt %#x != hhdm+phys", i, f.Virt)
		}
		got = append(got, f)
	}

	if _, ok := a.AllocPage(); ok {
		t.Fatalf("17th alloc should fail: region exhausted")
	}

	a.FreePage(got[0].Phys)
	if _, ok := a.AllocPage(); !ok {
		t.Fatalf("alloc after free should succeed")
	}
}

func TestAllocPageZeroesMemory(t *testing.T) {
	mm := memmap.Map{{Base: 0x100000, Length: 4 * addr.PageSize, Type: memmap.Usable}}
	a, arena := newTestAllocator(t, mm)

	f, ok := a.AllocPage()
	if !ok {
		t.Fatal("expected success")
	}
	b := arena.Bytes(f.Phys, addr.PageSize)
	b[0] = 0xAA
	a.FreePage(f.Phys)

	f2, ok := a.AllocPage()
	if !ok {
		t.Fatal("expected success")
	}
	b2 := arena.Bytes(f2.Phys, addr.PageSize)
	if b2[0] != 0 {
		t.Fatalf("freshly allocated page not zeroed: got %#x", b2[0])
	}
}

func TestDoubleFreeTolerated(t *testing.T) {
	mm := memmap.Map{{Base: 0x100000, Length: 4 * addr.PageSize, Type: memmap.Usable}}
	a, _ := newTestAllocator(t, mm)

	f, _ := a.AllocPage()
	a.FreePage(f.Phys)
	a.FreePage(f.Phys) // must not panic
}

func TestFreeNullIsNoop(t *testing.T) {
	mm := memmap.Map{{Base: 0x100000, Length: addr.PageSize, Type: memmap.Usable}}
	a, _ := newTestAllocator(t, mm)
	a.FreePage(0) // must not panic
}

// S3 from: alloc_contiguous invariants.
func TestAllocContiguous(t *testing.T) {
	mm := memmap.Map{{Base: 0x100000, Length: 64 * addr.PageSize, Type: memmap.Usable}}
	a, _ := newTestAllocator(t, mm)

	f, ok := a.AllocContiguous(8, 16*addr.PageSize, 0x200000)
	if !ok {
		t.Fatal("expected success")
	}
	if uint64(f.Phys)%(16*addr.PageSize) != 0 {
		t.Fatalf("phys %#x not aligned", f.Phys)
	}
	if f.Phys+addr.Phys(8*addr.PageSize) > 0x200000 {
		t.Fatalf("phys %#x + size exceeds maxPhys", f.Phys)
	}
	if f.Virt != a.hhdm.ToVirt(f.Phys) {
		t.Fatalf("virt %#x != hhdm+phys", f.Virt)
	}
}

func TestAllocContiguousRespectsMaxPhys(t *testing.T) {
	mm := memmap.Map{{Base: 0, Length: 64 * addr.PageSize, Type: memmap.Usable}}
	a, _ := newTestAllocator(t, mm)

	// Ask for a run that can only fit past maxPhys: should fail.
	if _, ok := a.AllocContiguous(64, addr.PageSize, 8*addr.PageSize); ok {
		t.Fatal("expected failure: run cannot fit under maxPhys")
	}
}

func TestTotalUsablePagesSubtractsBitmapCost(t *testing.T) {
	mm := memmap.Map{{Base: 0x100000, Length: 16 * addr.PageSize, Type: memmap.Usable}}
	a, _ := newTestAllocator(t, mm)
	// bitmapBytes = ceil(16/8) = 2 bytes => bitmapPgs = 1 page self-hosted.
	if got := a.TotalUsablePages(); got != 15 {
		t.Fatalf("TotalUsablePages = %d, want 15 (16 - 1 bitmap page)", got)
	}
}
