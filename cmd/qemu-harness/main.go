// Command qemu-harness is the local host test rig for the core packages:
// it builds a simulated physical arena (internal/hwsim's mmap-go-backed
// Arena, the same one the _test.go suites use) and drives PFA/VMM/heap
// bring-up plus an ACPI RSDP search over it, before the kernel ever runs
// under real QEMU/hardware. Before that it probes golang.org/x/sys/unix's
// anonymous mmap to confirm the primitive works on this host; the arena
// itself does not use it.
package main

import (
	"fmt"
	"log"

	"golang.org/x/sys/unix"

	"github.com/astra-os/xkernel/internal/acpi"
	"github.com/astra-os/xkernel/internal/addr"
	"github.com/astra-os/xkernel/internal/archx86"
	"github.com/astra-os/xkernel/internal/heap"
	"github.com/astra-os/xkernel/internal/hwsim"
	"github.com/astra-os/xkernel/internal/klog"
	"github.com/astra-os/xkernel/internal/memmap"
	"github.com/astra-os/xkernel/internal/pfa"
	"github.com/astra-os/xkernel/internal/vmm"
)

// probeUnixMmap confirms the unix.Mmap primitive is usable on this host
// before falling back to hwsim's own mmap-go-backed arena for the actual
// simulation; this harness's job is to validate the host environment, not
// to reimplement hwsim.Arena on a second mmap path.
func probeUnixMmap() error {
	b, err := unix.Mmap(-1, 0, int(addr.PageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return fmt.Errorf("qemu-harness: unix.Mmap probe: %w", err)
	}
	defer unix.Munmap(b)
	return nil
}

func main() {
	logger := klog.New(klog_stdout(), klog.LevelDebug)

	if err := probeUnixMmap(); err != nil {
		log.Fatal(err)
	}
	logger.Infof("host anonymous mmap available")

	const arenaSize = 64 << 20
	arena, err := hwsim.NewArena(arenaSize)
	if err != nil {
		log.Fatalf("qemu-harness: NewArena: %v", err)
	}
	defer arena.Close()

	hhdm := addr.HHDM{Offset: 0}
	mm := memmap.Map{
		{Base: 0x100000, Length: arenaSize - 0x100000, Type: memmap.Usable},
	}

	fa := pfa.New(arena, hhdm)
	if err := fa.Init(mm); err != nil {
		log.Fatalf("qemu-harness: pfa.Init: %v", err)
	}
	logger.Infof("pfa: %s", fa.Stat())

	cpu := archx86.NewSim()
	vm := vmm.New(arena, fa, cpu, hhdm)
	if err := vm.Init(mm); err != nil {
		log.Fatalf("qemu-harness: vmm.Init: %v", err)
	}
	logger.Infof("vmm: identity/HHDM mapping installed, root=%#x", vm.Root())

	buddyFrame, ok := fa.AllocContiguous(256, 1, mm.MaxPhysAddr())
	if !ok {
		log.Fatal("qemu-harness: could not reserve buddy sub-heap")
	}
	dmaFrame, ok := fa.AllocContiguous(64, 1, 1<<32)
	if !ok {
		log.Fatal("qemu-harness: could not reserve DMA sub-heap")
	}
	h, err := heap.New(heap.Config{
		Mem:         arena,
		HHDM:        hhdm,
		FA:          fa,
		BuddyBase:   buddyFrame.Phys,
		BuddyLength: 256 * addr.PageSize,
		DMABase:     dmaFrame.Phys,
		DMALength:   64 * addr.PageSize,
	})
	if err != nil {
		log.Fatalf("qemu-harness: heap.New: %v", err)
	}
	logger.Infof("heap: ready")

	if p, ok := h.Alloc(128, 16, heap.TagSlab); ok {
		logger.Infof("heap: slab alloc at %#x", uint64(p))
		h.Free(p)
	}

	rsdp, err := acpi.FindRSDP(arena, 0x9FC00)
	if err != nil {
		logger.Warnf("acpi: no RSDP in simulated arena (expected without a synthesized BIOS image): %v", err)
		return
	}
	tables := acpi.Tables(arena, rsdp)
	logger.Infof("acpi: found %d tables", len(tables))
}

// klog_stdout is factored out so this harness's log destination is a
// single, obviously-swappable call site (the production kernel wires
// klog to the framebuffer console instead).
func klog_stdout() *stdoutWriter { return &stdoutWriter{} }

type stdoutWriter struct{}

func (stdoutWriter) Write(p []byte) (int, error) {
	return fmt.Print(string(p))
}
