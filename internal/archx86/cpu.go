// Package archx86 isolates the handful of operations that are genuinely
// hardware-instruction-shaped (port I/O, INVLPG, CR3/CR0 loads, RDTSC) behind
// a small interface so the rest of the kernel core never touches unsafe
// pointers or inline assembly directly. This mirrors the approach of
// pushing truly bare-metal primitives into a patched Go runtime
// (cpuid/rcr4/vtop-style hooks) and keeps ordinary kernel Go portable and
// unit-testable.
package archx86

import "github.com/astra-os/xkernel/internal/addr"

// CPU is the hardware-facing primitive surface used by cpu, timer, ioapic,
// vmm and xhci. Production code is built against HardwareCPU; tests are
// built against Sim.
type CPU interface {
	// Invlpg flushes the TLB entry for the given virtual address.
	Invlpg(v addr.Virt)
	// LoadCR3 installs a new top-level page table root.
	LoadCR3(p addr.Phys)
	// EnablePAE sets CR4.PAE, required before entering long mode.
	EnablePAE()
	// EnablePagingAndLongMode sets CR0.PG (and, on real hardware, the EFER.LME
	// transition that was already performed by the boot protocol before the
	// core takes over).
	EnablePagingAndLongMode()

	Outb(port uint16, v uint8)
	Inb(port uint16) uint8
	Outl(port uint16, v uint32)
	Inl(port uint16) uint32

	// Rdtsc returns the raw timestamp counter, used only for diagnostics; the
	// LAPIC timer calibration in internal/timer deliberately avoids it in
	// favor of the PIT gate, which is why timer.Timer.Calibrate does not call
	// this.
	Rdtsc() uint64

	// MemFence issues a full fence (mfence), required before/after MMIO
	// cycle-bit writes
	MemFence()
}

// hook is the seam a freestanding build wires to the project's patched Go
// runtime. It is intentionally left panicking by default: a hosted `go test` run
// never calls HardwareCPU, and a real freestanding build is expected to
// replace these vars from its runtime init before bringup.
type hook struct {
	Invlpg                   func(addr.Virt)
	LoadCR3                  func(addr.Phys)
	EnablePAE                func()
	EnablePagingAndLongMode  func()
	Outb                     func(uint16, uint8)
	Inb                      func(uint16) uint8
	Outl                     func(uint16, uint32)
	Inl                      func(uint16) uint32
	Rdtsc                    func() uint64
	MemFence                 func()
}

func unimplemented(name string) func() {
	return func() { panic("archx86: HardwareCPU." + name + " not wired to the freestanding runtime") }
}

// Hooks holds the function pointers HardwareCPU dispatches through. A real
// boot image's runtime-init sets each of these before any kernel code that
// uses HardwareCPU executes.
var Hooks = hook{
	Invlpg:                  func(addr.Virt) { unimplemented("Invlpg")() },
	LoadCR3:                 func(addr.Phys) { unimplemented("LoadCR3")() },
	EnablePAE:               unimplemented("EnablePAE"),
	EnablePagingAndLongMode: unimplemented("EnablePagingAndLongMode"),
	Outb:                    func(uint16, uint8) { unimplemented("Outb")() },
	Inb:                     func(uint16) uint8 { unimplemented("Inb")(); return 0 },
	Outl:                    func(uint16, uint32) { unimplemented("Outl")() },
	Inl:                     func(uint16) uint32 { unimplemented("Inl")(); return 0 },
	Rdtsc:                   func() uint64 { unimplemented("Rdtsc")(); return 0 },
	MemFence:                unimplemented("MemFence"),
}

// HardwareCPU implements CPU by dispatching through Hooks. It is the
// production binding point; nothing under internal/hwsim or _test.go files
// uses it.
type HardwareCPU struct{}

func (HardwareCPU) Invlpg(v addr.Virt)        { Hooks.Invlpg(v) }
func (HardwareCPU) LoadCR3(p addr.Phys)       { Hooks.LoadCR3(p) }
func (HardwareCPU) EnablePAE()                { Hooks.EnablePAE() }
func (HardwareCPU) EnablePagingAndLongMode()  { Hooks.EnablePagingAndLongMode() }
func (HardwareCPU) Outb(port uint16, v uint8) { Hooks.Outb(port, v) }
func (HardwareCPU) Inb(port uint16) uint8     { return Hooks.Inb(port) }
func (HardwareCPU) Outl(port uint16, v uint32) { Hooks.Outl(port, v) }
func (HardwareCPU) Inl(port uint16) uint32    { return Hooks.Inl(port) }
func (HardwareCPU) Rdtsc() uint64             { return Hooks.Rdtsc() }
func (HardwareCPU) MemFence()                 { Hooks.MemFence() }
