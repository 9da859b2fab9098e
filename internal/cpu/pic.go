package cpu

import "github.com/astra-os/xkernel/internal/archx86"

// Legacy 8259 PIC I/O ports and the ICW4/OCW constants needed to remap and
// mask it. only requires masking the timer line once the
// LAPIC timer takes over; this package still offers a full remap since an
// unmapped PIC delivers spurious vectors 8-15 that collide with CPU
// exceptions 8-15.
const (
	picMasterCmd  = 0x20
	picMasterData = 0x21
	picSlaveCmd   = 0xA0
	picSlaveData  = 0xA1

	icw1Init  = 0x11
	icw4_8086 = 0x01
)

// PIC is the legacy dual-8259 programmable interrupt controller.
type PIC struct {
	cpu archx86.CPU
}

// New8259 returns a PIC bound to cpu's port I/O.
func New8259(cpu archx86.CPU) *PIC {
	return &PIC{cpu: cpu}
}

// Remap reprograms both PICs so IRQ0-7 land on offset1..offset1+7 and
// IRQ8-15 on offset2..offset2+7, clear of the CPU's reserved 0-31 exception
// vectors.
func (p *PIC) Remap(offset1, offset2 uint8) {
	p.cpu.Outb(picMasterCmd, icw1Init)
	p.cpu.Outb(picSlaveCmd, icw1Init)
	p.cpu.Outb(picMasterData, offset1)
	p.cpu.Outb(picSlaveData, offset2)
	p.cpu.Outb(picMasterData, 4) // tell master: slave on IRQ2
	p.cpu.Outb(picSlaveData, 2)  // tell slave its cascade identity
	p.cpu.Outb(picMasterData, icw4_8086)
	p.cpu.Outb(picSlaveData, icw4_8086)
	// mask everything; individual lines are unmasked as drivers attach
	p.cpu.Outb(picMasterData, 0xFF)
	p.cpu.Outb(picSlaveData, 0xFF)
}

// MaskLine sets or clears the mask bit for legacy IRQ line irq (0-15).
func (p *PIC) MaskLine(irq uint8, masked bool) {
	port := uint16(picMasterData)
	line := irq
	if irq >= 8 {
		port = picSlaveData
		line -= 8
	}
	cur := p.cpu.Inb(port)
	if masked {
		cur |= 1 << line
	} else {
		cur &^= 1 << line
	}
	p.cpu.Outb(port, cur)
}

// MaskTimer masks legacy IRQ0, the PIT/timer line, once the LAPIC timer is
// calibrated and running.
func (p *PIC) MaskTimer() {
	p.MaskLine(0, true)
}
