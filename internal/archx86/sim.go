package archx86

import "github.com/astra-os/xkernel/internal/addr"

// Sim is a software CPU used by tests and the host harness (internal/hwsim
// consumers): it records the operations a real CPU would perform instead
// of touching hardware.
type Sim struct {
	CR3        addr.Phys
	PAE        bool
	Paging     bool
	InvlpgLog  []addr.Virt
	FenceCount int

	// Ports simulates the 16-bit x86 I/O port space, used by internal/timer
	// for the PIT and internal/cpu for legacy PIC masking.
	Ports [1 << 16]uint32
}

// NewSim returns a ready-to-use simulated CPU.
func NewSim() *Sim {
	return &Sim{}
}

func (s *Sim) Invlpg(v addr.Virt) {
	s.InvlpgLog = append(s.InvlpgLog, v)
}

func (s *Sim) LoadCR3(p addr.Phys) { s.CR3 = p }
func (s *Sim) EnablePAE()          { s.PAE = true }
func (s *Sim) EnablePagingAndLongMode() {
	s.Paging = true
}

func (s *Sim) Outb(port uint16, v uint8)   { s.Ports[port] = uint32(v) }
func (s *Sim) Inb(port uint16) uint8       { return uint8(s.Ports[port]) }
func (s *Sim) Outl(port uint16, v uint32)  { s.Ports[port] = v }
func (s *Sim) Inl(port uint16) uint32      { return s.Ports[port] }
func (s *Sim) Rdtsc() uint64               { return 0 }
func (s *Sim) MemFence()                   { s.FenceCount++ }

var _ CPU = (*Sim)(nil)
