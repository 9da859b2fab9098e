package xhci

import (
	"sync"

	"github.com/astra-os/xkernel/internal/xerr"
)

// IRQMode records which interrupt delivery mechanism a controller ended up
// using.
type IRQMode int

const (
	IRQNone IRQMode = iota
	IRQMSIX
	IRQMSI
	IRQLegacy
)

// vectorPool allocates interrupt vectors from a fixed range, the same
// mutex-guarded "set of available integers" pattern used elsewhere in
// this codebase for MSI vector bookkeeping, generalized from a
// package-global singleton to an instance any IRQ-requesting driver can
// own.
type vectorPool struct {
	mu    sync.Mutex
	avail map[uint8]bool
}

func newVectorPool(lo, hi uint8) *vectorPool {
	p := &vectorPool{avail: map[uint8]bool{}}
	for v := lo; v <= hi; v++ {
		p.avail[v] = true
	}
	return p
}

func (p *vectorPool) alloc() (uint8, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for v := range p.avail {
		delete(p.avail, v)
		return v, true
	}
	return 0, false
}

func (p *vectorPool) free(v uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.avail[v] = true
}

// DefaultMSIVectors reserves the conventional MSI vector range, starting
// at the MSI/MSI-X floor (vector 48).
var DefaultMSIVectors = newVectorPool(48, 63)

// IRQCapability describes what interrupt delivery mechanisms a PCI
// function advertises, as read from its capability list by the pcibus
// caller before constructing a Controller.
type IRQCapability struct {
	MSIX bool
	MSI  bool
}

// RequestIRQVector allocates a vector for the controller, preferring
// MSI-X, then MSI, then falling back to legacy INTx (vector fixed by the
// IOAPIC/PIC legacy routing, not allocated from the MSI pool).
func RequestIRQVector(cap IRQCapability, legacyVector uint8) (IRQMode, uint8, error) {
	if cap.MSIX {
		if v, ok := DefaultMSIVectors.alloc(); ok {
			return IRQMSIX, v, nil
		}
	}
	if cap.MSI {
		if v, ok := DefaultMSIVectors.alloc(); ok {
			return IRQMSI, v, nil
		}
	}
	if legacyVector != 0 {
		return IRQLegacy, legacyVector, nil
	}
	return IRQNone, 0, xerr.ErrNotPresent
}
