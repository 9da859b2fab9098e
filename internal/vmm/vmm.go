// Package vmm implements the 4-level x86_64 virtual memory manager
//: it owns the root page-table hierarchy, maps/unmaps
// 4 KiB/2 MiB/1 GiB pages, translates virtual to physical addresses, and
// provides uncached MMIO mappings.
//
// Page tables are modeled as [512]uint64 entry arrays with level-index
// math derived from the virtual address's page-table bit fields — a page
// table is 512 64-bit entries, each either pointing at a lower table or,
// at a huge-page-eligible level, terminating the walk.
package vmm

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/astra-os/xkernel/internal/addr"
	"github.com/astra-os/xkernel/internal/archx86"
	"github.com/astra-os/xkernel/internal/klog"
	"github.com/astra-os/xkernel/internal/memmap"
	"github.com/astra-os/xkernel/internal/pfa"
)

// Flags are the page-table entry flag bits,
type Flags uint64

const (
	Present      Flags = 1 << 0
	Writable     Flags = 1 << 1
	User         Flags = 1 << 2
	WriteThrough Flags = 1 << 3
	NoCache      Flags = 1 << 4
	Accessed     Flags = 1 << 5
	Dirty        Flags = 1 << 6
	Huge         Flags = 1 << 7
	Global       Flags = 1 << 8
)

// frameMask extracts the 40-bit frame index x86_64 page tables carry
// (bits 12-51),
const frameMask uint64 = 0x000f_ffff_ffff_f000

// Size selects which level a Map call terminates at.
type Size int

const (
	Size4K Size = iota
	Size2M
	Size1G
)

func (s Size) bytes() uint64 {
	switch s {
	case Size1G:
		return 1 << 30
	case Size2M:
		return 1 << 21
	default:
		return addr.PageSize
	}
}

// Memory is the byte-level backing store page tables are read/written
// through. hwsim.Arena satisfies this in tests and the host harness.
type Memory interface {
	Bytes(p addr.Phys, n int) []byte
	Zero(p addr.Phys, n int)
}

const mmioBase = addr.Virt(0xffff_ff00_0000_0000)

// Manager owns the kernel's page table hierarchy: single-init,
// many-mutation, process-wide.
type Manager struct {
	mu       sync.Mutex
	mem      Memory
	fa       *pfa.Allocator
	cpu      archx86.CPU
	hhdm     addr.HHDM
	root     addr.Phys
	mmioNext addr.Virt
}

// New constructs a Manager. Call Init before Map/Unmap/Translate.
func New(mem Memory, fa *pfa.Allocator, cpu archx86.CPU, hhdm addr.HHDM) *Manager {
	return &Manager{mem: mem, fa: fa, cpu: cpu, hhdm: hhdm, mmioNext: mmioBase}
}

// Init builds a fresh PML4 and, for every usable firmware memmap range,
// installs an HHDM mapping for that RAM, preferring 1 GiB then 2 MiB pages
// where base and length permit.
func (m *Manager) Init(mm memmap.Map) error {
	m.mu.Lock()
	root, ok := m.fa.AllocPage()
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("vmm: out of memory allocating PML4")
	}
	m.root = root.Phys

	for _, e := range mm.Usable() {
		if err := m.mapRangeHHDM(e.Base, e.Length); err != nil {
			return err
		}
	}

	m.cpu.EnablePAE()
	m.cpu.LoadCR3(m.root)
	m.cpu.EnablePagingAndLongMode()
	return nil
}

// mapRangeHHDM installs HHDM.ToVirt(phys) -> phys mappings covering
// [base, base+length), choosing the largest page size that fits at each
// step.
func (m *Manager) mapRangeHHDM(base addr.Phys, length uint64) error {
	const gib = uint64(1) << 30
	const mib2 = uint64(1) << 21

	cur := base
	remaining := length
	for remaining > 0 {
		virt := m.hhdm.ToVirt(cur)
		switch {
		case remaining >= gib && uint64(cur)%gib == 0 && uint64(virt)%gib == 0:
			if err := m.Map(virt, cur, Present|Writable|Global, Size1G); err != nil {
				return err
			}
			cur += addr.Phys(gib)
			remaining -= gib
		case remaining >= mib2 && uint64(cur)%mib2 == 0 && uint64(virt)%mib2 == 0:
			if err := m.Map(virt, cur, Present|Writable|Global, Size2M); err != nil {
				return err
			}
			cur += addr.Phys(mib2)
			remaining -= mib2
		default:
			if err := m.Map(virt, cur, Present|Writable|Global, Size4K); err != nil {
				return err
			}
			cur += addr.PageSize
			remaining -= addr.PageSize
		}
	}
	return nil
}

func pmlIndex(v addr.Virt, level int) uint64 {
	shift := uint(12 + 9*level)
	return (uint64(v) >> shift) & 0x1ff
}

func (m *Manager) readEntry(table addr.Phys, idx uint64) uint64 {
	b := m.mem.Bytes(table, addr.PageSize)
	return binary.LittleEndian.Uint64(b[idx*8 : idx*8+8])
}

func (m *Manager) writeEntry(table addr.Phys, idx uint64, v uint64) {
	b := m.mem.Bytes(table, addr.PageSize)
	binary.LittleEndian.PutUint64(b[idx*8:idx*8+8], v)
}

// ensureTable returns the physical address of the table pointed to by
// entry idx of `table`, allocating and linking a fresh one if absent.
func (m *Manager) ensureTable(table addr.Phys, idx uint64, flags Flags) (addr.Phys, error) {
	e := m.readEntry(table, idx)
	if e&uint64(Present) != 0 {
		return addr.Phys(e & frameMask), nil
	}
	f, ok := m.fa.AllocPage()
	if !ok {
		return 0, fmt.Errorf("vmm: out of memory allocating page table")
	}
	entry := uint64(f.Phys)&frameMask | uint64(Present|Writable)
	if flags&User != 0 {
		entry |= uint64(User)
	}
	m.writeEntry(table, idx, entry)
	return f.Phys, nil
}

// Map installs a translation for virt -> phys at the given page size,
// creating missing intermediate tables from the PFA and splitting an
// existing huge mapping into 512 4 KiB entries if a finer mapping is
// requested over it.
func (m *Manager) Map(virt addr.Virt, phys addr.Phys, flags Flags, size Size) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if uint64(virt)%size.bytes() != 0 || uint64(phys)%size.bytes() != 0 {
		return fmt.Errorf("vmm: map %#x -> %#x not aligned to %s", virt, phys, sizeName(size))
	}

	pml4Idx := pmlIndex(virt, 3)
	pdptIdx := pmlIndex(virt, 2)
	pdIdx := pmlIndex(virt, 1)
	ptIdx := pmlIndex(virt, 0)

	pdpt, err := m.ensureTable(m.root, pml4Idx, flags)
	if err != nil {
		return err
	}

	if size == Size1G {
		m.writeEntry(pdpt, pdptIdx, uint64(phys)&frameMask|uint64(flags|Present|Huge))
		m.cpu.Invlpg(virt)
		return nil
	}

	pd, err := m.descendOrSplit(pdpt, pdptIdx, flags, mib1gBytes, mib2Bytes)
	if err != nil {
		return err
	}

	if size == Size2M {
		m.writeEntry(pd, pdIdx, uint64(phys)&frameMask|uint64(flags|Present|Huge))
		m.cpu.Invlpg(virt)
		return nil
	}

	pt, err := m.descendOrSplit(pd, pdIdx, flags, mib2Bytes, addr.PageSize)
	if err != nil {
		return err
	}
	m.writeEntry(pt, ptIdx, uint64(phys)&frameMask|uint64(flags|Present))
	m.cpu.Invlpg(virt)
	return nil
}

const mib1gBytes = uint64(1) << 30
const mib2Bytes = uint64(1) << 21

// descendOrSplit returns the next-level table physical address pointed to
// by entry idx of `table`. If that entry is a huge leaf (parentSize bytes
// covered) rather than a pointer to a lower table, it is materialized into
// a full lower table populated with childSize-granular entries deriving
// the same physical range and flags, then the huge bit is cleared so the
// parent entry becomes an ordinary table pointer.
func (m *Manager) descendOrSplit(table addr.Phys, idx uint64, flags Flags, parentSize, childSize uint64) (addr.Phys, error) {
	e := m.readEntry(table, idx)
	if e&uint64(Present) == 0 {
		return m.ensureTable(table, idx, flags)
	}
	if e&uint64(Huge) == 0 {
		return addr.Phys(e & frameMask), nil
	}

	// Split: allocate a new lower-level table and populate childSize-sized
	// entries covering the same physical range the huge entry described.
	baseFlags := Flags(e&^frameMask) &^ Huge
	basePhys := addr.Phys(e & frameMask)

	f, ok := m.fa.AllocPage()
	if !ok {
		return 0, fmt.Errorf("vmm: out of memory splitting huge mapping")
	}
	entriesPerTable := parentSize / childSize
	for i := uint64(0); i < entriesPerTable; i++ {
		childPhys := addr.Phys(uint64(basePhys) + i*childSize)
		ev := uint64(childPhys)&frameMask | uint64(baseFlags|Present)
		if childSize == mib2Bytes {
			ev |= uint64(Huge)
		}
		m.writeEntry(f.Phys, i, ev)
	}
	m.writeEntry(table, idx, uint64(f.Phys)&frameMask|uint64(baseFlags|Present))
	return f.Phys, nil
}

// Unmap clears the leaf (or huge) entry mapping virt, a safe no-op when
// virt is not mapped.
func (m *Manager) Unmap(virt addr.Virt) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pml4Idx := pmlIndex(virt, 3)
	pdptIdx := pmlIndex(virt, 2)
	pdIdx := pmlIndex(virt, 1)
	ptIdx := pmlIndex(virt, 0)

	e := m.readEntry(m.root, pml4Idx)
	if e&uint64(Present) == 0 {
		return
	}
	pdpt := addr.Phys(e & frameMask)

	e = m.readEntry(pdpt, pdptIdx)
	if e&uint64(Present) == 0 {
		return
	}
	if e&uint64(Huge) != 0 {
		m.writeEntry(pdpt, pdptIdx, 0)
		m.cpu.Invlpg(virt)
		return
	}
	pd := addr.Phys(e & frameMask)

	e = m.readEntry(pd, pdIdx)
	if e&uint64(Present) == 0 {
		return
	}
	if e&uint64(Huge) != 0 {
		m.writeEntry(pd, pdIdx, 0)
		m.cpu.Invlpg(virt)
		return
	}
	pt := addr.Phys(e & frameMask)

	e = m.readEntry(pt, ptIdx)
	if e&uint64(Present) == 0 {
		return
	}
	m.writeEntry(pt, ptIdx, 0)
	m.cpu.Invlpg(virt)
}

// Translate walks the hierarchy and returns the physical address virt maps
// to, merging in the low address bits for huge entries.
func (m *Manager) Translate(virt addr.Virt) (addr.Phys, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pml4Idx := pmlIndex(virt, 3)
	pdptIdx := pmlIndex(virt, 2)
	pdIdx := pmlIndex(virt, 1)
	ptIdx := pmlIndex(virt, 0)

	e := m.readEntry(m.root, pml4Idx)
	if e&uint64(Present) == 0 {
		return 0, false
	}
	pdpt := addr.Phys(e & frameMask)

	e = m.readEntry(pdpt, pdptIdx)
	if e&uint64(Present) == 0 {
		return 0, false
	}
	if e&uint64(Huge) != 0 {
		base := e & frameMask
		return addr.Phys(base | (uint64(virt) & (mib1gBytes - 1))), true
	}
	pd := addr.Phys(e & frameMask)

	e = m.readEntry(pd, pdIdx)
	if e&uint64(Present) == 0 {
		return 0, false
	}
	if e&uint64(Huge) != 0 {
		base := e & frameMask
		return addr.Phys(base | (uint64(virt) & (mib2Bytes - 1))), true
	}
	pt := addr.Phys(e & frameMask)

	e = m.readEntry(pt, ptIdx)
	if e&uint64(Present) == 0 {
		return 0, false
	}
	base := e & frameMask
	return addr.Phys(base | (uint64(virt) & (addr.PageSize - 1))), true
}

// MapMMIO maps `len` bytes of physical MMIO space starting at phys into a
// freshly allocated virtual range above a fixed base, uncached and
// write-through.
// The returned base virtual address is page-aligned; successive calls
// never reuse a previously handed-out range.
func (m *Manager) MapMMIO(phys addr.Phys, length uint64) (addr.Virt, error) {
	m.mu.Lock()
	base := m.mmioNext
	pages := (length + addr.PageSize - 1) / addr.PageSize
	m.mmioNext += addr.Virt(pages * addr.PageSize)
	m.mu.Unlock()

	flags := Present | Writable | NoCache | WriteThrough
	for i := uint64(0); i < pages; i++ {
		v := base + addr.Virt(i*addr.PageSize)
		p := phys + addr.Phys(i*addr.PageSize)
		if err := m.Map(v, p, flags, Size4K); err != nil {
			return 0, fmt.Errorf("vmm: map_mmio: %w", err)
		}
	}
	klog.Debugf("vmm: mapped %d MMIO pages at phys %#x to virt %#x", pages, phys, base)
	return base, nil
}

// Root returns the physical address of the top-level page table, mainly
// for diagnostics and tests.
func (m *Manager) Root() addr.Phys { return m.root }

func sizeName(s Size) string {
	switch s {
	case Size1G:
		return "1GiB"
	case Size2M:
		return "2MiB"
	default:
		return "4KiB"
	}
}
