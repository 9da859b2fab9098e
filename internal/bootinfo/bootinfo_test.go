package bootinfo

import "testing"

func TestUsableRegionsFiltersOutNonUsableTypes(t *testing.T) {
	info := Info{MemoryMap: []MemoryRegion{
		{Base: 0x0, Length: 0x1000, Type: RegionReserved},
		{Base: 0x100000, Length: 0x10000, Type: RegionUsable},
		{Base: 0x200000, Length: 0x1000, Type: RegionACPINVS},
	}}
	usable := info.UsableRegions()
	if len(usable) != 1 || usable[0].Base != 0x100000 {
		t.Fatalf("UsableRegions() = %+v", usable)
	}
}

func TestInitrdModuleReturnsFirstModule(t *testing.T) {
	info := Info{Modules: []Module{
		{Path: "initrd.cpio", Size: 4096},
		{Path: "extra.bin", Size: 128},
	}}
	m, ok := info.InitrdModule()
	if !ok || m.Path != "initrd.cpio" {
		t.Fatalf("InitrdModule() = %+v, %v", m, ok)
	}
}

func TestInitrdModuleAbsentWhenNoModules(t *testing.T) {
	info := Info{}
	if _, ok := info.InitrdModule(); ok {
		t.Fatal("expected InitrdModule to report absent")
	}
}
