package cpu

import (
	"testing"

	"github.com/astra-os/xkernel/internal/archx86"
)

func TestGDTEncodeSixDescriptorsAndTSSSpansTwoSlots(t *testing.T) {
	tss := &TSS{}
	tbl := New(tss, 0x1000_2000_3000)
	enc := tbl.Encode()
	if len(enc) != 7*8 {
		t.Fatalf("expected 7 8-byte slots (6 descriptors + TSS high half), got %d bytes", len(enc))
	}
	// TSS descriptor (slot 5) must carry the present + TSS-type access byte.
	if enc[5*8+5] != accPresent|accTSSType {
		t.Fatalf("tss access byte = %#x", enc[5*8+5])
	}
}

func TestIDTEncodeAllVectorsPresent(t *testing.T) {
	var handlers [256]uint64
	for i := range handlers {
		handlers[i] = 0x1000 + uint64(i)*16
	}
	idt := NewIDT(handlers, SelKernCode)
	enc := idt.Encode()
	if len(enc) != 256*16 {
		t.Fatalf("expected 256 16-byte gates, got %d bytes", len(enc))
	}
	for v := 0; v < 256; v++ {
		off := v * 16
		if enc[off+5]&accPresent == 0 {
			t.Fatalf("vector %d not marked present", v)
		}
	}
}

func TestHasErrorCodeMatchesExceptionsThatPushOne(t *testing.T) {
	cases := map[uint8]bool{0: false, 8: true, 13: true, 14: true, 32: false}
	for v, want := range cases {
		if got := HasErrorCode(v); got != want {
			t.Errorf("HasErrorCode(%d) = %v, want %v", v, got, want)
		}
	}
}

func TestDispatcherInvokesRegisteredHandlerOnly(t *testing.T) {
	d := NewDispatcher()
	var got *Frame
	d.Register(14, func(f Frame) { got = &f })

	d.Dispatch(Frame{Vector: 13})
	if got != nil {
		t.Fatal("unregistered vector invoked a handler")
	}
	d.Dispatch(Frame{Vector: 14, ErrorCode: 0x4})
	if got == nil || got.ErrorCode != 0x4 {
		t.Fatal("registered vector 14 handler was not invoked with the right frame")
	}
}

func TestPICRemapProgramsBothControllersAndMasksAll(t *testing.T) {
	sim := archx86.NewSim()
	pic := New8259(sim)
	pic.Remap(32, 40)

	if sim.Ports[picMasterData] != 0xFF || sim.Ports[picSlaveData] != 0xFF {
		t.Fatalf("expected both PICs fully masked after remap, got master=%#x slave=%#x",
			sim.Ports[picMasterData], sim.Ports[picSlaveData])
	}
}

func TestPICMaskTimerClearsOnlyIRQ0(t *testing.T) {
	sim := archx86.NewSim()
	pic := New8259(sim)
	pic.Remap(32, 40)
	pic.MaskLine(0, false)
	pic.MaskLine(1, false)

	pic.MaskTimer()
	if sim.Ports[picMasterData]&0x1 == 0 {
		t.Fatal("MaskTimer did not mask IRQ0")
	}
	if sim.Ports[picMasterData]&0x2 != 0 {
		t.Fatal("MaskTimer affected IRQ1's mask bit")
	}
}
