package fb

import (
	"testing"

	"github.com/astra-os/xkernel/internal/addr"
	"github.com/astra-os/xkernel/internal/bootinfo"
)

type flatMemory struct{ buf []byte }

func (m *flatMemory) Bytes(p addr.Phys, n int) []byte {
	return m.buf[int(p) : int(p)+n]
}

func newTestFramebuffer(width, height uint32, bpp uint8) (*Framebuffer, *flatMemory) {
	pitch := width * uint32(bpp) / 8
	mem := &flatMemory{buf: make([]byte, int(height)*int(pitch))}
	info := bootinfo.Framebuffer{
		Address: 0,
		Width:   width,
		Height:  height,
		Pitch:   pitch,
		BPP:     bpp,
		Format: bootinfo.PixelFormat{
			RedMaskShift: 16, RedMaskSize: 8,
			GreenMaskShift: 8, GreenMaskSize: 8,
			BlueMaskShift: 0, BlueMaskSize: 8,
		},
	}
	return New(mem, info), mem
}

func TestSetWritesPackedPixelAt32BPP(t *testing.T) {
	f, mem := newTestFramebuffer(4, 4, 32)
	f.Set(1, 1, Color(0x112233))
	off := 1*int(f.info.Pitch) + 1*4
	got := uint32(mem.buf[off]) | uint32(mem.buf[off+1])<<8 | uint32(mem.buf[off+2])<<16
	if got != 0x112233 {
		t.Fatalf("pixel = %#x", got)
	}
}

func TestSetClipsOutOfBoundsCoordinates(t *testing.T) {
	f, mem := newTestFramebuffer(2, 2, 32)
	f.Set(-1, 0, Color(0xFFFFFF))
	f.Set(0, 5, Color(0xFFFFFF))
	for _, b := range mem.buf {
		if b != 0 {
			t.Fatal("expected buffer untouched by out-of-bounds writes")
		}
	}
}

func TestConsoleWriteByteAdvancesCursorAndWrapsLines(t *testing.T) {
	f, _ := newTestFramebuffer(16, 16, 32)
	c := NewConsole(f, Color(0xFFFFFF), Color(0))
	for i := 0; i < c.cols+1; i++ {
		if err := c.WriteByte('x'); err != nil {
			t.Fatalf("WriteByte: %v", err)
		}
	}
	if c.row != 1 || c.col != 1 {
		t.Fatalf("row,col = %d,%d, want 1,1 after wrapping", c.row, c.col)
	}
}

func TestConsoleBackspaceMovesCursorBack(t *testing.T) {
	f, _ := newTestFramebuffer(16, 16, 32)
	c := NewConsole(f, Color(0xFFFFFF), Color(0))
	c.WriteByte('a')
	c.WriteByte('\b')
	if c.col != 0 {
		t.Fatalf("col = %d, want 0", c.col)
	}
}
