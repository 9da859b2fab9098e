// Package fb draws into the loader-provided linear framebuffer, and
// backs a text console implementing internal/tty's Writer interface.
// Modeled on internal/hwsim's "raw memory window addressed by byte
// offset" style (the same shape as its Arena.Bytes), generalized to a
// row/column/pixel addressing scheme instead of a flat byte arena.
package fb

import (
	"github.com/astra-os/xkernel/internal/addr"
	"github.com/astra-os/xkernel/internal/bootinfo"
)

// Memory is the byte-addressable window onto the framebuffer's physical
// memory (identity via HHDM, or a test double).
type Memory interface {
	Bytes(p addr.Phys, n int) []byte
}

// Color is a packed 0xRRGGBB value; Framebuffer.Set converts it to the
// mode's native pixel format before writing.
type Color uint32

// Framebuffer draws pixels into the boot-provided linear buffer.
type Framebuffer struct {
	mem  Memory
	info bootinfo.Framebuffer
}

// New wraps info's linear buffer in mem.
func New(mem Memory, info bootinfo.Framebuffer) *Framebuffer {
	return &Framebuffer{mem: mem, info: info}
}

// bytesPerPixel returns the mode's pixel stride in bytes.
func (f *Framebuffer) bytesPerPixel() int {
	return int(f.info.BPP) / 8
}

// Set writes c at pixel (x, y), silently clipping out-of-bounds
// coordinates.
func (f *Framebuffer) Set(x, y int, c Color) {
	if x < 0 || y < 0 || uint32(x) >= f.info.Width || uint32(y) >= f.info.Height {
		return
	}
	bpp := f.bytesPerPixel()
	off := y*int(f.info.Pitch) + x*bpp
	px := f.packPixel(c)
	row := f.mem.Bytes(f.info.Address, int(f.info.Height)*int(f.info.Pitch))
	switch bpp {
	case 4:
		row[off] = byte(px)
		row[off+1] = byte(px >> 8)
		row[off+2] = byte(px >> 16)
		row[off+3] = byte(px >> 24)
	case 3:
		row[off] = byte(px)
		row[off+1] = byte(px >> 8)
		row[off+2] = byte(px >> 16)
	}
}

// packPixel maps c's 8-bit RGB channels onto the mode's mask layout.
func (f *Framebuffer) packPixel(c Color) uint32 {
	r := uint32(c>>16) & 0xFF
	g := uint32(c>>8) & 0xFF
	b := uint32(c) & 0xFF
	fmtInfo := f.info.Format
	return shiftChannel(r, fmtInfo.RedMaskShift, fmtInfo.RedMaskSize) |
		shiftChannel(g, fmtInfo.GreenMaskShift, fmtInfo.GreenMaskSize) |
		shiftChannel(b, fmtInfo.BlueMaskShift, fmtInfo.BlueMaskSize)
}

func shiftChannel(v uint32, shift, size uint8) uint32 {
	if size == 0 {
		return 0
	}
	if size < 8 {
		v >>= 8 - size
	}
	return v << shift
}

// Clear fills the entire visible framebuffer with c.
func (f *Framebuffer) Clear(c Color) {
	for y := 0; y < int(f.info.Height); y++ {
		for x := 0; x < int(f.info.Width); x++ {
			f.Set(x, y, c)
		}
	}
}

const (
	glyphWidth  = 8
	glyphHeight = 8
)

// Console draws a fixed-width text grid on top of a Framebuffer,
// implementing internal/tty's Writer interface for a graphical console.
type Console struct {
	fb         *Framebuffer
	cols, rows int
	col, row   int
	fg, bg     Color
}

// NewConsole creates a text console over fb sized to its pixel dimensions
// divided by the fixed glyph cell.
func NewConsole(f *Framebuffer, fg, bg Color) *Console {
	return &Console{
		fb:   f,
		cols: int(f.info.Width) / glyphWidth,
		rows: int(f.info.Height) / glyphHeight,
		fg:   fg,
		bg:   bg,
	}
}

// WriteByte implements tty.Writer by advancing the console's cursor.
// Moving past the last row wraps the cursor back to row 0; the console does
// not scroll.
func (c *Console) WriteByte(b byte) error {
	switch b {
	case '\n':
		c.col = 0
		c.row++
	case '\b':
		if c.col > 0 {
			c.col--
		}
	default:
		c.drawGlyphCell(c.col, c.row, b)
		c.col++
		if c.col >= c.cols {
			c.col = 0
			c.row++
		}
	}
	if c.row >= c.rows {
		c.row = 0
	}
	return nil
}

// drawGlyphCell fills one character cell's background; actual glyph
// bitmaps are a font-table concern this package leaves to a higher layer
// (this console only guarantees visible cursor progress).
func (c *Console) drawGlyphCell(col, row int, _ byte) {
	x0, y0 := col*glyphWidth, row*glyphHeight
	for y := y0; y < y0+glyphHeight; y++ {
		for x := x0; x < x0+glyphWidth; x++ {
			c.fb.Set(x, y, c.bg)
		}
	}
}
