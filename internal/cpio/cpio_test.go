package cpio

import (
	"bytes"
	"errors"
	"testing"

	"github.com/astra-os/xkernel/internal/xerr"
)

// buildEntry appends one newc entry (header + name + NUL + body, each
// section 4-byte aligned) to buf.
func buildEntry(buf *bytes.Buffer, mode uint32, name string, body []byte) {
	nameSize := uint32(len(name) + 1)
	writeHeader(buf, mode, uint32(len(body)), nameSize)
	buf.WriteString(name)
	buf.WriteByte(0)
	padTo4(buf)
	buf.Write(body)
	padTo4(buf)
}

func writeHeader(buf *bytes.Buffer, mode, fileSize, nameSize uint32) {
	buf.WriteString(magic)
	fields := [numHexFields]uint32{}
	fields[fieldMode] = mode
	fields[fieldFileSize] = fileSize
	fields[fieldNameSize] = nameSize
	for _, f := range fields {
		buf.WriteString(hex8(f))
	}
}

func hex8(v uint32) string {
	const digits = "0123456789abcdef"
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = digits[v&0xF]
		v >>= 4
	}
	return string(b)
}

func padTo4(buf *bytes.Buffer) {
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

func buildTrailer(buf *bytes.Buffer) {
	buildEntry(buf, 0, trailerName, nil)
}

func TestParseReturnsDirectoryAndRegularFileEntries(t *testing.T) {
	var buf bytes.Buffer
	buildEntry(&buf, modeDir, "bin", nil)
	buildEntry(&buf, modeReg, "bin/init", []byte("hello world"))
	buildTrailer(&buf)

	entries, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if !entries[0].IsDir() || entries[0].Name != "bin" {
		t.Fatalf("entries[0] = %+v", entries[0])
	}
	if !entries[1].IsRegular() || entries[1].Name != "bin/init" {
		t.Fatalf("entries[1] = %+v", entries[1])
	}
	if !bytes.Equal(entries[1].Data, []byte("hello world")) {
		t.Fatalf("entries[1].Data = %q", entries[1].Data)
	}
}

func TestParseStopsAtTrailer(t *testing.T) {
	var buf bytes.Buffer
	buildEntry(&buf, modeReg, "a", []byte("x"))
	buildTrailer(&buf)
	buildEntry(&buf, modeReg, "b", []byte("y")) // must never be reached

	entries, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestParseSkipsNameOverLimit(t *testing.T) {
	var buf bytes.Buffer
	longName := bytes.Repeat([]byte("x"), maxNameSize+1)
	buildEntry(&buf, modeReg, string(longName), []byte("z"))
	buildEntry(&buf, modeReg, "short", []byte("ok"))
	buildTrailer(&buf)

	entries, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "short" {
		t.Fatalf("entries = %+v, want only \"short\" to survive", entries)
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	buf := make([]byte, headerSize)
	copy(buf, "XXXXXX")
	_, err := Parse(buf)
	if !errors.Is(err, xerr.ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestParseRejectsTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	writeHeader(&buf, modeReg, 100, uint32(len("a")+1))
	buf.WriteString("a")
	buf.WriteByte(0)
	padTo4(&buf)
	// body omitted entirely: declared 100 bytes, none present.

	_, err := Parse(buf.Bytes())
	if !errors.Is(err, xerr.ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}
