// Package cpio parses the newc-format CPIO archive carried as the first
// boot module. The archive-walking shape (fixed header, name, padded
// body, repeat until sentinel) follows the same "read a fixed record,
// validate, advance" style used for block-at-a-time disk reads
// elsewhere in this codebase.
package cpio

import (
	"encoding/hex"
	"fmt"

	"github.com/astra-os/xkernel/internal/xerr"
)

// magic is the newc format's 6-byte leading tag.
const magic = "070701"

// headerSize is the fixed newc header: magic (6) + 13 8-hex-digit fields.
const headerSize = 110

// maxNameSize bounds path names; longer names are skipped.
const maxNameSize = 256

// trailerName marks the end of the archive.
const trailerName = "TRAILER!!!"

// Header is one entry's decoded newc header.
type Header struct {
	Mode     uint32
	FileSize uint32
	NameSize uint32
}

// Entry is one decoded archive member: its header, path, and file body
// (empty for directories).
type Entry struct {
	Header Header
	Name   string
	Data   []byte
}

const (
	modeTypeMask = 0170000
	modeDir      = 0040000
	modeReg      = 0100000
)

// IsDir reports whether the entry's mode bits mark it a directory.
func (e Entry) IsDir() bool { return e.Header.Mode&modeTypeMask == modeDir }

// IsRegular reports whether the entry's mode bits mark it a regular file.
func (e Entry) IsRegular() bool { return e.Header.Mode&modeTypeMask == modeReg }

// numHexFields counts the 13 newc header fields following the magic; their
// wire-order indices are the constants at the end of this file. Only the
// three this package consumes get named struct fields;
// the rest are skipped but still advance the cursor so name/body offsets
// line up.
const numHexFields = 13

// Parse walks buf as a sequence of newc entries until the TRAILER!!!
// sentinel (or buf is exhausted), returning every non-trailer entry in
// archive order. Entries whose name exceeds maxNameSize are skipped
//, everything else is returned including directories so
// ramfs can create them on demand.
func Parse(buf []byte) ([]Entry, error) {
	var entries []Entry
	off := 0
	for {
		if off+headerSize > len(buf) {
			return nil, fmt.Errorf("%w: cpio: truncated header at %d", xerr.ErrMalformed, off)
		}
		if string(buf[off:off+6]) != magic {
			return nil, fmt.Errorf("%w: cpio: bad magic at %d", xerr.ErrMalformed, off)
		}
		fields, err := decodeFields(buf[off+6 : off+headerSize])
		if err != nil {
			return nil, err
		}
		off += headerSize

		nameSize := int(fields[fieldNameSize])
		if nameSize == 0 {
			return nil, fmt.Errorf("%w: cpio: zero-length name at %d", xerr.ErrMalformed, off)
		}
		if off+nameSize > len(buf) {
			return nil, fmt.Errorf("%w: cpio: truncated name at %d", xerr.ErrMalformed, off)
		}
		// nameSize includes the trailing NUL.
		rawName := buf[off : off+nameSize-1]
		off += nameSize
		off = align4(off)

		fileSize := int(fields[fieldFileSize])
		if off+fileSize > len(buf) {
			return nil, fmt.Errorf("%w: cpio: truncated body at %d", xerr.ErrMalformed, off)
		}
		body := buf[off : off+fileSize]
		off += fileSize
		off = align4(off)

		name := string(rawName)
		if name == trailerName {
			break
		}
		if nameSize-1 > maxNameSize {
			continue
		}

		entries = append(entries, Entry{
			Header: Header{
				Mode:     fields[fieldMode],
				FileSize: fields[fieldFileSize],
				NameSize: fields[fieldNameSize],
			},
			Name: name,
			Data: append([]byte(nil), body...),
		})
	}
	return entries, nil
}

// newc header field indices, in wire order after the magic.
const (
	fieldIno = iota
	fieldMode
	fieldUID
	fieldGID
	fieldNlink
	fieldMtime
	fieldFileSize
	fieldDevMajor
	fieldDevMinor
	fieldRdevMajor
	fieldRdevMinor
	fieldNameSize
	fieldCheck
)

// decodeFields parses the 13 consecutive 8-hex-digit fields following the
// magic.
func decodeFields(b []byte) ([numHexFields]uint32, error) {
	var out [numHexFields]uint32
	if len(b) != numHexFields*8 {
		return out, fmt.Errorf("%w: cpio: short header", xerr.ErrMalformed)
	}
	for i := 0; i < numHexFields; i++ {
		raw, err := hex.DecodeString(string(b[i*8 : i*8+8]))
		if err != nil {
			return out, fmt.Errorf("%w: cpio: non-hex field %d: %v", xerr.ErrMalformed, i, err)
		}
		out[i] = uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
	}
	return out, nil
}

// align4 rounds off up to the next 4-byte boundary.
func align4(off int) int {
	return (off + 3) &^ 3
}
