// Package hid maps raw USB HID keyboard usage IDs into characters for the
// TTY layer, the external-interface glue fed by the core's xHCI control
// transfers once a keyboard's boot-protocol input report lands on
// EP0/EP1. This package follows the same small, table-driven translation
// idiom as internal/acpi's MADT entry-type dispatch — a flat lookup
// table plus a shift variant, not a state machine.
package hid

// usageTable maps USB HID keyboard usage IDs 0x04-0x38 (the standard
// alpha/numeric/punctuation block) to their unshifted ASCII rune, 0 for
// usages with no printable mapping.
var usageTable = [0x39]rune{
	0x04: 'a', 0x05: 'b', 0x06: 'c', 0x07: 'd', 0x08: 'e', 0x09: 'f',
	0x0A: 'g', 0x0B: 'h', 0x0C: 'i', 0x0D: 'j', 0x0E: 'k', 0x0F: 'l',
	0x10: 'm', 0x11: 'n', 0x12: 'o', 0x13: 'p', 0x14: 'q', 0x15: 'r',
	0x16: 's', 0x17: 't', 0x18: 'u', 0x19: 'v', 0x1A: 'w', 0x1B: 'x',
	0x1C: 'y', 0x1D: 'z',
	0x1E: '1', 0x1F: '2', 0x20: '3', 0x21: '4', 0x22: '5',
	0x23: '6', 0x24: '7', 0x25: '8', 0x26: '9', 0x27: '0',
	0x28: '\n', // Enter
	0x29: 0,    // Escape
	0x2A: '\b', // Backspace
	0x2B: '\t', // Tab
	0x2C: ' ',  // Space
	0x2D: '-', 0x2E: '=', 0x2F: '[', 0x30: ']', 0x31: '\\',
	0x33: ';', 0x34: '\'', 0x35: '`', 0x36: ',', 0x37: '.', 0x38: '/',
}

// shiftTable overrides usageTable's mapping when the Shift modifier is
// held.
var shiftTable = [0x39]rune{
	0x04: 'A', 0x05: 'B', 0x06: 'C', 0x07: 'D', 0x08: 'E', 0x09: 'F',
	0x0A: 'G', 0x0B: 'H', 0x0C: 'I', 0x0D: 'J', 0x0E: 'K', 0x0F: 'L',
	0x10: 'M', 0x11: 'N', 0x12: 'O', 0x13: 'P', 0x14: 'Q', 0x15: 'R',
	0x16: 'S', 0x17: 'T', 0x18: 'U', 0x19: 'V', 0x1A: 'W', 0x1B: 'X',
	0x1C: 'Y', 0x1D: 'Z',
	0x1E: '!', 0x1F: '@', 0x20: '#', 0x21: '$', 0x22: '%',
	0x23: '^', 0x24: '&', 0x25: '*', 0x26: '(', 0x27: ')',
	0x2D: '_', 0x2E: '+', 0x2F: '{', 0x30: '}', 0x31: '|',
	0x33: ':', 0x34: '"', 0x35: '~', 0x36: '<', 0x37: '>', 0x38: '?',
}

// Modifiers mirrors the USB HID boot-protocol keyboard report's modifier
// byte bit layout.
type Modifiers uint8

const (
	ModLeftCtrl Modifiers = 1 << iota
	ModLeftShift
	ModLeftAlt
	ModLeftGUI
	ModRightCtrl
	ModRightShift
	ModRightAlt
	ModRightGUI
)

func (m Modifiers) shift() bool { return m&(ModLeftShift|ModRightShift) != 0 }

// Translate converts a HID usage ID plus the active modifier byte into a
// rune, reporting false when the usage has no printable mapping (e.g. an
// unmapped function key).
func Translate(usage uint8, mods Modifiers) (rune, bool) {
	if int(usage) >= len(usageTable) {
		return 0, false
	}
	r := usageTable[usage]
	if mods.shift() && shiftTable[usage] != 0 {
		r = shiftTable[usage]
	}
	if r == 0 {
		return 0, false
	}
	return r, true
}

// Report is a decoded 8-byte USB HID boot-protocol keyboard input report:
// {modifiers, reserved, keycode[6]}.
type Report struct {
	Modifiers Modifiers
	Keys      [6]uint8
}

// DecodeReport parses the raw 8-byte boot-protocol report b.
func DecodeReport(b []byte) Report {
	var r Report
	if len(b) < 8 {
		return r
	}
	r.Modifiers = Modifiers(b[0])
	copy(r.Keys[:], b[2:8])
	return r
}

// Runes translates every non-zero key in the report to its rune, skipping
// unmapped usages and the all-zero "no key" slots.
func (r Report) Runes() []rune {
	var out []rune
	for _, k := range r.Keys {
		if k == 0 {
			continue
		}
		if ch, ok := Translate(k, r.Modifiers); ok {
			out = append(out, ch)
		}
	}
	return out
}
