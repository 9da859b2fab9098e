package xhci

// TRB is the generic 16-byte Transfer Request Block: {Parameter(8),
// Status(4), Control(4)}, the uniform element of every xHCI ring
// (command, transfer, event).
type TRB struct {
	Parameter uint64
	Status    uint32
	Control   uint32
}

// Control-field bit positions shared across TRB types.
const (
	trbCycle = 1 << 0
	trbENT   = 1 << 1 // evaluate-next-TRB / chain, context dependent
	trbIOC   = 1 << 5 // interrupt on completion
	trbIDT   = 1 << 6 // immediate data (setup stage)
	trbTC    = 1 << 1 // toggle cycle, link TRB (same bit position as ENT)
)

// TRB types occupy control bits [15:10].
const (
	TRBTypeNormal              = 1
	TRBTypeSetupStage          = 2
	TRBTypeDataStage           = 3
	TRBTypeStatusStage         = 4
	TRBTypeLink                = 6
	TRBTypeEnableSlotCmd       = 9
	TRBTypeDisableSlotCmd      = 10
	TRBTypeAddressDeviceCmd    = 11
	TRBTypeConfigureEndpointCmd = 12
	TRBTypeStopEndpointCmd     = 15
	TRBTypeSetTRDequeuePtrCmd  = 16
	TRBTypeTransferEvent       = 32
	TRBTypeCommandCompletionEvent = 33
	TRBTypePortStatusChangeEvent  = 34
	TRBTypeHostControllerEvent    = 37
	TRBTypeMFINDEXWrapEvent       = 39
)

func trbType(t uint32) uint32 { return (t >> 10) & 0x3F }

func withType(control uint32, trbType uint32) uint32 {
	return (control &^ (0x3F << 10)) | (trbType&0x3F)<<10
}

// Type returns this TRB's type field.
func (t TRB) Type() uint32 { return trbType(t.Control) }

// Cycle reports the TRB's cycle bit.
func (t TRB) Cycle() bool { return t.Control&trbCycle != 0 }

// CompletionCode extracts the completion code from an event TRB's status
// field (bits [31:24]).
func (t TRB) CompletionCode() uint8 { return uint8(t.Status >> 24) }

// CompletionCode values this core distinguishes.
const (
	CompletionSuccess     = 1
	CompletionShortPacket = 13
)

// SlotID extracts the event TRB's slot ID field (control bits [31:24]).
func (t TRB) SlotID() uint8 { return uint8(t.Control >> 24) }

// LinkTRB builds a link TRB pointing at ringPhys with the toggle-cycle bit
// set, the terminating element every command/transfer ring's fixed-size
// buffer carries.
func LinkTRB(ringPhys uint64, cycle bool) TRB {
	control := withType(0, TRBTypeLink) | trbTC
	if cycle {
		control |= trbCycle
	}
	return TRB{Parameter: ringPhys, Control: control}
}
