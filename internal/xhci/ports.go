package xhci

import "github.com/astra-os/xkernel/internal/xerr"

// PORTSC bits this package touches.
const (
	portscCCS = 1 << 0  // current connect status
	portscPR  = 1 << 4  // port reset
	portscPP  = 1 << 9  // port power
	portscSpeedShift = 10
	portscSpeedMask  = 0xF << portscSpeedShift
)

// portWritableMask clears bits 17 through 24, which cover the
// write-1-to-clear status-change bits (CSC, PEC, WRC, OCC, PRC, PLC, CEC at
// bits 17 through 23), so a read-modify-write never inadvertently
// acknowledges a change event.
const portWritableMask = ^uint32(0x1FE0000)

// ResetPort powers and resets port n (0-based), polling PR's self-clear
// with bounded iteration, then returns the final cached PORTSC value.
func (c *Controller) ResetPort(n int) (uint32, error) {
	cur := c.op.PortSC(n)
	c.op.SetPortSC(n, (cur&portWritableMask)|portscPP)

	cur = c.op.PortSC(n)
	c.op.SetPortSC(n, (cur&portWritableMask)|portscPR)

	err := c.pollUntil(func() bool {
		return c.op.PortSC(n)&portscPR == 0
	})
	final := c.op.PortSC(n)
	if err != nil {
		return final, xerr.ErrMmioTimeout
	}
	return final, nil
}

// PortSpeed extracts the negotiated speed field from a cached PORTSC
// value, matching the encoding AddressDevice's slot_ctx.speed expects.
func PortSpeed(portsc uint32) uint8 {
	return uint8((portsc & portscSpeedMask) >> portscSpeedShift)
}

// PortConnected reports whether the current connect status bit is set.
func PortConnected(portsc uint32) bool {
	return portsc&portscCCS != 0
}
