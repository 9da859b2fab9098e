package xhci

import "github.com/astra-os/xkernel/internal/addr"

// EventKind classifies an Event delivered on Controller.Events().
type EventKind int

const (
	EventPortStatusChange EventKind = iota
	EventCommandCompletion
	EventHostController
	EventMFINDEXWrap
)

// Event is the channel-based feed wired to the shell/TTY external
// collaborators, modeled after a small-interface style (Unpin_i, Page_i)
// generalized to "events consumed by a channel" rather than a
// callback-registration table, which is the idiomatic Go analogue.
type Event struct {
	Kind           EventKind
	Port           uint8 // valid for EventPortStatusChange
	SlotID         uint8 // valid for EventCommandCompletion
	CompletionCode uint8
}

// Events returns the controller's event feed. ProcessEvents populates it;
// callers must keep draining it or risk dropping events once the channel
// buffer fills (events are best-effort notifications, not a command-
// completion RPC channel — that waits synchronously in submitCommand).
func (c *Controller) Events() <-chan Event {
	return c.events
}

// ProcessEvents drains every TRB currently available on the event ring,
// dispatching each by trb_type, and writes back ERDP with EHB set once the
// batch is consumed.
func (c *Controller) ProcessEvents() {
	consumed := false
	for {
		ev, ok := c.evtRing.Pop()
		if !ok {
			break
		}
		consumed = true
		c.dispatchEvent(ev)
	}
	if consumed {
		c.rt.SetERDP(c.evtRing.DequeuePhys(), true)
	}
}

func (c *Controller) dispatchEvent(ev TRB) {
	switch ev.Type() {
	case TRBTypeCommandCompletionEvent:
		c.completedCommands[addr.Phys(ev.Parameter)] = ev
		c.publish(Event{Kind: EventCommandCompletion, SlotID: ev.SlotID(), CompletionCode: ev.CompletionCode()})
	case TRBTypePortStatusChangeEvent:
		port := uint8(ev.Parameter>>24) & 0xFF
		c.publish(Event{Kind: EventPortStatusChange, Port: port})
	case TRBTypeTransferEvent:
		c.handleTransferEvent(ev)
	case TRBTypeHostControllerEvent:
		c.publish(Event{Kind: EventHostController, CompletionCode: ev.CompletionCode()})
	case TRBTypeMFINDEXWrapEvent:
		c.publish(Event{Kind: EventMFINDEXWrap})
	}
}

func (c *Controller) publish(e Event) {
	select {
	case c.events <- e:
	default:
		// buffer full: drop rather than block the event-processing loop,
		// consistent with "no unbounded waits".
	}
}

// handleTransferEvent records the last completion code observed for the
// reporting TRB pointer.
func (c *Controller) handleTransferEvent(ev TRB) {
	if c.transferCompletions == nil {
		c.transferCompletions = map[addr.Phys]TRB{}
	}
	c.transferCompletions[addr.Phys(ev.Parameter)] = ev
}
