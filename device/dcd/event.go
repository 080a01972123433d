package dcd

import (
	"fmt"

	"github.com/ardnew/usbcore/pkg"
)

// EventID identifies the kind of a controller event.
type EventID uint8

// Event kinds.
const (
	EventInvalid EventID = iota
	EventBusReset
	EventUnplugged
	EventSOF
	EventSuspend
	EventResume
	EventSetupReceived
	EventXferComplete
	EventFuncCall
)

// String returns the name of the event kind.
func (id EventID) String() string {
	switch id {
	case EventBusReset:
		return "bus_reset"
	case EventUnplugged:
		return "unplugged"
	case EventSOF:
		return "sof"
	case EventSuspend:
		return "suspend"
	case EventResume:
		return "resume"
	case EventSetupReceived:
		return "setup_received"
	case EventXferComplete:
		return "xfer_complete"
	case EventFuncCall:
		return "func_call"
	default:
		return "invalid"
	}
}

// Event is one normalized notification from a controller.
type Event struct {
	Port uint8
	ID   EventID

	// EventBusReset
	Speed Speed

	// EventSOF
	Frame uint32

	// EventSetupReceived: copied out of controller memory on receipt.
	Setup [8]byte

	// EventXferComplete
	EP     uint8
	Len    int
	Result pkg.XferResult
	Short  bool // final packet was shorter than the max packet size

	// EventFuncCall
	Func func()
}

// String returns a short description of the event.
func (e *Event) String() string {
	switch e.ID {
	case EventBusReset:
		return fmt.Sprintf("%s port=%d speed=%s", e.ID, e.Port, e.Speed)
	case EventSOF:
		return fmt.Sprintf("%s port=%d frame=%d", e.ID, e.Port, e.Frame)
	case EventSetupReceived:
		return fmt.Sprintf("%s port=%d % x", e.ID, e.Port, e.Setup[:])
	case EventXferComplete:
		return fmt.Sprintf("%s port=%d ep=0x%02X len=%d result=%s short=%t",
			e.ID, e.Port, e.EP, e.Len, e.Result, e.Short)
	default:
		return fmt.Sprintf("%s port=%d", e.ID, e.Port)
	}
}

// Handler consumes controller events. inISR is true when the event is raised
// from the controller's interrupt context, false when raised from the task.
type Handler interface {
	HandleEvent(ev *Event, inISR bool)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ev *Event, inISR bool)

// HandleEvent calls f(ev, inISR).
func (f HandlerFunc) HandleEvent(ev *Event, inISR bool) { f(ev, inISR) }

// BusSignal reports a bus condition without payload (unplugged, suspend,
// resume).
func BusSignal(h Handler, port uint8, id EventID, inISR bool) {
	h.HandleEvent(&Event{Port: port, ID: id}, inISR)
}

// BusReset reports a bus reset and the negotiated speed.
func BusReset(h Handler, port uint8, speed Speed, inISR bool) {
	h.HandleEvent(&Event{Port: port, ID: EventBusReset, Speed: speed}, inISR)
}

// SOF reports a start of frame.
func SOF(h Handler, port uint8, frame uint32, inISR bool) {
	h.HandleEvent(&Event{Port: port, ID: EventSOF, Frame: frame}, inISR)
}

// SetupReceived copies the 8-byte setup packet out of setup before
// reporting it, so the controller may reuse its buffer immediately.
func SetupReceived(h Handler, port uint8, setup []byte, inISR bool) {
	ev := Event{Port: port, ID: EventSetupReceived}
	copy(ev.Setup[:], setup)
	h.HandleEvent(&ev, inISR)
}

// XferComplete reports the end of a transfer on ep.
func XferComplete(h Handler, port uint8, ep uint8, n int, result pkg.XferResult, short bool, inISR bool) {
	h.HandleEvent(&Event{
		Port:   port,
		ID:     EventXferComplete,
		EP:     ep,
		Len:    n,
		Result: result,
		Short:  short,
	}, inISR)
}
