package device

import "fmt"

// Limits of the fixed-size tables kept by the stack.
const (
	// MaxInterfaces is the number of interface numbers a configuration may
	// bind to class drivers.
	MaxInterfaces = 16

	// DefaultQueueSize is the event queue depth used when Config.QueueSize
	// is zero.
	DefaultQueueSize = 16

	// MaxEP0Size is the largest endpoint 0 packet size of a full-speed
	// device.
	MaxEP0Size = 64

	// MaxStringUnits is the number of UTF-16 code units that fit in a
	// string descriptor.
	MaxStringUnits = 126
)

// noDriver marks an unbound interface or endpoint.
const noDriver = 0xFF

// Device states as defined in USB 2.0 specification section 9.1.
const (
	StateAttached   State = 0 // not connected, or connected before the first reset
	StateDefault    State = 1 // reset, answering at address 0
	StateAddress    State = 2 // address assigned
	StateConfigured State = 3 // configuration selected, drivers bound
	StateSuspended  State = 4 // bus idle while connected
)

// State represents the USB device state as seen by the host.
type State uint8

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateAttached:
		return "Attached"
	case StateDefault:
		return "Default"
	case StateAddress:
		return "Address"
	case StateConfigured:
		return "Configured"
	case StateSuspended:
		return "Suspended"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}
