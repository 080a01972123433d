package host

import (
	"fmt"
	"time"
)

// Device states as seen from the host.
const (
	DeviceStateDetached   DeviceState = 0 // Device is not connected
	DeviceStateAttached   DeviceState = 1 // Pull-up seen, not reset yet
	DeviceStateDefault    DeviceState = 2 // Device has been reset, at address 0
	DeviceStateAddress    DeviceState = 3 // Device has been assigned an address
	DeviceStateConfigured DeviceState = 4 // Device is configured
	DeviceStateSuspended  DeviceState = 5 // Device is in suspend mode
)

// DeviceState represents USB device state (from host perspective).
type DeviceState uint8

// String returns a human-readable state description.
func (s DeviceState) String() string {
	switch s {
	case DeviceStateDetached:
		return "Detached"
	case DeviceStateAttached:
		return "Attached"
	case DeviceStateDefault:
		return "Default"
	case DeviceStateAddress:
		return "Address"
	case DeviceStateConfigured:
		return "Configured"
	case DeviceStateSuspended:
		return "Suspended"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}

// Limits.
const (
	// MaxAddress is the highest device address the host assigns.
	MaxAddress = 127

	// MaxDescriptorSize bounds configuration descriptor reads.
	MaxDescriptorSize = 1024

	// MaxStringSize is the size of a string descriptor read.
	MaxStringSize = 255

	// FirstReadSize is the length of the first device descriptor read at
	// address 0, enough to learn bMaxPacketSize0.
	FirstReadSize = 8
)

// Token retry policy.
const (
	// DefaultNAKLimit is the number of consecutive NAKs tolerated on one
	// token when an idle hook pumps the device. The device task has run
	// between two retries, so a device that still NAKs has nothing to say.
	DefaultNAKLimit = 16

	// DefaultPollInterval is the pause between NAK retries without an idle
	// hook.
	DefaultPollInterval = 50 * time.Microsecond
)

