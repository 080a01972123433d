package dcd

import "fmt"

// Speed is the bus speed negotiated during reset.
type Speed uint8

// Bus speeds.
const (
	SpeedFull Speed = iota
	SpeedLow
	SpeedHigh
)

// String returns the name of the speed.
func (s Speed) String() string {
	switch s {
	case SpeedFull:
		return "full"
	case SpeedLow:
		return "low"
	case SpeedHigh:
		return "high"
	default:
		return "unknown"
	}
}

// TransferType is the endpoint transfer type (bmAttributes bits 1:0).
type TransferType uint8

// Transfer types.
const (
	TransferControl     TransferType = 0
	TransferIsochronous TransferType = 1
	TransferBulk        TransferType = 2
	TransferInterrupt   TransferType = 3
)

// String returns the name of the transfer type.
func (t TransferType) String() string {
	switch t {
	case TransferControl:
		return "control"
	case TransferIsochronous:
		return "isochronous"
	case TransferBulk:
		return "bulk"
	case TransferInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// Endpoint address layout.
const (
	DirIn        = 0x80 // direction bit of an endpoint address
	EndpointMask = 0x0F // endpoint number bits
	MaxEndpoints = 16   // endpoint numbers per direction
)

// EdptNumber returns the endpoint number of an address.
func EdptNumber(ep uint8) uint8 { return ep & EndpointMask }

// EdptIsIn reports whether the address is an IN endpoint.
func EdptIsIn(ep uint8) bool { return ep&DirIn != 0 }

// EdptDir returns 1 for IN addresses and 0 for OUT addresses, suitable
// for indexing per-direction state.
func EdptDir(ep uint8) int {
	if ep&DirIn != 0 {
		return 1
	}
	return 0
}

// EdptAddr builds an endpoint address from a number and a direction index.
func EdptAddr(num uint8, dir int) uint8 {
	if dir != 0 {
		return num | DirIn
	}
	return num
}

// Endpoint carries the fields of an endpoint descriptor a controller needs
// to open the endpoint.
type Endpoint struct {
	Address       uint8
	Type          TransferType
	MaxPacketSize uint16
	Interval      uint8
}

// String returns a short description of the endpoint.
func (e Endpoint) String() string {
	dir := "OUT"
	if EdptIsIn(e.Address) {
		dir = "IN"
	}
	return fmt.Sprintf("EP%d %s %s mps=%d", EdptNumber(e.Address), dir, e.Type, e.MaxPacketSize)
}

// Controller is the operation set every device controller family provides.
//
// All methods may be called from the device task while the controller's
// Bus side is being driven from another goroutine. Implementations guard
// their register state and never call the Handler while holding it.
type Controller interface {
	// Port returns the root-hub port this controller instance serves.
	Port() uint8

	// EP0Size returns the fixed max packet size of endpoint 0.
	EP0Size() int

	// Init resets the controller, clears all endpoint state, arms reset,
	// suspend and SOF detection and records the event sink. Calling it
	// again leaves the controller in the same state as a single call.
	Init(h Handler) error

	// Connect enables the D+ pull-up so the host can see the device.
	Connect()

	// Disconnect removes the pull-up.
	Disconnect()

	// SetAddress programs the device address. The stack calls it only
	// once the status stage of SET_ADDRESS has completed.
	SetAddress(addr uint8)

	// RemoteWakeup signals resume to the host.
	RemoteWakeup()

	// SOFEnable turns start-of-frame events on or off.
	SOFEnable(en bool)

	// EdptOpen allocates hardware resources for an endpoint. It fails when
	// the hardware cannot represent the endpoint.
	EdptOpen(ep Endpoint) error

	// EdptXfer queues one transfer of len(buf) bytes. The controller keeps
	// a reference to buf until the completion event.
	EdptXfer(ep uint8, buf []byte) error

	// EdptStall stalls an endpoint, aborting its active transfer without a
	// completion event. Stalling endpoint 0 stalls both directions.
	EdptStall(ep uint8)

	// EdptClearStall clears the stall and resets the data toggle to DATA0.
	EdptClearStall(ep uint8)

	// EdptStalled reports the hardware stall state.
	EdptStalled(ep uint8) bool

	// EdptBusy reports whether a transfer is in flight.
	EdptBusy(ep uint8) bool

	// EdptClose releases the resources of one endpoint.
	EdptClose(ep uint8)

	// EdptCloseAll closes every endpoint except endpoint 0.
	EdptCloseAll()
}
