package dcd

// Bus is the wire side of a controller: the operations a host performs on
// the link. Calls into a Bus act as the controller's interrupt context.
//
// Handshake results are reported as errors: nil is ACK, pkg.ErrNAK and
// pkg.ErrStall are the corresponding handshakes, and pkg.ErrNoResponse
// means the token went unanswered (not attached, address mismatch or the
// endpoint is disabled).
type Bus interface {
	// Attached reports whether the device pull-up is enabled.
	Attached() bool

	// Reset drives a bus reset at the given speed.
	Reset(speed Speed)

	// Setup delivers a SETUP token and its 8-byte data packet to endpoint 0.
	Setup(addr uint8, setup []byte) error

	// In issues an IN token and returns the data packet.
	In(addr, ep uint8) ([]byte, error)

	// Out issues an OUT token followed by data.
	Out(addr, ep uint8, data []byte) error

	// Suspend idles the bus long enough for the device to suspend.
	Suspend()

	// Resume drives resume signalling.
	Resume()

	// SOF issues a start-of-frame token.
	SOF(frame uint32)

	// Detach removes VBUS.
	Detach()

	// WakeupRequested reports and clears a pending remote wakeup signal.
	WakeupRequested() bool
}

// Link is the bus-level state every controller model keeps next to its
// endpoint registers.
type Link struct {
	Handler    Handler
	Connected  bool  // pull-up enabled
	Address    uint8 // current device address
	Suspended  bool
	SOFEnabled bool
	Wakeup     bool // remote wakeup signalled, not yet seen by the host
}

// Accepts reports whether a token sent to addr is for this device.
func (l *Link) Accepts(addr uint8) bool {
	return l.Connected && addr == l.Address
}

// TakeWakeup returns and clears the wakeup flag.
func (l *Link) TakeWakeup() bool {
	w := l.Wakeup
	l.Wakeup = false
	return w
}
