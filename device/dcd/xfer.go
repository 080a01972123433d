package dcd

import "github.com/ardnew/usbcore/pkg"

// Xfer is the per-endpoint, per-direction transfer state a controller keeps.
//
// The buffer belongs to the caller of EdptXfer. The controller only
// references it between Start and the completion event.
type Xfer struct {
	Buf     []byte // caller-owned transfer buffer
	Total   int    // requested length
	Actual  int    // bytes moved so far
	Packets int    // packets moved for the active transfer
	MPS     int    // max packet size
	Type    TransferType
	Open    bool
	Active  bool
	Stalled bool
	Toggle  uint8 // next data PID: 0 = DATA0, 1 = DATA1
	Short   bool  // the last packet moved was short
}

// Configure marks the endpoint open with the given parameters and resets
// its toggle and stall state.
func (x *Xfer) Configure(ep Endpoint) {
	*x = Xfer{
		MPS:  int(ep.MaxPacketSize),
		Type: ep.Type,
		Open: true,
	}
}

// Start begins a transfer on buf.
func (x *Xfer) Start(buf []byte) error {
	if !x.Open {
		return pkg.ErrInvalidEndpoint
	}
	if x.Active {
		return pkg.ErrBusy
	}
	x.Buf = buf
	x.Total = len(buf)
	x.Actual = 0
	x.Packets = 0
	x.Short = false
	x.Active = true
	return nil
}

// Remaining returns the bytes left to move.
func (x *Xfer) Remaining() int {
	return x.Total - x.Actual
}

// NextLen returns the size of the next packet.
func (x *Xfer) NextLen() int {
	return min(x.Remaining(), x.MPS)
}

// Next returns the payload of the next IN packet.
func (x *Xfer) Next() []byte {
	return x.Buf[x.Actual : x.Actual+x.NextLen()]
}

// Advance accounts one packet of n bytes on the wire and reports whether the
// transfer is complete: either the packet was short or the requested length
// has been reached.
func (x *Xfer) Advance(n int) bool {
	x.Actual += n
	x.Packets++
	x.Toggle ^= 1
	if n < x.MPS {
		x.Short = true
		return true
	}
	return x.Actual >= x.Total
}

// Receive stores an OUT packet into the transfer buffer. Bytes beyond the
// requested length are discarded; the short-packet decision uses the length
// seen on the wire.
func (x *Xfer) Receive(p []byte) bool {
	n := copy(x.Buf[x.Actual:], p)
	x.Actual += n
	x.Packets++
	x.Toggle ^= 1
	if len(p) < x.MPS {
		x.Short = true
		return true
	}
	return x.Actual >= x.Total
}

// Finish ends the active transfer and returns the bytes moved and whether
// it ended on a short packet.
func (x *Xfer) Finish() (int, bool) {
	x.Active = false
	x.Buf = nil
	return x.Actual, x.Short
}

// Abort drops the active transfer without completion.
func (x *Xfer) Abort() {
	x.Active = false
	x.Buf = nil
}

// Stall sets the stall flag and aborts the active transfer.
func (x *Xfer) Stall() {
	x.Stalled = true
	x.Abort()
}

// ClearStall clears the stall flag and resets the toggle to DATA0.
func (x *Xfer) ClearStall() {
	x.Stalled = false
	x.Toggle = 0
}

// Close forgets everything about the endpoint.
func (x *Xfer) Close() {
	*x = Xfer{}
}

// Pending collects events raised while a controller holds its register lock
// so they can be delivered after the lock is released.
type Pending struct {
	events []Event
}

// Add records an event.
func (p *Pending) Add(ev Event) {
	p.events = append(p.events, ev)
}

// Setup records a setup packet, copying it.
func (p *Pending) Setup(port uint8, setup []byte) {
	ev := Event{Port: port, ID: EventSetupReceived}
	copy(ev.Setup[:], setup)
	p.events = append(p.events, ev)
}

// Complete records a transfer completion.
func (p *Pending) Complete(port uint8, ep uint8, n int, short bool) {
	p.events = append(p.events, Event{
		Port:   port,
		ID:     EventXferComplete,
		EP:     ep,
		Len:    n,
		Result: pkg.XferSuccess,
		Short:  short,
	})
}

// Signal records a payload-free bus signal.
func (p *Pending) Signal(port uint8, id EventID) {
	p.events = append(p.events, Event{Port: port, ID: id})
}

// Deliver hands every recorded event to h in order. A nil h drops them.
func (p *Pending) Deliver(h Handler, inISR bool) {
	if h == nil {
		p.events = p.events[:0]
		return
	}
	for i := range p.events {
		h.HandleEvent(&p.events[i], inISR)
	}
	p.events = p.events[:0]
}
