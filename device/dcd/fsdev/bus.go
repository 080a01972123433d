package fsdev

import (
	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// The methods in this file are the wire side of the peripheral. Each one
// runs the matching interrupt path under the register lock, then delivers
// the collected events with the lock released.

// Attached reports whether the pull-up is enabled.
func (c *Controller) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link.Connected
}

// Reset handles the RESET interrupt. The peripheral is full-speed only, so
// the requested speed is ignored.
func (c *Controller) Reset(dcd.Speed) {
	c.mu.Lock()
	if !c.link.Connected {
		c.mu.Unlock()
		return
	}
	c.resetLocked()
	h := c.link.Handler
	c.mu.Unlock()

	if h != nil {
		dcd.BusReset(h, c.cfg.Port, dcd.SpeedFull, true)
	}
}

// Setup handles a SETUP token on endpoint 0.
func (c *Controller) Setup(addr uint8, setup []byte) error {
	if len(setup) != 8 {
		return pkg.ErrSetupPacketTooShort
	}

	var pend dcd.Pending
	c.mu.Lock()
	if !c.link.Accepts(addr) {
		c.mu.Unlock()
		return pkg.ErrNoResponse
	}

	out, in := &c.ctl[0][0], &c.ctl[0][1]
	s := &c.slots[out.slot]
	c.pma.write(s.addrRx, setup)
	s.setup = true

	// SETUP clears any stall and pending data stage on both directions
	// and leaves them NAKing until the stack responds.
	for dir, x := range []*xferCtl{out, in} {
		x.Abort()
		x.ClearStall()
		x.Toggle = 1
		s.stat[dir] = statNAK
	}
	pend.Setup(c.cfg.Port, c.pma.read(s.addrRx, 8))
	s.setup = false
	h := c.link.Handler
	c.mu.Unlock()

	pend.Deliver(h, true)
	return nil
}

// In handles an IN token.
func (c *Controller) In(addr, ep uint8) ([]byte, error) {
	ep |= dcd.DirIn

	var pend dcd.Pending
	c.mu.Lock()
	if !c.link.Accepts(addr) {
		c.mu.Unlock()
		return nil, pkg.ErrNoResponse
	}
	x := c.ctlFor(ep)
	if !x.Open {
		c.mu.Unlock()
		return nil, pkg.ErrNoResponse
	}
	s := &c.slots[x.slot]

	var data []byte
	var err error
	switch s.stat[1] {
	case statDisabled:
		err = pkg.ErrNoResponse
	case statStall:
		err = pkg.ErrStall
	case statNAK:
		err = pkg.ErrNAK
	default:
		if x.Type == dcd.TransferIsochronous {
			data, err = c.isoIn(x, ep, &pend)
			break
		}
		data = c.pma.read(s.addrTx, int(s.countTx))
		s.stat[1] = statNAK
		if x.Advance(len(data)) {
			n, short := x.Finish()
			pend.Complete(c.cfg.Port, ep, n, short)
		} else {
			c.transmitPacket(x, s)
		}
	}
	h := c.link.Handler
	c.mu.Unlock()

	pend.Deliver(h, true)
	return data, err
}

// isoIn sends the bank the peripheral points at and refills the other one.
func (c *Controller) isoIn(x *xferCtl, ep uint8, pend *dcd.Pending) ([]byte, error) {
	b := &x.banks[x.hwBank]
	if !b.full {
		return nil, pkg.ErrNoResponse
	}
	data := c.pma.read(b.addr, int(b.count))
	b.full = false
	x.hwBank ^= 1

	x.Actual += len(data)
	x.Packets++
	if x.Actual >= x.Total {
		c.slots[x.slot].stat[1] = statNAK
		n, short := x.Finish()
		pend.Complete(c.cfg.Port, ep, n, short)
		return data, nil
	}
	c.armIsoIn(x)
	return data, nil
}

// Out handles an OUT token and its data packet.
func (c *Controller) Out(addr, ep uint8, data []byte) error {
	ep &^= dcd.DirIn

	var pend dcd.Pending
	c.mu.Lock()
	if !c.link.Accepts(addr) {
		c.mu.Unlock()
		return pkg.ErrNoResponse
	}
	x := c.ctlFor(ep)
	if !x.Open {
		c.mu.Unlock()
		return pkg.ErrNoResponse
	}
	s := &c.slots[x.slot]

	var err error
	switch s.stat[0] {
	case statDisabled:
		err = pkg.ErrNoResponse
	case statStall:
		err = pkg.ErrStall
	case statNAK:
		err = pkg.ErrNAK
	default:
		if x.Type == dcd.TransferIsochronous {
			err = c.isoOut(x, ep, data, &pend)
			break
		}
		if len(data) > decodeRxSize(s.countRx) {
			err = pkg.ErrOverrun
			break
		}
		c.pma.write(s.addrRx, data)
		s.countRx = s.countRx&^rxCountMask | uint16(len(data))
		s.stat[0] = statNAK

		if x.Receive(c.pma.read(s.addrRx, len(data))) {
			n, short := x.Finish()
			pend.Complete(c.cfg.Port, ep, n, short)
		} else {
			c.armReceive(x, s)
		}
		if dcd.EdptNumber(ep) == 0 {
			s.countRx = encodeRxSize(c.cfg.EP0Size)
		}
	}
	h := c.link.Handler
	c.mu.Unlock()

	pend.Deliver(h, true)
	return err
}

// isoOut lands the packet in the bank the peripheral points at and drains
// the bank software owns.
func (c *Controller) isoOut(x *xferCtl, ep uint8, data []byte, pend *dcd.Pending) error {
	if len(data) > x.MPS {
		return pkg.ErrOverrun
	}
	hw := &x.banks[x.hwBank]
	c.pma.write(hw.addr, data)
	hw.count = uint16(len(data))
	hw.full = true
	x.hwBank ^= 1

	sw := &x.banks[x.armBank]
	if !sw.full {
		return nil
	}
	p := c.pma.read(sw.addr, int(sw.count))
	sw.full = false
	x.armBank ^= 1

	if x.Receive(p) {
		c.slots[x.slot].stat[0] = statNAK
		n, short := x.Finish()
		pend.Complete(c.cfg.Port, ep, n, short)
	}
	return nil
}

// Suspend handles the SUSP interrupt.
func (c *Controller) Suspend() {
	c.mu.Lock()
	if !c.link.Connected || c.link.Suspended {
		c.mu.Unlock()
		return
	}
	c.link.Suspended = true
	h := c.link.Handler
	c.mu.Unlock()

	if h != nil {
		dcd.BusSignal(h, c.cfg.Port, dcd.EventSuspend, true)
	}
}

// Resume handles the WKUP interrupt.
func (c *Controller) Resume() {
	c.mu.Lock()
	if !c.link.Suspended {
		c.mu.Unlock()
		return
	}
	c.link.Suspended = false
	h := c.link.Handler
	c.mu.Unlock()

	if h != nil {
		dcd.BusSignal(h, c.cfg.Port, dcd.EventResume, true)
	}
}

// SOF handles the SOF interrupt. A frame seen while suspended also wakes
// the peripheral.
func (c *Controller) SOF(frame uint32) {
	c.mu.Lock()
	if !c.link.Connected {
		c.mu.Unlock()
		return
	}
	wake := c.link.Suspended
	c.link.Suspended = false
	report := c.link.SOFEnabled
	h := c.link.Handler
	c.mu.Unlock()

	if h == nil {
		return
	}
	if wake {
		dcd.BusSignal(h, c.cfg.Port, dcd.EventResume, true)
	}
	if report {
		dcd.SOF(h, c.cfg.Port, frame&0x7FF, true)
	}
}

// Detach removes VBUS.
func (c *Controller) Detach() {
	c.mu.Lock()
	c.link.Address = 0
	c.link.Suspended = false
	h := c.link.Handler
	c.mu.Unlock()

	if h != nil {
		dcd.BusSignal(h, c.cfg.Port, dcd.EventUnplugged, true)
	}
}

// WakeupRequested reports and clears a pending remote wakeup.
func (c *Controller) WakeupRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link.TakeWakeup()
}
