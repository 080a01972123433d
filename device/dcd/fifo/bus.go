package fifo

import (
	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// Attached reports whether the pull-up is enabled.
func (c *Controller) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link.Connected
}

// Reset handles a bus reset.
func (c *Controller) Reset(speed dcd.Speed) {
	c.mu.Lock()
	if !c.link.Connected {
		c.mu.Unlock()
		return
	}
	c.resetLocked()
	h := c.link.Handler
	c.mu.Unlock()

	if h != nil {
		dcd.BusReset(h, c.cfg.Port, speed, true)
	}
}

// Setup handles a SETUP token. Pending endpoint 0 data is flushed.
func (c *Controller) Setup(addr uint8, setup []byte) error {
	if len(setup) != 8 {
		return pkg.ErrSetupPacketTooShort
	}
	c.mu.Lock()
	if !c.link.Accepts(addr) {
		c.mu.Unlock()
		return pkg.ErrNoResponse
	}
	for dir := 0; dir < 2; dir++ {
		e := &c.eps[0][dir]
		e.Abort()
		e.ClearStall()
		e.tx.flush()
	}
	h := c.link.Handler
	c.mu.Unlock()

	if h != nil {
		dcd.SetupReceived(h, c.cfg.Port, setup, true)
	}
	return nil
}

// In handles an IN token by popping the next packet of the FIFO.
func (c *Controller) In(addr, ep uint8) ([]byte, error) {
	ep |= dcd.DirIn

	var pend dcd.Pending
	c.mu.Lock()
	data, err := c.inLocked(addr, ep, &pend)
	h := c.link.Handler
	c.mu.Unlock()

	pend.Deliver(h, true)
	return data, err
}

func (c *Controller) inLocked(addr, ep uint8, pend *dcd.Pending) ([]byte, error) {
	if !c.link.Accepts(addr) {
		return nil, pkg.ErrNoResponse
	}
	e := c.ep(ep)
	switch {
	case !e.Open:
		return nil, pkg.ErrNoResponse
	case e.Stalled:
		return nil, pkg.ErrStall
	case len(e.tx.packets) == 0:
		return nil, pkg.ErrNAK
	}

	p := e.tx.pop()
	if e.Advance(len(p)) {
		n, short := e.Finish()
		pend.Complete(c.cfg.Port, ep, n, short)
	} else {
		c.fill(e)
	}
	return p, nil
}

// Out handles an OUT token. The packet goes straight into the armed
// transfer buffer.
func (c *Controller) Out(addr, ep uint8, data []byte) error {
	ep &^= dcd.DirIn

	var pend dcd.Pending
	c.mu.Lock()
	err := c.outLocked(addr, ep, data, &pend)
	h := c.link.Handler
	c.mu.Unlock()

	pend.Deliver(h, true)
	return err
}

func (c *Controller) outLocked(addr, ep uint8, data []byte, pend *dcd.Pending) error {
	if !c.link.Accepts(addr) {
		return pkg.ErrNoResponse
	}
	e := c.ep(ep)
	switch {
	case !e.Open:
		return pkg.ErrNoResponse
	case e.Stalled:
		return pkg.ErrStall
	case !e.Active:
		return pkg.ErrNAK
	case len(data) > e.MPS:
		return pkg.ErrOverrun
	}

	if e.Receive(data) {
		n, short := e.Finish()
		pend.Complete(c.cfg.Port, ep, n, short)
	}
	return nil
}

// Suspend handles bus idle.
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

// Resume handles resume signalling.
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

// SOF handles a start of frame.
func (c *Controller) SOF(frame uint32) {
	c.mu.Lock()
	report := c.link.Connected && c.link.SOFEnabled
	h := c.link.Handler
	c.mu.Unlock()

	if report && h != nil {
		dcd.SOF(h, c.cfg.Port, frame&0x7FF, true)
	}
}

// Detach handles VBUS removal.
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
