package samd

import (
	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// Attached reports whether the device is attached to the bus.
func (c *Controller) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link.Connected
}

// Reset handles EORST. Suspend and wakeup detection are disabled until the
// next SET_ADDRESS.
func (c *Controller) Reset(speed dcd.Speed) {
	c.mu.Lock()
	if !c.link.Connected {
		c.mu.Unlock()
		return
	}
	c.resetLocked()
	h := c.link.Handler
	c.mu.Unlock()

	if speed != dcd.SpeedLow {
		speed = dcd.SpeedFull
	}
	if h != nil {
		dcd.BusReset(h, c.cfg.Port, speed, true)
	}
}

// Setup handles RXSTP. The packet is copied out of the setup buffer before
// it is reported.
func (c *Controller) Setup(addr uint8, setup []byte) error {
	if len(setup) != 8 {
		return pkg.ErrSetupPacketTooShort
	}

	c.mu.Lock()
	if !c.link.Accepts(addr) {
		c.mu.Unlock()
		return pkg.ErrNoResponse
	}
	copy(c.setupBuf[:], setup)
	for dir := 0; dir < 2; dir++ {
		b := &c.banks[0][dir]
		b.Abort()
		b.ClearStall()
		b.ready = false
	}
	c.prepareSetup()
	h := c.link.Handler
	pkt := c.setupBuf
	c.mu.Unlock()

	if h != nil {
		dcd.SetupReceived(h, c.cfg.Port, pkt[:], true)
	}
	return nil
}

// In handles an IN token: the peripheral sends the next packet of the
// bank's buffer and raises TRCPT1 after the last one.
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
	b, err := c.bank(ep)
	if err != nil || b.eptype == 0 {
		return nil, pkg.ErrNoResponse
	}
	if b.Stalled {
		return nil, pkg.ErrStall
	}
	if !b.ready {
		if b.Type == dcd.TransferIsochronous {
			return nil, pkg.ErrNoResponse
		}
		return nil, pkg.ErrNAK
	}

	p := append([]byte(nil), b.Next()...)
	if b.Advance(len(p)) {
		b.ready = false
		n, short := b.Finish()
		pend.Complete(c.cfg.Port, ep, n, short)
	}
	return p, nil
}

// Out handles an OUT token: the peripheral writes the packet straight into
// the bank's buffer and raises TRCPT0 once the multi-packet size is reached
// or a short packet arrives.
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
	b, err := c.bank(ep)
	if err != nil || b.eptype == 0 {
		return pkg.ErrNoResponse
	}
	if b.Stalled {
		return pkg.ErrStall
	}
	if !b.ready {
		if b.Type == dcd.TransferIsochronous {
			return nil
		}
		return pkg.ErrNAK
	}
	if len(data) > b.MPS {
		return pkg.ErrOverrun
	}

	if b.Receive(data) {
		b.ready = false
		n, short := b.Finish()
		// a SETUP may follow the status OUT immediately
		if dcd.EdptNumber(ep) == 0 {
			c.prepareSetup()
		}
		pend.Complete(c.cfg.Port, ep, n, short)
	}
	return nil
}

// Suspend handles the SUSPEND interrupt, which is only enabled once the
// device has been addressed.
func (c *Controller) Suspend() {
	c.mu.Lock()
	if !c.link.Connected || !c.suspendArmed || c.link.Suspended {
		c.mu.Unlock()
		return
	}
	c.link.Suspended = true
	c.wakeupEnabled = true
	h := c.link.Handler
	c.mu.Unlock()

	if h != nil {
		dcd.BusSignal(h, c.cfg.Port, dcd.EventSuspend, true)
	}
}

// Resume handles the WAKEUP interrupt, which disables itself.
func (c *Controller) Resume() {
	c.mu.Lock()
	if !c.wakeupEnabled {
		c.mu.Unlock()
		return
	}
	c.wakeupEnabled = false
	c.link.Suspended = false
	h := c.link.Handler
	c.mu.Unlock()

	if h != nil {
		dcd.BusSignal(h, c.cfg.Port, dcd.EventResume, true)
	}
}

// SOF handles the SOF interrupt.
func (c *Controller) SOF(frame uint32) {
	c.mu.Lock()
	report := c.link.Connected && c.link.SOFEnabled
	h := c.link.Handler
	c.mu.Unlock()

	if report && h != nil {
		dcd.SOF(h, c.cfg.Port, frame&0x7FF, true)
	}
}

// Detach removes VBUS. The board's VBUS sense raises the unplug.
func (c *Controller) Detach() {
	c.mu.Lock()
	c.link.Address = 0
	c.link.Suspended = false
	c.suspendArmed = false
	c.wakeupEnabled = false
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
