package nrf5x

import (
	"encoding/binary"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// Attached reports whether the pull-up is enabled.
func (c *Controller) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link.Connected
}

// Reset handles USBRESET.
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

// Setup handles EP0SETUP. The peripheral records the address of a
// SET_ADDRESS request so it can apply it after the status handshake.
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
	c.runDMA(&pend)

	for dir := 0; dir < 2; dir++ {
		e := &c.eps[0][dir]
		e.Abort()
		e.ClearStall()
		e.full = false
	}
	c.dma.drop(0x00)
	c.dma.drop(0x80)
	c.rcvOut = false
	c.statusArmed = false
	c.pendingAddr = -1
	if setup[0] == 0x00 && setup[1] == 0x05 {
		c.pendingAddr = int(binary.LittleEndian.Uint16(setup[2:]) & 0x7F)
	}
	pend.Setup(c.cfg.Port, setup)
	h := c.link.Handler
	c.mu.Unlock()

	pend.Deliver(h, true)
	return nil
}

// statusHandshake completes a started status task and applies a latched
// address.
func (c *Controller) statusHandshake() {
	c.statusArmed = false
	if c.pendingAddr >= 0 {
		c.link.Address = uint8(c.pendingAddr)
		c.pendingAddr = -1
	}
}

// In handles an IN token.
func (c *Controller) In(addr, ep uint8) ([]byte, error) {
	ep |= dcd.DirIn

	var pend dcd.Pending
	c.mu.Lock()
	data, err := c.inLocked(addr, ep, &pend)
	c.runDMA(&pend)
	h := c.link.Handler
	c.mu.Unlock()

	pend.Deliver(h, true)
	return data, err
}

func (c *Controller) inLocked(addr, ep uint8, pend *dcd.Pending) ([]byte, error) {
	if !c.link.Accepts(addr) {
		return nil, pkg.ErrNoResponse
	}
	c.runDMA(pend)

	e, err := c.endpoint(ep)
	if err != nil || !e.enabled {
		return nil, pkg.ErrNoResponse
	}
	if e.Stalled {
		return nil, pkg.ErrStall
	}
	if dcd.EdptNumber(ep) == 0 && c.statusArmed {
		c.statusHandshake()
		return []byte{}, nil
	}
	if !e.full {
		if e.Type == dcd.TransferIsochronous {
			return nil, pkg.ErrNoResponse
		}
		return nil, pkg.ErrNAK
	}

	data := append([]byte(nil), e.buf...)
	e.full = false
	if e.Advance(len(data)) {
		n, short := e.Finish()
		pend.Complete(c.cfg.Port, ep, n, short)
	} else {
		c.dma.start(jobFor(ep))
	}
	return data, nil
}

// Out handles an OUT token. The peripheral ACKs the packet into the
// endpoint buffer when it is free; the driver moves it to RAM with EasyDMA.
func (c *Controller) Out(addr, ep uint8, data []byte) error {
	ep &^= dcd.DirIn

	var pend dcd.Pending
	c.mu.Lock()
	err := c.outLocked(addr, ep, data, &pend)
	c.runDMA(&pend)
	h := c.link.Handler
	c.mu.Unlock()

	pend.Deliver(h, true)
	return err
}

func (c *Controller) outLocked(addr, ep uint8, data []byte, pend *dcd.Pending) error {
	if !c.link.Accepts(addr) {
		return pkg.ErrNoResponse
	}
	c.runDMA(pend)

	e, err := c.endpoint(ep)
	if err != nil || !e.enabled {
		return pkg.ErrNoResponse
	}
	if e.Stalled {
		return pkg.ErrStall
	}
	iso := e.Type == dcd.TransferIsochronous

	if dcd.EdptNumber(ep) == 0 {
		if c.statusArmed && len(data) == 0 {
			c.statusHandshake()
			return nil
		}
		if !c.rcvOut {
			return pkg.ErrNAK
		}
		c.rcvOut = false
	} else if e.full && !iso {
		return pkg.ErrNAK
	}
	if len(data) > e.MPS {
		return pkg.ErrOverrun
	}

	e.buf = append(e.buf[:0], data...)
	e.full = true
	if e.Active && (e.Actual < e.Total || e.Total == 0) {
		c.dma.start(jobFor(ep))
	}
	return nil
}

// Suspend handles USBEVENT with SUSPEND cause.
func (c *Controller) Suspend() {
	c.mu.Lock()
	if !c.link.Connected || !c.usbEvent || c.link.Suspended {
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

// Resume handles USBEVENT with RESUME cause.
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

// SOF handles the SOF event. Isochronous endpoint 8 transfers data once
// per frame, so queued jobs are also run here.
func (c *Controller) SOF(frame uint32) {
	var pend dcd.Pending
	c.mu.Lock()
	if !c.link.Connected {
		c.mu.Unlock()
		return
	}
	c.runDMA(&pend)
	report := c.link.SOFEnabled
	h := c.link.Handler
	c.mu.Unlock()

	pend.Deliver(h, true)
	if report && h != nil {
		dcd.SOF(h, c.cfg.Port, frame&0x7FF, true)
	}
}

// Detach removes VBUS, reported by the POWER peripheral.
func (c *Controller) Detach() {
	c.mu.Lock()
	c.link.Address = 0
	c.link.Suspended = false
	c.usbEvent = false
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
