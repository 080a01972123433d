package nrf5x

import (
	"sync"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// Endpoint layout.
const (
	NumEndpoints = 9 // 0 to 7 plus the isochronous endpoint
	IsoEndpoint  = 8
	EP0Size      = 64
	maxCBIPacket = 64
	maxIsoPacket = 1023
)

// Config selects the peripheral instance.
type Config struct {
	Port uint8
}

// endpoint is one endpoint direction: the transfer descriptor plus the
// peripheral's endpoint buffer.
type endpoint struct {
	dcd.Xfer
	enabled bool
	buf     []byte
	full    bool // OUT: data ACKed but not yet moved; IN: loaded for the host
}

// Controller is one nRF52 USBD peripheral.
type Controller struct {
	cfg Config

	mu   sync.Mutex
	link dcd.Link
	eps  [NumEndpoints][2]endpoint
	dma  dmaEngine

	rcvOut      bool // EP0RCVOUT started
	statusArmed bool // EP0STATUS started, waiting for the host handshake
	pendingAddr int  // address from the last SET_ADDRESS, or -1
	usbEvent    bool // USBEVENT interrupt enabled
}

// New creates a controller.
func New(cfg Config) *Controller {
	c := &Controller{cfg: cfg}
	c.resetLocked()
	return c
}

// Port returns the root-hub port of the controller.
func (c *Controller) Port() uint8 { return c.cfg.Port }

// EP0Size returns the endpoint 0 max packet size.
func (c *Controller) EP0Size() int { return EP0Size }

// Init records the event handler. The peripheral keeps no state of its own
// before the first bus reset.
func (c *Controller) Init(h dcd.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.link = dcd.Link{Handler: h}
	c.resetLocked()
	pkg.LogDebug(pkg.ComponentDCD, "nrf5x init", "port", c.cfg.Port)
	return nil
}

func (c *Controller) resetLocked() {
	c.link.Address = 0
	c.link.Suspended = false
	c.eps = [NumEndpoints][2]endpoint{}
	c.dma.reset()
	c.rcvOut = false
	c.statusArmed = false
	c.pendingAddr = -1
	c.usbEvent = false

	for dir := 0; dir < 2; dir++ {
		e := &c.eps[0][dir]
		e.Configure(dcd.Endpoint{
			Address:       dcd.EdptAddr(0, dir),
			Type:          dcd.TransferControl,
			MaxPacketSize: EP0Size,
		})
		e.enabled = true
	}
}

// Connect enables the D+ pull-up.
func (c *Controller) Connect() {
	c.mu.Lock()
	c.link.Connected = true
	c.mu.Unlock()
}

// Disconnect removes the D+ pull-up.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.link.Connected = false
	c.mu.Unlock()
}

// SetAddress enables suspend and resume detection. The peripheral latches
// the address itself when the SET_ADDRESS status stage completes.
func (c *Controller) SetAddress(addr uint8) {
	c.mu.Lock()
	c.usbEvent = true
	c.mu.Unlock()
	pkg.LogDebug(pkg.ComponentDCD, "nrf5x address", "port", c.cfg.Port, "addr", addr)
}

// RemoteWakeup leaves low-power mode and drives resume signalling.
func (c *Controller) RemoteWakeup() {
	c.mu.Lock()
	c.link.Wakeup = true
	c.mu.Unlock()
}

// SOFEnable enables the SOF interrupt.
func (c *Controller) SOFEnable(en bool) {
	c.mu.Lock()
	c.link.SOFEnabled = en
	c.mu.Unlock()
}

// EdptOpen enables the endpoint.
func (c *Controller) EdptOpen(ep dcd.Endpoint) error {
	num := dcd.EdptNumber(ep.Address)
	switch {
	case num >= NumEndpoints:
		return pkg.ErrInvalidEndpoint
	case (num == IsoEndpoint) != (ep.Type == dcd.TransferIsochronous):
		return pkg.ErrNotSupported
	case ep.Type == dcd.TransferIsochronous && ep.MaxPacketSize > maxIsoPacket:
		return pkg.ErrNotSupported
	case ep.Type != dcd.TransferIsochronous && ep.MaxPacketSize > maxCBIPacket:
		return pkg.ErrNotSupported
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e := &c.eps[num][dcd.EdptDir(ep.Address)]
	e.Configure(ep)
	e.enabled = true
	e.full = false

	pkg.LogDebug(pkg.ComponentDCD, "nrf5x open", "ep", ep.String())
	return nil
}

// EdptXfer starts a transfer. A zero-length transfer on endpoint 0 starts
// the status task and completes at once.
func (c *Controller) EdptXfer(ep uint8, buf []byte) error {
	if len(buf) > 0xFFFF {
		return pkg.ErrInvalidParameter
	}

	var pend dcd.Pending
	c.mu.Lock()
	e, err := c.endpoint(ep)
	if err == nil {
		err = e.Start(buf)
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}

	switch {
	case dcd.EdptNumber(ep) == 0 && len(buf) == 0:
		// the status task needs EasyDMA to be free as well
		c.runDMA(&pend)
		c.statusArmed = true
		n, _ := e.Finish()
		pend.Complete(c.cfg.Port, ep, n, true)

	case dcd.EdptIsIn(ep):
		c.dma.start(jobFor(ep))

	case e.full:
		c.dma.start(jobFor(ep))

	default:
		c.prepareOut(ep)
	}
	h := c.link.Handler
	c.mu.Unlock()

	pend.Deliver(h, false)
	return nil
}

// prepareOut lets the peripheral ACK the next OUT packet.
func (c *Controller) prepareOut(ep uint8) {
	if dcd.EdptNumber(ep) == 0 {
		c.rcvOut = true
	}
}

// runDMA executes every queued EasyDMA job and handles its END event.
func (c *Controller) runDMA(pend *dcd.Pending) {
	c.dma.run(func(job dmaJob) {
		e := &c.eps[dcd.EdptNumber(job.ep)][dcd.EdptDir(job.ep)]
		if !e.Active {
			return
		}
		switch job.kind {
		case dmaToEndpoint:
			e.buf = append(e.buf[:0], e.Next()...)
			e.full = true

		case dmaToRAM:
			p := e.buf
			e.full = false
			if e.Receive(p) {
				n, short := e.Finish()
				pend.Complete(c.cfg.Port, job.ep, n, short)
				return
			}
			c.prepareOut(job.ep)
		}
	})
}

// EdptStall stalls the endpoint. Stalling endpoint 0 stalls both
// directions until the next SETUP.
func (c *Controller) EdptStall(ep uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dcd.EdptNumber(ep) == 0 {
		for dir := 0; dir < 2; dir++ {
			c.eps[0][dir].Stall()
		}
		c.dma.drop(0x00)
		c.dma.drop(0x80)
		c.rcvOut = false
		c.statusArmed = false
		return
	}
	if e, err := c.endpoint(ep); err == nil {
		e.Stall()
		c.dma.drop(ep)
	}
}

// EdptClearStall clears the stall and resets the toggle to DATA0. The
// endpoint 0 stall is cleared by the peripheral on SETUP.
func (c *Controller) EdptClearStall(ep uint8) {
	if dcd.EdptNumber(ep) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, err := c.endpoint(ep); err == nil {
		e.ClearStall()
	}
}

// EdptStalled reports the stall state.
func (c *Controller) EdptStalled(ep uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.endpoint(ep)
	return err == nil && e.Stalled
}

// EdptBusy reports whether a transfer is active.
func (c *Controller) EdptBusy(ep uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.endpoint(ep)
	return err == nil && e.Active
}

// EdptClose disables the endpoint.
func (c *Controller) EdptClose(ep uint8) {
	if dcd.EdptNumber(ep) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, err := c.endpoint(ep); err == nil {
		*e = endpoint{}
		c.dma.drop(ep)
	}
}

// EdptCloseAll disables every endpoint but endpoint 0.
func (c *Controller) EdptCloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for num := uint8(1); num < NumEndpoints; num++ {
		c.eps[num] = [2]endpoint{}
		c.dma.drop(num)
		c.dma.drop(num | dcd.DirIn)
	}
}

// DMAOrder returns the endpoint addresses of the most recent EasyDMA jobs
// in the order they ran.
func (c *Controller) DMAOrder() []uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint8(nil), c.dma.done...)
}

func (c *Controller) endpoint(ep uint8) (*endpoint, error) {
	num := dcd.EdptNumber(ep)
	if num >= NumEndpoints {
		return nil, pkg.ErrInvalidEndpoint
	}
	return &c.eps[num][dcd.EdptDir(ep)], nil
}

var (
	_ dcd.Controller = (*Controller)(nil)
	_ dcd.Bus        = (*Controller)(nil)
)
