package fifo

import (
	"sync"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// Defaults.
const (
	DefaultEP0Size  = 64
	DefaultFIFOSize = 2048
)

// Config selects the controller variant.
type Config struct {
	Port     uint8
	EP0Size  int
	FIFOSize int // FIFO RAM shared by the transmit FIFOs
}

// txFIFO is the transmit FIFO of one IN endpoint.
type txFIFO struct {
	size    int
	used    int
	packets [][]byte
}

func (f *txFIFO) push(p []byte) {
	f.packets = append(f.packets, append([]byte(nil), p...))
	f.used += len(p)
}

func (f *txFIFO) pop() []byte {
	p := f.packets[0]
	f.packets = f.packets[1:]
	f.used -= len(p)
	return p
}

func (f *txFIFO) flush() {
	f.packets = nil
	f.used = 0
}

// epState is one endpoint direction.
type epState struct {
	dcd.Xfer
	tx     txFIFO
	queued int  // bytes of the transfer pushed into the FIFO
	last   bool // the final packet has been pushed
}

// Controller is a controller with FIFO-based endpoint memory.
type Controller struct {
	cfg Config

	mu       sync.Mutex
	link     dcd.Link
	eps      [dcd.MaxEndpoints][2]epState
	fifoUsed int
}

// New creates a controller. Zero Config fields take their defaults.
func New(cfg Config) *Controller {
	if cfg.EP0Size == 0 {
		cfg.EP0Size = DefaultEP0Size
	}
	if cfg.FIFOSize == 0 {
		cfg.FIFOSize = DefaultFIFOSize
	}
	c := &Controller{cfg: cfg}
	c.resetLocked()
	return c
}

// Port returns the root-hub port of the controller.
func (c *Controller) Port() uint8 { return c.cfg.Port }

// EP0Size returns the endpoint 0 max packet size.
func (c *Controller) EP0Size() int { return c.cfg.EP0Size }

// Init resets the controller and records the event handler.
func (c *Controller) Init(h dcd.Handler) error {
	switch c.cfg.EP0Size {
	case 8, 16, 32, 64:
	default:
		return pkg.ErrInvalidParameter
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.link = dcd.Link{Handler: h}
	c.resetLocked()
	pkg.LogDebug(pkg.ComponentDCD, "fifo init", "port", c.cfg.Port, "fifo", c.cfg.FIFOSize)
	return nil
}

func (c *Controller) resetLocked() {
	c.link.Address = 0
	c.link.Suspended = false
	c.eps = [dcd.MaxEndpoints][2]epState{}
	c.fifoUsed = 0
	for dir := 0; dir < 2; dir++ {
		_ = c.openLocked(dcd.Endpoint{
			Address:       dcd.EdptAddr(0, dir),
			Type:          dcd.TransferControl,
			MaxPacketSize: uint16(c.cfg.EP0Size),
		})
	}
}

// Connect enables the pull-up.
func (c *Controller) Connect() {
	c.mu.Lock()
	c.link.Connected = true
	c.mu.Unlock()
}

// Disconnect removes the pull-up.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.link.Connected = false
	c.mu.Unlock()
}

// SetAddress sets the device address.
func (c *Controller) SetAddress(addr uint8) {
	c.mu.Lock()
	c.link.Address = addr & 0x7F
	c.mu.Unlock()
}

// RemoteWakeup signals resume to the host.
func (c *Controller) RemoteWakeup() {
	c.mu.Lock()
	c.link.Wakeup = true
	c.mu.Unlock()
}

// SOFEnable enables SOF events.
func (c *Controller) SOFEnable(en bool) {
	c.mu.Lock()
	c.link.SOFEnabled = en
	c.mu.Unlock()
}

// EdptOpen opens the endpoint. IN endpoints get a transmit FIFO of two
// packets, one for endpoint 0.
func (c *Controller) EdptOpen(ep dcd.Endpoint) error {
	if ep.MaxPacketSize == 0 || ep.MaxPacketSize > 1024 {
		return pkg.ErrNotSupported
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked(ep)
}

func (c *Controller) openLocked(ep dcd.Endpoint) error {
	e := c.ep(ep.Address)
	if e.Open {
		c.fifoUsed -= e.tx.size
	}
	size := 0
	if dcd.EdptIsIn(ep.Address) {
		size = int(ep.MaxPacketSize)
		if dcd.EdptNumber(ep.Address) != 0 {
			size *= 2
		}
		if c.fifoUsed+size > c.cfg.FIFOSize {
			if e.Open {
				c.fifoUsed += e.tx.size
			}
			return pkg.ErrNoMemory
		}
	}
	e.Configure(ep)
	e.tx = txFIFO{size: size}
	e.queued, e.last = 0, false
	c.fifoUsed += size
	return nil
}

// EdptXfer starts a transfer. IN data is queued into the transmit FIFO as
// space allows.
func (c *Controller) EdptXfer(ep uint8, buf []byte) error {
	if len(buf) > 0xFFFF {
		return pkg.ErrInvalidParameter
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.ep(ep)
	if err := e.Start(buf); err != nil {
		return err
	}
	e.queued, e.last = 0, false
	if dcd.EdptIsIn(ep) {
		e.tx.flush()
		c.fill(e)
	}
	return nil
}

// fill pushes packets of the active transfer while the FIFO has room.
func (c *Controller) fill(e *epState) {
	for e.Active && !e.last {
		n := min(e.Total-e.queued, e.MPS)
		if len(e.tx.packets) > 0 && e.tx.used+n > e.tx.size {
			return
		}
		e.tx.push(e.Buf[e.queued : e.queued+n])
		e.queued += n
		e.last = n < e.MPS || e.queued >= e.Total
	}
}

// EdptStall stalls the endpoint. Stalling endpoint 0 stalls both
// directions.
func (c *Controller) EdptStall(ep uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dcd.EdptNumber(ep) == 0 {
		for dir := 0; dir < 2; dir++ {
			e := &c.eps[0][dir]
			e.Stall()
			e.tx.flush()
		}
		return
	}
	e := c.ep(ep)
	if e.Open {
		e.Stall()
		e.tx.flush()
	}
}

// EdptClearStall clears the stall and resets the toggle.
func (c *Controller) EdptClearStall(ep uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ep(ep).ClearStall()
}

// EdptStalled reports the stall state.
func (c *Controller) EdptStalled(ep uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ep(ep).Stalled
}

// EdptBusy reports whether a transfer is active.
func (c *Controller) EdptBusy(ep uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ep(ep).Active
}

// EdptClose closes the endpoint and returns its FIFO space.
func (c *Controller) EdptClose(ep uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(ep)
}

func (c *Controller) closeLocked(ep uint8) {
	if dcd.EdptNumber(ep) == 0 {
		return
	}
	e := c.ep(ep)
	if !e.Open {
		return
	}
	c.fifoUsed -= e.tx.size
	*e = epState{}
}

// EdptCloseAll closes every endpoint but endpoint 0.
func (c *Controller) EdptCloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for num := uint8(1); num < dcd.MaxEndpoints; num++ {
		c.closeLocked(num)
		c.closeLocked(num | dcd.DirIn)
	}
}

// FIFOAvailable returns the unallocated FIFO RAM.
func (c *Controller) FIFOAvailable() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.FIFOSize - c.fifoUsed
}

func (c *Controller) ep(addr uint8) *epState {
	return &c.eps[dcd.EdptNumber(addr)][dcd.EdptDir(addr)]
}

var (
	_ dcd.Controller = (*Controller)(nil)
	_ dcd.Bus        = (*Controller)(nil)
)
