package fsdev

import (
	"sync"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// Defaults.
const (
	DefaultEP0Size = 64
	DefaultPMASize = 1024
	DefaultSlots   = 8
)

// maxXferLength is the largest transfer the 16-bit length fields hold.
const maxXferLength = 0xFFFF

// Config selects the peripheral variant.
type Config struct {
	Port    uint8
	EP0Size int // 8, 16, 32 or 64
	PMASize int // packet memory bytes, 512 to 2048 depending on the part
	Slots   int // endpoint register slots
}

// bank is one half of a double-buffered isochronous endpoint.
type bank struct {
	addr  uint16
	count uint16
	full  bool
}

// xferCtl is the software state of one endpoint direction.
type xferCtl struct {
	dcd.Xfer
	slot int

	// Isochronous double buffering. armBank is the next bank software
	// fills (IN) or drains (OUT); hwBank is the next bank the peripheral
	// uses. They advance independently.
	queued  int
	banks   [2]bank
	armBank int
	hwBank  int
}

// Controller is one FSDEV peripheral instance.
type Controller struct {
	cfg Config

	mu    sync.Mutex
	link  dcd.Link
	pma   *pma
	slots []slot
	ctl   [dcd.MaxEndpoints][2]xferCtl
}

// New creates a controller. Zero Config fields take their defaults.
func New(cfg Config) *Controller {
	if cfg.EP0Size == 0 {
		cfg.EP0Size = DefaultEP0Size
	}
	if cfg.PMASize == 0 {
		cfg.PMASize = DefaultPMASize
	}
	if cfg.Slots == 0 {
		cfg.Slots = DefaultSlots
	}
	c := &Controller{
		cfg:   cfg,
		pma:   newPMA(cfg.PMASize, cfg.Slots),
		slots: make([]slot, cfg.Slots),
	}
	c.resetLocked()
	return c
}

// Port returns the root-hub port of the controller.
func (c *Controller) Port() uint8 { return c.cfg.Port }

// EP0Size returns the endpoint 0 max packet size.
func (c *Controller) EP0Size() int { return c.cfg.EP0Size }

// Init resets the peripheral and records the event handler.
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
	pkg.LogDebug(pkg.ComponentDCD, "fsdev init",
		"port", c.cfg.Port,
		"pma", c.cfg.PMASize,
		"slots", c.cfg.Slots)
	return nil
}

// resetLocked clears every slot and the PMA, then opens endpoint 0 at
// address 0, as the bus reset handler does.
func (c *Controller) resetLocked() {
	c.link.Address = 0
	c.link.Suspended = false
	for i := range c.slots {
		c.slots[i].clear()
	}
	for i := range c.ctl {
		c.ctl[i] = [2]xferCtl{}
	}
	c.pma.reset()

	for dir := 0; dir < 2; dir++ {
		ep := dcd.Endpoint{
			Address:       dcd.EdptAddr(0, dir),
			Type:          dcd.TransferControl,
			MaxPacketSize: uint16(c.cfg.EP0Size),
		}
		// endpoint 0 always fits an empty PMA
		_ = c.openLocked(ep)
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

// SetAddress writes the DADDR register.
func (c *Controller) SetAddress(addr uint8) {
	c.mu.Lock()
	c.link.Address = addr & 0x7F
	c.mu.Unlock()
	pkg.LogDebug(pkg.ComponentDCD, "fsdev address", "port", c.cfg.Port, "addr", addr)
}

// RemoteWakeup drives resume signalling.
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

// EdptOpen assigns a register slot and PMA buffer to the endpoint.
func (c *Controller) EdptOpen(ep dcd.Endpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked(ep)
}

func (c *Controller) openLocked(ep dcd.Endpoint) error {
	size, _, _ := alignBufferSize(int(ep.MaxPacketSize))
	if ep.MaxPacketSize == 0 || size > maxBufferSize {
		return pkg.ErrNotSupported
	}

	idx, err := allocSlot(c.slots, ep.Address, ep.Type)
	if err != nil {
		return err
	}
	s := &c.slots[idx]
	dir := dcd.EdptDir(ep.Address)
	x := &c.ctl[dcd.EdptNumber(ep.Address)][dir]

	if ep.Type == dcd.TransferIsochronous {
		// both buffer descriptors of the slot hold one bank each
		addr0, err := c.pma.alloc(ep.Address, 2*size)
		if err != nil {
			freeSlot(c.slots, ep.Address)
			return err
		}
		x.Configure(ep)
		x.slot = idx
		x.banks[0].addr = addr0
		x.banks[1].addr = addr0 + uint16(size)
		s.addrTx, s.addrRx = x.banks[0].addr, x.banks[1].addr
		s.stat[dir] = statDisabled
		return nil
	}

	addr, err := c.pma.alloc(ep.Address, size)
	if err != nil {
		freeSlot(c.slots, ep.Address)
		return err
	}
	x.Configure(ep)
	x.slot = idx
	if dir == 1 {
		s.addrTx = addr
		s.countTx = 0
	} else {
		s.addrRx = addr
		s.countRx = encodeRxSize(int(ep.MaxPacketSize))
	}
	s.stat[dir] = statNAK

	pkg.LogDebug(pkg.ComponentDCD, "fsdev open",
		"ep", ep.String(),
		"slot", idx,
		"pma", addr,
		"size", size)
	return nil
}

// EdptXfer arms the endpoint for a transfer of len(buf) bytes.
func (c *Controller) EdptXfer(ep uint8, buf []byte) error {
	if len(buf) > maxXferLength {
		return pkg.ErrInvalidParameter
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	x := c.ctlFor(ep)
	if x.Type == dcd.TransferIsochronous && len(buf) == 0 {
		return pkg.ErrInvalidParameter
	}
	if err := x.Start(buf); err != nil {
		return err
	}

	s := &c.slots[x.slot]
	if x.Type == dcd.TransferIsochronous {
		x.queued = 0
		x.banks[0].full, x.banks[1].full = false, false
		x.armBank, x.hwBank = 0, 0
		if dcd.EdptIsIn(ep) {
			c.armIsoIn(x)
			s.stat[1] = statValid
		} else {
			s.stat[0] = statValid
		}
		return nil
	}

	if dcd.EdptIsIn(ep) {
		c.transmitPacket(x, s)
	} else {
		c.armReceive(x, s)
	}
	return nil
}

// transmitPacket copies the next packet into the PMA and validates TX.
func (c *Controller) transmitPacket(x *xferCtl, s *slot) {
	p := x.Next()
	c.pma.write(s.addrTx, p)
	s.countTx = uint16(len(p))
	s.stat[1] = statValid
}

// armReceive sizes the RX buffer for the next packet and validates RX.
func (c *Controller) armReceive(x *xferCtl, s *slot) {
	s.countRx = encodeRxSize(min(x.Remaining(), x.MPS))
	s.stat[0] = statValid
}

// armIsoIn fills every free bank while data remains.
func (c *Controller) armIsoIn(x *xferCtl) {
	for !x.banks[x.armBank].full && x.queued < x.Total {
		b := &x.banks[x.armBank]
		n := min(x.Total-x.queued, x.MPS)
		c.pma.write(b.addr, x.Buf[x.queued:x.queued+n])
		b.count = uint16(n)
		b.full = true
		x.queued += n
		x.armBank ^= 1
	}
}

// EdptStall sets STAT to STALL. Endpoint 0 stalls in both directions.
func (c *Controller) EdptStall(ep uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dcd.EdptNumber(ep) == 0 {
		for dir := 0; dir < 2; dir++ {
			x := &c.ctl[0][dir]
			x.Stall()
			c.slots[x.slot].stat[dir] = statStall
		}
		return
	}

	x := c.ctlFor(ep)
	if !x.Open {
		return
	}
	x.Stall()
	c.slots[x.slot].stat[dcd.EdptDir(ep)] = statStall
}

// EdptClearStall returns the endpoint to NAK and resets its toggle.
func (c *Controller) EdptClearStall(ep uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()

	x := c.ctlFor(ep)
	if !x.Open {
		return
	}
	x.ClearStall()
	if x.Type != dcd.TransferIsochronous {
		c.slots[x.slot].stat[dcd.EdptDir(ep)] = statNAK
	}
}

// EdptStalled reports the stall state of the endpoint.
func (c *Controller) EdptStalled(ep uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctlFor(ep).Stalled
}

// EdptBusy reports whether a transfer is active.
func (c *Controller) EdptBusy(ep uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctlFor(ep).Active
}

// EdptClose disables the endpoint and returns its slot and memory.
func (c *Controller) EdptClose(ep uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(ep)
}

func (c *Controller) closeLocked(ep uint8) {
	if dcd.EdptNumber(ep) == 0 {
		return
	}
	x := c.ctlFor(ep)
	if !x.Open {
		return
	}
	freeSlot(c.slots, ep)
	c.pma.free(ep, c.cfg.EP0Size)
	x.Close()
}

// EdptCloseAll closes every endpoint but endpoint 0.
func (c *Controller) EdptCloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for num := 1; num < dcd.MaxEndpoints; num++ {
		for dir := 0; dir < 2; dir++ {
			c.closeLocked(dcd.EdptAddr(uint8(num), dir))
		}
	}
}

// PMAAvailable returns the unallocated packet memory.
func (c *Controller) PMAAvailable() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pma.available()
}

func (c *Controller) ctlFor(ep uint8) *xferCtl {
	return &c.ctl[dcd.EdptNumber(ep)][dcd.EdptDir(ep)]
}

var (
	_ dcd.Controller = (*Controller)(nil)
	_ dcd.Bus        = (*Controller)(nil)
)
