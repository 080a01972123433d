package samd

import (
	"sync"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// NumEndpoints is the number of endpoint numbers the peripheral provides.
const NumEndpoints = 8

// EP0Size is the endpoint 0 max packet size.
const EP0Size = 64

// maxXferLength is the largest value MULTI_PACKET_SIZE and BYTE_COUNT hold.
const maxXferLength = 1<<14 - 1

// isoSizeCode is the PCKSIZE.SIZE code of a 1023-byte isochronous endpoint.
const isoSizeCode = 7

// Config selects the peripheral instance.
type Config struct {
	Port uint8
}

// sizeCode returns the PCKSIZE.SIZE code for an endpoint.
func sizeCode(mps uint16, typ dcd.TransferType) (uint8, error) {
	for code := uint8(0); code < isoSizeCode; code++ {
		if 1<<(code+3) == int(mps) {
			return code, nil
		}
	}
	if mps == 1023 && typ == dcd.TransferIsochronous {
		return isoSizeCode, nil
	}
	return 0, pkg.ErrNotSupported
}

// descBank is one endpoint descriptor bank.
type descBank struct {
	dcd.Xfer
	size   uint8 // PCKSIZE.SIZE
	eptype uint8 // EPCFG.EPTYPE: transfer type plus one, zero when disabled
	ready  bool  // BK0RDY (OUT) or BK1RDY (IN)
	setup  bool  // bank 0 of endpoint 0 points at the setup buffer
}

// Controller is one SAMD USB peripheral.
type Controller struct {
	cfg Config

	mu            sync.Mutex
	link          dcd.Link
	banks         [NumEndpoints][2]descBank
	setupBuf      [8]byte
	suspendArmed  bool
	wakeupEnabled bool
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

// Init performs a software reset and records the event handler.
func (c *Controller) Init(h dcd.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.link = dcd.Link{Handler: h}
	c.resetLocked()
	pkg.LogDebug(pkg.ComponentDCD, "samd init", "port", c.cfg.Port)
	return nil
}

// resetLocked disables every endpoint and configures endpoint 0 as a
// control endpoint waiting for SETUP.
func (c *Controller) resetLocked() {
	c.link.Address = 0
	c.link.Suspended = false
	c.suspendArmed = false
	c.wakeupEnabled = false
	c.banks = [NumEndpoints][2]descBank{}

	for dir := 0; dir < 2; dir++ {
		b := &c.banks[0][dir]
		b.Configure(dcd.Endpoint{
			Address:       dcd.EdptAddr(0, dir),
			Type:          dcd.TransferControl,
			MaxPacketSize: EP0Size,
		})
		b.size = 3
		b.eptype = uint8(dcd.TransferControl) + 1
	}
	c.prepareSetup()
}

// prepareSetup points bank 0 of endpoint 0 at the setup buffer.
func (c *Controller) prepareSetup() {
	b := &c.banks[0][0]
	b.setup = true
	b.ready = false
}

// Connect clears CTRLB.DETACH.
func (c *Controller) Connect() {
	c.mu.Lock()
	c.link.Connected = true
	c.mu.Unlock()
}

// Disconnect sets CTRLB.DETACH.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.link.Connected = false
	c.mu.Unlock()
}

// SetAddress writes DADD and enables suspend detection. It must be called
// after the status stage of SET_ADDRESS has completed.
func (c *Controller) SetAddress(addr uint8) {
	c.mu.Lock()
	c.link.Address = addr & 0x7F
	c.suspendArmed = true
	c.mu.Unlock()
	pkg.LogDebug(pkg.ComponentDCD, "samd address", "port", c.cfg.Port, "addr", addr)
}

// RemoteWakeup sets CTRLB.UPRSM.
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

// EdptOpen programs the bank size code and the endpoint type.
func (c *Controller) EdptOpen(ep dcd.Endpoint) error {
	num := dcd.EdptNumber(ep.Address)
	if num >= NumEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	code, err := sizeCode(ep.MaxPacketSize, ep.Type)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	b := &c.banks[num][dcd.EdptDir(ep.Address)]
	b.Configure(ep)
	b.size = code
	b.eptype = uint8(ep.Type) + 1

	pkg.LogDebug(pkg.ComponentDCD, "samd open", "ep", ep.String(), "size", code)
	return nil
}

// EdptXfer points the bank at buf and sets it ready.
func (c *Controller) EdptXfer(ep uint8, buf []byte) error {
	if len(buf) > maxXferLength {
		return pkg.ErrInvalidParameter
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.bank(ep)
	if err != nil {
		return err
	}
	if err := b.Start(buf); err != nil {
		return err
	}
	if dcd.EdptNumber(ep) == 0 && !dcd.EdptIsIn(ep) {
		b.setup = false
	}
	b.ready = true
	return nil
}

// EdptStall sets STALLRQ for the direction. Endpoint 0 stalls both banks.
func (c *Controller) EdptStall(ep uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dcd.EdptNumber(ep) == 0 {
		for dir := range c.banks[0] {
			b := &c.banks[0][dir]
			b.Stall()
			b.ready = false
		}
		return
	}
	if b, err := c.bank(ep); err == nil {
		b.Stall()
		b.ready = false
	}
}

// EdptClearStall clears STALLRQ and the data toggle.
func (c *Controller) EdptClearStall(ep uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, err := c.bank(ep); err == nil {
		b.ClearStall()
	}
}

// EdptStalled reports STALLRQ for the direction.
func (c *Controller) EdptStalled(ep uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.bank(ep)
	return err == nil && b.Stalled
}

// EdptBusy reports whether a transfer is active.
func (c *Controller) EdptBusy(ep uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.bank(ep)
	return err == nil && b.Active
}

// EdptClose disables the bank.
func (c *Controller) EdptClose(ep uint8) {
	if dcd.EdptNumber(ep) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, err := c.bank(ep); err == nil {
		*b = descBank{}
	}
}

// EdptCloseAll disables every bank but those of endpoint 0.
func (c *Controller) EdptCloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for num := 1; num < NumEndpoints; num++ {
		c.banks[num] = [2]descBank{}
	}
}

func (c *Controller) bank(ep uint8) (*descBank, error) {
	num := dcd.EdptNumber(ep)
	if num >= NumEndpoints {
		return nil, pkg.ErrInvalidEndpoint
	}
	return &c.banks[num][dcd.EdptDir(ep)], nil
}

var (
	_ dcd.Controller = (*Controller)(nil)
	_ dcd.Bus        = (*Controller)(nil)
)
