package host

import (
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// Config describes a virtual host.
type Config struct {
	// Bus is the wire side of the device controller.
	Bus dcd.Bus

	// Speed is signalled with every bus reset.
	Speed dcd.Speed

	// Idle runs after every token. Single-threaded setups pass the device
	// stack's Task so the device answers without a goroutine of its own.
	Idle func()

	// NAKLimit bounds consecutive NAKs on one token. Zero selects
	// DefaultNAKLimit when Idle is set, and no limit otherwise, in which
	// case only the context ends the wait.
	NAKLimit int

	// PollInterval is the pause between NAK retries when Idle is nil.
	// Zero selects DefaultPollInterval.
	PollInterval time.Duration
}

// Host drives one device through its bus port at token level.
type Host struct {
	bus      dcd.Bus
	speed    dcd.Speed
	idle     func()
	nakLimit int
	poll     time.Duration

	// xferMu serializes transactions on the bus.
	xferMu sync.Mutex

	mutex              sync.RWMutex
	dev                *Device
	nextAddress        uint8
	onDeviceConnect    func(*Device)
	onDeviceDisconnect func(*Device)
}

// New creates a host on cfg.Bus.
func New(cfg Config) (*Host, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("bus is required: %w", pkg.ErrInvalidParameter)
	}
	h := &Host{
		bus:         cfg.Bus,
		speed:       cfg.Speed,
		idle:        cfg.Idle,
		nakLimit:    cfg.NAKLimit,
		poll:        cfg.PollInterval,
		nextAddress: 1,
	}
	if h.nakLimit == 0 && h.idle != nil {
		h.nakLimit = DefaultNAKLimit
	}
	if h.poll == 0 {
		h.poll = DefaultPollInterval
	}
	return h, nil
}

// Bus returns the bus the host drives.
func (h *Host) Bus() dcd.Bus { return h.bus }

// Attached reports whether the device pull-up is enabled.
func (h *Host) Attached() bool { return h.bus.Attached() }

// Device returns the last enumerated device, or nil.
func (h *Host) Device() *Device {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.dev
}

// Reset drives a bus reset. The device returns to address 0.
func (h *Host) Reset() {
	h.xferMu.Lock()
	h.bus.Reset(h.speed)
	h.pump()
	h.xferMu.Unlock()

	if dev := h.Device(); dev != nil {
		dev.setState(DeviceStateDefault)
		dev.setConfigurationValue(0)
	}
}

// Suspend idles the bus.
func (h *Host) Suspend() {
	h.xferMu.Lock()
	h.bus.Suspend()
	h.pump()
	h.xferMu.Unlock()

	if dev := h.Device(); dev != nil {
		dev.suspend()
	}
}

// Resume drives resume signalling.
func (h *Host) Resume() {
	h.xferMu.Lock()
	h.bus.Resume()
	h.pump()
	h.xferMu.Unlock()

	if dev := h.Device(); dev != nil {
		dev.resume()
	}
}

// SOF issues a start-of-frame token.
func (h *Host) SOF(frame uint32) {
	h.xferMu.Lock()
	h.bus.SOF(frame)
	h.pump()
	h.xferMu.Unlock()
}

// WakeupRequested reports and clears a pending remote wakeup signal.
func (h *Host) WakeupRequested() bool {
	h.xferMu.Lock()
	defer h.xferMu.Unlock()
	return h.bus.WakeupRequested()
}

// Detach removes VBUS and forgets the device.
func (h *Host) Detach() {
	h.xferMu.Lock()
	h.bus.Detach()
	h.pump()
	h.xferMu.Unlock()

	h.mutex.Lock()
	dev := h.dev
	h.dev = nil
	cb := h.onDeviceDisconnect
	h.mutex.Unlock()

	if dev == nil {
		return
	}
	dev.Close()
	pkg.LogInfo(pkg.ComponentHost, "device detached", "address", dev.Address())
	if cb != nil {
		cb(dev)
	}
}

// SetOnDeviceConnect sets the callback run after enumeration succeeded.
func (h *Host) SetOnDeviceConnect(cb func(*Device)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onDeviceConnect = cb
}

// SetOnDeviceDisconnect sets the callback run after Detach.
func (h *Host) SetOnDeviceDisconnect(cb func(*Device)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onDeviceDisconnect = cb
}

// allocateAddress returns the next device address. Addresses advance on
// every enumeration so a re-enumerated device never keeps its old one.
func (h *Host) allocateAddress() uint8 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	addr := h.nextAddress
	h.nextAddress++
	if h.nextAddress > MaxAddress {
		h.nextAddress = 1
	}
	return addr
}

// pump gives the device a chance to process what the last token raised.
func (h *Host) pump() {
	if h.idle != nil {
		h.idle()
	}
}
