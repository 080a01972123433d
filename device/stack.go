package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// Callbacks are the application notifications. Every callback runs on the
// device task. Nil callbacks are skipped.
type Callbacks struct {
	// Mount is called after SET_CONFIGURATION bound the class drivers.
	Mount func()

	// Umount is called after the device was unplugged.
	Umount func()

	// Suspend is called when the bus went idle. remoteWakeupEnabled
	// reports whether the host allowed the device to wake it.
	Suspend func(remoteWakeupEnabled bool)

	// Resume is called when bus activity resumed.
	Resume func()

	// VendorControl handles vendor-type control requests. Requests are
	// stalled when it is nil or returns false.
	VendorControl ControlFunc
}

// Config describes a device stack.
type Config struct {
	// Controller is the device controller the stack drives.
	Controller dcd.Controller

	// Descriptors answers GET_DESCRIPTOR.
	Descriptors Descriptors

	// Drivers are application class drivers. They are offered interfaces
	// before Classes.
	Drivers []ClassDriver

	// Classes are the stock class drivers.
	Classes []ClassDriver

	// Callbacks are the application notifications.
	Callbacks Callbacks

	// QueueSize is the event queue depth. Zero selects DefaultQueueSize.
	QueueSize int
}

// epState is the stack's view of one endpoint direction.
type epState struct {
	busy    bool
	stalled bool
	claimed bool
}

// Stack is the USB device stack serving one controller port.
//
// The controller delivers events through HandleEvent from its interrupt
// context. Events are processed by Task or Run, which must not be called
// concurrently with each other.
type Stack struct {
	ctrl    dcd.Controller
	desc    Descriptors
	drivers []ClassDriver
	cb      Callbacks
	port    uint8
	queue   *eventQueue

	inited atomic.Bool
	taskMu sync.Mutex

	// mu guards the device flags and endpoint states, which are touched
	// from both the interrupt context and the task.
	mu                  sync.Mutex
	connected           bool
	addressed           bool
	suspended           bool
	remoteWakeupEn      bool
	remoteWakeupSupport bool
	selfPowered         bool
	cfgNum              uint8
	address             uint8
	speed               dcd.Speed
	ep                  [dcd.MaxEndpoints][2]epState

	// Task only.
	itf2drv [MaxInterfaces]uint8
	ep2drv  [dcd.MaxEndpoints][2]uint8
	ctl     control
}

// NewStack creates a device stack. Call Init to start the controller.
func NewStack(cfg Config) (*Stack, error) {
	if cfg.Controller == nil || cfg.Descriptors == nil {
		return nil, fmt.Errorf("controller and descriptors are required: %w", pkg.ErrInvalidParameter)
	}

	drivers := make([]ClassDriver, 0, len(cfg.Drivers)+len(cfg.Classes))
	drivers = append(drivers, cfg.Drivers...)
	drivers = append(drivers, cfg.Classes...)
	if len(drivers) >= noDriver {
		return nil, fmt.Errorf("%d class drivers: %w", len(drivers), pkg.ErrNoResources)
	}
	for _, d := range drivers {
		if d == nil {
			return nil, fmt.Errorf("nil class driver: %w", pkg.ErrInvalidParameter)
		}
	}

	s := &Stack{
		ctrl:    cfg.Controller,
		desc:    cfg.Descriptors,
		drivers: drivers,
		cb:      cfg.Callbacks,
		port:    cfg.Controller.Port(),
		queue:   newEventQueue(cfg.QueueSize),
	}
	s.clearBindings()
	return s, nil
}

// Init initializes the class drivers and the controller, then connects
// the device to the bus. Calling Init again has no effect.
func (s *Stack) Init() error {
	if s.inited.Load() {
		return nil
	}

	var dev DeviceDescriptor
	if err := ParseDeviceDescriptor(s.desc.Device(), &dev); err != nil {
		return fmt.Errorf("device descriptor: %w", err)
	}
	if int(dev.MaxPacketSize0) != s.ctrl.EP0Size() {
		return fmt.Errorf("bMaxPacketSize0 %d does not match controller EP0 size %d: %w",
			dev.MaxPacketSize0, s.ctrl.EP0Size(), pkg.ErrInvalidParameter)
	}

	for _, d := range s.drivers {
		pkg.LogDebug(pkg.ComponentStack, "class driver init", "driver", d.Name())
		d.Init(s)
	}

	if err := s.ctrl.Init(s); err != nil {
		return fmt.Errorf("controller init: %w", err)
	}
	s.inited.Store(true)
	s.ctrl.Connect()

	pkg.LogInfo(pkg.ComponentStack, "device stack initialized",
		"port", s.port,
		"ep0", s.ctrl.EP0Size(),
		"drivers", len(s.drivers),
		"queue", s.queue.size())
	return nil
}

// Inited reports whether Init succeeded.
func (s *Stack) Inited() bool { return s.inited.Load() }

// HandleEvent implements dcd.Handler. It never blocks: when the queue is
// full the event is dropped and counted.
func (s *Stack) HandleEvent(ev *dcd.Event, inISR bool) {
	switch ev.ID {
	case dcd.EventUnplugged:
		s.mu.Lock()
		s.connected = false
		s.addressed = false
		s.cfgNum = 0
		s.suspended = false
		s.mu.Unlock()
		s.enqueue(ev)

	case dcd.EventSuspend:
		// Plug and unplug glitches look like suspend to some controllers.
		s.mu.Lock()
		ok := s.connected
		if ok {
			s.suspended = true
		}
		s.mu.Unlock()
		if ok {
			s.enqueue(ev)
		}

	case dcd.EventResume:
		s.mu.Lock()
		ok := s.connected
		if ok {
			s.suspended = false
		}
		s.mu.Unlock()
		if ok {
			s.enqueue(ev)
		}

	case dcd.EventSOF:
		for _, d := range s.drivers {
			if h, ok := d.(SOFHandler); ok {
				h.SOF(ev.Port, ev.Frame)
			}
		}
		// SOF marks the end of a remote wakeup the controller cannot
		// detect on its own.
		s.mu.Lock()
		wasSuspended := s.suspended
		s.suspended = false
		s.mu.Unlock()
		if wasSuspended {
			s.enqueue(&dcd.Event{Port: ev.Port, ID: dcd.EventResume})
		}

	default:
		s.enqueue(ev)
	}
}

func (s *Stack) enqueue(ev *dcd.Event) {
	if !s.queue.push(ev) {
		pkg.LogError(pkg.ComponentStack, "event queue full, event dropped",
			"event", ev.ID.String(),
			"dropped", s.queue.dropped.Load())
	}
}

// Dropped returns the number of events lost to a full queue.
func (s *Stack) Dropped() uint64 { return s.queue.dropped.Load() }

// Pending reports whether events are waiting for the task.
func (s *Stack) Pending() bool { return s.queue.pending() > 0 }

// Task processes every queued event and returns without waiting for more.
func (s *Stack) Task() {
	if !s.inited.Load() {
		return
	}
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	for {
		ev, ok := s.queue.pop()
		if !ok {
			return
		}
		s.process(&ev)
	}
}

// Run processes events until ctx ends. It returns nil when ctx ends and
// pkg.ErrNotRunning if the stack was not initialized.
func (s *Stack) Run(ctx context.Context) error {
	if !s.inited.Load() {
		return pkg.ErrNotRunning
	}
	for {
		ev, err := s.queue.wait(ctx)
		if err != nil {
			return nil
		}
		s.taskMu.Lock()
		s.process(&ev)
		s.taskMu.Unlock()
	}
}

// DeferFunc queues fn to run on the device task. It reports whether the
// call was queued.
func (s *Stack) DeferFunc(fn func()) bool {
	return s.queue.push(&dcd.Event{Port: s.port, ID: dcd.EventFuncCall, Func: fn})
}

func (s *Stack) process(ev *dcd.Event) {
	pkg.LogDebug(pkg.ComponentStack, "event", "event", ev.String())

	switch ev.ID {
	case dcd.EventBusReset:
		s.reset()
		s.mu.Lock()
		s.speed = ev.Speed
		s.mu.Unlock()

	case dcd.EventUnplugged:
		s.reset()
		if s.cb.Umount != nil {
			s.cb.Umount()
		}

	case dcd.EventSetupReceived:
		s.mu.Lock()
		s.connected = true
		s.ep[0][0] = epState{}
		s.ep[0][1] = epState{}
		s.mu.Unlock()

		var req SetupPacket
		if err := ParseSetupPacket(ev.Setup[:], &req); err != nil {
			s.stallControl()
			return
		}
		pkg.LogDebug(pkg.ComponentControl, "setup", "request", req.String())
		if !s.processControl(&req) {
			pkg.LogDebug(pkg.ComponentControl, "stall EP0", "request", req.String())
			s.stallControl()
		}

	case dcd.EventXferComplete:
		num, dir := dcd.EdptNumber(ev.EP), dcd.EdptDir(ev.EP)
		s.mu.Lock()
		s.ep[num][dir].busy = false
		s.ep[num][dir].claimed = false
		s.mu.Unlock()

		if num == 0 {
			s.controlXferCB(ev.EP, ev.Result, ev.Len)
			return
		}
		d := s.endpointDriver(ev.EP)
		if d == nil {
			pkg.LogWarn(pkg.ComponentStack, "transfer complete on unbound endpoint",
				"ep", fmt.Sprintf("0x%02X", ev.EP))
			return
		}
		d.XferCB(s.port, ev.EP, ev.Result, ev.Len)

	case dcd.EventSuspend:
		s.mu.Lock()
		connected, wakeup := s.connected, s.remoteWakeupEn
		s.mu.Unlock()
		if connected && s.cb.Suspend != nil {
			s.cb.Suspend(wakeup)
		}

	case dcd.EventResume:
		s.mu.Lock()
		connected := s.connected
		s.mu.Unlock()
		if connected && s.cb.Resume != nil {
			s.cb.Resume()
		}

	case dcd.EventFuncCall:
		if ev.Func != nil {
			ev.Func()
		}

	default:
		pkg.LogWarn(pkg.ComponentStack, "unexpected event", "event", ev.ID.String())
	}
}

// reset returns the stack to its state after a bus reset.
func (s *Stack) reset() {
	for _, d := range s.drivers {
		d.Reset(s.port)
	}
	s.clearBindings()
	s.mu.Lock()
	s.connected = false
	s.addressed = false
	s.suspended = false
	s.remoteWakeupEn = false
	s.remoteWakeupSupport = false
	s.selfPowered = false
	s.cfgNum = 0
	s.address = 0
	s.ep = [dcd.MaxEndpoints][2]epState{}
	s.mu.Unlock()
	s.ctl.reset()
}

// resetConfiguration drops the current configuration but keeps the
// device addressed.
func (s *Stack) resetConfiguration() {
	for _, d := range s.drivers {
		d.Reset(s.port)
	}
	s.clearBindings()
	s.mu.Lock()
	s.cfgNum = 0
	s.remoteWakeupSupport = false
	s.selfPowered = false
	for num := 1; num < dcd.MaxEndpoints; num++ {
		s.ep[num] = [2]epState{}
	}
	s.mu.Unlock()
}

func (s *Stack) clearBindings() {
	for i := range s.itf2drv {
		s.itf2drv[i] = noDriver
	}
	for i := range s.ep2drv {
		s.ep2drv[i] = [2]uint8{noDriver, noDriver}
	}
}

// Port returns the root-hub port of the controller.
func (s *Stack) Port() uint8 { return s.port }

// Controller returns the controller driven by the stack.
func (s *Stack) Controller() dcd.Controller { return s.ctrl }

// Connect enables the pull-up.
func (s *Stack) Connect() { s.ctrl.Connect() }

// Disconnect removes the pull-up.
func (s *Stack) Disconnect() { s.ctrl.Disconnect() }

// RemoteWakeup signals resume to the host. It fails unless the device is
// suspended and the host enabled remote wakeup on a configuration that
// supports it.
func (s *Stack) RemoteWakeup() error {
	s.mu.Lock()
	ok := s.suspended && s.remoteWakeupSupport && s.remoteWakeupEn
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("remote wakeup: %w", pkg.ErrInvalidState)
	}
	s.ctrl.RemoteWakeup()
	return nil
}

// Connected reports whether a setup packet was received since the last
// reset.
func (s *Stack) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Mounted reports whether a configuration is selected.
func (s *Stack) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfgNum != 0
}

// Suspended reports whether the bus is suspended.
func (s *Stack) Suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended
}

// Ready reports whether the device is mounted and not suspended.
func (s *Stack) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfgNum != 0 && !s.suspended
}

// Speed returns the speed negotiated at the last bus reset.
func (s *Stack) Speed() dcd.Speed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// Address returns the device address latched after SET_ADDRESS.
func (s *Stack) Address() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// Configuration returns the selected configuration value.
func (s *Stack) Configuration() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfgNum
}

// RemoteWakeupEnabled reports whether the host enabled remote wakeup.
func (s *Stack) RemoteWakeupEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteWakeupEn
}

// State returns the device state as seen by the host.
func (s *Stack) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.suspended:
		return StateSuspended
	case s.cfgNum != 0:
		return StateConfigured
	case s.addressed:
		return StateAddress
	case s.connected:
		return StateDefault
	default:
		return StateAttached
	}
}
