package cdc

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/usbcore/device"
	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/internal/ring"
	"github.com/ardnew/usbcore/pkg"
)

// Default FIFO sizes.
const (
	DefaultRxBufferSize = 512
	DefaultTxBufferSize = 512
)

// notificationSize is the SERIAL_STATE notification: an 8-byte header and
// two bytes of state.
const notificationSize = 10

// Config sizes the driver's FIFOs. Zero fields take their defaults.
type Config struct {
	RxBufferSize int
	TxBufferSize int
}

// ACM implements a CDC-ACM (Abstract Control Model) class driver.
// It provides USB serial port functionality.
//
// Data from the host is collected in an RX FIFO; the bulk OUT endpoint is
// re-armed only while the FIFO has room for a full packet, so a slow reader
// makes the host see NAKs instead of lost bytes. Writes go to a TX FIFO
// that is flushed a packet at a time.
type ACM struct {
	stack *device.Stack

	mutex    sync.Mutex
	opened   bool
	itf      uint8
	epNotify uint8
	epIn     uint8
	epOut    uint8
	inSize   int
	inBuf    []byte
	outBuf   []byte

	rx *ring.Buffer
	tx *ring.Buffer

	lineCoding  LineCoding
	lineState   uint8
	serialState uint16
	wanted      byte
	wantedSet   bool

	// Task-only buffers for EP0 data stages and notifications.
	requestBuf [LineCodingSize]byte
	notifyBuf  [notificationSize]byte

	rxReady chan struct{}
	txReady chan struct{}

	onRx                 func()
	onWanted             func(c byte)
	onTxComplete         func()
	onNotifyComplete     func()
	onLineCodingChange   func(*LineCoding)
	onControlStateChange func(dtr, rts bool)
	onBreak              func(millis uint16)
}

// NewACM creates a new CDC-ACM class driver.
func NewACM(cfg Config) *ACM {
	if cfg.RxBufferSize <= 0 {
		cfg.RxBufferSize = DefaultRxBufferSize
	}
	if cfg.TxBufferSize <= 0 {
		cfg.TxBufferSize = DefaultTxBufferSize
	}
	return &ACM{
		rx:         ring.New(cfg.RxBufferSize),
		tx:         ring.New(cfg.TxBufferSize),
		lineCoding: DefaultLineCoding,
		rxReady:    make(chan struct{}, 1),
		txReady:    make(chan struct{}, 1),
	}
}

// SetOnRx sets the callback run on the device task after data arrived.
func (a *ACM) SetOnRx(cb func()) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.onRx = cb
}

// SetWantedChar sets a character to watch for in received data. cb runs
// once per occurrence.
func (a *ACM) SetWantedChar(c byte, cb func(c byte)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.wanted, a.wantedSet, a.onWanted = c, cb != nil, cb
}

// SetOnTxComplete sets the callback for completed bulk IN transfers.
func (a *ACM) SetOnTxComplete(cb func()) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.onTxComplete = cb
}

// SetOnNotifyComplete sets the callback for a delivered notification.
func (a *ACM) SetOnNotifyComplete(cb func()) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.onNotifyComplete = cb
}

// SetOnLineCodingChange sets the callback for line coding changes.
func (a *ACM) SetOnLineCodingChange(cb func(*LineCoding)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.onLineCodingChange = cb
}

// SetOnControlStateChange sets the callback for control line state changes.
func (a *ACM) SetOnControlStateChange(cb func(dtr, rts bool)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.onControlStateChange = cb
}

// SetOnBreak sets the callback for break signaling.
func (a *ACM) SetOnBreak(cb func(millis uint16)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.onBreak = cb
}

// LineCoding returns the current line coding configuration.
func (a *ACM) LineCoding() LineCoding {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.lineCoding
}

// DTR returns the current DTR (Data Terminal Ready) state.
func (a *ACM) DTR() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.lineState&ControlLineDTR != 0
}

// RTS returns the current RTS (Request To Send) state.
func (a *ACM) RTS() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.lineState&ControlLineRTS != 0
}

// Connected reports whether the function is configured and the host
// terminal asserted DTR.
func (a *ACM) Connected() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.opened && a.lineState&ControlLineDTR != 0
}

// Interface returns the control interface number.
func (a *ACM) Interface() uint8 {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.itf
}

// Name implements device.ClassDriver.
func (a *ACM) Name() string { return "cdc" }

// Init implements device.ClassDriver.
func (a *ACM) Init(s *device.Stack) { a.stack = s }

// Reset drops the configuration. Line coding and the wanted character
// survive.
func (a *ACM) Reset(uint8) {
	a.mutex.Lock()
	a.opened = false
	a.itf, a.epNotify, a.epIn, a.epOut = 0, 0, 0, 0
	a.lineState = 0
	a.serialState = 0
	a.rx.Reset()
	a.tx.Reset()
	a.mutex.Unlock()

	signal(a.rxReady)
	signal(a.txReady)
}

// Open claims a communications interface with the ACM subclass, its
// functional descriptors, the optional notification endpoint and a
// following data interface with one bulk endpoint pair.
func (a *ACM) Open(_ uint8, itf []byte) int {
	var desc device.InterfaceDescriptor
	if device.ParseInterfaceDescriptor(itf, &desc) != nil ||
		desc.InterfaceClass != ClassCDC || desc.InterfaceSubClass != SubclassACM {
		return 0
	}
	a.mutex.Lock()
	busy := a.opened
	a.mutex.Unlock()
	if busy {
		return 0
	}

	n := device.InterfaceDescriptorSize
	p := itf[n:]
	for device.DescriptorTypeOf(p) == device.DescriptorTypeCSInterface {
		l := device.DescriptorLength(p)
		if l < 2 || l > len(p) {
			return 0
		}
		n += l
		p = p[l:]
	}

	var notify uint8
	if device.DescriptorTypeOf(p) == device.DescriptorTypeEndpoint {
		var ed device.EndpointDescriptor
		if device.ParseEndpointDescriptor(p, &ed) != nil ||
			ed.TransferType() != dcd.TransferInterrupt || !dcd.EdptIsIn(ed.EndpointAddress) {
			return 0
		}
		if err := a.stack.OpenEndpoint(p); err != nil {
			pkg.LogWarn(pkg.ComponentClass, "cdc notify endpoint", "error", err)
			return 0
		}
		notify = ed.EndpointAddress
		n += device.DescriptorLength(p)
		p = p[device.DescriptorLength(p):]
	}

	var out, in uint8
	var outSize, inSize int
	var data device.InterfaceDescriptor
	if device.ParseInterfaceDescriptor(p, &data) == nil && data.InterfaceClass == ClassCDCData {
		n += device.InterfaceDescriptorSize
		p = p[device.InterfaceDescriptorSize:]
		o, i, m, err := a.stack.OpenEndpointPair(p, 2, dcd.TransferBulk)
		if err != nil {
			pkg.LogWarn(pkg.ComponentClass, "cdc data endpoints", "error", err)
			return 0
		}
		out, in = o, i
		outSize = device.EndpointMaxPacketSize(p[:m], out)
		inSize = device.EndpointMaxPacketSize(p[:m], in)
		n += m
	}

	a.mutex.Lock()
	a.opened = true
	a.itf = desc.InterfaceNumber
	a.epNotify, a.epIn, a.epOut = notify, in, out
	a.inSize = inSize
	if len(a.inBuf) != inSize {
		a.inBuf = make([]byte, inSize)
	}
	if len(a.outBuf) != outSize {
		a.outBuf = make([]byte, outSize)
	}
	a.tx.Reset()
	a.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentClass, "CDC-ACM configured",
		"interface", desc.InterfaceNumber,
		"notify", fmt.Sprintf("0x%02X", notify),
		"dataIn", fmt.Sprintf("0x%02X", in),
		"dataOut", fmt.Sprintf("0x%02X", out))

	a.prepareOut()
	return n
}

// ControlXfer handles the ACM class requests addressed to the control
// interface.
func (a *ACM) ControlXfer(_ uint8, stage device.Stage, req *device.SetupPacket) bool {
	if !req.IsClass() {
		return false
	}
	a.mutex.Lock()
	ok := a.opened && req.InterfaceNumber() == a.itf
	a.mutex.Unlock()
	if !ok {
		return false
	}

	switch req.Request {
	case RequestSetLineCoding:
		switch stage {
		case device.StageSetup:
			if req.Length < LineCodingSize {
				return false
			}
			return a.stack.ControlReceive(req, a.requestBuf[:])
		case device.StageAck:
			a.setLineCoding()
		}

	case RequestGetLineCoding:
		if stage == device.StageSetup {
			a.mutex.Lock()
			a.lineCoding.MarshalTo(a.requestBuf[:])
			a.mutex.Unlock()
			return a.stack.ControlReply(req, a.requestBuf[:])
		}

	case RequestSetControlLineState:
		switch stage {
		case device.StageSetup:
			return a.stack.ControlStatus(req)
		case device.StageAck:
			a.setControlLineState(uint8(req.Value))
		}

	case RequestSendBreak:
		switch stage {
		case device.StageSetup:
			return a.stack.ControlStatus(req)
		case device.StageAck:
			a.mutex.Lock()
			cb := a.onBreak
			a.mutex.Unlock()
			pkg.LogDebug(pkg.ComponentClass, "break signaled", "duration_ms", req.Value)
			if cb != nil {
				cb(req.Value)
			}
		}

	default:
		return false
	}
	return true
}

func (a *ACM) setLineCoding() {
	var lc LineCoding
	if !ParseLineCoding(a.requestBuf[:], &lc) {
		return
	}
	a.mutex.Lock()
	a.lineCoding = lc
	cb := a.onLineCodingChange
	a.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentClass, "line coding set", "coding", lc.String())

	if cb != nil {
		cb(&lc)
	}
}

func (a *ACM) setControlLineState(state uint8) {
	a.mutex.Lock()
	a.lineState = state
	cb := a.onControlStateChange
	a.mutex.Unlock()

	dtr := state&ControlLineDTR != 0
	rts := state&ControlLineRTS != 0
	pkg.LogDebug(pkg.ComponentClass, "control line state set", "dtr", dtr, "rts", rts)
	if cb != nil {
		cb(dtr, rts)
	}
}

// XferCB implements device.ClassDriver.
func (a *ACM) XferCB(_ uint8, ep uint8, result pkg.XferResult, n int) bool {
	a.mutex.Lock()
	switch ep {
	case a.epOut:
		var hits int
		if result == pkg.XferSuccess {
			data := a.outBuf[:n]
			if w := a.rx.Write(data); w < n {
				pkg.LogWarn(pkg.ComponentClass, "cdc rx overflow", "dropped", n-w)
			}
			if a.wantedSet {
				for _, c := range data {
					if c == a.wanted {
						hits++
					}
				}
			}
		}
		have := a.rx.Len() > 0
		onRx, onWanted, wanted := a.onRx, a.onWanted, a.wanted
		a.mutex.Unlock()

		signal(a.rxReady)
		for ; hits > 0 && onWanted != nil; hits-- {
			onWanted(wanted)
		}
		if have && onRx != nil {
			onRx()
		}
		a.prepareOut()

	case a.epIn:
		cb := a.onTxComplete
		size := a.inSize
		a.mutex.Unlock()

		if cb != nil {
			cb()
		}
		// A transfer that ended on a full packet needs a ZLP when nothing
		// follows it.
		if a.Flush() == 0 && result == pkg.XferSuccess && n > 0 && size > 0 && n%size == 0 {
			a.sendZLP()
		}
		signal(a.txReady)

	case a.epNotify:
		cb := a.onNotifyComplete
		a.mutex.Unlock()
		if cb != nil {
			cb()
		}

	default:
		a.mutex.Unlock()
		return false
	}
	return true
}

// prepareOut arms the bulk OUT endpoint when the RX FIFO has room for a
// full transfer.
func (a *ACM) prepareOut() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if !a.opened || a.epOut == 0 || a.rx.Free() < len(a.outBuf) {
		return
	}
	if !a.stack.Claim(a.epOut) {
		return
	}
	if err := a.stack.Xfer(a.epOut, a.outBuf); err != nil {
		pkg.LogWarn(pkg.ComponentClass, "cdc arm read", "error", err)
	}
}

func (a *ACM) sendZLP() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if !a.opened || a.tx.Len() > 0 || !a.stack.Claim(a.epIn) {
		return
	}
	if err := a.stack.Xfer(a.epIn, nil); err != nil {
		pkg.LogWarn(pkg.ComponentClass, "cdc zlp", "error", err)
	}
}

// Available returns the number of received bytes waiting to be read.
func (a *ACM) Available() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.rx.Len()
}

// Peek copies buffered bytes into buf without consuming them.
func (a *ACM) Peek(buf []byte) int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.rx.Peek(buf)
}

// TryRead moves buffered bytes into buf without blocking. It returns
// pkg.ErrNotConfigured when the function is not configured and nothing is
// buffered.
func (a *ACM) TryRead(buf []byte) (int, error) {
	a.mutex.Lock()
	n := a.rx.Read(buf)
	opened := a.opened
	a.mutex.Unlock()

	if n == 0 && !opened {
		return 0, pkg.ErrNotConfigured
	}
	if n > 0 {
		a.prepareOut()
	}
	return n, nil
}

// Read blocks until at least one byte is available or ctx ends.
func (a *ACM) Read(ctx context.Context, buf []byte) (int, error) {
	for {
		n, err := a.TryRead(buf)
		if n > 0 || err != nil || len(buf) == 0 {
			return n, err
		}
		select {
		case <-a.rxReady:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// DiscardRx drops all received data.
func (a *ACM) DiscardRx() {
	a.mutex.Lock()
	a.rx.Reset()
	a.mutex.Unlock()
	a.prepareOut()
}

// WriteAvailable returns the free space of the TX FIFO.
func (a *ACM) WriteAvailable() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.tx.Free()
}

// TryWrite queues as much of data as fits in the TX FIFO and starts a
// transfer once a full packet is waiting.
func (a *ACM) TryWrite(data []byte) (int, error) {
	a.mutex.Lock()
	if !a.opened || a.epIn == 0 {
		a.mutex.Unlock()
		return 0, pkg.ErrNotConfigured
	}
	n := a.tx.Write(data)
	full := a.tx.Len() >= a.inSize
	a.mutex.Unlock()

	if full {
		a.Flush()
	}
	return n, nil
}

// Write queues all of data, flushing and waiting for room as needed.
func (a *ACM) Write(ctx context.Context, data []byte) (int, error) {
	total := 0
	for {
		n, err := a.TryWrite(data[total:])
		total += n
		if err != nil {
			return total, err
		}
		a.Flush()
		if total == len(data) {
			return total, nil
		}
		select {
		case <-a.txReady:
		case <-ctx.Done():
			return total, ctx.Err()
		}
	}
}

// Flush starts a bulk IN transfer of up to one packet from the TX FIFO. It
// returns the number of bytes handed to the controller, zero when the FIFO
// is empty or a transfer is already running.
func (a *ACM) Flush() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if !a.opened || a.epIn == 0 || a.tx.Len() == 0 {
		return 0
	}
	if !a.stack.Claim(a.epIn) {
		return 0
	}
	n := a.tx.Read(a.inBuf)
	if err := a.stack.Xfer(a.epIn, a.inBuf[:n]); err != nil {
		pkg.LogWarn(pkg.ComponentClass, "cdc write", "error", err)
		return 0
	}
	return n
}

// SendSerialState sends a SERIAL_STATE notification to the host. The
// SerialStateEvents bits are sent once and not kept in SerialState.
func (a *ACM) SendSerialState(state uint16) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if !a.opened {
		return pkg.ErrNotConfigured
	}
	if a.epNotify == 0 {
		return pkg.ErrNotSupported
	}
	if !a.stack.Claim(a.epNotify) {
		return pkg.ErrBusy
	}

	buf := a.notifyBuf[:]
	buf[0] = device.RequestDirectionDeviceToHost | device.RequestTypeClass | device.RequestRecipientInterface
	buf[1] = NotificationSerialState
	buf[2], buf[3] = 0, 0
	buf[4], buf[5] = a.itf, 0
	buf[6], buf[7] = 2, 0
	buf[8] = byte(state)
	buf[9] = byte(state >> 8)
	a.serialState = state &^ SerialStateEvents

	return a.stack.Xfer(a.epNotify, buf)
}

// SerialState returns the carrier bits last sent with SendSerialState.
func (a *ACM) SerialState() uint16 {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.serialState
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Compile-time interface check
var _ device.ClassDriver = (*ACM)(nil)
