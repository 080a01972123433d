package hid

import (
	"fmt"
	"sync"

	"github.com/ardnew/usbcore/device"
	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// MaxReportSize is the maximum HID report size, report ID included.
const MaxReportSize = 64

// HID implements a HID class driver with an interrupt IN endpoint and an
// optional interrupt OUT endpoint.
type HID struct {
	stack *device.Stack

	// Report descriptor (stored by reference)
	reportDescriptor []byte
	hidDescriptor    HIDDescriptor

	mutex    sync.Mutex
	opened   bool
	itf      uint8
	inEP     uint8
	outEP    uint8
	outSize  int
	boot     uint8 // bInterfaceProtocol of a boot interface
	protocol uint8 // ProtocolBoot or ProtocolReport
	idleRate uint8 // 4 ms units, 0 = infinite

	onGetReport     func(reportID, reportType uint8, buf []byte) int
	onOutputReport  func(reportID uint8, data []byte)
	onFeatureReport func(reportID uint8, data []byte)
	onSetProtocol   func(protocol uint8)
	onSetIdle       func(rate, reportID uint8)
	onReportSent    func()

	// Buffers (zero-allocation)
	inBuf   [MaxReportSize]byte
	outBuf  [MaxReportSize]byte
	ctlBuf  [MaxReportSize]byte
	hidBuf  [HIDDescriptorSize]byte
	byteBuf [1]byte
}

// New creates a new HID class driver with the given report descriptor.
// The report descriptor is stored by reference.
func New(reportDescriptor []byte) *HID {
	return &HID{
		reportDescriptor: reportDescriptor,
		hidDescriptor: HIDDescriptor{
			HIDVersion:     0x0111, // HID 1.11
			CountryCode:    CountryNone,
			NumDescriptors: 1,
			ReportDescLen:  uint16(len(reportDescriptor)),
		},
		protocol: ProtocolReport,
	}
}

// SetOnGetReport sets the handler for GET_REPORT. It fills buf and returns
// the report length; zero stalls the request.
func (h *HID) SetOnGetReport(cb func(reportID, reportType uint8, buf []byte) int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onGetReport = cb
}

// SetOnOutputReport sets the callback for output reports, whether they
// arrive on the OUT endpoint or through SET_REPORT. Reports from the OUT
// endpoint carry reportID 0 and keep any ID prefix in data.
func (h *HID) SetOnOutputReport(cb func(reportID uint8, data []byte)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onOutputReport = cb
}

// SetOnFeatureReport sets the callback for feature reports.
func (h *HID) SetOnFeatureReport(cb func(reportID uint8, data []byte)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onFeatureReport = cb
}

// SetOnSetProtocol sets the callback for protocol changes.
func (h *HID) SetOnSetProtocol(cb func(protocol uint8)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onSetProtocol = cb
}

// SetOnSetIdle sets the callback for idle rate changes.
func (h *HID) SetOnSetIdle(cb func(rate, reportID uint8)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onSetIdle = cb
}

// SetOnReportSent sets the callback run when an input report reached the
// host.
func (h *HID) SetOnReportSent(cb func()) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onReportSent = cb
}

// Protocol returns the current protocol (boot or report).
func (h *HID) Protocol() uint8 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.protocol
}

// BootProtocol returns the boot protocol of the interface (keyboard or
// mouse), or ProtocolNone when it is not a boot interface.
func (h *HID) BootProtocol() uint8 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.boot
}

// IdleRate returns the current idle rate.
func (h *HID) IdleRate() uint8 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.idleRate
}

// ReportDescriptor returns the report descriptor.
func (h *HID) ReportDescriptor() []byte { return h.reportDescriptor }

// Interface returns the bound interface number.
func (h *HID) Interface() uint8 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.itf
}

// Ready reports whether an input report can be queued.
func (h *HID) Ready() bool {
	h.mutex.Lock()
	ok, ep := h.opened, h.inEP
	h.mutex.Unlock()
	return ok && !h.stack.Busy(ep)
}

// Name implements device.ClassDriver.
func (h *HID) Name() string { return "hid" }

// Init implements device.ClassDriver.
func (h *HID) Init(s *device.Stack) { h.stack = s }

// Reset drops the configuration and returns to report protocol.
func (h *HID) Reset(uint8) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.opened = false
	h.itf, h.inEP, h.outEP, h.outSize = 0, 0, 0, 0
	h.boot = 0
	h.protocol = ProtocolReport
	h.idleRate = 0
}

// Open claims a HID interface, its HID descriptor and its interrupt
// endpoints.
func (h *HID) Open(_ uint8, itf []byte) int {
	var desc device.InterfaceDescriptor
	if device.ParseInterfaceDescriptor(itf, &desc) != nil || desc.InterfaceClass != ClassHID {
		return 0
	}
	h.mutex.Lock()
	busy := h.opened
	h.mutex.Unlock()
	if busy {
		return 0
	}

	n := device.InterfaceDescriptorSize
	p := itf[n:]
	var hd HIDDescriptor
	if err := ParseHIDDescriptor(p, &hd); err != nil {
		pkg.LogWarn(pkg.ComponentClass, "hid descriptor", "error", err)
		return 0
	}
	if int(hd.ReportDescLen) != len(h.reportDescriptor) {
		pkg.LogWarn(pkg.ComponentClass, "report descriptor length mismatch",
			"declared", hd.ReportDescLen, "actual", len(h.reportDescriptor))
	}
	n += device.DescriptorLength(p)
	p = p[device.DescriptorLength(p):]

	out, in, m, err := h.stack.OpenEndpointPair(p, int(desc.NumEndpoints), dcd.TransferInterrupt)
	if err != nil || in == 0 {
		pkg.LogWarn(pkg.ComponentClass, "hid endpoints", "error", err)
		return 0
	}
	n += m

	h.mutex.Lock()
	h.opened = true
	h.itf = desc.InterfaceNumber
	h.inEP, h.outEP = in, out
	h.outSize = min(device.EndpointMaxPacketSize(p[:m], out), len(h.outBuf))
	if desc.InterfaceSubClass == SubclassBoot {
		h.boot = desc.InterfaceProtocol
	}
	h.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentClass, "HID configured",
		"interface", desc.InterfaceNumber,
		"in", fmt.Sprintf("0x%02X", in),
		"out", fmt.Sprintf("0x%02X", out),
		"boot", desc.InterfaceProtocol)

	h.prepareOut()
	return n
}

// ControlXfer serves GET_DESCRIPTOR for the HID and report descriptors
// and the HID class requests.
func (h *HID) ControlXfer(_ uint8, stage device.Stage, req *device.SetupPacket) bool {
	if req.Recipient() != device.RequestRecipientInterface {
		return false
	}
	h.mutex.Lock()
	mine := h.opened && req.InterfaceNumber() == h.itf
	h.mutex.Unlock()
	if !mine {
		return false
	}

	switch stage {
	case device.StageSetup:
	case device.StageData:
		if req.IsClass() && req.Request == RequestSetReport {
			h.setReport(req)
		}
		return true
	default:
		return true
	}

	if req.IsStandard() {
		if req.Request != device.RequestGetDescriptor {
			return false
		}
		switch req.DescriptorType() {
		case DescriptorTypeReport:
			return h.stack.ControlReply(req, h.reportDescriptor)
		case DescriptorTypeHID:
			h.mutex.Lock()
			h.hidDescriptor.MarshalTo(h.hidBuf[:])
			h.mutex.Unlock()
			return h.stack.ControlReply(req, h.hidBuf[:])
		}
		return false
	}
	if !req.IsClass() {
		return false
	}

	reportType, reportID := uint8(req.Value>>8), uint8(req.Value)
	switch req.Request {
	case RequestGetReport:
		h.mutex.Lock()
		cb := h.onGetReport
		h.mutex.Unlock()
		if cb == nil {
			return false
		}
		n := cb(reportID, reportType, h.ctlBuf[:min(int(req.Length), len(h.ctlBuf))])
		if n <= 0 {
			return false
		}
		return h.stack.ControlReply(req, h.ctlBuf[:n])

	case RequestSetReport:
		if int(req.Length) > len(h.ctlBuf) {
			return false
		}
		return h.stack.ControlReceive(req, h.ctlBuf[:req.Length])

	case RequestGetIdle:
		h.mutex.Lock()
		h.byteBuf[0] = h.idleRate
		h.mutex.Unlock()
		return h.stack.ControlReply(req, h.byteBuf[:])

	case RequestSetIdle:
		rate := reportType
		h.mutex.Lock()
		h.idleRate = rate
		cb := h.onSetIdle
		h.mutex.Unlock()
		pkg.LogDebug(pkg.ComponentClass, "SET_IDLE", "rate", rate, "reportID", reportID)
		if cb != nil {
			cb(rate, reportID)
		}
		return h.stack.ControlStatus(req)

	case RequestGetProtocol:
		h.mutex.Lock()
		h.byteBuf[0] = h.protocol
		h.mutex.Unlock()
		return h.stack.ControlReply(req, h.byteBuf[:])

	case RequestSetProtocol:
		if req.Value > ProtocolReport {
			return false
		}
		protocol := uint8(req.Value)
		h.mutex.Lock()
		h.protocol = protocol
		cb := h.onSetProtocol
		h.mutex.Unlock()
		pkg.LogDebug(pkg.ComponentClass, "SET_PROTOCOL", "protocol", protocol)
		if cb != nil {
			cb(protocol)
		}
		return h.stack.ControlStatus(req)
	}
	return false
}

// setReport delivers the data stage of SET_REPORT.
func (h *HID) setReport(req *device.SetupPacket) {
	reportType, reportID := uint8(req.Value>>8), uint8(req.Value)
	data := h.ctlBuf[:req.Length]

	h.mutex.Lock()
	output, feature := h.onOutputReport, h.onFeatureReport
	h.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentClass, "SET_REPORT", "type", reportType, "id", reportID, "len", len(data))
	switch reportType {
	case ReportTypeOutput:
		if output != nil {
			output(reportID, data)
		}
	case ReportTypeFeature:
		if feature != nil {
			feature(reportID, data)
		}
	}
}

// XferCB implements device.ClassDriver.
func (h *HID) XferCB(_ uint8, ep uint8, result pkg.XferResult, n int) bool {
	h.mutex.Lock()
	in, out := h.inEP, h.outEP
	sent, output := h.onReportSent, h.onOutputReport
	h.mutex.Unlock()

	switch ep {
	case in:
		if result == pkg.XferSuccess && sent != nil {
			sent()
		}
	case out:
		if result == pkg.XferSuccess && output != nil {
			output(0, h.outBuf[:n])
		}
		h.prepareOut()
	default:
		return false
	}
	return true
}

func (h *HID) prepareOut() {
	h.mutex.Lock()
	ep, size := h.outEP, h.outSize
	h.mutex.Unlock()
	if ep == 0 || !h.stack.Claim(ep) {
		return
	}
	if err := h.stack.Xfer(ep, h.outBuf[:size]); err != nil {
		pkg.LogWarn(pkg.ComponentClass, "hid OUT arm failed", "error", err)
	}
}

// SendReport queues an input report. A nonzero reportID is sent as the
// first byte. It returns pkg.ErrBusy while the previous report is in
// flight.
func (h *HID) SendReport(reportID uint8, data []byte) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if !h.opened {
		return pkg.ErrNotConfigured
	}
	n := len(data)
	if reportID != 0 {
		n++
	}
	if n > len(h.inBuf) {
		return pkg.ErrBufferTooSmall
	}
	if !h.stack.Claim(h.inEP) {
		return pkg.ErrBusy
	}
	off := 0
	if reportID != 0 {
		h.inBuf[0] = reportID
		off = 1
	}
	copy(h.inBuf[off:], data)
	return h.stack.Xfer(h.inEP, h.inBuf[:n])
}

// SendKeyboardReport sends a keyboard report.
func (h *HID) SendKeyboardReport(reportID uint8, report *KeyboardReport) error {
	var buf [KeyboardReportSize]byte
	n := report.MarshalTo(buf[:])
	return h.SendReport(reportID, buf[:n])
}

// SendMouseReport sends a mouse report.
func (h *HID) SendMouseReport(reportID uint8, report *MouseReport) error {
	var buf [MouseReportSize]byte
	n := report.MarshalTo(buf[:])
	return h.SendReport(reportID, buf[:n])
}

var _ device.ClassDriver = (*HID)(nil)
