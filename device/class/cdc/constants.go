package cdc

import (
	"fmt"

	"github.com/ardnew/usbcore/device"
)

// CDC Functional Descriptor subtypes.
const (
	SubtypeHeader         = 0x00 // Header Functional Descriptor
	SubtypeCallManagement = 0x01 // Call Management Functional Descriptor
	SubtypeACM            = 0x02 // Abstract Control Model Functional Descriptor
	SubtypeUnion          = 0x06 // Union Functional Descriptor
)

// CDC Class codes.
const (
	ClassCDC     = device.ClassCDC     // Communications Device Class
	ClassCDCData = device.ClassCDCData // CDC Data Class
)

// SubclassACM is the Abstract Control Model subclass.
const SubclassACM = 0x02

// ProtocolNone is the communication interface protocol of a plain
// ACM function.
const ProtocolNone = 0x00

// CDC Request codes.
const (
	RequestSendEncapsulatedCommand = 0x00
	RequestSetLineCoding           = 0x20
	RequestGetLineCoding           = 0x21
	RequestSetControlLineState     = 0x22
	RequestSendBreak               = 0x23
)

// NotificationSerialState is the bNotification code of SERIAL_STATE.
const NotificationSerialState = 0x20

// LineCoding represents the serial line configuration.
type LineCoding struct {
	DTERate    uint32 // Data terminal rate (baud rate)
	CharFormat uint8  // Stop bits: 0=1, 1=1.5, 2=2
	ParityType uint8  // Parity: 0=None, 1=Odd, 2=Even, 3=Mark, 4=Space
	DataBits   uint8  // Data bits: 5, 6, 7, 8, or 16
}

// LineCodingSize is the size of LineCoding in bytes.
const LineCodingSize = 7

// Stop bit values.
const (
	StopBits1   = 0 // 1 stop bit
	StopBits1_5 = 1 // 1.5 stop bits
	StopBits2   = 2 // 2 stop bits
)

// Parity values.
const (
	ParityNone  = 0
	ParityOdd   = 1
	ParityEven  = 2
	ParityMark  = 3
	ParitySpace = 4
)

// Control line state bits (for SET_CONTROL_LINE_STATE).
const (
	ControlLineDTR = 1 << 0 // Data Terminal Ready
	ControlLineRTS = 1 << 1 // Request To Send
)

// Serial state bits (for SERIAL_STATE notification).
const (
	SerialStateRxCarrier  = 1 << 0 // DCD (Data Carrier Detect)
	SerialStateTxCarrier  = 1 << 1 // DSR (Data Set Ready)
	SerialStateBreak      = 1 << 2 // Break detected
	SerialStateRingSignal = 1 << 3 // Ring signal detected
	SerialStateFraming    = 1 << 4 // Framing error
	SerialStateParity     = 1 << 5 // Parity error
	SerialStateOverrun    = 1 << 6 // Overrun error

	// SerialStateEvents are reported once; the carrier bits persist.
	SerialStateEvents = SerialStateBreak | SerialStateRingSignal |
		SerialStateFraming | SerialStateParity | SerialStateOverrun
)

// DefaultLineCoding is 115200 8N1, the line coding reported before the
// host sets one.
var DefaultLineCoding = LineCoding{
	DTERate:    115200,
	CharFormat: StopBits1,
	ParityType: ParityNone,
	DataBits:   8,
}

// MarshalTo writes the LineCoding to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (lc *LineCoding) MarshalTo(buf []byte) int {
	if len(buf) < LineCodingSize {
		return 0
	}
	buf[0] = byte(lc.DTERate)
	buf[1] = byte(lc.DTERate >> 8)
	buf[2] = byte(lc.DTERate >> 16)
	buf[3] = byte(lc.DTERate >> 24)
	buf[4] = lc.CharFormat
	buf[5] = lc.ParityType
	buf[6] = lc.DataBits
	return LineCodingSize
}

// String formats lc the way terminal programs do, e.g. "115200 8N1".
func (lc LineCoding) String() string {
	parity := "?"
	switch lc.ParityType {
	case ParityNone:
		parity = "N"
	case ParityOdd:
		parity = "O"
	case ParityEven:
		parity = "E"
	case ParityMark:
		parity = "M"
	case ParitySpace:
		parity = "S"
	}
	stop := "?"
	switch lc.CharFormat {
	case StopBits1:
		stop = "1"
	case StopBits1_5:
		stop = "1.5"
	case StopBits2:
		stop = "2"
	}
	return fmt.Sprintf("%d %d%s%s", lc.DTERate, lc.DataBits, parity, stop)
}

// ParseLineCoding parses a SET_LINE_CODING payload. It reports false when
// data is too short.
func ParseLineCoding(data []byte, out *LineCoding) bool {
	if len(data) < LineCodingSize {
		return false
	}
	out.DTERate = uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	out.CharFormat = data[4]
	out.ParityType = data[5]
	out.DataBits = data[6]
	return true
}

// HeaderDescriptor is the CDC Header Functional Descriptor.
type HeaderDescriptor struct {
	CDCVersion uint16 // bcdCDC, 0x0120 for 1.20
}

// HeaderDescriptorSize is the size of the Header Functional Descriptor.
const HeaderDescriptorSize = 5

// MarshalTo writes the descriptor to buf.
func (d *HeaderDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < HeaderDescriptorSize {
		return 0
	}
	buf[0] = HeaderDescriptorSize
	buf[1] = device.DescriptorTypeCSInterface
	buf[2] = SubtypeHeader
	buf[3] = byte(d.CDCVersion)
	buf[4] = byte(d.CDCVersion >> 8)
	return HeaderDescriptorSize
}

// CallManagementDescriptor is the Call Management Functional Descriptor.
type CallManagementDescriptor struct {
	Capabilities  uint8 // Call management capabilities
	DataInterface uint8 // Interface number of the Data Class interface
}

// CallManagementDescriptorSize is the size of the Call Management Descriptor.
const CallManagementDescriptorSize = 5

// MarshalTo writes the descriptor to buf.
func (d *CallManagementDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < CallManagementDescriptorSize {
		return 0
	}
	buf[0] = CallManagementDescriptorSize
	buf[1] = device.DescriptorTypeCSInterface
	buf[2] = SubtypeCallManagement
	buf[3] = d.Capabilities
	buf[4] = d.DataInterface
	return CallManagementDescriptorSize
}

// ACMDescriptor is the Abstract Control Management Functional Descriptor.
type ACMDescriptor struct {
	Capabilities uint8
}

// ACMDescriptorSize is the size of the ACM Functional Descriptor.
const ACMDescriptorSize = 4

// ACM capability bits.
const (
	ACMCapLineCoding = 1 << 1 // Supports Set/Get Line Coding and Set Control Line State
	ACMCapSendBreak  = 1 << 2 // Supports Send Break
)

// MarshalTo writes the descriptor to buf.
func (d *ACMDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < ACMDescriptorSize {
		return 0
	}
	buf[0] = ACMDescriptorSize
	buf[1] = device.DescriptorTypeCSInterface
	buf[2] = SubtypeACM
	buf[3] = d.Capabilities
	return ACMDescriptorSize
}

// UnionDescriptor is the Union Functional Descriptor.
type UnionDescriptor struct {
	ControlInterface     uint8
	SubordinateInterface uint8 // Data interface
}

// UnionDescriptorSize is the size of the Union Descriptor with one subordinate.
const UnionDescriptorSize = 5

// MarshalTo writes the descriptor to buf.
func (d *UnionDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < UnionDescriptorSize {
		return 0
	}
	buf[0] = UnionDescriptorSize
	buf[1] = device.DescriptorTypeCSInterface
	buf[2] = SubtypeUnion
	buf[3] = d.ControlInterface
	buf[4] = d.SubordinateInterface
	return UnionDescriptorSize
}
