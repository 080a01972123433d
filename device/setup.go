package device

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/usbcore/pkg"
)

// Standard USB request codes (USB 2.0 Spec Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// Feature selectors (USB 2.0 Spec Table 9-6).
const (
	FeatureEndpointHalt       = 0x00
	FeatureDeviceRemoteWakeup = 0x01
	FeatureTestMode           = 0x02
)

// bmRequestType fields (USB 2.0 Spec Table 9-2).
const (
	RequestTypeDirectionMask = 0x80
	RequestTypeTypeMask      = 0x60
	RequestTypeRecipientMask = 0x1F

	RequestDirectionHostToDevice = 0x00
	RequestDirectionDeviceToHost = 0x80

	RequestTypeStandard = 0x00
	RequestTypeClass    = 0x20
	RequestTypeVendor   = 0x40
	RequestTypeReserved = 0x60

	RequestRecipientDevice    = 0x00
	RequestRecipientInterface = 0x01
	RequestRecipientEndpoint  = 0x02
	RequestRecipientOther     = 0x03
)

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// SetupPacket represents an 8-byte USB SETUP packet.
type SetupPacket struct {
	RequestType uint8  // bmRequestType: direction, type, recipient
	Request     uint8  // bRequest
	Value       uint16 // wValue
	Index       uint16 // wIndex
	Length      uint16 // wLength
}

// ParseSetupPacket parses a setup packet from 8 bytes into out.
func ParseSetupPacket(data []byte, out *SetupPacket) error {
	if len(data) < SetupPacketSize {
		return pkg.ErrSetupPacketTooShort
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = binary.LittleEndian.Uint16(data[2:4])
	out.Index = binary.LittleEndian.Uint16(data[4:6])
	out.Length = binary.LittleEndian.Uint16(data[6:8])
	return nil
}

// MarshalTo serializes the setup packet to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:4], s.Value)
	binary.LittleEndian.PutUint16(buf[4:6], s.Index)
	binary.LittleEndian.PutUint16(buf[6:8], s.Length)
	return SetupPacketSize
}

// Bytes returns the wire form of the setup packet.
func (s SetupPacket) Bytes() [SetupPacketSize]byte {
	var b [SetupPacketSize]byte
	s.MarshalTo(b[:])
	return b
}

// IsDeviceToHost reports whether the data stage, if any, is IN.
func (s *SetupPacket) IsDeviceToHost() bool {
	return s.RequestType&RequestTypeDirectionMask == RequestDirectionDeviceToHost
}

// DataDir returns the direction index of the data stage: 1 for IN, 0 for OUT.
func (s *SetupPacket) DataDir() int {
	if s.IsDeviceToHost() {
		return 1
	}
	return 0
}

// Type returns the request type bits.
func (s *SetupPacket) Type() uint8 { return s.RequestType & RequestTypeTypeMask }

// IsStandard reports whether this is a standard request.
func (s *SetupPacket) IsStandard() bool { return s.Type() == RequestTypeStandard }

// IsClass reports whether this is a class-specific request.
func (s *SetupPacket) IsClass() bool { return s.Type() == RequestTypeClass }

// IsVendor reports whether this is a vendor-specific request.
func (s *SetupPacket) IsVendor() bool { return s.Type() == RequestTypeVendor }

// Recipient returns the recipient bits.
func (s *SetupPacket) Recipient() uint8 { return s.RequestType & RequestTypeRecipientMask }

// DescriptorType returns the descriptor type from the wValue high byte.
func (s *SetupPacket) DescriptorType() uint8 { return uint8(s.Value >> 8) }

// DescriptorIndex returns the descriptor index from the wValue low byte.
func (s *SetupPacket) DescriptorIndex() uint8 { return uint8(s.Value) }

// InterfaceNumber returns the interface number from the wIndex low byte.
func (s *SetupPacket) InterfaceNumber() uint8 { return uint8(s.Index) }

// EndpointAddress returns the endpoint address from the wIndex low byte.
func (s *SetupPacket) EndpointAddress() uint8 { return uint8(s.Index) }

// String returns a human-readable representation of the setup packet.
func (s *SetupPacket) String() string {
	dir := "OUT"
	if s.IsDeviceToHost() {
		dir = "IN"
	}
	typ := "Standard"
	switch s.Type() {
	case RequestTypeClass:
		typ = "Class"
	case RequestTypeVendor:
		typ = "Vendor"
	case RequestTypeReserved:
		typ = "Reserved"
	}
	rcpt := "Device"
	switch s.Recipient() {
	case RequestRecipientDevice:
	case RequestRecipientInterface:
		rcpt = "Interface"
	case RequestRecipientEndpoint:
		rcpt = "Endpoint"
	default:
		rcpt = "Other"
	}
	return fmt.Sprintf("SETUP[%s %s %s] Request=0x%02X Value=0x%04X Index=0x%04X Length=%d",
		dir, typ, rcpt, s.Request, s.Value, s.Index, s.Length)
}

// Stage identifies the point of a control transfer at which a handler is
// invoked.
type Stage uint8

// Control transfer stages seen by request handlers.
const (
	StageSetup Stage = iota // setup packet received, no data moved yet
	StageData               // data stage finished
	StageAck                // status stage finished
)

// String returns the name of the stage.
func (s Stage) String() string {
	switch s {
	case StageSetup:
		return "setup"
	case StageData:
		return "data"
	case StageAck:
		return "ack"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// Request builders used by hosts and tests.

// GetDescriptorRequest returns a GET_DESCRIPTOR request. langID is only
// meaningful for string descriptors.
func GetDescriptorRequest(descType, index uint8, langID, length uint16) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestGetDescriptor,
		Value:       uint16(descType)<<8 | uint16(index),
		Index:       langID,
		Length:      length,
	}
}

// GetInterfaceDescriptorRequest returns a GET_DESCRIPTOR request addressed
// to an interface, as used for class descriptors such as HID reports.
func GetInterfaceDescriptorRequest(descType, index, itf uint8, length uint16) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientInterface,
		Request:     RequestGetDescriptor,
		Value:       uint16(descType)<<8 | uint16(index),
		Index:       uint16(itf),
		Length:      length,
	}
}

// SetAddressRequest returns a SET_ADDRESS request.
func SetAddressRequest(addr uint8) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestSetAddress,
		Value:       uint16(addr),
	}
}

// SetConfigurationRequest returns a SET_CONFIGURATION request.
func SetConfigurationRequest(cfg uint8) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestSetConfiguration,
		Value:       uint16(cfg),
	}
}

// GetConfigurationRequest returns a GET_CONFIGURATION request.
func GetConfigurationRequest() SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestGetConfiguration,
		Length:      1,
	}
}

// GetStatusRequest returns a GET_STATUS request for the given recipient.
func GetStatusRequest(recipient uint8, index uint16) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | recipient,
		Request:     RequestGetStatus,
		Index:       index,
		Length:      2,
	}
}

// FeatureRequest returns a SET_FEATURE request, or CLEAR_FEATURE when set
// is false.
func FeatureRequest(set bool, recipient uint8, feature, index uint16) SetupPacket {
	req := uint8(RequestClearFeature)
	if set {
		req = RequestSetFeature
	}
	return SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | recipient,
		Request:     req,
		Value:       feature,
		Index:       index,
	}
}

// SetInterfaceRequest returns a SET_INTERFACE request.
func SetInterfaceRequest(itf, alt uint8) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientInterface,
		Request:     RequestSetInterface,
		Value:       uint16(alt),
		Index:       uint16(itf),
	}
}

// GetInterfaceRequest returns a GET_INTERFACE request.
func GetInterfaceRequest(itf uint8) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientInterface,
		Request:     RequestGetInterface,
		Index:       uint16(itf),
		Length:      1,
	}
}

// ClassRequest returns a class request addressed to an interface.
func ClassRequest(in bool, request uint8, value uint16, itf uint8, length uint16) SetupPacket {
	dir := uint8(RequestDirectionHostToDevice)
	if in {
		dir = RequestDirectionDeviceToHost
	}
	return SetupPacket{
		RequestType: dir | RequestTypeClass | RequestRecipientInterface,
		Request:     request,
		Value:       value,
		Index:       uint16(itf),
		Length:      length,
	}
}

// VendorRequest returns a vendor request addressed to the device.
func VendorRequest(in bool, request uint8, value, index, length uint16) SetupPacket {
	dir := uint8(RequestDirectionHostToDevice)
	if in {
		dir = RequestDirectionDeviceToHost
	}
	return SetupPacket{
		RequestType: dir | RequestTypeVendor | RequestRecipientDevice,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      length,
	}
}
