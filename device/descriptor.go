package device

import (
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// USB Descriptor Types (USB 2.0 Spec Table 9-5, USB 3.2 Table 9-6).
const (
	DescriptorTypeDevice               = 0x01
	DescriptorTypeConfiguration        = 0x02
	DescriptorTypeString               = 0x03
	DescriptorTypeInterface            = 0x04
	DescriptorTypeEndpoint             = 0x05
	DescriptorTypeDeviceQualifier      = 0x06
	DescriptorTypeOtherSpeedConfig     = 0x07
	DescriptorTypeInterfacePower       = 0x08
	DescriptorTypeOTG                  = 0x09
	DescriptorTypeDebug                = 0x0A
	DescriptorTypeInterfaceAssociation = 0x0B
	DescriptorTypeBOS                  = 0x0F
	DescriptorTypeDeviceCapability     = 0x10
	DescriptorTypeHID                  = 0x21
	DescriptorTypeHIDReport            = 0x22
	DescriptorTypeHIDPhysical          = 0x23
	DescriptorTypeCSInterface          = 0x24 // Class-specific interface
	DescriptorTypeCSEndpoint           = 0x25 // Class-specific endpoint
)

// USB Class Codes.
const (
	ClassPerInterface = 0x00
	ClassAudio        = 0x01
	ClassCDC          = 0x02
	ClassHID          = 0x03
	ClassPhysical     = 0x05
	ClassImage        = 0x06
	ClassPrinter      = 0x07
	ClassMassStorage  = 0x08
	ClassHub          = 0x09
	ClassCDCData      = 0x0A
	ClassSmartCard    = 0x0B
	ClassContentSec   = 0x0D
	ClassVideo        = 0x0E
	ClassHealthcare   = 0x0F
	ClassAudioVideo   = 0x10
	ClassBillboard    = 0x11
	ClassDiagnostic   = 0xDC
	ClassWireless     = 0xE0
	ClassMisc         = 0xEF
	ClassAppSpecific  = 0xFE
	ClassVendor       = 0xFF
)

// Audio subclass carrying MIDI streaming interfaces.
const AudioSubclassMIDIStreaming = 0x03

// DeviceCapabilityTypePlatform is bDevCapabilityType of a platform
// capability.
const DeviceCapabilityTypePlatform = 0x05

// Descriptor sizes in bytes.
const (
	DeviceDescriptorSize          = 18
	ConfigurationDescriptorSize   = 9
	InterfaceDescriptorSize       = 9
	EndpointDescriptorSize        = 7
	IADSize                       = 8
	QualifierDescriptorSize       = 10
	BOSDescriptorSize             = 5
	PlatformCapabilityHeaderSize  = 20
	stringDescriptorHeaderSize    = 2
	maxStringDescriptorByteLength = stringDescriptorHeaderSize + 2*MaxStringUnits
)

// Configuration attribute bits.
const (
	ConfigAttrBusPowered   = 0x80 // Reserved, always set
	ConfigAttrSelfPowered  = 0x40
	ConfigAttrRemoteWakeup = 0x20
)

// LangIDUSEnglish is the language ID for US English.
const LangIDUSEnglish = 0x0409

// DeviceDescriptor is the 18-byte device descriptor.
type DeviceDescriptor struct {
	USBVersion        uint16 // bcdUSB
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16 // bcdDevice
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// MarshalTo serializes the device descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < DeviceDescriptorSize {
		return 0
	}
	buf[0] = DeviceDescriptorSize
	buf[1] = DescriptorTypeDevice
	binary.LittleEndian.PutUint16(buf[2:4], d.USBVersion)
	buf[4] = d.DeviceClass
	buf[5] = d.DeviceSubClass
	buf[6] = d.DeviceProtocol
	buf[7] = d.MaxPacketSize0
	binary.LittleEndian.PutUint16(buf[8:10], d.VendorID)
	binary.LittleEndian.PutUint16(buf[10:12], d.ProductID)
	binary.LittleEndian.PutUint16(buf[12:14], d.DeviceVersion)
	buf[14] = d.ManufacturerIndex
	buf[15] = d.ProductIndex
	buf[16] = d.SerialNumberIndex
	buf[17] = d.NumConfigurations
	return DeviceDescriptorSize
}

// ParseDeviceDescriptor parses a device descriptor from bytes into out.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) error {
	if err := checkDescriptor(data, DeviceDescriptorSize, DescriptorTypeDevice); err != nil {
		return err
	}
	out.USBVersion = binary.LittleEndian.Uint16(data[2:4])
	out.DeviceClass = data[4]
	out.DeviceSubClass = data[5]
	out.DeviceProtocol = data[6]
	out.MaxPacketSize0 = data[7]
	out.VendorID = binary.LittleEndian.Uint16(data[8:10])
	out.ProductID = binary.LittleEndian.Uint16(data[10:12])
	out.DeviceVersion = binary.LittleEndian.Uint16(data[12:14])
	out.ManufacturerIndex = data[14]
	out.ProductIndex = data[15]
	out.SerialNumberIndex = data[16]
	out.NumConfigurations = data[17]
	return nil
}

// QualifierDescriptor is the device qualifier: the fields of the device
// descriptor that would change at the other operating speed.
type QualifierDescriptor struct {
	USBVersion        uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	NumConfigurations uint8
}

// MarshalTo serializes the qualifier to buf.
func (q *QualifierDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < QualifierDescriptorSize {
		return 0
	}
	buf[0] = QualifierDescriptorSize
	buf[1] = DescriptorTypeDeviceQualifier
	binary.LittleEndian.PutUint16(buf[2:4], q.USBVersion)
	buf[4] = q.DeviceClass
	buf[5] = q.DeviceSubClass
	buf[6] = q.DeviceProtocol
	buf[7] = q.MaxPacketSize0
	buf[8] = q.NumConfigurations
	buf[9] = 0
	return QualifierDescriptorSize
}

// ConfigurationDescriptor is the 9-byte configuration header. The same
// layout serves the other-speed configuration.
type ConfigurationDescriptor struct {
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8 // 2 mA units
}

// MarshalTo serializes the configuration header to buf.
func (c *ConfigurationDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < ConfigurationDescriptorSize {
		return 0
	}
	buf[0] = ConfigurationDescriptorSize
	buf[1] = DescriptorTypeConfiguration
	binary.LittleEndian.PutUint16(buf[2:4], c.TotalLength)
	buf[4] = c.NumInterfaces
	buf[5] = c.ConfigurationValue
	buf[6] = c.ConfigurationIndex
	buf[7] = c.Attributes | ConfigAttrBusPowered
	buf[8] = c.MaxPower
	return ConfigurationDescriptorSize
}

// ParseConfigurationDescriptor parses a configuration header. Both the
// configuration and the other-speed configuration type are accepted.
func ParseConfigurationDescriptor(data []byte, out *ConfigurationDescriptor) error {
	if len(data) < ConfigurationDescriptorSize {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != DescriptorTypeConfiguration && data[1] != DescriptorTypeOtherSpeedConfig {
		return pkg.ErrDescriptorTypeMismatch
	}
	out.TotalLength = binary.LittleEndian.Uint16(data[2:4])
	out.NumInterfaces = data[4]
	out.ConfigurationValue = data[5]
	out.ConfigurationIndex = data[6]
	out.Attributes = data[7]
	out.MaxPower = data[8]
	return nil
}

// InterfaceDescriptor is the 9-byte interface descriptor.
type InterfaceDescriptor struct {
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

// MarshalTo serializes the interface descriptor to buf.
func (i *InterfaceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < InterfaceDescriptorSize {
		return 0
	}
	buf[0] = InterfaceDescriptorSize
	buf[1] = DescriptorTypeInterface
	buf[2] = i.InterfaceNumber
	buf[3] = i.AlternateSetting
	buf[4] = i.NumEndpoints
	buf[5] = i.InterfaceClass
	buf[6] = i.InterfaceSubClass
	buf[7] = i.InterfaceProtocol
	buf[8] = i.InterfaceIndex
	return InterfaceDescriptorSize
}

// ParseInterfaceDescriptor parses an interface descriptor.
func ParseInterfaceDescriptor(data []byte, out *InterfaceDescriptor) error {
	if err := checkDescriptor(data, InterfaceDescriptorSize, DescriptorTypeInterface); err != nil {
		return err
	}
	out.InterfaceNumber = data[2]
	out.AlternateSetting = data[3]
	out.NumEndpoints = data[4]
	out.InterfaceClass = data[5]
	out.InterfaceSubClass = data[6]
	out.InterfaceProtocol = data[7]
	out.InterfaceIndex = data[8]
	return nil
}

// EndpointDescriptor is the 7-byte endpoint descriptor.
type EndpointDescriptor struct {
	EndpointAddress uint8
	Attributes      uint8 // transfer type in bits 1:0
	MaxPacketSize   uint16
	Interval        uint8
}

// MarshalTo serializes the endpoint descriptor to buf.
func (e *EndpointDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < EndpointDescriptorSize {
		return 0
	}
	buf[0] = EndpointDescriptorSize
	buf[1] = DescriptorTypeEndpoint
	buf[2] = e.EndpointAddress
	buf[3] = e.Attributes
	binary.LittleEndian.PutUint16(buf[4:6], e.MaxPacketSize)
	buf[6] = e.Interval
	return EndpointDescriptorSize
}

// ParseEndpointDescriptor parses an endpoint descriptor.
func ParseEndpointDescriptor(data []byte, out *EndpointDescriptor) error {
	if err := checkDescriptor(data, EndpointDescriptorSize, DescriptorTypeEndpoint); err != nil {
		return err
	}
	out.EndpointAddress = data[2]
	out.Attributes = data[3]
	out.MaxPacketSize = binary.LittleEndian.Uint16(data[4:6])
	out.Interval = data[6]
	return nil
}

// TransferType returns the transfer type encoded in bmAttributes.
func (e *EndpointDescriptor) TransferType() dcd.TransferType {
	return dcd.TransferType(e.Attributes & 0x03)
}

// Endpoint converts the descriptor to the form a controller opens. Only
// the size bits of wMaxPacketSize are kept.
func (e *EndpointDescriptor) Endpoint() dcd.Endpoint {
	return dcd.Endpoint{
		Address:       e.EndpointAddress,
		Type:          e.TransferType(),
		MaxPacketSize: e.MaxPacketSize & 0x07FF,
		Interval:      e.Interval,
	}
}

// InterfaceAssociationDescriptor groups consecutive interfaces into one
// function.
type InterfaceAssociationDescriptor struct {
	FirstInterface   uint8
	InterfaceCount   uint8
	FunctionClass    uint8
	FunctionSubClass uint8
	FunctionProtocol uint8
	FunctionIndex    uint8
}

// MarshalTo serializes the IAD to buf.
func (i *InterfaceAssociationDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < IADSize {
		return 0
	}
	buf[0] = IADSize
	buf[1] = DescriptorTypeInterfaceAssociation
	buf[2] = i.FirstInterface
	buf[3] = i.InterfaceCount
	buf[4] = i.FunctionClass
	buf[5] = i.FunctionSubClass
	buf[6] = i.FunctionProtocol
	buf[7] = i.FunctionIndex
	return IADSize
}

// ParseIAD parses an interface association descriptor.
func ParseIAD(data []byte, out *InterfaceAssociationDescriptor) error {
	if err := checkDescriptor(data, IADSize, DescriptorTypeInterfaceAssociation); err != nil {
		return err
	}
	out.FirstInterface = data[2]
	out.InterfaceCount = data[3]
	out.FunctionClass = data[4]
	out.FunctionSubClass = data[5]
	out.FunctionProtocol = data[6]
	out.FunctionIndex = data[7]
	return nil
}

// BOSDescriptorTo writes a BOS descriptor followed by the given device
// capability descriptors. Returns 0 if buf is too small.
func BOSDescriptorTo(buf []byte, caps ...[]byte) int {
	total := BOSDescriptorSize
	for _, c := range caps {
		total += len(c)
	}
	if len(buf) < total || total > 0xFFFF {
		return 0
	}
	buf[0] = BOSDescriptorSize
	buf[1] = DescriptorTypeBOS
	binary.LittleEndian.PutUint16(buf[2:4], uint16(total))
	buf[4] = uint8(len(caps))
	off := BOSDescriptorSize
	for _, c := range caps {
		off += copy(buf[off:], c)
	}
	return total
}

// PlatformCapability returns a platform device capability descriptor for
// the given 16-byte UUID, in the wire byte order, followed by data.
func PlatformCapability(uuid [16]byte, data []byte) []byte {
	n := PlatformCapabilityHeaderSize + len(data)
	b := make([]byte, n)
	b[0] = uint8(n)
	b[1] = DescriptorTypeDeviceCapability
	b[2] = DeviceCapabilityTypePlatform
	b[3] = 0
	copy(b[4:20], uuid[:])
	copy(b[20:], data)
	return b
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// StringDescriptorTo writes s as a UTF-16LE string descriptor to buf.
// Strings longer than MaxStringUnits code units are truncated without
// splitting a surrogate pair. Returns 0 if buf is too small.
func StringDescriptorTo(buf []byte, s string) int {
	enc, err := utf16le.NewEncoder().String(s)
	if err != nil {
		return 0
	}
	if len(enc) > 2*MaxStringUnits {
		enc = enc[:2*MaxStringUnits]
		if last := binary.LittleEndian.Uint16([]byte(enc[len(enc)-2:])); last >= 0xD800 && last < 0xDC00 {
			enc = enc[:len(enc)-2]
		}
	}
	n := stringDescriptorHeaderSize + len(enc)
	if len(buf) < n {
		return 0
	}
	buf[0] = uint8(n)
	buf[1] = DescriptorTypeString
	copy(buf[2:], enc)
	return n
}

// StringDescriptor returns s encoded as a string descriptor.
func StringDescriptor(s string) []byte {
	var buf [maxStringDescriptorByteLength]byte
	n := StringDescriptorTo(buf[:], s)
	return append([]byte(nil), buf[:n]...)
}

// ParseStringDescriptor decodes a UTF-16LE string descriptor.
func ParseStringDescriptor(data []byte) (string, error) {
	if err := checkDescriptor(data, stringDescriptorHeaderSize, DescriptorTypeString); err != nil {
		return "", err
	}
	n := int(data[0])
	if n > len(data) {
		return "", pkg.ErrDescriptorTooShort
	}
	return utf16le.NewDecoder().String(string(data[2:n]))
}

// LanguageDescriptorTo writes the language ID table (string index 0).
func LanguageDescriptorTo(buf []byte, langIDs ...uint16) int {
	n := stringDescriptorHeaderSize + len(langIDs)*2
	if len(buf) < n || n > 0xFF {
		return 0
	}
	buf[0] = uint8(n)
	buf[1] = DescriptorTypeString
	for i, id := range langIDs {
		binary.LittleEndian.PutUint16(buf[2+i*2:], id)
	}
	return n
}

// NextDescriptor splits the first descriptor off data. It returns the
// descriptor, the remainder, and false when data does not start with a
// well-formed descriptor.
func NextDescriptor(data []byte) (desc, rest []byte, ok bool) {
	if len(data) < 2 {
		return nil, nil, false
	}
	n := int(data[0])
	if n < 2 || n > len(data) {
		return nil, nil, false
	}
	return data[:n], data[n:], true
}

// DescriptorLength returns bLength of the descriptor starting data.
func DescriptorLength(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	return int(data[0])
}

// DescriptorTypeOf returns bDescriptorType of the descriptor starting data.
func DescriptorTypeOf(data []byte) uint8 {
	if len(data) < 2 {
		return 0
	}
	return data[1]
}

// EndpointMaxPacketSize returns wMaxPacketSize of the descriptor for
// endpoint ep in p, or 0 when p does not describe ep.
func EndpointMaxPacketSize(p []byte, ep uint8) int {
	for len(p) > 0 {
		desc, rest, ok := NextDescriptor(p)
		if !ok {
			return 0
		}
		var ed EndpointDescriptor
		if DescriptorTypeOf(desc) == DescriptorTypeEndpoint &&
			ParseEndpointDescriptor(desc, &ed) == nil && ed.EndpointAddress == ep {
			return int(ed.MaxPacketSize & 0x7FF)
		}
		p = rest
	}
	return 0
}

func checkDescriptor(data []byte, size int, typ uint8) error {
	if len(data) < size {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != typ {
		return pkg.ErrDescriptorTypeMismatch
	}
	return nil
}
