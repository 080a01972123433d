package device

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// Descriptors supplies the descriptors returned to GET_DESCRIPTOR. A nil
// result makes the stack stall the request.
type Descriptors interface {
	// Device returns the 18-byte device descriptor.
	Device() []byte

	// Configuration returns the full configuration descriptor for a
	// zero-based index, including every sub-descriptor.
	Configuration(index uint8) []byte

	// String returns string descriptor index in language langID. Index 0
	// is the language table.
	String(index uint8, langID uint16) []byte
}

// QualifierDescriptors is implemented by descriptor sources of devices that
// can operate at another speed.
type QualifierDescriptors interface {
	Qualifier() []byte
	OtherSpeedConfiguration(index uint8) []byte
}

// BOSDescriptors is implemented by descriptor sources that carry a BOS
// descriptor (bcdUSB 2.01 and later).
type BOSDescriptors interface {
	BOS() []byte
}

// DescriptorSet is an immutable set of pre-serialized descriptors. It
// implements Descriptors, QualifierDescriptors and BOSDescriptors.
type DescriptorSet struct {
	device     []byte
	qualifier  []byte
	configs    [][]byte
	otherSpeed [][]byte
	bos        []byte
	strings    [][]byte // strings[0] is the language table
}

// Device implements Descriptors.
func (d *DescriptorSet) Device() []byte { return d.device }

// Configuration implements Descriptors.
func (d *DescriptorSet) Configuration(index uint8) []byte {
	if int(index) >= len(d.configs) {
		return nil
	}
	return d.configs[index]
}

// String implements Descriptors. The same strings are served for every
// language.
func (d *DescriptorSet) String(index uint8, _ uint16) []byte {
	if int(index) >= len(d.strings) {
		return nil
	}
	return d.strings[index]
}

// Qualifier implements QualifierDescriptors.
func (d *DescriptorSet) Qualifier() []byte { return d.qualifier }

// OtherSpeedConfiguration implements QualifierDescriptors.
func (d *DescriptorSet) OtherSpeedConfiguration(index uint8) []byte {
	if int(index) >= len(d.otherSpeed) {
		return nil
	}
	return d.otherSpeed[index]
}

// BOS implements BOSDescriptors.
func (d *DescriptorSet) BOS() []byte { return d.bos }

// NumConfigurations returns the number of configurations in the set.
func (d *DescriptorSet) NumConfigurations() int { return len(d.configs) }

// NumStrings returns the number of string descriptors including the
// language table.
func (d *DescriptorSet) NumStrings() int { return len(d.strings) }

// configBuilder accumulates one configuration.
type configBuilder struct {
	header  ConfigurationDescriptor
	body    []byte
	itfs    [MaxInterfaces]bool
	numItf  uint8
	lastItf int // offset of the last interface descriptor in body, -1 if none
}

// Builder provides a fluent API for building a DescriptorSet. Errors are
// collected and reported by Build.
type Builder struct {
	device    DeviceDescriptor
	langs     []uint16
	strings   []string
	configs   []*configBuilder
	cfg       *configBuilder
	caps      [][]byte
	qualifier bool
	errors    []error
}

// NewBuilder returns a builder for a USB 2.0 device with a 64-byte
// endpoint 0 and US English strings.
func NewBuilder() *Builder {
	return &Builder{
		device: DeviceDescriptor{
			USBVersion:     0x0200,
			MaxPacketSize0: MaxEP0Size,
			DeviceVersion:  0x0100,
		},
		langs:   []uint16{LangIDUSEnglish},
		strings: []string{""},
	}
}

func (b *Builder) fail(err error) *Builder {
	b.errors = append(b.errors, err)
	return b
}

// WithVendorProduct sets vendor and product IDs.
func (b *Builder) WithVendorProduct(vendorID, productID uint16) *Builder {
	b.device.VendorID = vendorID
	b.device.ProductID = productID
	return b
}

// WithDeviceVersion sets bcdDevice.
func (b *Builder) WithDeviceVersion(bcd uint16) *Builder {
	b.device.DeviceVersion = bcd
	return b
}

// WithUSBVersion sets bcdUSB.
func (b *Builder) WithUSBVersion(bcd uint16) *Builder {
	b.device.USBVersion = bcd
	return b
}

// WithClass sets the device class triple. Composite devices using IADs
// use ClassMisc, 0x02, 0x01.
func (b *Builder) WithClass(class, subClass, protocol uint8) *Builder {
	b.device.DeviceClass = class
	b.device.DeviceSubClass = subClass
	b.device.DeviceProtocol = protocol
	return b
}

// WithMaxPacketSize0 sets bMaxPacketSize0 (8, 16, 32 or 64).
func (b *Builder) WithMaxPacketSize0(size uint8) *Builder {
	switch size {
	case 8, 16, 32, 64:
		b.device.MaxPacketSize0 = size
		return b
	}
	return b.fail(fmt.Errorf("bMaxPacketSize0 %d: %w", size, pkg.ErrInvalidParameter))
}

// WithLanguages replaces the language table.
func (b *Builder) WithLanguages(langIDs ...uint16) *Builder {
	if len(langIDs) == 0 {
		return b.fail(fmt.Errorf("empty language table: %w", pkg.ErrInvalidParameter))
	}
	b.langs = append([]uint16(nil), langIDs...)
	return b
}

// WithStrings sets the manufacturer, product, and serial strings. Empty
// strings leave the index at zero.
func (b *Builder) WithStrings(manufacturer, product, serial string) *Builder {
	b.device.ManufacturerIndex = b.String(manufacturer)
	b.device.ProductIndex = b.String(product)
	b.device.SerialNumberIndex = b.String(serial)
	return b
}

// WithQualifier makes the set answer device qualifier and other-speed
// configuration requests.
func (b *Builder) WithQualifier() *Builder {
	b.qualifier = true
	return b
}

// WithCapability appends a device capability to the BOS descriptor.
func (b *Builder) WithCapability(capability []byte) *Builder {
	if _, rest, ok := NextDescriptor(capability); !ok || len(rest) != 0 ||
		DescriptorTypeOf(capability) != DescriptorTypeDeviceCapability {
		return b.fail(fmt.Errorf("device capability: %w", pkg.ErrDescriptorTypeMismatch))
	}
	b.caps = append(b.caps, capability)
	return b
}

// String registers s and returns its descriptor index. Empty strings map
// to index 0, and a string registered twice keeps its first index.
func (b *Builder) String(s string) uint8 {
	if s == "" {
		return 0
	}
	for i := 1; i < len(b.strings); i++ {
		if b.strings[i] == s {
			return uint8(i)
		}
	}
	if len(b.strings) > 0xFF {
		b.fail(fmt.Errorf("string %q: %w", s, pkg.ErrNoResources))
		return 0
	}
	b.strings = append(b.strings, s)
	return uint8(len(b.strings) - 1)
}

// AddConfiguration starts a new configuration. maxPowerMA is rounded down
// to 2 mA units.
func (b *Builder) AddConfiguration(value, attributes uint8, maxPowerMA uint16) *Builder {
	if value == 0 {
		return b.fail(fmt.Errorf("configuration value 0: %w", pkg.ErrInvalidParameter))
	}
	if maxPowerMA > 500 {
		maxPowerMA = 500
	}
	b.cfg = &configBuilder{
		header: ConfigurationDescriptor{
			ConfigurationValue: value,
			Attributes:         attributes | ConfigAttrBusPowered,
			MaxPower:           uint8(maxPowerMA / 2),
		},
		lastItf: -1,
	}
	b.configs = append(b.configs, b.cfg)
	return b
}

// NextInterface returns the interface number the next AddInterface call
// in the current configuration will use.
func (b *Builder) NextInterface() uint8 {
	if b.cfg == nil {
		return 0
	}
	return b.cfg.numItf
}

// AddAssociation adds an interface association descriptor covering count
// interfaces starting at the next interface number.
func (b *Builder) AddAssociation(count, class, subClass, protocol, strIdx uint8) *Builder {
	if b.cfg == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	iad := InterfaceAssociationDescriptor{
		FirstInterface:   b.cfg.numItf,
		InterfaceCount:   count,
		FunctionClass:    class,
		FunctionSubClass: subClass,
		FunctionProtocol: protocol,
		FunctionIndex:    strIdx,
	}
	var buf [IADSize]byte
	iad.MarshalTo(buf[:])
	b.cfg.body = append(b.cfg.body, buf[:]...)
	return b
}

// AddInterface adds alternate setting 0 of a new interface to the current
// configuration.
func (b *Builder) AddInterface(class, subClass, protocol, strIdx uint8) *Builder {
	if b.cfg == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	return b.addInterface(b.cfg.numItf, 0, class, subClass, protocol, strIdx)
}

// AddAlternateSetting adds another alternate setting of the most recently
// added interface.
func (b *Builder) AddAlternateSetting(alt, class, subClass, protocol, strIdx uint8) *Builder {
	if b.cfg == nil || b.cfg.numItf == 0 || alt == 0 {
		return b.fail(pkg.ErrInvalidState)
	}
	return b.addInterface(b.cfg.numItf-1, alt, class, subClass, protocol, strIdx)
}

func (b *Builder) addInterface(num, alt, class, subClass, protocol, strIdx uint8) *Builder {
	desc := InterfaceDescriptor{
		InterfaceNumber:   num,
		AlternateSetting:  alt,
		InterfaceClass:    class,
		InterfaceSubClass: subClass,
		InterfaceProtocol: protocol,
		InterfaceIndex:    strIdx,
	}
	var buf [InterfaceDescriptorSize]byte
	desc.MarshalTo(buf[:])
	b.cfg.lastItf = len(b.cfg.body)
	b.cfg.body = append(b.cfg.body, buf[:]...)
	if alt == 0 {
		return b.claimInterface(num)
	}
	return b
}

func (b *Builder) claimInterface(num uint8) *Builder {
	if int(num) >= MaxInterfaces {
		return b.fail(fmt.Errorf("interface %d: %w", num, pkg.ErrNoResources))
	}
	if b.cfg.itfs[num] {
		return b.fail(fmt.Errorf("interface %d declared twice: %w", num, pkg.ErrInvalidParameter))
	}
	b.cfg.itfs[num] = true
	if num >= b.cfg.numItf {
		b.cfg.numItf = num + 1
	}
	return b
}

// AddEndpoint adds an endpoint to the most recently added interface.
func (b *Builder) AddEndpoint(address uint8, typ dcd.TransferType, maxPacketSize uint16, interval uint8) *Builder {
	if b.cfg == nil || b.cfg.lastItf < 0 {
		return b.fail(pkg.ErrInvalidState)
	}
	if typ == dcd.TransferControl || dcd.EdptNumber(address) == 0 {
		return b.fail(fmt.Errorf("endpoint 0x%02X: %w", address, pkg.ErrInvalidEndpoint))
	}
	desc := EndpointDescriptor{
		EndpointAddress: address,
		Attributes:      uint8(typ),
		MaxPacketSize:   maxPacketSize,
		Interval:        interval,
	}
	var buf [EndpointDescriptorSize]byte
	desc.MarshalTo(buf[:])
	b.cfg.body = append(b.cfg.body, buf[:]...)
	b.cfg.body[b.cfg.lastItf+4]++
	return b
}

// AddClassDescriptor appends a class-specific descriptor after the most
// recently added interface or endpoint.
func (b *Builder) AddClassDescriptor(desc []byte) *Builder {
	if b.cfg == nil || b.cfg.lastItf < 0 {
		return b.fail(pkg.ErrInvalidState)
	}
	if _, rest, ok := NextDescriptor(desc); !ok || len(rest) != 0 {
		return b.fail(fmt.Errorf("class descriptor: %w", pkg.ErrDescriptorTooShort))
	}
	b.cfg.body = append(b.cfg.body, desc...)
	return b
}

// AddFunction appends a block of pre-built descriptors, such as the output
// of a class package's descriptor helper. Interface numbers in the block
// are claimed in the current configuration.
func (b *Builder) AddFunction(block []byte) *Builder {
	if b.cfg == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	base := len(b.cfg.body)
	for rest := block; len(rest) > 0; {
		desc, next, ok := NextDescriptor(rest)
		if !ok {
			return b.fail(fmt.Errorf("function block: %w", pkg.ErrDescriptorTooShort))
		}
		if DescriptorTypeOf(desc) == DescriptorTypeInterface {
			if len(desc) < InterfaceDescriptorSize {
				return b.fail(fmt.Errorf("function block: %w", pkg.ErrDescriptorTooShort))
			}
			b.cfg.lastItf = base + len(block) - len(rest)
			if desc[3] == 0 {
				b.claimInterface(desc[2])
			}
		}
		rest = next
	}
	b.cfg.body = append(b.cfg.body, block...)
	return b
}

// Build serializes the collected descriptors.
func (b *Builder) Build() (*DescriptorSet, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	if len(b.configs) == 0 {
		return nil, fmt.Errorf("no configuration: %w", pkg.ErrInvalidState)
	}

	set := &DescriptorSet{}

	dev := b.device
	dev.NumConfigurations = uint8(len(b.configs))
	set.device = make([]byte, DeviceDescriptorSize)
	dev.MarshalTo(set.device)

	for _, cfg := range b.configs {
		total := ConfigurationDescriptorSize + len(cfg.body)
		if total > 0xFFFF {
			return nil, fmt.Errorf("configuration %d is %d bytes: %w",
				cfg.header.ConfigurationValue, total, pkg.ErrInvalidParameter)
		}
		hdr := cfg.header
		hdr.TotalLength = uint16(total)
		hdr.NumInterfaces = cfg.numItf
		buf := make([]byte, total)
		hdr.MarshalTo(buf)
		copy(buf[ConfigurationDescriptorSize:], cfg.body)
		set.configs = append(set.configs, buf)
	}

	if b.qualifier {
		q := QualifierDescriptor{
			USBVersion:        dev.USBVersion,
			DeviceClass:       dev.DeviceClass,
			DeviceSubClass:    dev.DeviceSubClass,
			DeviceProtocol:    dev.DeviceProtocol,
			MaxPacketSize0:    dev.MaxPacketSize0,
			NumConfigurations: dev.NumConfigurations,
		}
		set.qualifier = make([]byte, QualifierDescriptorSize)
		q.MarshalTo(set.qualifier)
		for _, cfg := range set.configs {
			other := append([]byte(nil), cfg...)
			other[1] = DescriptorTypeOtherSpeedConfig
			set.otherSpeed = append(set.otherSpeed, other)
		}
	}

	if len(b.caps) > 0 {
		n := BOSDescriptorSize
		for _, c := range b.caps {
			n += len(c)
		}
		set.bos = make([]byte, n)
		if BOSDescriptorTo(set.bos, b.caps...) == 0 {
			return nil, fmt.Errorf("BOS descriptor: %w", pkg.ErrInvalidParameter)
		}
	}

	langs := make([]byte, stringDescriptorHeaderSize+2*len(b.langs))
	if LanguageDescriptorTo(langs, b.langs...) == 0 {
		return nil, fmt.Errorf("language table: %w", pkg.ErrInvalidParameter)
	}
	set.strings = append(set.strings, langs)
	for _, s := range b.strings[1:] {
		set.strings = append(set.strings, StringDescriptor(s))
	}

	pkg.LogDebug(pkg.ComponentDevice, "descriptor set built",
		"vid", fmt.Sprintf("%04x", dev.VendorID),
		"pid", fmt.Sprintf("%04x", dev.ProductID),
		"configurations", len(set.configs),
		"strings", len(set.strings))

	return set, nil
}

// ConfigurationTotalLength reads wTotalLength from a configuration
// descriptor, or returns 0 if cfg is too short.
func ConfigurationTotalLength(cfg []byte) int {
	if len(cfg) < ConfigurationDescriptorSize {
		return 0
	}
	return int(binary.LittleEndian.Uint16(cfg[2:4]))
}
