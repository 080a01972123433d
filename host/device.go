package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/usbcore/device"
	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// Device is the host's view of an enumerated device.
type Device struct {
	host    *Host
	address uint8
	speed   dcd.Speed
	mps0    int

	descriptor device.DeviceDescriptor
	config     device.ConfigurationDescriptor
	rawConfig  []byte
	interfaces []device.InterfaceDescriptor
	endpoints  []device.EndpointDescriptor

	// Class-specific descriptors following each interface, by interface
	// number.
	classDescriptors map[uint8][][]byte

	langIDs []uint16
	strings map[uint8]string

	mutex              sync.RWMutex
	state              DeviceState
	configurationValue uint8
	suspendedFrom      DeviceState
}

func newDevice(host *Host, speed dcd.Speed) *Device {
	return &Device{
		host:             host,
		speed:            speed,
		mps0:             FirstReadSize,
		state:            DeviceStateDefault,
		classDescriptors: map[uint8][][]byte{},
		strings:          map[uint8]string{},
	}
}

// Address returns the device address.
func (d *Device) Address() uint8 { return d.address }

// Speed returns the bus speed the device was enumerated at.
func (d *Device) Speed() dcd.Speed { return d.speed }

// MaxPacketSize0 returns the EP0 packet size learned during enumeration.
func (d *Device) MaxPacketSize0() int { return d.mps0 }

// VendorID returns idVendor.
func (d *Device) VendorID() uint16 { return d.descriptor.VendorID }

// ProductID returns idProduct.
func (d *Device) ProductID() uint16 { return d.descriptor.ProductID }

// DeviceClass returns bDeviceClass.
func (d *Device) DeviceClass() uint8 { return d.descriptor.DeviceClass }

// Descriptor returns the device descriptor.
func (d *Device) Descriptor() device.DeviceDescriptor { return d.descriptor }

// Configuration returns the configuration descriptor header.
func (d *Device) Configuration() device.ConfigurationDescriptor { return d.config }

// RawConfiguration returns the configuration descriptor as read.
func (d *Device) RawConfiguration() []byte { return d.rawConfig }

// Interfaces returns every interface descriptor of the configuration,
// alternate settings included.
func (d *Device) Interfaces() []device.InterfaceDescriptor { return d.interfaces }

// Endpoints returns the endpoint descriptors of the configuration.
func (d *Device) Endpoints() []device.EndpointDescriptor { return d.endpoints }

// ClassDescriptors returns the class-specific descriptors of interface
// num.
func (d *Device) ClassDescriptors(num uint8) [][]byte { return d.classDescriptors[num] }

// Languages returns the language IDs of string descriptor 0.
func (d *Device) Languages() []uint16 { return d.langIDs }

// GetInterface returns alternate setting 0 of interface num.
func (d *Device) GetInterface(num uint8) *device.InterfaceDescriptor {
	for i := range d.interfaces {
		if d.interfaces[i].InterfaceNumber == num && d.interfaces[i].AlternateSetting == 0 {
			return &d.interfaces[i]
		}
	}
	return nil
}

// GetEndpoint returns the endpoint descriptor for the given address.
func (d *Device) GetEndpoint(address uint8) *device.EndpointDescriptor {
	for i := range d.endpoints {
		if d.endpoints[i].EndpointAddress == address {
			return &d.endpoints[i]
		}
	}
	return nil
}

// GetString returns a string read during enumeration.
func (d *Device) GetString(index uint8) string { return d.strings[index] }

// Manufacturer returns the manufacturer string.
func (d *Device) Manufacturer() string { return d.GetString(d.descriptor.ManufacturerIndex) }

// Product returns the product string.
func (d *Device) Product() string { return d.GetString(d.descriptor.ProductIndex) }

// SerialNumber returns the serial number string.
func (d *Device) SerialNumber() string { return d.GetString(d.descriptor.SerialNumberIndex) }

// State returns the current device state.
func (d *Device) State() DeviceState {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state
}

func (d *Device) setState(s DeviceState) {
	d.mutex.Lock()
	d.state = s
	d.mutex.Unlock()
}

func (d *Device) setConfigurationValue(v uint8) {
	d.mutex.Lock()
	d.configurationValue = v
	d.mutex.Unlock()
}

func (d *Device) suspend() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.state != DeviceStateSuspended && d.state != DeviceStateDetached {
		d.suspendedFrom = d.state
		d.state = DeviceStateSuspended
	}
}

func (d *Device) resume() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.state == DeviceStateSuspended {
		d.state = d.suspendedFrom
	}
}

// ConfigurationValue returns the configuration selected by the host.
func (d *Device) ConfigurationValue() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.configurationValue
}

// SetConfiguration selects configuration value; zero deconfigures.
func (d *Device) SetConfiguration(ctx context.Context, value uint8) error {
	if _, err := d.ControlTransfer(ctx, device.SetConfigurationRequest(value), nil); err != nil {
		return err
	}

	d.mutex.Lock()
	d.configurationValue = value
	if value > 0 {
		d.state = DeviceStateConfigured
	} else {
		d.state = DeviceStateAddress
	}
	d.mutex.Unlock()
	return nil
}

// GetConfiguration asks the device for its current configuration.
func (d *Device) GetConfiguration(ctx context.Context) (uint8, error) {
	var buf [1]byte
	if _, err := d.ControlTransfer(ctx, device.GetConfigurationRequest(), buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ControlTransfer runs req on endpoint 0. data must hold wLength bytes; it
// returns the number of bytes moved in the data stage.
func (d *Device) ControlTransfer(ctx context.Context, req device.SetupPacket, data []byte) (int, error) {
	if d.State() == DeviceStateDetached {
		return 0, pkg.ErrNoResponse
	}
	return d.host.control(ctx, d.address, d.mps0, req, data)
}

// GetDescriptor reads up to len(data) bytes of a descriptor.
func (d *Device) GetDescriptor(ctx context.Context, descType, index uint8, langID uint16, data []byte) (int, error) {
	return d.ControlTransfer(ctx, device.GetDescriptorRequest(descType, index, langID, uint16(len(data))), data)
}

// GetStringDescriptor reads and decodes string index in language langID.
func (d *Device) GetStringDescriptor(ctx context.Context, index uint8, langID uint16) (string, error) {
	var buf [MaxStringSize]byte
	n, err := d.GetDescriptor(ctx, device.DescriptorTypeString, index, langID, buf[:])
	if err != nil {
		return "", err
	}
	return device.ParseStringDescriptor(buf[:n])
}

// GetStatus performs a GET_STATUS request.
func (d *Device) GetStatus(ctx context.Context, recipient uint8, index uint16) (uint16, error) {
	var buf [2]byte
	n, err := d.ControlTransfer(ctx, device.GetStatusRequest(recipient, index), buf[:])
	if err != nil {
		return 0, err
	}
	if n != 2 {
		return 0, fmt.Errorf("status of %d bytes: %w", n, pkg.ErrProtocol)
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

// SetFeature performs a SET_FEATURE request.
func (d *Device) SetFeature(ctx context.Context, recipient uint8, feature, index uint16) error {
	_, err := d.ControlTransfer(ctx, device.FeatureRequest(true, recipient, feature, index), nil)
	return err
}

// ClearFeature performs a CLEAR_FEATURE request.
func (d *Device) ClearFeature(ctx context.Context, recipient uint8, feature, index uint16) error {
	_, err := d.ControlTransfer(ctx, device.FeatureRequest(false, recipient, feature, index), nil)
	return err
}

// ClearEndpointHalt clears the halt condition on an endpoint.
func (d *Device) ClearEndpointHalt(ctx context.Context, endpoint uint8) error {
	return d.ClearFeature(ctx, device.RequestRecipientEndpoint, device.FeatureEndpointHalt, uint16(endpoint))
}

// SetInterface selects alternate setting alt of interface itf.
func (d *Device) SetInterface(ctx context.Context, itf, alt uint8) error {
	_, err := d.ControlTransfer(ctx, device.SetInterfaceRequest(itf, alt), nil)
	return err
}

// Read reads from IN endpoint ep until a short packet or buf is full.
func (d *Device) Read(ctx context.Context, ep uint8, buf []byte) (int, error) {
	mps, err := d.packetSize(ep | dcd.DirIn)
	if err != nil {
		return 0, err
	}
	return d.host.read(ctx, d.address, ep|dcd.DirIn, mps, buf)
}

// Write sends data to OUT endpoint ep.
func (d *Device) Write(ctx context.Context, ep uint8, data []byte) (int, error) {
	mps, err := d.packetSize(ep &^ dcd.DirIn)
	if err != nil {
		return 0, err
	}
	return d.host.write(ctx, d.address, ep&^dcd.DirIn, mps, data)
}

func (d *Device) packetSize(ep uint8) (int, error) {
	if d.State() != DeviceStateConfigured {
		return 0, pkg.ErrNotConfigured
	}
	e := d.GetEndpoint(ep)
	if e == nil {
		return 0, fmt.Errorf("endpoint 0x%02X: %w", ep, pkg.ErrInvalidEndpoint)
	}
	return int(e.MaxPacketSize), nil
}

// Close marks the device detached. Later transfers fail.
func (d *Device) Close() error {
	d.setState(DeviceStateDetached)
	return nil
}

// parseConfigurationTree records the descriptors of a configuration.
func (d *Device) parseConfigurationTree(data []byte) error {
	if err := device.ParseConfigurationDescriptor(data, &d.config); err != nil {
		return err
	}
	total := int(d.config.TotalLength)
	if total > len(data) {
		return fmt.Errorf("wTotalLength %d, read %d: %w", total, len(data), pkg.ErrDescriptorTooShort)
	}
	d.rawConfig = append([]byte(nil), data[:total]...)

	d.interfaces = d.interfaces[:0]
	d.endpoints = d.endpoints[:0]
	d.classDescriptors = map[uint8][][]byte{}

	current := -1
	for p := d.rawConfig[device.ConfigurationDescriptorSize:]; len(p) > 0; {
		desc, rest, ok := device.NextDescriptor(p)
		if !ok {
			return fmt.Errorf("configuration at offset %d: %w", total-len(p), pkg.ErrDescriptorTooShort)
		}
		switch device.DescriptorTypeOf(desc) {
		case device.DescriptorTypeInterface:
			var itf device.InterfaceDescriptor
			if err := device.ParseInterfaceDescriptor(desc, &itf); err != nil {
				return err
			}
			d.interfaces = append(d.interfaces, itf)
			current = int(itf.InterfaceNumber)

		case device.DescriptorTypeEndpoint:
			var ep device.EndpointDescriptor
			if err := device.ParseEndpointDescriptor(desc, &ep); err != nil {
				return err
			}
			if d.GetEndpoint(ep.EndpointAddress) == nil {
				d.endpoints = append(d.endpoints, ep)
			}

		case device.DescriptorTypeInterfaceAssociation:

		default:
			if current >= 0 {
				num := uint8(current)
				d.classDescriptors[num] = append(d.classDescriptors[num], desc)
			}
		}
		p = rest
	}
	return nil
}
