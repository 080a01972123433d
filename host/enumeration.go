package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardnew/usbcore/device"
	"github.com/ardnew/usbcore/pkg"
)

// Enumeration errors.
var (
	ErrEnumerationFailed = errors.New("enumeration failed")
	ErrNotAttached       = errors.New("no device attached")
)

// Enumerate resets the bus and walks the device through the standard
// sequence: a short device descriptor read at address 0, SET_ADDRESS, the
// full device and configuration descriptors, the strings, and
// SET_CONFIGURATION of the first configuration.
func (h *Host) Enumerate(ctx context.Context) (*Device, error) {
	if !h.bus.Attached() {
		return nil, ErrNotAttached
	}
	h.mutex.Lock()
	old := h.dev
	h.dev = nil
	h.mutex.Unlock()
	if old != nil {
		old.Close()
	}

	h.Reset()
	pkg.LogDebug(pkg.ComponentHost, "starting enumeration", "speed", h.speed.String())

	dev := newDevice(h, h.speed)
	buf := make([]byte, MaxDescriptorSize)

	n, err := dev.GetDescriptor(ctx, device.DescriptorTypeDevice, 0, 0, buf[:FirstReadSize])
	if err != nil {
		return nil, fmt.Errorf("first device descriptor read: %w", err)
	}
	if n < FirstReadSize {
		return nil, fmt.Errorf("first device descriptor read of %d bytes: %w", n, ErrEnumerationFailed)
	}
	switch mps0 := buf[7]; mps0 {
	case 8, 16, 32, 64:
		dev.mps0 = int(mps0)
	default:
		return nil, fmt.Errorf("bMaxPacketSize0 %d: %w", mps0, ErrEnumerationFailed)
	}
	pkg.LogDebug(pkg.ComponentHost, "got max packet size", "size", dev.mps0)

	address := h.allocateAddress()
	if _, err := dev.ControlTransfer(ctx, device.SetAddressRequest(address), nil); err != nil {
		return nil, fmt.Errorf("set address %d: %w", address, err)
	}
	dev.address = address
	dev.setState(DeviceStateAddress)
	pkg.LogDebug(pkg.ComponentHost, "assigned address", "address", address)

	n, err = dev.GetDescriptor(ctx, device.DescriptorTypeDevice, 0, 0, buf[:device.DeviceDescriptorSize])
	if err != nil {
		return nil, fmt.Errorf("device descriptor: %w", err)
	}
	if err := device.ParseDeviceDescriptor(buf[:n], &dev.descriptor); err != nil {
		return nil, fmt.Errorf("device descriptor: %w", err)
	}
	pkg.LogDebug(pkg.ComponentHost, "device descriptor",
		"vendorID", dev.descriptor.VendorID,
		"productID", dev.descriptor.ProductID,
		"class", dev.descriptor.DeviceClass)

	if err := h.readConfiguration(ctx, dev, buf); err != nil {
		return nil, err
	}
	pkg.LogDebug(pkg.ComponentHost, "configuration descriptor",
		"numInterfaces", dev.config.NumInterfaces,
		"configValue", dev.config.ConfigurationValue,
		"totalLength", dev.config.TotalLength)

	// Strings are optional.
	if err := h.readStringDescriptors(ctx, dev); err != nil {
		pkg.LogDebug(pkg.ComponentHost, "string descriptor read failed", "error", err)
	}

	if v := dev.config.ConfigurationValue; v > 0 {
		if err := dev.SetConfiguration(ctx, v); err != nil {
			return nil, fmt.Errorf("set configuration %d: %w", v, err)
		}
	}

	h.mutex.Lock()
	h.dev = dev
	cb := h.onDeviceConnect
	h.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentHost, "device enumerated",
		"address", dev.address,
		"vendor", fmt.Sprintf("%04x", dev.descriptor.VendorID),
		"product", fmt.Sprintf("%04x", dev.descriptor.ProductID))

	if cb != nil {
		cb(dev)
	}
	return dev, nil
}

// readConfiguration reads the header of configuration 0, then the whole
// descriptor set.
func (h *Host) readConfiguration(ctx context.Context, dev *Device, buf []byte) error {
	n, err := dev.GetDescriptor(ctx, device.DescriptorTypeConfiguration, 0, 0, buf[:device.ConfigurationDescriptorSize])
	if err != nil {
		return fmt.Errorf("configuration header: %w", err)
	}
	if n < device.ConfigurationDescriptorSize {
		return fmt.Errorf("configuration header of %d bytes: %w", n, ErrEnumerationFailed)
	}

	total := device.ConfigurationTotalLength(buf[:n])
	if total > len(buf) {
		return fmt.Errorf("wTotalLength %d: %w", total, pkg.ErrBufferTooSmall)
	}
	n, err = dev.GetDescriptor(ctx, device.DescriptorTypeConfiguration, 0, 0, buf[:total])
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	return dev.parseConfigurationTree(buf[:n])
}

// readStringDescriptors reads the language table and the manufacturer,
// product and serial strings in the first language.
func (h *Host) readStringDescriptors(ctx context.Context, dev *Device) error {
	idx := []uint8{
		dev.descriptor.ManufacturerIndex,
		dev.descriptor.ProductIndex,
		dev.descriptor.SerialNumberIndex,
	}
	if idx[0] == 0 && idx[1] == 0 && idx[2] == 0 {
		return nil
	}

	var buf [MaxStringSize]byte
	n, err := dev.GetDescriptor(ctx, device.DescriptorTypeString, 0, 0, buf[:])
	if err != nil {
		return fmt.Errorf("language table: %w", err)
	}
	for i := 2; i+1 < n; i += 2 {
		dev.langIDs = append(dev.langIDs, uint16(buf[i])|uint16(buf[i+1])<<8)
	}
	lang := uint16(device.LangIDUSEnglish)
	if len(dev.langIDs) > 0 {
		lang = dev.langIDs[0]
	}

	for _, i := range idx {
		if i == 0 {
			continue
		}
		s, err := dev.GetStringDescriptor(ctx, i, lang)
		if err != nil {
			return fmt.Errorf("string %d: %w", i, err)
		}
		dev.strings[i] = s
		pkg.LogDebug(pkg.ComponentHost, "string", "index", i, "value", s)
	}
	return nil
}
