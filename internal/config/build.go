package config

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ardnew/usbcore/device"
	"github.com/ardnew/usbcore/device/class/cdc"
	"github.com/ardnew/usbcore/device/class/hid"
	"github.com/ardnew/usbcore/device/class/vendor"
	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// Device is a built profile: its descriptors and one class driver per
// function, in profile order.
type Device struct {
	Profile     *Profile
	Descriptors *device.DescriptorSet

	ACM    []*cdc.ACM
	HID    []*hid.HID
	Vendor []*vendor.Vendor

	// Responder serves WebUSB and MS OS 2.0 requests. It is nil when the
	// profile enables neither.
	Responder *vendor.Responder

	classes       []device.ClassDriver
	vendorControl device.ControlFunc
}

// Build validates the profile and builds its descriptors and drivers.
func (p *Profile) Build() (*Device, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	d := &Device{Profile: p}

	attrs := uint8(0)
	if p.SelfPowered {
		attrs |= device.ConfigAttrSelfPowered
	}
	if p.RemoteWakeup {
		attrs |= device.ConfigAttrRemoteWakeup
	}
	b := device.NewBuilder().
		WithVendorProduct(p.VendorID, p.ProductID).
		WithDeviceVersion(p.DeviceVersion).
		WithUSBVersion(p.USBVersion).
		WithMaxPacketSize0(p.EP0Size).
		WithStrings(p.Manufacturer, p.Product, p.Serial)
	if p.Composite() {
		b.WithClass(device.ClassMisc, 0x02, 0x01)
	}
	b.AddConfiguration(1, attrs, p.MaxPowerMA)

	msFunc := vendor.MSOS20Function{}
	msBound := false
	for i := range p.Functions {
		f := &p.Functions[i]
		itf := b.NextInterface()
		str := b.String(f.String)
		switch f.Class {
		case ClassCDC:
			b.AddFunction(cdc.Function{
				Interface:  itf,
				String:     str,
				NotifyEP:   f.NotifyEP,
				NotifySize: DefaultNotifySize,
				DataOutEP:  f.OutEP,
				DataInEP:   f.InEP,
				BulkSize:   f.PacketSize,
			}.Descriptors())
			acm := cdc.NewACM(cdc.Config{RxBufferSize: f.RxBuffer, TxBufferSize: f.TxBuffer})
			d.ACM = append(d.ACM, acm)
			d.classes = append(d.classes, acm)

		case ClassHID:
			fn := hid.Function{
				Interface:  itf,
				String:     str,
				InEP:       f.InEP,
				OutEP:      f.OutEP,
				PacketSize: f.PacketSize,
				Interval:   f.Interval,
			}
			report := hid.KeyboardReportDescriptor
			fn.SubClass, fn.Protocol = hid.SubclassBoot, hid.ProtocolKeyboard
			if f.Report == ReportMouse {
				report = hid.MouseReportDescriptor
				fn.Protocol = hid.ProtocolMouse
			}
			fn.ReportLength = uint16(len(report))
			b.AddFunction(fn.Descriptors())
			h := hid.New(report)
			d.HID = append(d.HID, h)
			d.classes = append(d.classes, h)

		case ClassVendor:
			b.AddFunction(vendor.Function{
				Interface:  itf,
				String:     str,
				OutEP:      f.OutEP,
				InEP:       f.InEP,
				PacketSize: f.PacketSize,
			}.Descriptors())
			v := vendor.New(vendor.Config{RxBufferSize: f.RxBuffer, TxBufferSize: f.TxBuffer})
			d.Vendor = append(d.Vendor, v)
			d.classes = append(d.classes, v)
			if !msBound {
				msFunc.Interface, msBound = itf, true
			}
		}
	}

	if p.WebUSB != nil || p.MSOS20 != nil {
		rc := vendor.ResponderConfig{Next: d.nextVendorControl}
		if p.WebUSB != nil {
			rc.WebUSBCode, rc.URL = p.WebUSB.VendorCode, p.WebUSB.URL
		}
		if p.MSOS20 != nil {
			msFunc.CompatibleID = p.MSOS20.CompatibleID
			if p.MSOS20.InterfaceGUID != "" {
				msFunc.InterfaceGUID = uuid.MustParse(p.MSOS20.InterfaceGUID)
			}
			set, err := vendor.MSOS20Descriptor(p.Composite(), msFunc)
			if err != nil {
				return nil, fmt.Errorf("config: %w", err)
			}
			rc.MSOS20Code, rc.MSOS20 = p.MSOS20.VendorCode, set
		}
		r, err := vendor.NewResponder(rc)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		for _, c := range r.Capabilities() {
			b.WithCapability(c)
		}
		d.Responder = r
	}

	set, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	d.Descriptors = set

	pkg.LogDebug(pkg.ComponentConfig, "profile built",
		"cdc", len(d.ACM),
		"hid", len(d.HID),
		"vendor", len(d.Vendor),
		"bos", d.Responder != nil)
	return d, nil
}

// Classes returns the class drivers in profile order.
func (d *Device) Classes() []device.ClassDriver {
	return append([]device.ClassDriver(nil), d.classes...)
}

func (d *Device) nextVendorControl(port uint8, stage device.Stage, req *device.SetupPacket) bool {
	if d.vendorControl == nil {
		return false
	}
	return d.vendorControl(port, stage, req)
}

// NewStack creates a stack serving the device on ctrl. A VendorControl
// callback in cb receives the vendor requests the Responder does not own.
func (d *Device) NewStack(ctrl dcd.Controller, cb device.Callbacks) (*device.Stack, error) {
	if d.Responder != nil {
		d.vendorControl = cb.VendorControl
		cb.VendorControl = d.Responder.Control
	}
	s, err := device.NewStack(device.Config{
		Controller:  ctrl,
		Descriptors: d.Descriptors,
		Classes:     d.classes,
		Callbacks:   cb,
		QueueSize:   d.Profile.QueueSize,
	})
	if err != nil {
		return nil, err
	}
	if d.Responder != nil {
		d.Responder.Attach(s)
	}
	return s, nil
}
