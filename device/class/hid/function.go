package hid

import (
	"github.com/ardnew/usbcore/device"
	"github.com/ardnew/usbcore/device/dcd"
)

// Function describes one HID interface and its interrupt endpoints.
type Function struct {
	Interface    uint8
	String       uint8
	SubClass     uint8 // SubclassBoot for boot devices
	Protocol     uint8 // ProtocolKeyboard or ProtocolMouse on boot devices
	ReportLength uint16
	InEP         uint8
	OutEP        uint8 // zero for none
	PacketSize   uint16
	Interval     uint8 // frames
}

// Descriptors returns the interface, HID and endpoint descriptors, ready
// for device.Builder.AddFunction.
func (f Function) Descriptors() []byte {
	eps := uint8(1)
	if f.OutEP != 0 {
		eps++
	}
	buf := make([]byte, device.InterfaceDescriptorSize+HIDDescriptorSize+int(eps)*device.EndpointDescriptorSize)
	n := 0

	itf := device.InterfaceDescriptor{
		InterfaceNumber:   f.Interface,
		NumEndpoints:      eps,
		InterfaceClass:    ClassHID,
		InterfaceSubClass: f.SubClass,
		InterfaceProtocol: f.Protocol,
		InterfaceIndex:    f.String,
	}
	n += itf.MarshalTo(buf[n:])

	hd := HIDDescriptor{
		HIDVersion:     0x0111,
		CountryCode:    CountryNone,
		NumDescriptors: 1,
		ReportDescLen:  f.ReportLength,
	}
	n += hd.MarshalTo(buf[n:])

	in := device.EndpointDescriptor{
		EndpointAddress: f.InEP | dcd.DirIn,
		Attributes:      uint8(dcd.TransferInterrupt),
		MaxPacketSize:   f.PacketSize,
		Interval:        f.Interval,
	}
	n += in.MarshalTo(buf[n:])

	if f.OutEP != 0 {
		out := device.EndpointDescriptor{
			EndpointAddress: f.OutEP &^ dcd.DirIn,
			Attributes:      uint8(dcd.TransferInterrupt),
			MaxPacketSize:   f.PacketSize,
			Interval:        f.Interval,
		}
		n += out.MarshalTo(buf[n:])
	}
	return buf[:n]
}
