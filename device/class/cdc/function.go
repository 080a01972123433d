package cdc

import (
	"github.com/ardnew/usbcore/device"
	"github.com/ardnew/usbcore/device/dcd"
)

// FunctionSize is the length of the block returned by
// Function.Descriptors.
const FunctionSize = device.IADSize +
	2*device.InterfaceDescriptorSize +
	HeaderDescriptorSize + CallManagementDescriptorSize + ACMDescriptorSize + UnionDescriptorSize +
	3*device.EndpointDescriptorSize

// NotifyInterval is bInterval of the notification endpoint.
const NotifyInterval = 16

// Function describes the endpoints and interfaces of one CDC-ACM function.
type Function struct {
	Interface  uint8 // control interface; the data interface follows it
	String     uint8 // iInterface of the control interface
	NotifyEP   uint8 // interrupt IN
	NotifySize uint16
	DataOutEP  uint8
	DataInEP   uint8
	BulkSize   uint16
}

// Descriptors returns the interface association, the two interfaces, the
// functional descriptors and the three endpoints, ready for
// device.Builder.AddFunction.
func (f Function) Descriptors() []byte {
	buf := make([]byte, FunctionSize)
	n := 0

	iad := device.InterfaceAssociationDescriptor{
		FirstInterface:   f.Interface,
		InterfaceCount:   2,
		FunctionClass:    ClassCDC,
		FunctionSubClass: SubclassACM,
		FunctionProtocol: ProtocolNone,
	}
	n += iad.MarshalTo(buf[n:])

	ctl := device.InterfaceDescriptor{
		InterfaceNumber:   f.Interface,
		NumEndpoints:      1,
		InterfaceClass:    ClassCDC,
		InterfaceSubClass: SubclassACM,
		InterfaceProtocol: ProtocolNone,
		InterfaceIndex:    f.String,
	}
	n += ctl.MarshalTo(buf[n:])
	n += (&HeaderDescriptor{CDCVersion: 0x0120}).MarshalTo(buf[n:])
	n += (&CallManagementDescriptor{DataInterface: f.Interface + 1}).MarshalTo(buf[n:])
	n += (&ACMDescriptor{Capabilities: ACMCapLineCoding | ACMCapSendBreak}).MarshalTo(buf[n:])
	n += (&UnionDescriptor{ControlInterface: f.Interface, SubordinateInterface: f.Interface + 1}).MarshalTo(buf[n:])

	notify := device.EndpointDescriptor{
		EndpointAddress: f.NotifyEP | dcd.DirIn,
		Attributes:      uint8(dcd.TransferInterrupt),
		MaxPacketSize:   f.NotifySize,
		Interval:        NotifyInterval,
	}
	n += notify.MarshalTo(buf[n:])

	data := device.InterfaceDescriptor{
		InterfaceNumber: f.Interface + 1,
		NumEndpoints:    2,
		InterfaceClass:  ClassCDCData,
	}
	n += data.MarshalTo(buf[n:])

	out := device.EndpointDescriptor{
		EndpointAddress: f.DataOutEP &^ dcd.DirIn,
		Attributes:      uint8(dcd.TransferBulk),
		MaxPacketSize:   f.BulkSize,
	}
	n += out.MarshalTo(buf[n:])
	in := device.EndpointDescriptor{
		EndpointAddress: f.DataInEP | dcd.DirIn,
		Attributes:      uint8(dcd.TransferBulk),
		MaxPacketSize:   f.BulkSize,
	}
	n += in.MarshalTo(buf[n:])

	return buf[:n]
}
