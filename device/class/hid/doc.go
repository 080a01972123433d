// Package hid implements the USB Human Interface Device (HID) class for the
// usbcore device stack.
//
// A HID function is a single interface carrying a HID descriptor, an
// interrupt IN endpoint for input reports and an optional interrupt OUT
// endpoint for output reports. The driver answers GET_DESCRIPTOR for the
// HID and report descriptors and the class requests GET_REPORT,
// SET_REPORT, GET_IDLE, SET_IDLE, GET_PROTOCOL and SET_PROTOCOL.
//
// Report descriptors are stored by reference. Input reports are staged in
// a fixed buffer, so only one report is in flight at a time; SendReport
// returns pkg.ErrBusy until the host has collected the previous one.
//
// # Usage
//
//	kbd := hid.New(hid.KeyboardReportDescriptor)
//	kbd.SetOnOutputReport(func(id uint8, data []byte) {
//	    // LED state from the host
//	})
//
//	b := device.NewBuilder().
//	    WithVendorProduct(0xCAFE, 0xBABE).
//	    WithStrings("Manufacturer", "HID Keyboard", "12345").
//	    AddConfiguration(1, 0, 100)
//	b.AddFunction(hid.Function{
//	    Interface:    b.NextInterface(),
//	    SubClass:     hid.SubclassBoot,
//	    Protocol:     hid.ProtocolKeyboard,
//	    ReportLength: uint16(len(hid.KeyboardReportDescriptor)),
//	    InEP:         0x81,
//	    PacketSize:   8,
//	    Interval:     10,
//	}.Descriptors())
//	set, _ := b.Build()
//
//	stack, _ := device.NewStack(device.Config{
//	    Controller:  ctrl,
//	    Descriptors: set,
//	    Classes:     []device.ClassDriver{kbd},
//	})
//
//	var r hid.KeyboardReport
//	r.SetKey(hid.KeyA)
//	kbd.SendKeyboardReport(0, &r)
package hid
