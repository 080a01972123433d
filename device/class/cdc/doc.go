// Package cdc implements the USB Communications Device Class (CDC) for the
// usbcore device stack.
//
// This package provides CDC-ACM (Abstract Control Model) functionality for
// implementing USB serial devices. CDC-ACM is the standard class for USB
// to serial adapters and virtual COM ports.
//
// # Architecture
//
// A CDC-ACM function consists of two interfaces:
//
//   - Control Interface (Communications Class): Handles CDC-specific requests
//     like SET_LINE_CODING and SET_CONTROL_LINE_STATE, and carries the
//     SERIAL_STATE notification endpoint
//   - Data Interface (Data Class): Handles bulk data transfer via IN and OUT
//     endpoints
//
// The driver buffers both directions. Received packets land in an RX FIFO
// and the OUT endpoint is re-armed while there is room; written bytes wait
// in a TX FIFO until a full packet is queued or Flush is called. A transfer
// that ends on a packet boundary is terminated with a zero-length packet.
//
// # Usage
//
//	acm := cdc.NewACM(cdc.Config{})
//	acm.SetOnLineCodingChange(func(lc *cdc.LineCoding) {
//	    // Handle baud rate, data bits, etc. changes
//	})
//
//	b := device.NewBuilder().
//	    WithVendorProduct(0xCAFE, 0x4001).
//	    WithClass(device.ClassMisc, 0x02, 0x01).
//	    WithStrings("Manufacturer", "CDC Device", "12345").
//	    AddConfiguration(1, 0, 100)
//	b.AddFunction(cdc.Function{
//	    Interface:  b.NextInterface(),
//	    NotifyEP:   0x81, NotifySize: 8,
//	    DataOutEP:  0x02, DataInEP: 0x82, BulkSize: 64,
//	}.Descriptors())
//	set, _ := b.Build()
//
//	stack, _ := device.NewStack(device.Config{
//	    Controller:  ctrl,
//	    Descriptors: set,
//	    Classes:     []device.ClassDriver{acm},
//	})
//	stack.Init()
//	go stack.Run(ctx)
//
//	n, _ := acm.Read(ctx, buf)
//	acm.Write(ctx, buf[:n])
//
// # CDC Descriptors
//
// The package includes functional descriptors required by CDC-ACM:
//
//   - Header Functional Descriptor
//   - Call Management Functional Descriptor
//   - ACM Functional Descriptor
//   - Union Functional Descriptor
package cdc
