// Package device implements the USB device stack that sits above a device
// controller.
//
// A [Stack] consumes the normalized events of one [dcd.Controller], runs the
// endpoint 0 control transfer state machine and dispatches requests and
// transfer completions to class drivers.
//
// # Architecture
//
// The controller reports events from its interrupt context through
// [Stack.HandleEvent], which never blocks: events go to a bounded queue and
// are dropped and counted when it is full. [Stack.Task] or [Stack.Run]
// process the queue on the device task. Application callbacks and class
// driver methods run only there, except [SOFHandler.SOF].
//
//	controller ISR ──HandleEvent──▶ queue ──Task/Run──▶ control state machine
//	                                                  └▶ class drivers
//
// # Control Transfers
//
// Every setup packet walks WAIT_SETUP, an optional data stage in either
// direction, and a zero-length status stage. Standard device requests are
// answered inline. Class requests go to the driver bound to the addressed
// interface or endpoint, vendor requests to [Callbacks.VendorControl].
// A handler that declines stalls endpoint 0.
//
// SET_ADDRESS is acknowledged at address 0; [dcd.Controller.SetAddress] is
// called once the status stage completed.
//
// # Class Drivers
//
// SET_CONFIGURATION walks the configuration descriptor and offers each
// interface to the drivers in [Config.Drivers], then [Config.Classes]. The
// driver that accepts reports how many descriptor bytes it consumed:
//
//	func (d *Driver) Open(port uint8, itf []byte) int {
//	    out, in, n, err := d.stack.OpenEndpointPair(itf[device.InterfaceDescriptorSize:], 2, dcd.TransferBulk)
//	    if err != nil {
//	        return 0
//	    }
//	    d.out, d.in = out, in
//	    return device.InterfaceDescriptorSize + n
//	}
//
// Drivers queue transfers with [Stack.Xfer] and re-arm their endpoints from
// [ClassDriver.XferCB].
//
// # Descriptors
//
// Descriptors are serialized with MarshalTo into caller buffers and parsed
// with output parameters. [Builder] assembles a [DescriptorSet]:
//
//	set, err := device.NewBuilder().
//	    WithVendorProduct(0x1209, 0x0001).
//	    WithStrings("Maker", "Widget", "0001").
//	    AddConfiguration(1, device.ConfigAttrRemoteWakeup, 100).
//	    AddInterface(device.ClassVendor, 0, 0, 0).
//	    AddEndpoint(0x81, dcd.TransferBulk, 64, 0).
//	    AddEndpoint(0x01, dcd.TransferBulk, 64, 0).
//	    Build()
//
// # Example
//
//	stack, err := device.NewStack(device.Config{
//	    Controller:  board.New(0),
//	    Descriptors: set,
//	    Classes:     []device.ClassDriver{acm},
//	})
//	if err != nil {
//	    return err
//	}
//	if err := stack.Init(); err != nil {
//	    return err
//	}
//	return stack.Run(ctx)
package device
