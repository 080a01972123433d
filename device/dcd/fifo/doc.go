// Package fifo models a USB device controller with FIFO-based endpoint
// memory and carries any controller's bus across named pipes.
//
// The controller keeps one transmit FIFO per IN endpoint, carved out of a
// shared FIFO RAM when the endpoint is opened. The driver queues as many
// packets of a transfer as fit and refills the FIFO as the host drains it.
// OUT packets are popped by the interrupt handler straight into the armed
// transfer buffer; an OUT endpoint with no transfer armed NAKs.
//
// # Transport
//
// [Listen] creates a device directory under a bus directory shared with a
// host process and [Server.Serve] answers bus messages on behalf of a
// [dcd.Bus]. The serving goroutine is the controller's interrupt context.
//
//	/tmp/usb-bus/
//	└── device-<uuid>/
//	    ├── lock             # held while the device is being served
//	    ├── host_to_device   # bus requests
//	    └── device_to_host   # handshakes and IN data
//
// [Dial] opens a device directory from the host side and returns a
// [Client] implementing [dcd.Bus]; [Discover] lists the live devices on a
// bus directory.
//
// Each message is framed as
//
//	[1 byte: type][1 byte: sequence][2 bytes: length, little-endian][N bytes: payload]
//
// A response carries the sequence number of its request. The client drops
// responses to requests it already gave up on.
package fifo
