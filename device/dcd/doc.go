// Package dcd defines the device controller driver contract shared by every
// hardware family model.
//
// A controller is a per-port context. The device stack drives it through the
// [Controller] operations and learns about bus activity only through the
// normalized events delivered to a [Handler]: [SetupReceived],
// [XferComplete], [BusSignal], [BusReset] and [SOF]. Nothing above this
// package inspects register state.
//
// Each family package (fsdev, samd, nrf5x, fifo) also implements [Bus], the
// wire-facing side of the controller. Whoever calls into the Bus plays the
// role of the interrupt context: controllers raise events from inside those
// calls with inISR set, after releasing their register lock.
//
// [Xfer] is the endpoint transfer primitive the families build on. It tracks
// the caller's buffer, the requested and transferred byte counts, the number
// of packets moved, the data toggle and the short-packet flag.
package dcd
