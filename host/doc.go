// Package host implements a virtual USB host that drives a device
// controller model through its wire side, [dcd.Bus].
//
// The host works at token level: every control, bulk and interrupt
// transfer is split into SETUP, IN and OUT tokens of at most one packet,
// and NAK handshakes are retried. This exercises a device stack exactly the
// way a real host would, including short-packet termination, zero-length
// packets and the address change after SET_ADDRESS.
//
// # Driving the device
//
// A controller raises its events from inside the Bus call that caused
// them, and the device stack processes them on its task. Two setups are
// supported:
//
//   - Single-threaded: pass the stack's Task as Config.Idle. The host runs
//     it after every token, so tests are deterministic and a device that
//     still NAKs after a few retries is reported with pkg.ErrTimeout.
//   - Threaded: run Stack.Run in its own goroutine and leave Idle nil. NAKs
//     are retried every PollInterval until the context ends.
//
// # Example
//
//	ctrl := fsdev.New(fsdev.Config{})
//	stack, _ := device.NewStack(device.Config{Controller: ctrl, Descriptors: set})
//	stack.Init()
//
//	h, _ := host.New(host.Config{Bus: ctrl, Idle: stack.Task})
//	dev, err := h.Enumerate(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(dev.Manufacturer(), dev.Product())
//
//	n, err := dev.Read(ctx, 0x81, buf)
package host
