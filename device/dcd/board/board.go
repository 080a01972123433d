// Package board selects the single controller family compiled into a
// binary. The default is fsdev; build with one of the tags dcd_samd,
// dcd_nrf5x or dcd_fifo to select another.
package board

import "github.com/ardnew/usbcore/device/dcd"

// Device is a controller model: the driver-facing operations and the
// wire side a host drives.
type Device interface {
	dcd.Controller
	dcd.Bus
}
